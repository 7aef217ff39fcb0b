package poct

import (
	"regexp"
	"strconv"
	"sync"
)

// Attribute values in the PT2 dialect appear as <TAG V="value"/>. Frames
// arrive over a raw byte stream and are frequently truncated or garbled, so
// field lookups match tag/attribute pairs instead of parsing structure. A
// missed match yields an absent field, never an error.

var (
	patternMu    sync.Mutex
	attrPatterns = map[string]*regexp.Regexp{}
	codePatterns = map[string]*regexp.Regexp{}
)

func attrPattern(tag string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	re, ok := attrPatterns[tag]
	if !ok {
		re = regexp.MustCompile(regexp.QuoteMeta(tag) + `\s+V="([^"]+)"`)
		attrPatterns[tag] = re
	}
	return re
}

func codePattern(code string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()
	re, ok := codePatterns[code]
	if !ok {
		re = regexp.MustCompile(`<OBS\.observation_id V="` + regexp.QuoteMeta(code) + `"[^/]*/>\s*<OBS\.value V="([^"]+)"`)
		codePatterns[code] = re
	}
	return re
}

// attrValue returns the V attribute of the first occurrence of tag in text.
func attrValue(text, tag string) (string, bool) {
	m := attrPattern(tag).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func attrInt(text, tag string) (int, bool) {
	raw, ok := attrValue(text, tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// codedValue returns the OBS.value that immediately follows an
// OBS.observation_id element carrying the given observation-type code.
func codedValue(text, code string) (string, bool) {
	m := codePattern(code).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func codedFloat(text, code string) (float64, bool) {
	raw, ok := codedValue(text, code)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

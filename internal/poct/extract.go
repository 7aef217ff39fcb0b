package poct

import (
	"regexp"

	"github.com/davecap/coag-sense-tracker/internal/domain"
)

// Observation-type codes identifying the two clinical values in a record.
const (
	codeINR       = "34714-6"
	codePTSeconds = "5902-2"
)

var svcSection = regexp.MustCompile(`(?s)<SVC>(.*?)</SVC>`)

// ExtractObservations pulls structured readings out of a raw observation
// batch frame. Each <SVC> section yields at most one Observation. A record
// without an observation timestamp is dropped: it cannot be ordered or
// deduplicated. Numeric values that fail to parse are recorded as absent.
func ExtractObservations(raw string) []domain.Observation {
	var out []domain.Observation

	for _, m := range svcSection.FindAllStringSubmatch(raw, -1) {
		svc := m[1]

		ts, ok := attrValue(svc, "<SVC.observation_dttm")
		if !ok {
			continue
		}

		obs := domain.Observation{Timestamp: ts}

		if seq, ok := attrInt(svc, "<SVC.sequence_nbr"); ok {
			obs.Sequence = &seq
		}
		obs.Status, _ = attrValue(svc, "<SVC.status_cd")
		obs.PatientID, _ = attrValue(svc, "<PT.patient_id")
		if inr, ok := codedFloat(svc, codeINR); ok {
			obs.INR = &inr
		}
		if pt, ok := codedFloat(svc, codePTSeconds); ok {
			obs.PTSeconds = &pt
		}
		obs.ReagentLot, _ = attrValue(svc, "<RGT.lot_number")
		obs.Notes, _ = attrValue(svc, "<NTE.text")

		out = append(out, obs)
	}

	return out
}

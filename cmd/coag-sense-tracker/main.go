package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	coagbridge "github.com/davecap/coag-sense-tracker"
	"github.com/davecap/coag-sense-tracker/internal/adapters/capture"
	"github.com/davecap/coag-sense-tracker/internal/adapters/results"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "reset":
		err = resetCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("coag-sense-tracker %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigOrDefault(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bridge, err := coagbridge.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return bridge.Run(ctx)
}

// loadConfigOrDefault falls back to built-in defaults when no config file
// exists, so the bridge runs out of the box.
func loadConfigOrDefault(path string) (*coagbridge.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return coagbridge.DefaultConfig(), nil
	}
	return coagbridge.LoadConfig(path)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := coagbridge.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

// resetCommand wipes all capture artifacts and the persisted result set.
// Destructive, so it asks for confirmation unless -yes is set.
func resetCommand(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfigOrDefault(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !*yes {
		fmt.Printf("This deletes every capture under %s and the result set at %s.\n", cfg.Captures.Dir, cfg.Results.Path)
		fmt.Print("Type DELETE to confirm: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "DELETE" {
			fmt.Println("aborted")
			return nil
		}
	}

	captureStore, err := capture.NewFileStore(cfg.Captures.Dir)
	if err != nil {
		return err
	}
	removed, err := captureStore.Clear()
	if err != nil {
		return err
	}

	resultStore, err := results.NewFileStore(cfg.Results.Path)
	if err != nil {
		return err
	}
	if err := resultStore.Clear(); err != nil {
		return err
	}

	fmt.Printf("removed %d capture file(s) and the result set\n", removed)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"coag_sessions_total":               0,
		"coag_frames_total":                 0,
		"coag_observations_extracted_total": 0,
		"coag_event_queue_length":           0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] sessions=%.0f frames=%.0f observations=%.0f queue=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["coag_sessions_total"],
		targets["coag_frames_total"],
		targets["coag_observations_extracted_total"],
		targets["coag_event_queue_length"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`coag-sense-tracker

Usage:
  coag-sense-tracker <command> [flags]

Commands:
  run        Start the device bridge using the provided config
  validate   Load and validate a config file without starting anything
  reset      Delete all capture files and the persisted result set
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  coag-sense-tracker run -config ./data/config.yaml
  coag-sense-tracker validate -config ./data/config.yaml
  coag-sense-tracker reset -config ./data/config.yaml -yes
  coag-sense-tracker stats -url http://localhost:9100/metrics -interval 1s
`)
}

// Command replay feeds recorded landmark frames through the detectors and
// the fusion engine and prints the resulting metrics and events as JSON
// lines. Input is one {"ts": <unix seconds>, "frame": {...}} object per line.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"somnoalert/internal/config"
	"somnoalert/internal/landmarks"
	"somnoalert/internal/logger"
	"somnoalert/internal/services"
	"somnoalert/internal/services/settings"
	"somnoalert/internal/services/stats"
)

type record struct {
	TS    float64          `json:"ts"`
	Frame *landmarks.Frame `json:"frame"`
}

func main() {
	input := flag.String("in", "-", "JSONL file of landmark frames, - for stdin")
	presets := flag.String("presets", "", "YAML presets file (defaults when empty)")
	dump := flag.Bool("presets-dump", false, "print the effective presets as YAML and exit")
	eventsOnly := flag.Bool("events", false, "print events only")
	flag.Parse()

	cfg := settings.Defaults()
	if *presets != "" {
		var err error
		if cfg, err = settings.LoadPresets(*presets); err != nil {
			log.Fatalf("Failed to load presets: %v", err)
		}
	}

	if *dump {
		out, err := cfg.YAML()
		if err != nil {
			log.Fatalf("Failed to encode presets: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	opts, err := services.OptionsFrom(config.Load())
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	in := io.Reader(os.Stdin)
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()
		in = f
	}

	metrics := stats.NewMetrics()
	manager := services.NewManager(opts, services.Dependencies{
		Store:   settings.NewStore(cfg),
		Metrics: metrics,
		Logger:  logger.NewWriter(os.Stderr),
	})

	n, err := replay(in, os.Stdout, manager, *eventsOnly)
	if err != nil {
		log.Fatalf("Replay stopped after %d frames: %v", n, err)
	}
	fmt.Fprintf(os.Stderr, "Replayed %d frames, %d events\n", n, metrics.Snapshot()["events"])
}

// replay steps every record through manager and writes one JSON line per
// metrics message and event. It returns the number of frames processed.
func replay(r io.Reader, w io.Writer, manager *services.Manager, eventsOnly bool) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	out := bufio.NewWriter(w)
	defer out.Flush()
	enc := json.NewEncoder(out)

	n := 0
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Frame == nil {
			rec.Frame = &landmarks.Frame{}
		}

		step := manager.StepFrame(toTime(rec.TS), rec.Frame)
		n++
		if !eventsOnly {
			if err := enc.Encode(step.Metrics); err != nil {
				return n, err
			}
		}
		for _, e := range step.Events {
			if err := enc.Encode(e); err != nil {
				return n, err
			}
		}
	}
	return n, scanner.Err()
}

func toTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

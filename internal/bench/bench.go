// Package bench times repeated encode calls for the tokbridge bench command.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RunResult is one timed encode. Index is zero based; Cold marks the first
// call, which usually pays for lazy initialisation inside the engine.
type RunResult struct {
	Index        int
	Cold         bool
	Duration     time.Duration
	Tokens       int
	TokensPerSec float64
}

// Stats summarises a set of durations.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats returns the zero Stats for an empty input.
func ComputeStats(ds []time.Duration) Stats {
	if len(ds) == 0 {
		return Stats{}
	}

	var total time.Duration
	for _, d := range ds {
		total += d
	}

	return Stats{
		Min:  slices.Min(ds),
		Max:  slices.Max(ds),
		Mean: total / time.Duration(len(ds)),
	}
}

// Throughput is tokens per second, or 0 when d is not positive.
func Throughput(tokens int, d time.Duration) float64 {
	if d > 0 {
		return float64(tokens) / d.Seconds()
	}

	return 0
}

// EncodeFunc encodes text and reports how many ids came back.
type EncodeFunc func(text string) (int, error)

var errNoRuns = errors.New("bench: runs must be positive")

// Run calls fn on text runs times in sequence. On error or cancellation the
// results gathered so far are returned with the error.
func Run(ctx context.Context, fn EncodeFunc, text string, runs int) ([]RunResult, error) {
	if runs < 1 {
		return nil, fmt.Errorf("%w (got %d)", errNoRuns, runs)
	}

	out := make([]RunResult, 0, runs)

	for idx := 0; idx < runs; idx++ {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		began := time.Now()
		tokens, err := fn(text)
		took := time.Since(began)

		if err != nil {
			return out, fmt.Errorf("bench: run %d: %w", idx+1, err)
		}

		out = append(out, RunResult{
			Index:        idx,
			Cold:         idx == 0,
			Duration:     took,
			Tokens:       tokens,
			TokensPerSec: Throughput(tokens, took),
		})
	}

	return out, nil
}

// Durations lists run durations. With skipCold the first run is left out,
// unless it is the only one.
func Durations(runs []RunResult, skipCold bool) []time.Duration {
	if skipCold && len(runs) > 1 && runs[0].Cold {
		runs = runs[1:]
	}

	ds := make([]time.Duration, len(runs))
	for i := range runs {
		ds[i] = runs[i].Duration
	}

	return ds
}

// CheckThroughput fails when meanTPS is under minimum. A minimum of zero or
// less never fails.
func CheckThroughput(meanTPS, minimum float64) error {
	if minimum > 0 && meanTPS < minimum {
		return fmt.Errorf("bench: mean throughput %.0f tokens/s under required %.0f", meanTPS, minimum)
	}

	return nil
}

// MeanThroughput is the arithmetic mean of TokensPerSec.
func MeanThroughput(runs []RunResult) float64 {
	if len(runs) == 0 {
		return 0
	}

	total := 0.0
	for i := range runs {
		total += runs[i].TokensPerSec
	}

	return total / float64(len(runs))
}

// FormatTable prints one row per run followed by the summary rows.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Cold", "US", "Tokens", "Tokens/s"})

	for _, r := range runs {
		mark := ""
		if r.Cold {
			mark = "yes"
		}

		t.AppendRow(table.Row{
			r.Index + 1, mark, r.Duration.Microseconds(), r.Tokens, fmt.Sprintf("%.0f", r.TokensPerSec),
		})
	}

	t.AppendSeparator()
	t.AppendRow(table.Row{"", "(min)", stats.Min.Microseconds()})
	t.AppendRow(table.Row{"", "(mean)", stats.Mean.Microseconds()})
	t.AppendRow(table.Row{"", "(max)", stats.Max.Microseconds()})

	fmt.Fprintln(w, t.Render())
}

type runJSON struct {
	Index        int     `json:"index"`
	Cold         bool    `json:"cold"`
	DurationUS   int64   `json:"duration_us"`
	Tokens       int     `json:"tokens"`
	TokensPerSec float64 `json:"tokens_per_sec"`
}

type statsJSON struct {
	MinUS  int64 `json:"min_us"`
	MeanUS int64 `json:"mean_us"`
	MaxUS  int64 `json:"max_us"`
}

// FormatJSON writes {"runs": [...], "stats": {...}} with durations in
// microseconds.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	rows := make([]runJSON, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, runJSON{
			Index:        r.Index,
			Cold:         r.Cold,
			DurationUS:   r.Duration.Microseconds(),
			Tokens:       r.Tokens,
			TokensPerSec: r.TokensPerSec,
		})
	}

	doc := struct {
		Runs  []runJSON `json:"runs"`
		Stats statsJSON `json:"stats"`
	}{
		Runs: rows,
		Stats: statsJSON{
			MinUS:  stats.Min.Microseconds(),
			MeanUS: stats.Mean.Microseconds(),
			MaxUS:  stats.Max.Microseconds(),
		},
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return
	}

	_, _ = w.Write(append(b, '\n'))
}

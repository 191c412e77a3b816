// internal/harness/report.go
package harness

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AttemptRecord captures one execution of a test body.
type AttemptRecord struct {
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`

	// err keeps the structured error for in-process callers; only the
	// message is serialized.
	err error
}

// Err returns the attempt's failure, nil when it passed.
func (r AttemptRecord) Err() error { return r.err }

// TestResult is the final verdict for one test unit across all attempts.
type TestResult struct {
	Name     string          `json:"name"`
	Passed   bool            `json:"passed"`
	Duration time.Duration   `json:"duration_ns"`
	Attempts []AttemptRecord `json:"attempts"`

	// Err carries the last attempt's failure when the unit never passed.
	Err error `json:"-"`
}

// Flaky reports whether the unit eventually passed but needed retries.
func (r TestResult) Flaky() bool {
	return r.Passed && len(r.Attempts) > 1
}

// Report aggregates a whole run.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Flaky     int           `json:"flaky"`
	Results   []TestResult  `json:"results"`
}

func buildReport(startedAt time.Time, results []TestResult) *Report {
	rep := &Report{
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Total:     len(results),
		Results:   results,
	}
	for _, r := range results {
		switch {
		case r.Flaky():
			rep.Passed++
			rep.Flaky++
		case r.Passed:
			rep.Passed++
		default:
			rep.Failed++
		}
	}
	return rep
}

// Write serializes the report as indented JSON.
func (r *Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

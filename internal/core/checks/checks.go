// Package checks models the verification battery: independent named checks
// classified as hard or soft, accumulated into a pass/fail/warn summary.
package checks

import (
	"fmt"
	"io"
)

// Severity decides whether a failed check fails the whole verification.
type Severity int

const (
	// Hard failures make the overall verification fail.
	Hard Severity = iota
	// Soft failures are reported as warnings and do not change the outcome.
	Soft
)

// Status is the outcome of one executed check.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	StatusWarned
	StatusSkipped
)

// Result records the outcome of one check.
type Result struct {
	Name     string
	Severity Severity
	Status   Status
	Detail   string
}

// Summary accumulates results across the battery.
type Summary struct {
	Results []Result
	Passed  int
	Failed  int
	Warned  int
	Skipped int
}

// Record adds the outcome of one check. A failed soft check is downgraded to
// a warning; the caller does not need to distinguish the two when reporting.
func (s *Summary) Record(name string, sev Severity, err error, detail string) {
	r := Result{Name: name, Severity: sev, Detail: detail}
	switch {
	case err == nil:
		r.Status = StatusPassed
		s.Passed++
	case sev == Soft:
		r.Status = StatusWarned
		if detail == "" {
			r.Detail = err.Error()
		}
		s.Warned++
	default:
		r.Status = StatusFailed
		if detail == "" {
			r.Detail = err.Error()
		}
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Skip records a check that was not executed (e.g. quick mode).
func (s *Summary) Skip(name, reason string) {
	s.Results = append(s.Results, Result{Name: name, Status: StatusSkipped, Detail: reason})
	s.Skipped++
}

// OK reports whether the battery passed: true iff no hard check failed.
func (s *Summary) OK() bool {
	return s.Failed == 0
}

// Print writes the human-readable battery report: one symbol-prefixed line
// per check plus a final count line.
func (s *Summary) Print(w io.Writer) {
	for _, r := range s.Results {
		switch r.Status {
		case StatusPassed:
			fmt.Fprintf(w, "  ✓ %s\n", r.Name)
		case StatusFailed:
			fmt.Fprintf(w, "  ✗ %s: %s\n", r.Name, r.Detail)
		case StatusWarned:
			fmt.Fprintf(w, "  ! %s: %s\n", r.Name, r.Detail)
		case StatusSkipped:
			fmt.Fprintf(w, "  - %s (skipped: %s)\n", r.Name, r.Detail)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d warnings\n", s.Passed, s.Failed, s.Warned)
}

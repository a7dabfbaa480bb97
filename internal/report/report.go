// Package report renders comparison results for terminals, CI annotations
// and machines.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"snapdiff/internal/artifact"
	"snapdiff/internal/compare"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID    string           `json:"runId"`
	Passed   int              `json:"passed"`
	Failed   int              `json:"failed"`
	Recorded int              `json:"recorded"`
	Results  []compare.Result `json:"results"`
}

// NewRunID returns a random identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// NewSummary tallies results.
func NewSummary(runID string, results []compare.Result) Summary {
	s := Summary{RunID: runID, Results: results}
	if s.Results == nil {
		s.Results = []compare.Result{}
	}
	for _, r := range results {
		switch r.Verdict {
		case compare.VerdictPass:
			s.Passed++
		case compare.VerdictFail:
			s.Failed++
		case compare.VerdictRecorded:
			s.Recorded++
		}
	}
	return s
}

// HasFailures reports whether any comparison failed.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// FormatCLI formats the summary for terminal output.
func FormatCLI(s Summary) string {
	var sb strings.Builder

	for _, r := range s.Results {
		switch r.Verdict {
		case compare.VerdictPass:
			sb.WriteString(fmt.Sprintf("  ✓ %s\n", r.Location))
		case compare.VerdictRecorded:
			sb.WriteString(fmt.Sprintf("  + %s (%s)\n", r.Location, recordedNote(r)))
		case compare.VerdictFail:
			sb.WriteString(fmt.Sprintf("  ✗ %s\n", r.Location))
			sb.WriteString(fmt.Sprintf("      %s\n", Failure(r)))
			if r.DiffPath != "" {
				sb.WriteString(fmt.Sprintf("      diff: %s\n", r.DiffPath))
			}
			if r.TextDiff != "" {
				for _, line := range strings.Split(strings.TrimRight(r.TextDiff, "\n"), "\n") {
					sb.WriteString("      " + line + "\n")
				}
			}
		}
	}

	sb.WriteString(fmt.Sprintf("\n%d passed, %d failed, %d recorded\n", s.Passed, s.Failed, s.Recorded))
	return sb.String()
}

// FormatCI formats failures as GitHub Actions error annotations and new
// references as notices.
func FormatCI(s Summary) string {
	var sb strings.Builder

	for _, r := range s.Results {
		switch r.Verdict {
		case compare.VerdictFail:
			msg := Failure(r)
			if r.DiffPath != "" {
				msg += "; diff: " + r.DiffPath
			}
			sb.WriteString(fmt.Sprintf("::error file=%s::%s\n", r.Location, escape(msg)))
		case compare.VerdictRecorded:
			note := "New reference recorded"
			if r.Reason == compare.ReasonUpdate {
				note = "Reference updated"
			}
			sb.WriteString(fmt.Sprintf("::notice file=%s::%s\n", r.Location, note))
		}
	}

	sb.WriteString(fmt.Sprintf("\nsnapdiff: %d passed, %d failed, %d recorded\n", s.Passed, s.Failed, s.Recorded))
	return sb.String()
}

// FormatJSON formats the summary as JSON.
func FormatJSON(s Summary) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Failure describes why a result failed, always including the diff metric
// when there is one.
func Failure(r compare.Result) string {
	switch {
	case r.Reason == compare.ReasonKindMismatch || r.Reason == compare.ReasonDimensionMismatch:
		return fmt.Sprintf("%s: %s", r.Reason, r.Message)
	case r.Metric == nil:
		return r.Message
	case r.Kind == artifact.KindText:
		return fmt.Sprintf("%d line(s) differ, allowed %s", *r.Metric, r.Limits)
	default:
		return fmt.Sprintf("%d of %d pixels differ (ratio %.4f), allowed %s",
			*r.Metric, r.Compared, r.Ratio, r.Limits)
	}
}

func recordedNote(r compare.Result) string {
	if r.Reason == compare.ReasonUpdate {
		return "updated"
	}
	return "new reference"
}

// escape encodes characters GitHub workflow commands treat specially.
func escape(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}

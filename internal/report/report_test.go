package report

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapdiff/internal/artifact"
	"snapdiff/internal/compare"
	"snapdiff/internal/refkey"
)

func intPtr(n int) *int { return &n }

func imageKey(name string) refkey.Key {
	return refkey.Key{
		TestFile: "example.spec.ts",
		TestName: name,
		Index:    1,
		Renderer: "chromium",
		Platform: "linux",
		Kind:     artifact.KindImage,
	}
}

func passResult() compare.Result {
	return compare.Result{
		Verdict:  compare.VerdictPass,
		Key:      imageKey("home"),
		Location: "example.spec.ts-snapshots/home-1-chromium-linux.png",
		Kind:     artifact.KindImage,
		Metric:   intPtr(0),
		Compared: 4,
		Limits:   "none",
	}
}

func thresholdResult() compare.Result {
	return compare.Result{
		Verdict:  compare.VerdictFail,
		Reason:   compare.ReasonThreshold,
		Key:      imageKey("cart"),
		Location: "example.spec.ts-snapshots/cart-1-chromium-linux.png",
		Kind:     artifact.KindImage,
		Metric:   intPtr(1),
		Compared: 4,
		Ratio:    0.25,
		Limits:   "maxDiffPixels=0",
		DiffPath: "test-results/example.spec.ts-snapshots/cart-1-chromium-linux-diff.png",
	}
}

func mixedResults() []compare.Result {
	return []compare.Result{
		passResult(),
		thresholdResult(),
		{
			Verdict:  compare.VerdictFail,
			Reason:   compare.ReasonDimensionMismatch,
			Location: "example.spec.ts-snapshots/size-1-chromium-linux.png",
			Kind:     artifact.KindImage,
			Message:  "expected 10x10, got 10x11",
		},
		{
			Verdict:  compare.VerdictFail,
			Reason:   compare.ReasonThreshold,
			Location: "example.spec.ts-snapshots/hero-firefox-linux.txt",
			Kind:     artifact.KindText,
			Metric:   intPtr(1),
			Limits:   "none",
			TextDiff: "--- expected\n+++ actual\n@@ -1 +1 @@\n-hello\n+hello \n",
		},
		{
			Verdict:  compare.VerdictRecorded,
			Reason:   compare.ReasonMissing,
			Location: "example.spec.ts-snapshots/new-1-chromium-linux.png",
			Kind:     artifact.KindImage,
		},
		{
			Verdict:  compare.VerdictRecorded,
			Reason:   compare.ReasonUpdate,
			Location: "example.spec.ts-snapshots/logo-1-chromium-linux.png",
			Kind:     artifact.KindImage,
		},
	}
}

func TestNewSummary(t *testing.T) {
	s := NewSummary("run-1", mixedResults())
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, 2, s.Recorded)
	assert.True(t, s.HasFailures())

	empty := NewSummary("run-2", nil)
	assert.False(t, empty.HasFailures())
	assert.NotNil(t, empty.Results)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
}

func TestFormatCLI(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "cli_mixed", []byte(FormatCLI(NewSummary("run-1", mixedResults()))))
}

func TestFormatCI(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "ci_mixed", []byte(FormatCI(NewSummary("run-1", mixedResults()))))
}

func TestFormatJSON(t *testing.T) {
	s := NewSummary("run-1", []compare.Result{passResult(), thresholdResult()})
	out, err := FormatJSON(s)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "json_summary", []byte(out+"\n"))

	var decoded Summary
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, 1, decoded.Failed)
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, 1, *decoded.Results[1].Metric)
}

func TestFormatCI_EscapesMessages(t *testing.T) {
	r := compare.Result{
		Verdict:  compare.VerdictFail,
		Reason:   compare.ReasonKindMismatch,
		Location: "a.png",
		Message:  "100% wrong\nsecond line",
	}
	out := FormatCI(NewSummary("run-1", []compare.Result{r}))
	assert.Contains(t, out, "::error file=a.png::kind_mismatch: 100%25 wrong%0Asecond line\n")
}

func TestFailure(t *testing.T) {
	assert.Equal(t, "1 of 4 pixels differ (ratio 0.2500), allowed maxDiffPixels=0", Failure(thresholdResult()))
	assert.Equal(t, "boom", Failure(compare.Result{Verdict: compare.VerdictFail, Message: "boom"}))
}

package compare

import (
	"bytes"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"snapdiff/internal/artifact"
)

func (c *Comparator) compareText(res Result, expected, actual artifact.Artifact, opts Options) (Result, error) {
	exp, err := opts.Mask.NormalizeText(expected.Data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	act, err := opts.Mask.NormalizeText(actual.Data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	// Text has no partial tolerance.
	res.Limits = "none"
	if bytes.Equal(exp, act) {
		zero := 0
		res.Metric = &zero
		res.Verdict = VerdictPass
		return res, nil
	}

	lines, unified := diffLines(string(exp), string(act))
	res.Metric = &lines
	res.TextDiff = unified
	res.Verdict = VerdictFail
	res.Reason = ReasonThreshold
	c.writeOutputs(&res, actual, expected, nil)
	res.Message = res.Err().Error()
	return res, nil
}

// diffLines counts changed lines between two texts known to differ and
// renders a unified diff. The count is at least one.
func diffLines(expected, actual string) (int, string) {
	a := difflib.SplitLines(expected)
	b := difflib.SplitLines(actual)

	changed := 0
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		changed += max(op.I2-op.I1, op.J2-op.J1)
	}
	if changed == 0 {
		changed = 1
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		unified = ""
	}
	return changed, unified
}

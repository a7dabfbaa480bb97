package compare

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKindMismatch is returned when actual and reference kinds differ.
	ErrKindMismatch = errors.New("artifact kind mismatch")

	// ErrDimensionMismatch is returned when image sizes differ.
	ErrDimensionMismatch = errors.New("image dimension mismatch")

	// ErrThresholdExceeded matches every ThresholdError.
	ErrThresholdExceeded = errors.New("difference threshold exceeded")

	// ErrInvalidOptions is returned when comparison options are out of range.
	ErrInvalidOptions = errors.New("invalid comparison options")
)

// ThresholdError is the ordinary failure: the artifacts differ by more than
// the options allow.
type ThresholdError struct {
	Location string
	Metric   int     // Differing pixels, or differing lines for text
	Compared int     // Pixels compared after masking; zero for text
	Ratio    float64 // Metric / Compared
	Limits   string  // Human description of the tolerance
	DiffPath string  // Overlay written for review, if any
}

func (e *ThresholdError) Error() string {
	var b strings.Builder
	if e.Compared > 0 {
		fmt.Fprintf(&b, "%d pixels (ratio %.4f of %d) differ", e.Metric, e.Ratio, e.Compared)
	} else {
		fmt.Fprintf(&b, "%d lines differ", e.Metric)
	}
	fmt.Fprintf(&b, ", allowed %s", e.Limits)
	if e.Location != "" {
		fmt.Fprintf(&b, " (%s)", e.Location)
	}
	if e.DiffPath != "" {
		fmt.Fprintf(&b, "; diff: %s", e.DiffPath)
	}
	return b.String()
}

func (e *ThresholdError) Unwrap() error {
	return ErrThresholdExceeded
}

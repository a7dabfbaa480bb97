package compare

import (
	"fmt"

	"snapdiff/internal/mask"
)

// ChannelTolerance is the largest per-channel difference, on the 0-255
// scale, at which two pixels still count as equal.
const ChannelTolerance = 5

// Options controls a single comparison. Nothing here is shared between
// calls.
type Options struct {
	// MaxDiffPixels is the number of differing pixels tolerated.
	MaxDiffPixels *int `json:"maxDiffPixels,omitempty" yaml:"maxDiffPixels,omitempty"`

	// MaxDiffRatio is the tolerated fraction of compared pixels, in [0,1].
	MaxDiffRatio *float64 `json:"maxDiffRatio,omitempty" yaml:"maxDiffRatio,omitempty"`

	// Mask is applied identically to both sides before comparing.
	Mask mask.Mask `json:"mask,omitempty" yaml:"-"`

	// UpdateMode overwrites the reference and records instead of comparing.
	UpdateMode bool `json:"updateMode,omitempty" yaml:"-"`
}

// Pixels returns a pointer to n, for filling in MaxDiffPixels.
func Pixels(n int) *int {
	return &n
}

// Ratio returns a pointer to r, for filling in MaxDiffRatio.
func Ratio(r float64) *float64 {
	return &r
}

// Validate checks every option is within range.
func (o Options) Validate() error {
	if o.MaxDiffPixels != nil && *o.MaxDiffPixels < 0 {
		return fmt.Errorf("%w: maxDiffPixels %d must be >= 0", ErrInvalidOptions, *o.MaxDiffPixels)
	}
	if o.MaxDiffRatio != nil && (*o.MaxDiffRatio < 0 || *o.MaxDiffRatio > 1) {
		return fmt.Errorf("%w: maxDiffRatio %g must be within [0,1]", ErrInvalidOptions, *o.MaxDiffRatio)
	}
	if err := o.Mask.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// allows reports whether diff differing pixels out of compared pass.
// With no limit set nothing may differ.
func (o Options) allows(diff, compared int) bool {
	if o.MaxDiffPixels == nil && o.MaxDiffRatio == nil {
		return diff == 0
	}
	if o.MaxDiffPixels != nil && diff > *o.MaxDiffPixels {
		return false
	}
	if o.MaxDiffRatio != nil && ratio(diff, compared) > *o.MaxDiffRatio {
		return false
	}
	return true
}

// limits describes the tolerance for messages.
func (o Options) limits() string {
	switch {
	case o.MaxDiffPixels == nil && o.MaxDiffRatio == nil:
		return "none"
	case o.MaxDiffRatio == nil:
		return fmt.Sprintf("maxDiffPixels=%d", *o.MaxDiffPixels)
	case o.MaxDiffPixels == nil:
		return fmt.Sprintf("maxDiffRatio=%g", *o.MaxDiffRatio)
	default:
		return fmt.Sprintf("maxDiffPixels=%d maxDiffRatio=%g", *o.MaxDiffPixels, *o.MaxDiffRatio)
	}
}

func ratio(diff, compared int) float64 {
	if compared == 0 {
		return 0
	}
	return float64(diff) / float64(compared)
}

// Package mask provides the pre-processing applied to both sides of a
// comparison: rectangular regions excluded from image diffs and
// regex rules that normalize text before equality is checked.
//
// Every transform here is pure. Inputs are never modified; callers get new
// values back.
package mask

import (
	"fmt"
	"image"
	"image/color"
	"regexp"
	"strconv"
	"strings"
)

// Color is painted over masked pixels.
var Color = color.NRGBA{R: 255, G: 0, B: 255, A: 255}

// Region is a rectangle in image coordinates.
type Region struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Rect converts the region to an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Validate checks the region has a positive size and a non-negative origin.
func (r Region) Validate() error {
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("region origin (%d,%d) must not be negative", r.X, r.Y)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("region size %dx%d must be positive", r.Width, r.Height)
	}
	return nil
}

// String formats the region as x,y,w,h.
func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// ParseRegion parses "x,y,w,h".
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("region %q: want x,y,width,height", s)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, fmt.Errorf("region %q: %w", s, err)
		}
		vals[i] = v
	}
	r := Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

// Rule replaces every match of Pattern with Replace.
type Rule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Replace string `json:"replace" yaml:"replace"`
}

// Mask is the full pre-processing description for one comparison.
type Mask struct {
	Regions []Region `json:"regions,omitempty"`
	Rules   []Rule   `json:"rules,omitempty"`
}

// IsZero reports whether the mask does nothing.
func (m Mask) IsZero() bool {
	return len(m.Regions) == 0 && len(m.Rules) == 0
}

// Merge returns a mask with the regions and rules of both.
func (m Mask) Merge(other Mask) Mask {
	out := Mask{
		Regions: make([]Region, 0, len(m.Regions)+len(other.Regions)),
		Rules:   make([]Rule, 0, len(m.Rules)+len(other.Rules)),
	}
	out.Regions = append(append(out.Regions, m.Regions...), other.Regions...)
	out.Rules = append(append(out.Rules, m.Rules...), other.Rules...)
	return out
}

// Validate checks every region and that every rule compiles.
func (m Mask) Validate() error {
	for _, r := range m.Regions {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	_, err := m.compile()
	return err
}

// Bitmap returns one entry per pixel of bounds (row-major) that is true
// when the pixel is covered by a region.
func (m Mask) Bitmap(bounds image.Rectangle) []bool {
	w, h := bounds.Dx(), bounds.Dy()
	covered := make([]bool, w*h)
	for _, r := range m.Regions {
		clip := r.Rect().Add(bounds.Min).Intersect(bounds)
		for y := clip.Min.Y; y < clip.Max.Y; y++ {
			row := (y - bounds.Min.Y) * w
			for x := clip.Min.X; x < clip.Max.X; x++ {
				covered[row+x-bounds.Min.X] = true
			}
		}
	}
	return covered
}

// ApplyImage returns a copy of img with masked pixels painted in Color,
// together with the coverage bitmap.
func (m Mask) ApplyImage(img *image.NRGBA) (*image.NRGBA, []bool) {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	covered := m.Bitmap(img.Rect)
	if len(m.Regions) == 0 {
		return out, covered
	}
	w := img.Rect.Dx()
	for i, c := range covered {
		if c {
			out.SetNRGBA(img.Rect.Min.X+i%w, img.Rect.Min.Y+i/w, Color)
		}
	}
	return out, covered
}

// NormalizeText applies every rule in order and returns the result.
func (m Mask) NormalizeText(data []byte) ([]byte, error) {
	compiled, err := m.compile()
	if err != nil {
		return nil, err
	}
	result := append([]byte(nil), data...)
	for _, c := range compiled {
		result = c.regex.ReplaceAll(result, c.replacement)
	}
	return result, nil
}

type compiledRule struct {
	regex       *regexp.Regexp
	replacement []byte
}

func (m Mask) compile() ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(m.Rules))
	for _, r := range m.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("normalize rule %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{regex: re, replacement: []byte(r.Replace)})
	}
	return compiled, nil
}

package compare

import (
	"fmt"
	"image"
	"image/color"

	"snapdiff/internal/artifact"
	"snapdiff/internal/snapshot"
)

// DiffColor marks differing pixels in the overlay.
var DiffColor = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

func (c *Comparator) compareImages(res Result, expected, actual artifact.Artifact, opts Options) (Result, error) {
	exp, err := expected.Decode()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", snapshot.ErrCorrupt, res.Location, err)
	}
	act, err := actual.Decode()
	if err != nil {
		return Result{}, fmt.Errorf("actual: %w", err)
	}

	if exp.Rect.Size() != act.Rect.Size() {
		res.Verdict = VerdictFail
		res.Reason = ReasonDimensionMismatch
		res.Limits = ""
		res.Message = fmt.Sprintf("expected %dx%d, got %dx%d",
			exp.Rect.Dx(), exp.Rect.Dy(), act.Rect.Dx(), act.Rect.Dy())
		c.writeOutputs(&res, actual, expected, nil)
		return res, res.Err()
	}

	covered := opts.Mask.Bitmap(exp.Rect)
	differs, count, compared := diffPixels(exp, act, covered)

	res.Metric = &count
	res.Compared = compared
	res.Ratio = ratio(count, compared)

	if opts.allows(count, compared) {
		res.Verdict = VerdictPass
		return res, nil
	}

	overlay, _ := opts.Mask.ApplyImage(highlight(exp, differs))
	diff, err := artifact.FromImage(overlay)
	if err != nil {
		return Result{}, err
	}

	res.Verdict = VerdictFail
	res.Reason = ReasonThreshold
	res.Diff = &diff
	c.writeOutputs(&res, actual, expected, &diff)
	res.Message = res.Err().Error()
	return res, nil
}

// diffPixels marks every unmasked pixel where any channel differs by more
// than ChannelTolerance. Both images share bounds starting at (0,0).
func diffPixels(a, b *image.NRGBA, covered []bool) (differs []bool, count, compared int) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	differs = make([]bool, w*h)
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			if covered[i] {
				continue
			}
			compared++
			p := x * 4
			if channelDiff(ra[p], rb[p]) > ChannelTolerance ||
				channelDiff(ra[p+1], rb[p+1]) > ChannelTolerance ||
				channelDiff(ra[p+2], rb[p+2]) > ChannelTolerance ||
				channelDiff(ra[p+3], rb[p+3]) > ChannelTolerance {
				differs[i] = true
				count++
			}
		}
	}
	return differs, count, compared
}

func channelDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// highlight draws the reference faded to light gray with differing pixels
// in DiffColor.
func highlight(ref *image.NRGBA, differs []bool) *image.NRGBA {
	w, h := ref.Rect.Dx(), ref.Rect.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if differs[y*w+x] {
				out.SetNRGBA(x, y, DiffColor)
				continue
			}
			p := ref.NRGBAAt(x, y)
			gray := (299*int(p.R) + 587*int(p.G) + 114*int(p.B)) / 1000
			v := uint8(255 - (255-gray)/10)
			out.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return out
}

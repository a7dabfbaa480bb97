// Package compare decides whether a captured artifact matches its stored
// reference.
//
// A comparison either records the artifact as the new reference (when
// asked to, or when none exists yet) or compares it against the stored one:
// images pixel by pixel with a tolerance, text byte for byte after
// normalization.
package compare

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"snapdiff/internal/artifact"
	"snapdiff/internal/refkey"
	"snapdiff/internal/snapshot"
)

// Verdict is the outcome of a comparison.
type Verdict string

const (
	VerdictPass     Verdict = "pass"
	VerdictFail     Verdict = "fail"
	VerdictRecorded Verdict = "recorded"
)

// Reason explains a recorded or failed verdict.
type Reason string

const (
	ReasonMissing           Reason = "missing"
	ReasonUpdate            Reason = "update"
	ReasonThreshold         Reason = "threshold_exceeded"
	ReasonKindMismatch      Reason = "kind_mismatch"
	ReasonDimensionMismatch Reason = "dimension_mismatch"
)

// Result is the outcome of comparing one artifact.
type Result struct {
	Verdict  Verdict       `json:"verdict"`
	Reason   Reason        `json:"reason,omitempty"`
	Key      refkey.Key    `json:"key"`
	Location string        `json:"location"`
	Kind     artifact.Kind `json:"kind"`

	// Metric is the number of differing pixels, or differing lines for
	// text. Nil when the artifacts could not be compared at all.
	Metric   *int    `json:"metric,omitempty"`
	Compared int     `json:"compared,omitempty"` // Pixels compared after masking
	Ratio    float64 `json:"ratio,omitempty"`
	Limits   string  `json:"limits,omitempty"`

	Message  string `json:"message,omitempty"`
	TextDiff string `json:"textDiff,omitempty"` // Unified diff for text failures

	// Overlay highlighting differing pixels, set on image failures.
	Diff *artifact.Artifact `json:"-"`

	// Files written to the output directory for review.
	ActualPath   string `json:"actualPath,omitempty"`
	ExpectedPath string `json:"expectedPath,omitempty"`
	DiffPath     string `json:"diffPath,omitempty"`

	Duration time.Duration `json:"-"`
}

// Passed reports whether the result does not fail the run.
func (r Result) Passed() bool {
	return r.Verdict != VerdictFail
}

// Err returns the failure as an error, or nil when the result passed.
func (r Result) Err() error {
	if r.Verdict != VerdictFail {
		return nil
	}
	switch r.Reason {
	case ReasonKindMismatch:
		return fmt.Errorf("%w: %s", ErrKindMismatch, r.Message)
	case ReasonDimensionMismatch:
		return fmt.Errorf("%w: %s", ErrDimensionMismatch, r.Message)
	}
	te := &ThresholdError{
		Location: r.Location,
		Compared: r.Compared,
		Ratio:    r.Ratio,
		Limits:   r.Limits,
		DiffPath: r.DiffPath,
	}
	if r.Metric != nil {
		te.Metric = *r.Metric
	}
	return te
}

// Recorder observes finished comparisons.
type Recorder interface {
	Observe(Result)
}

// Comparator compares artifacts against references held in a Store.
type Comparator struct {
	Store snapshot.Store

	// OutputDir receives actual, expected and diff files for failed
	// comparisons. Empty disables writing.
	OutputDir string

	Logger  *log.Logger // Defaults to discarding
	Metrics Recorder    // Optional
}

// New creates a comparator over store.
func New(store snapshot.Store) *Comparator {
	return &Comparator{Store: store}
}

func (c *Comparator) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}

// Compare checks actual against the reference for key.
//
// Threshold failures come back as a fail Result with a nil error; use
// Result.Err for the typed failure. Kind and dimension mismatches return a
// fail Result together with an error wrapping ErrKindMismatch or
// ErrDimensionMismatch. Any other error is fatal and the Result is empty.
func (c *Comparator) Compare(ctx context.Context, actual artifact.Artifact, key refkey.Key, opts Options) (Result, error) {
	start := time.Now()

	res, err := c.compare(ctx, actual, key, opts)
	if res.Verdict == "" {
		return Result{}, err
	}
	res.Duration = time.Since(start)

	c.logf("%s %s (%s)", res.Verdict, res.Location, describe(res))
	if c.Metrics != nil {
		c.Metrics.Observe(res)
	}
	return res, err
}

func (c *Comparator) compare(ctx context.Context, actual artifact.Artifact, key refkey.Key, opts Options) (Result, error) {
	if c.Store == nil {
		return Result{}, errors.New("comparator has no store")
	}
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if actual.Kind != artifact.KindImage && actual.Kind != artifact.KindText {
		return Result{}, fmt.Errorf("%w: unknown kind %q", artifact.ErrInvalidArtifact, actual.Kind)
	}

	key = key.WithKind(actual.Kind)
	if err := key.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{
		Key:      key,
		Location: c.Store.Location(key),
		Kind:     actual.Kind,
		Limits:   opts.limits(),
	}

	// A name like "hero.txt" fixes the kind before anything is stored.
	if want := key.ExpectedKind(); actual.Kind != want {
		return c.kindMismatch(res, want, actual.Kind)
	}

	if opts.UpdateMode {
		res, err := c.record(ctx, res, key, actual, ReasonUpdate)
		if err != nil {
			return Result{}, err
		}
		if err := c.dropSibling(ctx, key); err != nil {
			return Result{}, err
		}
		return res, nil
	}

	expected, err := c.Store.Get(ctx, key)
	if errors.Is(err, snapshot.ErrNotFound) {
		sib, ok, err := c.sibling(ctx, key)
		if err != nil {
			return Result{}, err
		}
		if ok {
			res.Location = c.Store.Location(sib)
			return c.kindMismatch(res, sib.Kind, actual.Kind)
		}
		return c.record(ctx, res, key, actual, ReasonMissing)
	}
	if err != nil {
		return Result{}, err
	}

	if expected.Kind != actual.Kind {
		return c.kindMismatch(res, expected.Kind, actual.Kind)
	}

	switch actual.Kind {
	case artifact.KindText:
		return c.compareText(res, expected, actual, opts)
	default:
		return c.compareImages(res, expected, actual, opts)
	}
}

func (c *Comparator) record(ctx context.Context, res Result, key refkey.Key, actual artifact.Artifact, reason Reason) (Result, error) {
	if err := c.Store.Put(ctx, key, actual); err != nil {
		return Result{}, err
	}
	res.Verdict = VerdictRecorded
	res.Reason = reason
	if reason == ReasonMissing {
		res.Message = "no reference existed, wrote actual as reference"
	} else {
		res.Message = "reference updated"
	}
	return res, nil
}

// sibling looks for the reference an unnamed key holds under the other
// kind's extension. A named key fixes its extension and has none.
func (c *Comparator) sibling(ctx context.Context, key refkey.Key) (refkey.Key, bool, error) {
	if key.HasExtension() {
		return key, false, nil
	}
	sib := key
	sib.Kind = artifact.KindText
	if key.Kind == artifact.KindText {
		sib.Kind = artifact.KindImage
	}
	ok, err := c.Store.Exists(ctx, sib)
	if err != nil {
		return key, false, err
	}
	return sib, ok, nil
}

// dropSibling removes the other kind's reference after an update, so the
// key keeps a single reference.
func (c *Comparator) dropSibling(ctx context.Context, key refkey.Key) error {
	sib, ok, err := c.sibling(ctx, key)
	if err != nil || !ok {
		return err
	}
	if err := c.Store.Delete(ctx, sib); err != nil && !errors.Is(err, snapshot.ErrNotFound) {
		return err
	}
	c.logf("removed %s reference %s", sib.Kind, c.Store.Location(sib))
	return nil
}

func (c *Comparator) kindMismatch(res Result, expected, actual artifact.Kind) (Result, error) {
	res.Verdict = VerdictFail
	res.Reason = ReasonKindMismatch
	res.Limits = ""
	res.Message = fmt.Sprintf("expected %s, got %s", expected, actual)
	return res, res.Err()
}

// writeOutputs stores review files in OutputDir, mirroring the reference
// layout. Failures are logged; the verdict stands without them.
func (c *Comparator) writeOutputs(res *Result, actual, expected artifact.Artifact, diff *artifact.Artifact) {
	if c.OutputDir == "" {
		return
	}
	if err := c.writeFiles(res, actual, expected, diff); err != nil {
		c.logf("write review files for %s: %v", res.Location, err)
	}
}

func (c *Comparator) writeFiles(res *Result, actual, expected artifact.Artifact, diff *artifact.Artifact) error {
	base := filepath.Join(c.OutputDir, filepath.FromSlash(res.Key.Location()))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	res.ActualPath = stem + "-actual" + ext
	if err := actual.WriteToFile(res.ActualPath); err != nil {
		return err
	}
	res.ExpectedPath = stem + "-expected" + ext
	if err := expected.WriteToFile(res.ExpectedPath); err != nil {
		return err
	}
	if diff != nil {
		res.DiffPath = stem + "-diff" + diff.Extension()
		if err := diff.WriteToFile(res.DiffPath); err != nil {
			return err
		}
	}
	return nil
}

func describe(r Result) string {
	switch {
	case r.Verdict == VerdictRecorded:
		return string(r.Reason)
	case r.Metric == nil:
		return r.Message
	case r.Kind == artifact.KindText:
		return fmt.Sprintf("%d lines differ", *r.Metric)
	default:
		return fmt.Sprintf("%d/%d pixels differ", *r.Metric, r.Compared)
	}
}

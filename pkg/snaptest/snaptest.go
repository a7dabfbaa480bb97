// Package snaptest compares artifacts against stored references from Go
// tests:
//
//	m := snaptest.MustOpen(t, ".")
//	m.ToHaveScreenshot(t, shot)
//	m.ToMatchSnapshot(t, artifact.FromText(title), "hero.txt")
//
// References live next to the test file in <file>-snapshots directories.
// Set SNAPDIFF_UPDATE_SNAPSHOTS=1 to rewrite them.
package snaptest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"snapdiff/internal/artifact"
	"snapdiff/internal/compare"
	"snapdiff/internal/config"
	"snapdiff/internal/mask"
	"snapdiff/internal/refkey"
	"snapdiff/internal/report"
	"snapdiff/internal/snapshot"
)

// T is the part of testing.TB the matcher uses.
type T interface {
	Helper()
	Name() string
	Logf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Matcher asserts artifacts match their references.
type Matcher struct {
	Comparator *compare.Comparator
	Renderer   string
	Platform   string
	Defaults   compare.Options

	mu       sync.Mutex
	counters map[string]int
}

// New creates a matcher over store with default tolerances.
func New(store snapshot.Store, renderer, platform string) *Matcher {
	return &Matcher{
		Comparator: compare.New(store),
		Renderer:   renderer,
		Platform:   platform,
		counters:   make(map[string]int),
	}
}

// Open builds a matcher from snapdiff.yaml in dir and the environment.
func Open(ctx context.Context, dir string, environ []string) (*Matcher, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Resolve(dir)

	store, err := snapshot.Open(ctx, cfg.SnapshotConfig())
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		store.Close()
		return nil, err
	}

	m := New(store, cfg.Renderer, cfg.Platform)
	m.Comparator.OutputDir = cfg.OutputDir
	m.Defaults = opts
	return m, nil
}

// MustOpen is Open with the process environment, failing t on error.
func MustOpen(t T, dir string) *Matcher {
	t.Helper()
	m, err := Open(context.Background(), dir, os.Environ())
	if err != nil {
		t.Fatalf("open snapshots: %v", err)
		return nil
	}
	return m
}

// Close releases the underlying store.
func (m *Matcher) Close() error {
	return m.Comparator.Store.Close()
}

// Option adjusts a single assertion.
type Option func(*compare.Options)

// MaxDiffPixels tolerates n differing pixels.
func MaxDiffPixels(n int) Option {
	return func(o *compare.Options) { o.MaxDiffPixels = compare.Pixels(n) }
}

// MaxDiffRatio tolerates a fraction of differing pixels.
func MaxDiffRatio(r float64) Option {
	return func(o *compare.Options) { o.MaxDiffRatio = compare.Ratio(r) }
}

// Mask excludes regions from the comparison.
func Mask(regions ...mask.Region) Option {
	return func(o *compare.Options) { o.Mask.Regions = append(o.Mask.Regions, regions...) }
}

// Normalize applies text rules to both sides before comparing.
func Normalize(rules ...mask.Rule) Option {
	return func(o *compare.Options) { o.Mask.Rules = append(o.Mask.Rules, rules...) }
}

// Update forces the reference to be rewritten.
func Update() Option {
	return func(o *compare.Options) { o.UpdateMode = true }
}

// ToHaveScreenshot compares an image against an automatically named
// reference: <test-name>-<n>-<renderer>-<platform>.png, where n counts the
// unnamed assertions made by the test.
func (m *Matcher) ToHaveScreenshot(t T, shot artifact.Artifact, opts ...Option) compare.Result {
	t.Helper()
	key := m.key(t, callerFile(), "")
	return m.match(t, shot, key, opts)
}

// ToMatchSnapshot compares an artifact against the reference with an
// explicit name such as "hero.txt". An empty name behaves like
// ToHaveScreenshot.
func (m *Matcher) ToMatchSnapshot(t T, a artifact.Artifact, name string, opts ...Option) compare.Result {
	t.Helper()
	key := m.key(t, callerFile(), name)
	return m.match(t, a, key, opts)
}

func (m *Matcher) key(t T, file, name string) refkey.Key {
	k := refkey.Key{
		TestFile: file,
		TestName: t.Name(),
		Index:    1,
		Renderer: m.Renderer,
		Platform: m.Platform,
		Name:     name,
	}
	if name == "" {
		k.Index = m.next(file + "\x00" + t.Name())
	}
	return k
}

func (m *Matcher) next(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int)
	}
	m.counters[id]++
	return m.counters[id]
}

func (m *Matcher) match(t T, a artifact.Artifact, key refkey.Key, opts []Option) compare.Result {
	t.Helper()

	o := m.Defaults
	o.Mask = m.Defaults.Mask.Merge(mask.Mask{})
	for _, opt := range opts {
		opt(&o)
	}

	res, err := m.Comparator.Compare(context.Background(), a, key, o)
	switch {
	case errors.Is(err, compare.ErrKindMismatch), errors.Is(err, compare.ErrDimensionMismatch):
		t.Errorf("snapshot %s: %s", res.Location, report.Failure(res))
		return res
	case err != nil:
		t.Fatalf("snapshot %s: %v", key.Location(), err)
		return res
	}

	switch res.Verdict {
	case compare.VerdictRecorded:
		t.Logf("snapshot %s: %s", res.Location, res.Message)
	case compare.VerdictFail:
		msg := fmt.Sprintf("snapshot %s: %s", res.Location, report.Failure(res))
		if res.DiffPath != "" {
			msg += "\n  diff: " + res.DiffPath
		}
		if res.TextDiff != "" {
			msg += "\n" + res.TextDiff
		}
		t.Errorf("%s", msg)
	}
	return res
}

// callerFile returns the base name of the file that called the exported
// matcher method.
func callerFile() string {
	_, file, _, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	return filepath.Base(file)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapdiff/internal/compare"
	"snapdiff/internal/mask"
	"snapdiff/internal/refkey"
	"snapdiff/internal/snapshot"
)

const fullYAML = `
snapshotDir: tests
outputDir: out
renderer: firefox
platform: darwin
updateSnapshots: true
metricsFile: metrics/snapdiff.prom
store:
  backend: sqlite
  path: refs.db
expect:
  maxDiffPixels: 10
  maxDiffRatio: 0.01
  masks:
    - {x: 0, y: 0, width: 100, height: 20}
  normalize:
    - preset: timestamps
    - pattern: 'build-\d+'
      replace: build-N
`

func TestParseConfig_Full(t *testing.T) {
	cfg, err := ParseConfig([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, "tests", cfg.SnapshotDir)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, "firefox", cfg.Renderer)
	assert.Equal(t, "darwin", cfg.Platform)
	assert.True(t, cfg.UpdateSnapshots)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "refs.db", cfg.Store.Path)
	require.NotNil(t, cfg.Expect.MaxDiffPixels)
	assert.Equal(t, 10, *cfg.Expect.MaxDiffPixels)
	require.NotNil(t, cfg.Expect.MaxDiffRatio)
	assert.Equal(t, 0.01, *cfg.Expect.MaxDiffRatio)
	assert.Equal(t, []mask.Region{{X: 0, Y: 0, Width: 100, Height: 20}}, cfg.Expect.Masks)
	assert.Len(t, cfg.Expect.Normalize, 2)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig_EmptyUsesDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "chromium", cfg.Renderer)
	assert.Equal(t, refkey.CurrentPlatform(), cfg.Platform)
	assert.Equal(t, snapshot.BackendFS, cfg.Store.Backend)
	assert.Nil(t, cfg.Expect.MaxDiffPixels)
}

func TestParseConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "snapshotDri: tests\n"},
		{"bad yaml", "renderer: [unclosed\n"},
		{"wrong type", "expect:\n  maxDiffPixels: many\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

// Property: ToYAML output parses back to the same configuration.
func TestToYAML_RoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("parse(toYAML(cfg)) == cfg", prop.ForAll(
		func(renderer, dir string, pixels int, update bool) bool {
			cfg := Default()
			cfg.Renderer = renderer
			cfg.SnapshotDir = dir
			cfg.UpdateSnapshots = update
			cfg.Expect.MaxDiffPixels = &pixels
			cfg.Expect.Masks = []mask.Region{{X: 1, Y: 2, Width: 3, Height: 4}}

			data, err := cfg.ToYAML()
			if err != nil {
				return false
			}
			back, err := ParseConfig(data)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(cfg, back)
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.IntRange(0, 10000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err, "a missing file is not an error")
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("renderer: webkit\n"), 0644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "webkit", cfg.Renderer)

	_, err = LoadFromPath(filepath.Join(dir, "other.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv([]string{
		"SNAPDIFF_SNAPSHOT_DIR=/refs",
		"SNAPDIFF_UPDATE_SNAPSHOTS=true",
		"SNAPDIFF_STORE=redis",
		"SNAPDIFF_REDIS_ADDR=localhost:6379",
		"SNAPDIFF_REDIS_DB=2",
		"SNAPDIFF_MAX_DIFF_PIXELS=7",
		"PATH=/usr/bin",
		"MALFORMED",
	})
	require.NoError(t, err)

	assert.Equal(t, "/refs", cfg.SnapshotDir)
	assert.True(t, cfg.UpdateSnapshots)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	require.NotNil(t, cfg.Expect.MaxDiffPixels)
	assert.Equal(t, 7, *cfg.Expect.MaxDiffPixels)
	assert.Nil(t, cfg.Expect.MaxDiffRatio)

	// Unset variables keep file values.
	assert.Equal(t, "chromium", cfg.Renderer)
	assert.Equal(t, "test-results", cfg.OutputDir)
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv([]string{"SNAPDIFF_REDIS_DB=two"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	neg := -1
	ratio := 1.5

	cfg := Default()
	cfg.Renderer = ""
	cfg.Store.Backend = "s3"
	cfg.Expect.MaxDiffPixels = &neg
	cfg.Expect.MaxDiffRatio = &ratio
	cfg.Expect.Masks = []mask.Region{{Width: 0, Height: 5}}
	cfg.Expect.Normalize = []NormalizeEntry{{Preset: "nope"}, {Pattern: "("}, {}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 8)

	msg := err.Error()
	assert.Contains(t, msg, "renderer: required but SNAPDIFF_RENDERER is not set")
	assert.Contains(t, msg, "store.backend: 's3' is not valid, must be one of: fs, sqlite, redis")
	assert.Contains(t, msg, "expect.maxDiffPixels: -1 must be >= 0")
	assert.Contains(t, msg, "expect.maxDiffRatio: 1.5 must be within [0,1]")
	assert.Contains(t, msg, "expect.normalize[0].preset: 'nope' is not valid, must be one of: addresses, durations, timestamps, uuids")
	assert.Contains(t, msg, "expect.normalize[2]: preset or pattern is required")
}

func TestValidate_RedisNeedsAddr(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = snapshot.BackendRedis
	err := cfg.Validate()
	assert.EqualError(t, err, "store.redis.addr: required but SNAPDIFF_REDIS_ADDR is not set")
}

func TestOptions(t *testing.T) {
	cfg, err := ParseConfig([]byte(fullYAML))
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.True(t, opts.UpdateMode)
	assert.Equal(t, 10, *opts.MaxDiffPixels)
	assert.Len(t, opts.Mask.Regions, 1)

	timestamps, err := mask.Preset("timestamps")
	require.NoError(t, err)
	assert.Len(t, opts.Mask.Rules, len(timestamps)+1)
	assert.Equal(t, mask.Rule{Pattern: `build-\d+`, Replace: "build-N"}, opts.Mask.Rules[len(timestamps)])
	assert.NoError(t, opts.Validate())

	assert.Equal(t, compare.Options{}, mustOptions(t, Default()))
}

func mustOptions(t *testing.T, cfg Config) compare.Options {
	t.Helper()
	opts, err := cfg.Options()
	require.NoError(t, err)
	return opts
}

func TestResolveAndSnapshotConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(fullYAML))
	require.NoError(t, err)

	cfg = cfg.Resolve("/work")
	assert.Equal(t, filepath.Join("/work", "tests"), cfg.SnapshotDir)
	assert.Equal(t, filepath.Join("/work", "out"), cfg.OutputDir)
	assert.Equal(t, filepath.Join("/work", "metrics", "snapdiff.prom"), cfg.MetricsFile)

	sc := cfg.SnapshotConfig()
	assert.Equal(t, snapshot.BackendSQLite, sc.Backend)
	assert.Equal(t, filepath.Join("/work", "refs.db"), sc.Path)
	assert.Equal(t, cfg.SnapshotDir, sc.Dir)
	assert.Equal(t, []string{cfg.OutputDir}, sc.Exclude)

	abs := Default()
	abs.SnapshotDir = "/already/abs"
	assert.Equal(t, "/already/abs", abs.Resolve("/work").SnapshotDir)
}

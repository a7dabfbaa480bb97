// Package config loads snapdiff.yaml and applies environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"snapdiff/internal/compare"
	"snapdiff/internal/mask"
	"snapdiff/internal/refkey"
	"snapdiff/internal/snapshot"
)

// DefaultFile is looked up in the working directory.
const DefaultFile = "snapdiff.yaml"

// Config is the full run configuration.
type Config struct {
	SnapshotDir     string      `yaml:"snapshotDir,omitempty"`
	OutputDir       string      `yaml:"outputDir,omitempty"`
	Renderer        string      `yaml:"renderer,omitempty"`
	Platform        string      `yaml:"platform,omitempty"`
	UpdateSnapshots bool        `yaml:"updateSnapshots,omitempty"`
	MetricsFile     string      `yaml:"metricsFile,omitempty"`
	Store           StoreConfig `yaml:"store,omitempty"`
	Expect          Expect      `yaml:"expect,omitempty"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Backend string      `yaml:"backend,omitempty"`
	Path    string      `yaml:"path,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// Expect holds the default comparison tolerances.
type Expect struct {
	MaxDiffPixels *int             `yaml:"maxDiffPixels,omitempty"`
	MaxDiffRatio  *float64         `yaml:"maxDiffRatio,omitempty"`
	Masks         []mask.Region    `yaml:"masks,omitempty"`
	Normalize     []NormalizeEntry `yaml:"normalize,omitempty"`
}

// NormalizeEntry is either a named preset or a pattern/replace pair.
type NormalizeEntry struct {
	Preset  string `yaml:"preset,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`
	Replace string `yaml:"replace,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		SnapshotDir: ".",
		OutputDir:   "test-results",
		Renderer:    "chromium",
		Platform:    refkey.CurrentPlatform(),
		Store:       StoreConfig{Backend: snapshot.BackendFS},
	}
}

// ParseConfig parses YAML content on top of the defaults. Unknown fields
// are rejected.
func ParseConfig(content []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: invalid YAML: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ToYAML serializes the configuration back to YAML bytes.
func (c Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(&c)
}

// Load reads snapdiff.yaml from dir. A missing file yields the defaults.
func Load(dir string) (Config, error) {
	cfg, err := LoadFromPath(filepath.Join(dir, DefaultFile))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadFromPath reads and parses a configuration file.
func LoadFromPath(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(content)
}

// Resolve makes relative directories absolute against workDir.
func (c Config) Resolve(workDir string) Config {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(workDir, p)
	}
	c.SnapshotDir = abs(c.SnapshotDir)
	c.OutputDir = abs(c.OutputDir)
	c.MetricsFile = abs(c.MetricsFile)
	if c.Store.Path != ":memory:" {
		c.Store.Path = abs(c.Store.Path)
	}
	return c
}

// Mask builds the comparison mask from masks and normalize entries.
func (c Config) Mask() (mask.Mask, error) {
	m := mask.Mask{Regions: append([]mask.Region(nil), c.Expect.Masks...)}
	for _, n := range c.Expect.Normalize {
		if n.Preset != "" {
			rules, err := mask.Preset(n.Preset)
			if err != nil {
				return mask.Mask{}, err
			}
			m.Rules = append(m.Rules, rules...)
			continue
		}
		m.Rules = append(m.Rules, mask.Rule{Pattern: n.Pattern, Replace: n.Replace})
	}
	return m, nil
}

// Options returns the comparison options this configuration implies.
func (c Config) Options() (compare.Options, error) {
	m, err := c.Mask()
	if err != nil {
		return compare.Options{}, err
	}
	return compare.Options{
		MaxDiffPixels: c.Expect.MaxDiffPixels,
		MaxDiffRatio:  c.Expect.MaxDiffRatio,
		Mask:          m,
		UpdateMode:    c.UpdateSnapshots,
	}, nil
}

// SnapshotConfig returns the backend settings for snapshot.Open.
func (c Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		Backend: c.Store.Backend,
		Dir:     c.SnapshotDir,
		Path:    c.Store.Path,
		Exclude: []string{c.OutputDir},
		Redis: snapshot.RedisConfig{
			Addr:     c.Store.Redis.Addr,
			Password: c.Store.Redis.Password,
			DB:       c.Store.Redis.DB,
			Prefix:   c.Store.Redis.Prefix,
		},
	}
}

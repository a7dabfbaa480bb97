package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists every setting an environment variable can override.
// Variables that are unset leave the prefilled value alone.
type envOverrides struct {
	SnapshotDir     string  `env:"SNAPDIFF_SNAPSHOT_DIR"`
	OutputDir       string  `env:"SNAPDIFF_OUTPUT_DIR"`
	Renderer        string  `env:"SNAPDIFF_RENDERER"`
	Platform        string  `env:"SNAPDIFF_PLATFORM"`
	UpdateSnapshots bool    `env:"SNAPDIFF_UPDATE_SNAPSHOTS"`
	MetricsFile     string  `env:"SNAPDIFF_METRICS_FILE"`
	Backend         string  `env:"SNAPDIFF_STORE"`
	StorePath       string  `env:"SNAPDIFF_STORE_PATH"`
	RedisAddr       string  `env:"SNAPDIFF_REDIS_ADDR"`
	RedisPassword   string  `env:"SNAPDIFF_REDIS_PASSWORD"`
	RedisDB         int     `env:"SNAPDIFF_REDIS_DB"`
	RedisPrefix     string  `env:"SNAPDIFF_REDIS_PREFIX"`
	MaxDiffPixels   int     `env:"SNAPDIFF_MAX_DIFF_PIXELS"`
	MaxDiffRatio    float64 `env:"SNAPDIFF_MAX_DIFF_RATIO"`
}

// ApplyEnv overrides settings from environ, given as KEY=VALUE pairs.
func (c *Config) ApplyEnv(environ []string) error {
	o := envOverrides{
		SnapshotDir:     c.SnapshotDir,
		OutputDir:       c.OutputDir,
		Renderer:        c.Renderer,
		Platform:        c.Platform,
		UpdateSnapshots: c.UpdateSnapshots,
		MetricsFile:     c.MetricsFile,
		Backend:         c.Store.Backend,
		StorePath:       c.Store.Path,
		RedisAddr:       c.Store.Redis.Addr,
		RedisPassword:   c.Store.Redis.Password,
		RedisDB:         c.Store.Redis.DB,
		RedisPrefix:     c.Store.Redis.Prefix,
	}
	vars := EnvMap(environ)

	if err := env.ParseWithOptions(&o, env.Options{Environment: vars}); err != nil {
		return fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}

	c.SnapshotDir = o.SnapshotDir
	c.OutputDir = o.OutputDir
	c.Renderer = o.Renderer
	c.Platform = o.Platform
	c.UpdateSnapshots = o.UpdateSnapshots
	c.MetricsFile = o.MetricsFile
	c.Store.Backend = o.Backend
	c.Store.Path = o.StorePath
	c.Store.Redis = RedisConfig{
		Addr:     o.RedisAddr,
		Password: o.RedisPassword,
		DB:       o.RedisDB,
		Prefix:   o.RedisPrefix,
	}
	// Tolerances stay unset unless a variable names them.
	if v := vars["SNAPDIFF_MAX_DIFF_PIXELS"]; v != "" {
		c.Expect.MaxDiffPixels = &o.MaxDiffPixels
	}
	if v := vars["SNAPDIFF_MAX_DIFF_RATIO"]; v != "" {
		c.Expect.MaxDiffRatio = &o.MaxDiffRatio
	}
	return nil
}

// EnvMap converts KEY=VALUE pairs to a map. Later pairs win.
func EnvMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}

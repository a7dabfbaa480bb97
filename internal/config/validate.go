package config

import (
	"errors"
	"fmt"
	"strings"

	"snapdiff/internal/mask"
	"snapdiff/internal/snapshot"
)

// ErrInvalidConfig matches every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a single validation failure.
type ValidationError struct {
	Key     string   // Config path, e.g. "store.backend"
	EnvVar  string   // Variable that can supply the value, if any
	Value   string   // Offending value, empty when missing
	Allowed []string // Allowed values for enum settings
	Message string   // Human-readable error message
}

// FormatError formats a ValidationError into a human-readable message.
func FormatError(err ValidationError) string {
	// Missing required value
	if err.Value == "" && len(err.Allowed) == 0 && err.EnvVar != "" {
		return fmt.Sprintf("%s: required but %s is not set", err.Key, err.EnvVar)
	}

	// Invalid enum value
	if len(err.Allowed) > 0 {
		return fmt.Sprintf("%s: '%s' is not valid, must be one of: %s",
			err.Key, err.Value, strings.Join(err.Allowed, ", "))
	}

	return fmt.Sprintf("%s: %s", err.Key, err.Message)
}

// ValidationErrors collects every failure found in one configuration.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	lines := make([]string, len(v))
	for i, err := range v {
		lines[i] = FormatError(err)
	}
	return strings.Join(lines, "\n")
}

func (v ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

var backends = []string{snapshot.BackendFS, snapshot.BackendSQLite, snapshot.BackendRedis}

// Validate checks the configuration and returns ValidationErrors listing
// every problem, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Renderer) == "" {
		errs = append(errs, ValidationError{Key: "renderer", EnvVar: "SNAPDIFF_RENDERER"})
	}
	if strings.TrimSpace(c.Platform) == "" {
		errs = append(errs, ValidationError{Key: "platform", EnvVar: "SNAPDIFF_PLATFORM"})
	}
	if strings.TrimSpace(c.SnapshotDir) == "" {
		errs = append(errs, ValidationError{Key: "snapshotDir", EnvVar: "SNAPDIFF_SNAPSHOT_DIR"})
	}

	switch c.Store.Backend {
	case snapshot.BackendFS, snapshot.BackendSQLite:
	case snapshot.BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, ValidationError{Key: "store.redis.addr", EnvVar: "SNAPDIFF_REDIS_ADDR"})
		}
	default:
		errs = append(errs, ValidationError{
			Key:     "store.backend",
			Value:   c.Store.Backend,
			Allowed: backends,
			Message: "invalid enum value",
		})
	}

	if p := c.Expect.MaxDiffPixels; p != nil && *p < 0 {
		errs = append(errs, ValidationError{
			Key:     "expect.maxDiffPixels",
			Value:   fmt.Sprint(*p),
			Message: fmt.Sprintf("%d must be >= 0", *p),
		})
	}
	if r := c.Expect.MaxDiffRatio; r != nil && (*r < 0 || *r > 1) {
		errs = append(errs, ValidationError{
			Key:     "expect.maxDiffRatio",
			Value:   fmt.Sprint(*r),
			Message: fmt.Sprintf("%g must be within [0,1]", *r),
		})
	}

	for i, region := range c.Expect.Masks {
		if err := region.Validate(); err != nil {
			errs = append(errs, ValidationError{
				Key:     fmt.Sprintf("expect.masks[%d]", i),
				Value:   region.String(),
				Message: err.Error(),
			})
		}
	}

	for i, n := range c.Expect.Normalize {
		key := fmt.Sprintf("expect.normalize[%d]", i)
		switch {
		case n.Preset != "" && n.Pattern != "":
			errs = append(errs, ValidationError{Key: key, Message: "set either preset or pattern, not both"})
		case n.Preset != "":
			if _, err := mask.Preset(n.Preset); err != nil {
				errs = append(errs, ValidationError{
					Key:     key + ".preset",
					Value:   n.Preset,
					Allowed: mask.PresetNames(),
					Message: "unknown preset",
				})
			}
		case n.Pattern == "":
			errs = append(errs, ValidationError{Key: key, Message: "preset or pattern is required"})
		default:
			if err := (mask.Mask{Rules: []mask.Rule{{Pattern: n.Pattern}}}).Validate(); err != nil {
				errs = append(errs, ValidationError{Key: key + ".pattern", Value: n.Pattern, Message: err.Error()})
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

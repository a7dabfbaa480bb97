package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snapdiff/internal/artifact"
	"snapdiff/internal/capture"
	"snapdiff/internal/cli"
	"snapdiff/internal/compare"
	"snapdiff/internal/config"
	"snapdiff/internal/metrics"
	"snapdiff/internal/refkey"
	"snapdiff/internal/report"
	"snapdiff/internal/snapshot"
)

// Exit codes.
const (
	exitOK       = 0
	exitFailed   = 1 // A comparison failed, or a reference is corrupt
	exitUsage    = 2 // Bad arguments or unreadable input
	exitConfig   = 3 // Invalid or missing configuration
	exitNotFound = 4 // Reference or input file does not exist
	exitStorage  = 5 // The snapshot store failed
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	exitCode := run(os.Args[1:], os.Environ(), ".")
	os.Exit(exitCode)
}

// run orchestrates one invocation and returns its exit code.
// It is separated from main() to enable testing.
func run(args []string, environ []string, workDir string) int {
	cmd, err := cli.ParseArgs(args)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		if errors.Is(err, cli.ErrNoSubcommand) {
			fmt.Fprintln(stderr, cli.Usage)
		}
		return exitUsage
	}

	cfg, err := loadConfig(cmd, environ, workDir)
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, verr := range verrs {
				fmt.Fprintln(stderr, config.FormatError(verr))
			}
		} else {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return exitConfig
	}

	ctx := context.Background()
	store, err := snapshot.Open(ctx, cfg.SnapshotConfig())
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot open snapshot store: %v\n", err)
		return exitStorage
	}
	defer store.Close()

	switch cmd.Subcommand {
	case cli.SubcommandCompare, cli.SubcommandUpdate:
		return runCompare(ctx, cmd, cfg, store, environ, workDir)
	case cli.SubcommandCapture:
		return runCapture(ctx, cmd, cfg, store, environ, workDir)
	case cli.SubcommandList:
		return runList(ctx, cmd, store)
	case cli.SubcommandShow:
		return runShow(ctx, cmd, cfg, store, workDir)
	case cli.SubcommandVerify:
		return runVerify(ctx, cmd, cfg, store)
	case cli.SubcommandDelete:
		return runDelete(ctx, cmd, cfg, store)
	case cli.SubcommandPrune:
		return runPrune(ctx, cmd, store)
	}
	return exitUsage
}

// loadConfig layers snapdiff.yaml, the environment and flags, in that order.
func loadConfig(cmd cli.Command, environ []string, workDir string) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if cmd.ConfigPath != "" {
		path := resolvePath(workDir, cmd.ConfigPath)
		cfg, err = config.LoadFromPath(path)
		if os.IsNotExist(err) {
			return config.Config{}, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		cfg, err = config.Load(workDir)
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.ApplyEnv(environ); err != nil {
		return config.Config{}, err
	}
	applyFlags(&cfg, cmd)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg.Resolve(workDir), nil
}

func applyFlags(cfg *config.Config, cmd cli.Command) {
	if cmd.SnapshotDir != "" {
		cfg.SnapshotDir = cmd.SnapshotDir
	}
	if cmd.OutputDir != "" {
		cfg.OutputDir = cmd.OutputDir
	}
	if cmd.Store != "" {
		cfg.Store.Backend = cmd.Store
	}
	if cmd.MetricsFile != "" {
		cfg.MetricsFile = cmd.MetricsFile
	}
	if cmd.Renderer != "" {
		cfg.Renderer = cmd.Renderer
	}
	if cmd.Platform != "" {
		cfg.Platform = cmd.Platform
	}
	if cmd.UpdateSnapshots {
		cfg.UpdateSnapshots = true
	}
	if cmd.MaxDiffPixels != nil {
		cfg.Expect.MaxDiffPixels = cmd.MaxDiffPixels
	}
	if cmd.MaxDiffRatio != nil {
		cfg.Expect.MaxDiffRatio = cmd.MaxDiffRatio
	}
	cfg.Expect.Masks = append(cfg.Expect.Masks, cmd.Masks...)
	for _, preset := range cmd.Normalize {
		cfg.Expect.Normalize = append(cfg.Expect.Normalize, config.NormalizeEntry{Preset: preset})
	}
}

func keyFor(cmd cli.Command, renderer, platform string) refkey.Key {
	return refkey.Key{
		TestFile: cmd.TestFile,
		TestName: cmd.TestName,
		Index:    cmd.Index,
		Renderer: renderer,
		Platform: platform,
		Name:     cmd.Name,
		Kind:     artifact.Kind(cmd.Kind),
	}
}

// runCompare handles the compare and update subcommands.
func runCompare(ctx context.Context, cmd cli.Command, cfg config.Config, store snapshot.Store, environ []string, workDir string) int {
	path := resolvePath(workDir, cmd.ActualPath)
	actual, err := artifact.ReadFile(path, artifact.Kind(cmd.Kind))
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(stderr, "Error: file not found: %s\n", path)
			return exitNotFound
		}
		fmt.Fprintf(stderr, "Error: cannot read %s: %v\n", path, err)
		return exitUsage
	}

	key := keyFor(cmd, cfg.Renderer, cfg.Platform)
	return compareAndReport(ctx, cmd, cfg, store, environ, actual, key)
}

// runCapture renders a URL in a browser, then compares the capture.
func runCapture(ctx context.Context, cmd cli.Command, cfg config.Config, store snapshot.Store, environ []string, workDir string) int {
	style, err := capture.LoadStyle(resolvePath(workDir, cmd.StylePath))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	browser := cmd.Browser
	if browser == "" {
		browser = cfg.Renderer
	}
	session, err := capture.Launch(capture.SessionConfig{
		Browser:  browser,
		Headless: true,
		Timeout:  cmd.Timeout,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer session.Close()

	if err := session.Goto(cmd.URL); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	var actual artifact.Artifact
	if cmd.CaptureText {
		actual, err = capture.Text(session.Page, cmd.Selector)
	} else {
		actual, err = capture.Screenshot(session.Page, capture.Options{
			FullPage:      cmd.FullPage,
			Style:         style,
			MaskSelectors: cmd.MaskSelectors,
			Timeout:       cmd.Timeout,
		})
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot capture %s: %v\n", cmd.URL, err)
		return exitFailed
	}

	key := keyFor(cmd, session.Renderer, cfg.Platform)
	return compareAndReport(ctx, cmd, cfg, store, environ, actual, key)
}

func compareAndReport(ctx context.Context, cmd cli.Command, cfg config.Config, store snapshot.Store, environ []string, actual artifact.Artifact, key refkey.Key) int {
	opts, err := cfg.Options()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}

	m := metrics.New()
	comparator := compare.New(store)
	comparator.OutputDir = cfg.OutputDir
	comparator.Metrics = m
	if cmd.Verbose {
		comparator.Logger = log.New(stderr, "[snapdiff] ", 0)
	}

	res, err := comparator.Compare(ctx, actual, key, opts)
	if res.Verdict == "" {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, snapshot.ErrCorrupt), errors.Is(err, snapshot.ErrKeyConflict):
			return exitFailed
		case errors.Is(err, snapshot.ErrStorage):
			return exitStorage
		case errors.Is(err, compare.ErrInvalidOptions),
			errors.Is(err, refkey.ErrInvalidKey),
			errors.Is(err, artifact.ErrInvalidArtifact):
			return exitUsage
		}
		return exitFailed
	}

	summary := report.NewSummary(report.NewRunID(), []compare.Result{res})
	if code := printSummary(cmd, environ, summary); code != exitOK {
		return code
	}

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			fmt.Fprintf(stderr, "Warning: cannot write metrics: %s: %v\n", cfg.MetricsFile, err)
		}
	}

	if summary.HasFailures() {
		return exitFailed
	}
	return exitOK
}

func printSummary(cmd cli.Command, environ []string, summary report.Summary) int {
	switch {
	case cmd.JSONOutput:
		out, err := report.FormatJSON(summary)
		if err != nil {
			fmt.Fprintf(stderr, "Error: cannot format results: %v\n", err)
			return exitFailed
		}
		fmt.Fprintln(stdout, out)
	case cmd.CIMode || getEnvBool(environ, "SNAPDIFF_CI") || getEnvBool(environ, "CI"):
		fmt.Fprint(stdout, report.FormatCI(summary))
	default:
		fmt.Fprint(stdout, report.FormatCLI(summary))
	}
	return exitOK
}

// runList handles the list subcommand.
func runList(ctx context.Context, cmd cli.Command, store snapshot.Store) int {
	summaries, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot list references: %v\n", err)
		return exitStorage
	}

	if cmd.JSONOutput {
		return printJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(stdout, "No references found")
		return exitOK
	}
	for _, s := range summaries {
		fmt.Fprintln(stdout, formatSummary(s))
	}
	return exitOK
}

// runShow prints metadata for one reference, or writes its bytes to --out.
func runShow(ctx context.Context, cmd cli.Command, cfg config.Config, store snapshot.Store, workDir string) int {
	key := keyFor(cmd, cfg.Renderer, cfg.Platform)
	a, err := store.Get(ctx, key)
	if err != nil {
		return storeFailure(err, store.Location(key))
	}

	if cmd.OutPath != "" {
		out := resolvePath(workDir, cmd.OutPath)
		if err := a.WriteToFile(out); err != nil {
			fmt.Fprintf(stderr, "Error: cannot write reference: %s: %v\n", out, err)
			return exitFailed
		}
		fmt.Fprintf(stdout, "Wrote %s to %s\n", store.Location(key), out)
		return exitOK
	}

	sum := snapshot.Summary{
		Location: store.Location(key),
		Kind:     a.Kind,
		Size:     int64(len(a.Data)),
		Width:    a.Width,
		Height:   a.Height,
		Checksum: a.Checksum(),
	}
	// The write time is only known to List.
	if all, err := store.List(ctx); err == nil {
		for _, s := range all {
			if s.Location == sum.Location {
				sum.UpdatedAt = s.UpdatedAt
				break
			}
		}
	}

	if cmd.JSONOutput {
		return printJSON(sum)
	}
	fmt.Fprintln(stdout, formatSummary(sum))
	fmt.Fprintf(stdout, "  checksum: %s\n", sum.Checksum)
	return exitOK
}

// runVerify checks one reference exists and decodes as its kind.
func runVerify(ctx context.Context, cmd cli.Command, cfg config.Config, store snapshot.Store) int {
	key := keyFor(cmd, cfg.Renderer, cfg.Platform)
	res, err := snapshot.Verify(ctx, store, key)
	if err != nil {
		return storeFailure(err, store.Location(key))
	}

	if cmd.JSONOutput {
		if code := printJSON(res); code != exitOK {
			return code
		}
	} else if res.Valid {
		fmt.Fprintf(stdout, "✓ %s\n", res.Location)
	} else {
		fmt.Fprintf(stdout, "✗ %s: %s\n", res.Location, res.Message)
	}

	switch {
	case res.Missing:
		return exitNotFound
	case !res.Valid:
		return exitFailed
	}
	return exitOK
}

// runDelete removes one reference.
func runDelete(ctx context.Context, cmd cli.Command, cfg config.Config, store snapshot.Store) int {
	key := keyFor(cmd, cfg.Renderer, cfg.Platform)
	if err := store.Delete(ctx, key); err != nil {
		return storeFailure(err, store.Location(key))
	}
	fmt.Fprintf(stdout, "Deleted reference: %s\n", store.Location(key))
	return exitOK
}

// runPrune removes references older than --older-than.
func runPrune(ctx context.Context, cmd cli.Command, store snapshot.Store) int {
	deleted, err := store.Prune(ctx, cmd.OlderThan)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot prune references: %v\n", err)
		return exitStorage
	}
	fmt.Fprintf(stdout, "Pruned %d reference(s) older than %s\n", deleted, formatAge(cmd.OlderThan))
	return exitOK
}

func storeFailure(err error, location string) int {
	if errors.Is(err, snapshot.ErrNotFound) {
		fmt.Fprintf(stderr, "Error: reference not found: %s\n", location)
		return exitNotFound
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if errors.Is(err, snapshot.ErrStorage) {
		return exitStorage
	}
	return exitFailed
}

func printJSON(v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot serialize output: %v\n", err)
		return exitFailed
	}
	fmt.Fprintln(stdout, string(data))
	return exitOK
}

func formatSummary(s snapshot.Summary) string {
	line := fmt.Sprintf("%s  %s  %dB", s.Location, s.Kind, s.Size)
	if s.Width > 0 && s.Height > 0 {
		line += fmt.Sprintf("  %dx%d", s.Width, s.Height)
	}
	if !s.UpdatedAt.IsZero() {
		line += "  " + s.UpdatedAt.Format(time.RFC3339)
	}
	return line
}

// formatAge prints whole days as "7d" and anything else as a Go duration.
func formatAge(d time.Duration) string {
	day := 24 * time.Hour
	if d >= day && d%day == 0 {
		return fmt.Sprintf("%dd", d/day)
	}
	return d.String()
}

func resolvePath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// getEnvBool checks if an environment variable is set to a truthy value.
func getEnvBool(environ []string, name string) bool {
	prefix := name + "="
	for _, env := range environ {
		if strings.HasPrefix(env, prefix) {
			value := strings.ToLower(strings.TrimPrefix(env, prefix))
			return value == "true" || value == "1" || value == "yes"
		}
	}
	return false
}

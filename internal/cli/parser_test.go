package cli

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"snapdiff/internal/mask"
)

func TestParseArgs_Compare(t *testing.T) {
	cmd, err := ParseArgs([]string{
		"compare",
		"--test-file", "example.spec.ts",
		"--test-name", "example test",
		"--index=2",
		"--renderer", "firefox",
		"--platform", "darwin",
		"--max-diff-pixels", "10",
		"--max-diff-ratio=0.05",
		"--mask", "0,0,100,20",
		"--mask", "5,5,1,1",
		"--normalize", "timestamps",
		"--ci",
		"shot.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cmd.Subcommand != SubcommandCompare {
		t.Errorf("Subcommand = %q, want compare", cmd.Subcommand)
	}
	if cmd.ActualPath != "shot.png" {
		t.Errorf("ActualPath = %q, want shot.png", cmd.ActualPath)
	}
	if cmd.TestFile != "example.spec.ts" || cmd.TestName != "example test" || cmd.Index != 2 {
		t.Errorf("key flags = %q %q %d", cmd.TestFile, cmd.TestName, cmd.Index)
	}
	if cmd.Renderer != "firefox" || cmd.Platform != "darwin" {
		t.Errorf("environment = %q %q", cmd.Renderer, cmd.Platform)
	}
	if cmd.MaxDiffPixels == nil || *cmd.MaxDiffPixels != 10 {
		t.Errorf("MaxDiffPixels = %v, want 10", cmd.MaxDiffPixels)
	}
	if cmd.MaxDiffRatio == nil || *cmd.MaxDiffRatio != 0.05 {
		t.Errorf("MaxDiffRatio = %v, want 0.05", cmd.MaxDiffRatio)
	}
	wantMasks := []mask.Region{{X: 0, Y: 0, Width: 100, Height: 20}, {X: 5, Y: 5, Width: 1, Height: 1}}
	if len(cmd.Masks) != len(wantMasks) {
		t.Fatalf("Masks = %v, want %v", cmd.Masks, wantMasks)
	}
	for i := range wantMasks {
		if cmd.Masks[i] != wantMasks[i] {
			t.Errorf("Masks[%d] = %v, want %v", i, cmd.Masks[i], wantMasks[i])
		}
	}
	if len(cmd.Normalize) != 1 || cmd.Normalize[0] != "timestamps" {
		t.Errorf("Normalize = %v", cmd.Normalize)
	}
	if !cmd.CIMode {
		t.Error("CIMode should be true")
	}
	if cmd.UpdateSnapshots {
		t.Error("UpdateSnapshots should be false for compare")
	}
}

func TestParseArgs_Defaults(t *testing.T) {
	cmd, err := ParseArgs([]string{"compare", "--name", "hero.txt", "out.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Index != 1 {
		t.Errorf("Index = %d, want 1", cmd.Index)
	}
	if cmd.MaxDiffPixels != nil || cmd.MaxDiffRatio != nil {
		t.Error("tolerances should be unset")
	}
	if cmd.Kind != "" {
		t.Errorf("Kind = %q, want empty", cmd.Kind)
	}
}

func TestParseArgs_UpdateImpliesUpdateSnapshots(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"update subcommand", []string{"update", "--test-name", "t", "a.png"}},
		{"long flag", []string{"compare", "--update-snapshots", "--test-name", "t", "a.png"}},
		{"short flag", []string{"compare", "--u", "--test-name", "t", "a.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cmd.UpdateSnapshots {
				t.Error("UpdateSnapshots should be true")
			}
		})
	}
}

func TestParseArgs_StoreSubcommands(t *testing.T) {
	cmd, err := ParseArgs([]string{"list", "--json", "--store", "sqlite", "--snapshot-dir", "refs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Subcommand != SubcommandList || !cmd.JSONOutput || cmd.Store != "sqlite" || cmd.SnapshotDir != "refs" {
		t.Errorf("list parsed as %+v", cmd)
	}

	cmd, err = ParseArgs([]string{"prune", "--older-than", "30d"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.OlderThan != 30*24*time.Hour {
		t.Errorf("OlderThan = %v, want 720h", cmd.OlderThan)
	}

	cmd, err = ParseArgs([]string{"prune", "--older-than=90m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.OlderThan != 90*time.Minute {
		t.Errorf("OlderThan = %v, want 90m", cmd.OlderThan)
	}

	cmd, err = ParseArgs([]string{"show", "--test-name", "home", "--out", "ref.png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.OutPath != "ref.png" {
		t.Errorf("OutPath = %q", cmd.OutPath)
	}

	for _, sub := range []string{"verify", "delete"} {
		if _, err := ParseArgs([]string{sub, "--name", "hero.txt"}); err != nil {
			t.Errorf("%s: unexpected error: %v", sub, err)
		}
	}
}

func TestParseArgs_Capture(t *testing.T) {
	cmd, err := ParseArgs([]string{
		"capture",
		"--url", "http://localhost:3000",
		"--test-name", "landing",
		"--browser", "webkit",
		"--full-page",
		"--style", "hide.css",
		"--mask-selector", ".clock",
		"--mask-selector", "#ad",
		"--timeout", "10s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.URL != "http://localhost:3000" || cmd.Browser != "webkit" || !cmd.FullPage {
		t.Errorf("capture parsed as %+v", cmd)
	}
	if cmd.StylePath != "hide.css" {
		t.Errorf("StylePath = %q", cmd.StylePath)
	}
	if len(cmd.MaskSelectors) != 2 || cmd.MaskSelectors[1] != "#ad" {
		t.Errorf("MaskSelectors = %v", cmd.MaskSelectors)
	}
	if cmd.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", cmd.Timeout)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"empty args", []string{}, ErrNoSubcommand},
		{"unknown subcommand", []string{"run", "x"}, ErrNoSubcommand},
		{"compare without file", []string{"compare", "--test-name", "t"}, ErrNoActual},
		{"compare without key", []string{"compare", "a.png"}, ErrMissingKey},
		{"show without key", []string{"show"}, ErrMissingKey},
		{"capture without url", []string{"capture", "--test-name", "t"}, ErrMissingFlagValue},
		{"prune without age", []string{"prune"}, ErrMissingFlagValue},
		{"missing value", []string{"compare", "a.png", "--test-name"}, ErrMissingFlagValue},
		{"bad index", []string{"compare", "--test-name", "t", "--index", "x", "a.png"}, ErrInvalidFlagValue},
		{"zero index", []string{"compare", "--test-name", "t", "--index", "0", "a.png"}, ErrInvalidFlagValue},
		{"bad ratio", []string{"compare", "--test-name", "t", "--max-diff-ratio", "lots", "a.png"}, ErrInvalidFlagValue},
		{"bad mask", []string{"compare", "--test-name", "t", "--mask", "1,2", "a.png"}, ErrInvalidFlagValue},
		{"bad kind", []string{"compare", "--test-name", "t", "--kind", "audio", "a.png"}, ErrInvalidFlagValue},
		{"bad duration", []string{"prune", "--older-than", "soon"}, ErrInvalidFlagValue},
		{"extra argument", []string{"compare", "--test-name", "t", "a.png", "b.png"}, ErrInvalidFlagValue},
		{"unknown flag", []string{"list", "--colour"}, ErrUnknownFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseArgs_DoubleDash(t *testing.T) {
	cmd, err := ParseArgs([]string{"compare", "--test-name", "t", "--", "--weird-name.png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.ActualPath != "--weird-name.png" {
		t.Errorf("ActualPath = %q", cmd.ActualPath)
	}
}

// Property: flag order does not change the parsed key.
func TestParseArgs_FlagOrder_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("key flags parse the same before or after the file", prop.ForAll(
		func(name, file string, index int) bool {
			before, err1 := ParseArgs([]string{"compare", "--test-name", name, "--index", strconv.Itoa(index), file})
			after, err2 := ParseArgs([]string{"compare", file, "--index", strconv.Itoa(index), "--test-name", name})
			if err1 != nil || err2 != nil {
				return false
			}
			return before.TestName == after.TestName &&
				before.Index == after.Index &&
				before.ActualPath == file && after.ActualPath == file
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}

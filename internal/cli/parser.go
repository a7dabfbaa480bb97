package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snapdiff/internal/mask"
)

// Usage is printed for usage errors.
const Usage = `usage: snapdiff <command> [flags]

commands:
  compare <file>   compare a captured file against its reference
  update <file>    overwrite the reference with a captured file
  capture          screenshot a URL with playwright and compare it
  list             list stored references
  show             print metadata for one reference, or write it with --out
  verify           check one reference exists and decodes
  delete           remove one reference
  prune            remove references older than --older-than`

// ErrNoSubcommand is returned when no known subcommand is provided
var ErrNoSubcommand = errors.New("missing subcommand: " + strings.SplitN(Usage, "\n", 2)[0])

// ErrNoActual is returned when compare or update has no file argument
var ErrNoActual = errors.New("no file provided: usage: snapdiff compare [flags] <file>")

// ErrMissingFlagValue is returned when a flag requires a value but none is provided
var ErrMissingFlagValue = errors.New("flag requires a value")

// ErrInvalidFlagValue is returned when a flag value cannot be parsed
var ErrInvalidFlagValue = errors.New("invalid flag value")

// ErrUnknownFlag is returned for flags no subcommand accepts
var ErrUnknownFlag = errors.New("unknown flag")

// ErrMissingKey is returned when a subcommand needs a reference key
var ErrMissingKey = errors.New("missing reference key: --test-name or --name is required")

// Subcommand represents the CLI subcommand
type Subcommand string

const (
	SubcommandCompare Subcommand = "compare"
	SubcommandUpdate  Subcommand = "update"
	SubcommandCapture Subcommand = "capture"
	SubcommandList    Subcommand = "list"
	SubcommandShow    Subcommand = "show"
	SubcommandVerify  Subcommand = "verify"
	SubcommandDelete  Subcommand = "delete"
	SubcommandPrune   Subcommand = "prune"
)

var subcommands = map[string]Subcommand{
	"compare": SubcommandCompare,
	"update":  SubcommandUpdate,
	"capture": SubcommandCapture,
	"list":    SubcommandList,
	"show":    SubcommandShow,
	"verify":  SubcommandVerify,
	"delete":  SubcommandDelete,
	"prune":   SubcommandPrune,
}

// Command represents the parsed CLI input
type Command struct {
	Subcommand Subcommand
	ActualPath string // Captured file for compare and update

	// Reference key flags
	TestFile string // --test-file <path>
	TestName string // --test-name <name>
	Index    int    // --index <n>, defaults to 1
	Name     string // --name <file name>
	Renderer string // --renderer <name>
	Platform string // --platform <name>
	Kind     string // --kind image|text, otherwise detected

	// Comparison flags
	MaxDiffPixels   *int          // --max-diff-pixels <n>
	MaxDiffRatio    *float64      // --max-diff-ratio <r>
	Masks           []mask.Region // --mask x,y,w,h (repeatable)
	Normalize       []string      // --normalize <preset> (repeatable)
	UpdateSnapshots bool          // --update-snapshots

	// Capture flags
	URL           string        // --url <url>
	Selector      string        // --selector <css>, captures text when set with --text
	CaptureText   bool          // --text
	FullPage      bool          // --full-page
	StylePath     string        // --style <css file>
	MaskSelectors []string      // --mask-selector <css> (repeatable)
	Browser       string        // --browser chromium|firefox|webkit
	Timeout       time.Duration // --timeout <duration>

	// Store flags
	ConfigPath  string        // --config <path>
	SnapshotDir string        // --snapshot-dir <path>
	OutputDir   string        // --output-dir <path>
	Store       string        // --store fs|sqlite|redis
	MetricsFile string        // --metrics-file <path>
	OlderThan   time.Duration // --older-than <duration>, prune only
	OutPath     string        // --out <path>, show only

	// Output flags
	CIMode     bool // --ci
	JSONOutput bool // --json
	Verbose    bool // --verbose
}

// HasKey reports whether key flags were given.
func (c Command) HasKey() bool {
	return c.TestName != "" || c.Name != ""
}

// ParseArgs parses CLI arguments into a Command.
// It expects args to be os.Args[1:] (excluding the program name).
func ParseArgs(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, ErrNoSubcommand
	}

	sub, ok := subcommands[args[0]]
	if !ok {
		return Command{}, ErrNoSubcommand
	}

	cmd := Command{
		Subcommand: sub,
		Index:      1,
	}

	var positional []string
	i := 1 // Start after subcommand

	for i < len(args) {
		arg := args[i]

		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			i++
			continue
		}

		flagName := strings.TrimPrefix(arg, "--")
		inline, hasInline := "", false
		if name, value, found := strings.Cut(flagName, "="); found {
			flagName, inline, hasInline = name, value, true
		}

		// value consumes the flag's argument, inline or next.
		value := func() (string, error) {
			if hasInline {
				return inline, nil
			}
			if i+1 >= len(args) {
				return "", fmt.Errorf("%w: --%s", ErrMissingFlagValue, flagName)
			}
			i++
			return args[i], nil
		}

		var err error
		switch flagName {
		case "test-file":
			cmd.TestFile, err = value()
		case "test-name":
			cmd.TestName, err = value()
		case "index":
			cmd.Index, err = intValue(flagName, value)
		case "name":
			cmd.Name, err = value()
		case "renderer":
			cmd.Renderer, err = value()
		case "platform":
			cmd.Platform, err = value()
		case "kind":
			cmd.Kind, err = value()
			if err == nil && cmd.Kind != "image" && cmd.Kind != "text" {
				err = fmt.Errorf("%w: --kind must be image or text, got %q", ErrInvalidFlagValue, cmd.Kind)
			}
		case "max-diff-pixels":
			var n int
			n, err = intValue(flagName, value)
			cmd.MaxDiffPixels = &n
		case "max-diff-ratio":
			var s string
			if s, err = value(); err == nil {
				var r float64
				r, err = strconv.ParseFloat(s, 64)
				if err != nil {
					err = fmt.Errorf("%w: --%s %q", ErrInvalidFlagValue, flagName, s)
				}
				cmd.MaxDiffRatio = &r
			}
		case "mask":
			var s string
			if s, err = value(); err == nil {
				var r mask.Region
				if r, err = mask.ParseRegion(s); err != nil {
					err = fmt.Errorf("%w: --mask: %v", ErrInvalidFlagValue, err)
				}
				cmd.Masks = append(cmd.Masks, r)
			}
		case "normalize":
			var s string
			s, err = value()
			cmd.Normalize = append(cmd.Normalize, s)
		case "update-snapshots", "u":
			cmd.UpdateSnapshots = true
		case "url":
			cmd.URL, err = value()
		case "selector":
			cmd.Selector, err = value()
		case "text":
			cmd.CaptureText = true
		case "full-page":
			cmd.FullPage = true
		case "style":
			cmd.StylePath, err = value()
		case "mask-selector":
			var s string
			s, err = value()
			cmd.MaskSelectors = append(cmd.MaskSelectors, s)
		case "browser":
			cmd.Browser, err = value()
		case "timeout":
			cmd.Timeout, err = durationValue(flagName, value)
		case "config":
			cmd.ConfigPath, err = value()
		case "snapshot-dir":
			cmd.SnapshotDir, err = value()
		case "output-dir":
			cmd.OutputDir, err = value()
		case "store":
			cmd.Store, err = value()
		case "metrics-file":
			cmd.MetricsFile, err = value()
		case "older-than":
			cmd.OlderThan, err = durationValue(flagName, value)
		case "out":
			cmd.OutPath, err = value()
		case "ci":
			cmd.CIMode = true
		case "json":
			cmd.JSONOutput = true
		case "verbose", "v":
			cmd.Verbose = true
		default:
			err = fmt.Errorf("%w: --%s", ErrUnknownFlag, flagName)
		}
		if err != nil {
			return Command{}, err
		}
		i++
	}

	switch cmd.Subcommand {
	case SubcommandCompare, SubcommandUpdate:
		if len(positional) == 0 {
			return Command{}, ErrNoActual
		}
		cmd.ActualPath = positional[0]
		positional = positional[1:]
		if cmd.Subcommand == SubcommandUpdate {
			cmd.UpdateSnapshots = true
		}
		if !cmd.HasKey() {
			return Command{}, ErrMissingKey
		}
	case SubcommandCapture:
		if cmd.URL == "" {
			return Command{}, fmt.Errorf("%w: --url", ErrMissingFlagValue)
		}
		if !cmd.HasKey() {
			return Command{}, ErrMissingKey
		}
	case SubcommandShow, SubcommandVerify, SubcommandDelete:
		if !cmd.HasKey() {
			return Command{}, ErrMissingKey
		}
	case SubcommandPrune:
		if cmd.OlderThan <= 0 {
			return Command{}, fmt.Errorf("%w: --older-than must be a positive duration", ErrMissingFlagValue)
		}
	}

	if len(positional) > 0 {
		return Command{}, fmt.Errorf("%w: unexpected argument %q", ErrInvalidFlagValue, positional[0])
	}
	if cmd.Index < 1 {
		return Command{}, fmt.Errorf("%w: --index must be at least 1", ErrInvalidFlagValue)
	}

	return cmd, nil
}

func intValue(flag string, value func() (string, error)) (int, error) {
	s, err := value()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: --%s %q", ErrInvalidFlagValue, flag, s)
	}
	return n, nil
}

// durationValue accepts Go durations plus a "d" suffix for days.
func durationValue(flag string, value func() (string, error)) (time.Duration, error) {
	s, err := value()
	if err != nil {
		return 0, err
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: --%s %q", ErrInvalidFlagValue, flag, s)
	}
	return d, nil
}

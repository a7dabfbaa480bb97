package mask

import (
	"fmt"
	"sort"
)

// presets are named rule sets for common nondeterministic text.
var presets = map[string][]Rule{
	// ISO 8601 and common log timestamps: 2024-12-13T10:30:45Z, 2024-12-13 10:30:45
	"timestamps": {
		{Pattern: `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`, Replace: "<TIMESTAMP>"},
		{Pattern: `\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}:\d{2}(\.\d+)?`, Replace: "<TIMESTAMP>"},
		{Pattern: `\b1[0-9]{9,12}\b`, Replace: "<UNIX_TS>"},
	},
	// took 1.234s, 123ms
	"durations": {
		{Pattern: `\b\d+(\.\d+)?\s*(ms|s|seconds?|minutes?)\b`, Replace: "<DURATION>"},
	},
	// 0x7fff5fbff8c0
	"addresses": {
		{Pattern: `0x[0-9a-fA-F]{8,16}`, Replace: "<ADDR>"},
	},
	"uuids": {
		{Pattern: `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`, Replace: "<UUID>"},
	},
}

// Preset returns a copy of the named rule set.
func Preset(name string) ([]Rule, error) {
	rules, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown normalize preset %q (known: %v)", name, PresetNames())
	}
	return append([]Rule(nil), rules...), nil
}

// PresetNames lists the available presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

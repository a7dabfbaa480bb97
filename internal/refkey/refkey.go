// Package refkey derives the identity and storage location of a stored
// reference from the test that produced it and the environment it ran in.
//
// Two keys with the same field values are the same key regardless of how
// they were built: identity is the canonical JSON of the fields, with
// member names sorted and no whitespace. File names are sanitized, so
// distinct keys can share a location; backends record the fingerprint to
// detect that.
package refkey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"snapdiff/internal/artifact"
)

// ErrInvalidKey is returned when a key cannot locate a reference.
var ErrInvalidKey = errors.New("invalid reference key")

// Key identifies exactly one stored reference.
type Key struct {
	TestFile string        `json:"testFile"`       // e.g. "example.spec.ts"
	TestName string        `json:"testName"`       // e.g. "example test"
	Index    int           `json:"index"`          // 1-based position within the test
	Renderer string        `json:"renderer"`       // e.g. "chromium"
	Platform string        `json:"platform"`       // e.g. "darwin"
	Name     string        `json:"name,omitempty"` // explicit snapshot name, e.g. "hero.txt"
	Kind     artifact.Kind `json:"kind,omitempty"` // decides the extension when Name has none
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Slug makes s safe as part of a file name. Case is kept; every run of
// characters outside [A-Za-z0-9._-] becomes a single hyphen, and leading
// dots and hyphens are dropped so the file is never hidden.
func Slug(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.TrimLeft(s, ".-")
	return strings.TrimRight(s, "-")
}

// CurrentPlatform returns the platform name of the running process, using
// the names snapshot files conventionally carry (darwin, linux, win32).
func CurrentPlatform() string {
	if runtime.GOOS == "windows" {
		return "win32"
	}
	return runtime.GOOS
}

// Validate checks the key can produce a location.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Name) == "" && strings.TrimSpace(k.TestName) == "" {
		return fmt.Errorf("%w: test name or explicit name is required", ErrInvalidKey)
	}
	if k.Name == "" && k.Index < 1 {
		return fmt.Errorf("%w: index must be at least 1", ErrInvalidKey)
	}
	if strings.Contains(k.Name, "/") || strings.Contains(k.Name, "\\") {
		return fmt.Errorf("%w: name must not contain path separators", ErrInvalidKey)
	}
	return nil
}

// Canonical returns the canonical JSON form of the key.
// Keys are sorted alphabetically, no whitespace. The test file contributes
// its base name, as it does to the location.
func (k Key) Canonical() []byte {
	fields := map[string]string{
		"index":    strconv.Itoa(k.Index),
		"platform": k.Platform,
		"renderer": k.Renderer,
		"testFile": k.testFile(),
		"testName": k.TestName,
	}
	if k.Name != "" {
		fields["name"] = k.Name
	}

	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)

	result := []byte("{")
	for i, n := range names {
		if i > 0 {
			result = append(result, ',')
		}
		nameJSON, _ := json.Marshal(n)
		valueJSON, _ := json.Marshal(fields[n])
		result = append(result, nameJSON...)
		result = append(result, ':')
		result = append(result, valueJSON...)
	}
	result = append(result, '}')
	return result
}

// Fingerprint hashes the canonical form. Returns sha256:hex. Kind is not
// part of it: an unnamed key names one reference whatever it holds.
func (k Key) Fingerprint() string {
	hash := sha256.Sum256(k.Canonical())
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Ext returns the extension of the reference file: the explicit name's
// extension when it has one, otherwise the one implied by Kind.
func (k Key) Ext() string {
	if ext := path.Ext(k.Name); ext != "" {
		return strings.ToLower(ext)
	}
	return artifact.ExtensionFor(k.Kind)
}

// HasExtension reports whether the explicit name fixes the file extension.
func (k Key) HasExtension() bool {
	return path.Ext(k.Name) != ""
}

// ExpectedKind is the artifact kind the reference file holds.
func (k Key) ExpectedKind() artifact.Kind {
	if k.HasExtension() {
		return artifact.KindForExtension(path.Ext(k.Name))
	}
	if k.Kind == "" {
		return artifact.KindImage
	}
	return k.Kind
}

// Stem is the file name without environment suffixes or extension.
func (k Key) Stem() string {
	if k.Name != "" {
		return Slug(strings.TrimSuffix(k.Name, path.Ext(k.Name)))
	}
	return Slug(k.TestName) + "-" + strconv.Itoa(k.Index)
}

// FileName returns <stem>-<renderer>-<platform><ext>. Empty environment
// parts are omitted.
func (k Key) FileName() string {
	parts := []string{k.Stem()}
	if r := Slug(k.Renderer); r != "" {
		parts = append(parts, r)
	}
	if p := Slug(k.Platform); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "-") + k.Ext()
}

// Dir returns the snapshot directory for the key's test file.
func (k Key) Dir() string {
	if base := k.testFile(); base != "" {
		return base + "-snapshots"
	}
	return "snapshots"
}

func (k Key) testFile() string {
	base := path.Base(strings.ReplaceAll(k.TestFile, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// Location is the slash-separated path of the reference relative to a
// snapshot root, e.g. "example.spec.ts-snapshots/example-test-1-chromium-darwin.png".
func (k Key) Location() string {
	return path.Join(k.Dir(), k.FileName())
}

// WithKind returns a copy of k with Kind set when it was empty.
func (k Key) WithKind(kind artifact.Kind) Key {
	if k.Kind == "" {
		k.Kind = kind
	}
	return k
}

// String returns the location, which is how keys are shown to users.
func (k Key) String() string {
	return k.Location()
}

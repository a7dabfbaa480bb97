package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteToFile writes the artifact data to the specified path, creating parent directories if needed.
func (a Artifact) WriteToFile(path string) error {
	// Create parent directories if needed
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, a.Data, 0644)
}

// ReadFile loads an artifact from disk. kind may be empty to detect it
// from the content.
func ReadFile(path string, kind Kind) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	if kind == "" {
		a, err := Detect(data)
		if err != nil {
			return Artifact{}, fmt.Errorf("%s: %w", path, err)
		}
		return a, nil
	}
	a, err := New(kind, data)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

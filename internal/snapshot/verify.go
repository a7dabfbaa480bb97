package snapshot

import (
	"context"
	"errors"
	"fmt"

	"snapdiff/internal/artifact"
	"snapdiff/internal/refkey"
)

// VerifyResult contains the result of reference verification.
type VerifyResult struct {
	Location string `json:"location"`
	Valid    bool   `json:"valid"`             // Whether the reference is usable for comparison
	Missing  bool   `json:"missing,omitempty"` // No reference is stored
	Corrupt  bool   `json:"corrupt,omitempty"` // Stored bytes do not decode as their kind
	Checksum string `json:"checksum,omitempty"`
	Message  string `json:"message,omitempty"` // Details about the problem
}

// Verify checks that the reference for key exists, decodes, and has the
// kind the key's name implies. Only failures to reach the backend are
// returned as errors.
func Verify(ctx context.Context, s Store, key refkey.Key) (VerifyResult, error) {
	result := VerifyResult{Location: s.Location(key), Valid: true}

	a, err := s.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		result.Valid = false
		result.Missing = true
		result.Message = "no reference stored"
		return result, nil
	case errors.Is(err, ErrCorrupt):
		result.Valid = false
		result.Corrupt = true
		result.Message = err.Error()
		return result, nil
	case errors.Is(err, ErrKeyConflict):
		result.Valid = false
		result.Message = err.Error()
		return result, nil
	case err != nil:
		return VerifyResult{}, err
	}

	result.Checksum = a.Checksum()

	if want := key.ExpectedKind(); a.Kind != want {
		result.Valid = false
		result.Message = fmt.Sprintf("stored %s reference, name implies %s", a.Kind, want)
		return result, nil
	}

	if a.Kind == artifact.KindImage {
		if _, err := a.Decode(); err != nil {
			result.Valid = false
			result.Corrupt = true
			result.Message = err.Error()
		}
	}

	return result, nil
}

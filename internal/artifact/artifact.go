// Package artifact models captured outputs (screenshots and text) that are
// compared against stored references.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrInvalidArtifact is returned when artifact bytes cannot be interpreted.
var ErrInvalidArtifact = errors.New("invalid artifact")

// Kind is the content kind of an artifact.
type Kind string

const (
	KindImage Kind = "image"
	KindText  Kind = "text"
)

// Artifact is a captured unit of output. Image data is always PNG encoded.
type Artifact struct {
	Kind   Kind   `json:"kind"`
	Data   []byte `json:"-"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// FromText creates a text artifact.
func FromText(s string) Artifact {
	return Artifact{Kind: KindText, Data: []byte(s)}
}

// FromImage encodes img as PNG and wraps it in an artifact.
func FromImage(img image.Image) (Artifact, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Artifact{}, fmt.Errorf("encode png: %w", err)
	}
	b := img.Bounds()
	return Artifact{
		Kind:   KindImage,
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// FromImageBytes reads an encoded image (PNG, JPEG, GIF, BMP, WebP).
// Non-PNG input is re-encoded to PNG so stored references share one format.
func FromImageBytes(data []byte) (Artifact, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if format == "png" {
		return Artifact{Kind: KindImage, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return FromImage(img)
}

// New builds an artifact of the given kind from raw bytes.
func New(kind Kind, data []byte) (Artifact, error) {
	switch kind {
	case KindImage:
		return FromImageBytes(data)
	case KindText:
		return Artifact{Kind: KindText, Data: data}, nil
	default:
		return Artifact{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, kind)
	}
}

// Detect infers the kind from content: decodable images first, then valid
// UTF-8 text.
func Detect(data []byte) (Artifact, error) {
	if a, err := FromImageBytes(data); err == nil {
		return a, nil
	}
	if utf8.Valid(data) {
		return Artifact{Kind: KindText, Data: data}, nil
	}
	return Artifact{}, fmt.Errorf("%w: neither an image nor UTF-8 text", ErrInvalidArtifact)
}

// KindForExtension maps a file extension to an artifact kind.
// Unknown extensions are treated as text.
func KindForExtension(ext string) Kind {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp":
		return KindImage
	default:
		return KindText
	}
}

// ExtensionFor returns the default file extension for a kind.
func ExtensionFor(kind Kind) string {
	if kind == KindText {
		return ".txt"
	}
	return ".png"
}

// Extension returns the file extension references of this artifact use.
func (a Artifact) Extension() string {
	return ExtensionFor(a.Kind)
}

// Text returns the artifact data as a string.
func (a Artifact) Text() string {
	return string(a.Data)
}

// Pixels returns the number of pixels for image artifacts.
func (a Artifact) Pixels() int {
	return a.Width * a.Height
}

// Decode decodes image data into an NRGBA image with origin (0,0).
func (a Artifact) Decode() (*image.NRGBA, error) {
	if a.Kind != KindImage {
		return nil, fmt.Errorf("%w: %s artifact has no pixels", ErrInvalidArtifact, a.Kind)
	}
	img, _, err := image.Decode(bytes.NewReader(a.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n, nil
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}

// Checksum computes the SHA-256 of the artifact data.
// Returns the hash prefixed with "sha256:".
func (a Artifact) Checksum() string {
	hash := sha256.Sum256(a.Data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Equal reports whether two artifacts have the same kind and bytes.
func (a Artifact) Equal(b Artifact) bool {
	return a.Kind == b.Kind && bytes.Equal(a.Data, b.Data)
}

// ReadKind returns the kind implied by a path's extension.
func ReadKind(path string) Kind {
	return KindForExtension(filepath.Ext(path))
}

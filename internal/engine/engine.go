// Package engine holds the compression capability the session controller
// drives. The controller treats it as opaque: bytes and settings in, bytes
// out, with progress reported along the way.
package engine

import (
	"context"
	"errors"

	"imgcompress/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrDecode            = errors.New("failed to decode image")
	ErrEncode            = errors.New("failed to encode image")
)

// ProgressFunc receives percentages in [0,100]. Values are non-decreasing
// within one Encode call.
type ProgressFunc func(percent int)

type Source struct {
	Name     string
	MimeType string
	Content  []byte
}

type Options struct {
	Format           models.Format
	Quality          int   // 1..100, ignored for lossless targets
	MaxWidthOrHeight int   // 0 keeps the original dimensions
	MaxSizeBytes     int64 // 0 disables the size budget
}

type Encoded struct {
	Content  []byte
	MimeType string
	Size     int64
}

type Engine interface {
	// Encode must either return a complete result or an error, never both.
	Encode(ctx context.Context, src Source, opts Options, onProgress ProgressFunc) (*Encoded, error)
}

// FormatChecker is implemented by engines that can tell ahead of time
// whether a target format is available.
type FormatChecker interface {
	Supports(f models.Format) bool
}

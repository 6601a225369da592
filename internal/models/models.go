// internal/models/models.go
package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"imgcompress/internal/storage"
)

var (
	ErrInvalidFormat  = errors.New("invalid format")
	ErrInvalidQuality = errors.New("quality must be between 1 and 100")
)

const (
	MinQuality     = 1
	MaxQuality     = 100
	DefaultQuality = 80
)

// Format is the target encoding for a compression attempt.
type Format string

const (
	FormatAuto Format = "auto" // keep the original format
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

// Formats lists every selectable format in display order.
var Formats = []Format{FormatAuto, FormatJPEG, FormatPNG, FormatWebP, FormatAVIF}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatJPEG, FormatPNG, FormatWebP, FormatAVIF:
		return f, nil
	case "jpeg":
		return FormatJPEG, nil
	case "":
		return FormatAuto, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

func (f Format) Valid() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// Settings are the user-tunable parameters for one asset.
type Settings struct {
	Format  Format `json:"format"`
	Quality int    `json:"quality"`
}

func DefaultSettings() Settings {
	return Settings{Format: FormatAuto, Quality: DefaultQuality}
}

func (s Settings) Validate() error {
	const op = "models.Settings.Validate"
	if !s.Format.Valid() {
		return fmt.Errorf("%s: %w: %q", op, ErrInvalidFormat, s.Format)
	}
	if s.Quality < MinQuality || s.Quality > MaxQuality {
		return fmt.Errorf("%s: %w (got %d)", op, ErrInvalidQuality, s.Quality)
	}
	return nil
}

// Asset is one user-selected image, alive until it is removed or the
// session ends.
type Asset struct {
	ID           uuid.UUID
	Name         string
	MimeType     string
	Content      []byte
	OriginalSize int64
	Preview      storage.Handle // released on teardown
}

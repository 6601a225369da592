package models

import (
	"path/filepath"
	"strings"
)

// Resolve maps auto onto a concrete format derived from the original MIME
// type, falling back to JPEG. Concrete formats are returned unchanged.
func (f Format) Resolve(originalType string) Format {
	if f != FormatAuto {
		return f
	}
	switch {
	case strings.Contains(originalType, "png"):
		return FormatPNG
	case strings.Contains(originalType, "webp"):
		return FormatWebP
	case strings.Contains(originalType, "avif"):
		return FormatAVIF
	}
	return FormatJPEG
}

// MimeType returns the MIME type produced for f given the original type.
func (f Format) MimeType(originalType string) string {
	switch f.Resolve(originalType) {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	}
	return "image/jpeg"
}

// Extension returns the file extension (without dot) for f. Auto keeps the
// original extension.
func (f Format) Extension(originalName string) string {
	if f != FormatAuto && f.Valid() {
		return string(f)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))
	if ext == "" {
		return "jpg"
	}
	return ext
}

// Lossless reports whether quality has no effect on the encoded output.
func (f Format) Lossless() bool {
	return f == FormatPNG
}

// OutputFileName swaps the extension of originalName for the one f produces.
func OutputFileName(originalName string, f Format) string {
	base := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	if base == "" {
		base = "image"
	}
	return base + "." + f.Extension(originalName)
}

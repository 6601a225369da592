package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp"

	"imgcompress/internal/models"
)

const (
	sizeBudgetStep  = 10
	sizeBudgetFloor = 10
)

// ImagingEngine decodes and resizes with disintegration/imaging. JPEG and
// PNG are encoded by imaging, WebP and AVIF by the gen2brain WASM codecs.
type ImagingEngine struct{}

func NewImagingEngine() *ImagingEngine {
	return &ImagingEngine{}
}

func (e *ImagingEngine) Supports(f models.Format) bool {
	switch f {
	case models.FormatAuto, models.FormatJPEG, models.FormatPNG, models.FormatWebP, models.FormatAVIF:
		return true
	}
	return false
}

func (e *ImagingEngine) Encode(ctx context.Context, src Source, opts Options, onProgress ProgressFunc) (*Encoded, error) {
	const op = "engine.ImagingEngine.Encode"

	report := progressReporter(onProgress)
	report(0)

	target := opts.Format.Resolve(src.MimeType)
	if !e.Supports(target) {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnsupportedFormat, target)
	}

	img, err := imaging.Decode(bytes.NewReader(src.Content), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrDecode, err)
	}
	report(40)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if m := opts.MaxWidthOrHeight; m > 0 {
		b := img.Bounds()
		if b.Dx() > m || b.Dy() > m {
			img = imaging.Fit(img, m, m, imaging.Lanczos)
		}
	}
	report(60)

	quality := clampQuality(opts.Quality)
	out, err := encode(img, target, quality)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrEncode, err)
	}

	// Lossless PNG cannot trade quality for bytes.
	for !target.Lossless() && opts.MaxSizeBytes > 0 &&
		int64(len(out)) > opts.MaxSizeBytes && quality > sizeBudgetFloor {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		quality -= sizeBudgetStep
		if quality < sizeBudgetFloor {
			quality = sizeBudgetFloor
		}
		if out, err = encode(img, target, quality); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrEncode, err)
		}
		report(90 - quality/sizeBudgetStep)
	}
	report(90)

	res := &Encoded{
		Content:  out,
		MimeType: target.MimeType(src.MimeType),
		Size:     int64(len(out)),
	}
	report(100)
	return res, nil
}

func encode(img image.Image, f models.Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case models.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(pngLevel(quality)))
	case models.FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: quality})
	case models.FormatAVIF:
		err = avif.Encode(&buf, img, avif.Options{Quality: quality, QualityAlpha: quality, Speed: avifSpeed})
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pngLevel spends more effort on smaller output as quality drops; PNG stays
// lossless either way.
func pngLevel(quality int) png.CompressionLevel {
	switch {
	case quality <= 50:
		return png.BestCompression
	case quality <= 90:
		return png.DefaultCompression
	}
	return png.BestSpeed
}

// avifSpeed favours latency; 10 is fastest.
const avifSpeed = 8

func clampQuality(q int) int {
	if q < models.MinQuality {
		return models.MinQuality
	}
	if q > models.MaxQuality {
		return models.MaxQuality
	}
	return q
}

// progressReporter drops nil callbacks and values that would move backwards.
func progressReporter(fn ProgressFunc) ProgressFunc {
	last := -1
	return func(p int) {
		if fn == nil || p <= last {
			return
		}
		last = p
		fn(p)
	}
}

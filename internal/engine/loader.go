package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"imgcompress/internal/models"
)

// Factory builds the underlying engine. It runs at most once per successful
// load.
type Factory func(ctx context.Context) (Engine, error)

// Loader is the single memoized handle to the engine. The first Load (or
// Preload) initialises it; a failed load leaves the handle empty so the
// next call retries.
type Loader struct {
	factory Factory
	log     zerolog.Logger

	mu     sync.Mutex
	loaded Engine
}

func NewLoader(factory Factory, log zerolog.Logger) *Loader {
	return &Loader{factory: factory, log: log}
}

func (l *Loader) Load(ctx context.Context) (Engine, error) {
	const op = "engine.Loader.Load"

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded != nil {
		return l.loaded, nil
	}
	eng, err := l.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l.loaded = eng
	l.log.Debug().Msg("compression engine loaded")
	return eng, nil
}

// Preload warms the handle in the background path. Errors are logged and
// the handle stays reset.
func (l *Loader) Preload(ctx context.Context) {
	if _, err := l.Load(ctx); err != nil {
		l.log.Warn().Err(err).Msg("failed to preload compression engine")
	}
}

func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded != nil
}

func (l *Loader) Encode(ctx context.Context, src Source, opts Options, onProgress ProgressFunc) (*Encoded, error) {
	eng, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return eng.Encode(ctx, src, opts, onProgress)
}

// Supports loads the engine if needed; an engine that cannot load supports
// nothing.
func (l *Loader) Supports(f models.Format) bool {
	eng, err := l.Load(context.Background())
	if err != nil {
		return false
	}
	if fc, ok := eng.(FormatChecker); ok {
		return fc.Supports(f)
	}
	return true
}

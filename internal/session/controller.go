// Package session turns a stream of settings changes for one image into a
// disciplined series of compression attempts.
//
// Superseded work is never aborted. Every change bumps a generation counter
// and anything that completes under an older generation is discarded, with
// its transient resource released on arrival.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"imgcompress/internal/engine"
	"imgcompress/internal/models"
	"imgcompress/internal/storage"
)

const DefaultQuietPeriod = 250 * time.Millisecond

var (
	ErrClosed         = errors.New("session closed")
	ErrNoResult       = errors.New("no compressed result available")
	ErrResultOutdated = errors.New("result does not match pending settings")
)

// Resources acquires and releases transient handles.
type Resources interface {
	Acquire(owner string, content []byte, mimeType string) storage.Handle
	Release(h storage.Handle) error
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

func WithQuietPeriod(d time.Duration) Option {
	return func(ctl *Controller) { ctl.quiet = d }
}

// WithEngineTimeout bounds each engine call. Zero, the default, waits for
// the engine indefinitely.
func WithEngineTimeout(d time.Duration) Option {
	return func(ctl *Controller) { ctl.timeout = d }
}

func WithLimits(maxWidthOrHeight int, maxSizeBytes int64) Option {
	return func(ctl *Controller) {
		ctl.maxWidthOrHeight = maxWidthOrHeight
		ctl.maxSizeBytes = maxSizeBytes
	}
}

func WithObserver(o Observer) Option { return func(ctl *Controller) { ctl.observer = o } }

func WithLogger(l zerolog.Logger) Option { return func(ctl *Controller) { ctl.log = l } }

type Controller struct {
	asset            *models.Asset
	engine           engine.Engine
	res              Resources
	clock            clock.Clock
	quiet            time.Duration
	timeout          time.Duration
	maxWidthOrHeight int
	maxSizeBytes     int64
	observer         Observer
	log              zerolog.Logger

	mu         sync.Mutex
	generation uint64
	settings   models.Settings
	phase      Phase
	progress   int
	errMsg     string
	result     *Result
	timer      *clock.Timer
	closed     bool
}

// NewController takes ownership of asset.Preview.
func NewController(asset *models.Asset, eng engine.Engine, res Resources, opts ...Option) *Controller {
	c := &Controller{
		asset:    asset,
		engine:   eng,
		res:      res,
		clock:    clock.New(),
		quiet:    DefaultQuietPeriod,
		log:      zerolog.Nop(),
		settings: models.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("asset", asset.ID.String()).Logger()
	return c
}

func (c *Controller) Asset() *models.Asset { return c.asset }

// OnSettingsChanged marks the controller pending and restarts the quiet
// period. The engine is only called once the period elapses without
// another change.
func (c *Controller) OnSettingsChanged(s models.Settings) error {
	const op = "session.OnSettingsChanged"
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}

	c.generation++
	gen := c.generation
	c.settings = s
	c.phase = PhasePending
	c.errMsg = ""
	c.progress = 0

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(c.quiet, func() { c.issueRequest(gen, s) })

	c.log.Debug().Uint64("generation", gen).Str("format", string(s.Format)).Int("quality", s.Quality).
		Msg("settings changed, waiting for quiet period")
	c.notifyLocked()
	return nil
}

func (c *Controller) issueRequest(gen uint64, s models.Settings) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		// A later change already restarted the quiet period.
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.phase = PhaseInFlight
	c.notifyLocked()
	src := engine.Source{Name: c.asset.Name, MimeType: c.asset.MimeType, Content: c.asset.Content}
	opts := engine.Options{
		Format:           s.Format,
		Quality:          s.Quality,
		MaxWidthOrHeight: c.maxWidthOrHeight,
		MaxSizeBytes:     c.maxSizeBytes,
	}
	c.mu.Unlock()

	c.log.Debug().Uint64("generation", gen).Msg("issuing compression request")

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	enc, err := c.engine.Encode(ctx, src, opts, func(p int) { c.onProgress(gen, p) })
	if err == nil && enc == nil {
		err = fmt.Errorf("%w: engine returned no result", engine.ErrEncode)
	}
	if err != nil {
		c.fail(gen, err)
		return
	}
	c.complete(gen, s, enc)
}

func (c *Controller) onProgress(gen uint64, p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.phase != PhaseInFlight {
		return
	}
	if p > 100 {
		p = 100
	}
	if p <= c.progress {
		return
	}
	c.progress = p
	c.notifyLocked()
}

func (c *Controller) complete(gen uint64, s models.Settings, enc *engine.Encoded) {
	target := s.Format.Resolve(c.asset.MimeType)
	h := c.res.Acquire(c.asset.ID.String()+"/result", enc.Content, enc.MimeType)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		c.log.Debug().Uint64("generation", gen).Uint64("current", c.generation).
			Msg("discarding stale compression result")
		c.release(h)
		return
	}

	prev := c.result
	c.result = &Result{
		Handle:     h,
		Content:    enc.Content,
		MimeType:   enc.MimeType,
		Size:       enc.Size,
		FileName:   models.OutputFileName(c.asset.Name, target),
		Settings:   s,
		Generation: gen,
	}
	if prev != nil && prev.Handle != h {
		c.release(prev.Handle)
	}
	c.progress = 100
	c.phase = PhaseIdle
	c.errMsg = ""

	c.log.Info().Uint64("generation", gen).Int64("original_size", c.asset.OriginalSize).
		Int64("size", enc.Size).Msg("compression finished")
	c.notifyLocked()
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		c.log.Debug().Err(err).Uint64("generation", gen).Msg("dropping stale compression failure")
		return
	}
	c.errMsg = err.Error()
	c.progress = 0
	c.phase = PhaseFailed

	c.log.Warn().Err(err).Uint64("generation", gen).Msg("compression failed")
	c.notifyLocked()
}

// Teardown releases the preview and the accepted result and stops any
// pending timer. Engine work already running is left alone; its output is
// discarded when it arrives.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.generation++

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.asset.Preview != "" {
		c.release(c.asset.Preview)
		c.asset.Preview = ""
	}
	if c.result != nil {
		c.release(c.result.Handle)
		c.result = nil
	}
	c.phase = PhaseIdle
	c.progress = 0
	c.errMsg = ""
	c.notifyLocked()
	c.log.Debug().Msg("session torn down")
}

// Download exposes the accepted result unless a request for different
// settings is still pending or running.
func (c *Controller) Download() (*Download, error) {
	const op = "session.Download"

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if c.result == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoResult)
	}
	busy := c.phase == PhasePending || c.phase == PhaseInFlight
	if busy && c.settings != c.result.Settings {
		return nil, fmt.Errorf("%s: %w", op, ErrResultOutdated)
	}
	return &Download{
		FileName: c.result.FileName,
		MimeType: c.result.MimeType,
		Content:  c.result.Content,
		Handle:   c.result.Handle,
	}, nil
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{
		AssetID:      c.asset.ID,
		Name:         c.asset.Name,
		OriginalSize: c.asset.OriginalSize,
		Preview:      c.asset.Preview,
		Phase:        c.phase,
		Progress:     c.progress,
		Error:        c.errMsg,
		Settings:     c.settings,
		Generation:   c.generation,
	}
	switch c.phase {
	case PhasePending:
		st.Status = StatusPending
	case PhaseInFlight:
		st.Status = StatusCompressing
	case PhaseFailed:
		st.Status = StatusError
	default:
		st.Status = StatusIdle
		if c.result != nil {
			st.Status = StatusReady
		}
	}
	if r := c.result; r != nil {
		pct, _ := models.ReductionPercent(c.asset.OriginalSize, r.Size)
		st.Result = &ResultInfo{
			Handle:       r.Handle,
			FileName:     r.FileName,
			MimeType:     r.MimeType,
			Size:         r.Size,
			SizeLabel:    models.FormatFileSize(r.Size),
			Reduction:    models.FormatReduction(c.asset.OriginalSize, r.Size),
			ReductionPct: pct,
			Settings:     r.Settings,
			Current:      r.Generation == c.generation,
		}
	}
	return st
}

func (c *Controller) notifyLocked() {
	if c.observer != nil {
		c.observer.OnStateChange(c.stateLocked())
	}
}

// release is best effort; revoking a dead handle is not an error worth
// surfacing.
func (c *Controller) release(h storage.Handle) {
	if err := c.res.Release(h); err != nil {
		c.log.Debug().Err(err).Str("handle", h.String()).Msg("release failed")
	}
}

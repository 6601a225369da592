package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"imgcompress/internal/engine"
	"imgcompress/internal/models"
	"imgcompress/internal/storage"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type outcome struct {
	enc *engine.Encoded
	err error
}

// engineCall is one blocked Encode invocation the test resolves by hand.
type engineCall struct {
	src      engine.Source
	opts     engine.Options
	at       time.Time
	progress engine.ProgressFunc
	done     chan outcome
}

func (c *engineCall) succeed(size int) {
	c.done <- outcome{enc: &engine.Encoded{
		Content:  make([]byte, size),
		MimeType: "image/webp",
		Size:     int64(size),
	}}
}

func (c *engineCall) fail(err error) {
	c.done <- outcome{err: err}
}

// empty resolves the call with neither a result nor an error.
func (c *engineCall) empty() {
	c.done <- outcome{}
}

type fakeEngine struct {
	clk    clock.Clock
	issued chan *engineCall

	mu    sync.Mutex
	calls []*engineCall
}

func newFakeEngine(clk clock.Clock) *fakeEngine {
	return &fakeEngine{clk: clk, issued: make(chan *engineCall, 64)}
}

func (f *fakeEngine) Encode(ctx context.Context, src engine.Source, opts engine.Options, onProgress engine.ProgressFunc) (*engine.Encoded, error) {
	c := &engineCall{src: src, opts: opts, at: f.clk.Now(), progress: onProgress, done: make(chan outcome, 1)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.issued <- c

	select {
	case o := <-c.done:
		return o.enc, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEngine) next(t *testing.T) *engineCall {
	t.Helper()
	select {
	case c := <-f.issued:
		return c
	case <-time.After(waitFor):
		t.Fatal("expected an engine call")
		return nil
	}
}

func (f *fakeEngine) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.issued:
		t.Fatalf("unexpected engine call with settings %+v", c.opts)
	case <-time.After(50 * time.Millisecond):
	}
}

// recorder keeps every state the controller publishes.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) OnStateChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type harness struct {
	ctl   *Controller
	eng   *fakeEngine
	clk   *clock.Mock
	store *storage.Storage
	rec   *recorder
}

func newHarness(t *testing.T, originalSize int, opts ...Option) *harness {
	t.Helper()
	clk := clock.NewMock()
	store := storage.NewStorage()
	eng := newFakeEngine(clk)
	rec := &recorder{}

	content := make([]byte, originalSize)
	asset := &models.Asset{
		ID:           uuid.New(),
		Name:         "photo.png",
		MimeType:     "image/png",
		Content:      content,
		OriginalSize: int64(originalSize),
	}
	asset.Preview = store.Acquire(asset.ID.String()+"/preview", content, asset.MimeType)

	opts = append([]Option{WithClock(clk), WithObserver(rec)}, opts...)
	return &harness{
		ctl:   NewController(asset, eng, store, opts...),
		eng:   eng,
		clk:   clk,
		store: store,
		rec:   rec,
	}
}

func (h *harness) change(t *testing.T, f models.Format, q int) {
	t.Helper()
	require.NoError(t, h.ctl.OnSettingsChanged(models.Settings{Format: f, Quality: q}))
}

func (h *harness) waitStatus(t *testing.T, status string) State {
	t.Helper()
	var st State
	require.Eventually(t, func() bool {
		st = h.ctl.Snapshot()
		return st.Status == status
	}, waitFor, tick)
	return st
}

// settle runs one full change -> quiet period -> success round.
func (h *harness) settle(t *testing.T, f models.Format, q, size int) {
	t.Helper()
	h.change(t, f, q)
	h.clk.Add(DefaultQuietPeriod)
	h.eng.next(t).succeed(size)
	h.waitStatus(t, StatusReady)
}

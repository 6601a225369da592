package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imgcompress/internal/engine"
	"imgcompress/internal/models"
)

var (
	ErrInvalidInput = errors.New("not an image")
	ErrNotFound     = errors.New("asset not found")
)

// Manager keeps one controller per uploaded asset. Assets never share
// state; a failing asset has no effect on the others.
type Manager struct {
	engine   engine.Engine
	res      Resources
	defaults models.Settings
	opts     []Option
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Controller
	order    []uuid.UUID
}

func NewManager(eng engine.Engine, res Resources, defaults models.Settings, log zerolog.Logger, opts ...Option) *Manager {
	return &Manager{
		engine:   eng,
		res:      res,
		defaults: defaults,
		opts:     append([]Option{WithLogger(log)}, opts...),
		log:      log,
		sessions: make(map[uuid.UUID]*Controller),
	}
}

// Add registers a new asset and kicks off its first compression with the
// default settings. Content that does not sniff as an image is rejected
// before any controller exists.
func (m *Manager) Add(name string, content []byte) (*Controller, error) {
	const op = "session.Manager.Add"

	if len(content) == 0 {
		return nil, fmt.Errorf("%s: %w: empty upload", op, ErrInvalidInput)
	}
	mime := mimetype.Detect(content).String()
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s: %w: detected %s", op, ErrInvalidInput, mime)
	}

	asset := &models.Asset{
		ID:           uuid.New(),
		Name:         name,
		MimeType:     mime,
		Content:      content,
		OriginalSize: int64(len(content)),
	}
	asset.Preview = m.res.Acquire(asset.ID.String()+"/preview", content, mime)

	ctl := NewController(asset, m.engine, m.res, m.opts...)

	m.mu.Lock()
	m.sessions[asset.ID] = ctl
	m.order = append(m.order, asset.ID)
	m.mu.Unlock()

	if err := ctl.OnSettingsChanged(m.defaults); err != nil {
		m.Remove(asset.ID)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.log.Info().Str("asset", asset.ID.String()).Str("name", name).Str("mime", mime).
		Int64("size", asset.OriginalSize).Msg("asset added")
	return ctl, nil
}

func (m *Manager) Get(id uuid.UUID) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctl, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session.Manager.Get: %w: %s", ErrNotFound, id)
	}
	return ctl, nil
}

// List returns snapshots in upload order.
func (m *Manager) List() []State {
	m.mu.RLock()
	ctls := make([]*Controller, 0, len(m.order))
	for _, id := range m.order {
		ctls = append(ctls, m.sessions[id])
	}
	m.mu.RUnlock()

	states := make([]State, 0, len(ctls))
	for _, ctl := range ctls {
		states = append(states, ctl.Snapshot())
	}
	return states
}

func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	ctl, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		for i, other := range m.order {
			if other == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session.Manager.Remove: %w: %s", ErrNotFound, id)
	}
	ctl.Teardown()
	m.log.Info().Str("asset", id.String()).Msg("asset removed")
	return nil
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	ctls := m.sessions
	m.sessions = make(map[uuid.UUID]*Controller)
	m.order = nil
	m.mu.Unlock()

	for _, ctl := range ctls {
		ctl.Teardown()
	}
}

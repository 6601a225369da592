// internal/storage/storage.go
package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const handlePrefix = "blob:"

var ErrUnknownHandle = errors.New("unknown or revoked handle")

// Handle is an opaque revocable reference to in-memory content, the
// server-side counterpart of a browser object URL.
type Handle string

func (h Handle) String() string { return string(h) }

// ParseHandle accepts either "blob:<uuid>" or the bare uuid.
func ParseHandle(s string) (Handle, error) {
	const op = "storage.ParseHandle"
	id, err := uuid.Parse(strings.TrimPrefix(s, handlePrefix))
	if err != nil {
		return "", fmt.Errorf("%s: %v", op, err)
	}
	return Handle(handlePrefix + id.String()), nil
}

type Blob struct {
	Owner    string
	MimeType string
	Content  []byte
}

type Stats struct {
	Acquired        int
	Released        int
	Live            int
	InvalidReleases int
}

// Storage tracks every live handle. Each handle is released at most once;
// a repeated release reports ErrUnknownHandle and is counted but otherwise
// has no effect.
type Storage struct {
	mu    sync.RWMutex
	blobs map[Handle]*Blob
	stats Stats
}

func NewStorage() *Storage {
	return &Storage{blobs: make(map[Handle]*Blob)}
}

func (s *Storage) Acquire(owner string, content []byte, mimeType string) Handle {
	h := Handle(handlePrefix + uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[h] = &Blob{Owner: owner, MimeType: mimeType, Content: content}
	s.stats.Acquired++
	return h
}

func (s *Storage) Release(h Handle) error {
	const op = "storage.Release"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[h]; !ok {
		s.stats.InvalidReleases++
		return fmt.Errorf("%s: %w: %q", op, ErrUnknownHandle, h)
	}
	delete(s.blobs, h)
	s.stats.Released++
	return nil
}

func (s *Storage) Open(h Handle) (*Blob, error) {
	const op = "storage.Open"

	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[h]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownHandle, h)
	}
	return b, nil
}

func (s *Storage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Live = len(s.blobs)
	return st
}

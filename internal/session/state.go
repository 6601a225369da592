package session

import (
	"github.com/google/uuid"

	"imgcompress/internal/models"
	"imgcompress/internal/storage"
)

// Phase is the controller's position in Idle -> Pending -> InFlight -> Idle,
// with Failed standing in for idle-with-error.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseInFlight
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseInFlight:
		return "in_flight"
	case PhaseFailed:
		return "failed"
	}
	return "idle"
}

// Presentation statuses.
const (
	StatusIdle        = "idle"
	StatusPending     = "pending"
	StatusCompressing = "compressing"
	StatusReady       = "ready"
	StatusError       = "error"
)

// Result is the accepted output of one request. Its handle is owned by the
// controller's result slot.
type Result struct {
	Handle     storage.Handle
	Content    []byte
	MimeType   string
	Size       int64
	FileName   string
	Settings   models.Settings
	Generation uint64
}

type ResultInfo struct {
	Handle       storage.Handle  `json:"handle"`
	FileName     string          `json:"file_name"`
	MimeType     string          `json:"mime_type"`
	Size         int64           `json:"size"`
	SizeLabel    string          `json:"size_label"`
	Reduction    string          `json:"reduction"`
	ReductionPct float64         `json:"reduction_pct"`
	Settings     models.Settings `json:"settings"`
	// Current is false once settings have changed since the result was
	// computed.
	Current bool `json:"current"`
}

// State is the read-only view handed to the presentation layer.
type State struct {
	AssetID      uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	OriginalSize int64           `json:"original_size"`
	Preview      storage.Handle  `json:"preview,omitempty"`
	Phase        Phase           `json:"-"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Error        string          `json:"error,omitempty"`
	Settings     models.Settings `json:"settings"`
	Generation   uint64          `json:"generation"`
	Result       *ResultInfo     `json:"result,omitempty"`
}

// Download is what a user-initiated save receives.
type Download struct {
	FileName string
	MimeType string
	Content  []byte
	Handle   storage.Handle
}

// Observer is told about every state transition. It runs while the
// controller holds its lock, so it must not block or call back into the
// controller.
type Observer interface {
	OnStateChange(State)
}

type ObserverFunc func(State)

func (f ObserverFunc) OnStateChange(s State) { f(s) }

// Package events fans controller state changes out to logs and Kafka.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"imgcompress/internal/session"
)

// Event is the payload published for each state change.
type Event struct {
	At    time.Time     `json:"at"`
	State session.State `json:"state"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every state change keyed by asset id, so all events
// for one asset land on the same partition in order.
type KafkaSink struct {
	w   messageWriter
	log zerolog.Logger
	now func() time.Time
}

// NewKafkaSink uses an async writer; observers run under the controller's
// lock and must not wait on the broker.
func NewKafkaSink(broker, topic string, log zerolog.Logger) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
		Async:   true,
	})
	return newKafkaSink(w, log)
}

func newKafkaSink(w messageWriter, log zerolog.Logger) *KafkaSink {
	return &KafkaSink{w: w, log: log, now: time.Now}
}

func (s *KafkaSink) OnStateChange(st session.State) {
	payload, err := json.Marshal(Event{At: s.now(), State: st})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode state event")
		return
	}
	err = s.w.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(st.AssetID.String()),
		Value: payload,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("asset", st.AssetID.String()).Msg("failed to publish state event")
	}
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}

// LogObserver logs status transitions, skipping pure progress ticks.
type LogObserver struct {
	log zerolog.Logger
}

func NewLogObserver(log zerolog.Logger) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) OnStateChange(st session.State) {
	if st.Status == session.StatusCompressing && st.Progress > 0 {
		return
	}
	ev := o.log.Debug()
	if st.Status == session.StatusError {
		ev = o.log.Warn().Str("error", st.Error)
	}
	ev.Str("asset", st.AssetID.String()).
		Str("status", st.Status).
		Uint64("generation", st.Generation).
		Int("progress", st.Progress).
		Msg("session state changed")
}

// Fanout delivers each change to every observer in order.
type Fanout []session.Observer

func (f Fanout) OnStateChange(st session.State) {
	for _, o := range f {
		o.OnStateChange(st)
	}
}

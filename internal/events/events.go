// Package events publishes structured telemetry about resolution and
// installation to Kafka. It is strictly optional: every method is
// nil-safe and degrades to "no telemetry" rather than failing the
// operation it instruments.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event is one telemetry record.
type Event struct {
	Kind    string // "resolved", "classified", "installed"
	Package string
	Version string
	Detail  string
	At      time.Time
}

// Bus publishes Events to a Kafka topic. The zero value (and a Bus
// constructed with empty brokers) is a no-op: Publish always succeeds
// and never blocks waiting on a broker that doesn't exist.
type Bus struct {
	brokers string
	topic   string
	logger  *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithTopic overrides the default topic ("pipwright.events").
func WithTopic(topic string) Option {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}

// WithLogger sets the structured logger used for publish failures
// (which are logged, never returned as fatal to the caller).
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New constructs a Bus. An empty brokers string yields a disabled bus
// whose Publish calls are no-ops, mirroring the "no URL, no-op" shape
// the example pack's queue backends use for optional infrastructure.
func New(brokers string, opts ...Option) *Bus {
	b := &Bus{
		brokers: brokers,
		topic:   "pipwright.events",
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Bus) enabled() bool { return b != nil && b.brokers != "" }

func (b *Bus) writer() *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(b.brokers),
		Topic:        b.topic,
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}
}

// Publish sends ev to the configured topic. A disabled bus returns nil
// immediately. A configured bus hands the message to an asynchronous
// writer: an error WriteMessages returns is logged at debug level, but
// broker-side delivery failures are not reported back. Publish always
// returns nil, since losing a telemetry event must never fail resolution
// or installation.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if !b.enabled() {
		return nil
	}

	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Debug("event marshal failed", slog.String("kind", ev.Kind), slog.String("error", err.Error()))

		return nil
	}

	w := b.writer()
	defer func() { _ = w.Close() }()

	if err := w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Package),
		Value: data,
	}); err != nil {
		b.logger.Debug("event publish failed",
			slog.String("kind", ev.Kind),
			slog.String("package", ev.Package),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

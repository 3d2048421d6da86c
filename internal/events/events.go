// Package events publishes domain events raised by the engine.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/fairyhunter13/cart-checkout-engine/internal/kafka"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
)

// Dispatcher delivers domain events. Callers log dispatch failures; they
// never undo the state change that raised the event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.DomainEvent) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Dispatch(context.Context, model.DomainEvent) error { return nil }

// LogDispatcher writes events to the structured log.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, ev model.DomainEvent) error {
	obs.Logger.Info("domain_event", "type", ev.Type(), "key", ev.Key(), "event", ev)
	return nil
}

// Envelope is the wire form of a published event.
type Envelope struct {
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Payload    model.DomainEvent `json:"payload"`
}

// KafkaDispatcher publishes events as JSON envelopes keyed by Key().
type KafkaDispatcher struct {
	writer  kafka.MessageWriter
	timeout time.Duration
}

func NewKafkaDispatcher(w kafka.MessageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{writer: w, timeout: 5 * time.Second}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, ev model.DomainEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	env := Envelope{Type: ev.Type(), OccurredAt: time.Now().UTC(), Payload: ev}
	return kafka.PublishJSON(ctx, d.writer, ev.Key(), map[string]string{"event-type": ev.Type()}, env)
}

// Multi fans an event out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, ev model.DomainEvent) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

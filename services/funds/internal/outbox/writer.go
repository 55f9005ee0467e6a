package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/axshowk/winvestco-trading-platform-sub001/libs/kafka"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/google/uuid"
)

// Writer captures outbound events as outbox rows inside the caller's unit of work.
type Writer struct {
	routes events.Routes
	notify func()
	now    func() time.Time
}

func NewWriter(routes events.Routes) *Writer {
	if routes == nil {
		routes = events.DefaultRoutes()
	}
	return &Writer{
		routes: routes,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnCommit registers fn to run after every unit of work that captured at least one event.
func (w *Writer) OnCommit(fn func()) {
	w.notify = fn
}

// Envelope builds the envelope for an outbound event. The event id is derived from the
// event type and keyParts so that a retried unit of work produces the same id.
func (w *Writer) Envelope(ctx context.Context, eventType string, keyParts ...string) kafka.Envelope {
	correlationID := events.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	parts := append([]string{eventType}, keyParts...)
	return kafka.Envelope{
		EventID:       kafka.DeterministicEventID(parts...),
		EventType:     eventType,
		EventVersion:  events.Version,
		Timestamp:     w.now(),
		CorrelationID: correlationID,
	}
}

// Capture writes one outbox row for payload. env must be the envelope embedded in payload.
func (w *Writer) Capture(ctx context.Context, tx storage.Tx, aggregateType, aggregateID string, env kafka.Envelope, payload any) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("outbox envelope: %w", err)
	}
	route, err := w.routes.For(env.EventType)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.EventType, err)
	}

	row := &storage.OutboxEvent{
		EventID:       env.EventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     env.EventType,
		CorrelationID: env.CorrelationID,
		Exchange:      route.Exchange,
		RoutingKey:    route.RoutingKey,
		Payload:       raw,
		CreatedAt:     w.now(),
	}
	if err := tx.InsertOutbox(ctx, row); err != nil {
		return fmt.Errorf("insert outbox %s: %w", env.EventType, err)
	}
	if w.notify != nil {
		tx.AfterCommit(w.notify)
	}
	return nil
}

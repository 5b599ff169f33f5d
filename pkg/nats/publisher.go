package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trip-planner-be/pkg/events"
)

// Publisher handles sending events to the NATS bus.
type Publisher struct {
	conn *Conn
}

func NewPublisher(conn *Conn) *Publisher {
	return &Publisher{conn: conn}
}

// envelope is the wire format. Payload fields stay at the top level so
// consumers written against plain maps keep working.
func envelope(event events.Event) map[string]interface{} {
	out := make(map[string]interface{}, len(event.Payload())+1)
	for k, v := range event.Payload() {
		out[k] = v
	}
	out["occurred_at"] = event.Timestamp().UTC().Format(time.RFC3339Nano)
	return out
}

// Publish sends an event to NATS.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(envelope(event))
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	subject := Subject(event.EventType())
	if _, err := p.conn.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", subject, err)
	}
	return nil
}

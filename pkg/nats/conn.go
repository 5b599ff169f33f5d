package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "EVENTS"
	subjectPrefix = "events."
)

// Conn is one NATS connection shared by the publisher and subscriber.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS and makes sure the EVENTS stream exists. Events are
// kept for maxAge so every instance's consumer sees each broadcast.
func Connect(ctx context.Context, url string, maxAge time.Duration) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    maxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	return &Conn{nc: nc, js: js}, nil
}

// Status is the client connection state, e.g. "CONNECTED" or "RECONNECTING".
func (c *Conn) Status() string {
	if c.nc == nil {
		return "CLOSED"
	}
	return c.nc.Status().String()
}

func (c *Conn) Close() {
	if c.nc != nil {
		c.nc.Drain()
	}
}

// Subject maps an event type to its subject, e.g.
// PLANNER_SESSION_RESET -> events.planner_session_reset.
func Subject(eventType string) string {
	return subjectPrefix + strings.ToLower(eventType)
}

// EventType is the inverse of Subject.
func EventType(subject string) string {
	return strings.ToUpper(strings.TrimPrefix(subject, subjectPrefix))
}

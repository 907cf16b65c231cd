// Package notify publishes pipeline run events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event describes a change in a pipeline run.
type Event struct {
	NovelID    string    `json:"novel_id"`
	Phase      string    `json:"phase"`
	Status     string    `json:"status"`
	RunID      string    `json:"run_id"`
	TokensUsed int64     `json:"tokens_used"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers run events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// NATSPublisher publishes events as JSON to {prefix}.{novel_id}.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS connects to url. The connection reconnects on its own after it has
// been established once.
func NewNATS(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("storyreel"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS publisher ready", "url", url, "prefix", prefix)
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

// New returns a NATS publisher for url, or Nop when url is empty.
func New(url, prefix string) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	return NewNATS(url, prefix)
}

// Subject returns the subject events for novelID are published on.
func Subject(prefix, novelID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, novelID)
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := Subject(p.prefix, ev.NovelID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	slog.Debug("Event published", "subject", subject, "status", ev.Status)
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	return err
}

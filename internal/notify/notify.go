// Package notify publishes mission lifecycle events so external tools can
// follow mission progress.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/missiond/internal/mission"
)

// Event is one mission state change.
type Event struct {
	MissionID string         `json:"mission_id"`
	Status    mission.Status `json:"status"`
	Error     string         `json:"error,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier publishes mission events. Publishing is best-effort; the pipeline
// never fails a mission over a notification error.
type Notifier interface {
	MissionStatusChanged(event Event)
	Close()
}

// Nop discards all events.
type Nop struct{}

func (Nop) MissionStatusChanged(Event) {}
func (Nop) Close()                     {}

// NATSNotifier publishes events to a NATS subject as JSON.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSNotifier connects to NATS. The connection reconnects automatically;
// events during an outage are dropped. A nil logger is replaced with a no-op
// logger.
func NewNATSNotifier(url, subject string, logger *zap.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.Name("missiond"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}

	return &NATSNotifier{conn: conn, subject: subject, logger: logger}, nil
}

// MissionStatusChanged publishes the event to <subject>.<mission id>.
func (n *NATSNotifier) MissionStatusChanged(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal mission event", zap.Error(err))
		return
	}

	subject := n.subject + "." + event.MissionID
	if err := n.conn.Publish(subject, payload); err != nil {
		n.logger.Warn("failed to publish mission event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Close drains and closes the connection.
func (n *NATSNotifier) Close() {
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn("nats drain failed", zap.Error(err))
	}
}

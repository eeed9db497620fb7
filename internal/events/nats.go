package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used to publish events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher is an EventHandler that publishes job events as JSON to
// "<prefix>.<status>".
type NATSPublisher struct {
	conn   Publisher
	prefix string
	close  func()
}

// ConnectNATS dials url and returns a publisher for prefix.
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("adlens-job-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	p := NewNATSPublisher(nc, prefix)
	p.close = func() { _ = nc.Drain() }
	return p, nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Publisher, prefix string) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		close:  func() {},
	}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event *JobEvent) string {
	return p.prefix + "." + string(event.Status)
}

// HandleEvent implements EventHandler.
func (p *NATSPublisher) HandleEvent(ctx context.Context, event *JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

// Close drains the underlying connection when the publisher owns it.
func (p *NATSPublisher) Close() {
	p.close()
}

package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used for notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSService publishes messages as JSON to a subject.
type NATSService struct {
	conn    *nats.Conn
	pub     Publisher
	subject string
}

// ConnectNATS dials url and returns a service publishing under subject.
func ConnectNATS(url, subject string) (*NATSService, error) {
	conn, err := nats.Connect(url,
		nats.Name("remotedevd"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	svc := NewNATS(conn, subject)
	svc.conn = conn
	return svc, nil
}

// NewNATS wraps an existing publisher.
func NewNATS(pub Publisher, subject string) *NATSService {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "remotedev.notifications"
	}
	return &NATSService{pub: pub, subject: subject}
}

// Subject returns the subject a message for event is published on,
// e.g. remotedev.notifications.pr_merged.
func (s *NATSService) Subject(event Event) string {
	if event == "" {
		return s.subject
	}
	return s.subject + "." + string(event)
}

func (s *NATSService) Send(ctx context.Context, _ string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.pub.Publish(s.Subject(msg.Event), data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close drains the connection when the service owns it.
func (s *NATSService) Close() {
	if s == nil || s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
}

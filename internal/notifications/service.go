package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"remotedev/internal/config"
	"remotedev/internal/logging"
)

// Event names the situation a message reports.
type Event string

const (
	EventClarificationNeeded Event = "clarification_needed"
	EventApprovalNeeded      Event = "approval_needed"
	EventEnvelopeFailed      Event = "envelope_failed"
	EventEnvelopeCompleted   Event = "envelope_completed"
	EventPRMerged            Event = "pr_merged"
	EventPRClosed            Event = "pr_closed"
	EventPRTimeout           Event = "pr_timeout"
	EventPRRework            Event = "pr_rework"
	EventWorkItemTransition  Event = "workitem_transition"
	EventTest                Event = "test"
)

// Message is one notification.
type Message struct {
	Event      Event     `json:"event"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Tags       []string  `json:"tags,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	EnvelopeID string    `json:"envelope_id,omitempty"`
	WorkItemID string    `json:"work_item_id,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Service delivers a message to channel. An empty channel selects the
// backend default.
type Service interface {
	Send(ctx context.Context, channel string, msg Message) error
}

// NewService builds the configured backends. Construction errors for one
// backend are returned alongside the remaining usable service.
func NewService(cfg *config.Config) (Service, func(), error) {
	var (
		backends []Service
		closers  []func()
		errs     []error
	)
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		backends = append(backends, NewNtfy(topic, timeout))
	}
	if url := strings.TrimSpace(cfg.Notifications.NATSURL); url != "" {
		natsSvc, err := ConnectNATS(url, cfg.Notifications.NATSSubject)
		if err != nil {
			errs = append(errs, err)
		} else {
			backends = append(backends, natsSvc)
			closers = append(closers, natsSvc.Close)
		}
	}
	closeAll := func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
	return Fanout(backends...), closeAll, errors.Join(errs...)
}

// Fanout sends to every service and joins their errors.
func Fanout(services ...Service) Service {
	filtered := make([]Service, 0, len(services))
	for _, svc := range services {
		if svc != nil {
			filtered = append(filtered, svc)
		}
	}
	switch len(filtered) {
	case 0:
		return noopService{}
	case 1:
		return filtered[0]
	default:
		return fanoutService(filtered)
	}
}

type fanoutService []Service

func (f fanoutService) Send(ctx context.Context, channel string, msg Message) error {
	var errs []error
	for _, svc := range f {
		if err := svc.Send(ctx, channel, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopService struct{}

func (noopService) Send(context.Context, string, Message) error { return nil }

// Notifier delivers messages without propagating failures.
type Notifier struct {
	svc    Service
	logger *slog.Logger
}

// NewNotifier wraps svc. A nil svc behaves as noop.
func NewNotifier(svc Service, logger *slog.Logger) *Notifier {
	if svc == nil {
		svc = noopService{}
	}
	return &Notifier{svc: svc, logger: logging.NewComponentLogger(logger, "notifications")}
}

// Notify sends msg to channel and logs delivery failures.
func (n *Notifier) Notify(ctx context.Context, channel string, msg Message) {
	if n == nil {
		return
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	msg.Channel = channel
	if err := n.svc.Send(ctx, channel, msg); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, n.logger), "notification delivery failed", "notification_failed",
			logging.String("notification_event", string(msg.Event)),
			logging.String(logging.FieldEnvelopeID, msg.EnvelopeID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operator was not notified; state is unaffected"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and notifications.nats_url"),
		)
	}
}

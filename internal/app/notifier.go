package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/pkg/rabbitmq"
)

// NotificationsExchange is the topic exchange customer notifications are published to.
const NotificationsExchange = "loyalty.notifications"

// Notifier delivers customer-facing notifications. Implementations may fail; the ledger
// never waits on, retries or rolls back for them.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// RabbitNotifier publishes notifications to a RabbitMQ topic exchange with routing key
// `notification.<kind>`.
type RabbitNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewRabbitNotifier(publisher rabbitmq.Publisher, exchange string) *RabbitNotifier {
	if exchange == "" {
		exchange = NotificationsExchange
	}
	return &RabbitNotifier{publisher: publisher, exchange: exchange}
}

func (n *RabbitNotifier) Notify(ctx context.Context, note domain.Notification) error {
	return n.publisher.Publish(ctx, n.exchange, "notification."+string(note.Kind), note)
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note domain.Notification) error {
	n.logger.Info("notification",
		"event_id", note.EventID,
		"event_type", note.Kind,
		"tenant_id", note.TenantID,
		"customer_id", note.CustomerID,
	)
	return nil
}

// notify dispatches kind to the customer in the background when the tenant has not
// switched it off. Delivery runs on a detached context so a cancelled request cannot
// abort it.
func (s *Service) notify(ctx context.Context, kind domain.EventKind, tenantID, customerID uuid.UUID, payload map[string]any) {
	enabled, err := s.tenants.NotifyPreferencesEnabled(ctx, tenantID, kind)
	if err != nil {
		s.logger.Warn("skipping notification; preferences unavailable", "event_type", kind, "tenant_id", tenantID, "error", err)
		return
	}
	if !enabled {
		return
	}
	note := domain.Notification{
		EventID:    uuid.NewString(),
		Kind:       kind,
		TenantID:   tenantID,
		CustomerID: customerID,
		Payload:    payload,
		OccurredAt: s.clock(),
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Warn("notification failed",
				"event_type", kind,
				"tenant_id", tenantID,
				"customer_id", customerID,
				"error", err,
			)
		}
	}()
}

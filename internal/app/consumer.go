package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/pkg/rabbitmq"
)

// Inbound routing keys on the events exchange.
const (
	EventsExchange             = "loyalty.events"
	RoutingKeyPurchaseRecorded = "purchase.recorded"
	RoutingKeyClaimSubmitted   = "claim.submitted"
	RoutingKeySessionSelected  = "session.selected"

	consumerTimeout = 15 * time.Second
)

// EventConsumer feeds inbound integration events into the ledger. Malformed messages and
// business rejections are acknowledged and dropped; infrastructure failures are requeued.
type EventConsumer struct {
	service *Service
	logger  *slog.Logger
}

func NewEventConsumer(service *Service, logger *slog.Logger) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{service: service, logger: logger.With("component", "event_consumer")}
}

// Bindings maps each routing key to its handler.
func (c *EventConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		RoutingKeyPurchaseRecorded: c.HandlePurchaseRecorded,
		RoutingKeyClaimSubmitted:   c.HandleClaimSubmitted,
		RoutingKeySessionSelected:  c.HandleSessionSelected,
	}
}

func (c *EventConsumer) HandlePurchaseRecorded(body []byte) bool {
	var event domain.PurchaseRecordedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal purchase event", "error", err)
		return true
	}
	tenantID, customerID, err := parseIDs(event.TenantID, event.CustomerID)
	if err != nil {
		c.logger.Warn("dropping purchase event with bad ids", "event_id", event.EventID, "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	_, err = c.service.RecordPurchase(ctx, RecordPurchaseInput{
		TenantID:         tenantID,
		CustomerID:       customerID,
		AmountMinor:      event.AmountMinor,
		PointsOverride:   event.PointsOverride,
		PurchaseDate:     event.PurchaseDate,
		Description:      event.Description,
		Source:           domain.PurchaseSourcePOS,
		RecordedByUserID: event.RecordedByUserID,
		ExternalRef:      event.EventID,
	})
	return c.settle("purchase", event.EventID, err)
}

func (c *EventConsumer) HandleClaimSubmitted(body []byte) bool {
	var event domain.ClaimSubmittedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal claim event", "error", err)
		return true
	}
	var tenantID uuid.UUID
	if strings.TrimSpace(event.TenantID) != "" {
		parsed, err := uuid.Parse(event.TenantID)
		if err != nil {
			c.logger.Warn("dropping claim event with bad tenant id", "event_id", event.EventID, "error", err)
			return true
		}
		tenantID = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	_, err := c.service.SubmitClaim(ctx, SubmitClaimInput{
		TenantID:     tenantID,
		Identity:     event.Identity,
		Phone:        event.Phone,
		AmountMinor:  event.AmountMinor,
		PurchaseDate: event.PurchaseDate,
		Channel:      event.Channel,
		ReceiptURL:   event.ReceiptURL,
	})
	return c.settle("claim", event.EventID, err)
}

func (c *EventConsumer) HandleSessionSelected(body []byte) bool {
	var event domain.SessionSelectedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal session event", "error", err)
		return true
	}
	tenantID, err := uuid.Parse(event.TenantID)
	if err != nil {
		c.logger.Warn("dropping session event with bad tenant id", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	return c.settle("session", "", c.service.SelectTenant(ctx, event.Identity, tenantID))
}

// settle decides the ack for a processed message.
func (c *EventConsumer) settle(kind, eventID string, err error) bool {
	if err == nil {
		return true
	}
	if isBusinessError(err) {
		c.logger.Info("event rejected", "kind", kind, "event_id", eventID, "code", domain.ErrorCode(err), "error", err)
		return true
	}
	c.logger.Error("event processing failed; requeueing", "kind", kind, "event_id", eventID, "error", err)
	return false
}

func isBusinessError(err error) bool {
	for _, kind := range []error{
		domain.ErrValidation,
		domain.ErrNotFound,
		domain.ErrInsufficientBalance,
		domain.ErrOutOfStock,
		domain.ErrAlreadyProcessed,
		domain.ErrRateLimited,
		domain.ErrDuplicateSubmission,
		domain.ErrExpiredWindow,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func parseIDs(tenant, customer string) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := uuid.Parse(strings.TrimSpace(tenant))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("tenant_id: %w", err)
	}
	customerID, err := uuid.Parse(strings.TrimSpace(customer))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("customer_id: %w", err)
	}
	return tenantID, customerID, nil
}

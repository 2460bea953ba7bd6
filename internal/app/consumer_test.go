package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

var errTenantsUnavailable = errors.New("connection refused")

type unavailableTenants struct{}

func (unavailableTenants) Settings(ctx context.Context, tenantID uuid.UUID) (domain.TenantSettings, error) {
	return domain.TenantSettings{}, errTenantsUnavailable
}

func (unavailableTenants) GetCurrency(ctx context.Context, tenantID uuid.UUID) (string, error) {
	return "", errTenantsUnavailable
}

func (unavailableTenants) GetBurnRate(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	return 0, errTenantsUnavailable
}

func (unavailableTenants) IsBlocked(ctx context.Context, tenantID, customerID uuid.UUID) (bool, error) {
	return false, errTenantsUnavailable
}

func (unavailableTenants) NotifyPreferencesEnabled(ctx context.Context, tenantID uuid.UUID, kind domain.EventKind) (bool, error) {
	return false, errTenantsUnavailable
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return body
}

func newTestConsumer(h *harness) *EventConsumer {
	return NewEventConsumer(h.svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEventConsumer_PurchaseRecordedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	customer := h.enrol(t, "+447700900001")
	consumer := newTestConsumer(h)

	body := mustJSON(t, domain.PurchaseRecordedEvent{
		EventID:     "evt-1",
		TenantID:    h.tenant.ID.String(),
		CustomerID:  customer.ID.String(),
		AmountMinor: 1500,
		Description: "till 3",
	})

	if ack := consumer.HandlePurchaseRecorded(body); !ack {
		t.Fatal("expected first delivery to be acknowledged")
	}
	if ack := consumer.HandlePurchaseRecorded(body); !ack {
		t.Fatal("expected redelivery to be acknowledged")
	}
	if got := h.balance(t, customer.ID); got != 15 {
		t.Fatalf("expected points credited once, got balance %d", got)
	}

	purchases, err := h.svc.ListPurchases(context.Background(), h.tenant.ID, customer.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListPurchases returned error: %v", err)
	}
	if len(purchases) != 1 || purchases[0].Source != domain.PurchaseSourcePOS {
		t.Fatalf("expected one POS purchase, got %+v", purchases)
	}
}

func TestEventConsumer_AckPolicy(t *testing.T) {
	tests := []struct {
		name    string
		tenants bool
		body    func(h *harness) []byte
		wantAck bool
	}{
		{
			name:    "malformed json is dropped",
			body:    func(*harness) []byte { return []byte("{not json") },
			wantAck: true,
		},
		{
			name: "bad ids are dropped",
			body: func(h *harness) []byte {
				return []byte(`{"event_id":"evt-2","tenant_id":"nope","customer_id":"nope","amount_minor":100}`)
			},
			wantAck: true,
		},
		{
			name: "unknown customer is dropped",
			body: func(h *harness) []byte {
				return []byte(`{"event_id":"evt-3","tenant_id":"` + h.tenant.ID.String() + `","customer_id":"` + uuid.NewString() + `","amount_minor":100}`)
			},
			wantAck: true,
		},
		{
			name:    "infrastructure failure is requeued",
			tenants: true,
			body: func(h *harness) []byte {
				return []byte(`{"event_id":"evt-4","tenant_id":"` + h.tenant.ID.String() + `","customer_id":"` + uuid.NewString() + `","amount_minor":100}`)
			},
			wantAck: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.tenants {
				h.svc.tenants = unavailableTenants{}
			}
			consumer := newTestConsumer(h)

			if got := consumer.HandlePurchaseRecorded(tt.body(h)); got != tt.wantAck {
				t.Fatalf("expected ack=%v, got %v", tt.wantAck, got)
			}
		})
	}
}

func TestEventConsumer_ClaimRoutedThroughSession(t *testing.T) {
	h := newHarness(t)
	h.enrol(t, "+447700900001")
	consumer := newTestConsumer(h)

	session := mustJSON(t, domain.SessionSelectedEvent{Identity: "wa:447700900001", TenantID: h.tenant.ID.String()})
	if ack := consumer.HandleSessionSelected(session); !ack {
		t.Fatal("expected session event to be acknowledged")
	}

	claim := mustJSON(t, domain.ClaimSubmittedEvent{
		EventID:      "evt-5",
		Identity:     "wa:447700900001",
		Phone:        "+447700900001",
		AmountMinor:  2000,
		PurchaseDate: h.clock.Now(),
		Channel:      "whatsapp",
	})
	if ack := consumer.HandleClaimSubmitted(claim); !ack {
		t.Fatal("expected claim event to be acknowledged")
	}

	claims, err := h.svc.ListClaims(context.Background(), h.tenant.ID, store.ClaimFilter{})
	if err != nil {
		t.Fatalf("ListClaims returned error: %v", err)
	}
	if len(claims) != 1 || claims[0].Channel != "whatsapp" {
		t.Fatalf("expected one whatsapp claim, got %+v", claims)
	}
}

func TestEventConsumer_Bindings(t *testing.T) {
	h := newHarness(t)
	bindings := newTestConsumer(h).Bindings()

	for _, key := range []string{RoutingKeyPurchaseRecorded, RoutingKeyClaimSubmitted, RoutingKeySessionSelected} {
		if bindings[key] == nil {
			t.Fatalf("expected a handler for %s", key)
		}
	}
}

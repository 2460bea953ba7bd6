package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.Notification
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, note domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

func (n *recordingNotifier) count(kind domain.EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, note := range n.notes {
		if note.Kind == kind {
			total++
		}
	}
	return total
}

type limiterStub struct {
	mu         sync.Mutex
	count      int
	retryAfter int
	err        error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, 0, l.err
	}
	l.count++
	return l.count, l.retryAfter, nil
}

type harness struct {
	svc      *Service
	repo     *store.MemoryRepository
	clock    *testClock
	notifier *recordingNotifier
	tenant   *domain.Tenant
}

func newHarness(t *testing.T, configure ...func(*Options, *domain.TenantSettings)) *harness {
	t.Helper()
	h := &harness{
		repo:     store.NewMemoryRepository(),
		clock:    &testClock{now: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
	}
	opts := Options{
		Notifier:               h.notifier,
		Logger:                 slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:                    h.clock.Now,
		RedemptionExpiryRefund: true,
	}
	settings := domain.DefaultTenantSettings()
	for _, fn := range configure {
		fn(&opts, &settings)
	}
	h.svc = NewService(h.repo, opts)

	tenant, err := h.svc.CreateTenant(context.Background(), "Corner Cafe", settings)
	if err != nil {
		t.Fatalf("CreateTenant returned error: %v", err)
	}
	h.tenant = tenant
	return h
}

func (h *harness) enrol(t *testing.T, phone string) *domain.Customer {
	t.Helper()
	enrolment, err := h.svc.EnrolCustomer(context.Background(), h.tenant.ID, phone, "Ada")
	if err != nil {
		t.Fatalf("EnrolCustomer returned error: %v", err)
	}
	return enrolment.Customer
}

// credit awards points through a purchase of points pounds.
func (h *harness) credit(t *testing.T, customerID uuid.UUID, points int64) {
	t.Helper()
	_, err := h.svc.RecordPurchase(context.Background(), RecordPurchaseInput{
		TenantID:    h.tenant.ID,
		CustomerID:  customerID,
		AmountMinor: points * 100,
	})
	if err != nil {
		t.Fatalf("RecordPurchase returned error: %v", err)
	}
}

func (h *harness) addReward(t *testing.T, points int64, stock *int64) *domain.Reward {
	t.Helper()
	reward, err := h.svc.CreateReward(context.Background(), h.tenant.ID, RewardInput{
		Name:           "Free coffee",
		PointsRequired: &points,
		StockQuantity:  stock,
	})
	if err != nil {
		t.Fatalf("CreateReward returned error: %v", err)
	}
	return reward
}

func (h *harness) balance(t *testing.T, customerID uuid.UUID) int64 {
	t.Helper()
	balance, err := h.svc.GetBalance(context.Background(), h.tenant.ID, customerID)
	if err != nil {
		t.Fatalf("GetBalance returned error: %v", err)
	}
	return balance.CurrentBalance
}

func (h *harness) assertLedgerConsistent(t *testing.T, customerID uuid.UUID) {
	t.Helper()
	txs, err := h.svc.ListTransactions(context.Background(), h.tenant.ID, customerID, 0, 0)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	var sum int64
	for _, tx := range txs {
		sum += tx.Points
	}
	balance := h.balance(t, customerID)
	if sum != balance {
		t.Fatalf("expected ledger sum %d to equal balance %d", sum, balance)
	}
	if balance < 0 {
		t.Fatalf("expected non-negative balance, got %d", balance)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestNewService_AppliesDefaults(t *testing.T) {
	svc := NewService(store.NewMemoryRepository(), Options{})

	if svc.notifier == nil || svc.sessions == nil || svc.tenants == nil {
		t.Fatal("expected default collaborators to be set")
	}
	if svc.warningLookahead != DefaultWarningLookahead {
		t.Fatalf("expected default lookahead, got %s", svc.warningLookahead)
	}
	if svc.clock().Location() != time.UTC {
		t.Fatal("expected clock to report UTC")
	}
}

/**
 * @description
 * In-process implementation of the Repository interface. Every atomic unit holds one
 * write lock for its whole duration and records an undo step for each write, so a unit
 * that returns an error leaves no trace. Rows are stored by value and copied on the way
 * out, which gives callers the same isolation they get from a database round trip.
 *
 * Used by the test suites and for local runs with DATABASE_URL=memory://.
 */

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
)

// MemoryRepository keeps all state in maps guarded by a single RWMutex.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

type memoryState struct {
	tenants      map[uuid.UUID]domain.Tenant
	customers    map[uuid.UUID]domain.Customer
	balances     map[domain.CustomerKey]domain.CustomerPointsBalance
	transactions []domain.PointsTransaction
	txIndex      map[uuid.UUID]int
	purchases    map[uuid.UUID]domain.Purchase
	rewards      map[uuid.UUID]domain.Reward
	redemptions  map[uuid.UUID]domain.RewardRedemption
	claims       map[uuid.UUID]domain.PurchaseClaim
}

func newMemoryState() *memoryState {
	return &memoryState{
		tenants:     make(map[uuid.UUID]domain.Tenant),
		customers:   make(map[uuid.UUID]domain.Customer),
		balances:    make(map[domain.CustomerKey]domain.CustomerPointsBalance),
		txIndex:     make(map[uuid.UUID]int),
		purchases:   make(map[uuid.UUID]domain.Purchase),
		rewards:     make(map[uuid.UUID]domain.Reward),
		redemptions: make(map[uuid.UUID]domain.RewardRedemption),
		claims:      make(map[uuid.UUID]domain.PurchaseClaim),
	}
}

// InTx runs fn while holding the write lock and undoes every write if fn fails or panics.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{memoryState: r.state}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) GetTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.GetTenant(ctx, tenantID)
}

func (r *MemoryRepository) GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.GetCustomer(ctx, tenantID, customerID)
}

func (r *MemoryRepository) FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.FindCustomerByPhone(ctx, tenantID, phone)
}

func (r *MemoryRepository) ListCustomers(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListCustomers(ctx, tenantID, limit, offset)
}

func (r *MemoryRepository) GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.CustomerPointsBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.GetBalance(ctx, tenantID, customerID)
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.PointsTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListTransactions(ctx, tenantID, customerID, limit, offset)
}

func (r *MemoryRepository) ListDueExpiries(ctx context.Context, now time.Time, limit int, excludeCustomers []uuid.UUID) ([]domain.PointsTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListDueExpiries(ctx, now, limit, excludeCustomers)
}

func (r *MemoryRepository) ListExpiringSoon(ctx context.Context, now, until time.Time, limit int) ([]domain.PointsTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListExpiringSoon(ctx, now, until, limit)
}

func (r *MemoryRepository) GetPurchase(ctx context.Context, tenantID, purchaseID uuid.UUID) (*domain.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.GetPurchase(ctx, tenantID, purchaseID)
}

func (r *MemoryRepository) ListPurchases(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListPurchases(ctx, tenantID, customerID, limit, offset)
}

func (r *MemoryRepository) GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*domain.Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.GetReward(ctx, tenantID, rewardID)
}

func (r *MemoryRepository) ListRewards(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]domain.Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListRewards(ctx, tenantID, includeInactive)
}

func (r *MemoryRepository) GetRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID) (*domain.RewardRedemption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.GetRedemption(ctx, tenantID, redemptionID)
}

func (r *MemoryRepository) FindRedemptionByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.RewardRedemption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.FindRedemptionByCode(ctx, tenantID, code)
}

func (r *MemoryRepository) FindRedemptionByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.RewardRedemption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.FindRedemptionByIdempotencyKey(ctx, tenantID, key)
}

func (r *MemoryRepository) HasPendingRedemption(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.HasPendingRedemption(ctx, tenantID, customerID, rewardID)
}

func (r *MemoryRepository) CountCustomerRedemptions(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.CountCustomerRedemptions(ctx, tenantID, customerID, rewardID)
}

func (r *MemoryRepository) ListRedemptions(ctx context.Context, tenantID uuid.UUID, filter RedemptionFilter) ([]domain.RewardRedemption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListRedemptions(ctx, tenantID, filter)
}

func (r *MemoryRepository) ListStaleRedemptions(ctx context.Context, now time.Time, limit int) ([]domain.RewardRedemption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListStaleRedemptions(ctx, now, limit)
}

func (r *MemoryRepository) GetClaim(ctx context.Context, tenantID, claimID uuid.UUID) (*domain.PurchaseClaim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.GetClaim(ctx, tenantID, claimID)
}

func (r *MemoryRepository) ListClaims(ctx context.Context, tenantID uuid.UUID, filter ClaimFilter) ([]domain.PurchaseClaim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListClaims(ctx, tenantID, filter)
}

func (r *MemoryRepository) HasRecentDuplicateClaim(ctx context.Context, q DuplicateClaimQuery) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.HasRecentDuplicateClaim(ctx, q)
}

func (r *MemoryRepository) ListStaleClaims(ctx context.Context, now time.Time, limit int) ([]domain.PurchaseClaim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ListStaleClaims(ctx, now, limit)
}

// --- reads (callers hold the lock) ---

func (s *memoryState) GetTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return cloneTenant(t), nil
}

func (s *memoryState) GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.Customer, error) {
	c, ok := s.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrCustomerNotFound
	}
	return &c, nil
}

func (s *memoryState) FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*domain.Customer, error) {
	for _, c := range s.customers {
		if c.TenantID == tenantID && c.Phone == phone {
			found := c
			return &found, nil
		}
	}
	return nil, domain.ErrCustomerNotFound
}

func (s *memoryState) ListCustomers(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.Customer, error) {
	out := make([]domain.Customer, 0)
	for _, c := range s.customers {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return earlier(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return paginate(out, limit, offset), nil
}

func (s *memoryState) GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.CustomerPointsBalance, error) {
	b, ok := s.balances[domain.CustomerKey{TenantID: tenantID, CustomerID: customerID}]
	if !ok {
		return &domain.CustomerPointsBalance{TenantID: tenantID, CustomerID: customerID}, nil
	}
	return &b, nil
}

func (s *memoryState) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.PointsTransaction, error) {
	out := make([]domain.PointsTransaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.TenantID == tenantID && t.CustomerID == customerID {
			out = append(out, cloneTransaction(t))
		}
	}
	return paginate(out, limit, offset), nil
}

func (s *memoryState) ListDueExpiries(ctx context.Context, now time.Time, limit int, excludeCustomers []uuid.UUID) ([]domain.PointsTransaction, error) {
	out := make([]domain.PointsTransaction, 0)
	for _, t := range s.transactions {
		if !isDue(t, now) || slices.Contains(excludeCustomers, t.CustomerID) {
			continue
		}
		out = append(out, cloneTransaction(t))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(*out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryState) ListExpiringSoon(ctx context.Context, now, until time.Time, limit int) ([]domain.PointsTransaction, error) {
	out := make([]domain.PointsTransaction, 0)
	for _, t := range s.transactions {
		if !t.Type.IsEarnType() || t.Expired || t.ExpiresAt == nil || t.ExpiryWarned() {
			continue
		}
		if !t.ExpiresAt.After(now) || t.ExpiresAt.After(until) {
			continue
		}
		out = append(out, cloneTransaction(t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memoryState) GetPurchase(ctx context.Context, tenantID, purchaseID uuid.UUID) (*domain.Purchase, error) {
	p, ok := s.purchases[purchaseID]
	if !ok || p.TenantID != tenantID {
		return nil, domain.ErrPurchaseNotFound
	}
	return &p, nil
}

func (s *memoryState) ListPurchases(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.Purchase, error) {
	out := make([]domain.Purchase, 0)
	for _, p := range s.purchases {
		if p.TenantID == tenantID && p.CustomerID == customerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return earlier(out[j].PurchaseDate, out[i].PurchaseDate, out[j].ID, out[i].ID)
	})
	return paginate(out, limit, offset), nil
}

func (s *memoryState) GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*domain.Reward, error) {
	rw, ok := s.rewards[rewardID]
	if !ok || rw.TenantID != tenantID || rw.DeletedAt != nil {
		return nil, domain.ErrRewardNotFound
	}
	return &rw, nil
}

func (s *memoryState) ListRewards(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]domain.Reward, error) {
	out := make([]domain.Reward, 0)
	for _, rw := range s.rewards {
		if rw.TenantID != tenantID || rw.DeletedAt != nil {
			continue
		}
		if !includeInactive && !rw.IsActive {
			continue
		}
		out = append(out, rw)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PointsRequired != out[j].PointsRequired {
			return out[i].PointsRequired < out[j].PointsRequired
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *memoryState) GetRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID) (*domain.RewardRedemption, error) {
	rd, ok := s.redemptions[redemptionID]
	if !ok || rd.TenantID != tenantID {
		return nil, domain.ErrRedemptionNotFound
	}
	return &rd, nil
}

func (s *memoryState) FindRedemptionByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.RewardRedemption, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, rd := range s.redemptions {
		if rd.TenantID == tenantID && rd.RedemptionCode == code {
			found := rd
			return &found, nil
		}
	}
	return nil, domain.ErrRedemptionNotFound
}

func (s *memoryState) FindRedemptionByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.RewardRedemption, error) {
	for _, rd := range s.redemptions {
		if rd.TenantID == tenantID && rd.IdempotencyKey != nil && *rd.IdempotencyKey == key {
			found := rd
			return &found, nil
		}
	}
	return nil, domain.ErrRedemptionNotFound
}

func (s *memoryState) HasPendingRedemption(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (bool, error) {
	for _, rd := range s.redemptions {
		if rd.TenantID == tenantID && rd.CustomerID == customerID && rd.RewardID == rewardID && rd.Status == domain.RedemptionPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryState) CountCustomerRedemptions(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (int, error) {
	count := 0
	for _, rd := range s.redemptions {
		if rd.TenantID != tenantID || rd.CustomerID != customerID || rd.RewardID != rewardID {
			continue
		}
		if rd.Status == domain.RedemptionCancelled || rd.Status == domain.RedemptionExpired {
			continue
		}
		count++
	}
	return count, nil
}

func (s *memoryState) ListRedemptions(ctx context.Context, tenantID uuid.UUID, filter RedemptionFilter) ([]domain.RewardRedemption, error) {
	out := make([]domain.RewardRedemption, 0)
	for _, rd := range s.redemptions {
		if rd.TenantID != tenantID {
			continue
		}
		if filter.CustomerID != nil && rd.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != nil && rd.Status != *filter.Status {
			continue
		}
		out = append(out, rd)
	}
	sort.Slice(out, func(i, j int) bool {
		return earlier(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *memoryState) ListStaleRedemptions(ctx context.Context, now time.Time, limit int) ([]domain.RewardRedemption, error) {
	out := make([]domain.RewardRedemption, 0)
	for _, rd := range s.redemptions {
		if rd.Status == domain.RedemptionPending && !now.Before(rd.ExpiresAt) {
			out = append(out, rd)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return earlier(out[i].ExpiresAt, out[j].ExpiresAt, out[i].ID, out[j].ID)
	})
	return paginate(out, limit, 0), nil
}

func (s *memoryState) GetClaim(ctx context.Context, tenantID, claimID uuid.UUID) (*domain.PurchaseClaim, error) {
	c, ok := s.claims[claimID]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrClaimNotFound
	}
	return &c, nil
}

func (s *memoryState) ListClaims(ctx context.Context, tenantID uuid.UUID, filter ClaimFilter) ([]domain.PurchaseClaim, error) {
	out := make([]domain.PurchaseClaim, 0)
	for _, c := range s.claims {
		if c.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return earlier(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (s *memoryState) HasRecentDuplicateClaim(ctx context.Context, q DuplicateClaimQuery) (bool, error) {
	for _, c := range s.claims {
		if c.TenantID != q.TenantID || c.CustomerID != q.CustomerID {
			continue
		}
		if c.AmountMinor != q.AmountMinor || c.Channel != q.Channel || !c.PurchaseDate.Equal(q.PurchaseDate) {
			continue
		}
		if c.CreatedAt.Before(q.Since) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *memoryState) ListStaleClaims(ctx context.Context, now time.Time, limit int) ([]domain.PurchaseClaim, error) {
	out := make([]domain.PurchaseClaim, 0)
	for _, c := range s.claims {
		if c.Status == domain.ClaimStatusPending && !now.Before(c.ExpiresAt) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return earlier(out[i].ExpiresAt, out[j].ExpiresAt, out[i].ID, out[j].ID)
	})
	return paginate(out, limit, 0), nil
}

// --- atomic unit ---

type memoryTx struct {
	*memoryState
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func put[K comparable, V any](tx *memoryTx, m map[K]V, key K, value V) {
	prev, existed := m[key]
	tx.undo = append(tx.undo, func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
	m[key] = value
}

func (tx *memoryTx) appendTransaction(t domain.PointsTransaction) {
	s := tx.memoryState
	s.txIndex[t.ID] = len(s.transactions)
	s.transactions = append(s.transactions, t)
	tx.undo = append(tx.undo, func() {
		s.transactions = s.transactions[:len(s.transactions)-1]
		delete(s.txIndex, t.ID)
	})
}

func (tx *memoryTx) replaceTransaction(i int, t domain.PointsTransaction) {
	s := tx.memoryState
	prev := s.transactions[i]
	tx.undo = append(tx.undo, func() {
		s.transactions[i] = prev
	})
	s.transactions[i] = t
}

func (tx *memoryTx) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	if tenant.UpdatedAt.IsZero() {
		tenant.UpdatedAt = tenant.CreatedAt
	}
	if _, exists := tx.tenants[tenant.ID]; exists {
		return fmt.Errorf("tenant %s already exists", tenant.ID)
	}
	put(tx, tx.tenants, tenant.ID, *cloneTenant(*tenant))
	return nil
}

func (tx *memoryTx) UpdateTenantSettings(ctx context.Context, tenantID uuid.UUID, settings domain.TenantSettings, at time.Time) error {
	t, ok := tx.tenants[tenantID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.Settings = settings
	t.UpdatedAt = at
	put(tx, tx.tenants, tenantID, *cloneTenant(t))
	return nil
}

func (tx *memoryTx) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	if _, ok := tx.tenants[customer.TenantID]; !ok {
		return domain.ErrTenantNotFound
	}
	for _, c := range tx.customers {
		if c.TenantID == customer.TenantID && c.Phone == customer.Phone {
			return domain.ErrDuplicateCustomer
		}
	}
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	if customer.LoyaltyStatus == "" {
		customer.LoyaltyStatus = domain.LoyaltyStatusActive
	}
	put(tx, tx.customers, customer.ID, *customer)
	return nil
}

func (tx *memoryTx) SetCustomerStatus(ctx context.Context, tenantID, customerID uuid.UUID, status domain.LoyaltyStatus, at time.Time) error {
	c, ok := tx.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return domain.ErrCustomerNotFound
	}
	c.LoyaltyStatus = status
	c.UpdatedAt = at
	put(tx, tx.customers, customerID, c)
	return nil
}

func (tx *memoryTx) RecordCustomerPurchase(ctx context.Context, tenantID, customerID uuid.UUID, amountMinor int64, at time.Time) error {
	c, ok := tx.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return domain.ErrCustomerNotFound
	}
	c.TotalPurchases++
	c.TotalSpentMinor += amountMinor
	if c.LastPurchaseAt == nil || at.After(*c.LastPurchaseAt) {
		last := at
		c.LastPurchaseAt = &last
	}
	c.UpdatedAt = time.Now().UTC()
	put(tx, tx.customers, customerID, c)
	return nil
}

func (tx *memoryTx) ReserveClaimSlot(ctx context.Context, tenantID, customerID uuid.UUID, day string, limit int, at time.Time) error {
	c, ok := tx.customers[customerID]
	if !ok || c.TenantID != tenantID {
		return domain.ErrCustomerNotFound
	}
	if c.ClaimDay == day {
		if c.ClaimDayCount >= limit {
			return ErrClaimLimitReached
		}
		c.ClaimDayCount++
	} else {
		c.ClaimDay = day
		c.ClaimDayCount = 1
	}
	c.UpdatedAt = at
	put(tx, tx.customers, customerID, c)
	return nil
}

func (tx *memoryTx) CreatePurchase(ctx context.Context, purchase *domain.Purchase) error {
	if purchase.ExternalRef != nil {
		for _, p := range tx.purchases {
			if p.TenantID == purchase.TenantID && p.ExternalRef != nil && *p.ExternalRef == *purchase.ExternalRef {
				return ErrDuplicatePurchaseRef
			}
		}
	}
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	put(tx, tx.purchases, purchase.ID, *purchase)
	return nil
}

func (tx *memoryTx) balanceFor(tenantID, customerID uuid.UUID, at time.Time) domain.CustomerPointsBalance {
	key := domain.CustomerKey{TenantID: tenantID, CustomerID: customerID}
	b, ok := tx.balances[key]
	if !ok {
		b = domain.CustomerPointsBalance{TenantID: tenantID, CustomerID: customerID, CreatedAt: at}
	}
	return b
}

func (tx *memoryTx) Increment(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	if !creditType(entry.Type) {
		return nil, domain.Invalid("transaction_type", "cannot be credited")
	}
	at := entryTime(entry)

	b := tx.balanceFor(entry.TenantID, entry.CustomerID, at)
	b.CurrentBalance += entry.Points
	b.TotalPointsEarned += entry.Points
	if entry.Type.IsEarnType() {
		earnedAt := at
		b.LastEarnedAt = &earnedAt
	}
	b.UpdatedAt = at
	put(tx, tx.balances, domain.CustomerKey{TenantID: entry.TenantID, CustomerID: entry.CustomerID}, b)

	created := newTransaction(entry, entry.Points)
	tx.appendTransaction(cloneTransaction(*created))
	return created, nil
}

func (tx *memoryTx) TryDecrement(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	if !debitType(entry.Type) {
		return nil, domain.Invalid("transaction_type", "cannot be debited")
	}
	at := entryTime(entry)

	key := domain.CustomerKey{TenantID: entry.TenantID, CustomerID: entry.CustomerID}
	b, ok := tx.balances[key]
	if !ok || b.CurrentBalance < entry.Points {
		return nil, domain.ErrInsufficientPoints
	}
	b.CurrentBalance -= entry.Points
	if entry.Type == domain.TransactionRedeemed {
		b.TotalPointsRedeemed += entry.Points
		redeemedAt := at
		b.LastRedeemedAt = &redeemedAt
	}
	b.UpdatedAt = at
	put(tx, tx.balances, key, b)

	created := newTransaction(entry, -entry.Points)
	tx.appendTransaction(cloneTransaction(*created))
	return created, nil
}

func (tx *memoryTx) Refund(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error) {
	entry.Type = domain.TransactionRefunded
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	at := entryTime(entry)

	b := tx.balanceFor(entry.TenantID, entry.CustomerID, at)
	b.CurrentBalance += entry.Points
	b.TotalPointsRedeemed -= entry.Points
	if b.TotalPointsRedeemed < 0 {
		b.TotalPointsRedeemed = 0
	}
	b.UpdatedAt = at
	put(tx, tx.balances, domain.CustomerKey{TenantID: entry.TenantID, CustomerID: entry.CustomerID}, b)

	created := newTransaction(entry, entry.Points)
	tx.appendTransaction(cloneTransaction(*created))
	return created, nil
}

func (tx *memoryTx) ExpirePoints(ctx context.Context, batch ExpiryBatch) (*ExpiryResult, error) {
	result := &ExpiryResult{}
	for _, id := range batch.TransactionIDs {
		i, ok := tx.txIndex[id]
		if !ok {
			continue
		}
		t := tx.transactions[i]
		if t.TenantID != batch.TenantID || t.CustomerID != batch.CustomerID || !isDue(t, batch.Now) {
			continue
		}
		t.Expired = true
		tx.replaceTransaction(i, t)
		result.ExpiredIDs = append(result.ExpiredIDs, id)
		result.NominalPoints += t.Points
	}
	if len(result.ExpiredIDs) == 0 {
		return result, nil
	}

	key := domain.CustomerKey{TenantID: batch.TenantID, CustomerID: batch.CustomerID}
	b := tx.balanceFor(batch.TenantID, batch.CustomerID, batch.Now)
	deducted := result.NominalPoints
	if b.CurrentBalance < deducted {
		deducted = b.CurrentBalance
	}
	b.CurrentBalance -= deducted
	b.TotalPointsExpired += deducted
	b.UpdatedAt = batch.Now
	put(tx, tx.balances, key, b)

	created := newExpiryTransaction(batch, result)
	created.Points = -deducted
	result.PointsDeducted = deducted
	tx.appendTransaction(cloneTransaction(*created))
	result.Transaction = created
	return result, nil
}

func (tx *memoryTx) StampExpiryWarning(ctx context.Context, transactionIDs []uuid.UUID, at time.Time) (int64, error) {
	var stamped int64
	for _, id := range transactionIDs {
		i, ok := tx.txIndex[id]
		if !ok {
			continue
		}
		t := tx.transactions[i]
		if t.Expired || t.ExpiryWarned() {
			continue
		}
		metadata := cloneMetadata(t.Metadata)
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata[domain.MetadataExpiryWarningSentAt] = at.UTC().Format(time.RFC3339)
		t.Metadata = metadata
		tx.replaceTransaction(i, t)
		stamped++
	}
	return stamped, nil
}

func (tx *memoryTx) CreateReward(ctx context.Context, reward *domain.Reward) error {
	if reward.ID == uuid.Nil {
		reward.ID = uuid.New()
	}
	put(tx, tx.rewards, reward.ID, *reward)
	return nil
}

func (tx *memoryTx) UpdateReward(ctx context.Context, reward *domain.Reward) error {
	existing, ok := tx.rewards[reward.ID]
	if !ok || existing.TenantID != reward.TenantID || existing.DeletedAt != nil {
		return domain.ErrRewardNotFound
	}
	updated := *reward
	updated.TotalRedemptions = existing.TotalRedemptions
	updated.CreatedAt = existing.CreatedAt
	updated.DeletedAt = nil
	put(tx, tx.rewards, reward.ID, updated)
	return nil
}

func (tx *memoryTx) SoftDeleteReward(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error {
	rw, ok := tx.rewards[rewardID]
	if !ok || rw.TenantID != tenantID || rw.DeletedAt != nil {
		return domain.ErrRewardNotFound
	}
	deletedAt := at
	rw.DeletedAt = &deletedAt
	rw.IsActive = false
	rw.UpdatedAt = at
	put(tx, tx.rewards, rewardID, rw)
	return nil
}

func (tx *memoryTx) ConsumeRewardStock(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error {
	rw, ok := tx.rewards[rewardID]
	if !ok || rw.TenantID != tenantID {
		return domain.ErrRewardNotFound
	}
	if rw.StockQuantity != nil {
		if *rw.StockQuantity <= 0 {
			return domain.ErrRewardOutOfStock
		}
		stock := *rw.StockQuantity - 1
		rw.StockQuantity = &stock
	}
	rw.TotalRedemptions++
	rw.UpdatedAt = at
	put(tx, tx.rewards, rewardID, rw)
	return nil
}

func (tx *memoryTx) RestoreRewardStock(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error {
	rw, ok := tx.rewards[rewardID]
	if !ok || rw.TenantID != tenantID {
		return domain.ErrRewardNotFound
	}
	if rw.StockQuantity != nil {
		stock := *rw.StockQuantity + 1
		rw.StockQuantity = &stock
	}
	if rw.TotalRedemptions > 0 {
		rw.TotalRedemptions--
	}
	rw.UpdatedAt = at
	put(tx, tx.rewards, rewardID, rw)
	return nil
}

func (tx *memoryTx) CreateRedemption(ctx context.Context, redemption *domain.RewardRedemption) error {
	for _, rd := range tx.redemptions {
		if rd.TenantID != redemption.TenantID {
			continue
		}
		if rd.RedemptionCode == redemption.RedemptionCode {
			return ErrDuplicateRedemptionCode
		}
		if redemption.IdempotencyKey != nil && rd.IdempotencyKey != nil && *rd.IdempotencyKey == *redemption.IdempotencyKey {
			return ErrDuplicateIdempotencyKey
		}
		if rd.Status == domain.RedemptionPending && redemption.Status == domain.RedemptionPending &&
			rd.CustomerID == redemption.CustomerID && rd.RewardID == redemption.RewardID {
			return ErrDuplicatePendingRedemption
		}
	}
	if redemption.ID == uuid.Nil {
		redemption.ID = uuid.New()
	}
	put(tx, tx.redemptions, redemption.ID, *redemption)
	return nil
}

// transitionRedemption applies mutate when the redemption is currently pending.
func (tx *memoryTx) transitionRedemption(tenantID, redemptionID uuid.UUID, mutate func(rd *domain.RewardRedemption)) (*domain.RewardRedemption, error) {
	rd, ok := tx.redemptions[redemptionID]
	if !ok || rd.TenantID != tenantID {
		return nil, domain.ErrRedemptionNotFound
	}
	if rd.Status != domain.RedemptionPending {
		return nil, ErrStateConflict
	}
	mutate(&rd)
	put(tx, tx.redemptions, redemptionID, rd)
	return &rd, nil
}

func (tx *memoryTx) MarkRedemptionVerified(ctx context.Context, tenantID, redemptionID uuid.UUID, userID string, at time.Time) (*domain.RewardRedemption, error) {
	return tx.transitionRedemption(tenantID, redemptionID, func(rd *domain.RewardRedemption) {
		verifiedAt := at
		rd.VerifiedAt = &verifiedAt
		rd.VerifiedByUserID = &userID
		rd.UpdatedAt = at
	})
}

func (tx *memoryTx) FulfillRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, userID string, notes *string, at time.Time) (*domain.RewardRedemption, error) {
	return tx.transitionRedemption(tenantID, redemptionID, func(rd *domain.RewardRedemption) {
		fulfilledAt := at
		rd.Status = domain.RedemptionFulfilled
		rd.FulfilledAt = &fulfilledAt
		rd.FulfilledByUserID = &userID
		rd.FulfilmentNotes = notes
		rd.UpdatedAt = at
	})
}

func (tx *memoryTx) CancelRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, reason string, at time.Time) (*domain.RewardRedemption, error) {
	return tx.transitionRedemption(tenantID, redemptionID, func(rd *domain.RewardRedemption) {
		cancelledAt := at
		rd.Status = domain.RedemptionCancelled
		rd.CancelledAt = &cancelledAt
		rd.CancellationReason = &reason
		rd.UpdatedAt = at
	})
}

func (tx *memoryTx) ExpireRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, at time.Time) (*domain.RewardRedemption, error) {
	return tx.transitionRedemption(tenantID, redemptionID, func(rd *domain.RewardRedemption) {
		expiredAt := at
		rd.Status = domain.RedemptionExpired
		rd.ExpiredAt = &expiredAt
		rd.UpdatedAt = at
	})
}

func (tx *memoryTx) SetRedemptionRefund(ctx context.Context, tenantID, redemptionID, transactionID uuid.UUID) error {
	rd, ok := tx.redemptions[redemptionID]
	if !ok || rd.TenantID != tenantID {
		return domain.ErrRedemptionNotFound
	}
	rd.RefundTransactionID = &transactionID
	put(tx, tx.redemptions, redemptionID, rd)
	return nil
}

func (tx *memoryTx) CreateClaim(ctx context.Context, claim *domain.PurchaseClaim) error {
	if claim.ID == uuid.Nil {
		claim.ID = uuid.New()
	}
	put(tx, tx.claims, claim.ID, *claim)
	return nil
}

func (tx *memoryTx) transitionClaim(tenantID, claimID uuid.UUID, mutate func(c *domain.PurchaseClaim)) (*domain.PurchaseClaim, error) {
	c, ok := tx.claims[claimID]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrClaimNotFound
	}
	if c.Status != domain.ClaimStatusPending {
		return nil, ErrStateConflict
	}
	mutate(&c)
	put(tx, tx.claims, claimID, c)
	return &c, nil
}

func (tx *memoryTx) ApproveClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID string, purchaseID uuid.UUID, at time.Time) (*domain.PurchaseClaim, error) {
	return tx.transitionClaim(tenantID, claimID, func(c *domain.PurchaseClaim) {
		approvedAt := at
		c.Status = domain.ClaimStatusApproved
		c.ApprovedAt = &approvedAt
		c.ApprovedByUserID = &userID
		c.PurchaseID = &purchaseID
		c.UpdatedAt = at
	})
}

func (tx *memoryTx) RejectClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID, reason string, at time.Time) (*domain.PurchaseClaim, error) {
	return tx.transitionClaim(tenantID, claimID, func(c *domain.PurchaseClaim) {
		rejectedAt := at
		c.Status = domain.ClaimStatusRejected
		c.RejectedAt = &rejectedAt
		c.RejectedByUserID = &userID
		c.RejectionReason = &reason
		c.UpdatedAt = at
	})
}

func (tx *memoryTx) ExpireClaim(ctx context.Context, tenantID, claimID uuid.UUID, at time.Time) (*domain.PurchaseClaim, error) {
	return tx.transitionClaim(tenantID, claimID, func(c *domain.PurchaseClaim) {
		expiredAt := at
		c.Status = domain.ClaimStatusExpired
		c.ExpiredAt = &expiredAt
		c.UpdatedAt = at
	})
}

// --- helpers ---

func isDue(t domain.PointsTransaction, now time.Time) bool {
	return t.Type.IsEarnType() && !t.Expired && t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

func earlier(a, b time.Time, aID, bID uuid.UUID) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID.String() < bID.String()
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneTransaction(t domain.PointsTransaction) domain.PointsTransaction {
	t.Metadata = cloneMetadata(t.Metadata)
	return t
}

func cloneTenant(t domain.Tenant) *domain.Tenant {
	if t.Settings.Notifications != nil {
		prefs := make(map[domain.EventKind]bool, len(t.Settings.Notifications))
		for k, v := range t.Settings.Notifications {
			prefs[k] = v
		}
		t.Settings.Notifications = prefs
	}
	return &t
}

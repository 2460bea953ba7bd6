/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface: the
 * read queries, shared row scanners, and the `InTx` unit boundary. The guarded write
 * primitives live in postgres_repository_ledger.go.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver, pool and error types.
 * - internal/domain: the ledger models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pointhed/loyalty-ledger/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository is the PostgreSQL-backed Repository.
type PostgresRepository struct {
	pgReader
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pgReader: pgReader{q: db}, db: db}
}

// InTx runs fn inside a database transaction, committing only when fn succeeds.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	if err := fn(&pgTx{pgReader: pgReader{q: dbTx}, tx: dbTx}); err != nil {
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// pgReader implements Reader over either the pool or an open transaction.
type pgReader struct {
	q querier
}

const (
	tenantColumns      = `id, name, settings, created_at, updated_at`
	customerColumns    = `id, tenant_id, phone, name, loyalty_status, total_purchases, total_spent_minor, last_purchase_at, claim_day, claim_day_count, created_at, updated_at`
	balanceColumns     = `tenant_id, customer_id, current_balance, total_points_earned, total_points_redeemed, total_points_expired, last_earned_at, last_redeemed_at, created_at, updated_at`
	transactionColumns = `id, tenant_id, customer_id, transaction_type, points, expires_at, expired, description, metadata, purchase_id, reward_redemption_id, created_at`
	purchaseColumns    = `id, tenant_id, customer_id, amount_minor, currency, points_earned, source, purchase_date, description, claim_id, recorded_by_user_id, external_ref, created_at`
	rewardColumns      = `id, tenant_id, name, description, points_required, value_minor, stock_quantity, max_redemptions_per_customer, valid_from, valid_until, is_active, total_redemptions, deleted_at, created_at, updated_at`
	redemptionColumns  = `id, tenant_id, customer_id, reward_id, redemption_code, points_deducted, status, idempotency_key, expires_at, verified_by_user_id, verified_at, fulfilled_at, fulfilled_by_user_id, fulfilment_notes, cancelled_at, cancellation_reason, expired_at, refund_transaction_id, created_at, updated_at`
	claimColumns       = `id, tenant_id, customer_id, phone, amount_minor, currency, purchase_date, channel, receipt_url, status, expires_at, approved_by_user_id, approved_at, rejected_by_user_id, rejected_at, rejection_reason, expired_at, purchase_id, created_at, updated_at`
)

func (r pgReader) GetTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	tenant, err := scanTenant(r.q.QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

func (r pgReader) GetCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = $1 AND id = $2`
	customer, err := scanCustomer(r.q.QueryRow(ctx, query, tenantID, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}
	return customer, nil
}

func (r pgReader) FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = $1 AND phone = $2`
	customer, err := scanCustomer(r.q.QueryRow(ctx, query, tenantID, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}
	return customer, nil
}

func (r pgReader) ListCustomers(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, tenantID, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return collect(rows, scanCustomer)
}

func (r pgReader) GetBalance(ctx context.Context, tenantID, customerID uuid.UUID) (*domain.CustomerPointsBalance, error) {
	query := `SELECT ` + balanceColumns + ` FROM customer_points_balances WHERE tenant_id = $1 AND customer_id = $2`
	balance, err := scanBalance(r.q.QueryRow(ctx, query, tenantID, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.CustomerPointsBalance{TenantID: tenantID, CustomerID: customerID}, nil
		}
		return nil, err
	}
	return balance, nil
}

func (r pgReader) ListTransactions(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.PointsTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM points_transactions
		WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.q.Query(ctx, query, tenantID, customerID, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list points transactions: %w", err)
	}
	return collect(rows, scanTransaction)
}

func (r pgReader) ListDueExpiries(ctx context.Context, now time.Time, limit int, excludeCustomers []uuid.UUID) ([]domain.PointsTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM points_transactions
		WHERE transaction_type IN ('earn', 'welcome_bonus')
		  AND expired = FALSE
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		  AND NOT (customer_id = ANY($3::uuid[]))
		ORDER BY expires_at, id
		LIMIT $2
	`
	if excludeCustomers == nil {
		excludeCustomers = []uuid.UUID{}
	}
	rows, err := r.q.Query(ctx, query, now, limitOrAll(limit), excludeCustomers)
	if err != nil {
		return nil, fmt.Errorf("failed to list due expiries: %w", err)
	}
	return collect(rows, scanTransaction)
}

func (r pgReader) ListExpiringSoon(ctx context.Context, now, until time.Time, limit int) ([]domain.PointsTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM points_transactions
		WHERE transaction_type IN ('earn', 'welcome_bonus')
		  AND expired = FALSE
		  AND expires_at > $1
		  AND expires_at <= $2
		  AND metadata->>'expiry_warning_sent_at' IS NULL
		ORDER BY expires_at, id
		LIMIT $3
	`
	rows, err := r.q.Query(ctx, query, now, until, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring points: %w", err)
	}
	return collect(rows, scanTransaction)
}

func (r pgReader) GetPurchase(ctx context.Context, tenantID, purchaseID uuid.UUID) (*domain.Purchase, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE tenant_id = $1 AND id = $2`
	purchase, err := scanPurchase(r.q.QueryRow(ctx, query, tenantID, purchaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPurchaseNotFound
		}
		return nil, err
	}
	return purchase, nil
}

func (r pgReader) ListPurchases(ctx context.Context, tenantID, customerID uuid.UUID, limit, offset int) ([]domain.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY purchase_date DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.q.Query(ctx, query, tenantID, customerID, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return collect(rows, scanPurchase)
}

func (r pgReader) GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*domain.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`
	reward, err := scanReward(r.q.QueryRow(ctx, query, tenantID, rewardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRewardNotFound
		}
		return nil, err
	}
	return reward, nil
}

func (r pgReader) ListRewards(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]domain.Reward, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM rewards
		WHERE tenant_id = $1 AND deleted_at IS NULL AND ($2 OR is_active)
		ORDER BY points_required, name
	`
	rows, err := r.q.Query(ctx, query, tenantID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	return collect(rows, scanReward)
}

func (r pgReader) GetRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID) (*domain.RewardRedemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM reward_redemptions WHERE tenant_id = $1 AND id = $2`
	return r.findRedemption(ctx, query, tenantID, redemptionID)
}

func (r pgReader) FindRedemptionByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.RewardRedemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM reward_redemptions WHERE tenant_id = $1 AND redemption_code = $2`
	return r.findRedemption(ctx, query, tenantID, strings.ToUpper(strings.TrimSpace(code)))
}

func (r pgReader) FindRedemptionByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.RewardRedemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM reward_redemptions WHERE tenant_id = $1 AND idempotency_key = $2`
	return r.findRedemption(ctx, query, tenantID, key)
}

func (r pgReader) findRedemption(ctx context.Context, query string, args ...any) (*domain.RewardRedemption, error) {
	redemption, err := scanRedemption(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRedemptionNotFound
		}
		return nil, err
	}
	return redemption, nil
}

func (r pgReader) HasPendingRedemption(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reward_redemptions
			WHERE tenant_id = $1 AND customer_id = $2 AND reward_id = $3 AND status = 'pending'
		)
	`
	if err := r.q.QueryRow(ctx, query, tenantID, customerID, rewardID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending redemption: %w", err)
	}
	return exists, nil
}

func (r pgReader) CountCustomerRedemptions(ctx context.Context, tenantID, customerID, rewardID uuid.UUID) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM reward_redemptions
		WHERE tenant_id = $1 AND customer_id = $2 AND reward_id = $3
		  AND status NOT IN ('cancelled', 'expired')
	`
	if err := r.q.QueryRow(ctx, query, tenantID, customerID, rewardID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count customer redemptions: %w", err)
	}
	return count, nil
}

func (r pgReader) ListRedemptions(ctx context.Context, tenantID uuid.UUID, filter RedemptionFilter) ([]domain.RewardRedemption, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	query := `
		SELECT ` + redemptionColumns + `
		FROM reward_redemptions
		WHERE tenant_id = $1
		  AND ($2::uuid IS NULL OR customer_id = $2::uuid)
		  AND ($3::text IS NULL OR status = $3::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.q.Query(ctx, query, tenantID, filter.CustomerID, status, limitOrAll(filter.Limit), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	return collect(rows, scanRedemption)
}

func (r pgReader) ListStaleRedemptions(ctx context.Context, now time.Time, limit int) ([]domain.RewardRedemption, error) {
	query := `
		SELECT ` + redemptionColumns + `
		FROM reward_redemptions
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, now, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale redemptions: %w", err)
	}
	return collect(rows, scanRedemption)
}

func (r pgReader) GetClaim(ctx context.Context, tenantID, claimID uuid.UUID) (*domain.PurchaseClaim, error) {
	query := `SELECT ` + claimColumns + ` FROM purchase_claims WHERE tenant_id = $1 AND id = $2`
	claim, err := scanClaim(r.q.QueryRow(ctx, query, tenantID, claimID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClaimNotFound
		}
		return nil, err
	}
	return claim, nil
}

func (r pgReader) ListClaims(ctx context.Context, tenantID uuid.UUID, filter ClaimFilter) ([]domain.PurchaseClaim, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	query := `
		SELECT ` + claimColumns + `
		FROM purchase_claims
		WHERE tenant_id = $1 AND ($2::text IS NULL OR status = $2::text)
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4
	`
	rows, err := r.q.Query(ctx, query, tenantID, status, limitOrAll(filter.Limit), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase claims: %w", err)
	}
	return collect(rows, scanClaim)
}

func (r pgReader) HasRecentDuplicateClaim(ctx context.Context, q DuplicateClaimQuery) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM purchase_claims
			WHERE tenant_id = $1 AND customer_id = $2 AND amount_minor = $3
			  AND purchase_date = $4 AND channel = $5 AND created_at >= $6
		)
	`
	err := r.q.QueryRow(ctx, query, q.TenantID, q.CustomerID, q.AmountMinor, q.PurchaseDate, q.Channel, q.Since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate claim: %w", err)
	}
	return exists, nil
}

func (r pgReader) ListStaleClaims(ctx context.Context, now time.Time, limit int) ([]domain.PurchaseClaim, error) {
	query := `
		SELECT ` + claimColumns + `
		FROM purchase_claims
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, now, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale claims: %w", err)
	}
	return collect(rows, scanClaim)
}

// --- scanners ---

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var tenant domain.Tenant
	var settings []byte
	if err := row.Scan(&tenant.ID, &tenant.Name, &settings, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
		return nil, err
	}
	decoded, err := domain.DecodeTenantSettings(settings)
	if err != nil {
		return nil, err
	}
	tenant.Settings = decoded
	return &tenant, nil
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.LoyaltyStatus,
		&c.TotalPurchases, &c.TotalSpentMinor, &c.LastPurchaseAt,
		&c.ClaimDay, &c.ClaimDayCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanBalance(row rowScanner) (*domain.CustomerPointsBalance, error) {
	var b domain.CustomerPointsBalance
	err := row.Scan(
		&b.TenantID, &b.CustomerID, &b.CurrentBalance, &b.TotalPointsEarned,
		&b.TotalPointsRedeemed, &b.TotalPointsExpired, &b.LastEarnedAt, &b.LastRedeemedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanTransaction(row rowScanner) (*domain.PointsTransaction, error) {
	var t domain.PointsTransaction
	var metadata []byte
	err := row.Scan(
		&t.ID, &t.TenantID, &t.CustomerID, &t.Type, &t.Points, &t.ExpiresAt, &t.Expired,
		&t.Description, &metadata, &t.PurchaseID, &t.RewardRedemptionID, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
		}
		if len(t.Metadata) == 0 {
			t.Metadata = nil
		}
	}
	return &t, nil
}

func scanPurchase(row rowScanner) (*domain.Purchase, error) {
	var p domain.Purchase
	err := row.Scan(
		&p.ID, &p.TenantID, &p.CustomerID, &p.AmountMinor, &p.Currency, &p.PointsEarned,
		&p.Source, &p.PurchaseDate, &p.Description, &p.ClaimID, &p.RecordedByUserID, &p.ExternalRef, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanReward(row rowScanner) (*domain.Reward, error) {
	var rw domain.Reward
	err := row.Scan(
		&rw.ID, &rw.TenantID, &rw.Name, &rw.Description, &rw.PointsRequired, &rw.ValueMinor,
		&rw.StockQuantity, &rw.MaxRedemptionsPerCustomer, &rw.ValidFrom, &rw.ValidUntil,
		&rw.IsActive, &rw.TotalRedemptions, &rw.DeletedAt, &rw.CreatedAt, &rw.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rw, nil
}

func scanRedemption(row rowScanner) (*domain.RewardRedemption, error) {
	var rd domain.RewardRedemption
	err := row.Scan(
		&rd.ID, &rd.TenantID, &rd.CustomerID, &rd.RewardID, &rd.RedemptionCode, &rd.PointsDeducted,
		&rd.Status, &rd.IdempotencyKey, &rd.ExpiresAt, &rd.VerifiedByUserID, &rd.VerifiedAt,
		&rd.FulfilledAt, &rd.FulfilledByUserID, &rd.FulfilmentNotes, &rd.CancelledAt,
		&rd.CancellationReason, &rd.ExpiredAt, &rd.RefundTransactionID, &rd.CreatedAt, &rd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rd, nil
}

func scanClaim(row rowScanner) (*domain.PurchaseClaim, error) {
	var c domain.PurchaseClaim
	err := row.Scan(
		&c.ID, &c.TenantID, &c.CustomerID, &c.Phone, &c.AmountMinor, &c.Currency, &c.PurchaseDate,
		&c.Channel, &c.ReceiptURL, &c.Status, &c.ExpiresAt, &c.ApprovedByUserID, &c.ApprovedAt,
		&c.RejectedByUserID, &c.RejectedAt, &c.RejectionReason, &c.ExpiredAt, &c.PurchaseID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// limitOrAll maps a non-positive limit to SQL NULL, which Postgres treats as no limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func foreignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction metadata: %w", err)
	}
	return string(raw), nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pointhed/loyalty-ledger/internal/domain"
)

// pgTx is the write side of one PostgreSQL transaction. Every balance, stock and status
// change is a single conditional UPDATE; none of them take explicit row locks.
type pgTx struct {
	pgReader
	tx pgx.Tx
}

func (t *pgTx) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
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
	settings, err := domain.EncodeTenantSettings(tenant.Settings)
	if err != nil {
		return err
	}
	query := `INSERT INTO tenants (id, name, settings, created_at, updated_at) VALUES ($1, $2, $3::jsonb, $4, $5)`
	if _, err := t.tx.Exec(ctx, query, tenant.ID, tenant.Name, string(settings), tenant.CreatedAt, tenant.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateTenantSettings(ctx context.Context, tenantID uuid.UUID, settings domain.TenantSettings, at time.Time) error {
	raw, err := domain.EncodeTenantSettings(settings)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE tenants SET settings = $2::jsonb, updated_at = $3 WHERE id = $1`, tenantID, string(raw), at)
	if err != nil {
		return fmt.Errorf("failed to update tenant settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func (t *pgTx) CreateCustomer(ctx context.Context, customer *domain.Customer) error {
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	if customer.LoyaltyStatus == "" {
		customer.LoyaltyStatus = domain.LoyaltyStatusActive
	}
	query := `
		INSERT INTO customers (id, tenant_id, phone, name, loyalty_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query,
		customer.ID, customer.TenantID, customer.Phone, customer.Name,
		string(customer.LoyaltyStatus), customer.CreatedAt, customer.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.ErrDuplicateCustomer
		}
		if foreignKeyViolation(err) {
			return domain.ErrTenantNotFound
		}
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func (t *pgTx) SetCustomerStatus(ctx context.Context, tenantID, customerID uuid.UUID, status domain.LoyaltyStatus, at time.Time) error {
	query := `UPDATE customers SET loyalty_status = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`
	tag, err := t.tx.Exec(ctx, query, tenantID, customerID, string(status), at)
	if err != nil {
		return fmt.Errorf("failed to update customer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func (t *pgTx) RecordCustomerPurchase(ctx context.Context, tenantID, customerID uuid.UUID, amountMinor int64, at time.Time) error {
	query := `
		UPDATE customers
		SET total_purchases = total_purchases + 1,
		    total_spent_minor = total_spent_minor + $3,
		    last_purchase_at = GREATEST(COALESCE(last_purchase_at, $4), $4),
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`
	tag, err := t.tx.Exec(ctx, query, tenantID, customerID, amountMinor, at)
	if err != nil {
		return fmt.Errorf("failed to update customer purchase counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func (t *pgTx) ReserveClaimSlot(ctx context.Context, tenantID, customerID uuid.UUID, day string, limit int, at time.Time) error {
	query := `
		UPDATE customers
		SET claim_day_count = CASE WHEN claim_day = $3 THEN claim_day_count + 1 ELSE 1 END,
		    claim_day = $3,
		    updated_at = $5
		WHERE tenant_id = $1 AND id = $2
		  AND (claim_day <> $3 OR claim_day_count < $4)
	`
	tag, err := t.tx.Exec(ctx, query, tenantID, customerID, day, limit, at)
	if err != nil {
		return fmt.Errorf("failed to reserve claim slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLimitReached
	}
	return nil
}

func (t *pgTx) CreatePurchase(ctx context.Context, purchase *domain.Purchase) error {
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	query := `
		INSERT INTO purchases (
			id, tenant_id, customer_id, amount_minor, currency, points_earned, source,
			purchase_date, description, claim_id, recorded_by_user_id, external_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := t.tx.Exec(ctx, query,
		purchase.ID, purchase.TenantID, purchase.CustomerID, purchase.AmountMinor, purchase.Currency,
		purchase.PointsEarned, string(purchase.Source), purchase.PurchaseDate, purchase.Description,
		purchase.ClaimID, purchase.RecordedByUserID, purchase.ExternalRef, purchase.CreatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == "purchases_tenant_external_ref_key" {
			return ErrDuplicatePurchaseRef
		}
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

func (t *pgTx) insertTransaction(ctx context.Context, txn *domain.PointsTransaction) error {
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO points_transactions (
			id, tenant_id, customer_id, transaction_type, points, expires_at, expired,
			description, metadata, purchase_id, reward_redemption_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
	`
	_, err = t.tx.Exec(ctx, query,
		txn.ID, txn.TenantID, txn.CustomerID, string(txn.Type), txn.Points, txn.ExpiresAt, txn.Expired,
		txn.Description, metadata, txn.PurchaseID, txn.RewardRedemptionID, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert points transaction: %w", err)
	}
	return nil
}

// Increment credits the balance, creating the row on first use.
func (t *pgTx) Increment(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	if !creditType(entry.Type) {
		return nil, domain.Invalid("transaction_type", "cannot be credited")
	}
	at := entryTime(entry)

	var earnedAt *time.Time
	if entry.Type.IsEarnType() {
		earnedAt = &at
	}
	query := `
		INSERT INTO customer_points_balances (
			tenant_id, customer_id, current_balance, total_points_earned, last_earned_at, created_at, updated_at
		) VALUES ($1, $2, $3, $3, $4, $5, $5)
		ON CONFLICT (tenant_id, customer_id) DO UPDATE
		SET current_balance = customer_points_balances.current_balance + EXCLUDED.current_balance,
		    total_points_earned = customer_points_balances.total_points_earned + EXCLUDED.total_points_earned,
		    last_earned_at = COALESCE(EXCLUDED.last_earned_at, customer_points_balances.last_earned_at),
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := t.tx.Exec(ctx, query, entry.TenantID, entry.CustomerID, entry.Points, earnedAt, at); err != nil {
		return nil, fmt.Errorf("failed to credit balance: %w", err)
	}

	created := newTransaction(entry, entry.Points)
	if err := t.insertTransaction(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// TryDecrement debits the balance only while it covers the full amount.
func (t *pgTx) TryDecrement(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	if !debitType(entry.Type) {
		return nil, domain.Invalid("transaction_type", "cannot be debited")
	}
	at := entryTime(entry)

	var redeemed int64
	var redeemedAt *time.Time
	if entry.Type == domain.TransactionRedeemed {
		redeemed = entry.Points
		redeemedAt = &at
	}
	query := `
		UPDATE customer_points_balances
		SET current_balance = current_balance - $3,
		    total_points_redeemed = total_points_redeemed + $4,
		    last_redeemed_at = COALESCE($5, last_redeemed_at),
		    updated_at = $6
		WHERE tenant_id = $1 AND customer_id = $2 AND current_balance >= $3
	`
	tag, err := t.tx.Exec(ctx, query, entry.TenantID, entry.CustomerID, entry.Points, redeemed, redeemedAt, at)
	if err != nil {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrInsufficientPoints
	}

	created := newTransaction(entry, -entry.Points)
	if err := t.insertTransaction(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// Refund credits points back and reverses them out of the redeemed total.
func (t *pgTx) Refund(ctx context.Context, entry LedgerEntry) (*domain.PointsTransaction, error) {
	entry.Type = domain.TransactionRefunded
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	at := entryTime(entry)

	query := `
		INSERT INTO customer_points_balances (tenant_id, customer_id, current_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (tenant_id, customer_id) DO UPDATE
		SET current_balance = customer_points_balances.current_balance + EXCLUDED.current_balance,
		    total_points_redeemed = GREATEST(customer_points_balances.total_points_redeemed - EXCLUDED.current_balance, 0),
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := t.tx.Exec(ctx, query, entry.TenantID, entry.CustomerID, entry.Points, at); err != nil {
		return nil, fmt.Errorf("failed to refund balance: %w", err)
	}

	created := newTransaction(entry, entry.Points)
	if err := t.insertTransaction(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// ExpirePoints flips the still-due rows of the batch and books one consolidated expiry.
// Rows already expired by a concurrent run are skipped, so repeating a batch is a no-op.
func (t *pgTx) ExpirePoints(ctx context.Context, batch ExpiryBatch) (*ExpiryResult, error) {
	result := &ExpiryResult{}
	if len(batch.TransactionIDs) == 0 {
		return result, nil
	}

	flipQuery := `
		UPDATE points_transactions
		SET expired = TRUE
		WHERE tenant_id = $1 AND customer_id = $2
		  AND id = ANY($3::uuid[])
		  AND expired = FALSE
		  AND transaction_type IN ('earn', 'welcome_bonus')
		  AND expires_at IS NOT NULL
		  AND expires_at <= $4
		RETURNING id, points
	`
	rows, err := t.tx.Query(ctx, flipQuery, batch.TenantID, batch.CustomerID, uuidStrings(batch.TransactionIDs), batch.Now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark points expired: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var points int64
		if err := rows.Scan(&id, &points); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expired transaction: %w", err)
		}
		result.ExpiredIDs = append(result.ExpiredIDs, id)
		result.NominalPoints += points
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to mark points expired: %w", err)
	}
	if len(result.ExpiredIDs) == 0 {
		return result, nil
	}

	// The deduction is capped by the balance the customer still holds; points already
	// spent are not clawed back.
	balanceQuery := `
		UPDATE customer_points_balances b
		SET current_balance = b.current_balance - d.deducted,
		    total_points_expired = b.total_points_expired + d.deducted,
		    updated_at = $4
		FROM (
			SELECT LEAST(current_balance, $3::bigint) AS deducted
			FROM customer_points_balances
			WHERE tenant_id = $1 AND customer_id = $2
		) d
		WHERE b.tenant_id = $1 AND b.customer_id = $2 AND b.current_balance >= d.deducted
		RETURNING d.deducted
	`
	err = t.tx.QueryRow(ctx, balanceQuery, batch.TenantID, batch.CustomerID, result.NominalPoints, batch.Now).Scan(&result.PointsDeducted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateConflict
		}
		return nil, fmt.Errorf("failed to deduct expired points: %w", err)
	}

	created := newExpiryTransaction(batch, result)
	created.Points = -result.PointsDeducted
	if err := t.insertTransaction(ctx, created); err != nil {
		return nil, err
	}
	result.Transaction = created
	return result, nil
}

func (t *pgTx) StampExpiryWarning(ctx context.Context, transactionIDs []uuid.UUID, at time.Time) (int64, error) {
	if len(transactionIDs) == 0 {
		return 0, nil
	}
	query := `
		UPDATE points_transactions
		SET metadata = metadata || jsonb_build_object('expiry_warning_sent_at', $2::text)
		WHERE id = ANY($1::uuid[])
		  AND expired = FALSE
		  AND metadata->>'expiry_warning_sent_at' IS NULL
	`
	tag, err := t.tx.Exec(ctx, query, uuidStrings(transactionIDs), at.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to stamp expiry warning: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) CreateReward(ctx context.Context, reward *domain.Reward) error {
	if reward.ID == uuid.Nil {
		reward.ID = uuid.New()
	}
	query := `
		INSERT INTO rewards (
			id, tenant_id, name, description, points_required, value_minor, stock_quantity,
			max_redemptions_per_customer, valid_from, valid_until, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := t.tx.Exec(ctx, query,
		reward.ID, reward.TenantID, reward.Name, reward.Description, reward.PointsRequired, reward.ValueMinor,
		reward.StockQuantity, reward.MaxRedemptionsPerCustomer, reward.ValidFrom, reward.ValidUntil,
		reward.IsActive, reward.CreatedAt, reward.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reward: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateReward(ctx context.Context, reward *domain.Reward) error {
	query := `
		UPDATE rewards
		SET name = $3, description = $4, points_required = $5, value_minor = $6, stock_quantity = $7,
		    max_redemptions_per_customer = $8, valid_from = $9, valid_until = $10, is_active = $11,
		    updated_at = $12
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
	`
	tag, err := t.tx.Exec(ctx, query,
		reward.TenantID, reward.ID, reward.Name, reward.Description, reward.PointsRequired, reward.ValueMinor,
		reward.StockQuantity, reward.MaxRedemptionsPerCustomer, reward.ValidFrom, reward.ValidUntil,
		reward.IsActive, reward.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update reward: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRewardNotFound
	}
	return nil
}

func (t *pgTx) SoftDeleteReward(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error {
	query := `
		UPDATE rewards SET deleted_at = $3, is_active = FALSE, updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
	`
	tag, err := t.tx.Exec(ctx, query, tenantID, rewardID, at)
	if err != nil {
		return fmt.Errorf("failed to delete reward: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRewardNotFound
	}
	return nil
}

// ConsumeRewardStock takes one unit of stock; unlimited rewards only bump the counter.
func (t *pgTx) ConsumeRewardStock(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error {
	query := `
		UPDATE rewards
		SET stock_quantity = CASE WHEN stock_quantity IS NULL THEN NULL ELSE stock_quantity - 1 END,
		    total_redemptions = total_redemptions + 1,
		    updated_at = $3
		WHERE tenant_id = $1 AND id = $2
		  AND (stock_quantity IS NULL OR stock_quantity > 0)
	`
	tag, err := t.tx.Exec(ctx, query, tenantID, rewardID, at)
	if err != nil {
		return fmt.Errorf("failed to consume reward stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRewardOutOfStock
	}
	return nil
}

func (t *pgTx) RestoreRewardStock(ctx context.Context, tenantID, rewardID uuid.UUID, at time.Time) error {
	query := `
		UPDATE rewards
		SET stock_quantity = CASE WHEN stock_quantity IS NULL THEN NULL ELSE stock_quantity + 1 END,
		    total_redemptions = GREATEST(total_redemptions - 1, 0),
		    updated_at = $3
		WHERE tenant_id = $1 AND id = $2
	`
	tag, err := t.tx.Exec(ctx, query, tenantID, rewardID, at)
	if err != nil {
		return fmt.Errorf("failed to restore reward stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRewardNotFound
	}
	return nil
}

func (t *pgTx) CreateRedemption(ctx context.Context, redemption *domain.RewardRedemption) error {
	if redemption.ID == uuid.Nil {
		redemption.ID = uuid.New()
	}
	query := `
		INSERT INTO reward_redemptions (
			id, tenant_id, customer_id, reward_id, redemption_code, points_deducted, status,
			idempotency_key, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.tx.Exec(ctx, query,
		redemption.ID, redemption.TenantID, redemption.CustomerID, redemption.RewardID,
		redemption.RedemptionCode, redemption.PointsDeducted, string(redemption.Status),
		redemption.IdempotencyKey, redemption.ExpiresAt, redemption.CreatedAt, redemption.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case "reward_redemptions_tenant_code_key":
				return ErrDuplicateRedemptionCode
			case "reward_redemptions_tenant_idempotency_key":
				return ErrDuplicateIdempotencyKey
			case "reward_redemptions_one_pending_key":
				return ErrDuplicatePendingRedemption
			}
		}
		return fmt.Errorf("failed to create redemption: %w", err)
	}
	return nil
}

// updateRedemption runs a status transition guarded by status = 'pending'.
func (t *pgTx) updateRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, set string, args ...any) (*domain.RewardRedemption, error) {
	query := `
		UPDATE reward_redemptions
		SET ` + set + `
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
		RETURNING ` + redemptionColumns
	params := append([]any{tenantID, redemptionID}, args...)
	redemption, err := scanRedemption(t.tx.QueryRow(ctx, query, params...))
	if err == nil {
		return redemption, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update redemption: %w", err)
	}
	if _, err := t.GetRedemption(ctx, tenantID, redemptionID); err != nil {
		return nil, err
	}
	return nil, ErrStateConflict
}

func (t *pgTx) MarkRedemptionVerified(ctx context.Context, tenantID, redemptionID uuid.UUID, userID string, at time.Time) (*domain.RewardRedemption, error) {
	return t.updateRedemption(ctx, tenantID, redemptionID,
		`verified_by_user_id = $3, verified_at = $4, updated_at = $4`, userID, at)
}

func (t *pgTx) FulfillRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, userID string, notes *string, at time.Time) (*domain.RewardRedemption, error) {
	return t.updateRedemption(ctx, tenantID, redemptionID,
		`status = 'fulfilled', fulfilled_by_user_id = $3, fulfilment_notes = $4, fulfilled_at = $5, updated_at = $5`,
		userID, notes, at)
}

func (t *pgTx) CancelRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, reason string, at time.Time) (*domain.RewardRedemption, error) {
	return t.updateRedemption(ctx, tenantID, redemptionID,
		`status = 'cancelled', cancellation_reason = $3, cancelled_at = $4, updated_at = $4`, reason, at)
}

func (t *pgTx) ExpireRedemption(ctx context.Context, tenantID, redemptionID uuid.UUID, at time.Time) (*domain.RewardRedemption, error) {
	return t.updateRedemption(ctx, tenantID, redemptionID,
		`status = 'expired', expired_at = $3, updated_at = $3`, at)
}

func (t *pgTx) SetRedemptionRefund(ctx context.Context, tenantID, redemptionID, transactionID uuid.UUID) error {
	query := `UPDATE reward_redemptions SET refund_transaction_id = $3 WHERE tenant_id = $1 AND id = $2`
	tag, err := t.tx.Exec(ctx, query, tenantID, redemptionID, transactionID)
	if err != nil {
		return fmt.Errorf("failed to link refund transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRedemptionNotFound
	}
	return nil
}

func (t *pgTx) CreateClaim(ctx context.Context, claim *domain.PurchaseClaim) error {
	if claim.ID == uuid.Nil {
		claim.ID = uuid.New()
	}
	query := `
		INSERT INTO purchase_claims (
			id, tenant_id, customer_id, phone, amount_minor, currency, purchase_date, channel,
			receipt_url, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := t.tx.Exec(ctx, query,
		claim.ID, claim.TenantID, claim.CustomerID, claim.Phone, claim.AmountMinor, claim.Currency,
		claim.PurchaseDate, claim.Channel, claim.ReceiptURL, string(claim.Status), claim.ExpiresAt,
		claim.CreatedAt, claim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create purchase claim: %w", err)
	}
	return nil
}

// updateClaim runs a review transition guarded by status = 'pending'.
func (t *pgTx) updateClaim(ctx context.Context, tenantID, claimID uuid.UUID, set string, args ...any) (*domain.PurchaseClaim, error) {
	query := `
		UPDATE purchase_claims
		SET ` + set + `
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
		RETURNING ` + claimColumns
	params := append([]any{tenantID, claimID}, args...)
	claim, err := scanClaim(t.tx.QueryRow(ctx, query, params...))
	if err == nil {
		return claim, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update purchase claim: %w", err)
	}
	if _, err := t.GetClaim(ctx, tenantID, claimID); err != nil {
		return nil, err
	}
	return nil, ErrStateConflict
}

func (t *pgTx) ApproveClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID string, purchaseID uuid.UUID, at time.Time) (*domain.PurchaseClaim, error) {
	return t.updateClaim(ctx, tenantID, claimID,
		`status = 'approved', approved_by_user_id = $3, purchase_id = $4, approved_at = $5, updated_at = $5`,
		userID, purchaseID, at)
}

func (t *pgTx) RejectClaim(ctx context.Context, tenantID, claimID uuid.UUID, userID, reason string, at time.Time) (*domain.PurchaseClaim, error) {
	return t.updateClaim(ctx, tenantID, claimID,
		`status = 'rejected', rejected_by_user_id = $3, rejection_reason = $4, rejected_at = $5, updated_at = $5`,
		userID, reason, at)
}

func (t *pgTx) ExpireClaim(ctx context.Context, tenantID, claimID uuid.UUID, at time.Time) (*domain.PurchaseClaim, error) {
	return t.updateClaim(ctx, tenantID, claimID,
		`status = 'expired', expired_at = $3, updated_at = $3`, at)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const txColumns = `id, owner_id, amount::text, currency, provider, method, counterparty, reference,
	status, correlation_id, provider_ref, receipt_number, failure_reason, delivery_attempts,
	client_ip, user_agent, created_at, updated_at, expires_at, completed_at`

// Create inserts a new transaction.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, owner_id, amount, currency, provider, method, counterparty, reference,
		status, correlation_id, provider_ref, receipt_number, failure_reason, delivery_attempts,
		client_ip, user_agent, created_at, updated_at, expires_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.OwnerID, t.Amount.String(), t.Currency, t.Provider, t.Method, t.Counterparty, t.Reference,
		t.Status, t.CorrelationID, t.ProviderRef, t.ReceiptNumber, t.FailureReason, t.DeliveryAttempts,
		t.ClientIP, t.UserAgent, t.CreatedAt, t.UpdatedAt, t.ExpiresAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID. Returns nil, nil when absent.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, txColumns)
	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByCorrelationID fetches a transaction by provider and the provider's
// correlation id. Returns nil, nil when absent.
func (r *TransactionRepo) GetByCorrelationID(ctx context.Context, provider, correlationID string) (*domain.Transaction, error) {
	if correlationID == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE provider = $1 AND correlation_id = $2`, txColumns)
	return r.scanTransaction(r.pool.QueryRow(ctx, query, provider, correlationID))
}

// Update persists all mutable transaction fields.
func (r *TransactionRepo) Update(ctx context.Context, t *domain.Transaction) error {
	query := `UPDATE transactions SET status = $1, correlation_id = $2, provider_ref = $3,
		receipt_number = $4, failure_reason = $5, delivery_attempts = $6, updated_at = $7, completed_at = $8
		WHERE id = $9`

	tag, err := r.pool.Exec(ctx, query,
		t.Status, t.CorrelationID, t.ProviderRef,
		t.ReceiptNumber, t.FailureReason, t.DeliveryAttempts, t.UpdatedAt, t.CompletedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", t.ID)
	}
	return nil
}

// List fetches transactions with filtering and pagination. The total counts
// every matching row, not the page.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIdx))
		args = append(args, *params.OwnerID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Provider != nil {
		conditions = append(conditions, fmt.Sprintf("provider = $%d", argIdx))
		args = append(args, *params.Provider)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		txColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var amount string
	err := row.Scan(
		&t.ID, &t.OwnerID, &amount, &t.Currency, &t.Provider, &t.Method, &t.Counterparty, &t.Reference,
		&t.Status, &t.CorrelationID, &t.ProviderRef, &t.ReceiptNumber, &t.FailureReason, &t.DeliveryAttempts,
		&t.ClientIP, &t.UserAgent, &t.CreatedAt, &t.UpdatedAt, &t.ExpiresAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return t, nil
}

// Package memory provides the in-memory reference implementations of the
// repository ports. Suitable for the demo deployment and tests; a durable
// backend (see the postgres package) swaps in behind the same interfaces.
package memory

import (
	"context"
	"sort"
	"sync"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"

	"github.com/google/uuid"
)

// --- Transaction repository ---

// TransactionRepo implements ports.TransactionRepository over a map.
type TransactionRepo struct {
	mu  sync.RWMutex
	txs map[uuid.UUID]*domain.Transaction
}

// NewTransactionRepo creates an empty in-memory transaction repository.
func NewTransactionRepo() *TransactionRepo {
	return &TransactionRepo{txs: make(map[uuid.UUID]*domain.Transaction)}
}

func (r *TransactionRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tx
	r.txs[tx.ID] = &cp
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (r *TransactionRepo) GetByCorrelationID(ctx context.Context, provider, correlationID string) (*domain.Transaction, error) {
	if correlationID == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.txs {
		if tx.Provider == provider && tx.CorrelationID == correlationID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *TransactionRepo) Update(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; !ok {
		return errNotFound
	}
	cp := *tx
	r.txs[tx.ID] = &cp
	return nil
}

// List filters, orders by creation time descending and paginates. The total
// is counted before slicing the page.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	var matched []domain.Transaction
	for _, tx := range r.txs {
		if params.OwnerID != nil && tx.OwnerID != *params.OwnerID {
			continue
		}
		if params.Status != nil && tx.Status != *params.Status {
			continue
		}
		if params.Provider != nil && tx.Provider != *params.Provider {
			continue
		}
		matched = append(matched, *tx)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return []domain.Transaction{}, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// --- Subscription repository ---

// SubscriptionRepo implements ports.SubscriptionRepository over a map.
type SubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*domain.WebhookSubscription
}

// NewSubscriptionRepo creates an empty in-memory subscription repository.
func NewSubscriptionRepo() *SubscriptionRepo {
	return &SubscriptionRepo{subs: make(map[uuid.UUID]*domain.WebhookSubscription)}
}

func (r *SubscriptionRepo) Create(ctx context.Context, sub *domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	cp.Events = append([]domain.EventName(nil), sub.Events...)
	r.subs[sub.ID] = &cp
	return nil
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	cp := *sub
	cp.Events = append([]domain.EventName(nil), sub.Events...)
	return &cp, nil
}

func (r *SubscriptionRepo) Update(ctx context.Context, sub *domain.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return errNotFound
	}
	cp := *sub
	cp.Events = append([]domain.EventName(nil), sub.Events...)
	r.subs[sub.ID] = &cp
	return nil
}

func (r *SubscriptionRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookSubscription
	for _, sub := range r.subs {
		if sub.OwnerID == ownerID {
			cp := *sub
			cp.Events = append([]domain.EventName(nil), sub.Events...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SubscriptionRepo) ListActiveByEvent(ctx context.Context, ownerID uuid.UUID, event domain.EventName) ([]domain.WebhookSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookSubscription
	for _, sub := range r.subs {
		if sub.OwnerID == ownerID && sub.Active && sub.SubscribedTo(event) {
			cp := *sub
			cp.Events = append([]domain.EventName(nil), sub.Events...)
			out = append(out, cp)
		}
	}
	return out, nil
}

// --- Delivery log repository ---

// DeliveryLogRepo implements ports.DeliveryLogRepository as an append-only slice.
type DeliveryLogRepo struct {
	mu      sync.RWMutex
	records []domain.DeliveryRecord
}

// NewDeliveryLogRepo creates an empty in-memory delivery log.
func NewDeliveryLogRepo() *DeliveryLogRepo {
	return &DeliveryLogRepo{}
}

func (r *DeliveryLogRepo) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *DeliveryLogRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.DeliveryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DeliveryRecord
	for _, rec := range r.records {
		if rec.SubscriptionID == subscriptionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *DeliveryLogRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.DeliveryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DeliveryRecord
	for _, rec := range r.records {
		if rec.TransactionID == transactionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// --- Audit repository ---

// AuditRepo implements ports.AuditRepository as an append-only slice.
type AuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

// NewAuditRepo creates an empty in-memory audit log.
func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

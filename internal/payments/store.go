package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/carwash-platform/internal/database"
)

// Store persists transactions. Calls join the transaction carried by ctx.
type Store interface {
	Insert(ctx context.Context, txn *Transaction) error
	// GetByCheckoutID locks the row for the surrounding transaction.
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Transaction, error)
	// Promote moves an initiated transaction to pending once Daraja has
	// accepted the push.
	Promote(ctx context.Context, id uuid.UUID, merchantRequestID, checkoutRequestID string) error
	// FailPush closes an initiated transaction whose push was not accepted.
	FailPush(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	Complete(ctx context.Context, id uuid.UUID, c Completion) error
	// AttachReceipt fills the receipt of a successful transaction settled
	// without one.
	AttachReceipt(ctx context.Context, id uuid.UUID, receipt string, raw []byte) error
	ListForSubject(ctx context.Context, kind SubjectKind, subjectID uuid.UUID) ([]Transaction, error)
}

// InitiatedTTL bounds how long a transaction may sit in initiated before it
// is treated as an abandoned push.
const InitiatedTTL = 2 * time.Minute

// OpenAttempt returns the newest transaction of the subject still awaiting
// a result, or nil.
func OpenAttempt(ctx context.Context, store Store, kind SubjectKind, subjectID uuid.UUID, now time.Time) (*Transaction, error) {
	txns, err := store.ListForSubject(ctx, kind, subjectID)
	if err != nil {
		return nil, err
	}
	for i := range txns {
		txn := txns[i]
		switch txn.Status {
		case StatusPending:
			return &txn, nil
		case StatusInitiated:
			if now.Sub(txn.CreatedAt) < InitiatedTTL {
				return &txn, nil
			}
		}
	}
	return nil, nil
}

type PgStore struct {
	pool database.Pool
}

func NewPgStore(pool database.Pool) *PgStore {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &PgStore{pool: pool}
}

const transactionColumns = `id, tenant_id, subject_kind, subject_id, phone, amount_cents,
	COALESCE(merchant_request_id, ''), COALESCE(checkout_request_id, ''), status,
	result_code, result_desc, COALESCE(mpesa_receipt, ''), created_at, completed_at`

func (s *PgStore) Insert(ctx context.Context, txn *Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	query := `
		INSERT INTO payment_transactions (id, tenant_id, subject_kind, subject_id, phone, amount_cents,
			merchant_request_id, checkout_request_id, status, result_desc)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		RETURNING created_at
	`
	err := database.Conn(ctx, s.pool).QueryRow(ctx, query,
		txn.ID, txn.TenantID, string(txn.SubjectKind), txn.SubjectID, txn.Phone, txn.AmountCents,
		txn.MerchantRequestID, txn.CheckoutRequestID, string(txn.Status), txn.ResultDesc,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("payments: insert transaction: %w", err)
	}
	return nil
}

func (s *PgStore) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE checkout_request_id = $1
		FOR UPDATE`
	txn, err := scanTransaction(database.Conn(ctx, s.pool).QueryRow(ctx, query, checkoutRequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("payments: get by checkout id: %w", err)
	}
	return txn, nil
}

func (s *PgStore) Promote(ctx context.Context, id uuid.UUID, merchantRequestID, checkoutRequestID string) error {
	query := `
		UPDATE payment_transactions
		SET status = 'pending', merchant_request_id = NULLIF($2, ''), checkout_request_id = $3
		WHERE id = $1 AND status = 'initiated'
	`
	ct, err := database.Conn(ctx, s.pool).Exec(ctx, query, id, merchantRequestID, checkoutRequestID)
	if err != nil {
		return fmt.Errorf("payments: promote transaction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) FailPush(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	query := `
		UPDATE payment_transactions
		SET status = 'failed', result_desc = $2, completed_at = $3
		WHERE id = $1 AND status = 'initiated'
	`
	ct, err := database.Conn(ctx, s.pool).Exec(ctx, query, id, reason, at)
	if err != nil {
		return fmt.Errorf("payments: fail push: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) AttachReceipt(ctx context.Context, id uuid.UUID, receipt string, raw []byte) error {
	query := `
		UPDATE payment_transactions
		SET mpesa_receipt = $2, raw_callback = COALESCE($3, raw_callback)
		WHERE id = $1 AND status = 'successful' AND mpesa_receipt IS NULL
	`
	var payload any
	if len(raw) > 0 {
		payload = raw
	}
	ct, err := database.Conn(ctx, s.pool).Exec(ctx, query, id, receipt, payload)
	if err != nil {
		return fmt.Errorf("payments: attach receipt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) Complete(ctx context.Context, id uuid.UUID, c Completion) error {
	query := `
		UPDATE payment_transactions
		SET status = $2, result_code = $3, result_desc = $4, mpesa_receipt = NULLIF($5, ''),
			raw_callback = $6, completed_at = $7
		WHERE id = $1
	`
	var raw any
	if len(c.RawCallback) > 0 {
		raw = c.RawCallback
	}
	ct, err := database.Conn(ctx, s.pool).Exec(ctx, query, id, string(c.Status), c.ResultCode, c.ResultDesc, c.Receipt, raw, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("payments: complete transaction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ListForSubject(ctx context.Context, kind SubjectKind, subjectID uuid.UUID) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY created_at DESC`
	rows, err := database.Conn(ctx, s.pool).Query(ctx, query, string(kind), subjectID)
	if err != nil {
		return nil, fmt.Errorf("payments: list transactions: %w", err)
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("payments: scan transaction: %w", err)
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		txn         Transaction
		kind, state string
	)
	if err := row.Scan(&txn.ID, &txn.TenantID, &kind, &txn.SubjectID, &txn.Phone, &txn.AmountCents,
		&txn.MerchantRequestID, &txn.CheckoutRequestID, &state, &txn.ResultCode, &txn.ResultDesc,
		&txn.Receipt, &txn.CreatedAt, &txn.CompletedAt); err != nil {
		return nil, err
	}
	txn.SubjectKind = SubjectKind(kind)
	txn.Status = Status(state)
	return &txn, nil
}

// MemoryStore keeps transactions in process. Pair it with database.MemoryRunner.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Transaction)}
}

func (m *MemoryStore) Insert(_ context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if txn.CheckoutRequestID != "" {
		for _, existing := range m.byID {
			if existing.CheckoutRequestID == txn.CheckoutRequestID {
				return fmt.Errorf("payments: insert transaction: duplicate checkout id %s", txn.CheckoutRequestID)
			}
		}
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = nowUTC()
	}
	stored := *txn
	m.byID[txn.ID] = &stored
	return nil
}

func (m *MemoryStore) GetByCheckoutID(_ context.Context, checkoutRequestID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range m.byID {
		if checkoutRequestID != "" && txn.CheckoutRequestID == checkoutRequestID {
			out := *txn
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, c Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	code := c.ResultCode
	completed := c.CompletedAt
	txn.Status = c.Status
	txn.ResultCode = &code
	txn.ResultDesc = c.ResultDesc
	txn.Receipt = c.Receipt
	txn.RawCallback = append([]byte(nil), c.RawCallback...)
	txn.CompletedAt = &completed
	return nil
}

func (m *MemoryStore) Promote(_ context.Context, id uuid.UUID, merchantRequestID, checkoutRequestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.byID[id]
	if !ok || txn.Status != StatusInitiated {
		return ErrNotFound
	}
	for _, existing := range m.byID {
		if existing.CheckoutRequestID == checkoutRequestID {
			return fmt.Errorf("payments: promote transaction: duplicate checkout id %s", checkoutRequestID)
		}
	}
	txn.Status = StatusPending
	txn.MerchantRequestID = merchantRequestID
	txn.CheckoutRequestID = checkoutRequestID
	return nil
}

func (m *MemoryStore) FailPush(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.byID[id]
	if !ok || txn.Status != StatusInitiated {
		return ErrNotFound
	}
	txn.Status = StatusFailed
	txn.ResultDesc = reason
	txn.CompletedAt = &at
	return nil
}

func (m *MemoryStore) AttachReceipt(_ context.Context, id uuid.UUID, receipt string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.byID[id]
	if !ok || txn.Status != StatusSuccessful || txn.Receipt != "" {
		return ErrNotFound
	}
	txn.Receipt = receipt
	if len(raw) > 0 {
		txn.RawCallback = append([]byte(nil), raw...)
	}
	return nil
}

func (m *MemoryStore) ListForSubject(_ context.Context, kind SubjectKind, subjectID uuid.UUID) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, txn := range m.byID {
		if txn.SubjectKind == kind && txn.SubjectID == subjectID {
			out = append(out, *txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

var nowUTC = func() time.Time { return time.Now().UTC() }

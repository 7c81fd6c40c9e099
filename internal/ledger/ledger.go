package ledger

import (
	"context"
	"math"
	"time"
)

// Type classifies a point movement.
type Type string

const (
	TypeStayEarning    Type = "stay_earning"
	TypeAdminAward     Type = "admin_award"
	TypeAdminDeduction Type = "admin_deduction"
	TypeRedemption     Type = "redemption"
	TypeCorrection     Type = "correction"
	TypeExpiration     Type = "expiration"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypeStayEarning, TypeAdminAward, TypeAdminDeduction, TypeRedemption, TypeCorrection, TypeExpiration:
		return true
	}
	return false
}

// IsCredit reports whether the type always adds points.
func (t Type) IsCredit() bool {
	return t == TypeStayEarning || t == TypeAdminAward
}

// IsDebit reports whether the type always removes points.
func (t Type) IsDebit() bool {
	return t == TypeAdminDeduction || t == TypeRedemption || t == TypeExpiration
}

// IsAdmin reports whether the type is an administrative action that requires a reason.
func (t Type) IsAdmin() bool {
	return t == TypeAdminAward || t == TypeAdminDeduction
}

// Transaction is an immutable ledger record. Corrections are new offsetting
// records, never edits.
type Transaction struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Points        int64      `json:"points"`
	Type          Type       `json:"type"`
	Description   string     `json:"description"`
	ReferenceType string     `json:"reference_type,omitempty"`
	ReferenceID   string     `json:"reference_id,omitempty"`
	ActorID       string     `json:"actor_id,omitempty"`
	Reason        *string    `json:"reason,omitempty"`
	Nights        int        `json:"nights,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// HasReference reports whether the transaction carries an idempotency key.
func (t Transaction) HasReference() bool {
	return t.ReferenceType != "" && t.ReferenceID != ""
}

// Entry is the caller-supplied part of a transaction. The ledger fills in the
// id and timestamp.
type Entry struct {
	UserID        string
	Points        int64
	Type          Type
	Description   string
	ReferenceType string
	ReferenceID   string
	ActorID       string
	Reason        *string
	Nights        int
	ExpiresAt     *time.Time
}

func (e Entry) hasReference() bool {
	return e.ReferenceType != "" && e.ReferenceID != ""
}

func (e Entry) referenceKey() string {
	return e.ReferenceType + ":" + e.ReferenceID
}

// Account is the materialized projection of a user's log.
type Account struct {
	UserID        string    `json:"user_id"`
	CurrentPoints int64     `json:"current_points"`
	TotalNights   int       `json:"total_nights"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Balance is the read view returned by Balance.
type Balance struct {
	CurrentPoints int64
	TotalNights   int
}

// Result captures the outcome of a mutation. Replayed is true when an existing
// transaction with the same reference was returned instead of a new append.
type Result struct {
	Transaction Transaction
	Account     Account
	Replayed    bool
}

// Page is one page of a user's history, newest first.
type Page struct {
	Items      []Transaction
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// Summary aggregates a user's log by movement kind.
type Summary struct {
	TotalEarned       int64      `json:"total_earned"`
	TotalRedeemed     int64      `json:"total_redeemed"`
	TotalExpired      int64      `json:"total_expired"`
	TotalAdjusted     int64      `json:"total_adjusted"`
	CurrentBalance    int64      `json:"current_balance"`
	TransactionCount  int        `json:"transaction_count"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
}

// RebuildResult reports a projection rewritten from the log.
type RebuildResult struct {
	Previous Account
	Account  Account
}

// Drifted reports whether the stored projection disagreed with the log.
func (r RebuildResult) Drifted() bool {
	return r.Previous.CurrentPoints != r.Account.CurrentPoints || r.Previous.TotalNights != r.Account.TotalNights
}

// Ledger defines the contract implemented by ledger backends. ApplyEarning and
// ApplyAdjustment are the only mutation paths; each appends one transaction
// and rewrites the projection as a single atomic unit per user.
type Ledger interface {
	EnsureAccount(ctx context.Context, userID string) (Account, error)
	Account(ctx context.Context, userID string) (Account, error)
	Balance(ctx context.Context, userID string) (Balance, error)
	ApplyEarning(ctx context.Context, entry Entry) (Result, error)
	ApplyAdjustment(ctx context.Context, entry Entry) (Result, error)
	Transaction(ctx context.Context, id string) (Transaction, error)
	ListForUser(ctx context.Context, userID string, page, pageSize int) (Page, error)
	SumPointsForUser(ctx context.Context, userID string) (int64, error)
	Summary(ctx context.Context, userID string) (Summary, error)
	Rebuild(ctx context.Context, userID string) (RebuildResult, error)
}

// Fold replays transactions into a projection. Order does not matter for the
// totals.
func Fold(userID string, txs []Transaction) Account {
	acc := Account{UserID: userID}
	for _, tx := range txs {
		acc.CurrentPoints += tx.Points
		if tx.Type == TypeStayEarning {
			acc.TotalNights += tx.Nights
		}
		acc.Version++
	}
	return acc
}

// Summarize folds transactions into a Summary.
func Summarize(txs []Transaction) Summary {
	var s Summary
	for i := range txs {
		tx := txs[i]
		switch {
		case tx.Type.IsCredit():
			s.TotalEarned += tx.Points
		case tx.Type == TypeRedemption || tx.Type == TypeAdminDeduction:
			s.TotalRedeemed += -tx.Points
		case tx.Type == TypeExpiration:
			s.TotalExpired += -tx.Points
		default:
			s.TotalAdjusted += tx.Points
		}
		s.CurrentBalance += tx.Points
		s.TransactionCount++
		if s.LastTransactionAt == nil || tx.CreatedAt.After(*s.LastTransactionAt) {
			at := tx.CreatedAt
			s.LastTransactionAt = &at
		}
	}
	return s
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// nextBalance applies delta to current. A debit that would go below zero is
// ErrInsufficientBalance; a credit that would overflow is a validation error.
func nextBalance(current, delta int64) (int64, error) {
	if delta > 0 && current > math.MaxInt64-delta {
		return 0, Invalid("points", "balance would exceed %d", int64(math.MaxInt64))
	}
	next := current + delta
	if next < 0 {
		return 0, ErrInsufficientBalance
	}
	return next, nil
}

// checkReplay rejects a request whose reference is already held by a
// transaction of another type or direction.
func checkReplay(existing Transaction, entry Entry) error {
	if existing.Type != entry.Type || (existing.Points > 0) != (entry.Points > 0) {
		return Invalid("reference_id", "reference %s:%s is already used by a %s transaction",
			entry.ReferenceType, entry.ReferenceID, existing.Type)
	}
	return nil
}

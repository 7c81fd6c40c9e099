package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// book holds one user's log and projection. Its lock serializes mutations for
// that user only.
type book struct {
	mu      sync.RWMutex
	account Account
	txs     []Transaction
	refs    map[string]int
}

type inMemoryLedger struct {
	mu    sync.RWMutex
	books map[string]*book
	ids   map[string]string
	now   func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development mode.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		books: make(map[string]*book),
		ids:   make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *inMemoryLedger) book(userID string) (*book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[userID]
	return b, ok
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, Invalid("user_id", "is required")
	}
	userID = strings.Clone(userID)
	l.mu.Lock()
	b, exists := l.books[userID]
	if !exists {
		now := l.now()
		b = &book{
			account: Account{UserID: userID, CreatedAt: now, UpdatedAt: now},
			refs:    make(map[string]int),
		}
		l.books[userID] = b
	}
	l.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.account, nil
}

func (l *inMemoryLedger) Account(_ context.Context, userID string) (Account, error) {
	b, ok := l.book(userID)
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.account, nil
}

func (l *inMemoryLedger) Balance(ctx context.Context, userID string) (Balance, error) {
	acc, err := l.Account(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{CurrentPoints: acc.CurrentPoints, TotalNights: acc.TotalNights}, nil
}

func (l *inMemoryLedger) ApplyEarning(_ context.Context, entry Entry) (Result, error) {
	if err := validateEarning(entry); err != nil {
		return Result{}, err
	}
	return l.append(entry)
}

func (l *inMemoryLedger) ApplyAdjustment(_ context.Context, entry Entry) (Result, error) {
	if err := validateAdjustment(entry); err != nil {
		return Result{}, err
	}
	return l.append(entry)
}

// append performs the reference check, the balance check, the log write and
// the projection rewrite under the user's lock.
func (l *inMemoryLedger) append(entry Entry) (Result, error) {
	b, ok := l.book(entry.UserID)
	if !ok {
		return Result{}, ErrAccountNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if entry.hasReference() {
		if idx, exists := b.refs[entry.referenceKey()]; exists {
			if err := checkReplay(b.txs[idx], entry); err != nil {
				return Result{}, err
			}
			return Result{Transaction: b.txs[idx], Account: b.account, Replayed: true}, nil
		}
	}

	next, err := nextBalance(b.account.CurrentPoints, entry.Points)
	if err != nil {
		return Result{}, err
	}

	now := l.now()
	tx := Transaction{
		ID:            uuid.NewString(),
		UserID:        b.account.UserID,
		Points:        entry.Points,
		Type:          entry.Type,
		Description:   entry.Description,
		ReferenceType: entry.ReferenceType,
		ReferenceID:   entry.ReferenceID,
		ActorID:       entry.ActorID,
		Reason:        entry.Reason,
		Nights:        entry.Nights,
		CreatedAt:     now,
		ExpiresAt:     entry.ExpiresAt,
	}

	b.txs = append(b.txs, tx)
	if tx.HasReference() {
		b.refs[entry.referenceKey()] = len(b.txs) - 1
	}
	b.account.CurrentPoints = next
	if tx.Type == TypeStayEarning {
		b.account.TotalNights += tx.Nights
	}
	b.account.Version++
	b.account.UpdatedAt = now

	l.mu.Lock()
	l.ids[tx.ID] = tx.UserID
	l.mu.Unlock()

	return Result{Transaction: tx, Account: b.account}, nil
}

func (l *inMemoryLedger) Transaction(_ context.Context, id string) (Transaction, error) {
	l.mu.RLock()
	userID, ok := l.ids[id]
	b := l.books[userID]
	l.mu.RUnlock()
	if !ok || b == nil {
		return Transaction{}, ErrTransactionNotFound
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := len(b.txs) - 1; i >= 0; i-- {
		if b.txs[i].ID == id {
			return b.txs[i], nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (l *inMemoryLedger) ListForUser(_ context.Context, userID string, page, pageSize int) (Page, error) {
	if err := ValidatePage(page, pageSize, 0); err != nil {
		return Page{}, err
	}
	b, ok := l.book(userID)
	if !ok {
		return Page{}, ErrAccountNotFound
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.txs)
	out := Page{Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize), Items: []Transaction{}}
	if page > out.TotalPages {
		return out, nil
	}
	start := (page - 1) * pageSize
	for i := total - 1 - start; i >= 0 && len(out.Items) < pageSize; i-- {
		out.Items = append(out.Items, b.txs[i])
	}
	return out, nil
}

func (l *inMemoryLedger) SumPointsForUser(_ context.Context, userID string) (int64, error) {
	b, ok := l.book(userID)
	if !ok {
		return 0, ErrAccountNotFound
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sum int64
	for _, tx := range b.txs {
		sum += tx.Points
	}
	return sum, nil
}

func (l *inMemoryLedger) Summary(_ context.Context, userID string) (Summary, error) {
	b, ok := l.book(userID)
	if !ok {
		return Summary{}, ErrAccountNotFound
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Summarize(b.txs), nil
}

func (l *inMemoryLedger) Rebuild(_ context.Context, userID string) (RebuildResult, error) {
	b, ok := l.book(userID)
	if !ok {
		return RebuildResult{}, ErrAccountNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.account
	folded := Fold(userID, b.txs)
	b.account.CurrentPoints = folded.CurrentPoints
	b.account.TotalNights = folded.TotalNights
	b.account.Version = folded.Version
	b.account.UpdatedAt = l.now()
	return RebuildResult{Previous: prev, Account: b.account}, nil
}

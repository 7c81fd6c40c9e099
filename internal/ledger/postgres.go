package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation        = "23505"
	pgSerializationFailure   = "40001"
	pgDeadlockDetected       = "40P01"
	referenceUniqueIndexName = "loyalty_transactions_reference_uniq"
)

const transactionColumns = `id, user_id, points, type, description, reference_type, reference_id,
        actor_id, reason, nights, created_at, expires_at`

var errReferenceTaken = errors.New("reference already recorded")

var _ Ledger = (*PostgresLedger)(nil)

// PostgresLedger persists the transaction log and the account projection in
// PostgreSQL. Mutations lock the projection row so appends for one user are
// serialized while other users proceed.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount creates the zero projection for the user if it does not exist.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, userID string) (Account, error) {
	if userID == "" {
		return Account{}, Invalid("user_id", "is required")
	}
	if _, err := l.db.Exec(ctx, `INSERT INTO loyalty_accounts (user_id) VALUES ($1)
        ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return Account{}, mapPgError(err)
	}
	return l.Account(ctx, userID)
}

func (l *PostgresLedger) Account(ctx context.Context, userID string) (Account, error) {
	const query = `SELECT user_id, current_points, total_nights, version, created_at, updated_at
        FROM loyalty_accounts WHERE user_id = $1`
	acc, err := scanAccount(l.db.QueryRow(ctx, query, userID))
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string) (Balance, error) {
	acc, err := l.Account(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{CurrentPoints: acc.CurrentPoints, TotalNights: acc.TotalNights}, nil
}

func (l *PostgresLedger) ApplyEarning(ctx context.Context, entry Entry) (Result, error) {
	if err := validateEarning(entry); err != nil {
		return Result{}, err
	}
	return l.append(ctx, entry)
}

func (l *PostgresLedger) ApplyAdjustment(ctx context.Context, entry Entry) (Result, error) {
	if err := validateAdjustment(entry); err != nil {
		return Result{}, err
	}
	return l.append(ctx, entry)
}

func (l *PostgresLedger) append(ctx context.Context, entry Entry) (Result, error) {
	res, err := l.appendTx(ctx, entry)
	if errors.Is(err, errReferenceTaken) {
		return l.replay(ctx, entry)
	}
	if err != nil {
		return Result{}, mapPgError(err)
	}
	return res, nil
}

func (l *PostgresLedger) appendTx(ctx context.Context, entry Entry) (Result, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	acc, err := lockAccount(ctx, tx, entry.UserID)
	if err != nil {
		return Result{}, err
	}

	if entry.hasReference() {
		existing, err := findByReference(ctx, tx, entry)
		if err == nil {
			if err := checkReplay(existing, entry); err != nil {
				return Result{}, err
			}
			return Result{Transaction: existing, Account: acc, Replayed: true}, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return Result{}, err
		}
	}

	if _, err := nextBalance(acc.CurrentPoints, entry.Points); err != nil {
		return Result{}, err
	}

	const insert = `INSERT INTO loyalty_transactions
        (id, user_id, points, type, description, reference_type, reference_id, actor_id, reason, nights, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, clock_timestamp(), $11)
        RETURNING ` + transactionColumns
	row := tx.QueryRow(ctx, insert, uuid.New(), entry.UserID, entry.Points, string(entry.Type), entry.Description,
		nullable(entry.ReferenceType), nullable(entry.ReferenceID), nullable(entry.ActorID), entry.Reason, entry.Nights, entry.ExpiresAt)
	created, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == referenceUniqueIndexName {
			return Result{}, errReferenceTaken
		}
		return Result{}, err
	}

	nights := 0
	if created.Type == TypeStayEarning {
		nights = created.Nights
	}
	const update = `UPDATE loyalty_accounts
        SET current_points = current_points + $2, total_nights = total_nights + $3,
            version = version + 1, updated_at = clock_timestamp()
        WHERE user_id = $1
        RETURNING user_id, current_points, total_nights, version, created_at, updated_at`
	updated, err := scanAccount(tx.QueryRow(ctx, update, entry.UserID, entry.Points, nights))
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Transaction: created, Account: updated}, nil
}

// replay returns the row that won a reference race.
func (l *PostgresLedger) replay(ctx context.Context, entry Entry) (Result, error) {
	existing, err := findByReference(ctx, l.db, entry)
	if err != nil {
		return Result{}, mapPgError(err)
	}
	if err := checkReplay(existing, entry); err != nil {
		return Result{}, err
	}
	acc, err := l.Account(ctx, entry.UserID)
	if err != nil {
		return Result{}, err
	}
	return Result{Transaction: existing, Account: acc, Replayed: true}, nil
}

func (l *PostgresLedger) Transaction(ctx context.Context, id string) (Transaction, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	row := l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM loyalty_transactions WHERE id = $1`, parsed)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

func (l *PostgresLedger) ListForUser(ctx context.Context, userID string, page, pageSize int) (Page, error) {
	if err := ValidatePage(page, pageSize, 0); err != nil {
		return Page{}, err
	}
	if _, err := l.Account(ctx, userID); err != nil {
		return Page{}, err
	}

	var total int
	if err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM loyalty_transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return Page{}, err
	}

	out := Page{Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize), Items: []Transaction{}}
	if page > out.TotalPages {
		return out, nil
	}

	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM loyalty_transactions
        WHERE user_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return Page{}, err
		}
		out.Items = append(out.Items, tx)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	return out, nil
}

func (l *PostgresLedger) SumPointsForUser(ctx context.Context, userID string) (int64, error) {
	if _, err := l.Account(ctx, userID); err != nil {
		return 0, err
	}
	var sum int64
	err := l.db.QueryRow(ctx, `SELECT COALESCE(SUM(points), 0)::bigint FROM loyalty_transactions WHERE user_id = $1`, userID).Scan(&sum)
	return sum, err
}

func (l *PostgresLedger) Summary(ctx context.Context, userID string) (Summary, error) {
	if _, err := l.Account(ctx, userID); err != nil {
		return Summary{}, err
	}
	const query = `
        SELECT
            COALESCE(SUM(points) FILTER (WHERE type IN ('stay_earning', 'admin_award')), 0)::bigint,
            COALESCE(-SUM(points) FILTER (WHERE type IN ('redemption', 'admin_deduction')), 0)::bigint,
            COALESCE(-SUM(points) FILTER (WHERE type = 'expiration'), 0)::bigint,
            COALESCE(SUM(points) FILTER (WHERE type = 'correction'), 0)::bigint,
            COALESCE(SUM(points), 0)::bigint,
            COUNT(*),
            MAX(created_at)
        FROM loyalty_transactions WHERE user_id = $1`
	var s Summary
	err := l.db.QueryRow(ctx, query, userID).Scan(&s.TotalEarned, &s.TotalRedeemed, &s.TotalExpired,
		&s.TotalAdjusted, &s.CurrentBalance, &s.TransactionCount, &s.LastTransactionAt)
	if err != nil {
		return Summary{}, err
	}
	return s, nil
}

// Rebuild folds the log back into the projection row.
func (l *PostgresLedger) Rebuild(ctx context.Context, userID string) (RebuildResult, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return RebuildResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	prev, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return RebuildResult{}, mapPgError(err)
	}

	const rebuild = `
        WITH folded AS (
            SELECT COALESCE(SUM(points), 0)::bigint AS points,
                   COALESCE(SUM(nights) FILTER (WHERE type = 'stay_earning'), 0)::int AS nights,
                   COUNT(*) AS version
            FROM loyalty_transactions WHERE user_id = $1
        )
        UPDATE loyalty_accounts a
        SET current_points = f.points, total_nights = f.nights, version = f.version, updated_at = clock_timestamp()
        FROM folded f
        WHERE a.user_id = $1
        RETURNING a.user_id, a.current_points, a.total_nights, a.version, a.created_at, a.updated_at`
	acc, err := scanAccount(tx.QueryRow(ctx, rebuild, userID))
	if err != nil {
		return RebuildResult{}, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return RebuildResult{}, mapPgError(err)
	}
	return RebuildResult{Previous: prev, Account: acc}, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lockAccount(ctx context.Context, tx pgx.Tx, userID string) (Account, error) {
	const query = `SELECT user_id, current_points, total_nights, version, created_at, updated_at
        FROM loyalty_accounts WHERE user_id = $1 FOR UPDATE`
	return scanAccount(tx.QueryRow(ctx, query, userID))
}

func findByReference(ctx context.Context, q queryRower, entry Entry) (Transaction, error) {
	row := q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM loyalty_transactions
        WHERE user_id = $1 AND reference_type = $2 AND reference_id = $3`, entry.UserID, entry.ReferenceType, entry.ReferenceID)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

func scanAccount(row pgx.Row) (Account, error) {
	var acc Account
	if err := row.Scan(&acc.UserID, &acc.CurrentPoints, &acc.TotalNights, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return acc, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx                            Transaction
		id                            uuid.UUID
		kind                          string
		refType, refID, actor, reason *string
		expires                       *time.Time
	)
	err := row.Scan(&id, &tx.UserID, &tx.Points, &kind, &tx.Description, &refType, &refID,
		&actor, &reason, &tx.Nights, &tx.CreatedAt, &expires)
	if err != nil {
		return Transaction{}, err
	}
	tx.ID = id.String()
	tx.Type = Type(kind)
	tx.ReferenceType = deref(refType)
	tx.ReferenceID = deref(refID)
	tx.ActorID = deref(actor)
	tx.Reason = reason
	tx.ExpiresAt = expires
	return tx, nil
}

// mapPgError turns transient lock failures into ErrConcurrencyConflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MutateFunc receives a snapshot of the whole catalog and returns the tier to
// persist. Returning an error aborts the write.
type MutateFunc func(catalog []Tier) (Tier, error)

// Repository persists the tier catalog. Mutate holds a whole-catalog lock so
// staircase validation and the write are serialized against each other.
type Repository interface {
	List(ctx context.Context) ([]Tier, error)
	Mutate(ctx context.Context, fn MutateFunc) (Tier, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed tier repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tierColumns = `id, name, min_nights, description, perks, color, sort_order, created_at, updated_at`

// List returns every tier ordered by min_nights.
func (r *PostgresRepository) List(ctx context.Context) ([]Tier, error) {
	return listTiers(ctx, r.db)
}

// Mutate locks the catalog table for the lifetime of fn and upserts its result.
func (r *PostgresRepository) Mutate(ctx context.Context, fn MutateFunc) (Tier, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Tier{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `LOCK TABLE loyalty_tiers IN EXCLUSIVE MODE`); err != nil {
		return Tier{}, err
	}
	catalog, err := listTiers(ctx, tx)
	if err != nil {
		return Tier{}, err
	}

	next, err := fn(catalog)
	if err != nil {
		return Tier{}, err
	}

	saved, err := upsertTier(ctx, tx, next)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Tier{}, configErr("min_nights %d is already used by another tier", next.MinNights)
		}
		return Tier{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Tier{}, err
	}
	return saved, nil
}

// Seed inserts drafts when the catalog is empty. It is safe to call on every boot.
func (r *PostgresRepository) Seed(ctx context.Context, drafts []Draft) (int, error) {
	existing, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	seeded := 0
	for _, d := range drafts {
		_, err := r.Mutate(ctx, func(catalog []Tier) (Tier, error) {
			for _, existing := range catalog {
				if existing.MinNights == d.MinNights || existing.Name == d.Name {
					return Tier{}, errAlreadySeeded
				}
			}
			now := time.Now().UTC()
			return Tier{ID: uuid.NewString(), Name: d.Name, MinNights: d.MinNights, Benefits: d.Benefits,
				Color: d.Color, SortOrder: d.SortOrder, CreatedAt: now, UpdatedAt: now}, nil
		})
		if errors.Is(err, errAlreadySeeded) {
			continue
		}
		if err != nil {
			return seeded, fmt.Errorf("seed tier %s: %w", d.Name, err)
		}
		seeded++
	}
	return seeded, nil
}

var errAlreadySeeded = errors.New("tier already present")

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listTiers(ctx context.Context, q querier) ([]Tier, error) {
	rows, err := q.Query(ctx, `SELECT `+tierColumns+` FROM loyalty_tiers ORDER BY min_nights ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := []Tier{}
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

func upsertTier(ctx context.Context, q querier, t Tier) (Tier, error) {
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return Tier{}, fmt.Errorf("tier id: %w", err)
	}
	perks, err := json.Marshal(nonNilPerks(t.Benefits.Perks))
	if err != nil {
		return Tier{}, err
	}
	row := q.QueryRow(ctx, `INSERT INTO loyalty_tiers (`+tierColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name, min_nights = EXCLUDED.min_nights, description = EXCLUDED.description,
            perks = EXCLUDED.perks, color = EXCLUDED.color, sort_order = EXCLUDED.sort_order,
            updated_at = EXCLUDED.updated_at
        RETURNING `+tierColumns,
		id, t.Name, t.MinNights, t.Benefits.Description, perks, t.Color, t.SortOrder, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	return scanTier(row)
}

func scanTier(row pgx.Row) (Tier, error) {
	var (
		t     Tier
		id    uuid.UUID
		perks []byte
	)
	if err := row.Scan(&id, &t.Name, &t.MinNights, &t.Benefits.Description, &perks, &t.Color, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Tier{}, err
	}
	t.ID = id.String()
	if len(perks) > 0 {
		if err := json.Unmarshal(perks, &t.Benefits.Perks); err != nil {
			return Tier{}, fmt.Errorf("decode perks for tier %s: %w", t.ID, err)
		}
	}
	t.Benefits.Perks = nonNilPerks(t.Benefits.Perks)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func nonNilPerks(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

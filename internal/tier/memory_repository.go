package tier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewMemoryRepository builds an in-memory catalog seeded with drafts.
func NewMemoryRepository(drafts ...Draft) Repository {
	r := &memoryRepository{tiers: make(map[string]Tier)}
	now := time.Now().UTC()
	for _, d := range drafts {
		id := uuid.NewString()
		r.tiers[id] = Tier{ID: id, Name: d.Name, MinNights: d.MinNights, Benefits: d.Benefits,
			Color: d.Color, SortOrder: d.SortOrder, CreatedAt: now, UpdatedAt: now}
	}
	return r
}

func (r *memoryRepository) List(_ context.Context) ([]Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(), nil
}

func (r *memoryRepository) Mutate(_ context.Context, fn MutateFunc) (Tier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := fn(r.snapshot())
	if err != nil {
		return Tier{}, err
	}
	next.Benefits.Perks = nonNilPerks(next.Benefits.Perks)
	r.tiers[next.ID] = next
	return next, nil
}

func (r *memoryRepository) snapshot() []Tier {
	out := make([]Tier, 0, len(r.tiers))
	for _, t := range r.tiers {
		t.Benefits.Perks = nonNilPerks(append([]string(nil), t.Benefits.Perks...))
		out = append(out, t)
	}
	return Sorted(out)
}

package tier

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages the tier catalog.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new tier service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// List returns the catalog ordered by min_nights.
func (s *Service) List(ctx context.Context) ([]Tier, error) {
	tiers, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return Sorted(tiers), nil
}

// Resolve loads the catalog and maps totalNights onto it.
func (s *Service) Resolve(ctx context.Context, totalNights int) (Resolution, error) {
	tiers, err := s.repo.List(ctx)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(tiers, totalNights)
}

// Update applies patch to the tier with id, rejecting edits that break the staircase.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (Tier, error) {
	return s.repo.Mutate(ctx, func(catalog []Tier) (Tier, error) {
		idx := -1
		for i, t := range catalog {
			if t.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Tier{}, ErrTierNotFound
		}

		updated := patch.Apply(catalog[idx])
		updated.Name = strings.TrimSpace(updated.Name)
		if err := ValidateFields(updated); err != nil {
			return Tier{}, err
		}
		if !patch.Empty() {
			updated.UpdatedAt = s.now()
		}

		candidate := make([]Tier, len(catalog))
		copy(candidate, catalog)
		candidate[idx] = updated
		if err := ValidateCatalog(candidate); err != nil {
			return Tier{}, err
		}
		return updated, nil
	})
}

// Create adds a tier to the catalog. A zero SortOrder places it after the last tier.
func (s *Service) Create(ctx context.Context, d Draft) (Tier, error) {
	return s.repo.Mutate(ctx, func(catalog []Tier) (Tier, error) {
		now := s.now()
		t := Tier{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(d.Name),
			MinNights: d.MinNights,
			Benefits:  Benefits{Description: d.Benefits.Description, Perks: nonNilPerks(d.Benefits.Perks)},
			Color:     d.Color,
			SortOrder: d.SortOrder,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := ValidateFields(t); err != nil {
			return Tier{}, err
		}
		if t.SortOrder == 0 {
			for _, existing := range catalog {
				if existing.SortOrder >= t.SortOrder {
					t.SortOrder = existing.SortOrder + 1
				}
			}
			if t.SortOrder == 0 {
				t.SortOrder = 1
			}
		}
		if err := ValidateCatalog(append(catalog, t)); err != nil {
			return Tier{}, err
		}
		return t, nil
	})
}

package loyalty

import (
	"time"

	"github.com/hotel-loyalty/loyalty/internal/ledger"
	"github.com/hotel-loyalty/loyalty/internal/tier"
)

// Status is a user's balance joined with the tier their nights resolve to.
type Status struct {
	UserID           string        `json:"user_id"`
	CurrentPoints    int64         `json:"current_points"`
	TotalNights      int           `json:"total_nights"`
	TierID           string        `json:"tier_id"`
	TierName         string        `json:"tier_name"`
	TierLevel        int           `json:"tier_level"`
	TierColor        string        `json:"tier_color"`
	Benefits         tier.Benefits `json:"benefits"`
	NextTierName     *string       `json:"next_tier_name"`
	NightsToNextTier *int          `json:"nights_to_next_tier"`
	ProgressPercent  float64       `json:"progress_percent"`
	Version          int64         `json:"version"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func composeStatus(acc ledger.Account, res tier.Resolution) Status {
	st := Status{
		UserID:           acc.UserID,
		CurrentPoints:    acc.CurrentPoints,
		TotalNights:      acc.TotalNights,
		TierID:           res.Tier.ID,
		TierName:         res.Tier.Name,
		TierLevel:        res.Level,
		TierColor:        res.Tier.Color,
		Benefits:         res.Tier.Benefits,
		NightsToNextTier: res.NightsToNext,
		ProgressPercent:  res.ProgressPercent,
		Version:          acc.Version,
		UpdatedAt:        acc.UpdatedAt,
	}
	if res.Next != nil {
		name := res.Next.Name
		st.NextTierName = &name
	}
	return st
}

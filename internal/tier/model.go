package tier

import "time"

// Benefits is the free-text description and ordered perks shown for a tier.
type Benefits struct {
	Description string   `json:"description"`
	Perks       []string `json:"perks"`
}

// Tier is one step of the membership staircase, unlocked by cumulative nights.
type Tier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MinNights int       `json:"min_nights"`
	Benefits  Benefits  `json:"benefits"`
	Color     string    `json:"color"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Draft carries the fields for a new tier.
type Draft struct {
	Name      string
	MinNights int
	Benefits  Benefits
	Color     string
	SortOrder int
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name      *string
	MinNights *int
	Benefits  *Benefits
	Color     *string
	SortOrder *int
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.MinNights == nil && p.Benefits == nil && p.Color == nil && p.SortOrder == nil
}

// Apply returns t with the patch's fields written over it.
func (p Patch) Apply(t Tier) Tier {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.MinNights != nil {
		t.MinNights = *p.MinNights
	}
	if p.Benefits != nil {
		t.Benefits = *p.Benefits
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.SortOrder != nil {
		t.SortOrder = *p.SortOrder
	}
	return t
}

// DefaultCatalog is the seeded Bronze/Silver/Gold/Platinum staircase.
func DefaultCatalog() []Draft {
	return []Draft{
		{
			Name:      "Bronze",
			MinNights: 0,
			Color:     "#CD7F32",
			SortOrder: 1,
			Benefits: Benefits{
				Description: "Welcome to the loyalty program",
				Perks:       []string{"Member rates", "Free Wi-Fi", "Points on every stay"},
			},
		},
		{
			Name:      "Silver",
			MinNights: 1,
			Color:     "#C0C0C0",
			SortOrder: 2,
			Benefits: Benefits{
				Description: "Thanks for staying with us",
				Perks:       []string{"All Bronze perks", "Late checkout on request", "Welcome drink"},
			},
		},
		{
			Name:      "Gold",
			MinNights: 10,
			Color:     "#D4AF37",
			SortOrder: 3,
			Benefits: Benefits{
				Description: "Premium recognition for frequent guests",
				Perks:       []string{"All Silver perks", "Room upgrade when available", "Bonus points on stays"},
			},
		},
		{
			Name:      "Platinum",
			MinNights: 20,
			Color:     "#6B7280",
			SortOrder: 4,
			Benefits: Benefits{
				Description: "Our highest level of membership",
				Perks:       []string{"All Gold perks", "Guaranteed late checkout", "Lounge access", "Dedicated concierge"},
			},
		},
	}
}

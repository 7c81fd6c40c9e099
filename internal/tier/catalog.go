package tier

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Sorted returns a copy of tiers ordered by MinNights ascending.
func Sorted(tiers []Tier) []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinNights < out[j].MinNights })
	return out
}

// ValidateFields checks the shape of a single tier.
func ValidateFields(t Tier) error {
	name := strings.TrimSpace(t.Name)
	if name == "" || utf8.RuneCountInString(name) > 50 {
		return &FieldError{Field: "name", Message: "must be 1-50 characters"}
	}
	if t.MinNights < 0 {
		return &FieldError{Field: "min_nights", Message: "cannot be negative"}
	}
	if !colorPattern.MatchString(t.Color) {
		return &FieldError{Field: "color", Message: "must be a #RRGGBB hex color"}
	}
	return nil
}

// ValidateCatalog enforces the staircase: a zero-night entry tier and strictly
// increasing, therefore unique, thresholds.
func ValidateCatalog(tiers []Tier) error {
	if len(tiers) == 0 {
		return ErrEmptyCatalog
	}
	sorted := Sorted(tiers)
	if sorted[0].MinNights != 0 {
		return configErr("lowest tier %q must start at 0 nights, got %d", sorted[0].Name, sorted[0].MinNights)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MinNights <= sorted[i-1].MinNights {
			return configErr("tiers %q and %q share min_nights %d", sorted[i-1].Name, sorted[i].Name, sorted[i].MinNights)
		}
	}
	return nil
}

package ledger

import "strings"

// MaxEntryPoints bounds the magnitude of a single transaction.
const MaxEntryPoints int64 = 1_000_000_000

// ValidateEntry checks the sign, reason and nights rules for an entry.
func ValidateEntry(e Entry) error {
	if strings.TrimSpace(e.UserID) == "" {
		return Invalid("user_id", "is required")
	}
	if !e.Type.Valid() {
		return Invalid("type", "unknown transaction type %q", e.Type)
	}
	if e.Points == 0 {
		return Invalid("points", "must be non-zero")
	}
	if e.Points > MaxEntryPoints || e.Points < -MaxEntryPoints {
		return Invalid("points", "magnitude must be <= %d", MaxEntryPoints)
	}
	if e.Type.IsCredit() && e.Points < 0 {
		return Invalid("points", "must be positive for %s", e.Type)
	}
	if e.Type.IsDebit() && e.Points > 0 {
		return Invalid("points", "must be negative for %s", e.Type)
	}
	if e.Type.IsAdmin() {
		if e.Reason == nil {
			return Invalid("reason", "is required for %s", e.Type)
		}
		if strings.TrimSpace(e.ActorID) == "" {
			return Invalid("actor_id", "is required for %s", e.Type)
		}
	}
	if e.Nights < 0 {
		return Invalid("nights", "cannot be negative")
	}
	if e.Nights > 0 && e.Type != TypeStayEarning {
		return Invalid("nights", "only stay earnings carry nights")
	}
	return nil
}

func validateEarning(e Entry) error {
	if err := ValidateEntry(e); err != nil {
		return err
	}
	if !e.Type.IsCredit() {
		return Invalid("type", "%s is not an earning", e.Type)
	}
	return nil
}

func validateAdjustment(e Entry) error {
	if err := ValidateEntry(e); err != nil {
		return err
	}
	if e.Type == TypeStayEarning {
		return Invalid("type", "stay earnings must go through ApplyEarning")
	}
	return nil
}

// ValidatePage checks a 1-indexed page request against the configured bound.
func ValidatePage(page, pageSize, maxPageSize int) error {
	if page < 1 {
		return Invalid("page", "must be >= 1")
	}
	if pageSize < 1 {
		return Invalid("page_size", "must be >= 1")
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		return Invalid("page_size", "must be <= %d", maxPageSize)
	}
	return nil
}

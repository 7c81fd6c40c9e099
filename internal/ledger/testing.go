package ledger

// OverwriteProjection is a test helper that corrupts the cached projection of
// an in-memory ledger without touching the log, so drift can be exercised.
func OverwriteProjection(l Ledger, userID string, points int64, nights int) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	b, ok := mem.book(userID)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.account.CurrentPoints = points
	b.account.TotalNights = nights
}

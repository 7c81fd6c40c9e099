package loyalty

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotel-loyalty/loyalty/internal/ledger"
	"github.com/hotel-loyalty/loyalty/internal/logging"
	"github.com/hotel-loyalty/loyalty/internal/notification"
	"github.com/hotel-loyalty/loyalty/internal/tier"
)

type fixture struct {
	svc      *Service
	ledger   ledger.Ledger
	tiers    *tier.Service
	notified *notification.Recorder
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	l := ledger.NewInMemory()
	tiers := tier.NewService(tier.NewMemoryRepository(tier.DefaultCatalog()...))
	rec := notification.NewRecorder(256)
	svc := NewService(Deps{Ledger: l, Tiers: tiers, Notifier: rec, Logger: logging.Discard(), Options: opts})
	return fixture{svc: svc, ledger: l, tiers: tiers, notified: rec}
}

func (f fixture) enroll(t *testing.T, userID string) {
	t.Helper()
	_, err := f.svc.Enroll(context.Background(), userID)
	require.NoError(t, err)
}

func reason(s string) *string { return &s }

func TestService_AwardThenDeductScenario(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	_, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 500, Reason: reason("stay"), ActorID: "admin-1"})
	require.NoError(t, err)
	_, err = f.svc.Deduct(ctx, DeductInput{UserID: "guest-1", Points: 200, Reason: reason("redeem"), ActorID: "admin-1"})
	require.NoError(t, err)

	st, err := f.svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.CurrentPoints)
	assert.Equal(t, "Bronze", st.TierName)
	assert.Equal(t, 1, st.TierLevel)

	page, err := f.svc.GetTransactionHistory(ctx, "guest-1", 1, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ledger.TypeAdminDeduction, page.Items[0].Type)
	assert.Equal(t, int64(-200), page.Items[0].Points)
	assert.Equal(t, ledger.TypeAdminAward, page.Items[1].Type)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, "admin-1", page.Items[1].ActorID)
	require.NotNil(t, page.Items[1].Reason)
	assert.Equal(t, "stay", *page.Items[1].Reason)
}

func TestService_AwardIsIdempotentOnReference(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	in := AwardInput{UserID: "guest-1", Points: 100, Reason: reason("welcome"), ReferenceType: "booking", ReferenceID: "B-1", ActorID: "admin-1"}
	first, err := f.svc.Award(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.Award(ctx, in)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, int64(100), second.Status.CurrentPoints)

	page, err := f.svc.GetTransactionHistory(ctx, "guest-1", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	msgs := f.notified.Drain()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.KindPointsChanged, msgs[0].Kind)
	assert.Equal(t, int64(100), msgs[0].Delta)
}

func TestService_ConcurrentAwardsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Award(ctx, AwardInput{
				UserID: "guest-1", Points: 10, Reason: reason("promo"), ActorID: "admin-1",
				ReferenceType: "promo", ReferenceID: fmt.Sprintf("P-%d", i),
			})
			if err != nil {
				t.Errorf("award %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	st, err := f.svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10*n), st.CurrentPoints)
}

func TestService_DeductBeyondBalanceFails(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	_, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 50, Reason: reason(""), ActorID: "admin-1"})
	require.NoError(t, err)

	_, err = f.svc.Deduct(ctx, DeductInput{UserID: "guest-1", Points: 51, Reason: reason("too much"), ActorID: "admin-1"})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	st, err := f.svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), st.CurrentPoints)
}

func TestService_InputValidation(t *testing.T) {
	f := newFixture(t, Options{MinPointIncrement: 10})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	cases := map[string]error{}
	_, cases["missing reason"] = f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 10, ActorID: "a"})
	_, cases["missing actor"] = f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 10, Reason: reason("x")})
	_, cases["zero points"] = f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 0, Reason: reason("x"), ActorID: "a"})
	_, cases["negative points"] = f.svc.Deduct(ctx, DeductInput{UserID: "guest-1", Points: -10, Reason: reason("x"), ActorID: "a"})
	_, cases["below increment"] = f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 5, Reason: reason("x"), ActorID: "a"})
	_, cases["off increment"] = f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 15, Reason: reason("x"), ActorID: "a"})
	_, cases["stay without booking"] = f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 10, Nights: 1})
	_, cases["stay without nights"] = f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 10, BookingID: "B"})
	_, cases["redeem without reference"] = f.svc.Redeem(ctx, RedeemInput{UserID: "guest-1", Points: 10})
	_, cases["page zero"] = f.svc.GetTransactionHistory(ctx, "guest-1", 0, 10)
	_, cases["page size above max"] = f.svc.GetTransactionHistory(ctx, "guest-1", 1, 101)

	for name, err := range cases {
		assert.ErrorIs(t, err, ledger.ErrValidation, name)
	}

	acc, err := f.ledger.Account(ctx, "guest-1")
	require.NoError(t, err)
	assert.Zero(t, acc.Version, "nothing may be appended")
}

func TestService_UnknownUserIsNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.GetStatus(ctx, "nobody")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	_, err = f.svc.Award(ctx, AwardInput{UserID: "nobody", Points: 10, Reason: reason("x"), ActorID: "a"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	_, err = f.svc.Correct(ctx, CorrectInput{TransactionID: "missing", ActorID: "a", Reason: reason("x")})
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestService_EarnStayPromotesTier(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	res, err := f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 500, Nights: 5, BookingID: "B-100"})
	require.NoError(t, err)
	assert.True(t, res.TierChanged)
	assert.Equal(t, "Bronze", res.PreviousTier)
	assert.Equal(t, "Silver", res.Status.TierName)
	require.NotNil(t, res.Status.NextTierName)
	assert.Equal(t, "Gold", *res.Status.NextTierName)
	require.NotNil(t, res.Status.NightsToNextTier)
	assert.Equal(t, 5, *res.Status.NightsToNextTier)
	assert.InDelta(t, 44.44, res.Status.ProgressPercent, 0.01)

	replay, err := f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 500, Nights: 5, BookingID: "B-100"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.False(t, replay.TierChanged)
	assert.Equal(t, 5, replay.Status.TotalNights)

	kinds := []string{}
	for _, m := range f.notified.Drain() {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []string{notification.KindPointsChanged, notification.KindTierChanged}, kinds)

	top, err := f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 2000, Nights: 20, BookingID: "B-101"})
	require.NoError(t, err)
	assert.Equal(t, "Platinum", top.Status.TierName)
	assert.Nil(t, top.Status.NextTierName)
	assert.Equal(t, 100.0, top.Status.ProgressPercent)
}

func TestService_AwardWithNightsIsStayEarning(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	res, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 100, Nights: 10, Reason: reason("missing stay"), ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeStayEarning, res.Transaction.Type)
	assert.Equal(t, 10, res.Status.TotalNights)
	assert.Equal(t, "Gold", res.Status.TierName)
	assert.True(t, res.TierChanged)
}

func TestService_CorrectOffsetsOnce(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	stay, err := f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 300, Nights: 2, BookingID: "B-9"})
	require.NoError(t, err)

	corr, err := f.svc.Correct(ctx, CorrectInput{TransactionID: stay.Transaction.ID, ActorID: "admin-1", Reason: reason("cancelled booking")})
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeCorrection, corr.Transaction.Type)
	assert.Equal(t, int64(-300), corr.Transaction.Points)
	assert.Equal(t, ReferenceTypeCorrection, corr.Transaction.ReferenceType)
	assert.Equal(t, stay.Transaction.ID, corr.Transaction.ReferenceID)
	assert.Zero(t, corr.Status.CurrentPoints)
	assert.Equal(t, 2, corr.Status.TotalNights, "nights are never reversed")

	again, err := f.svc.Correct(ctx, CorrectInput{TransactionID: stay.Transaction.ID, ActorID: "admin-1", Reason: reason("again")})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, corr.Transaction.ID, again.Transaction.ID)

	_, err = f.svc.Correct(ctx, CorrectInput{TransactionID: corr.Transaction.ID, ActorID: "admin-1", Reason: reason("undo")})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestService_CorrectCannotOverdraw(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")

	awarded, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 100, Reason: reason("x"), ActorID: "admin-1"})
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, RedeemInput{UserID: "guest-1", Points: 80, ReferenceType: "coupon", ReferenceID: "C-1"})
	require.NoError(t, err)

	_, err = f.svc.Correct(ctx, CorrectInput{TransactionID: awarded.Transaction.ID, ActorID: "admin-1", Reason: reason("x")})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestService_RedeemIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	_, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 100, Reason: reason("x"), ActorID: "admin-1"})
	require.NoError(t, err)

	in := RedeemInput{UserID: "guest-1", Points: 40, ReferenceType: "coupon", ReferenceID: "C-7"}
	_, err = f.svc.Redeem(ctx, in)
	require.NoError(t, err)
	res, err := f.svc.Redeem(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(60), res.Status.CurrentPoints)

	summary, err := f.svc.GetTransactionSummary(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), summary.TotalEarned)
	assert.Equal(t, int64(40), summary.TotalRedeemed)
	assert.Equal(t, 2, summary.TransactionCount)
}

func TestService_PaginationOverFortyFive(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	for i := 0; i < 45; i++ {
		_, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 1, Reason: reason("tick"), ActorID: "admin-1"})
		require.NoError(t, err)
	}

	first, err := f.svc.GetTransactionHistory(ctx, "guest-1", 1, 20)
	require.NoError(t, err)
	assert.Len(t, first.Items, 20)
	assert.Equal(t, 3, first.TotalPages)

	third, err := f.svc.GetTransactionHistory(ctx, "guest-1", 3, 20)
	require.NoError(t, err)
	assert.Len(t, third.Items, 5)
}

func TestService_TierUpdateChangesResolution(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	_, err := f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 100, Nights: 6, BookingID: "B-1"})
	require.NoError(t, err)

	tiers, err := f.svc.GetTierConfiguration(ctx)
	require.NoError(t, err)
	gold := tiers[2]

	six := 6
	_, err = f.svc.UpdateTierConfiguration(ctx, "admin-1", gold.ID, tier.Patch{MinNights: &six})
	require.NoError(t, err)

	st, err := f.svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, "Gold", st.TierName)

	twenty := 20
	_, err = f.svc.UpdateTierConfiguration(ctx, "admin-1", gold.ID, tier.Patch{MinNights: &twenty})
	assert.ErrorIs(t, err, tier.ErrConfiguration)
}

func TestService_RebuildReportsDrift(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	_, err := f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 120, Nights: 1, BookingID: "B-1"})
	require.NoError(t, err)

	ledger.OverwriteProjection(f.ledger, "guest-1", 5, 0)

	res, err := f.svc.Rebuild(ctx, "admin-1", "guest-1")
	require.NoError(t, err)
	assert.True(t, res.Drifted)
	assert.Equal(t, int64(5), res.PreviousPoints)
	assert.Equal(t, int64(120), res.Status.CurrentPoints)
	assert.Equal(t, "Silver", res.Status.TierName)
}

func TestService_EnrollIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.svc.Enroll(ctx, "guest-1")
	require.NoError(t, err)
	assert.Zero(t, first.CurrentPoints)
	assert.Equal(t, "Bronze", first.TierName)

	_, err = f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 10, Reason: reason("x"), ActorID: "a"})
	require.NoError(t, err)
	again, err := f.svc.Enroll(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), again.CurrentPoints)
}

func TestService_HistoryPageFarBeyondEndIsEmpty(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	_, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 10, Reason: reason("x"), ActorID: "admin-1"})
	require.NoError(t, err)

	page, err := f.svc.GetTransactionHistory(ctx, "guest-1", 1<<62, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Total)
}

func TestService_HugeAwardIsValidationError(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	_, err := f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 10, Reason: reason("x"), ActorID: "admin-1"})
	require.NoError(t, err)

	_, err = f.svc.Award(ctx, AwardInput{UserID: "guest-1", Points: math.MaxInt64, Reason: reason("x"), ActorID: "admin-1"})
	require.ErrorIs(t, err, ledger.ErrValidation)
	assert.NotErrorIs(t, err, ledger.ErrInsufficientBalance)

	st, err := f.svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.CurrentPoints)
}

func TestService_RedeemCannotReuseBookingReference(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.enroll(t, "guest-1")
	_, err := f.svc.EarnStay(ctx, StayInput{UserID: "guest-1", Points: 300, Nights: 2, BookingID: "B-1"})
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, RedeemInput{UserID: "guest-1", Points: 100, ReferenceType: ReferenceTypeBooking, ReferenceID: "B-1"})
	require.ErrorIs(t, err, ledger.ErrValidation)

	st, err := f.svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), st.CurrentPoints)
}

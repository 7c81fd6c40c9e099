package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hotel-loyalty/loyalty/internal/ledger"
	"github.com/hotel-loyalty/loyalty/internal/logging"
	"github.com/hotel-loyalty/loyalty/internal/notification"
	"github.com/hotel-loyalty/loyalty/internal/tier"
)

const (
	ReferenceTypeBooking    = "booking"
	ReferenceTypeCorrection = "correction"

	defaultPageSize    = 20
	defaultMaxPageSize = 100
)

// Options are the tunable ledger rules.
type Options struct {
	MinPointIncrement int64
	DefaultPageSize   int
	MaxPageSize       int
}

// Deps aggregates the collaborators of the Service.
type Deps struct {
	Ledger   ledger.Ledger
	Tiers    *tier.Service
	Cache    StatusCache
	Notifier notification.Notifier
	Logger   *slog.Logger
	Options  Options
}

// Service is the entry surface of the loyalty core. Callers are already
// authorized; the service enforces ledger rules and coordinates the ledger,
// the tier catalog and downstream side effects.
type Service struct {
	ledger   ledger.Ledger
	tiers    *tier.Service
	cache    StatusCache
	notifier notification.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	opts     Options
}

// NewService constructs a loyalty service.
func NewService(d Deps) *Service {
	opts := d.Options
	if opts.MinPointIncrement <= 0 {
		opts.MinPointIncrement = 1
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaultMaxPageSize
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaultPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	cache := d.Cache
	if cache == nil {
		cache = NoopStatusCache{}
	}
	return &Service{
		ledger:   d.Ledger,
		tiers:    d.Tiers,
		cache:    cache,
		notifier: d.Notifier,
		logger:   logging.OrDiscard(d.Logger),
		tracer:   otel.Tracer("loyalty/service"),
		opts:     opts,
	}
}

// AwardInput captures an administrative credit.
type AwardInput struct {
	UserID        string
	Points        int64
	Reason        *string
	ReferenceType string
	ReferenceID   string
	ActorID       string
	Notes         string
	// Nights > 0 records an admin-entered stay instead of a plain award.
	Nights int
}

// DeductInput captures an administrative debit. Points are positive; the sign
// is applied internally.
type DeductInput struct {
	UserID        string
	Points        int64
	Reason        *string
	ReferenceType string
	ReferenceID   string
	ActorID       string
	Notes         string
}

// StayInput captures points earned for a completed booking.
type StayInput struct {
	UserID      string
	Points      int64
	Nights      int
	BookingID   string
	Description string
}

// RedeemInput captures points consumed by a downstream redemption.
type RedeemInput struct {
	UserID        string
	Points        int64
	ReferenceType string
	ReferenceID   string
	Description   string
}

// CorrectInput identifies a transaction to offset.
type CorrectInput struct {
	TransactionID string
	ActorID       string
	Reason        *string
}

// MutationResult describes the outcome of a ledger mutation.
type MutationResult struct {
	Transaction  ledger.Transaction
	Status       Status
	Replayed     bool
	TierChanged  bool
	PreviousTier string
}

// Enroll creates the user's loyalty account when missing and returns its status.
func (s *Service) Enroll(ctx context.Context, userID string) (st Status, err error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.enroll", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(userID) == "" {
		return Status{}, ledger.Invalid("user_id", "is required")
	}
	acc, err := s.ledger.EnsureAccount(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	res, err := s.tiers.Resolve(ctx, acc.TotalNights)
	if err != nil {
		return Status{}, err
	}
	s.logger.Info("loyalty.enroll completed", slog.String("user_id", userID))
	return composeStatus(acc, res), nil
}

// Award credits points to a user.
func (s *Service) Award(ctx context.Context, in AwardInput) (MutationResult, error) {
	if err := s.checkAdmin(in.UserID, in.ActorID, in.Reason); err != nil {
		return MutationResult{}, err
	}
	if err := s.checkPoints(in.Points); err != nil {
		return MutationResult{}, err
	}
	if in.Nights < 0 {
		return MutationResult{}, ledger.Invalid("nights", "cannot be negative")
	}

	entry := ledger.Entry{
		UserID:        in.UserID,
		Points:        in.Points,
		Type:          ledger.TypeAdminAward,
		Description:   describe(in.Notes, "Points awarded by administrator"),
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		ActorID:       in.ActorID,
		Reason:        in.Reason,
	}
	if in.Nights > 0 {
		entry.Type = ledger.TypeStayEarning
		entry.Nights = in.Nights
		entry.Description = describe(in.Notes, fmt.Sprintf("Stay of %d nights recorded by administrator", in.Nights))
	}
	return s.mutate(ctx, "award", entry)
}

// Deduct removes points from a user. It never leaves a negative balance.
func (s *Service) Deduct(ctx context.Context, in DeductInput) (MutationResult, error) {
	if err := s.checkAdmin(in.UserID, in.ActorID, in.Reason); err != nil {
		return MutationResult{}, err
	}
	if err := s.checkPoints(in.Points); err != nil {
		return MutationResult{}, err
	}
	return s.mutate(ctx, "deduct", ledger.Entry{
		UserID:        in.UserID,
		Points:        -in.Points,
		Type:          ledger.TypeAdminDeduction,
		Description:   describe(in.Notes, "Points deducted by administrator"),
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		ActorID:       in.ActorID,
		Reason:        in.Reason,
	})
}

// EarnStay records points and nights for a completed booking, once per booking.
func (s *Service) EarnStay(ctx context.Context, in StayInput) (MutationResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return MutationResult{}, ledger.Invalid("user_id", "is required")
	}
	if strings.TrimSpace(in.BookingID) == "" {
		return MutationResult{}, ledger.Invalid("booking_id", "is required")
	}
	if in.Nights < 1 {
		return MutationResult{}, ledger.Invalid("nights", "must be at least 1")
	}
	if err := s.checkPoints(in.Points); err != nil {
		return MutationResult{}, err
	}
	return s.mutate(ctx, "earn_stay", ledger.Entry{
		UserID:        in.UserID,
		Points:        in.Points,
		Type:          ledger.TypeStayEarning,
		Description:   describe(in.Description, fmt.Sprintf("Stay of %d nights", in.Nights)),
		ReferenceType: ReferenceTypeBooking,
		ReferenceID:   in.BookingID,
		Nights:        in.Nights,
	})
}

// Redeem consumes points for a downstream reward such as a coupon.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (MutationResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return MutationResult{}, ledger.Invalid("user_id", "is required")
	}
	if in.ReferenceType == "" || in.ReferenceID == "" {
		return MutationResult{}, ledger.Invalid("reference", "reference_type and reference_id are required")
	}
	if err := s.checkPoints(in.Points); err != nil {
		return MutationResult{}, err
	}
	return s.mutate(ctx, "redeem", ledger.Entry{
		UserID:        in.UserID,
		Points:        -in.Points,
		Type:          ledger.TypeRedemption,
		Description:   describe(in.Description, "Points redeemed"),
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
	})
}

// Correct appends an offsetting transaction for an existing one. A transaction
// can be corrected once; nights are never reversed.
func (s *Service) Correct(ctx context.Context, in CorrectInput) (MutationResult, error) {
	if strings.TrimSpace(in.TransactionID) == "" {
		return MutationResult{}, ledger.Invalid("transaction_id", "is required")
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return MutationResult{}, ledger.Invalid("actor_id", "is required")
	}
	if in.Reason == nil {
		return MutationResult{}, ledger.Invalid("reason", "is required")
	}

	original, err := s.ledger.Transaction(ctx, in.TransactionID)
	if err != nil {
		return MutationResult{}, err
	}
	if original.Type == ledger.TypeCorrection {
		return MutationResult{}, ledger.Invalid("transaction_id", "corrections cannot be corrected")
	}

	return s.mutate(ctx, "correct", ledger.Entry{
		UserID:        original.UserID,
		Points:        -original.Points,
		Type:          ledger.TypeCorrection,
		Description:   fmt.Sprintf("Correction of transaction %s", original.ID),
		ReferenceType: ReferenceTypeCorrection,
		ReferenceID:   original.ID,
		ActorID:       in.ActorID,
		Reason:        in.Reason,
	})
}

func (s *Service) mutate(ctx context.Context, op string, entry ledger.Entry) (out MutationResult, err error) {
	ctx, span := s.tracer.Start(ctx, "loyalty."+op, trace.WithAttributes(
		attribute.String("user.id", entry.UserID),
		attribute.Int64("points", entry.Points),
		attribute.String("transaction.type", string(entry.Type)),
	))
	defer func() { endSpan(span, err) }()

	var res ledger.Result
	if entry.Type.IsCredit() {
		res, err = s.ledger.ApplyEarning(ctx, entry)
	} else {
		res, err = s.ledger.ApplyAdjustment(ctx, entry)
	}
	if err != nil {
		return MutationResult{}, err
	}
	span.SetAttributes(
		attribute.String("transaction.id", res.Transaction.ID),
		attribute.Bool("replayed", res.Replayed),
	)

	out = MutationResult{Transaction: res.Transaction, Replayed: res.Replayed}

	tiers, tierErr := s.tiers.List(ctx)
	var after tier.Resolution
	if tierErr == nil {
		after, tierErr = tier.Resolve(tiers, res.Account.TotalNights)
	}
	if tierErr != nil {
		s.logger.Warn("loyalty tier resolution failed", slog.String("user_id", entry.UserID), slog.String("error", tierErr.Error()))
		out.Status = composeStatus(res.Account, tier.Resolution{})
	} else {
		out.Status = composeStatus(res.Account, after)
	}

	if res.Replayed {
		s.logger.Info("loyalty."+op+" replayed",
			slog.String("user_id", entry.UserID),
			slog.String("transaction_id", res.Transaction.ID),
		)
		return out, nil
	}

	if tierErr == nil && res.Transaction.Type == ledger.TypeStayEarning && res.Transaction.Nights > 0 {
		before, beforeErr := tier.Resolve(tiers, res.Account.TotalNights-res.Transaction.Nights)
		if beforeErr == nil && before.Tier.ID != after.Tier.ID {
			out.TierChanged = true
			out.PreviousTier = before.Tier.Name
		}
	}

	s.afterCommit(ctx, out)
	s.logger.Info("loyalty."+op+" completed",
		slog.String("user_id", entry.UserID),
		slog.String("transaction_id", res.Transaction.ID),
		slog.String("type", string(res.Transaction.Type)),
		slog.Int64("points", res.Transaction.Points),
		slog.String("actor_id", res.Transaction.ActorID),
	)
	return out, nil
}

// afterCommit runs best-effort side effects. Failures are logged, never returned.
func (s *Service) afterCommit(ctx context.Context, out MutationResult) {
	userID := out.Transaction.UserID
	if err := s.cache.Invalidate(ctx, userID, out.Status.Version); err != nil {
		s.logger.Warn("loyalty status cache invalidate failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
	if out.TierChanged {
		s.logger.Info("loyalty tier changed",
			slog.String("user_id", userID),
			slog.String("from_tier", out.PreviousTier),
			slog.String("to_tier", out.Status.TierName),
		)
	}
	if s.notifier == nil {
		return
	}
	msg := notification.Message{
		Kind:          notification.KindPointsChanged,
		Destination:   userID,
		Body:          fmt.Sprintf("Your balance changed by %d points", out.Transaction.Points),
		TransactionID: out.Transaction.ID,
		Delta:         out.Transaction.Points,
		Balance:       out.Status.CurrentPoints,
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("loyalty notification failed", slog.String("user_id", userID), slog.String("kind", msg.Kind), slog.String("error", err.Error()))
	}
	if !out.TierChanged {
		return
	}
	tierMsg := notification.Message{
		Kind:        notification.KindTierChanged,
		Destination: userID,
		Body:        fmt.Sprintf("You reached %s", out.Status.TierName),
		FromTier:    out.PreviousTier,
		ToTier:      out.Status.TierName,
	}
	if err := s.notifier.Send(ctx, tierMsg); err != nil {
		s.logger.Warn("loyalty notification failed", slog.String("user_id", userID), slog.String("kind", tierMsg.Kind), slog.String("error", err.Error()))
	}
}

// GetStatus returns the user's balance and tier standing.
func (s *Service) GetStatus(ctx context.Context, userID string) (Status, error) {
	if cached, ok, err := s.cache.Get(ctx, userID); err != nil {
		s.logger.Warn("loyalty status cache read failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	} else if ok {
		return cached, nil
	}

	acc, err := s.ledger.Account(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	res, err := s.tiers.Resolve(ctx, acc.TotalNights)
	if err != nil {
		return Status{}, err
	}
	st := composeStatus(acc, res)
	if err := s.cache.Set(ctx, st); err != nil {
		s.logger.Warn("loyalty status cache write failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
	return st, nil
}

// GetTransactionHistory returns one page of the user's history, newest first.
// A zero pageSize selects the configured default.
func (s *Service) GetTransactionHistory(ctx context.Context, userID string, page, pageSize int) (ledger.Page, error) {
	if pageSize == 0 {
		pageSize = s.opts.DefaultPageSize
	}
	if err := ledger.ValidatePage(page, pageSize, s.opts.MaxPageSize); err != nil {
		return ledger.Page{}, err
	}
	return s.ledger.ListForUser(ctx, userID, page, pageSize)
}

// GetTransactionSummary aggregates the user's history by movement kind.
func (s *Service) GetTransactionSummary(ctx context.Context, userID string) (ledger.Summary, error) {
	return s.ledger.Summary(ctx, userID)
}

// GetTierConfiguration returns the catalog ordered by min_nights.
func (s *Service) GetTierConfiguration(ctx context.Context) ([]tier.Tier, error) {
	return s.tiers.List(ctx)
}

// UpdateTierConfiguration edits one tier and drops every cached status.
func (s *Service) UpdateTierConfiguration(ctx context.Context, actorID, tierID string, patch tier.Patch) (t tier.Tier, err error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.update_tier", trace.WithAttributes(
		attribute.String("tier.id", tierID),
		attribute.String("actor.id", actorID),
	))
	defer func() { endSpan(span, err) }()

	t, err = s.tiers.Update(ctx, tierID, patch)
	if err != nil {
		return tier.Tier{}, err
	}
	s.catalogChanged(ctx)
	s.logger.Info("loyalty.update_tier completed", slog.String("tier_id", t.ID), slog.String("actor_id", actorID), slog.Int("min_nights", t.MinNights))
	return t, nil
}

// CreateTier adds a tier to the catalog and drops every cached status.
func (s *Service) CreateTier(ctx context.Context, actorID string, d tier.Draft) (t tier.Tier, err error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.create_tier", trace.WithAttributes(attribute.String("actor.id", actorID)))
	defer func() { endSpan(span, err) }()

	t, err = s.tiers.Create(ctx, d)
	if err != nil {
		return tier.Tier{}, err
	}
	s.catalogChanged(ctx)
	s.logger.Info("loyalty.create_tier completed", slog.String("tier_id", t.ID), slog.String("actor_id", actorID), slog.Int("min_nights", t.MinNights))
	return t, nil
}

func (s *Service) catalogChanged(ctx context.Context) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Warn("loyalty status cache flush failed", slog.String("error", err.Error()))
	}
}

// RebuildResult reports a projection recomputed from the log.
type RebuildResult struct {
	Status         Status `json:"status"`
	Drifted        bool   `json:"drifted"`
	PreviousPoints int64  `json:"previous_points"`
	PreviousNights int    `json:"previous_nights"`
}

// Rebuild replays the user's log into the projection and reports drift.
func (s *Service) Rebuild(ctx context.Context, actorID, userID string) (out RebuildResult, err error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.rebuild", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("actor.id", actorID),
	))
	defer func() { endSpan(span, err) }()

	res, err := s.ledger.Rebuild(ctx, userID)
	if err != nil {
		return RebuildResult{}, err
	}
	span.SetAttributes(attribute.Bool("drifted", res.Drifted()))

	out = RebuildResult{
		Drifted:        res.Drifted(),
		PreviousPoints: res.Previous.CurrentPoints,
		PreviousNights: res.Previous.TotalNights,
	}
	resolved, err := s.tiers.Resolve(ctx, res.Account.TotalNights)
	if err != nil {
		return RebuildResult{}, err
	}
	out.Status = composeStatus(res.Account, resolved)

	if err := s.cache.Invalidate(ctx, userID, res.Account.Version); err != nil {
		s.logger.Warn("loyalty status cache invalidate failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	}
	if out.Drifted {
		s.logger.Warn("loyalty projection drift repaired",
			slog.String("user_id", userID),
			slog.String("actor_id", actorID),
			slog.Int64("previous_points", out.PreviousPoints),
			slog.Int64("points", res.Account.CurrentPoints),
			slog.Int("previous_nights", out.PreviousNights),
			slog.Int("nights", res.Account.TotalNights),
		)
	} else {
		s.logger.Info("loyalty.rebuild completed", slog.String("user_id", userID), slog.String("actor_id", actorID))
	}
	return out, nil
}

func (s *Service) checkPoints(points int64) error {
	if points <= 0 {
		return ledger.Invalid("points", "must be a positive integer")
	}
	if points > ledger.MaxEntryPoints {
		return ledger.Invalid("points", "must be <= %d", ledger.MaxEntryPoints)
	}
	if points < s.opts.MinPointIncrement || points%s.opts.MinPointIncrement != 0 {
		return ledger.Invalid("points", "must be a multiple of %d", s.opts.MinPointIncrement)
	}
	return nil
}

func (s *Service) checkAdmin(userID, actorID string, reason *string) error {
	if strings.TrimSpace(userID) == "" {
		return ledger.Invalid("user_id", "is required")
	}
	if strings.TrimSpace(actorID) == "" {
		return ledger.Invalid("actor_id", "is required")
	}
	if reason == nil {
		return ledger.Invalid("reason", "is required")
	}
	return nil
}

func describe(given, fallback string) string {
	if strings.TrimSpace(given) != "" {
		return given
	}
	return fallback
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ledger.ErrValidation) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

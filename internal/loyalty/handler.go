package loyalty

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/hotel-loyalty/loyalty/internal/ledger"
	"github.com/hotel-loyalty/loyalty/internal/logging"
	"github.com/hotel-loyalty/loyalty/internal/tier"
)

// ActorLocal is the fiber Locals key holding the resolved admin identity.
const ActorLocal = "actor_id"

// Handler exposes loyalty endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a loyalty handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logging.OrDiscard(logger)}
}

func (h *Handler) Tiers(c *fiber.Ctx) error {
	tiers, err := h.service.GetTierConfiguration(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"tiers": tiers})
}

func (h *Handler) Status(c *fiber.Ctx) error {
	st, err := h.service.GetStatus(c.UserContext(), c.Params("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(st)
}

// Transactions lists history with ?page= (default 1) and ?pageSize=.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	page, err := h.service.GetTransactionHistory(c.UserContext(), c.Params("userId"), c.QueryInt("page", 1), c.QueryInt("pageSize", 0))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"items":       page.Items,
		"total":       page.Total,
		"page":        page.Page,
		"page_size":   page.PageSize,
		"total_pages": page.TotalPages,
	})
}

func (h *Handler) Summary(c *fiber.Ctx) error {
	s, err := h.service.GetTransactionSummary(c.UserContext(), c.Params("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(s)
}

func (h *Handler) Enroll(c *fiber.Ctx) error {
	st, err := h.service.Enroll(c.UserContext(), c.Params("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(st)
}

func (h *Handler) Award(c *fiber.Ctx) error {
	var req adjustRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.service.Award(c.UserContext(), AwardInput{
		UserID:        c.Params("userId"),
		Points:        req.Points,
		Reason:        req.Reason,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		ActorID:       actor(c),
		Notes:         req.Notes,
		Nights:        req.Nights,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return mutationResponse(c, res)
}

func (h *Handler) Deduct(c *fiber.Ctx) error {
	var req adjustRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if req.Nights != 0 {
		return fiber.NewError(http.StatusBadRequest, "nights: not allowed on deductions")
	}
	res, err := h.service.Deduct(c.UserContext(), DeductInput{
		UserID:        c.Params("userId"),
		Points:        req.Points,
		Reason:        req.Reason,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		ActorID:       actor(c),
		Notes:         req.Notes,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return mutationResponse(c, res)
}

func (h *Handler) Stay(c *fiber.Ctx) error {
	var req stayRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.service.EarnStay(c.UserContext(), StayInput{
		UserID:      c.Params("userId"),
		Points:      req.Points,
		Nights:      req.Nights,
		BookingID:   req.BookingID,
		Description: req.Description,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return mutationResponse(c, res)
}

func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.service.Redeem(c.UserContext(), RedeemInput{
		UserID:        c.Params("userId"),
		Points:        req.Points,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Description:   req.Description,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return mutationResponse(c, res)
}

func (h *Handler) Correct(c *fiber.Ctx) error {
	var req correctRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	res, err := h.service.Correct(c.UserContext(), CorrectInput{
		TransactionID: c.Params("transactionId"),
		ActorID:       actor(c),
		Reason:        req.Reason,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return mutationResponse(c, res)
}

func (h *Handler) Rebuild(c *fiber.Ctx) error {
	res, err := h.service.Rebuild(c.UserContext(), actor(c), c.Params("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

func (h *Handler) CreateTier(c *fiber.Ctx) error {
	var req createTierRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	t, err := h.service.CreateTier(c.UserContext(), actor(c), req.toDraft())
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(t)
}

func (h *Handler) UpdateTier(c *fiber.Ctx) error {
	var req updateTierRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	t, err := h.service.UpdateTierConfiguration(c.UserContext(), actor(c), c.Params("tierId"), req.toPatch())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(t)
}

// requestError carries per-field payload validation failures.
type requestError struct {
	fields map[string]string
}

func (e *requestError) Error() string { return "validation failed" }

func (h *Handler) bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if fields := validationErrors(req); fields != nil {
		return &requestError{fields: fields}
	}
	return nil
}

// fail maps core errors onto HTTP statuses.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var reqErr *requestError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &reqErr):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": reqErr.Error(), "fields": reqErr.fields})
	case errors.As(err, &fiberErr):
		return err
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, tier.ErrInvalid):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "loyalty account not found")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	case errors.Is(err, tier.ErrTierNotFound):
		return fiber.NewError(http.StatusNotFound, "tier not found")
	case errors.Is(err, tier.ErrConfiguration):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		c.Set(fiber.HeaderRetryAfter, "1")
		return fiber.NewError(http.StatusConflict, "concurrent update, retry")
	default:
		h.logger.Error("loyalty request failed", slog.String("path", c.Path()), slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func mutationResponse(c *fiber.Ctx, res MutationResult) error {
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction":  res.Transaction,
		"status":       res.Status,
		"replayed":     res.Replayed,
		"tier_changed": res.TierChanged,
	})
}

func actor(c *fiber.Ctx) string {
	id, _ := c.Locals(ActorLocal).(string)
	return id
}

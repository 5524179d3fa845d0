package handlers

import (
	"context"
	"strings"

	"github.com/escrowdesk/backend/internal/http/dto"
	"github.com/escrowdesk/backend/internal/middleware"
	"github.com/escrowdesk/backend/internal/models"
	"github.com/escrowdesk/backend/internal/repositories"
	"github.com/escrowdesk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type DealHandler struct {
	dealService *services.DealService
	log         *zap.Logger
}

func NewDealHandler(dealService *services.DealService, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	caller := middleware.GetCaller(c)
	in, err := req.Input(caller)
	if err != nil {
		return badRequest(c, "amount: must be a decimal number")
	}

	deal, err := h.dealService.CreateDeal(c.Context(), caller, in)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	id, ok := dealID(c)
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	deal, err := h.dealService.GetDeal(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// ListDeals returns the caller's own deals.
func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	deals, err := h.dealService.ListDealsFor(c.Context(), middleware.GetCaller(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: nonNil(deals)})
}

func (h *DealHandler) ListAllDeals(c *fiber.Ctx) error {
	filter := repositories.DealFilter{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if v := c.Query("status"); v != "" {
		status := strings.ToUpper(v)
		filter.Status = &status
	}

	deals, err := h.dealService.ListAllDeals(c.Context(), middleware.GetCaller(c), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: nonNil(deals)})
}

func (h *DealHandler) FindByHandle(c *fiber.Ctx) error {
	deals, err := h.dealService.FindByHandle(c.Context(), middleware.GetCaller(c), c.Params("handle"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: nonNil(deals)})
}

// lifecycleOp is the shape shared by the caller-driven lifecycle operations.
type lifecycleOp func(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error)

func (h *DealHandler) apply(c *fiber.Ctx, op lifecycleOp) error {
	id, ok := dealID(c)
	if !ok {
		return badRequest(c, "invalid deal id")
	}
	deal, err := op(c.Context(), id, middleware.GetCaller(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) InitiateDeposit(c *fiber.Ctx) error {
	return h.apply(c, h.dealService.InitiateDeposit)
}

func (h *DealHandler) RetryDeposit(c *fiber.Ctx) error {
	return h.apply(c, h.dealService.RetryDeposit)
}

func (h *DealHandler) MarkDelivered(c *fiber.Ctx) error {
	return h.apply(c, h.dealService.MarkDelivered)
}

func (h *DealHandler) Release(c *fiber.Ctx) error {
	return h.apply(c, h.dealService.Release)
}

func (h *DealHandler) OpenDispute(c *fiber.Ctx) error {
	return h.apply(c, h.dealService.OpenDispute)
}

func (h *DealHandler) CancelDeal(c *fiber.Ctx) error {
	return h.apply(c, h.dealService.Cancel)
}

func (h *DealHandler) ResolveDeal(c *fiber.Ctx) error {
	var req dto.ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	return h.apply(c, func(ctx context.Context, id int64, actor models.Caller) (*models.Deal, error) {
		return h.dealService.Resolve(ctx, id, req.Winner, actor)
	})
}

func (h *DealHandler) GetPaymentInfo(c *fiber.Ctx) error {
	id, ok := dealID(c)
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	info, err := h.dealService.GetPaymentInfo(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: info})
}

func (h *DealHandler) GetSecretHalf(c *fiber.Ctx) error {
	id, ok := dealID(c)
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	caller := middleware.GetCaller(c)
	half, err := h.dealService.GetSecretHalf(c.Context(), id, caller)
	if err != nil {
		return respondError(c, h.log, err)
	}

	deal, err := h.dealService.GetDeal(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	role, _ := deal.RoleOf(caller)
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SecretHalfResponse{DealID: id, Role: role, Half: half}})
}

func (h *DealHandler) GetDealEvents(c *fiber.Ctx) error {
	id, ok := dealID(c)
	if !ok {
		return badRequest(c, "invalid deal id")
	}

	entries, err := h.dealService.GetDealEvents(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: nonNil(entries)})
}

// nonNil keeps empty lists encoded as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

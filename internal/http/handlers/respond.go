package handlers

import (
	"strconv"

	"github.com/escrowdesk/backend/internal/apperr"
	"github.com/escrowdesk/backend/internal/http/dto"
	"github.com/escrowdesk/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// respondError maps service errors onto HTTP statuses. Anything unrecognised
// is logged and hidden behind a generic 500.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	resp := dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)}
	code := fiber.StatusInternalServerError

	if it, ok := apperr.AsIllegalTransition(err); ok {
		code = fiber.StatusConflict
		resp.Status = it.Status
	} else {
		switch {
		case apperr.IsNotFound(err):
			code = fiber.StatusNotFound
		case apperr.IsUnauthorized(err):
			code = fiber.StatusForbidden
		case apperr.IsValidation(err):
			code = fiber.StatusBadRequest
		}
	}

	if code == fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", resp.RequestID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		resp.Error = "internal error"
	}
	return c.Status(code).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}

func dealID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

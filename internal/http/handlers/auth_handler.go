package handlers

import (
	"github.com/escrowdesk/backend/internal/auth"
	"github.com/escrowdesk/backend/internal/config"
	"github.com/escrowdesk/backend/internal/http/dto"
	"github.com/escrowdesk/backend/internal/middleware"
	"github.com/escrowdesk/backend/internal/models"
	"github.com/escrowdesk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	dealService *services.DealService
	cfg         *config.Config
	log         *zap.Logger
}

func NewAuthHandler(dealService *services.DealService, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{dealService: dealService, cfg: cfg, log: log}
}

// TelegramAuth exchanges Mini App initData for an API token. Nothing is stored:
// the token itself carries the Telegram identity.
func (h *AuthHandler) TelegramAuth(c *fiber.Ctx) error {
	var req dto.AuthTelegramRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	if req.InitData == "" {
		return badRequest(c, "init_data is required")
	}

	tgUser, err := auth.ParseWebAppUser(req.InitData, h.cfg.BotToken, h.cfg.InitDataMaxAge)
	if err != nil {
		h.log.Debug("telegram auth validation failed", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)})
	}

	username := models.NormalizeHandle(tgUser.Username)
	token, err := auth.GenerateJWT(h.cfg.JWTSecret, tgUser.ID, username, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.AuthResponse{
		Token: token,
		User:  h.me(models.Caller{TelegramID: tgUser.ID, Username: username}),
	})
}

func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.me(middleware.GetCaller(c))})
}

func (h *AuthHandler) me(caller models.Caller) dto.MeResponse {
	return dto.MeResponse{
		TelegramUserID: caller.TelegramID,
		Username:       caller.Username,
		IsAdmin:        h.dealService.IsAdmin(caller),
	}
}

package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/escrowdesk/backend/internal/auth"
	"github.com/escrowdesk/backend/internal/config"
	"github.com/escrowdesk/backend/internal/events"
	"github.com/escrowdesk/backend/internal/http/handlers"
	"github.com/escrowdesk/backend/internal/repositories"
	"github.com/escrowdesk/backend/internal/secrets"
	"github.com/escrowdesk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminID  = 900
	buyerID  = 101
	sellerID = 202
)

type noopScheduler struct{}

func (noopScheduler) Schedule(int64, time.Duration) {}
func (noopScheduler) Cancel(int64) bool             { return false }

type testEnv struct {
	t   *testing.T
	app *fiber.App
	cfg *config.Config
	svc *services.DealService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		BotToken:       "test-bot-token",
		JWTSecret:      "test-secret",
		JWTExpiration:  time.Hour,
		InitDataMaxAge: time.Minute,
	}

	store := repositories.NewMemoryDealStore()
	bus := events.NewMemoryBus()
	admins := services.NewAdminSet(adminID)
	svc := services.NewDealService(
		store,
		repositories.NewMemoryAuditStore(),
		secrets.NewIssuer(store),
		noopScheduler{},
		bus,
		admins,
		services.DepositOptions{VerifyDelay: time.Hour, Address: "EQtest"},
		zap.NewNop(),
	)

	log := zap.NewNop()
	app := fiber.New()
	SetupRouter(app, cfg, log, nil,
		handlers.NewAuthHandler(svc, cfg, log),
		handlers.NewDealHandler(svc, log),
		handlers.NewWSHub(cfg, bus, admins, log),
	)
	return &testEnv{t: t, app: app, cfg: cfg, svc: svc}
}

func (e *testEnv) token(id int64, username string) string {
	tok, err := auth.GenerateJWT(e.cfg.JWTSecret, id, username, time.Hour)
	require.NoError(e.t, err)
	return tok
}

// call performs a request and decodes the JSON body.
func (e *testEnv) call(method, path, token string, body any) (int, map[string]any) {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(e.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func (e *testEnv) createDeal(token string) int64 {
	e.t.Helper()
	code, body := e.call(fiber.MethodPost, "/api/v1/deals", token, map[string]any{
		"seller":      map[string]any{"username": "@Bob"},
		"amount":      "250.50",
		"currency":    "usd",
		"description": "logo design",
	})
	require.Equal(e.t, fiber.StatusCreated, code, body)
	return int64(data(e.t, body)["id"].(float64))
}

func dealPath(id int64, suffix string) string {
	return "/api/v1/deals/" + strconv.FormatInt(id, 10) + suffix
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.call(fiber.MethodGet, "/health", "", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.call(fiber.MethodGet, "/api/v1/deals", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = env.call(fiber.MethodGet, "/api/v1/deals", "not-a-jwt", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestCreateAndListDeals(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")
	id := env.createDeal(buyer)

	code, body := env.call(fiber.MethodGet, dealPath(id, ""), buyer, nil)
	require.Equal(t, fiber.StatusOK, code)
	deal := data(t, body)
	assert.Equal(t, "NEW", deal["status"])
	assert.Equal(t, "USD", deal["currency"])
	assert.Equal(t, float64(buyerID), deal["buyer"].(map[string]any)["telegram_id"])
	assert.Equal(t, "bob", deal["seller"].(map[string]any)["username"])

	// the seller is tracked by handle and finds the deal by username
	code, body = env.call(fiber.MethodGet, "/api/v1/deals", env.token(sellerID, "Bob"), nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, body["data"], 1)

	code, body = env.call(fiber.MethodGet, "/api/v1/deals", env.token(303, "carol"), nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, []any{}, body["data"])

	code, body = env.call(fiber.MethodGet, "/api/v1/deals/find/@bob", env.token(303, "carol"), nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, body["data"], 1)
}

func TestCreateDealValidation(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad amount", map[string]any{"seller": map[string]any{"username": "bob"}, "amount": "abc", "currency": "USD", "description": "logo design"}},
		{"negative amount", map[string]any{"seller": map[string]any{"username": "bob"}, "amount": "-5", "currency": "USD", "description": "logo design"}},
		{"nine decimal places", map[string]any{"seller": map[string]any{"username": "bob"}, "amount": "0.000000001", "currency": "USD", "description": "logo design"}},
		{"no seller", map[string]any{"amount": "5", "currency": "USD", "description": "logo design"}},
		{"short currency", map[string]any{"seller": map[string]any{"username": "bob"}, "amount": "5", "currency": "US", "description": "logo design"}},
		{"short description", map[string]any{"seller": map[string]any{"username": "bob"}, "amount": "5", "currency": "USD", "description": "logo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.call(fiber.MethodPost, "/api/v1/deals", buyer, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, code, body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDealLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")
	seller := env.token(sellerID, "bob")
	id := env.createDeal(buyer)

	code, body := env.call(fiber.MethodGet, dealPath(id, "/payment"), buyer, nil)
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Equal(t, "NEW", body["status"])

	code, body = env.call(fiber.MethodPost, dealPath(id, "/deposit"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code, body)
	assert.Equal(t, "PENDING_DEPOSIT", data(t, body)["status"])

	code, body = env.call(fiber.MethodGet, dealPath(id, "/payment"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code, body)
	assert.Equal(t, fmt.Sprintf("deal:%d", id), data(t, body)["memo"])
	assert.Equal(t, "EQtest", data(t, body)["address"])

	// delivery is not possible before funds are held
	code, body = env.call(fiber.MethodPost, dealPath(id, "/deliver"), seller, nil)
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Equal(t, "PENDING_DEPOSIT", body["status"])

	_, err := env.svc.ApplyDepositResult(context.Background(), id, true)
	require.NoError(t, err)

	code, body = env.call(fiber.MethodPost, dealPath(id, "/deliver"), seller, nil)
	require.Equal(t, fiber.StatusOK, code, body)
	assert.Equal(t, "DELIVERED", data(t, body)["status"])
	assert.Equal(t, "250.5", data(t, body)["escrow_balance"])

	code, body = env.call(fiber.MethodPost, dealPath(id, "/release"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code, body)
	assert.Equal(t, "RELEASED", data(t, body)["status"])
	assert.Equal(t, "0", data(t, body)["escrow_balance"])

	code, _ = env.call(fiber.MethodPost, dealPath(id, "/dispute"), buyer, nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, body = env.call(fiber.MethodGet, dealPath(id, "/events"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.NotEmpty(t, body["data"])
}

func TestRetryDepositWhileScheduled(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")
	id := env.createDeal(buyer)

	code, _ := env.call(fiber.MethodPost, dealPath(id, "/deposit"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code)

	code, body := env.call(fiber.MethodPost, dealPath(id, "/deposit/retry"), buyer, nil)
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Equal(t, "PENDING_DEPOSIT", body["status"])

	_, err := env.svc.ApplyDepositResult(context.Background(), id, false)
	require.NoError(t, err)

	code, body = env.call(fiber.MethodPost, dealPath(id, "/deposit/retry"), buyer, nil)
	assert.Equal(t, fiber.StatusOK, code, body)

	code, _ = env.call(fiber.MethodPost, dealPath(id, "/deposit/retry"), env.token(303, "carol"), nil)
	assert.Equal(t, fiber.StatusForbidden, code)
}

func TestAdminOnlyOperations(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")
	admin := env.token(adminID, "ops")
	id := env.createDeal(buyer)

	code, _ := env.call(fiber.MethodPost, dealPath(id, "/deposit"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code)
	_, err := env.svc.ApplyDepositResult(context.Background(), id, true)
	require.NoError(t, err)
	code, _ = env.call(fiber.MethodPost, dealPath(id, "/dispute"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code)

	code, _ = env.call(fiber.MethodPost, dealPath(id, "/resolve"), buyer, map[string]any{"winner": "buyer"})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = env.call(fiber.MethodPost, dealPath(id, "/resolve"), admin, map[string]any{"winner": "nobody"})
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body := env.call(fiber.MethodPost, dealPath(id, "/resolve"), admin, map[string]any{"winner": "Seller"})
	require.Equal(t, fiber.StatusOK, code, body)
	assert.Equal(t, "RESOLVED", data(t, body)["status"])
	assert.Equal(t, "seller", data(t, body)["resolution_winner"])
	assert.Equal(t, "0", data(t, body)["escrow_balance"])

	code, _ = env.call(fiber.MethodPost, dealPath(id, "/cancel"), admin, nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, _ = env.call(fiber.MethodGet, "/api/v1/deals/all", buyer, nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, body = env.call(fiber.MethodGet, "/api/v1/deals/all?status=resolved", admin, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, body["data"], 1)

	code, _ = env.call(fiber.MethodGet, "/api/v1/deals/all?status=bogus", admin, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body = env.call(fiber.MethodGet, "/api/v1/me", admin, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, true, data(t, body)["is_admin"])
}

func TestCancelByAdmin(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")
	id := env.createDeal(buyer)

	code, _ := env.call(fiber.MethodPost, dealPath(id, "/cancel"), buyer, nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, body := env.call(fiber.MethodPost, dealPath(id, "/cancel"), env.token(adminID, ""), nil)
	require.Equal(t, fiber.StatusOK, code, body)
	assert.Equal(t, "CANCELED", data(t, body)["status"])
}

func TestSecretHalf(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")
	id := env.createDeal(buyer)

	code, body := env.call(fiber.MethodGet, dealPath(id, "/secret"), buyer, nil)
	require.Equal(t, fiber.StatusOK, code, body)
	buyerHalf := data(t, body)
	assert.Equal(t, "buyer", buyerHalf["role"])
	assert.Len(t, strings.Fields(buyerHalf["half"].(string)), secrets.WordCount/2)

	code, body = env.call(fiber.MethodGet, dealPath(id, "/secret"), env.token(sellerID, "bob"), nil)
	require.Equal(t, fiber.StatusOK, code, body)
	assert.Equal(t, "seller", data(t, body)["role"])
	assert.NotEqual(t, buyerHalf["half"], data(t, body)["half"])

	code, _ = env.call(fiber.MethodGet, dealPath(id, "/secret"), env.token(303, "carol"), nil)
	assert.Equal(t, fiber.StatusForbidden, code)
}

func TestBadAndMissingDealIDs(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.token(buyerID, "alice")

	code, _ := env.call(fiber.MethodGet, "/api/v1/deals/abc", buyer, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body := env.call(fiber.MethodGet, "/api/v1/deals/4242", buyer, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "deal not found", body["error"])

	code, _ = env.call(fiber.MethodPost, "/api/v1/deals/4242/deposit", buyer, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}

// signedInitData builds initData the way Telegram signs it.
func signedInitData(botToken string, user string) string {
	vals := url.Values{}
	vals.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	vals.Set("user", user)

	var pairs []string
	for k, v := range vals {
		pairs = append(pairs, k+"="+v[0])
	}
	sort.Strings(pairs)

	key := hmac.New(sha256.New, []byte("WebAppData"))
	key.Write([]byte(botToken))
	h := hmac.New(sha256.New, key.Sum(nil))
	h.Write([]byte(strings.Join(pairs, "\n")))
	vals.Set("hash", hex.EncodeToString(h.Sum(nil)))
	return vals.Encode()
}

func TestTelegramAuth(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.call(fiber.MethodPost, "/api/v1/auth/telegram", "", map[string]any{
		"init_data": signedInitData(env.cfg.BotToken, `{"id":101,"username":"Alice"}`),
	})
	require.Equal(t, fiber.StatusOK, code, body)

	claims, err := auth.ParseJWT(env.cfg.JWTSecret, body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, int64(101), claims.TelegramUserID)
	assert.Equal(t, "alice", claims.Username)

	code, _ = env.call(fiber.MethodPost, "/api/v1/auth/telegram", "", map[string]any{
		"init_data": signedInitData("wrong-token", `{"id":101}`),
	})
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = env.call(fiber.MethodPost, "/api/v1/auth/telegram", "", map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, code)
}

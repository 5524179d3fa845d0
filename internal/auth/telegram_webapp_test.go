package auth

import (
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testBotToken = "test-bot-token-12345"

// buildInitData returns initData signed with botToken.
func buildInitData(botToken string, authDate time.Time, extra map[string]string) string {
	params := url.Values{}
	params.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	for k, v := range extra {
		params.Set(k, v)
	}
	params.Set("hash", hex.EncodeToString(signInitData(params, botToken)))
	return params.Encode()
}

func TestValidateTelegramWebAppData(t *testing.T) {
	now := time.Now()
	user := map[string]string{"query_id": "q1", "user": `{"id":123456,"username":"tester"}`}

	tests := []struct {
		name     string
		initData string
		maxAge   time.Duration
		wantErr  string
	}{
		{"valid", buildInitData(testBotToken, now.Add(-30*time.Second), user), 5 * time.Minute, ""},
		{"default max age", buildInitData(testBotToken, now.Add(-10*time.Second), user), 0, ""},
		{"expired", buildInitData(testBotToken, now.Add(-10*time.Minute), user), 5 * time.Minute, "expired"},
		{"future", buildInitData(testBotToken, now.Add(5*time.Minute), user), 5 * time.Minute, "future"},
		{"wrong token", buildInitData("other-token", now, user), 5 * time.Minute, "invalid hash"},
		{"missing hash", "auth_date=" + strconv.FormatInt(now.Unix(), 10), 5 * time.Minute, "hash is missing"},
		{"missing auth_date", "hash=abc", 5 * time.Minute, "auth_date is missing"},
		{"bad auth_date", "hash=abc&auth_date=yesterday", 5 * time.Minute, "not a valid unix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals, err := ValidateTelegramWebAppData(tt.initData, testBotToken, tt.maxAge)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got: %v", err)
				}
				if vals.Get("query_id") != "q1" {
					t.Errorf("expected query_id=q1, got %s", vals.Get("query_id"))
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in error, got: %s", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidateTelegramWebAppData_TamperedField(t *testing.T) {
	initData := buildInitData(testBotToken, time.Now(), map[string]string{"user": `{"id":1}`})
	tampered := strings.Replace(initData, "%22id%22%3A1", "%22id%22%3A2", 1)
	if tampered == initData {
		t.Fatal("test setup: user id not found in encoded initData")
	}
	if _, err := ValidateTelegramWebAppData(tampered, testBotToken, time.Minute); err == nil {
		t.Fatal("expected error for tampered initData")
	}
}

func TestParseWebAppUser(t *testing.T) {
	now := time.Now()

	u, err := ParseWebAppUser(buildInitData(testBotToken, now, map[string]string{
		"user": `{"id":6127489137,"username":"Alice","first_name":"A"}`,
	}), testBotToken, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 6127489137 || u.Username != "Alice" {
		t.Errorf("unexpected user %+v", u)
	}

	cases := map[string]map[string]string{
		"no user":      {},
		"broken json":  {"user": `{"id":`},
		"zero user id": {"user": `{"username":"ghost"}`},
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseWebAppUser(buildInitData(testBotToken, now, extra), testBotToken, time.Minute); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("secret", 42, "alice", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.TelegramUserID != 42 || claims.Username != "alice" {
		t.Errorf("unexpected claims %+v", claims)
	}

	if _, err := ParseJWT("other-secret", token); err == nil {
		t.Error("token verified with the wrong secret")
	}
}

func TestJWTDefaultExpiration(t *testing.T) {
	token, err := GenerateJWT("secret", 42, "", -time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	// non-positive expiration falls back to 24h, so the token is still valid
	if _, err := ParseJWT("secret", token); err != nil {
		t.Fatalf("expected fallback expiration, got %v", err)
	}
}

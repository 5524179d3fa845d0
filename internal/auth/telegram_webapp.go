package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInitDataTTL bounds the age of auth_date when no max age is configured.
const DefaultInitDataTTL = 5 * time.Minute

// maxClockSkew tolerates auth_date slightly in the future.
const maxClockSkew = time.Minute

// WebAppUser is the "user" object Telegram embeds in initData.
type WebAppUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ValidateTelegramWebAppData checks the initData signature and freshness.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func ValidateTelegramWebAppData(initData string, botToken string, maxAge time.Duration) (url.Values, error) {
	if maxAge <= 0 {
		maxAge = DefaultInitDataTTL
	}

	vals, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("invalid initData format: %w", err)
	}

	receivedHash := vals.Get("hash")
	if receivedHash == "" {
		return nil, fmt.Errorf("hash is missing from initData")
	}

	authDateStr := vals.Get("auth_date")
	if authDateStr == "" {
		return nil, fmt.Errorf("auth_date is missing from initData")
	}
	authDateUnix, err := strconv.ParseInt(authDateStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("auth_date is not a valid unix timestamp")
	}
	authDate := time.Unix(authDateUnix, 0)
	if age := time.Since(authDate); age > maxAge {
		return nil, fmt.Errorf("initData expired: auth_date is %s old (max %s)", age.Round(time.Second), maxAge)
	}
	if authDate.After(time.Now().Add(maxClockSkew)) {
		return nil, fmt.Errorf("auth_date is in the future")
	}

	expected := hex.EncodeToString(signInitData(vals, botToken))
	if !hmac.Equal([]byte(expected), []byte(receivedHash)) {
		return nil, fmt.Errorf("invalid hash: data integrity check failed")
	}

	return vals, nil
}

// ParseWebAppUser validates initData and decodes the user it was issued for.
func ParseWebAppUser(initData string, botToken string, maxAge time.Duration) (*WebAppUser, error) {
	vals, err := ValidateTelegramWebAppData(initData, botToken, maxAge)
	if err != nil {
		return nil, err
	}

	raw := vals.Get("user")
	if raw == "" {
		return nil, fmt.Errorf("user data missing from initData")
	}
	var u WebAppUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("invalid user data: %w", err)
	}
	if u.ID <= 0 {
		return nil, fmt.Errorf("user id missing from initData")
	}
	return &u, nil
}

// signInitData builds the data-check string (sorted key=value lines, hash excluded)
// and signs it with HMAC-SHA256("WebAppData", bot_token).
func signInitData(vals url.Values, botToken string) []byte {
	var pairs []string
	for key, values := range vals {
		if key == "hash" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)

	secretKey := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	return hmacSHA256(secretKey, []byte(strings.Join(pairs, "\n")))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

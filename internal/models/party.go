package models

import "strings"

// Party references one side of a deal. A party is either resolved to a numeric
// Telegram identity (optionally with a handle) or known only by its handle.
type Party struct {
	TelegramID *int64  `json:"telegram_id,omitempty"`
	Username   *string `json:"username,omitempty"`
}

func ResolvedParty(telegramID int64, username string) Party {
	id := telegramID
	p := Party{TelegramID: &id}
	if h := NormalizeHandle(username); h != "" {
		p.Username = &h
	}
	return p
}

func HandleParty(username string) Party {
	h := NormalizeHandle(username)
	return Party{Username: &h}
}

func (p Party) IsResolved() bool {
	return p.TelegramID != nil && *p.TelegramID > 0
}

func (p Party) Handle() string {
	if p.Username == nil {
		return ""
	}
	return *p.Username
}

func (p Party) Valid() bool {
	return p.IsResolved() || p.Handle() != ""
}

// Matches reports whether the caller is this party, by identity or by handle.
func (p Party) Matches(c Caller) bool {
	if p.IsResolved() && c.TelegramID > 0 && *p.TelegramID == c.TelegramID {
		return true
	}
	h := NormalizeHandle(c.Username)
	return h != "" && p.Handle() == h
}

// NormalizeHandle trims whitespace and a leading @ and lower-cases the handle.
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

// Caller is the identity on whose behalf an operation runs.
type Caller struct {
	TelegramID int64
	Username   string
}

package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Status    string `json:"status,omitempty"` // deal status for rejected transitions
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type SecretHalfResponse struct {
	DealID int64  `json:"deal_id"`
	Role   string `json:"role"`
	Half   string `json:"half"`
}

type MeResponse struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	Username       string `json:"username,omitempty"`
	IsAdmin        bool   `json:"is_admin"`
}

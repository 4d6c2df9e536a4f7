package authapi

import "time"

type loginRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token"`
}

// sessionResponse never carries the refresh token; it travels only in the cookie.
type sessionResponse struct {
	UserID          string    `json:"user_id"`
	TokenType       string    `json:"token_type"`
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type meResponse struct {
	UserID string `json:"user_id"`
}

package authapi

import (
	"time"

	"gatehouse/cmd/identity"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// accountResponse never carries the password hash or any token.
type accountResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type forgotPasswordResponse struct {
	Message    string     `json:"message"`
	ResetToken string     `json:"resetToken,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Username:  a.Username,
		CreatedAt: a.CreatedAt,
	}
}

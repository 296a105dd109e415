package domain

import "time"

// LoginRequest carries the credentials for a password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token pair.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       string `json:"user_id"`
	Role         Role   `json:"role"`
	Name         string `json:"name"`
}

// RefreshRequest carries a refresh token for rotation.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthCredential is the stored password hash for a user.
type AuthCredential struct {
	UserID       string     `json:"user_id"`
	PasswordHash string     `json:"password_hash"`
	FailedCount  int        `json:"failed_count"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
}

// AuthRefreshToken is a stored, hashed refresh token.
type AuthRefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

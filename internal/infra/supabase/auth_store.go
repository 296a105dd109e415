package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/Gokkul-M/istri-sub001/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Auth — credentials and refresh tokens (implements port.AuthStore)
// ============================================================

// GetUserByEmail fetches a user by email for the login flow.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByEmail")
	defer span.End()

	path := fmt.Sprintf("users?email=eq.%s&limit=1", url.QueryEscape(email))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrStorageUnavailable{Op: "get user by email", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return nil, nil
	}

	var rows []supabaseUser
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	user := rows[0].toDomain()
	return &user, nil
}

type supabaseCredential struct {
	UserID       string  `json:"user_id"`
	PasswordHash string  `json:"password_hash"`
	FailedCount  int     `json:"failed_count"`
	LockedUntil  *string `json:"locked_until,omitempty"`
}

// GetCredentials fetches the stored password hash for a user.
func (c *Client) GetCredentials(ctx context.Context, userID string) (*domain.AuthCredential, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCredentials")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("auth_credentials?user_id=eq.%s&limit=1", url.QueryEscape(userID))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrStorageUnavailable{Op: "get credentials", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "credentials", ID: userID}
	}

	var rows []supabaseCredential
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "credentials", ID: userID}
	}

	cred := &domain.AuthCredential{
		UserID:       rows[0].UserID,
		PasswordHash: rows[0].PasswordHash,
		FailedCount:  rows[0].FailedCount,
	}
	if rows[0].LockedUntil != nil {
		if t, err := time.Parse(time.RFC3339, *rows[0].LockedUntil); err == nil {
			cred.LockedUntil = &t
		}
	}
	return cred, nil
}

// StoreRefreshToken persists a hashed refresh token.
func (c *Client) StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.StoreRefreshToken")
	defer span.End()

	_, err := c.doPost(ctx, "auth_refresh_tokens", map[string]any{
		"user_id":    userID,
		"token_hash": tokenHash,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"revoked":    false,
	})
	if err != nil {
		return &domain.ErrStorageUnavailable{Op: "store refresh token", Err: err}
	}
	return nil
}

type supabaseRefreshToken struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TokenHash string `json:"token_hash"`
	ExpiresAt string `json:"expires_at"`
	Revoked   bool   `json:"revoked"`
}

// GetRefreshToken looks up a non-revoked refresh token by its hash.
func (c *Client) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.AuthRefreshToken, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetRefreshToken")
	defer span.End()

	path := fmt.Sprintf("auth_refresh_tokens?token_hash=eq.%s&revoked=eq.false&limit=1", url.QueryEscape(tokenHash))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrStorageUnavailable{Op: "get refresh token", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return nil, nil
	}

	var rows []supabaseRefreshToken
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	expiresAt, _ := time.Parse(time.RFC3339, rows[0].ExpiresAt)
	return &domain.AuthRefreshToken{
		ID:        rows[0].ID,
		UserID:    rows[0].UserID,
		TokenHash: rows[0].TokenHash,
		ExpiresAt: expiresAt,
		Revoked:   rows[0].Revoked,
	}, nil
}

// RevokeRefreshToken marks a single refresh token as revoked.
func (c *Client) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RevokeRefreshToken")
	defer span.End()

	path := fmt.Sprintf("auth_refresh_tokens?token_hash=eq.%s", url.QueryEscape(tokenHash))
	if _, err := c.doPatch(ctx, path, map[string]any{"revoked": true}); err != nil {
		return &domain.ErrStorageUnavailable{Op: "revoke refresh token", Err: err}
	}
	return nil
}

// RevokeAllRefreshTokens revokes every refresh token of a user (logout).
func (c *Client) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RevokeAllRefreshTokens")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	path := fmt.Sprintf("auth_refresh_tokens?user_id=eq.%s", url.QueryEscape(userID))
	if _, err := c.doPatch(ctx, path, map[string]any{"revoked": true}); err != nil {
		return &domain.ErrStorageUnavailable{Op: "revoke refresh tokens", Err: err}
	}
	return nil
}

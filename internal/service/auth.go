package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/port"
)

var authTracer = otel.Tracer("istri/service/auth")

// AuthService orchestrates the password login and token flows.
type AuthService struct {
	store      port.AuthStore
	directory  *DirectoryService
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.AuthStore, jwtSecret string, accessTTL, refreshTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// ============================================================
// Login — POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "email and password are required"}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}
	if !user.Active {
		s.logger.Warn("login: inactive account",
			zap.String("user_id", user.ID),
		)
		return nil, &domain.ErrUnauthorized{Message: "account is deactivated"}
	}

	cred, err := s.store.GetCredentials(ctx, user.ID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			// A user row without a credentials row must look like any
			// other bad login, not like a 404.
			s.logger.Warn("login: user has no credentials",
				zap.String("user_id", user.ID),
			)
			return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}

	if cred.LockedUntil != nil && cred.LockedUntil.After(time.Now()) {
		remaining := time.Until(*cred.LockedUntil).Minutes()
		s.logger.Warn("login: account temporarily locked",
			zap.String("user_id", user.ID),
			zap.Float64("remaining_minutes", remaining),
		)
		return nil, &domain.ErrUnauthorized{
			Message: fmt.Sprintf("account temporarily locked, try again in %.0f minutes", remaining),
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: failed password attempt",
			zap.String("user_id", user.ID),
		)
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}

	accessToken, err := s.signAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, refreshHash, err := s.generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.store.StoreRefreshToken(ctx, user.ID, refreshHash, time.Now().Add(s.refreshTTL)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	s.logger.Info("user logged in",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
	)

	return &domain.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		UserID:       user.ID,
		Role:         user.Role,
		Name:         user.Name,
	}, nil
}

// ============================================================
// Refresh — POST /v1/auth/refresh
// ============================================================

func (s *AuthService) Refresh(ctx context.Context, req *domain.RefreshRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	tokenHash := hashToken(req.RefreshToken)

	stored, err := s.store.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	if stored == nil || stored.Revoked {
		return nil, &domain.ErrUnauthorized{Message: "invalid refresh token"}
	}
	if stored.ExpiresAt.Before(time.Now()) {
		s.logger.Warn("refresh: expired token used",
			zap.String("user_id", stored.UserID),
		)
		_ = s.store.RevokeRefreshToken(ctx, tokenHash)
		return nil, &domain.ErrUnauthorized{Message: "refresh token expired"}
	}

	// Rotation: the presented token dies regardless of the outcome below.
	_ = s.store.RevokeRefreshToken(ctx, tokenHash)

	// The stored user id may predate a migration run. The directory
	// resolves it through the mapping, so the new token pair always
	// carries the canonical identifier.
	user, err := s.lookupUser(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid refresh token"}
	}

	accessToken, err := s.signAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	newRefreshToken, newRefreshHash, err := s.generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.store.StoreRefreshToken(ctx, user.ID, newRefreshHash, time.Now().Add(s.refreshTTL)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		UserID:       user.ID,
		Role:         user.Role,
		Name:         user.Name,
	}, nil
}

// SetDirectory wires the directory used to resolve possibly-legacy user
// identifiers found in stored refresh tokens. Set once during startup.
func (s *AuthService) SetDirectory(d *DirectoryService) {
	s.directory = d
}

func (s *AuthService) lookupUser(ctx context.Context, id string) (*domain.User, error) {
	if s.directory == nil {
		return nil, nil
	}
	u, err := s.directory.GetUser(ctx, id)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// ============================================================
// Logout — POST /v1/auth/logout
// ============================================================

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	if err := s.store.RevokeAllRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.logger.Info("user logged out", zap.String("user_id", userID))
	return nil
}

// ============================================================
// ValidateToken — used by middleware
// ============================================================

// JWTClaims represents the custom claims in access tokens.
type JWTClaims struct {
	Sub  string      `json:"sub"`
	Role domain.Role `json:"role"`
	Type string      `json:"type"`
	jwt.RegisteredClaims
}

func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}

	return claims, nil
}

// ============================================================
// Internal helpers
// ============================================================

func (s *AuthService) signAccessToken(userID string, role domain.Role) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:  userID,
		Role: role,
		Type: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "istri-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *AuthService) generateRefreshToken() (raw string, hashed string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	hashed = hashToken(raw)
	return raw, hashed, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from the Supabase adapter (or any other persistence layer).
package port

import (
	"context"
	"time"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
)

// UserStore defines the operations on the user collection.
type UserStore interface {
	// ListUsers returns the full user collection. Implementations page
	// through the backend internally; callers never assume one page.
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, id string) error
}

// MappingStore defines the operations on identifier-mapping records.
type MappingStore interface {
	// GetMappingByLegacyID returns nil (no error) when no mapping exists.
	GetMappingByLegacyID(ctx context.Context, legacyID string) (*domain.IDMapping, error)
	CreateMapping(ctx context.Context, m *domain.IDMapping) error
	MarkReferencesPatched(ctx context.Context, mappingID string) error
	ListMappings(ctx context.Context) ([]domain.IDMapping, error)
}

// ReferenceStore patches and counts user-identifier foreign keys in the
// collections that reference users.
type ReferenceStore interface {
	// PatchReferences rewrites every document in collection whose field
	// equals oldID so that it holds newID, and returns how many documents
	// were rewritten.
	PatchReferences(ctx context.Context, collection, field, oldID, newID string) (int, error)
	// PatchArrayReferences does the same for string-array fields that
	// contain oldID as an element.
	PatchArrayReferences(ctx context.Context, collection, field, oldID, newID string) (int, error)
	// CountDocuments returns the number of documents in a collection.
	CountDocuments(ctx context.Context, collection string) (int, error)
}

// AuthStore defines the data operations for the authentication flows.
type AuthStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetCredentials(ctx context.Context, userID string) (*domain.AuthCredential, error)
	StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.AuthRefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// Package domain holds the entities and error types shared by all layers
// of the Istri marketplace backend.
package domain

import (
	"regexp"
	"time"
)

// Role identifies which side of the marketplace a user belongs to.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Canonical identifier prefixes, one namespace per role.
const (
	PrefixCustomer = "CUST"
	PrefixProvider = "PROV"
	PrefixAdmin    = "ADMIN"
)

// canonicalIDPattern matches role-namespaced sequential identifiers such as
// CUST-0042. Padding is four digits minimum; larger numbers simply widen.
var canonicalIDPattern = regexp.MustCompile(`^(CUST|PROV|ADMIN)-\d{4,}$`)

// IsCanonicalID reports whether id is in the canonical <PREFIX>-NNNN format.
// Anything else (e.g. an opaque auth-subject string) is a legacy identifier.
func IsCanonicalID(id string) bool {
	return canonicalIDPattern.MatchString(id)
}

// RolePrefix returns the canonical identifier prefix for a role.
func RolePrefix(role Role) string {
	switch role {
	case RoleProvider:
		return PrefixProvider
	case RoleAdmin:
		return PrefixAdmin
	default:
		return PrefixCustomer
	}
}

// User is a marketplace account. The ID is either a legacy opaque identifier
// issued by the auth provider at signup, or a canonical role-namespaced one.
type User struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`

	// Provider business attributes (empty for customers and admins).
	BusinessName string   `json:"business_name,omitempty"`
	ServiceAreas []string `json:"service_areas,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLegacy reports whether this user still carries a legacy identifier.
func (u *User) IsLegacy() bool {
	return !IsCanonicalID(u.ID)
}

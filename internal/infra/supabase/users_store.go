package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Gokkul-M/istri-sub001/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Users — CRUD via PostgREST (implements port.UserStore)
// ============================================================

// supabaseUser maps the users table columns to the domain entity.
type supabaseUser struct {
	ID           string   `json:"id"`
	Role         string   `json:"role"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone,omitempty"`
	BusinessName string   `json:"business_name,omitempty"`
	ServiceAreas []string `json:"service_areas,omitempty"`
	Active       bool     `json:"active"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

func (r supabaseUser) toDomain() domain.User {
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	return domain.User{
		ID:           r.ID,
		Role:         domain.Role(r.Role),
		Name:         r.Name,
		Email:        r.Email,
		Phone:        r.Phone,
		BusinessName: r.BusinessName,
		ServiceAreas: r.ServiceAreas,
		Active:       r.Active,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
}

func fromDomainUser(u *domain.User) supabaseUser {
	row := supabaseUser{
		ID:           u.ID,
		Role:         string(u.Role),
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		BusinessName: u.BusinessName,
		ServiceAreas: u.ServiceAreas,
		Active:       u.Active,
	}
	if !u.CreatedAt.IsZero() {
		row.CreatedAt = u.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !u.UpdatedAt.IsZero() {
		row.UpdatedAt = u.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return row
}

// ListUsers reads the full user collection, paging through PostgREST.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListUsers")
	defer span.End()

	rows, err := getAllPages[supabaseUser](ctx, c, "users?select=*")
	if err != nil {
		return nil, &domain.ErrStorageUnavailable{Op: "list users", Err: err}
	}
	span.SetAttributes(attribute.Int("users.count", len(rows)))

	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// GetUser fetches a single user by identifier.
func (c *Client) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", id))

	path := fmt.Sprintf("users?id=eq.%s&limit=1", url.QueryEscape(id))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrStorageUnavailable{Op: "get user", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}

	var rows []supabaseUser
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}

	user := rows[0].toDomain()
	return &user, nil
}

// CreateUser inserts a new user row.
func (c *Client) CreateUser(ctx context.Context, user *domain.User) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", user.ID))

	if _, err := c.doPost(ctx, "users", fromDomainUser(user)); err != nil {
		var conflict *domain.ErrConflict
		if errors.As(err, &conflict) {
			return conflict
		}
		return &domain.ErrStorageUnavailable{Op: "create user", Err: err}
	}
	return nil
}

// DeleteUser removes a user row by identifier.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", id))

	path := fmt.Sprintf("users?id=eq.%s", url.QueryEscape(id))
	if err := c.doDelete(ctx, path); err != nil {
		return &domain.ErrStorageUnavailable{Op: "delete user", Err: err}
	}
	return nil
}

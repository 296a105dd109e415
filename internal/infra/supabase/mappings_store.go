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
// Identifier mappings — audit + idempotency records
// (implements port.MappingStore)
// ============================================================

const mappingsTable = "user_id_mappings"

type supabaseMapping struct {
	ID                string `json:"id"`
	LegacyID          string `json:"legacy_id"`
	CanonicalID       string `json:"canonical_id"`
	Role              string `json:"role"`
	MigratedAt        string `json:"migrated_at"`
	ReferencesPatched bool   `json:"references_patched"`
}

func (r supabaseMapping) toDomain() domain.IDMapping {
	migratedAt, _ := time.Parse(time.RFC3339, r.MigratedAt)
	return domain.IDMapping{
		ID:                r.ID,
		LegacyID:          r.LegacyID,
		CanonicalID:       r.CanonicalID,
		Role:              domain.Role(r.Role),
		MigratedAt:        migratedAt,
		ReferencesPatched: r.ReferencesPatched,
	}
}

// GetMappingByLegacyID returns the mapping for a legacy identifier, or nil
// when the user has not been migrated.
func (c *Client) GetMappingByLegacyID(ctx context.Context, legacyID string) (*domain.IDMapping, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetMappingByLegacyID")
	defer span.End()
	span.SetAttributes(attribute.String("legacy.id", legacyID))

	path := fmt.Sprintf("%s?legacy_id=eq.%s&limit=1", mappingsTable, url.QueryEscape(legacyID))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrStorageUnavailable{Op: "get mapping", Err: err}
	}
	if body == nil || string(body) == "[]" {
		return nil, nil
	}

	var rows []supabaseMapping
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	m := rows[0].toDomain()
	return &m, nil
}

// CreateMapping writes a new identifier-mapping record.
func (c *Client) CreateMapping(ctx context.Context, m *domain.IDMapping) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateMapping")
	defer span.End()
	span.SetAttributes(
		attribute.String("legacy.id", m.LegacyID),
		attribute.String("canonical.id", m.CanonicalID),
	)

	row := supabaseMapping{
		ID:                m.ID,
		LegacyID:          m.LegacyID,
		CanonicalID:       m.CanonicalID,
		Role:              string(m.Role),
		MigratedAt:        m.MigratedAt.UTC().Format(time.RFC3339),
		ReferencesPatched: m.ReferencesPatched,
	}
	if _, err := c.doPost(ctx, mappingsTable, row); err != nil {
		return &domain.ErrStorageUnavailable{Op: "create mapping", Err: err}
	}
	return nil
}

// MarkReferencesPatched flips the references_patched flag after reference
// propagation completes for the mapped user.
func (c *Client) MarkReferencesPatched(ctx context.Context, mappingID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkReferencesPatched")
	defer span.End()

	path := fmt.Sprintf("%s?id=eq.%s", mappingsTable, url.QueryEscape(mappingID))
	if _, err := c.doPatch(ctx, path, map[string]any{"references_patched": true}); err != nil {
		return &domain.ErrStorageUnavailable{Op: "mark references patched", Err: err}
	}
	return nil
}

// ListMappings returns every identifier-mapping record for audit.
func (c *Client) ListMappings(ctx context.Context) ([]domain.IDMapping, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMappings")
	defer span.End()

	rows, err := getAllPages[supabaseMapping](ctx, c, mappingsTable+"?select=*")
	if err != nil {
		return nil, &domain.ErrStorageUnavailable{Op: "list mappings", Err: err}
	}

	mappings := make([]domain.IDMapping, 0, len(rows))
	for _, r := range rows {
		mappings = append(mappings, r.toDomain())
	}
	return mappings, nil
}

package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Gokkul-M/istri-sub001/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Reference propagation — generic foreign-key rewrites
// (implements port.ReferenceStore)
// ============================================================

// PatchReferences rewrites field from oldID to newID in every matching
// document of collection, returning the number of rewritten documents.
func (c *Client) PatchReferences(ctx context.Context, collection, field, oldID, newID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.PatchReferences")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("field", field),
	)

	path := fmt.Sprintf("%s?%s=eq.%s", collection, field, url.QueryEscape(oldID))
	n, err := c.doPatch(ctx, path, map[string]any{field: newID})
	if err != nil {
		return 0, &domain.ErrStorageUnavailable{Op: "patch " + collection + "." + field, Err: err}
	}

	if n > 0 {
		c.logger.Info("supabase: references patched",
			zap.String("collection", collection),
			zap.String("field", field),
			zap.Int("documents", n),
		)
	}
	return n, nil
}

// PatchArrayReferences rewrites oldID to newID inside string-array fields.
// PostgREST cannot express an element-level update, so rows containing the
// old identifier are read, rewritten in memory and patched back one by one.
func (c *Client) PatchArrayReferences(ctx context.Context, collection, field, oldID, newID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.PatchArrayReferences")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("field", field),
	)

	// cs = "contains": rows whose array field includes the old identifier.
	path := fmt.Sprintf("%s?%s=cs.{%s}&select=id,%s", collection, field, url.QueryEscape(oldID), field)
	body, err := c.doGet(ctx, path)
	if err != nil {
		return 0, &domain.ErrStorageUnavailable{Op: "scan " + collection + "." + field, Err: err}
	}
	if body == nil || string(body) == "[]" {
		return 0, nil
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode %s rows: %w", collection, err)
	}

	patched := 0
	for _, row := range rows {
		var id string
		if err := json.Unmarshal(row["id"], &id); err != nil {
			return patched, fmt.Errorf("decode %s row id: %w", collection, err)
		}
		var values []string
		if err := json.Unmarshal(row[field], &values); err != nil {
			return patched, fmt.Errorf("decode %s.%s: %w", collection, field, err)
		}

		for i, v := range values {
			if v == oldID {
				values[i] = newID
			}
		}

		rowPath := fmt.Sprintf("%s?id=eq.%s", collection, url.QueryEscape(id))
		if _, err := c.doPatch(ctx, rowPath, map[string]any{field: values}); err != nil {
			return patched, &domain.ErrStorageUnavailable{Op: "patch " + collection + "." + field, Err: err}
		}
		patched++
	}

	if patched > 0 {
		c.logger.Info("supabase: array references patched",
			zap.String("collection", collection),
			zap.String("field", field),
			zap.Int("documents", patched),
		)
	}
	return patched, nil
}

// CountDocuments returns the exact row count of a collection.
func (c *Client) CountDocuments(ctx context.Context, collection string) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	n, err := c.countRows(ctx, collection+"?select=id")
	if err != nil {
		return 0, &domain.ErrStorageUnavailable{Op: "count " + collection, Err: err}
	}
	return n, nil
}

// Package service implements the business logic of the Istri backend:
// the identifier migration executor, the directory lookup and the
// authentication flows.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/infra/observability"
	"github.com/Gokkul-M/istri-sub001/internal/port"
)

var migrationTracer = otel.Tracer("istri/service/migration")

// Caller identifies the authenticated principal invoking a service
// operation, as extracted from the access token.
type Caller struct {
	UserID string
	Role   domain.Role
}

// referenceTarget names one collection field that stores user identifiers.
type referenceTarget struct {
	Collection string
	Field      string
	// Array marks string-array fields, which need element-level rewriting
	// instead of an equality patch.
	Array bool
}

// referenceTargets is the single authoritative list of every place a user
// identifier appears outside the user collection. Adding a referencing
// field to the data model means adding a row here and nothing else.
var referenceTargets = []referenceTarget{
	{Collection: "orders", Field: "customer_id"},
	{Collection: "orders", Field: "provider_id"},
	{Collection: "disputes", Field: "customer_id"},
	{Collection: "disputes", Field: "provider_id"},
	{Collection: "messages", Field: "sender_id"},
	{Collection: "messages", Field: "recipient_id"},
	{Collection: "addresses", Field: "user_id"},
	{Collection: "notifications", Field: "recipient_id"},
	{Collection: "coupons", Field: "assigned_customer_ids", Array: true},
}

// MigrationService inspects and repairs the user identifier scheme:
// classifying legacy vs canonical identifiers, allocating canonical
// replacements and rewriting every reference to the old ones.
type MigrationService struct {
	users    port.UserStore
	mappings port.MappingStore
	refs     port.ReferenceStore
	metrics  *observability.Metrics
	logger   *zap.Logger

	// running serializes migration runs within this process. A second
	// concurrent run would race the allocator's seed.
	running atomic.Bool
}

// NewMigrationService creates a MigrationService.
func NewMigrationService(
	users port.UserStore,
	mappings port.MappingStore,
	refs port.ReferenceStore,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *MigrationService {
	return &MigrationService{
		users:    users,
		mappings: mappings,
		refs:     refs,
		metrics:  metrics,
		logger:   logger,
	}
}

// Inspect classifies the full user collection into legacy and canonical
// identifiers. The result is computed fresh on every call; a cached answer
// could report needs_migration=true after a run already fixed everything.
func (s *MigrationService) Inspect(ctx context.Context) (*domain.MigrationStatus, error) {
	ctx, span := migrationTracer.Start(ctx, "MigrationService.Inspect")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("migration.inspect", time.Since(start)) }()

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.noteStorageError(err)
		return nil, err
	}

	status := &domain.MigrationStatus{}
	for i := range users {
		if users[i].IsLegacy() {
			status.OldFormatUsers++
		} else {
			status.NewFormatUsers++
		}
	}
	status.NeedsMigration = status.OldFormatUsers > 0
	return status, nil
}

// Migrate runs one migration pass over the user collection. Only admins may
// invoke it; the role check is fail-closed. A failure on one user is
// recorded in the result and the run moves on to the next user, so a single
// bad record can never wedge the whole batch. Re-running Migrate is the
// retry mechanism: every step is idempotent or guarded by the mapping
// record, so replays converge instead of double-migrating.
func (s *MigrationService) Migrate(ctx context.Context, caller Caller) (*domain.MigrationResult, error) {
	ctx, span := migrationTracer.Start(ctx, "MigrationService.Migrate")
	defer span.End()

	if caller.Role != domain.RoleAdmin {
		return nil, &domain.ErrForbidden{Action: "run user identifier migration"}
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, &domain.ErrMigrationInProgress{}
	}
	defer s.running.Store(false)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("migration.run", time.Since(start)) }()
	s.logger.Info("migration run started", zap.String("admin_id", caller.UserID))

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.noteStorageError(err)
		s.metrics.RecordMigrationRun("error", time.Since(start))
		return nil, err
	}

	alloc := newAllocator(users)
	inUse := make(map[string]bool, len(users))
	for i := range users {
		inUse[users[i].ID] = true
	}

	result := &domain.MigrationResult{
		Errors:   []string{},
		Mappings: []domain.MappingEntry{},
	}

	for i := range users {
		u := &users[i]
		if !u.IsLegacy() {
			continue
		}
		entry, err := s.migrateUser(ctx, u, alloc, inUse)
		if err != nil {
			msg := fmt.Sprintf("user %s (%s): %v", u.ID, u.Role, err)
			result.Errors = append(result.Errors, msg)
			s.noteStorageError(err)
			s.metrics.IncrUserFailure()
			s.logger.Warn("user migration failed",
				zap.String("legacy_id", u.ID),
				zap.String("role", string(u.Role)),
				zap.Error(err))
			continue
		}
		if entry == nil {
			// Fully migrated on an earlier run; nothing to do.
			continue
		}
		result.Mappings = append(result.Mappings, *entry)
		result.MigratedCount++
	}

	result.Success = len(result.Errors) == 0
	outcome := "success"
	if !result.Success {
		outcome = "partial"
	}
	s.metrics.RecordMigrationRun(outcome, time.Since(start))
	s.metrics.AddUsersMigrated(result.MigratedCount)
	span.SetAttributes(
		attribute.Int("migration.migrated", result.MigratedCount),
		attribute.Int("migration.failures", len(result.Errors)),
	)
	s.logger.Info("migration run finished",
		zap.Int("migrated", result.MigratedCount),
		zap.Int("failures", len(result.Errors)),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// migrateUser moves a single legacy user to a canonical identifier. It
// returns the old→new pair on success, or nil when the user turns out to be
// already migrated. The step order matters: the canonical copy and the
// mapping are written before any reference is touched, so a crash at any
// point leaves a state a replay can finish from.
func (s *MigrationService) migrateUser(
	ctx context.Context,
	u *domain.User,
	alloc *allocator,
	inUse map[string]bool,
) (*domain.MappingEntry, error) {
	mapping, err := s.mappings.GetMappingByLegacyID(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}

	if mapping == nil {
		canonicalID := alloc.allocate(u.Role)
		if inUse[canonicalID] {
			return nil, &domain.ErrAllocationConflict{CanonicalID: canonicalID}
		}

		canonical := *u
		canonical.ID = canonicalID
		canonical.UpdatedAt = time.Now().UTC()
		if err := s.users.CreateUser(ctx, &canonical); err != nil {
			return nil, fmt.Errorf("write canonical record %s: %w", canonicalID, err)
		}
		inUse[canonicalID] = true

		mapping = &domain.IDMapping{
			ID:          uuid.New().String(),
			LegacyID:    u.ID,
			CanonicalID: canonicalID,
			Role:        u.Role,
			MigratedAt:  time.Now().UTC(),
		}
		if err := s.mappings.CreateMapping(ctx, mapping); err != nil {
			return nil, fmt.Errorf("write mapping %s -> %s: %w", u.ID, canonicalID, err)
		}
	} else if mapping.ReferencesPatched {
		return nil, nil
	}
	// A mapping with ReferencesPatched=false means a previous run crashed
	// mid-propagation: reuse its canonical ID and finish the remaining
	// steps instead of allocating a second identifier.

	for _, target := range referenceTargets {
		var (
			n   int
			err error
		)
		if target.Array {
			n, err = s.refs.PatchArrayReferences(ctx, target.Collection, target.Field, u.ID, mapping.CanonicalID)
		} else {
			n, err = s.refs.PatchReferences(ctx, target.Collection, target.Field, u.ID, mapping.CanonicalID)
		}
		if err != nil {
			return nil, fmt.Errorf("patch %s.%s: %w", target.Collection, target.Field, err)
		}
		if n > 0 {
			s.metrics.AddReferencesPatched(target.Collection, n)
		}
	}

	if err := s.users.DeleteUser(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("retire legacy record: %w", err)
	}
	if err := s.mappings.MarkReferencesPatched(ctx, mapping.ID); err != nil {
		return nil, fmt.Errorf("finalize mapping: %w", err)
	}

	s.logger.Info("user migrated",
		zap.String("legacy_id", u.ID),
		zap.String("canonical_id", mapping.CanonicalID),
		zap.String("role", string(u.Role)))

	return &domain.MappingEntry{
		OldID: u.ID,
		NewID: mapping.CanonicalID,
		Role:  u.Role,
	}, nil
}

// ListMappings returns the full migration audit trail.
func (s *MigrationService) ListMappings(ctx context.Context) ([]domain.IDMapping, error) {
	ctx, span := migrationTracer.Start(ctx, "MigrationService.ListMappings")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("migration.list_mappings", time.Since(start)) }()

	mappings, err := s.mappings.ListMappings(ctx)
	if err != nil {
		s.noteStorageError(err)
		return nil, err
	}
	return mappings, nil
}

// noteStorageError bumps the external-error counter when err originated
// in the backing store.
func (s *MigrationService) noteStorageError(err error) {
	var unavailable *domain.ErrStorageUnavailable
	var open *domain.ErrCircuitOpen
	if errors.As(err, &unavailable) || errors.As(err, &open) {
		s.metrics.IncrExternalError("supabase")
	}
}

// Overview aggregates the migration status with per-collection document
// counts for the admin dashboard. The independent reads are fanned out
// concurrently; any failure cancels the rest.
func (s *MigrationService) Overview(ctx context.Context) (*domain.MigrationOverview, error) {
	ctx, span := migrationTracer.Start(ctx, "MigrationService.Overview")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("migration.overview", time.Since(start)) }()

	overview := &domain.MigrationOverview{
		UsersByRole:     make(map[domain.Role]int),
		ReferenceCounts: make(map[string]int),
	}

	collections := make(map[string]bool)
	for _, t := range referenceTargets {
		collections[t.Collection] = true
	}
	counts := make([]int, 0, len(collections))
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
		counts = append(counts, 0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.users.ListUsers(gctx)
		if err != nil {
			return err
		}
		status := domain.MigrationStatus{}
		for i := range users {
			overview.UsersByRole[users[i].Role]++
			if users[i].IsLegacy() {
				status.OldFormatUsers++
			} else {
				status.NewFormatUsers++
			}
		}
		status.NeedsMigration = status.OldFormatUsers > 0
		overview.Status = status
		return nil
	})
	g.Go(func() error {
		mappings, err := s.mappings.ListMappings(gctx)
		if err != nil {
			return err
		}
		overview.MappingCount = len(mappings)
		return nil
	})
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			n, err := s.refs.CountDocuments(gctx, name)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.noteStorageError(err)
		return nil, err
	}
	for i, name := range names {
		overview.ReferenceCounts[name] = counts[i]
	}
	return overview, nil
}

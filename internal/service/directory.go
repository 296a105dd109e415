package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/infra/observability"
	"github.com/Gokkul-M/istri-sub001/internal/port"
)

var directoryTracer = otel.Tracer("istri/service/directory")

// DirectoryService serves user lookups. It is tolerant of legacy
// identifiers held by old clients: a miss on the user collection falls
// through to the mapping table, so a bookmark or stored token that still
// carries a pre-migration id keeps resolving to the same account.
type DirectoryService struct {
	users    port.UserStore
	mappings port.MappingStore
	cache    port.Cache[*domain.User]
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewDirectoryService creates a DirectoryService.
func NewDirectoryService(
	users port.UserStore,
	mappings port.MappingStore,
	cache port.Cache[*domain.User],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *DirectoryService {
	return &DirectoryService{
		users:    users,
		mappings: mappings,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
	}
}

// GetUser returns the user for id, resolving legacy identifiers through
// the migration mapping when the direct lookup misses.
func (s *DirectoryService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.GetUser")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("directory.get_user", time.Since(start)) }()

	if cached, ok := s.cache.Get(id); ok {
		s.metrics.IncrCacheHit("users")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("users")

	user, err := s.users.GetUser(ctx, id)
	if err == nil {
		s.cache.Set(id, user)
		return user, nil
	}

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		return nil, err
	}
	if domain.IsCanonicalID(id) {
		return nil, err
	}

	// Legacy id miss: the account may have been migrated out from under
	// this client. Follow the mapping to the canonical record.
	mapping, merr := s.mappings.GetMappingByLegacyID(ctx, id)
	if merr != nil {
		return nil, merr
	}
	if mapping == nil {
		return nil, err
	}

	user, err = s.users.GetUser(ctx, mapping.CanonicalID)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("resolved legacy user id",
		zap.String("legacy_id", id),
		zap.String("canonical_id", mapping.CanonicalID))

	// Cache under both keys so the next legacy lookup skips the mapping.
	s.cache.Set(id, user)
	s.cache.Set(user.ID, user)
	return user, nil
}

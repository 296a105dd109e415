package service_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/infra/observability"
	"github.com/Gokkul-M/istri-sub001/internal/service"
)

// counterValue reads a counter back from the registry, matching on name
// and label values.
func counterValue(t *testing.T, m *observability.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

// histogramSamples reads a histogram's sample count back from the registry.
func histogramSamples(t *testing.T, m *observability.Metrics, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue next
				}
			}
			return metric.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestMigrate_RecordsOperationDuration(t *testing.T) {
	users := newMemUserStore(legacyUser("legacy-1", domain.RoleCustomer, "a@example.com"))
	metrics := testMetrics()
	svc := service.NewMigrationService(users, newMemMappingStore(), newMemRefStore(), metrics, zap.NewNop())

	if _, err := svc.Migrate(context.Background(), adminCaller); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := svc.Inspect(context.Background()); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	if n := histogramSamples(t, metrics, "istri_request_duration_seconds",
		map[string]string{"operation": "migration.run"}); n != 1 {
		t.Errorf("expected 1 recorded run duration, got %d", n)
	}
	if n := histogramSamples(t, metrics, "istri_request_duration_seconds",
		map[string]string{"operation": "migration.inspect"}); n != 1 {
		t.Errorf("expected 1 recorded inspect duration, got %d", n)
	}
}

func TestMigrate_CountsExternalErrors(t *testing.T) {
	users := newMemUserStore()
	users.listErr = &domain.ErrStorageUnavailable{Op: "list users", Err: errors.New("connection refused")}
	metrics := testMetrics()
	svc := service.NewMigrationService(users, newMemMappingStore(), newMemRefStore(), metrics, zap.NewNop())

	if _, err := svc.Migrate(context.Background(), adminCaller); err == nil {
		t.Fatal("expected storage error")
	}

	if v := counterValue(t, metrics, "istri_external_errors_total",
		map[string]string{"service": "supabase"}); v != 1 {
		t.Errorf("expected 1 external error counted, got %v", v)
	}
}

func TestMigrate_PerUserStorageFailureCounted(t *testing.T) {
	users := newMemUserStore(legacyUser("legacy-1", domain.RoleCustomer, "a@example.com"))
	users.createErrFor = map[string]error{
		"a@example.com": &domain.ErrStorageUnavailable{Op: "create user", Err: errors.New("timeout")},
	}
	metrics := testMetrics()
	svc := service.NewMigrationService(users, newMemMappingStore(), newMemRefStore(), metrics, zap.NewNop())

	result, err := svc.Migrate(context.Background(), adminCaller)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(result.Errors))
	}

	if v := counterValue(t, metrics, "istri_external_errors_total",
		map[string]string{"service": "supabase"}); v != 1 {
		t.Errorf("expected 1 external error counted, got %v", v)
	}
}

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/handler"
	"github.com/Gokkul-M/istri-sub001/internal/infra/cache"
	"github.com/Gokkul-M/istri-sub001/internal/infra/observability"
	"github.com/Gokkul-M/istri-sub001/internal/infra/resilience"
	"github.com/Gokkul-M/istri-sub001/internal/infra/supabase"
	"github.com/Gokkul-M/istri-sub001/internal/service"
)

// fakeSupabase emulates the slice of PostgREST behavior the backend uses:
// eq and cs filters, limit, Range pagination, count=exact, and the
// return=representation echo on writes.
type fakeSupabase struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
}

func newFakeSupabase() *fakeSupabase {
	return &fakeSupabase{tables: make(map[string][]map[string]any)}
}

func (f *fakeSupabase) insert(table string, row map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], row)
}

func rowMatches(row map[string]any, query url.Values) bool {
	for key, vals := range query {
		if key == "select" || key == "order" || key == "limit" {
			continue
		}
		v := vals[0]
		switch {
		case strings.HasPrefix(v, "eq."):
			if fmt.Sprint(row[key]) != strings.TrimPrefix(v, "eq.") {
				return false
			}
		case strings.HasPrefix(v, "cs.{") && strings.HasSuffix(v, "}"):
			needle := strings.TrimSuffix(strings.TrimPrefix(v, "cs.{"), "}")
			arr, _ := row[key].([]any)
			found := false
			for _, el := range arr {
				if fmt.Sprint(el) == needle {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func (f *fakeSupabase) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		query := r.URL.Query()

		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			var matched []map[string]any
			for _, row := range f.tables[table] {
				if rowMatches(row, query) {
					matched = append(matched, row)
				}
			}
			total := len(matched)

			if v := query.Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n < len(matched) {
					matched = matched[:n]
				}
			}
			if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
				from, to, ok := strings.Cut(rangeHeader, "-")
				a, errA := strconv.Atoi(from)
				b, errB := strconv.Atoi(to)
				if ok && errA == nil && errB == nil {
					if a > len(matched) {
						a = len(matched)
					}
					if b >= len(matched) {
						b = len(matched) - 1
					}
					matched = matched[a : b+1]
				}
			}
			if strings.Contains(r.Header.Get("Prefer"), "count=exact") {
				w.Header().Set("Content-Range", fmt.Sprintf("0-0/%d", total))
			}
			writeRows(w, http.StatusOK, matched)

		case http.MethodPost:
			var row map[string]any
			if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.tables[table] = append(f.tables[table], row)
			writeRows(w, http.StatusCreated, []map[string]any{row})

		case http.MethodPatch:
			var updates map[string]any
			if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var matched []map[string]any
			for _, row := range f.tables[table] {
				if rowMatches(row, query) {
					for k, v := range updates {
						row[k] = v
					}
					matched = append(matched, row)
				}
			}
			writeRows(w, http.StatusOK, matched)

		case http.MethodDelete:
			var kept []map[string]any
			for _, row := range f.tables[table] {
				if !rowMatches(row, query) {
					kept = append(kept, row)
				}
			}
			f.tables[table] = kept
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func writeRows(w http.ResponseWriter, status int, rows []map[string]any) {
	if rows == nil {
		rows = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(rows)
}

func (f *fakeSupabase) rows(table string, query url.Values) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, row := range f.tables[table] {
		if rowMatches(row, query) {
			out = append(out, row)
		}
	}
	return out
}

func userRow(id, role, name, email string) map[string]any {
	now := time.Now().UTC().Format(time.RFC3339)
	return map[string]any{
		"id": id, "role": role, "name": name, "email": email,
		"active": true, "created_at": now, "updated_at": now,
	}
}

func credentialRow(t *testing.T, userID, password string) map[string]any {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return map[string]any{"user_id": userID, "password_hash": string(hash)}
}

func buildStack(t *testing.T, fake *fakeSupabase) http.Handler {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("test")
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	// Small page size so the list path actually pages.
	store := supabase.NewClient(httpClient, server.URL, "anon", "service-role", cb, cfg, logger, 2)

	migrationSvc := service.NewMigrationService(store, store, store, metrics, logger)
	directorySvc := service.NewDirectoryService(
		store, store, cache.New[*domain.User](time.Minute), metrics, logger)
	authSvc := service.NewAuthService(store, "integration-secret", 15*time.Minute, time.Hour, logger)
	authSvc.SetDirectory(directorySvc)

	return handler.NewRouter(migrationSvc, directorySvc, authSvc, metrics, logger)
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestIntegration_MigrationFlow drives the whole stack — router, services,
// the PostgREST client with paging — against a fake Supabase, through a
// complete admin migration: inspect, run, verify, re-run.
func TestIntegration_MigrationFlow(t *testing.T) {
	fake := newFakeSupabase()
	fake.insert("users", userRow("ADMIN-0001", "admin", "Root", "admin@example.com"))
	fake.insert("users", userRow("a1B2c3XyZ", "customer", "Asha", "asha@example.com"))
	fake.insert("users", userRow("CUST-0042", "customer", "Binod", "binod@example.com"))
	fake.insert("users", userRow("prov_77", "provider", "Laundry Co", "laundry@example.com"))
	fake.insert("auth_credentials", credentialRow(t, "ADMIN-0001", "pw"))
	fake.insert("orders", map[string]any{"id": "o-1", "customer_id": "a1B2c3XyZ", "provider_id": "prov_77"})
	fake.insert("orders", map[string]any{"id": "o-2", "customer_id": "CUST-0042", "provider_id": "prov_77"})
	fake.insert("addresses", map[string]any{"id": "ad-1", "user_id": "a1B2c3XyZ"})
	fake.insert("coupons", map[string]any{
		"id": "cp-1", "assigned_customer_ids": []any{"a1B2c3XyZ", "CUST-0042"},
	})

	router := buildStack(t, fake)

	// --- Login as admin ---
	rec := doJSON(t, router, http.MethodPost, "/v1/auth/login", "",
		domain.LoginRequest{Email: "admin@example.com", Password: "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var loginResp domain.LoginResponse
	json.Unmarshal(rec.Body.Bytes(), &loginResp)
	token := loginResp.AccessToken

	// --- Inspect ---
	rec = doJSON(t, router, http.MethodGet, "/v1/admin/migration/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status domain.MigrationStatus
	json.Unmarshal(rec.Body.Bytes(), &status)
	if status.OldFormatUsers != 2 || status.NewFormatUsers != 2 || !status.NeedsMigration {
		t.Fatalf("unexpected status: %+v", status)
	}

	// --- Run ---
	rec = doJSON(t, router, http.MethodPost, "/v1/admin/migration/run", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result domain.MigrationResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if !result.Success || result.MigratedCount != 2 {
		t.Fatalf("unexpected run result: %+v", result)
	}
	byOld := map[string]string{}
	for _, m := range result.Mappings {
		byOld[m.OldID] = m.NewID
	}
	if byOld["a1B2c3XyZ"] != "CUST-0043" || byOld["prov_77"] != "PROV-0001" {
		t.Fatalf("unexpected allocations: %v", byOld)
	}

	// --- Storage-level assertions ---
	if n := len(fake.rows("users", url.Values{"id": {"eq.a1B2c3XyZ"}})); n != 0 {
		t.Error("legacy user record not retired")
	}
	if n := len(fake.rows("users", url.Values{"id": {"eq.CUST-0043"}})); n != 1 {
		t.Error("canonical user record missing")
	}
	if n := len(fake.rows("orders", url.Values{"customer_id": {"eq.CUST-0043"}})); n != 1 {
		t.Error("order customer_id not patched")
	}
	if n := len(fake.rows("orders", url.Values{"provider_id": {"eq.PROV-0001"}})); n != 2 {
		t.Error("order provider_id not patched on both orders")
	}
	if n := len(fake.rows("addresses", url.Values{"user_id": {"eq.CUST-0043"}})); n != 1 {
		t.Error("address user_id not patched")
	}
	coupons := fake.rows("coupons", url.Values{"assigned_customer_ids": {"cs.{CUST-0043}"}})
	if len(coupons) != 1 {
		t.Error("coupon array element not rewritten")
	}
	mappingRows := fake.rows("user_id_mappings", url.Values{"references_patched": {"eq.true"}})
	if len(mappingRows) != 2 {
		t.Errorf("expected 2 finalized mappings, got %d", len(mappingRows))
	}

	// --- Second run is a no-op ---
	rec = doJSON(t, router, http.MethodPost, "/v1/admin/migration/run", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second run: expected 200, got %d", rec.Code)
	}
	var second domain.MigrationResult
	json.Unmarshal(rec.Body.Bytes(), &second)
	if second.MigratedCount != 0 || !second.Success {
		t.Fatalf("second run not idempotent: %+v", second)
	}

	// --- Legacy id still resolves through the directory ---
	rec = doJSON(t, router, http.MethodGet, "/v1/users/a1B2c3XyZ", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("legacy lookup: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resolved domain.User
	json.Unmarshal(rec.Body.Bytes(), &resolved)
	if resolved.ID != "CUST-0043" {
		t.Errorf("expected legacy id to resolve to CUST-0043, got %+v", resolved)
	}

	// --- Overview reflects the repaired state ---
	rec = doJSON(t, router, http.MethodGet, "/v1/admin/overview", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("overview: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var overview domain.MigrationOverview
	json.Unmarshal(rec.Body.Bytes(), &overview)
	if overview.Status.NeedsMigration {
		t.Error("overview still reports needs_migration")
	}
	if overview.ReferenceCounts["orders"] != 2 {
		t.Errorf("expected 2 orders in overview, got %d", overview.ReferenceCounts["orders"])
	}
	if overview.MappingCount != 2 {
		t.Errorf("expected 2 mappings in overview, got %d", overview.MappingCount)
	}
}

// TestIntegration_RefreshRotation exercises the token flows against the
// fake backend.
func TestIntegration_RefreshRotation(t *testing.T) {
	fake := newFakeSupabase()
	fake.insert("users", userRow("CUST-0001", "customer", "Asha", "asha@example.com"))
	fake.insert("auth_credentials", credentialRow(t, "CUST-0001", "pw"))

	router := buildStack(t, fake)

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/login", "",
		domain.LoginRequest{Email: "asha@example.com", Password: "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login domain.LoginResponse
	json.Unmarshal(rec.Body.Bytes(), &login)

	rec = doJSON(t, router, http.MethodPost, "/v1/auth/refresh", "",
		domain.RefreshRequest{RefreshToken: login.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var refreshed domain.LoginResponse
	json.Unmarshal(rec.Body.Bytes(), &refreshed)
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("expected rotated refresh token")
	}

	// Replaying the first token fails.
	rec = doJSON(t, router, http.MethodPost, "/v1/auth/refresh", "",
		domain.RefreshRequest{RefreshToken: login.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed refresh: expected 401, got %d", rec.Code)
	}

	// Logout revokes everything.
	rec = doJSON(t, router, http.MethodPost, "/v1/auth/logout", refreshed.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/v1/auth/refresh", "",
		domain.RefreshRequest{RefreshToken: refreshed.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout: expected 401, got %d", rec.Code)
	}
}

package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/Gokkul-M/istri-sub001/internal/domain"
	"github.com/Gokkul-M/istri-sub001/internal/infra/observability"
)

func testMetrics() *observability.Metrics { return observability.NewMetrics() }

// noOpCache satisfies port.Cache[*domain.User] without storing anything.
type noOpCache struct{}

func (noOpCache) Get(string) (*domain.User, bool) { return nil, false }
func (noOpCache) Set(string, *domain.User)        {}
func (noOpCache) Delete(string)                   {}

// --- In-memory store fakes shared by the service tests ---

type memUserStore struct {
	mu    sync.Mutex
	order []string
	users map[string]*domain.User

	// createErrFor fails CreateUser for canonical copies of the user with
	// the given email, to simulate a mid-run storage failure.
	createErrFor map[string]error
	listErr      error

	// enterList receives a value when ListUsers is entered; blockList is
	// then waited on until closed. Used to hold a migration run mid-flight.
	enterList chan struct{}
	blockList chan struct{}
}

func newMemUserStore(users ...domain.User) *memUserStore {
	s := &memUserStore{users: make(map[string]*domain.User)}
	for i := range users {
		u := users[i]
		s.order = append(s.order, u.ID)
		s.users[u.ID] = &u
	}
	return s
}

func (s *memUserStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	if s.enterList != nil {
		s.enterList <- struct{}{}
	}
	if s.blockList != nil {
		<-s.blockList
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.User, 0, len(s.order))
	for _, id := range s.order {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *memUserStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	copied := *u
	return &copied, nil
}

func (s *memUserStore) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErrFor[user.Email]; err != nil {
		return err
	}
	copied := *user
	s.order = append(s.order, user.ID)
	s.users[user.ID] = &copied
	return nil
}

func (s *memUserStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

type memMappingStore struct {
	mu        sync.Mutex
	byLegacy  map[string]*domain.IDMapping
	createErr error
}

func newMemMappingStore(mappings ...domain.IDMapping) *memMappingStore {
	s := &memMappingStore{byLegacy: make(map[string]*domain.IDMapping)}
	for i := range mappings {
		m := mappings[i]
		s.byLegacy[m.LegacyID] = &m
	}
	return s
}

func (s *memMappingStore) GetMappingByLegacyID(_ context.Context, legacyID string) (*domain.IDMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byLegacy[legacyID]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

func (s *memMappingStore) CreateMapping(_ context.Context, m *domain.IDMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copied := *m
	s.byLegacy[m.LegacyID] = &copied
	return nil
}

func (s *memMappingStore) MarkReferencesPatched(_ context.Context, mappingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byLegacy {
		if m.ID == mappingID {
			m.ReferencesPatched = true
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "mapping", ID: mappingID}
}

func (s *memMappingStore) ListMappings(_ context.Context) ([]domain.IDMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.IDMapping, 0, len(s.byLegacy))
	for _, m := range s.byLegacy {
		out = append(out, *m)
	}
	return out, nil
}

// refDoc is one document in a fake referencing collection.
type refDoc struct {
	fields map[string]string
	arrays map[string][]string
}

type memRefStore struct {
	mu       sync.Mutex
	docs     map[string][]*refDoc // collection → documents
	patchErr map[string]error     // collection → error
}

func newMemRefStore() *memRefStore {
	return &memRefStore{
		docs:     make(map[string][]*refDoc),
		patchErr: make(map[string]error),
	}
}

func (s *memRefStore) addDoc(collection string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[collection] = append(s.docs[collection], &refDoc{fields: fields})
}

func (s *memRefStore) addArrayDoc(collection, field string, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[collection] = append(s.docs[collection], &refDoc{
		arrays: map[string][]string{field: values},
	})
}

func (s *memRefStore) PatchReferences(_ context.Context, collection, field, oldID, newID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.patchErr[collection]; err != nil {
		return 0, err
	}
	n := 0
	for _, d := range s.docs[collection] {
		if d.fields[field] == oldID {
			d.fields[field] = newID
			n++
		}
	}
	return n, nil
}

func (s *memRefStore) PatchArrayReferences(_ context.Context, collection, field, oldID, newID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.patchErr[collection]; err != nil {
		return 0, err
	}
	n := 0
	for _, d := range s.docs[collection] {
		for i, v := range d.arrays[field] {
			if v == oldID {
				d.arrays[field][i] = newID
				n++
			}
		}
	}
	return n, nil
}

func (s *memRefStore) CountDocuments(_ context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection]), nil
}

// countFieldValue counts documents in collection whose field equals value.
func (s *memRefStore) countFieldValue(collection, field, value string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs[collection] {
		if d.fields[field] == value {
			n++
		}
		for _, v := range d.arrays[field] {
			if v == value {
				n++
			}
		}
	}
	return n
}

func legacyUser(id string, role domain.Role, email string) domain.User {
	return domain.User{
		ID:        id,
		Role:      role,
		Name:      "Test " + id,
		Email:     email,
		Active:    true,
		CreatedAt: time.Now().Add(-24 * time.Hour),
		UpdatedAt: time.Now().Add(-24 * time.Hour),
	}
}

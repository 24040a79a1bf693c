// persistence.go
//
// In-memory Persistence and SessionStore fakes shared by test files across packages.
package testutil

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MGallo-Code/oauthgate/internal/oauth"
	"github.com/MGallo-Code/oauthgate/internal/store"
	"github.com/gofrs/uuid/v5"
)

// FakeCSRFCookie is the cookie FakePersistence reads the CSRF value from.
const FakeCSRFCookie = "serviceCsrf"

// FakePersistence implements auth.Persistence in memory.
//
// The token is global to the fake (any request sees the last assigned token).
// CSRF is read from the plain FakeCSRFCookie on the request, so tests control
// it by adding that cookie. Assign/Invalidate leave the response untouched and
// only record what happened.
type FakePersistence struct {
	// Error injection...zero value means no error
	AssignTokenErr error
	AssignCSRFErr  error

	mu           sync.Mutex
	token        oauth.AccessToken
	hasToken     bool
	AssignedCSRF []oauth.CSRFToken
	Invalidated  int
}

// NewFakePersistence returns an empty fake.
func NewFakePersistence() *FakePersistence {
	return &FakePersistence{}
}

func (f *FakePersistence) RetrieveToken(_ *http.Request) (oauth.AccessToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.hasToken
}

func (f *FakePersistence) AssignToken(_ http.ResponseWriter, _ *http.Request, token oauth.AccessToken) error {
	if f.AssignTokenErr != nil {
		return f.AssignTokenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	f.hasToken = true
	return nil
}

func (f *FakePersistence) RetrieveCSRF(r *http.Request) (oauth.CSRFToken, bool) {
	c, err := r.Cookie(FakeCSRFCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return oauth.CSRFToken(c.Value), true
}

func (f *FakePersistence) AssignCSRF(_ http.ResponseWriter, _ *http.Request, csrf oauth.CSRFToken) error {
	if f.AssignCSRFErr != nil {
		return f.AssignCSRFErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AssignedCSRF = append(f.AssignedCSRF, csrf)
	return nil
}

func (f *FakePersistence) Invalidate(_ http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invalidated++
}

// Token returns the last assigned token and whether one was assigned.
func (f *FakePersistence) Token() (oauth.AccessToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.hasToken
}

// InvalidatedCount returns how many times Invalidate ran.
func (f *FakePersistence) InvalidatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Invalidated
}

// MockSessionStore implements auth.SessionStore for tests.
// Always stateful...Sessions is a map, like a real store. TTLs are recorded, not enforced.
// Use *Err fields to inject errors for specific operations.
type MockSessionStore struct {
	// Error injection...zero value means no error
	SaveCSRFErr   error
	SaveTokenErr  error
	GetSessionErr error
	DeleteErr     error

	Sessions map[uuid.UUID]*store.OAuthSession
	Deleted  []uuid.UUID

	mu sync.Mutex
}

// NewMockSessionStore returns an empty MockSessionStore ready for use.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{Sessions: make(map[uuid.UUID]*store.OAuthSession)}
}

func (m *MockSessionStore) SaveCSRF(_ context.Context, id uuid.UUID, csrf string, ttl time.Duration) error {
	if m.SaveCSRFErr != nil {
		return m.SaveCSRFErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.get(id)
	sess.CSRF = csrf
	sess.ExpiresAt = time.Now().Add(ttl)
	return nil
}

func (m *MockSessionStore) SaveToken(_ context.Context, id uuid.UUID, token string, ttl time.Duration) error {
	if m.SaveTokenErr != nil {
		return m.SaveTokenErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.get(id)
	sess.AccessToken = token
	sess.CSRF = ""
	sess.ExpiresAt = time.Now().Add(ttl)
	return nil
}

func (m *MockSessionStore) GetSession(_ context.Context, id uuid.UUID) (*store.OAuthSession, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.Sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MockSessionStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, id)
	m.Deleted = append(m.Deleted, id)
	return nil
}

func (m *MockSessionStore) CheckHealth(_ context.Context) error {
	return nil
}

// get returns the session for id, creating it if needed. Caller holds mu.
func (m *MockSessionStore) get(id uuid.UUID) *store.OAuthSession {
	if m.Sessions == nil {
		m.Sessions = make(map[uuid.UUID]*store.OAuthSession)
	}
	sess, ok := m.Sessions[id]
	if !ok {
		sess = &store.OAuthSession{ID: id}
		m.Sessions[id] = sess
	}
	return sess
}

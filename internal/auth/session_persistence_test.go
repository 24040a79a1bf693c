// session_persistence_test.go -- unit tests for SessionPersistence over MockSessionStore.
package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MGallo-Code/oauthgate/internal/testutil"
	"github.com/gofrs/uuid/v5"
)

func newTestSessionPersistence() (*SessionPersistence, *testutil.MockSessionStore) {
	ms := testutil.NewMockSessionStore()
	return NewSessionPersistence(ms, "service", true, time.Hour), ms
}

// sessionCookieID returns the id in the serviceSession cookie set on w.
func sessionCookieID(t *testing.T, w *httptest.ResponseRecorder) uuid.UUID {
	t.Helper()
	c := findCookie(w, "serviceSession")
	if c == nil {
		t.Fatal("serviceSession cookie not set")
	}
	id, err := uuid.FromString(c.Value)
	if err != nil {
		t.Fatalf("session cookie is not a uuid: %v", err)
	}
	return id
}

// --- AssignCSRF / RetrieveCSRF ---

func TestSessionPersistence_CSRF(t *testing.T) {
	t.Run("stores csrf server-side under a v7 id", func(t *testing.T) {
		p, ms := newTestSessionPersistence()
		w := httptest.NewRecorder()
		if err := p.AssignCSRF(w, httptest.NewRequest(http.MethodGet, "/", nil), "randomCsrf"); err != nil {
			t.Fatalf("AssignCSRF: %v", err)
		}

		id := sessionCookieID(t, w)
		if id.Version() != uuid.V7 {
			t.Errorf("session id version: expected 7, got %d", id.Version())
		}
		if ms.Sessions[id] == nil || ms.Sessions[id].CSRF != "randomCsrf" {
			t.Errorf("stored csrf: expected randomCsrf, got %+v", ms.Sessions[id])
		}
		if c := findCookie(w, "serviceSession"); c.MaxAge != int(CSRFCookieMaxAge.Seconds()) {
			t.Errorf("MaxAge: expected %d, got %d", int(CSRFCookieMaxAge.Seconds()), c.MaxAge)
		}

		got, ok := p.RetrieveCSRF(replay(w))
		if !ok || got != "randomCsrf" {
			t.Errorf("RetrieveCSRF: expected randomCsrf, got %q (ok=%v)", got, ok)
		}
	})

	t.Run("never adopts a client-supplied id", func(t *testing.T) {
		p, ms := newTestSessionPersistence()
		planted := uuid.Must(uuid.NewV7())
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "serviceSession", Value: planted.String()})

		w := httptest.NewRecorder()
		p.AssignCSRF(w, r, "randomCsrf")

		if sessionCookieID(t, w) == planted {
			t.Error("session id: expected a fresh id, got the planted one")
		}
		if _, ok := ms.Sessions[planted]; ok {
			t.Error("planted id should not be stored")
		}
	})

	t.Run("store failure wraps ErrPersist", func(t *testing.T) {
		p, ms := newTestSessionPersistence()
		ms.SaveCSRFErr = errors.New("redis down")

		w := httptest.NewRecorder()
		err := p.AssignCSRF(w, httptest.NewRequest(http.MethodGet, "/", nil), "randomCsrf")
		if !errors.Is(err, ErrPersist) {
			t.Errorf("error: expected ErrPersist, got %v", err)
		}
		if findCookie(w, "serviceSession") != nil {
			t.Error("no cookie should be set when the store fails")
		}
	})

	t.Run("malformed or unknown id means no csrf", func(t *testing.T) {
		p, _ := newTestSessionPersistence()
		for _, v := range []string{"not-a-uuid", uuid.Must(uuid.NewV7()).String()} {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(&http.Cookie{Name: "serviceSession", Value: v})
			if _, ok := p.RetrieveCSRF(r); ok {
				t.Errorf("RetrieveCSRF(%q): expected false", v)
			}
		}
	})

	t.Run("lookup failure means no csrf", func(t *testing.T) {
		p, ms := newTestSessionPersistence()
		w := httptest.NewRecorder()
		p.AssignCSRF(w, httptest.NewRequest(http.MethodGet, "/", nil), "randomCsrf")
		ms.GetSessionErr = errors.New("connection reset")

		if _, ok := p.RetrieveCSRF(replay(w)); ok {
			t.Error("RetrieveCSRF: expected false when the store errors")
		}
	})
}

// --- AssignToken / RetrieveToken ---

func TestSessionPersistence_Token(t *testing.T) {
	t.Run("rotates the session id", func(t *testing.T) {
		p, ms := newTestSessionPersistence()
		w := httptest.NewRecorder()
		p.AssignCSRF(w, httptest.NewRequest(http.MethodGet, "/", nil), "randomCsrf")
		loginID := sessionCookieID(t, w)

		w2 := httptest.NewRecorder()
		if err := p.AssignToken(w2, replay(w), "access token goes here"); err != nil {
			t.Fatalf("AssignToken: %v", err)
		}
		tokenID := sessionCookieID(t, w2)

		if tokenID == loginID {
			t.Error("session id should change when a token is assigned")
		}
		if _, ok := ms.Sessions[loginID]; ok {
			t.Error("pre-login session should be deleted")
		}
		sess := ms.Sessions[tokenID]
		if sess == nil || sess.AccessToken != "access token goes here" || sess.CSRF != "" {
			t.Errorf("stored session: expected token and no csrf, got %+v", sess)
		}
		if c := findCookie(w2, "serviceSession"); c.MaxAge != int(time.Hour.Seconds()) {
			t.Errorf("MaxAge: expected %d, got %d", int(time.Hour.Seconds()), c.MaxAge)
		}

		got, ok := p.RetrieveToken(replay(w2))
		if !ok || got != "access token goes here" {
			t.Errorf("RetrieveToken: expected %q, got %q (ok=%v)", "access token goes here", got, ok)
		}
	})

	t.Run("csrf-only session has no token", func(t *testing.T) {
		p, _ := newTestSessionPersistence()
		w := httptest.NewRecorder()
		p.AssignCSRF(w, httptest.NewRequest(http.MethodGet, "/", nil), "randomCsrf")

		if _, ok := p.RetrieveToken(replay(w)); ok {
			t.Error("RetrieveToken: expected false before a token is assigned")
		}
	})

	t.Run("old session delete failure is not fatal", func(t *testing.T) {
		p, ms := newTestSessionPersistence()
		w := httptest.NewRecorder()
		p.AssignCSRF(w, httptest.NewRequest(http.MethodGet, "/", nil), "randomCsrf")
		ms.DeleteErr = errors.New("timeout")

		if err := p.AssignToken(httptest.NewRecorder(), replay(w), "t"); err != nil {
			t.Errorf("AssignToken: expected nil, got %v", err)
		}
	})

	t.Run("store failure wraps ErrPersist", func(t *testing.T) {
		p, ms := newTestSessionPersistence()
		ms.SaveTokenErr = errors.New("disk full")

		w := httptest.NewRecorder()
		err := p.AssignToken(w, httptest.NewRequest(http.MethodGet, "/", nil), "t")
		if !errors.Is(err, ErrPersist) {
			t.Errorf("error: expected ErrPersist, got %v", err)
		}
		if findCookie(w, "serviceSession") != nil {
			t.Error("no cookie should be set when the store fails")
		}
	})
}

// --- Invalidate ---

func TestSessionPersistence_Invalidate(t *testing.T) {
	p, ms := newTestSessionPersistence()
	w := httptest.NewRecorder()
	p.AssignCSRF(w, httptest.NewRequest(http.MethodGet, "/", nil), "randomCsrf")
	id := sessionCookieID(t, w)

	w2 := httptest.NewRecorder()
	p.Invalidate(w2, replay(w))

	if _, ok := ms.Sessions[id]; ok {
		t.Error("session should be deleted on invalidate")
	}
	c := findCookie(w2, "serviceSession")
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie: expected expiry, got %+v", c)
	}
}

// --- Full flow through Gate ---

func TestSessionPersistence_GateFlow(t *testing.T) {
	p, ms := newTestSessionPersistence()
	g := newTestGate(p, http.StatusOK)

	w := httptest.NewRecorder()
	g.AuthFilter(okHandler("secret")).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("redirect status: expected 307, got %d", w.Code)
	}

	cb := replay(w)
	cb.URL.Path = "/callback"
	cb.URL.RawQuery = "code=value&state=csrf%3DrandomCsrf"

	w = httptest.NewRecorder()
	g.Callback(w, cb)
	if w.Code != http.StatusTemporaryRedirect || w.Header().Get("Location") != "/" {
		t.Fatalf("callback: expected 307 to /, got %d %q", w.Code, w.Header().Get("Location"))
	}

	w2 := httptest.NewRecorder()
	g.AuthFilter(okHandler("secret")).ServeHTTP(w2, replay(w))
	if w2.Code != http.StatusOK || w2.Body.String() != "secret" {
		t.Errorf("passthrough: expected 200 %q, got %d %q", "secret", w2.Code, w2.Body.String())
	}
	if len(ms.Sessions) != 1 {
		t.Errorf("sessions: expected only the token session to remain, got %d", len(ms.Sessions))
	}

	// A forged callback wipes the session it presented.
	forged := replay(w)
	forged.URL.Path = "/callback"
	forged.URL.RawQuery = "code=value&state=csrf%3Dnotreal"
	w3 := httptest.NewRecorder()
	g.Callback(w3, forged)
	if w3.Code != http.StatusForbidden {
		t.Errorf("forged callback: expected 403, got %d", w3.Code)
	}
	if len(ms.Sessions) != 0 {
		t.Errorf("sessions: expected none after invalidation, got %d", len(ms.Sessions))
	}
}

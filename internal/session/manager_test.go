package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"brix/internal/identity"
)

// slowProvider serves the password grant but holds every login until release
// is closed, so tests can observe the authenticating window.
func slowProvider(t *testing.T, release <-chan struct{}) *identity.Provider {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			if release != nil {
				<-release
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-1",
				"token_type":   "bearer",
				"expires_in":   3600,
				"user":         map[string]string{"id": "principal-1", "email": "a@b.c"},
			})
		case "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return identity.NewProvider(ts.URL, "anon")
}

func failingProvider(t *testing.T) *identity.Provider {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid login credentials"}`))
	}))
	t.Cleanup(ts.Close)
	return identity.NewProvider(ts.URL, "anon")
}

func TestLoginTransitionsToAuthenticated(t *testing.T) {
	m := NewManager(slowProvider(t, nil), nil)

	before := m.Current()
	if before.Status != StatusAnonymous || before.Principal != "" {
		t.Fatalf("fresh manager must be anonymous, got %+v", before)
	}

	sess, err := m.Login(context.Background(), "a@b.c", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Status != StatusAuthenticated || sess.Principal != "principal-1" || sess.AccessToken != "tok-1" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Generation <= before.Generation {
		t.Fatalf("generation must advance on login: %d -> %d", before.Generation, sess.Generation)
	}
}

func TestLoginFailureReturnsToAnonymous(t *testing.T) {
	m := NewManager(failingProvider(t), nil)

	if _, err := m.Login(context.Background(), "a@b.c", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	sess := m.Current()
	if sess.Status != StatusAnonymous || sess.Principal != "" || sess.AccessToken != "" {
		t.Fatalf("failed login must leave the session anonymous, got %+v", sess)
	}
}

func TestConcurrentLoginRejectedBusy(t *testing.T) {
	release := make(chan struct{})
	m := NewManager(slowProvider(t, release), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Login(context.Background(), "a@b.c", "pw")
	}()

	// Wait for the first login to occupy the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for m.Current().Status != StatusAuthenticating {
		if time.Now().After(deadline) {
			t.Fatal("first login never reached authenticating")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := m.Login(context.Background(), "x@y.z", "pw"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second login must be rejected busy, got %v", err)
	}
	if _, err := m.Logout(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("logout during login must be rejected busy, got %v", err)
	}

	close(release)
	wg.Wait()
	if got := m.Current().Status; got != StatusAuthenticated {
		t.Fatalf("first login should have completed, status %s", got)
	}
}

func TestLogoutIdempotentWhenAnonymous(t *testing.T) {
	m := NewManager(slowProvider(t, nil), nil)
	before := m.Current()
	sess, err := m.Logout(context.Background())
	if err != nil {
		t.Fatalf("logout while anonymous must succeed: %v", err)
	}
	if sess.Status != StatusAnonymous {
		t.Fatalf("expected anonymous, got %+v", sess)
	}
	if sess.Generation <= before.Generation {
		t.Fatal("logout must advance the generation so stale refreshes are dropped")
	}
}

func TestAdoptRequiresCompleteGrant(t *testing.T) {
	m := NewManager(slowProvider(t, nil), nil)
	if _, err := m.Adopt("", "token"); err == nil {
		t.Fatal("expected adopt without principal to fail")
	}
	sess, err := m.Adopt("principal-9", "tok-9")
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if !sess.Authenticated() || sess.Principal != "principal-9" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

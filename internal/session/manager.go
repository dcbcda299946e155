// Package session owns the authentication session lifecycle. All transitions
// go through the Manager; nothing else writes session state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"brix/internal/identity"
)

type Status string

const (
	StatusAnonymous      Status = "anonymous"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
)

// ErrBusy is returned when a login or logout is already in flight. Callers
// must not queue behind it: racing two identities is exactly what the guard
// prevents.
var ErrBusy = errors.New("a login or logout is already in progress")

// Session is an immutable snapshot of the current state. Principal and
// AccessToken are non-empty iff Status is StatusAuthenticated. Generation
// increases on every transition into or out of authenticated and stamps
// cache refreshes so results from a superseded session can be discarded.
type Session struct {
	Status      Status
	Principal   string
	AccessToken string
	Generation  uint64
}

func (s Session) Authenticated() bool { return s.Status == StatusAuthenticated }

type Manager struct {
	provider *identity.Provider
	log      *slog.Logger

	mu        sync.Mutex
	status    Status
	principal string
	token     string
	gen       uint64
	busy      bool
}

func NewManager(provider *identity.Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider: provider,
		log:      logger,
		status:   StatusAnonymous,
	}
}

func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Session {
	return Session{
		Status:      m.status,
		Principal:   m.principal,
		AccessToken: m.token,
		Generation:  m.gen,
	}
}

// Login drives the full handshake as a single awaited outcome. On any
// provider failure or cancellation the session is anonymous again; it is
// never left half-authenticated.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return Session{}, ErrBusy
	}
	m.busy = true
	m.status = StatusAuthenticating
	m.mu.Unlock()

	grant, err := m.provider.Login(ctx, email, password)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	if err != nil {
		m.status = StatusAnonymous
		m.principal = ""
		m.token = ""
		return m.snapshotLocked(), err
	}
	m.status = StatusAuthenticated
	m.principal = grant.User.ID
	m.token = grant.AccessToken
	m.gen++
	m.log.Debug("session authenticated", "principal", m.principal, "generation", m.gen)
	return m.snapshotLocked(), nil
}

// Adopt installs a previously persisted grant without a fresh handshake.
// Callers verify the token against the provider first.
func (m *Manager) Adopt(principal, accessToken string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return Session{}, ErrBusy
	}
	if principal == "" || accessToken == "" {
		return m.snapshotLocked(), errors.New("adopt requires a principal and a token")
	}
	m.status = StatusAuthenticated
	m.principal = principal
	m.token = accessToken
	m.gen++
	return m.snapshotLocked(), nil
}

// Logout tears the session down immediately. The provider round trip is best
// effort: its failure is logged and dropped, never surfaced, because the
// local session is gone either way. Calling Logout while anonymous is a
// no-op transition that still bumps the generation so any in-flight refresh
// is discarded.
func (m *Manager) Logout(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return Session{}, ErrBusy
	}
	m.busy = true
	token := m.token
	m.mu.Unlock()

	if token != "" {
		if err := m.provider.Logout(ctx, token); err != nil {
			m.log.Debug("provider logout failed, dropping", "err", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
	m.status = StatusAnonymous
	m.principal = ""
	m.token = ""
	m.gen++
	return m.snapshotLocked(), nil
}

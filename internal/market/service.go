// Package market is the reconciliation layer between the user and the remote
// ledger: it owns the session-bound ledger client, the catalog and holdings
// caches, and the buy/transfer orchestration. The remote ledger is the sole
// source of truth; after every accepted mutation both caches are rebuilt from
// a fresh read instead of patched with local arithmetic.
package market

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"brix/internal/cache"
	"brix/internal/ledger"
	"brix/internal/notify"
	"brix/internal/session"
)

type Config struct {
	LedgerURL    string
	CollectionID string
}

type Service struct {
	cfg      Config
	sessions *session.Manager
	notes    *notify.Queue
	log      *slog.Logger

	mu        sync.Mutex
	client    *ledger.Client
	clientGen uint64
	pending   bool

	catalog  *cache.Cache[[]ledger.Property]
	holdings *cache.Cache[map[int64]int64]
}

func New(cfg Config, sessions *session.Manager, notes *notify.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		notes:    notes,
		log:      logger,
		catalog:  cache.New[[]ledger.Property]("catalog", logger),
		holdings: cache.New[map[int64]int64]("holdings", logger),
	}
}

// Session reports the current session snapshot.
func (s *Service) Session() session.Session {
	return s.sessions.Current()
}

// Login authenticates and loads both caches. A cache load failure does not
// fail the login: auth and catalog failures are independent, so the session
// stays authenticated and the failure surfaces only as a notification.
func (s *Service) Login(ctx context.Context, email, password string) (session.Session, error) {
	sess, err := s.sessions.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			s.notes.Error(err.Error())
		} else {
			s.notes.Error("login failed: " + err.Error())
		}
		return sess, err
	}
	s.bind(sess)
	s.notes.Success("Connected as " + shortPrincipal(sess.Principal))
	s.Sync(ctx)
	return sess, nil
}

// Adopt installs a verified, previously persisted grant and loads the caches.
func (s *Service) Adopt(ctx context.Context, principal, accessToken string) (session.Session, error) {
	sess, err := s.sessions.Adopt(principal, accessToken)
	if err != nil {
		return sess, err
	}
	s.bind(sess)
	s.Sync(ctx)
	return sess, nil
}

// Logout tears down the session and clears both caches. Idempotent: calling
// it while anonymous still resets any stale cache contents.
func (s *Service) Logout(ctx context.Context) error {
	sess, err := s.sessions.Logout(ctx)
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			s.notes.Error(err.Error())
		}
		return err
	}
	s.bind(sess)
	s.notes.Success("Disconnected")
	return nil
}

// bind rebuilds the ledger client for the session and rebinds both caches to
// its generation. Rebuild strictly precedes any refresh under the new
// identity; a refresh still in flight against the old client lands under a
// stale generation and is dropped.
func (s *Service) bind(sess session.Session) {
	s.mu.Lock()
	if sess.Authenticated() {
		s.client = ledger.NewClient(s.cfg.LedgerURL, s.cfg.CollectionID, sess.AccessToken, sess.Principal)
	} else {
		s.client = nil
	}
	// The generation travels with the client it stamped. Reading it live from
	// the session manager would let a refresh pair an old client with a newer
	// generation and smuggle a stale identity's data past the cache rebind.
	s.clientGen = sess.Generation
	s.mu.Unlock()
	s.catalog.Reset(sess.Generation)
	s.holdings.Reset(sess.Generation)
}

func (s *Service) boundClient() (*ledger.Client, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, 0, ledger.ErrUnauthenticated
	}
	return s.client, s.clientGen, nil
}

// RefreshCatalog re-reads the property catalog. Concurrent calls coalesce to
// one fetch.
func (s *Service) RefreshCatalog(ctx context.Context) ([]ledger.Property, error) {
	c, gen, err := s.boundClient()
	if err != nil {
		return nil, err
	}
	return s.catalog.Refresh(ctx, gen, func(ctx context.Context) ([]ledger.Property, error) {
		props, err := c.Properties(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range props {
			if !p.TokenAccountingConsistent() {
				s.log.Warn("token accounting anomaly",
					"property_id", p.ID,
					"available", p.AvailableTokens,
					"sold", p.SoldTokens,
					"total", p.TotalTokens)
			}
		}
		return props, nil
	})
}

// RefreshHoldings re-reads the caller's token balances wholesale.
func (s *Service) RefreshHoldings(ctx context.Context) (map[int64]int64, error) {
	c, gen, err := s.boundClient()
	if err != nil {
		return nil, err
	}
	return s.holdings.Refresh(ctx, gen, func(ctx context.Context) (map[int64]int64, error) {
		return c.Balances(ctx)
	})
}

// Properties returns the cached catalog snapshot. Empty until a refresh has
// completed.
func (s *Service) Properties() []ledger.Property {
	props, _ := s.catalog.Snapshot()
	return props
}

func (s *Service) Property(propertyID int64) (ledger.Property, bool) {
	for _, p := range s.Properties() {
		if p.ID == propertyID {
			return p, true
		}
	}
	return ledger.Property{}, false
}

// Holdings returns the cached balances keyed by property id.
func (s *Service) Holdings() map[int64]int64 {
	h, _ := s.holdings.Snapshot()
	return h
}

func (s *Service) Balance(propertyID int64) int64 {
	return s.Holdings()[propertyID]
}

// PropertyDetail and History are read-only pass-throughs; they do not take
// the pending-operation guard.
func (s *Service) PropertyDetail(ctx context.Context, propertyID int64) (ledger.Property, error) {
	c, _, err := s.boundClient()
	if err != nil {
		return ledger.Property{}, err
	}
	return c.PropertyDetail(ctx, propertyID)
}

func (s *Service) History(ctx context.Context) ([]ledger.Transaction, error) {
	c, _, err := s.boundClient()
	if err != nil {
		return nil, err
	}
	return c.History(ctx)
}

func shortPrincipal(principal string) string {
	if len(principal) <= 12 {
		return principal
	}
	return principal[:8] + "…"
}

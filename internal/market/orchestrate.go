package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"brix/internal/cache"
	"brix/internal/ledger"
)

// Buy purchases amount tokens of a property. One operation at a time: the
// submission goes to the ledger, and on acceptance both caches are refreshed
// from authoritative state before the operation settles. The orchestrator
// never applies its own arithmetic to the caches; partial fills, fees and
// concurrent buyers are only known server-side.
func (s *Service) Buy(ctx context.Context, propertyID, amount int64) error {
	c, err := s.begin()
	if err != nil {
		s.surface(err)
		return err
	}
	defer s.finish()

	if err := s.validateBuy(propertyID, amount); err != nil {
		s.notes.Error(err.Error())
		return err
	}

	if err := c.Buy(ctx, propertyID, amount, uuid.NewString()); err != nil {
		s.surface(err)
		return err
	}

	if err := s.reconcile(ctx); err != nil {
		serr := &StaleViewError{Err: err}
		s.notes.Error(serr.Error())
		return serr
	}

	title := s.titleFor(propertyID)
	s.notes.Success(fmt.Sprintf("Purchased %d tokens of %s", amount, title))
	return nil
}

// Transfer moves amount tokens of a property to another principal.
func (s *Service) Transfer(ctx context.Context, propertyID, amount int64, recipient string) error {
	c, err := s.begin()
	if err != nil {
		s.surface(err)
		return err
	}
	defer s.finish()

	recipient, err = s.validateTransfer(propertyID, amount, recipient)
	if err != nil {
		s.notes.Error(err.Error())
		return err
	}

	if err := c.Transfer(ctx, propertyID, amount, recipient, uuid.NewString()); err != nil {
		s.surface(err)
		return err
	}

	if err := s.reconcile(ctx); err != nil {
		serr := &StaleViewError{Err: err}
		s.notes.Error(serr.Error())
		return serr
	}

	s.notes.Success(fmt.Sprintf("Transferred %d tokens of %s to %s", amount, s.titleFor(propertyID), shortPrincipal(recipient)))
	return nil
}

// begin takes the single-pending-operation slot and hands back the client the
// operation will run against. Rejecting here means a duplicate click never
// reaches the network.
func (s *Service) begin() (*ledger.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ledger.ErrUnauthenticated
	}
	if s.pending {
		return nil, ErrOperationPending
	}
	s.pending = true
	return s.client, nil
}

func (s *Service) finish() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

// Pending reports whether a buy/transfer is in flight, for UIs that must
// disable their controls while one is.
func (s *Service) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// reconcile refreshes both caches after an accepted mutation. The two
// refreshes are independent and may complete in either order, but both must
// complete before the operation settles. A refresh superseded by a session
// change is dropped, not an error: the session that wanted it is gone.
func (s *Service) reconcile(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := s.RefreshCatalog(ctx)
		return err
	})
	g.Go(func() error {
		_, err := s.RefreshHoldings(ctx)
		return err
	})
	err := g.Wait()
	if err == nil {
		return nil
	}
	if errors.Is(err, cache.ErrSuperseded) {
		s.log.Debug("reconciliation dropped after session change")
		return nil
	}
	return err
}

// Sync is the same double refresh, runnable on demand (session start, manual
// refresh). Failures surface as notifications only; the session stays up.
func (s *Service) Sync(ctx context.Context) {
	if err := s.reconcile(ctx); err != nil {
		s.surface(err)
	}
}

// surface converts an operation error into a user-facing notification. Every
// error kind keeps its identity: rejections verbatim, transport problems
// marked retryable, auth problems routed back to login.
func (s *Service) surface(err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, ledger.ErrUnauthenticated):
		s.notes.Error("not authenticated: log in first")
	case errors.Is(err, ErrOperationPending):
		s.notes.Error(err.Error())
	case ledger.IsRejection(err):
		s.notes.Error(err.Error())
	case ledger.IsTransport(err):
		s.notes.Error("transport error: " + err.Error())
	default:
		s.notes.Error(err.Error())
	}
}

func (s *Service) titleFor(propertyID int64) string {
	if p, ok := s.Property(propertyID); ok {
		return p.Title
	}
	return fmt.Sprintf("property %d", propertyID)
}

package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brix/internal/cache"
	"brix/internal/identity"
	"brix/internal/ledger"
	"brix/internal/ledgertest"
	"brix/internal/notify"
	"brix/internal/session"
)

const (
	testEmail     = "ana@example.com"
	testPassword  = "hunter2"
	testPrincipal = "principal-ana"
)

func newTestService(t *testing.T) (*Service, *ledgertest.Server, *notify.Queue) {
	t.Helper()
	remote := ledgertest.New()
	t.Cleanup(remote.Close)
	remote.AddAccount(testEmail, testPassword, testPrincipal)

	provider := identity.NewProvider(remote.URL(), "anon")
	sessions := session.NewManager(provider, nil)
	notes := notify.NewQueue(time.Minute)
	svc := New(Config{LedgerURL: remote.URL(), CollectionID: "magreste-main"}, sessions, notes, nil)
	return svc, remote, notes
}

func login(t *testing.T, svc *Service) {
	t.Helper()
	_, err := svc.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
}

func TestLoginLoadsCatalogAndHoldings(t *testing.T) {
	svc, remote, _ := newTestService(t)
	remote.AddProperty(ledger.Property{
		ID: 1, Title: "Casa Roble", Location: "Valparaíso",
		TotalTokens: 100, AvailableTokens: 90, SoldTokens: 10,
		TokenPrice: 120, Status: ledger.StatusAvailable,
	})
	remote.SetBalance(testPrincipal, 1, 10)

	login(t, svc)

	require.True(t, svc.Session().Authenticated())
	props := svc.Properties()
	require.Len(t, props, 1)
	assert.Equal(t, "Casa Roble", props[0].Title)
	assert.Equal(t, int64(10), svc.Balance(1))
}

func TestBuySettlesOnlyFromServerState(t *testing.T) {
	svc, remote, notes := newTestService(t)
	remote.AddProperty(ledger.Property{
		ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 10, SoldTokens: 0,
		TokenPrice: 50, Status: ledger.StatusAvailable,
	})
	login(t, svc)

	// Out-of-band activity the client cannot know about: a transfer-in
	// lands on the server after login.
	remote.SetBalance(testPrincipal, 1, 100)

	require.NoError(t, svc.Buy(context.Background(), 1, 10))

	// The cache must hold the server's answer (100 pre-existing + 10
	// bought), never the locally computable 0 + 10.
	assert.Equal(t, int64(110), svc.Balance(1))

	p, ok := svc.Property(1)
	require.True(t, ok)
	assert.Equal(t, int64(0), p.AvailableTokens)
	assert.Equal(t, int64(10), p.SoldTokens)
	assert.Equal(t, ledger.StatusSoldOut, p.Status)

	n := notes.Current()
	require.NotNil(t, n)
	assert.Equal(t, notify.SeveritySuccess, n.Severity)

	// Sold out: a further purchase is stopped client-side.
	err := svc.Buy(context.Background(), 1, 1)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestBuyRejectionLeavesCachesUntouched(t *testing.T) {
	svc, remote, notes := newTestService(t)
	remote.AddProperty(ledger.Property{
		ID: 2, Title: "Torre Andes", TotalTokens: 500, AvailableTokens: 50, SoldTokens: 450,
		TokenPrice: 80, Status: ledger.StatusAvailable,
	})
	login(t, svc)
	propFetchesBefore, balFetchesBefore, _, _ := remote.Counts()

	// Client-side validation passes only against cached data; force the
	// request through by asking within the cached availability but above
	// what the server will accept after out-of-band sales.
	serverProp, _ := remote.PropertySnapshot(2)
	require.Equal(t, int64(50), serverProp.AvailableTokens)
	remote.AddProperty(ledger.Property{
		ID: 2, Title: "Torre Andes", TotalTokens: 500, AvailableTokens: 5, SoldTokens: 495,
		TokenPrice: 80, Status: ledger.StatusAvailable,
	})

	err := svc.Buy(context.Background(), 2, 40)
	require.Error(t, err)
	assert.True(t, ledger.IsRejection(err))

	// The reason string travels verbatim into the notification.
	n := notes.Current()
	require.NotNil(t, n)
	assert.Equal(t, "insufficient tokens", n.Message)
	assert.Equal(t, notify.SeverityError, n.Severity)

	// Nothing changed server-side, so no reconciliation ran and the caches
	// kept their snapshots.
	p, ok := svc.Property(2)
	require.True(t, ok)
	assert.Equal(t, int64(50), p.AvailableTokens)
	propFetchesAfter, balFetchesAfter, _, _ := remote.Counts()
	assert.Equal(t, propFetchesBefore, propFetchesAfter)
	assert.Equal(t, balFetchesBefore, balFetchesAfter)
}

func TestTransferInvalidRecipientNeverReachesNetwork(t *testing.T) {
	svc, remote, notes := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 5, SoldTokens: 5})
	remote.SetBalance(testPrincipal, 1, 5)
	login(t, svc)

	err := svc.Transfer(context.Background(), 1, 5, "   ")
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	n := notes.Current()
	require.NotNil(t, n)
	assert.Equal(t, "invalid recipient", n.Message)

	_, _, _, transferCalls := remote.Counts()
	assert.Zero(t, transferCalls)
}

func TestTransferMovesTokens(t *testing.T) {
	svc, remote, _ := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 0, SoldTokens: 10})
	remote.SetBalance(testPrincipal, 1, 8)
	login(t, svc)

	require.NoError(t, svc.Transfer(context.Background(), 1, 3, "principal-beto"))

	assert.Equal(t, int64(5), svc.Balance(1))
	assert.Equal(t, int64(3), remote.Balance("principal-beto", 1))
}

func TestTransportFailureDoesNotKillSession(t *testing.T) {
	svc, remote, notes := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 10})
	remote.SetFailReads(true)

	login(t, svc)

	// Auth and catalog failures are independent.
	assert.True(t, svc.Session().Authenticated())
	assert.Empty(t, svc.Properties())

	n := notes.Current()
	require.NotNil(t, n)
	assert.Equal(t, notify.SeverityError, n.Severity)
	assert.Contains(t, n.Message, "transport error")

	// Connectivity returns; the same session recovers by refreshing.
	remote.SetFailReads(false)
	_, err := svc.RefreshCatalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, svc.Properties(), 1)
}

func TestMutationRequiresSession(t *testing.T) {
	svc, remote, _ := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, TotalTokens: 10, AvailableTokens: 10})

	err := svc.Buy(context.Background(), 1, 1)
	require.ErrorIs(t, err, ledger.ErrUnauthenticated)
	err = svc.Transfer(context.Background(), 1, 1, "someone")
	require.ErrorIs(t, err, ledger.ErrUnauthenticated)

	_, _, buyCalls, transferCalls := remote.Counts()
	assert.Zero(t, buyCalls)
	assert.Zero(t, transferCalls)
}

func TestReentrantOperationRejectedWithoutNetwork(t *testing.T) {
	svc, remote, _ := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 100, AvailableTokens: 100})
	login(t, svc)

	remote.SetMutationDelay(200 * time.Millisecond)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = svc.Buy(context.Background(), 1, 1)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !svc.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("first buy never became pending")
		}
		time.Sleep(time.Millisecond)
	}

	err := svc.Buy(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrOperationPending)

	wg.Wait()
	_, _, buyCalls, _ := remote.Counts()
	assert.Equal(t, 1, buyCalls, "the rejected retry must never reach the ledger")
}

func TestLogoutClearsCachesAndIsIdempotent(t *testing.T) {
	svc, remote, _ := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 10})
	remote.SetBalance(testPrincipal, 1, 4)
	login(t, svc)
	require.NotEmpty(t, svc.Properties())

	require.NoError(t, svc.Logout(context.Background()))
	assert.Empty(t, svc.Properties())
	assert.Empty(t, svc.Holdings())
	assert.False(t, svc.Session().Authenticated())

	// Logging out again is a no-op that still succeeds.
	require.NoError(t, svc.Logout(context.Background()))
}

func TestAcceptedMutationWithFailedRefreshIsStaleView(t *testing.T) {
	svc, remote, notes := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 10})
	login(t, svc)

	remote.SetFailReads(true)
	err := svc.Buy(context.Background(), 1, 2)
	require.Error(t, err)

	var stale *StaleViewError
	require.True(t, errors.As(err, &stale), "got %v", err)
	assert.False(t, ledger.IsRejection(err), "stale view must not read as a mutation failure")

	// The purchase itself landed.
	assert.Equal(t, int64(2), remote.Balance(testPrincipal, 1))

	n := notes.Current()
	require.NotNil(t, n)
	assert.Contains(t, n.Message, "stale")
}

func TestStaleIdentityRefreshNeverLandsInNewSession(t *testing.T) {
	svc, remote, _ := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 3, SoldTokens: 7})
	remote.SetBalance(testPrincipal, 1, 7)
	login(t, svc)
	require.Equal(t, int64(7), svc.Balance(1))

	// A second user authenticates through the session manager. The service
	// has not rebound yet, so a refresh issued in this window still runs
	// against the first user's client; its generation stamp must come from
	// that client, not from the already-advanced session.
	sessB, err := svc.sessions.Adopt("principal-beto", "token-beto")
	require.NoError(t, err)

	remote.SetReadDelay(300 * time.Millisecond)
	done := make(chan error, 1)
	go func() {
		_, err := svc.RefreshHoldings(context.Background())
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	svc.bind(sessB)

	require.ErrorIs(t, <-done, cache.ErrSuperseded)
	assert.Zero(t, svc.Balance(1), "first user's holdings leaked into the new session")
	assert.Empty(t, svc.Holdings())
}

func TestHistoryReflectsSettledOperations(t *testing.T) {
	svc, remote, _ := newTestService(t)
	remote.AddProperty(ledger.Property{ID: 1, Title: "Casa Roble", TotalTokens: 10, AvailableTokens: 10})
	login(t, svc)

	require.NoError(t, svc.Buy(context.Background(), 1, 4))
	require.NoError(t, svc.Transfer(context.Background(), 1, 1, "principal-beto"))

	txs, err := svc.History(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "buy", txs[0].Kind)
	assert.Equal(t, "transfer_out", txs[1].Kind)
	assert.Equal(t, "principal-beto", txs[1].Counterparty)
}

// Package ledgertest runs an in-memory ledger and identity provider over
// HTTP for tests. It serves the same contract the real remote service does:
// bearer-authenticated catalog and balance reads, buy/transfer writes with
// structured rejections, and a password-grant token endpoint.
package ledgertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"brix/internal/ledger"
)

type account struct {
	password  string
	principal string
	email     string
}

type Server struct {
	httpServer *httptest.Server

	mu         sync.Mutex
	accounts   map[string]account
	sessions   map[string]account // access token -> account
	properties map[int64]*ledger.Property
	balances   map[string]map[int64]int64
	txs        map[string][]ledger.Transaction
	txSeq      int64
	failReads  bool
	mutDelay   time.Duration
	readDelay  time.Duration

	propertyFetches int
	balanceFetches  int
	buyCalls        int
	transferCalls   int
}

func New() *Server {
	s := &Server{
		accounts:   make(map[string]account),
		sessions:   make(map[string]account),
		properties: make(map[int64]*ledger.Property),
		balances:   make(map[string]map[int64]int64),
		txs:        make(map[string][]ledger.Transaction),
	}
	s.httpServer = httptest.NewServer(s.routes())
	return s
}

func (s *Server) URL() string { return s.httpServer.URL }
func (s *Server) Close()      { s.httpServer.Close() }

func (s *Server) AddAccount(email, password, principal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = account{password: password, principal: principal, email: email}
}

func (s *Server) AddProperty(p ledger.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.properties[p.ID] = &cp
}

func (s *Server) PropertySnapshot(id int64) (ledger.Property, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id]
	if !ok {
		return ledger.Property{}, false
	}
	return *p, true
}

func (s *Server) SetBalance(principal string, propertyID, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[principal] == nil {
		s.balances[principal] = make(map[int64]int64)
	}
	s.balances[principal][propertyID] = amount
}

func (s *Server) Balance(principal string, propertyID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[principal][propertyID]
}

// SetFailReads makes catalog and balance reads answer 500, simulating a
// connectivity problem while auth keeps working.
func (s *Server) SetFailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// SetReadDelay slows down catalog and balance reads so tests can change the
// session while a fetch is still in flight.
func (s *Server) SetReadDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readDelay = d
}

func (s *Server) currentReadDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDelay
}

// SetMutationDelay slows down buy/transfer handling so tests can observe an
// operation while it is still in flight.
func (s *Server) SetMutationDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutDelay = d
}

func (s *Server) mutationDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutDelay
}

func (s *Server) Counts() (propertyFetches, balanceFetches, buyCalls, transferCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.propertyFetches, s.balanceFetches, s.buyCalls, s.transferCalls
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/auth/v1/token", s.handleToken)
	r.Post("/auth/v1/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/auth/v1/user", s.withAuth(s.handleUser))

	r.Get("/v1/properties", s.withAuth(s.handleProperties))
	r.Get("/v1/properties/{id}", s.withAuth(s.handlePropertyDetail))
	r.Get("/v1/tokens", s.withAuth(s.handleTokens))
	r.Post("/v1/tokens/buy", s.withAuth(s.handleBuy))
	r.Post("/v1/tokens/transfer", s.withAuth(s.handleTransfer))
	r.Get("/v1/transactions", s.withAuth(s.handleTransactions))

	return r
}

type authedHandler func(w http.ResponseWriter, r *http.Request, caller account)

func (s *Server) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		s.mu.Lock()
		caller, ok := s.sessions[token]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, caller)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[strings.TrimSpace(in.Email)]
	if !ok || acct.password != in.Password {
		writeError(w, http.StatusBadRequest, "invalid login credentials")
		return
	}
	token := uuid.NewString()
	s.sessions[token] = acct
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   3600,
		"user":         map[string]string{"id": acct.principal, "email": acct.email},
	})
}

func (s *Server) handleUser(w http.ResponseWriter, _ *http.Request, caller account) {
	writeJSON(w, http.StatusOK, map[string]string{"id": caller.principal, "email": caller.email})
}

func (s *Server) handleProperties(w http.ResponseWriter, _ *http.Request, _ account) {
	if d := s.currentReadDelay(); d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.propertyFetches++
	if s.failReads {
		writeError(w, http.StatusInternalServerError, "catalog unavailable")
		return
	}
	out := make([]ledger.Property, 0, len(s.properties))
	for _, p := range s.properties {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"properties": out})
}

func (s *Server) handlePropertyDetail(w http.ResponseWriter, r *http.Request, _ account) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid property id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id]
	if !ok {
		writeError(w, http.StatusNotFound, "property not found")
		return
	}
	writeJSON(w, http.StatusOK, *p)
}

func (s *Server) handleTokens(w http.ResponseWriter, _ *http.Request, caller account) {
	if d := s.currentReadDelay(); d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceFetches++
	if s.failReads {
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	out := make([]ledger.TokenBalance, 0)
	for propertyID, amount := range s.balances[caller.principal] {
		if amount > 0 {
			out = append(out, ledger.TokenBalance{PropertyID: propertyID, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	writeJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request, caller account) {
	var in struct {
		PropertyID int64 `json:"property_id"`
		Amount     int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if d := s.mutationDelay(); d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyCalls++
	p, ok := s.properties[in.PropertyID]
	if !ok {
		writeError(w, http.StatusNotFound, "property not found")
		return
	}
	if in.Amount <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "amount must be positive")
		return
	}
	if in.Amount > p.AvailableTokens {
		writeError(w, http.StatusUnprocessableEntity, "insufficient tokens")
		return
	}
	p.AvailableTokens -= in.Amount
	p.SoldTokens += in.Amount
	if p.AvailableTokens == 0 {
		p.Status = ledger.StatusSoldOut
	}
	if s.balances[caller.principal] == nil {
		s.balances[caller.principal] = make(map[int64]int64)
	}
	s.balances[caller.principal][in.PropertyID] += in.Amount
	s.appendTx(caller.principal, "buy", in.PropertyID, in.Amount, "")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, caller account) {
	var in struct {
		PropertyID int64  `json:"property_id"`
		Amount     int64  `json:"amount"`
		Recipient  string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if d := s.mutationDelay(); d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferCalls++
	if strings.TrimSpace(in.Recipient) == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid recipient")
		return
	}
	if in.Amount <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "amount must be positive")
		return
	}
	if s.balances[caller.principal][in.PropertyID] < in.Amount {
		writeError(w, http.StatusUnprocessableEntity, "insufficient balance")
		return
	}
	s.balances[caller.principal][in.PropertyID] -= in.Amount
	if s.balances[in.Recipient] == nil {
		s.balances[in.Recipient] = make(map[int64]int64)
	}
	s.balances[in.Recipient][in.PropertyID] += in.Amount
	s.appendTx(caller.principal, "transfer_out", in.PropertyID, in.Amount, in.Recipient)
	s.appendTx(in.Recipient, "transfer_in", in.PropertyID, in.Amount, caller.principal)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTransactions(w http.ResponseWriter, _ *http.Request, caller account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"transactions": s.txs[caller.principal]})
}

func (s *Server) appendTx(principal, kind string, propertyID, amount int64, counterparty string) {
	s.txSeq++
	s.txs[principal] = append(s.txs[principal], ledger.Transaction{
		ID:           s.txSeq,
		Kind:         kind,
		PropertyID:   propertyID,
		Amount:       amount,
		Counterparty: counterparty,
		CreatedAt:    time.Now().UTC(),
	})
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

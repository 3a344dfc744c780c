package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type testEnvelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	Retryable bool            `json:"retryable"`
}

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, repo store.Repository, opts RouterOptions, secret string) *testServer {
	t.Helper()
	service := app.NewService(repo, nil, nil, app.Options{
		PasswordCost: bcrypt.MinCost,
		JWTSecret:    secret,
	})
	handlers := NewHandlers(service, decimal.NewFromInt(1000000))
	srv := httptest.NewServer(NewRouter(handlers, service, opts))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

func basicAuth(username, password string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(username, password) }
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (s *testServer) do(method, path, body string, auth func(*http.Request)) (*http.Response, testEnvelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		s.t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != nil {
		auth(req)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env testEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		s.t.Fatalf("%s %s: decode envelope: %v", method, path, err)
	}
	return resp, env
}

func (s *testServer) register(username, password string) {
	s.t.Helper()
	resp, env := s.do(http.MethodPost, "/register", `{"username":"`+username+`","password":"`+password+`"}`, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		s.t.Fatalf("register %s: status %d, %+v", username, resp.StatusCode, env)
	}
}

func decodeData(t *testing.T, env testEnvelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestWalletFlow(t *testing.T) {
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{}, "")
	s.register("user1", "secret1")
	s.register("user2", "secret2")
	alice := basicAuth("user1", "secret1")

	resp, env := s.do(http.MethodPost, "/fund", `{"amt":"100"}`, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fund: status %d, %+v", resp.StatusCode, env)
	}
	var bal balanceResponse
	decodeData(t, env, &bal)
	if !bal.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected balance 100, got %s", bal.Balance)
	}

	resp, env = s.do(http.MethodPost, "/pay", `{"to":"user2","amt":40,"note":"rent"}`, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pay: status %d, %+v", resp.StatusCode, env)
	}
	var pay payResponse
	decodeData(t, env, &pay)
	if !pay.Balance.Equal(decimal.NewFromInt(60)) || pay.Recipient != "user2" {
		t.Fatalf("unexpected pay response %+v", pay)
	}
	if pay.Record.Description != "Payment to user2: rent" {
		t.Fatalf("unexpected description %q", pay.Record.Description)
	}

	resp, env = s.do(http.MethodGet, "/bal", "", basicAuth("user2", "secret2"))
	var view domain.BalanceView
	decodeData(t, env, &view)
	if resp.StatusCode != http.StatusOK || !view.Balance.Equal(decimal.NewFromInt(40)) || view.Currency != "INR" {
		t.Fatalf("unexpected balance view %+v", view)
	}

	resp, env = s.do(http.MethodGet, "/stmt?type=debit", "", alice)
	var records []domain.TransactionRecord
	decodeData(t, env, &records)
	if resp.StatusCode != http.StatusOK || len(records) != 1 || records[0].CounterpartyUsername != "user2" {
		t.Fatalf("unexpected statement %+v", records)
	}

	resp, env = s.do(http.MethodGet, "/insights", "", alice)
	var insights domain.Insights
	decodeData(t, env, &insights)
	if resp.StatusCode != http.StatusOK || insights.TotalTransactions != 2 || !insights.TotalSpent.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected insights %+v", insights)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{}, "")
	s.register("user1", "secret1")
	s.register("user2", "secret2")
	alice := basicAuth("user1", "secret1")
	if resp, env := s.do(http.MethodPost, "/fund", `{"amt":"50"}`, alice); resp.StatusCode != http.StatusOK {
		t.Fatalf("fund: %+v", env)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		auth       func(*http.Request)
		wantStatus int
		wantCode   string
	}{
		{"missing credentials", http.MethodGet, "/bal", "", nil, http.StatusUnauthorized, "Unauthorized"},
		{"wrong password", http.MethodGet, "/bal", "", basicAuth("user1", "nope123"), http.StatusUnauthorized, "Unauthorized"},
		{"bearer without secret", http.MethodGet, "/bal", "", bearer("abc"), http.StatusUnauthorized, "Unauthorized"},
		{"overdraft", http.MethodPost, "/pay", `{"to":"user2","amt":"50.01"}`, alice, http.StatusPaymentRequired, "InsufficientFunds"},
		{"unknown recipient", http.MethodPost, "/pay", `{"to":"ghost","amt":"1"}`, alice, http.StatusNotFound, "RecipientNotFound"},
		{"self payment", http.MethodPost, "/pay", `{"to":"user1","amt":"1"}`, alice, http.StatusBadRequest, "SelfTransfer"},
		{"sub-cent amount", http.MethodPost, "/fund", `{"amt":"0.001"}`, alice, http.StatusBadRequest, "InvalidAmount"},
		{"missing amount", http.MethodPost, "/fund", `{}`, alice, http.StatusBadRequest, "InvalidAmount"},
		{"over funding limit", http.MethodPost, "/fund", `{"amt":"1000000.01"}`, alice, http.StatusBadRequest, "InvalidAmount"},
		{"malformed body", http.MethodPost, "/fund", `{"amt":`, alice, http.StatusBadRequest, "InvalidRequest"},
		{"unknown product", http.MethodPost, "/buy", `{"product_id":99}`, alice, http.StatusNotFound, "ProductNotFound"},
		{"bad statement type", http.MethodGet, "/stmt?type=refund", "", alice, http.StatusBadRequest, "InvalidKind"},
		{"bad limit", http.MethodGet, "/stmt?limit=abc", "", alice, http.StatusBadRequest, "InvalidRequest"},
		{"empty bulk", http.MethodPost, "/bulk-pay", `{"payments":[]}`, alice, http.StatusBadRequest, "EmptyBatch"},
		{"duplicate username", http.MethodPost, "/register", `{"username":"USER1","password":"secret9"}`, nil, http.StatusConflict, "UsernameTaken"},
		{"short password", http.MethodPost, "/register", `{"username":"user3","password":"123"}`, nil, http.StatusBadRequest, "InvalidPassword"},
		{"login disabled", http.MethodPost, "/login", `{"username":"user1","password":"secret1"}`, nil, http.StatusNotImplemented, "TokenAuthDisabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := s.do(tt.method, tt.path, tt.body, tt.auth)
			if resp.StatusCode != tt.wantStatus || env.Code != tt.wantCode || env.Success {
				t.Fatalf("expected %d/%s, got %d/%s (%+v)", tt.wantStatus, tt.wantCode, resp.StatusCode, env.Code, env)
			}
			if env.Retryable {
				t.Fatalf("expected non-retryable error")
			}
		})
	}

	resp, env := s.do(http.MethodGet, "/bal", "", alice)
	var view domain.BalanceView
	decodeData(t, env, &view)
	if resp.StatusCode != http.StatusOK || !view.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected rejected requests to leave balance at 50, got %+v", view)
	}
}

func TestBulkPayReportsItems(t *testing.T) {
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{}, "")
	s.register("sender", "secret1")
	s.register("user1", "secret1")
	auth := basicAuth("sender", "secret1")
	s.do(http.MethodPost, "/fund", `{"amt":"100"}`, auth)

	resp, env := s.do(http.MethodPost, "/bulk-pay", `{"payments":[{"to":"user1","amt":"30"},{"to":"user2","amt":"20"}]}`, auth)
	if resp.StatusCode != http.StatusOK || env.Message != "Some payments failed" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, env)
	}
	var result domain.BulkTransferResult
	decodeData(t, env, &result)
	if !result.FinalBalance.Equal(decimal.NewFromInt(70)) || result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("unexpected bulk result %+v", result)
	}
	if result.Items[1].Reason != "RecipientNotFound" {
		t.Fatalf("expected RecipientNotFound reason, got %+v", result.Items[1])
	}

	resp, env = s.do(http.MethodPost, "/bulk-pay", `{"payments":[{"to":"user1","amt":"60"},{"to":"user1","amt":"20"}]}`, auth)
	if resp.StatusCode != http.StatusPaymentRequired || env.Code != "InsufficientFunds" {
		t.Fatalf("expected pre-check to reject the batch, got %d %+v", resp.StatusCode, env)
	}
}

func TestProductCatalogAndPurchase(t *testing.T) {
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{}, "")
	s.register("buyer", "secret1")
	auth := basicAuth("buyer", "secret1")
	s.do(http.MethodPost, "/fund", `{"amt":"20"}`, auth)

	resp, env := s.do(http.MethodPost, "/product", `{"name":"Notebook","price":"7.25","description":"A5 ruled"}`, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add product: %d %+v", resp.StatusCode, env)
	}
	var product domain.Product
	decodeData(t, env, &product)

	resp, env = s.do(http.MethodGet, "/product?search=note", "", nil)
	var products []domain.Product
	decodeData(t, env, &products)
	if resp.StatusCode != http.StatusOK || len(products) != 1 || products[0].ID != product.ID {
		t.Fatalf("unexpected product list %+v", products)
	}

	resp, env = s.do(http.MethodPost, "/buy", `{"product_id":`+jsonInt(product.ID)+`}`, auth)
	var purchase purchaseResponse
	decodeData(t, env, &purchase)
	if resp.StatusCode != http.StatusOK || !purchase.Balance.Equal(decimal.RequireFromString("12.75")) {
		t.Fatalf("unexpected purchase %d %+v", resp.StatusCode, purchase)
	}

	resp, env = s.do(http.MethodPost, "/product", `{"name":"","price":"1"}`, auth)
	if resp.StatusCode != http.StatusBadRequest || env.Code != "InvalidProduct" {
		t.Fatalf("expected InvalidProduct, got %d %+v", resp.StatusCode, env)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestLoginAndBearerAuth(t *testing.T) {
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{}, "test-secret")
	s.register("alice", "secret1")

	resp, env := s.do(http.MethodPost, "/login", `{"username":"alice","password":"wrong12"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized || env.Code != "InvalidCredentials" {
		t.Fatalf("expected InvalidCredentials, got %d %+v", resp.StatusCode, env)
	}

	resp, env = s.do(http.MethodPost, "/login", `{"username":"alice","password":"secret1"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %+v", resp.StatusCode, env)
	}
	var login loginResponse
	decodeData(t, env, &login)
	if login.Token == "" || login.TokenType != "Bearer" || login.ExpiresAt.Before(time.Now()) {
		t.Fatalf("unexpected login response %+v", login)
	}

	resp, env = s.do(http.MethodPost, "/fund", `{"amt":"5"}`, bearer(login.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fund with bearer: %d %+v", resp.StatusCode, env)
	}
	resp, _ = s.do(http.MethodGet, "/bal", "", bearer(login.Token+"x"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected tampered token to be rejected, got %d", resp.StatusCode)
	}
}

// stubLimiter keeps a per-account budget in memory and records the charged operations.
type stubLimiter struct {
	limit int64
	used  map[int64]int64
	ops   []app.LedgerOperation
	err   error
}

func (l *stubLimiter) Allow(ctx context.Context, accountID int64, op app.LedgerOperation) (app.RateDecision, error) {
	l.ops = append(l.ops, op)
	if l.err != nil {
		return app.RateDecision{}, l.err
	}
	if l.used == nil {
		l.used = make(map[int64]int64)
	}
	l.used[accountID] += op.Cost()
	d := app.RateDecision{Used: l.used[accountID], Allowed: l.used[accountID] <= l.limit}
	if !d.Allowed {
		d.RetryAfter = 41500 * time.Millisecond
	}
	return d, nil
}

func TestPaymentRateLimit(t *testing.T) {
	limiter := &stubLimiter{limit: 2}
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{Limiter: limiter}, "")
	s.register("alice", "secret1")
	auth := basicAuth("alice", "secret1")

	for i := 0; i < 2; i++ {
		if resp, env := s.do(http.MethodPost, "/fund", `{"amt":"1"}`, auth); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: %d %+v", i, resp.StatusCode, env)
		}
	}
	resp, env := s.do(http.MethodPost, "/fund", `{"amt":"1"}`, auth)
	if resp.StatusCode != http.StatusTooManyRequests || env.Code != "RateLimited" || !env.Retryable {
		t.Fatalf("expected 429, got %d %+v", resp.StatusCode, env)
	}
	if resp.Header.Get("Retry-After") != "42" {
		t.Fatalf("expected Retry-After 42, got %q", resp.Header.Get("Retry-After"))
	}

	// Reads are not limited.
	if resp, _ := s.do(http.MethodGet, "/bal", "", auth); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected balance read to bypass the limiter, got %d", resp.StatusCode)
	}
	if len(limiter.ops) != 3 {
		t.Fatalf("expected 3 charged operations, got %v", limiter.ops)
	}

	// A second account has its own budget.
	s.register("bob", "secret2")
	if resp, env := s.do(http.MethodPost, "/fund", `{"amt":"1"}`, basicAuth("bob", "secret2")); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected bob to be unaffected, got %d %+v", resp.StatusCode, env)
	}
}

func TestRateLimitChargesEachLedgerOperation(t *testing.T) {
	limiter := &stubLimiter{limit: 100}
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{Limiter: limiter}, "")
	s.register("alice", "secret1")
	s.register("bob", "secret2")
	auth := basicAuth("alice", "secret1")

	s.do(http.MethodPost, "/fund", `{"amt":"50"}`, auth)
	s.do(http.MethodPost, "/pay", `{"to":"bob","amt":"1"}`, auth)
	s.do(http.MethodPost, "/bulk-pay", `{"payments":[{"to":"bob","amt":"1"}]}`, auth)
	s.do(http.MethodPost, "/product", `{"name":"Pen","price":"2"}`, auth)
	s.do(http.MethodPost, "/buy", `{"product_id":1}`, auth)

	want := []app.LedgerOperation{app.OpFund, app.OpPay, app.OpBulkPay, app.OpAddProduct, app.OpPurchase}
	if len(limiter.ops) != len(want) {
		t.Fatalf("expected %v, got %v", want, limiter.ops)
	}
	for i := range want {
		if limiter.ops[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, limiter.ops)
		}
	}
	if got := limiter.used[1]; got != 4+app.OpBulkPay.Cost() {
		t.Fatalf("expected bulk payment to be charged its cost, used=%d", got)
	}
}

func TestRateLimiterErrorsFailOpen(t *testing.T) {
	limiter := &stubLimiter{limit: 1, err: errors.New("redis down")}
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{Limiter: limiter}, "")
	s.register("alice", "secret1")

	for i := 0; i < 3; i++ {
		if resp, env := s.do(http.MethodPost, "/fund", `{"amt":"1"}`, basicAuth("alice", "secret1")); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: %d %+v", i, resp.StatusCode, env)
		}
	}
}

type unavailableLedger struct {
	*store.MemoryRepository
	err error
}

func (u *unavailableLedger) RunInTx(ctx context.Context, ids []int64, fn func(tx store.LedgerTx) error) error {
	if u.err != nil {
		return u.err
	}
	return errors.New("connection reset by peer")
}

func TestStorageFailureIsRetryable(t *testing.T) {
	s := newTestServer(t, &unavailableLedger{MemoryRepository: store.NewMemoryRepository()}, RouterOptions{}, "")
	s.register("alice", "secret1")

	resp, env := s.do(http.MethodPost, "/fund", `{"amt":"10"}`, basicAuth("alice", "secret1"))
	if resp.StatusCode != http.StatusServiceUnavailable || env.Code != "StorageFailure" || !env.Retryable {
		t.Fatalf("expected retryable 503, got %d %+v", resp.StatusCode, env)
	}
	if strings.Contains(env.Error, "connection reset") {
		t.Fatalf("expected storage details to stay out of the response, got %q", env.Error)
	}
}

func TestUnavailableStoreIsNotRetryable(t *testing.T) {
	ledger := &unavailableLedger{
		MemoryRepository: store.NewMemoryRepository(),
		err:              fmt.Errorf("%w: wal poisoned", domain.ErrStorageUnavailable),
	}
	s := newTestServer(t, ledger, RouterOptions{}, "")
	s.register("alice", "secret1")

	resp, env := s.do(http.MethodPost, "/fund", `{"amt":"10"}`, basicAuth("alice", "secret1"))
	if resp.StatusCode != http.StatusServiceUnavailable || env.Code != "StorageUnavailable" || env.Retryable {
		t.Fatalf("expected non-retryable 503, got %d %+v", resp.StatusCode, env)
	}
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t, store.NewMemoryRepository(), RouterOptions{}, "")

	resp, env := s.do(http.MethodGet, "/", "", nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("index: %d %+v", resp.StatusCode, env)
	}

	health, err := s.srv.Client().Get(s.srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", health.StatusCode)
	}
}

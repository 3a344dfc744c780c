/**
 * @description
 * This file contains the HTTP handlers for the wallet API. Handlers parse the request,
 * call the application service and write the response envelope. Ledger errors are
 * mapped onto status codes in one place so every endpoint reports them the same way.
 *
 * @dependencies
 * - internal/app, internal/domain: Service logic, models and ledger errors.
 * - github.com/shopspring/decimal: Request amounts.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service    *app.Service
	maxFunding decimal.Decimal
}

// NewHandlers creates a new instance of Handlers. A non-positive maxFunding disables
// the funding cap.
func NewHandlers(service *app.Service, maxFunding decimal.Decimal) *Handlers {
	return &Handlers{service: service, maxFunding: maxFunding}
}

// envelope is the body of every API response.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type fundRequest struct {
	Amount decimal.Decimal `json:"amt"`
}

type payRequest struct {
	To     string          `json:"to"`
	ToID   int64           `json:"to_id"`
	Amount decimal.Decimal `json:"amt"`
	Note   string          `json:"note"`
}

type bulkPayRequest struct {
	Payments []struct {
		To     string          `json:"to"`
		ToID   int64           `json:"to_id"`
		Amount decimal.Decimal `json:"amt"`
	} `json:"payments"`
}

type productRequest struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
}

type buyRequest struct {
	ProductID int64 `json:"product_id"`
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type payResponse struct {
	Balance   decimal.Decimal           `json:"balance"`
	Recipient string                    `json:"recipient"`
	Record    *domain.TransactionRecord `json:"record"`
}

type purchaseResponse struct {
	Product *domain.Product           `json:"product"`
	Balance decimal.Decimal           `json:"balance"`
	Record  *domain.TransactionRecord `json:"record"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("level=warn component=api msg=\"response encode failed\" err=%v", err)
		}
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, envelope{Success: false, Error: message, Code: code, Retryable: retryable})
}

// statusFor maps a ledger error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrStorageFailure), errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrRecipientNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case domain.IsBusinessError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs and reports an error returned by the service.
func writeServiceError(w http.ResponseWriter, endpoint string, accountID int64, err error) {
	status := statusFor(err)
	code := domain.ErrorCode(err)
	retryable := domain.IsRetryable(err)

	message := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		message = "Service temporarily unavailable. Please retry."
		if !retryable {
			message = "Service unavailable. Do not retry; check the outcome before resubmitting."
		}
		log.Printf("level=error component=api endpoint=%s outcome=failed account_id=%d code=%s err=%v", endpoint, accountID, code, err)
	case http.StatusInternalServerError:
		message = "Internal server error"
		log.Printf("level=error component=api endpoint=%s outcome=failed account_id=%d err=%v", endpoint, accountID, err)
	default:
		log.Printf("level=warn component=api endpoint=%s outcome=reject account_id=%d code=%s", endpoint, accountID, code)
	}
	writeError(w, status, code, message, retryable)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, endpoint string, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=invalid_json err=%v", endpoint, err)
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body", false)
		return false
	}
	return true
}

// requireAccount reads the authenticated account id; the auth middleware guarantees it.
func requireAccount(w http.ResponseWriter, r *http.Request) (int64, bool) {
	accountID, ok := GetAccountID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Valid credentials are required", false)
	}
	return accountID, ok
}

func queryLimit(r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, false
	}
	return limit, true
}

// IndexHandler lists the available endpoints.
func (h *Handlers) IndexHandler(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Wallet API", map[string]string{
		"POST /register": "Create an account",
		"POST /login":    "Exchange credentials for a bearer token",
		"POST /fund":     "Add funds to your account",
		"POST /pay":      "Pay another user",
		"POST /bulk-pay": "Pay several users",
		"GET /bal":       "Show your balance, optionally in another currency",
		"GET /stmt":      "List your transactions, newest first",
		"GET /insights":  "Summarize your spending",
		"GET /product":   "List products",
		"POST /product":  "Add a product",
		"POST /buy":      "Buy a product",
		"GET /health":    "Health check",
	})
}

// RegisterHandler creates an account.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, "register", &req) {
		return
	}
	acc, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, "register", 0, err)
		return
	}
	log.Printf("level=info component=api endpoint=register outcome=created account_id=%d", acc.ID)
	writeSuccess(w, http.StatusCreated, "User registered successfully", accountResponse{
		ID:        acc.ID,
		Username:  acc.Username,
		Balance:   acc.Balance,
		CreatedAt: acc.CreatedAt,
	})
}

// LoginHandler issues a bearer token for valid credentials.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !h.service.TokenAuthEnabled() {
		writeError(w, http.StatusNotImplemented, "TokenAuthDisabled", "Token authentication is not enabled; use HTTP Basic auth", false)
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, "login", &req) {
		return
	}
	acc, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, "login", 0, err)
		return
	}
	token, expiresAt, err := h.service.IssueToken(acc)
	if err != nil {
		writeServiceError(w, "login", acc.ID, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful", loginResponse{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}

// FundHandler credits the caller's account.
func (h *Handlers) FundHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req fundRequest
	if !decodeJSON(w, r, "fund", &req) {
		return
	}
	if h.maxFunding.IsPositive() && req.Amount.GreaterThan(h.maxFunding) {
		writeError(w, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidAmount),
			"Amount exceeds the maximum funding limit of "+h.maxFunding.StringFixed(domain.MoneyScale), false)
		return
	}

	res, err := h.service.Fund(r.Context(), accountID, req.Amount)
	if err != nil {
		writeServiceError(w, "fund", accountID, err)
		return
	}
	log.Printf("level=info component=api endpoint=fund outcome=success account_id=%d amount=%s", accountID, req.Amount)
	writeSuccess(w, http.StatusOK, "Account funded successfully", balanceResponse{Balance: res.NewBalance})
}

// PayHandler transfers money to another account.
func (h *Handlers) PayHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req payRequest
	if !decodeJSON(w, r, "pay", &req) {
		return
	}

	to := domain.AccountRef{ID: req.ToID, Username: strings.TrimSpace(req.To)}
	res, err := h.service.Transfer(r.Context(), accountID, to, req.Amount, req.Note)
	if err != nil {
		writeServiceError(w, "pay", accountID, err)
		return
	}
	log.Printf("level=info component=api endpoint=pay outcome=success account_id=%d recipient=%s amount=%s", accountID, res.Recipient, req.Amount)
	writeSuccess(w, http.StatusOK, "Payment successful", payResponse{
		Balance:   res.SenderBalance,
		Recipient: res.Recipient,
		Record:    res.DebitRecord,
	})
}

// BulkPayHandler pays several recipients in one request. Individual failures are
// reported per item; the request itself succeeds once the batch has run.
func (h *Handlers) BulkPayHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req bulkPayRequest
	if !decodeJSON(w, r, "bulk_pay", &req) {
		return
	}

	items := make([]domain.BulkTransferItem, 0, len(req.Payments))
	for _, p := range req.Payments {
		items = append(items, domain.BulkTransferItem{
			To:     domain.AccountRef{ID: p.ToID, Username: strings.TrimSpace(p.To)},
			Amount: p.Amount,
		})
	}

	result, err := h.service.BulkTransfer(r.Context(), accountID, items)
	if err != nil {
		writeServiceError(w, "bulk_pay", accountID, err)
		return
	}

	message := "All payments completed"
	switch {
	case result.Succeeded == 0:
		message = "All payments failed"
	case result.Failed > 0:
		message = "Some payments failed"
	}
	writeSuccess(w, http.StatusOK, message, result)
}

// BalanceHandler returns the caller's balance, converted when ?currency= is given.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	view, err := h.service.Balance(r.Context(), accountID, r.URL.Query().Get("currency"))
	if err != nil {
		writeServiceError(w, "balance", accountID, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", view)
}

// StatementHandler returns the caller's transactions, newest first.
func (h *Handlers) StatementHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a non-negative integer", false)
		return
	}
	kind, err := domain.ParseKind(r.URL.Query().Get("type"))
	if err != nil {
		writeServiceError(w, "statement", accountID, err)
		return
	}
	filter := domain.StatementFilter{
		Kind:   kind,
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
	}

	records, err := h.service.Statement(r.Context(), accountID, filter)
	if err != nil {
		writeServiceError(w, "statement", accountID, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", records)
}

// InsightsHandler returns spending statistics for the caller.
func (h *Handlers) InsightsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	insights, err := h.service.Insights(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, "insights", accountID, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", insights)
}

// ListProductsHandler returns catalog items.
func (h *Handlers) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a non-negative integer", false)
		return
	}
	products, err := h.service.ListProducts(r.Context(), domain.ProductFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, "list_products", 0, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", products)
}

// AddProductHandler registers a catalog item.
func (h *Handlers) AddProductHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req productRequest
	if !decodeJSON(w, r, "add_product", &req) {
		return
	}
	product, err := h.service.AddProduct(r.Context(), req.Name, req.Price, req.Description)
	if err != nil {
		writeServiceError(w, "add_product", accountID, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Product added successfully", product)
}

// BuyHandler purchases a product for the caller.
func (h *Handlers) BuyHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeJSON(w, r, "buy", &req) {
		return
	}
	res, err := h.service.Purchase(r.Context(), accountID, req.ProductID)
	if err != nil {
		writeServiceError(w, "buy", accountID, err)
		return
	}
	log.Printf("level=info component=api endpoint=buy outcome=success account_id=%d product_id=%d", accountID, req.ProductID)
	writeSuccess(w, http.StatusOK, "Product purchased successfully", purchaseResponse{
		Product: res.Product,
		Balance: res.NewBalance,
		Record:  res.Record,
	})
}

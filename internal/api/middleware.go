/**
 * @description
 * Request middleware: principal resolution (HTTP Basic, or a Bearer token when token
 * auth is configured) and per-account rate limiting for mutating endpoints.
 *
 * @dependencies
 * - internal/app: Credential checks and token verification.
 */

package api

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
)

// AccountContextKey is a custom type for the context key to avoid collisions.
type AccountContextKey string

const accountKey AccountContextKey = "account"

// AuthMiddleware resolves the caller into an account. Basic credentials are always
// accepted; Bearer tokens only when the service has a signing secret.
func AuthMiddleware(service *app.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, err := authenticateRequest(r, service)
			if err != nil {
				if domain.IsRetryable(err) {
					log.Printf("level=error component=api msg=\"authentication lookup failed\" path=%s err=%v", r.URL.Path, err)
					writeError(w, http.StatusServiceUnavailable, domain.ErrorCode(err), "Service temporarily unavailable", true)
					return
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="wallet"`)
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Valid credentials are required", false)
				return
			}

			ctx := context.WithValue(r.Context(), accountKey, acc.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticateRequest(r *http.Request, service *app.Service) (*domain.Account, error) {
	if username, password, ok := r.BasicAuth(); ok {
		return service.Authenticate(r.Context(), username, password)
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if authHeader == "" || tokenString == authHeader {
		return nil, domain.ErrInvalidCredentials
	}
	subject, err := service.ParseToken(strings.TrimSpace(tokenString))
	if errors.Is(err, app.ErrTokenAuthDisabled) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	return service.ResolveSubject(r.Context(), subject)
}

// GetAccountID retrieves the authenticated account id from the request context.
func GetAccountID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountKey).(int64)
	return id, ok
}

// RateLimiter is satisfied by app.PaymentRateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, accountID int64, op app.LedgerOperation) (app.RateDecision, error)
}

// RateLimitMiddleware charges op to the authenticated account's ledger budget. Limiter
// errors let the request through.
func RateLimitMiddleware(limiter RateLimiter, op app.LedgerOperation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, ok := GetAccountID(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), accountID, op)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" operation=%s account_id=%d err=%v", op, accountID, err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			if !decision.Allowed {
				retryAfter := int64(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				log.Printf("level=warn component=api outcome=rate_limited operation=%s account_id=%d used=%d", op, accountID, decision.Used)
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeError(w, http.StatusTooManyRequests, "RateLimited", "Too many requests. Please try again later.", true)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

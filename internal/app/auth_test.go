package app

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func newAuthService(secret string) *Service {
	return NewService(store.NewMemoryRepository(), nil, nil, Options{
		PasswordCost: bcrypt.MinCost,
		JWTSecret:    secret,
		JWTIssuer:    "wallet-service",
		TokenTTL:     time.Hour,
	})
}

func TestRegisterValidation(t *testing.T) {
	svc := newAuthService("")

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "alice_01", "secret1", nil},
		{"too short", "al", "secret1", domain.ErrInvalidUsername},
		{"bad characters", "alice!", "secret1", domain.ErrInvalidUsername},
		{"too long", "abcdefghijklmnopqrstu", "secret1", domain.ErrInvalidUsername},
		{"short password", "bob", "12345", domain.ErrInvalidPassword},
		{"duplicate ignoring case", "ALICE_01", "secret1", domain.ErrUsernameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := svc.Register(context.Background(), tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil {
				if !acc.Balance.IsZero() {
					t.Fatalf("expected zero opening balance, got %s", acc.Balance)
				}
				if acc.PasswordHash == tt.password {
					t.Fatalf("password stored in plain text")
				}
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc := newAuthService("")
	if _, err := svc.Register(context.Background(), "alice", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), "alice", "secret1"); err != nil {
		t.Fatalf("expected valid credentials to authenticate, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "alice", "wrong-pass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "nobody", "secret1"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newAuthService("test-secret")
	acc, err := svc.Register(context.Background(), "alice", "secret1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	token, expiresAt, err := svc.IssueToken(acc)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected expiry in the future, got %v", expiresAt)
	}
	subject, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	resolved, err := svc.ResolveSubject(context.Background(), subject)
	if err != nil || resolved.ID != acc.ID {
		t.Fatalf("expected subject to resolve to account %d, got %+v (%v)", acc.ID, resolved, err)
	}

	byID, err := svc.ResolveSubject(context.Background(), strconv.FormatInt(acc.ID, 10))
	if err != nil || byID.ID != acc.ID {
		t.Fatalf("expected numeric subject to resolve, got %+v (%v)", byID, err)
	}
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	svc := newAuthService("test-secret")

	sign := func(secret string, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	future := time.Now().Add(time.Hour).Unix()

	tests := map[string]string{
		"wrong secret": sign("other", jwt.MapClaims{"sub": "alice", "exp": future, "iss": "wallet-service"}),
		"expired":      sign("test-secret", jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix(), "iss": "wallet-service"}),
		"no expiry":    sign("test-secret", jwt.MapClaims{"sub": "alice", "iss": "wallet-service"}),
		"wrong issuer": sign("test-secret", jwt.MapClaims{"sub": "alice", "exp": future, "iss": "elsewhere"}),
		"no subject":   sign("test-secret", jwt.MapClaims{"exp": future, "iss": "wallet-service"}),
		"not a token":  "abc.def.ghi",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.ParseToken(token); !errors.Is(err, domain.ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestTokensDisabledWithoutSecret(t *testing.T) {
	svc := newAuthService("")
	if svc.TokenAuthEnabled() {
		t.Fatalf("expected token auth to be disabled")
	}
	if _, _, err := svc.IssueToken(&domain.Account{Username: "alice"}); !errors.Is(err, ErrTokenAuthDisabled) {
		t.Fatalf("expected ErrTokenAuthDisabled, got %v", err)
	}
}

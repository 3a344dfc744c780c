/**
 * @description
 * Account registration and credential checks for the wallet service, plus issuing and
 * verifying the HS256 bearer tokens accepted by the API.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: Password hashing.
 * - github.com/golang-jwt/jwt/v5: Token signing and validation.
 */

package app

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/wallet-service/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

	// ErrTokenAuthDisabled is returned when no signing secret is configured.
	ErrTokenAuthDisabled = errors.New("token authentication is not enabled")
)

func validateCredentialsInput(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return "", domain.ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return "", domain.ErrInvalidPassword
	}
	return username, nil
}

// Register creates an account with a zero balance.
func (s *Service) Register(ctx context.Context, username, password string) (*domain.Account, error) {
	username, err := validateCredentialsInput(username, password)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordCost)
	if err != nil {
		return nil, err
	}
	acc, err := s.repo.CreateAccount(ctx, username, string(hash))
	if err != nil {
		return nil, storageFailure(err)
	}
	return acc, nil
}

// Authenticate resolves a username/password pair into its account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.Account, error) {
	acc, err := s.repo.FindAccountByUsername(ctx, username)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, storageFailure(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return acc, nil
}

// ResolveSubject maps a token subject (username or numeric id) onto an account.
func (s *Service) ResolveSubject(ctx context.Context, subject string) (*domain.Account, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, domain.ErrInvalidCredentials
	}

	acc, err := s.repo.FindAccountByUsername(ctx, subject)
	if errors.Is(err, domain.ErrAccountNotFound) {
		if id, convErr := strconv.ParseInt(subject, 10, 64); convErr == nil {
			acc, err = s.repo.FindAccountByID(ctx, id)
		}
	}
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, storageFailure(err)
	}
	return acc, nil
}

// TokenAuthEnabled reports whether bearer tokens can be issued and verified.
func (s *Service) TokenAuthEnabled() bool {
	return len(s.jwtSecret) > 0
}

// IssueToken signs an HS256 token whose subject is the account's username.
func (s *Service) IssueToken(acc *domain.Account) (string, time.Time, error) {
	if !s.TokenAuthEnabled() {
		return "", time.Time{}, ErrTokenAuthDisabled
	}
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := jwt.MapClaims{
		"sub": acc.Username,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	if s.jwtIssuer != "" {
		claims["iss"] = s.jwtIssuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken verifies a bearer token and returns its subject.
func (s *Service) ParseToken(tokenString string) (string, error) {
	if !s.TokenAuthEnabled() {
		return "", ErrTokenAuthDisabled
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if s.jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.jwtIssuer))
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", domain.ErrInvalidCredentials
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", domain.ErrInvalidCredentials
	}
	return subject, nil
}

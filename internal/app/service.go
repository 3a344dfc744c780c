/**
 * @description
 * This file contains the `Service` struct, the entry point for every wallet use case.
 * It owns the ledger engine (mutations, transfers, purchases, bulk payments), the
 * query layer and the thin collaborators around them (registration, catalog, rates).
 *
 * Key features:
 * - All balance changes go through store.Ledger.RunInTx, one unit of work per operation.
 * - Unexpected store errors are surfaced as domain.ErrStorageFailure, which callers may retry.
 * - Committed records are published as ledger events on a best-effort basis.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - github.com/shopspring/decimal: Money values.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	DefaultBaseCurrency   = "INR"
	DefaultEventsExchange = "wallet_events"
	DefaultPasswordCost   = 12
	DefaultTokenTTL       = 24 * time.Hour

	eventPublishTimeout = 5 * time.Second
)

// EventPublisher is satisfied by the rabbitmq and kafka producers.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// CurrencyConverter converts a base-currency amount for display. It never fails.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) decimal.Decimal
}

// Options configures a Service. Zero values select the defaults above.
type Options struct {
	BaseCurrency   string
	EventsExchange string
	PasswordCost   int
	JWTSecret      string
	JWTIssuer      string
	TokenTTL       time.Duration
}

// Service provides the core business logic for the wallet.
type Service struct {
	repo           store.Repository
	rates          CurrencyConverter
	eventProducer  EventPublisher
	eventsExchange string
	baseCurrency   string
	passwordCost   int
	jwtSecret      []byte
	jwtIssuer      string
	tokenTTL       time.Duration
}

// NewService creates a new wallet service instance. rates and producer may be nil.
func NewService(repo store.Repository, rates CurrencyConverter, producer EventPublisher, opts Options) *Service {
	s := &Service{
		repo:           repo,
		rates:          rates,
		eventProducer:  producer,
		eventsExchange: strings.TrimSpace(opts.EventsExchange),
		baseCurrency:   strings.ToUpper(strings.TrimSpace(opts.BaseCurrency)),
		passwordCost:   opts.PasswordCost,
		jwtSecret:      []byte(opts.JWTSecret),
		jwtIssuer:      strings.TrimSpace(opts.JWTIssuer),
		tokenTTL:       opts.TokenTTL,
	}
	if s.eventsExchange == "" {
		s.eventsExchange = DefaultEventsExchange
	}
	if s.baseCurrency == "" {
		s.baseCurrency = DefaultBaseCurrency
	}
	if s.passwordCost <= 0 {
		s.passwordCost = DefaultPasswordCost
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	return s
}

// BaseCurrency is the currency every balance is held in.
func (s *Service) BaseCurrency() string {
	return s.baseCurrency
}

// storageFailure passes ledger errors through and tags anything else as a retryable
// storage failure.
func storageFailure(err error) error {
	if err == nil || domain.IsBusinessError(err) ||
		errors.Is(err, domain.ErrStorageFailure) || errors.Is(err, domain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
}

// publishRecords emits one ledger event per committed record. Failures are logged only:
// the records are already durable.
func (s *Service) publishRecords(ctx context.Context, batchID string, records ...*domain.TransactionRecord) {
	if s.eventProducer == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	for _, rec := range records {
		if rec == nil {
			continue
		}
		event := domain.LedgerEvent{
			EventID:        uuid.NewString(),
			EventType:      domain.LedgerEventType,
			BatchID:        batchID,
			RecordID:       rec.ID,
			AccountID:      rec.AccountID,
			Kind:           rec.Kind,
			Amount:         rec.Amount,
			BalanceAfter:   rec.BalanceAfter,
			Description:    rec.Description,
			CounterpartyID: rec.CounterpartyID,
			ProductID:      rec.ProductID,
			OccurredAt:     rec.CreatedAt,
		}
		if err := s.eventProducer.Publish(pubCtx, s.eventsExchange, event.RoutingKey(), event); err != nil {
			log.Printf("level=warn component=ledger msg=\"ledger event publish failed\" record_id=%d account_id=%d routing_key=%s err=%v", rec.ID, rec.AccountID, event.RoutingKey(), err)
		}
	}
}

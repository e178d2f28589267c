// Package services holds the ledger use cases. Services validate input,
// run storage work in SQLite transactions and publish ledger events so the
// balance worker can refresh materialised balances.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"moneybook/internal/amqp"
	"moneybook/internal/auth"
	"moneybook/internal/cache"
	"moneybook/internal/core"
	"moneybook/internal/credential"
	"moneybook/internal/log"
	"moneybook/internal/storage"
)

// Publisher delivers ledger events to the balance worker. *amqp.Client
// implements it.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

var _ Publisher = (*amqp.Client)(nil)

// Deps collects what the services need.
type Deps struct {
	Repo          *storage.SQLiteRepository
	Hasher        *credential.Hasher
	Tokens        *auth.Manager
	Publisher     Publisher
	Logger        *log.Logger
	Caches        *cache.Manager
	DefaultLocale string
	CacheTTL      time.Duration
}

// Services bundles every use case behind the HTTP API.
type Services struct {
	Users      *UserService
	Accounts   *AccountService
	Categories *CategoryService
	Operations *OperationService
	Currencies *CurrencyService
}

// New wires the services together. Publisher may be nil, in which case
// ledger events are skipped and the worker's reconcile loop picks up the
// pending balances.
func New(d Deps) *Services {
	if d.Logger == nil {
		d.Logger = log.New(log.DefaultConfig())
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = 5 * time.Minute
	}

	events := &eventPublisher{
		publisher: d.Publisher,
		logger:    d.Logger.WithComponent(log.ComponentAMQP),
	}

	currencies := NewCurrencyService(d.Repo, d.CacheTTL)
	categories := NewCategoryService(d.Repo, d.CacheTTL)
	if d.Caches != nil {
		d.Caches.Register(currencies.cache)
		d.Caches.Register(categories.cache)
	}

	return &Services{
		Users:      NewUserService(d.Repo, d.Hasher, d.Tokens, categories, d.Logger, d.DefaultLocale),
		Accounts:   NewAccountService(d.Repo, currencies, events),
		Categories: categories,
		Operations: NewOperationService(d.Repo, categories, events, d.Logger),
		Currencies: currencies,
	}
}

var validate = validator.New()

// checkID validates an entity identifier supplied by a client.
func checkID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return core.Invalid(field, core.ReasonRequired)
	}
	if _, err := uuid.Parse(id); err != nil {
		return core.Invalid(field, core.ReasonInvalid)
	}
	return nil
}

// notFound turns a storage miss into a coded error for field.
func notFound(err error, field string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return core.NotFound(field)
	}
	return err
}

// eventPublisher publishes best effort: a failed publish is logged and the
// pending flag set in the transaction keeps the account queued for the
// reconcile loop.
type eventPublisher struct {
	publisher Publisher
	logger    *log.Logger
}

func (p *eventPublisher) publish(ctx context.Context, event *amqp.LedgerEvent) {
	if p == nil || p.publisher == nil {
		return
	}
	if len(event.AccountIDs) == 0 {
		return
	}
	if err := p.publisher.PublishLedgerEvent(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, event.Type,
			log.FieldUserID, event.UserID,
			log.FieldError, err.Error())
	}
}

func wrapStorage(action string, err error) error {
	if err == nil {
		return nil
	}
	var coded core.Coded
	if errors.As(err, &coded) {
		return err
	}
	return fmt.Errorf("%s: %w", action, err)
}

package services

import (
	"context"
	"errors"
	"strings"

	"moneybook/internal/amqp"
	"moneybook/internal/core"
	"moneybook/internal/storage"
)

// AccountInput is the body of an add request. StartBalance is the decimal
// text sent by the client; an empty value means zero.
type AccountInput struct {
	Name         string
	Type         core.AccountType
	StartBalance string
	Currency     string
}

// AccountUpdate carries a partial update. Nil fields keep their value.
type AccountUpdate struct {
	ID           string
	Name         *string
	StartBalance *string
	Currency     *string
	Status       *core.AccountStatus
	Order        *int
}

// AccountService manages a user's accounts.
type AccountService struct {
	repo       *storage.SQLiteRepository
	currencies *CurrencyService
	events     *eventPublisher
}

func NewAccountService(repo *storage.SQLiteRepository, currencies *CurrencyService, events *eventPublisher) *AccountService {
	return &AccountService{repo: repo, currencies: currencies, events: events}
}

// List returns the user's accounts in display order.
func (s *AccountService) List(ctx context.Context, userID string) ([]core.Account, error) {
	accounts, err := s.repo.ListAccounts(ctx, userID)
	if err != nil {
		return nil, wrapStorage("list accounts", err)
	}
	if accounts == nil {
		accounts = []core.Account{}
	}
	return accounts, nil
}

// Add creates an account and returns the refreshed list. An empty currency
// falls back to the user's base currency.
func (s *AccountService) Add(ctx context.Context, userID string, in AccountInput) ([]core.Account, error) {
	const scope = "account.add"

	cents, err := parseBalance(in.StartBalance)
	if err != nil {
		return nil, core.Scoped(scope, err)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		user, err := s.repo.GetUser(ctx, userID)
		if err != nil {
			return nil, wrapStorage("load user", err)
		}
		currency = user.Settings.BaseCurrency
	}

	account := core.Account{
		User:         userID,
		Name:         strings.TrimSpace(in.Name),
		Type:         in.Type,
		StartBalance: core.Money{Cents: cents},
		Currency:     currency,
		Status:       core.AccountActive,
	}
	if err := s.check(ctx, account); err != nil {
		return nil, core.Scoped(scope, err)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		order, err := q.NextAccountOrder(ctx, userID)
		if err != nil {
			return err
		}
		account.Order = order
		_, err = q.CreateAccount(ctx, account)
		if errors.Is(err, storage.ErrDuplicate) {
			return core.Invalid("name", core.ReasonExist)
		}
		return err
	})
	if err != nil {
		return nil, core.Scoped(scope, wrapStorage("create account", err))
	}
	return s.List(ctx, userID)
}

// Update applies a partial update. Changing the start balance marks the
// balance pending and notifies the worker.
func (s *AccountService) Update(ctx context.Context, userID string, in AccountUpdate) ([]core.Account, error) {
	const scope = "account.update"

	if err := checkID(core.FieldID, in.ID); err != nil {
		return nil, core.Scoped(scope, err)
	}

	account, err := s.repo.GetAccount(ctx, userID, in.ID)
	if err != nil {
		return nil, core.Scoped(scope, wrapStorage("load account", notFound(err, core.FieldID)))
	}

	balanceChanged := false
	if in.StartBalance != nil {
		cents, err := parseBalance(*in.StartBalance)
		if err != nil {
			return nil, core.Scoped(scope, err)
		}
		balanceChanged = cents != account.StartBalance.Cents
		account.StartBalance.Cents = cents
	}
	if in.Name != nil {
		account.Name = strings.TrimSpace(*in.Name)
	}
	if in.Currency != nil {
		account.Currency = strings.ToUpper(strings.TrimSpace(*in.Currency))
	}
	if in.Status != nil {
		account.Status = *in.Status
		if account.Status == "" {
			return nil, core.Scoped(scope, core.Invalid("status", core.ReasonInvalid))
		}
	}
	if in.Order != nil {
		if *in.Order < 0 {
			return nil, core.Scoped(scope, core.Invalid("order", core.ReasonInvalid))
		}
		account.Order = *in.Order
	}

	if err := s.check(ctx, account); err != nil {
		return nil, core.Scoped(scope, err)
	}

	account.BalancePending = balanceChanged
	if err := s.repo.UpdateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, core.Scoped(scope, core.Invalid("name", core.ReasonExist))
		}
		return nil, core.Scoped(scope, wrapStorage("update account", notFound(err, core.FieldID)))
	}

	if balanceChanged {
		s.events.publish(ctx, amqp.NewLedgerEvent(amqp.EventAccountUpdated, userID, "", account.ID))
	}
	return s.List(ctx, userID)
}

// Remove deletes an account that no operation references.
func (s *AccountService) Remove(ctx context.Context, userID, id string) ([]core.Account, error) {
	const scope = "account.remove"

	if err := checkID(core.FieldID, id); err != nil {
		return nil, core.Scoped(scope, err)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if _, err := q.GetAccount(ctx, userID, id); err != nil {
			return notFound(err, core.FieldID)
		}
		n, err := q.CountAccountOperations(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return core.Invalid(core.FieldID, core.ReasonInUse)
		}
		return notFound(q.DeleteAccount(ctx, userID, id), core.FieldID)
	})
	if err != nil {
		return nil, core.Scoped(scope, wrapStorage("remove account", err))
	}
	return s.List(ctx, userID)
}

// check validates the account shape, the currency and the name uniqueness.
func (s *AccountService) check(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	ok, err := s.currencies.Exists(ctx, a.Currency)
	if err != nil {
		return err
	}
	if !ok {
		return core.Invalid("currency", core.ReasonInvalid)
	}
	taken, err := s.repo.AccountNameTaken(ctx, a.User, a.Name, a.ID)
	if err != nil {
		return wrapStorage("check account name", err)
	}
	if taken {
		return core.Invalid("name", core.ReasonExist)
	}
	return nil
}

func parseBalance(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	cents, err := core.ParseSignedDecimalToCents(s)
	if err != nil {
		return 0, core.Invalid("startBalance", core.ReasonInvalid)
	}
	return cents, nil
}

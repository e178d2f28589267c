package services

import (
	"context"
	"strings"

	"moneybook/internal/amqp"
	"moneybook/internal/core"
	"moneybook/internal/log"
	"moneybook/internal/storage"
)

const (
	DefaultOperationLimit = 50
	MaxOperationLimit     = 500
)

// OperationQuery filters the operation list. Zero values mean no filter.
type OperationQuery struct {
	Account string
	From    core.Date
	To      core.Date
	Limit   int
	Skip    int
}

// OperationPage is one page of operations plus the total match count.
type OperationPage struct {
	Operations []core.Operation `json:"operations"`
	Total      int              `json:"total"`
	Limit      int              `json:"limit"`
	Skip       int              `json:"skip"`
}

// OperationInput is the body of an add request. Amount is decimal text.
type OperationInput struct {
	Account  string
	Category string
	Type     core.OperationType
	Amount   string
	Date     core.Date
	Comment  string
}

// OperationUpdate carries a partial update. Nil fields keep their value.
type OperationUpdate struct {
	ID       string
	Account  *string
	Category *string
	Type     *core.OperationType
	Amount   *string
	Date     *core.Date
	Comment  *string
}

// OperationService records income and expense operations. Every change
// marks the touched accounts balance-pending inside the same transaction.
type OperationService struct {
	repo       *storage.SQLiteRepository
	categories *CategoryService
	events     *eventPublisher
	logger     *log.StructuredLogger
}

func NewOperationService(repo *storage.SQLiteRepository, categories *CategoryService, events *eventPublisher, logger *log.Logger) *OperationService {
	return &OperationService{
		repo:       repo,
		categories: categories,
		events:     events,
		logger:     log.NewStructuredLogger(logger.WithComponent(log.ComponentLedger)),
	}
}

// List returns operations newest first.
func (s *OperationService) List(ctx context.Context, userID string, query OperationQuery) (OperationPage, error) {
	const scope = "operation.list"

	if query.Account != "" {
		if err := checkID("account", query.Account); err != nil {
			return OperationPage{}, core.Scoped(scope, err)
		}
	}
	if !query.From.IsZero() && !query.To.IsZero() && query.From.After(query.To.Time) {
		return OperationPage{}, core.Scoped(scope, core.Invalid("from", core.ReasonInvalid))
	}
	if query.Skip < 0 {
		return OperationPage{}, core.Scoped(scope, core.Invalid("skip", core.ReasonInvalid))
	}
	switch {
	case query.Limit < 0:
		return OperationPage{}, core.Scoped(scope, core.Invalid("limit", core.ReasonInvalid))
	case query.Limit == 0:
		query.Limit = DefaultOperationLimit
	case query.Limit > MaxOperationLimit:
		query.Limit = MaxOperationLimit
	}

	filter := storage.OperationFilter{
		UserID:  userID,
		Account: query.Account,
		From:    query.From,
		To:      query.To,
		Limit:   query.Limit,
		Skip:    query.Skip,
	}
	ops, err := s.repo.ListOperations(ctx, filter)
	if err != nil {
		return OperationPage{}, wrapStorage("list operations", err)
	}
	total, err := s.repo.CountOperations(ctx, filter)
	if err != nil {
		return OperationPage{}, wrapStorage("count operations", err)
	}
	if ops == nil {
		ops = []core.Operation{}
	}
	return OperationPage{Operations: ops, Total: total, Limit: query.Limit, Skip: query.Skip}, nil
}

// Get returns one operation of the user.
func (s *OperationService) Get(ctx context.Context, userID, id string) (core.Operation, error) {
	if err := checkID(core.FieldID, id); err != nil {
		return core.Operation{}, core.Scoped("operation.get", err)
	}
	op, err := s.repo.GetOperation(ctx, userID, id)
	if err != nil {
		return core.Operation{}, core.Scoped("operation.get", wrapStorage("load operation", notFound(err, core.FieldID)))
	}
	return op, nil
}

// Add records a new operation.
func (s *OperationService) Add(ctx context.Context, userID string, in OperationInput) (core.Operation, error) {
	const scope = "operation.add"

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return core.Operation{}, core.Scoped(scope, err)
	}
	op := core.Operation{
		User:     userID,
		Account:  strings.TrimSpace(in.Account),
		Category: strings.TrimSpace(in.Category),
		Type:     in.Type,
		Amount:   core.Money{Cents: amount},
		Date:     in.Date,
		Comment:  strings.TrimSpace(in.Comment),
	}
	if err := s.check(ctx, op); err != nil {
		return core.Operation{}, core.Scoped(scope, err)
	}

	var created core.Operation
	err = s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		var err error
		if created, err = q.CreateOperation(ctx, op); err != nil {
			return err
		}
		return q.MarkBalancePending(ctx, op.Account)
	})
	if err != nil {
		return core.Operation{}, wrapStorage("create operation", err)
	}

	s.logger.LogLedgerChange(ctx, log.OpCreate, userID, created.ID, created.Account, created.Category, string(created.Type), created.Amount.Cents)
	s.events.publish(ctx, amqp.NewLedgerEvent(amqp.EventOperationCreated, userID, created.ID, created.Account))
	return created, nil
}

// Update changes an operation. When the account changes both the old and
// the new account are marked pending.
func (s *OperationService) Update(ctx context.Context, userID string, in OperationUpdate) (core.Operation, error) {
	const scope = "operation.update"

	if err := checkID(core.FieldID, in.ID); err != nil {
		return core.Operation{}, core.Scoped(scope, err)
	}
	current, err := s.repo.GetOperation(ctx, userID, in.ID)
	if err != nil {
		return core.Operation{}, core.Scoped(scope, wrapStorage("load operation", notFound(err, core.FieldID)))
	}

	op := current
	if in.Account != nil {
		op.Account = strings.TrimSpace(*in.Account)
	}
	if in.Category != nil {
		op.Category = strings.TrimSpace(*in.Category)
	}
	if in.Type != nil {
		op.Type = *in.Type
	}
	if in.Amount != nil {
		cents, err := parseAmount(*in.Amount)
		if err != nil {
			return core.Operation{}, core.Scoped(scope, err)
		}
		op.Amount = core.Money{Cents: cents}
	}
	if in.Date != nil {
		op.Date = *in.Date
	}
	if in.Comment != nil {
		op.Comment = strings.TrimSpace(*in.Comment)
	}
	if err := s.check(ctx, op); err != nil {
		return core.Operation{}, core.Scoped(scope, err)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		if err := q.UpdateOperation(ctx, op); err != nil {
			return notFound(err, core.FieldID)
		}
		return q.MarkBalancePending(ctx, current.Account, op.Account)
	})
	if err != nil {
		return core.Operation{}, core.Scoped(scope, wrapStorage("update operation", err))
	}

	updated, err := s.repo.GetOperation(ctx, userID, op.ID)
	if err != nil {
		return core.Operation{}, wrapStorage("reload operation", err)
	}

	s.logger.LogLedgerChange(ctx, log.OpUpdate, userID, updated.ID, updated.Account, updated.Category, string(updated.Type), updated.Amount.Cents)
	s.events.publish(ctx, amqp.NewLedgerEvent(amqp.EventOperationUpdated, userID, updated.ID, current.Account, updated.Account))
	return updated, nil
}

// Remove deletes an operation.
func (s *OperationService) Remove(ctx context.Context, userID, id string) error {
	const scope = "operation.remove"

	if err := checkID(core.FieldID, id); err != nil {
		return core.Scoped(scope, err)
	}

	var removed core.Operation
	err := s.repo.WithTx(ctx, func(ctx context.Context, q *storage.Queries) error {
		var err error
		if removed, err = q.GetOperation(ctx, userID, id); err != nil {
			return notFound(err, core.FieldID)
		}
		if err := q.DeleteOperation(ctx, userID, id); err != nil {
			return notFound(err, core.FieldID)
		}
		return q.MarkBalancePending(ctx, removed.Account)
	})
	if err != nil {
		return core.Scoped(scope, wrapStorage("remove operation", err))
	}

	s.logger.LogLedgerChange(ctx, log.OpDelete, userID, removed.ID, removed.Account, removed.Category, string(removed.Type), removed.Amount.Cents)
	s.events.publish(ctx, amqp.NewLedgerEvent(amqp.EventOperationRemoved, userID, removed.ID, removed.Account))
	return nil
}

// Summary totals income and expense per category for a date range.
func (s *OperationService) Summary(ctx context.Context, userID string, from, to core.Date) (core.PeriodSummary, error) {
	const scope = "operation.summary"

	if !from.IsZero() && !to.IsZero() && from.After(to.Time) {
		return core.PeriodSummary{}, core.Scoped(scope, core.Invalid("from", core.ReasonInvalid))
	}

	rows, err := s.repo.SumByCategory(ctx, storage.OperationFilter{UserID: userID, From: from, To: to})
	if err != nil {
		return core.PeriodSummary{}, wrapStorage("sum operations", err)
	}

	summary := core.PeriodSummary{From: from, To: to, ByCategory: rows}
	if summary.ByCategory == nil {
		summary.ByCategory = []core.CategoryAmount{}
	}
	for _, r := range rows {
		switch r.Type {
		case core.OperationIncome:
			summary.Income.Cents += r.Amount.Cents
		case core.OperationExpense:
			summary.Expense.Cents += r.Amount.Cents
		}
	}
	return summary, nil
}

// check validates the operation and the entities it references.
func (s *OperationService) check(ctx context.Context, op core.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if err := checkID("account", op.Account); err != nil {
		return err
	}
	if err := checkID("category", op.Category); err != nil {
		return err
	}

	if _, err := s.repo.GetAccount(ctx, op.User, op.Account); err != nil {
		return wrapStorage("load account", notFound(err, "account"))
	}

	idx, err := s.categories.Index(ctx, op.User)
	if err != nil {
		return err
	}
	category, ok := idx.Get(op.Category)
	if !ok {
		return core.NotFound("category")
	}
	if !category.Type.Accepts(op.Type) {
		return core.Invalid("category", core.ReasonType)
	}
	return nil
}

func parseAmount(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, core.Invalid("amount", core.ReasonRequired)
	}
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return 0, core.Invalid("amount", core.ReasonInvalid)
	}
	return cents, nil
}

package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneybook/internal/amqp"
	"moneybook/internal/core"
)

type ledgerFixture struct {
	env      *testEnv
	userID   string
	cash     core.Account
	card     core.Account
	food     core.Category
	salary   core.Category
	fallback core.Category
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.register(t, "ledger@example.com")

	accounts, err := env.svc.Accounts.List(ctx, userID)
	require.NoError(t, err)

	_, err = env.svc.Categories.Add(ctx, userID, CategoryInput{Name: "Food", Type: core.CategoryExpense})
	require.NoError(t, err)
	list, err := env.svc.Categories.Add(ctx, userID, CategoryInput{Name: "Salary", Type: core.CategoryIncome})
	require.NoError(t, err)

	return &ledgerFixture{
		env:      env,
		userID:   userID,
		cash:     accountOfType(t, accounts, core.AccountStandard),
		card:     accountOfType(t, accounts, core.AccountDebt),
		food:     findCategory(t, list, "Food"),
		salary:   findCategory(t, list, "Salary"),
		fallback: findCategory(t, list, core.DefaultCategoryName),
	}
}

func TestOperationAdd(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	op, err := f.env.svc.Operations.Add(ctx, f.userID, OperationInput{
		Account:  f.cash.ID,
		Category: f.food.ID,
		Type:     core.OperationExpense,
		Amount:   "12,345",
		Date:     core.NewDate(2024, 4, 10),
		Comment:  "  lunch ",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, int64(1235), op.Amount.Cents)
	assert.Equal(t, "lunch", op.Comment)

	acc, err := f.env.repo.GetAccount(ctx, f.userID, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, acc.BalancePending)

	ev := f.env.publisher.last()
	require.NotNil(t, ev)
	assert.Equal(t, amqp.EventOperationCreated, ev.Type)
	assert.Equal(t, op.ID, ev.OperationID)
	assert.Equal(t, []string{f.cash.ID}, ev.AccountIDs)
}

func TestOperationAddValidation(t *testing.T) {
	f := newLedgerFixture(t)
	date := core.NewDate(2024, 4, 10)
	long := make([]rune, core.MaxCommentLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name string
		in   OperationInput
		code string
	}{
		{"no amount", OperationInput{Account: f.cash.ID, Category: f.food.ID, Type: core.OperationExpense, Date: date}, "operation.add.error.amount.required"},
		{"bad amount", OperationInput{Account: f.cash.ID, Category: f.food.ID, Type: core.OperationExpense, Amount: "-5", Date: date}, "operation.add.error.amount.invalid"},
		{"no account", OperationInput{Category: f.food.ID, Type: core.OperationExpense, Amount: "5", Date: date}, "operation.add.error.account.required"},
		{"bad account", OperationInput{Account: "x", Category: f.food.ID, Type: core.OperationExpense, Amount: "5", Date: date}, "operation.add.error.account.invalid"},
		{"unknown account", OperationInput{Account: "4b4c5d5e-1f2a-4b3c-9d8e-7f6a5b4c3d2e", Category: f.food.ID, Type: core.OperationExpense, Amount: "5", Date: date}, "operation.add.error.account.notFound"},
		{"unknown category", OperationInput{Account: f.cash.ID, Category: "4b4c5d5e-1f2a-4b3c-9d8e-7f6a5b4c3d2e", Type: core.OperationExpense, Amount: "5", Date: date}, "operation.add.error.category.notFound"},
		{"wrong category type", OperationInput{Account: f.cash.ID, Category: f.salary.ID, Type: core.OperationExpense, Amount: "5", Date: date}, "operation.add.error.category.type"},
		{"bad type", OperationInput{Account: f.cash.ID, Category: f.food.ID, Type: "transfer", Amount: "5", Date: date}, "operation.add.error.type.invalid"},
		{"no date", OperationInput{Account: f.cash.ID, Category: f.food.ID, Type: core.OperationExpense, Amount: "5"}, "operation.add.error.date.required"},
		{"long comment", OperationInput{Account: f.cash.ID, Category: f.food.ID, Type: core.OperationExpense, Amount: "5", Date: date, Comment: string(long)}, "operation.add.error.comment.long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.env.svc.Operations.Add(context.Background(), f.userID, tt.in)
			requireCode(t, err, tt.code)
		})
	}
}

func TestOperationUpdateMovesAccount(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	op, err := f.env.svc.Operations.Add(ctx, f.userID, OperationInput{
		Account: f.cash.ID, Category: f.food.ID, Type: core.OperationExpense, Amount: "10", Date: core.NewDate(2024, 1, 1),
	})
	require.NoError(t, err)

	_, err = f.env.repo.RecomputeBalance(ctx, f.cash.ID)
	require.NoError(t, err)

	updated, err := f.env.svc.Operations.Update(ctx, f.userID, OperationUpdate{
		ID:      op.ID,
		Account: ptr(f.card.ID),
		Amount:  ptr("20"),
	})
	require.NoError(t, err)
	assert.Equal(t, f.card.ID, updated.Account)
	assert.Equal(t, int64(2000), updated.Amount.Cents)
	assert.Equal(t, op.Category, updated.Category)
	assert.Equal(t, op.Date.String(), updated.Date.String())

	for _, id := range []string{f.cash.ID, f.card.ID} {
		acc, err := f.env.repo.GetAccount(ctx, f.userID, id)
		require.NoError(t, err)
		assert.True(t, acc.BalancePending, "account %s", acc.Name)
	}

	ev := f.env.publisher.last()
	require.NotNil(t, ev)
	assert.Equal(t, amqp.EventOperationUpdated, ev.Type)
	assert.ElementsMatch(t, []string{f.cash.ID, f.card.ID}, ev.AccountIDs)

	_, err = f.env.svc.Operations.Update(ctx, f.userID, OperationUpdate{ID: op.ID, Type: ptr(core.OperationIncome)})
	requireCode(t, err, "operation.update.error.category.type")

	_, err = f.env.svc.Operations.Update(ctx, f.userID, OperationUpdate{ID: "4b4c5d5e-1f2a-4b3c-9d8e-7f6a5b4c3d2e"})
	requireCode(t, err, "operation.update.error._id.notFound")
}

func TestOperationRemove(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	op, err := f.env.svc.Operations.Add(ctx, f.userID, OperationInput{
		Account: f.cash.ID, Category: f.salary.ID, Type: core.OperationIncome, Amount: "100", Date: core.NewDate(2024, 1, 1),
	})
	require.NoError(t, err)

	require.NoError(t, f.env.svc.Operations.Remove(ctx, f.userID, op.ID))

	ev := f.env.publisher.last()
	require.NotNil(t, ev)
	assert.Equal(t, amqp.EventOperationRemoved, ev.Type)

	err = f.env.svc.Operations.Remove(ctx, f.userID, op.ID)
	requireCode(t, err, "operation.remove.error._id.notFound")
}

func TestOperationListPaging(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	for day := 1; day <= 5; day++ {
		_, err := f.env.svc.Operations.Add(ctx, f.userID, OperationInput{
			Account:  f.cash.ID,
			Category: f.food.ID,
			Type:     core.OperationExpense,
			Amount:   fmt.Sprintf("%d", day),
			Date:     core.NewDate(2024, 6, day),
		})
		require.NoError(t, err)
	}
	_, err := f.env.svc.Operations.Add(ctx, f.userID, OperationInput{
		Account: f.card.ID, Category: f.fallback.ID, Type: core.OperationIncome, Amount: "50", Date: core.NewDate(2024, 7, 1),
	})
	require.NoError(t, err)

	page, err := f.env.svc.Operations.List(ctx, f.userID, OperationQuery{})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, DefaultOperationLimit, page.Limit)
	require.Len(t, page.Operations, 6)
	assert.Equal(t, "2024-07-01", page.Operations[0].Date.String())

	page, err = f.env.svc.Operations.List(ctx, f.userID, OperationQuery{Account: f.cash.ID, Limit: 2, Skip: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Operations, 2)
	assert.Equal(t, "2024-06-04", page.Operations[0].Date.String())

	page, err = f.env.svc.Operations.List(ctx, f.userID, OperationQuery{From: core.NewDate(2024, 6, 2), To: core.NewDate(2024, 6, 3)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = f.env.svc.Operations.List(ctx, f.userID, OperationQuery{Limit: 10000})
	require.NoError(t, err)
	assert.Equal(t, MaxOperationLimit, page.Limit)

	_, err = f.env.svc.Operations.List(ctx, f.userID, OperationQuery{Skip: -1})
	requireCode(t, err, "operation.list.error.skip.invalid")

	_, err = f.env.svc.Operations.List(ctx, f.userID, OperationQuery{From: core.NewDate(2024, 6, 3), To: core.NewDate(2024, 6, 2)})
	requireCode(t, err, "operation.list.error.from.invalid")
}

func TestOperationSummary(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	inputs := []OperationInput{
		{Account: f.cash.ID, Category: f.food.ID, Type: core.OperationExpense, Amount: "10.50", Date: core.NewDate(2024, 3, 1)},
		{Account: f.cash.ID, Category: f.food.ID, Type: core.OperationExpense, Amount: "4.50", Date: core.NewDate(2024, 3, 2)},
		{Account: f.cash.ID, Category: f.salary.ID, Type: core.OperationIncome, Amount: "100", Date: core.NewDate(2024, 3, 3)},
		{Account: f.cash.ID, Category: f.salary.ID, Type: core.OperationIncome, Amount: "999", Date: core.NewDate(2024, 4, 1)},
	}
	for _, in := range inputs {
		_, err := f.env.svc.Operations.Add(ctx, f.userID, in)
		require.NoError(t, err)
	}

	s, err := f.env.svc.Operations.Summary(ctx, f.userID, core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), s.Income.Cents)
	assert.Equal(t, int64(1500), s.Expense.Cents)
	assert.Equal(t, int64(8500), s.Net().Cents)
	require.Len(t, s.ByCategory, 2)
	assert.Equal(t, "Salary", s.ByCategory[0].Name)
}

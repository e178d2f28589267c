package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneybook/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "moneybook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedUser(t *testing.T, repo *SQLiteRepository, email string) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), core.User{
		Email:    email,
		Password: []byte{0, 0, 0, 1, 0, 0, 0, 1, 9, 9},
		Settings: core.Settings{Locale: "en", BaseCurrency: "USD"},
	})
	require.NoError(t, err)
	return u
}

func TestMigrationsSeedCurrencies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	currencies, err := repo.ListCurrencies(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, currencies)

	ok, err := repo.CurrencyExists(ctx, "RUB")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CurrencyExists(ctx, "XXX")
	require.NoError(t, err)
	assert.False(t, ok)

	// Running migrations again is a no-op.
	path := filepath.Join(t.TempDir(), "again.db")
	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path))
}

func TestUserCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := seedUser(t, repo, "Alice@example.com")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, core.UserStatusInit, u.Status)

	got, err := repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Password, got.Password)

	_, err = repo.CreateUser(ctx, core.User{Email: "alice@example.com", Password: []byte{1}, Settings: core.Settings{BaseCurrency: "USD"}})
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, repo.UpdateUserStatus(ctx, u.ID, core.UserStatusReady))
	require.NoError(t, repo.UpdateUserPassword(ctx, u.ID, []byte{7, 7}))
	got, err = repo.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, core.UserStatusReady, got.Status)
	assert.Equal(t, []byte{7, 7}, got.Password)

	_, err = repo.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.UpdateUserStatus(ctx, "missing", core.UserStatusReady), ErrNotFound)
}

func TestAccountBalanceRecompute(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "bob@example.com")

	acc, err := repo.CreateAccount(ctx, core.Account{
		User: u.ID, Name: "Wallet", Type: core.AccountStandard,
		StartBalance: core.Money{Cents: 1000}, Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acc.Balance.Cents)

	cat, err := repo.CreateCategory(ctx, core.Category{User: u.ID, Name: "Food", Type: core.CategoryAny})
	require.NoError(t, err)

	for _, op := range []core.Operation{
		{Type: core.OperationIncome, Amount: core.Money{Cents: 500}},
		{Type: core.OperationExpense, Amount: core.Money{Cents: 200}},
	} {
		op.User, op.Account, op.Category, op.Date = u.ID, acc.ID, cat.ID, core.NewDate(2025, 3, 1)
		_, err := repo.CreateOperation(ctx, op)
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkBalancePending(ctx, acc.ID))

	pending, err := repo.ListPendingAccounts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	balance, err := repo.RecomputeBalance(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), balance)

	got, err := repo.GetAccount(ctx, u.ID, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1300), got.Balance.Cents)
	assert.False(t, got.BalancePending)

	n, err := repo.CountAccountOperations(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecomputeBalanceAcrossConnections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	api, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = api.Close() })
	worker, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = worker.Close() })

	u := seedUser(t, api, "dave@example.com")
	acc, err := api.CreateAccount(ctx, core.Account{
		User: u.ID, Name: "Wallet", Type: core.AccountStandard,
		StartBalance: core.Money{Cents: 100}, Currency: "USD",
	})
	require.NoError(t, err)
	cat, err := api.CreateCategory(ctx, core.Category{User: u.ID, Name: "Salary", Type: core.CategoryIncome})
	require.NoError(t, err)

	// Each write marks the account pending in its own transaction; every
	// recompute from the other connection must see it.
	for i, cents := range []int64{50, 25, 5} {
		err := api.WithTx(ctx, func(ctx context.Context, q *Queries) error {
			_, err := q.CreateOperation(ctx, core.Operation{
				User: u.ID, Account: acc.ID, Category: cat.ID,
				Type: core.OperationIncome, Amount: core.Money{Cents: cents},
				Date: core.NewDate(2025, 3, i+1),
			})
			if err != nil {
				return err
			}
			return q.MarkBalancePending(ctx, acc.ID)
		})
		require.NoError(t, err)

		balance, err := worker.RecomputeBalance(ctx, acc.ID)
		require.NoError(t, err)

		got, err := api.GetAccount(ctx, u.ID, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, balance, got.Balance.Cents)
		assert.False(t, got.BalancePending)
	}

	got, err := worker.GetAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(180), got.Balance.Cents)

	_, err = worker.RecomputeBalance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountNameTaken(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "carol@example.com")

	acc, err := repo.CreateAccount(ctx, core.Account{User: u.ID, Name: "Cash", Type: core.AccountStandard, Currency: "USD"})
	require.NoError(t, err)

	taken, err := repo.AccountNameTaken(ctx, u.ID, "Cash", "")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = repo.AccountNameTaken(ctx, u.ID, "Cash", acc.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	order, err := repo.NextAccountOrder(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, order)
}

func TestListOperationsFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "dave@example.com")

	acc, err := repo.CreateAccount(ctx, core.Account{User: u.ID, Name: "Card", Type: core.AccountStandard, Currency: "USD"})
	require.NoError(t, err)
	cat, err := repo.CreateCategory(ctx, core.Category{User: u.ID, Name: "Misc", Type: core.CategoryAny})
	require.NoError(t, err)

	for day := 1; day <= 5; day++ {
		_, err := repo.CreateOperation(ctx, core.Operation{
			User: u.ID, Account: acc.ID, Category: cat.ID, Type: core.OperationExpense,
			Amount: core.Money{Cents: int64(day * 100)}, Date: core.NewDate(2025, 1, day),
		})
		require.NoError(t, err)
	}

	f := OperationFilter{UserID: u.ID, From: core.NewDate(2025, 1, 2), To: core.NewDate(2025, 1, 4), Limit: 10}
	ops, err := repo.ListOperations(ctx, f)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "2025-01-04", ops[0].Date.String(), "newest first")

	total, err := repo.CountOperations(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	f.Skip, f.Limit = 2, 2
	ops, err = repo.ListOperations(ctx, f)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "2025-01-02", ops[0].Date.String())

	sums, err := repo.SumByCategory(ctx, OperationFilter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, int64(1500), sums[0].Amount.Cents)
	assert.Equal(t, "Misc", sums[0].Name)
}

func TestWithTxRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(ctx context.Context, q *Queries) error {
		if _, err := q.CreateUser(ctx, core.User{Email: "eve@example.com", Password: []byte{1}, Settings: core.Settings{BaseCurrency: "USD"}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetUserByEmail(ctx, "eve@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCategoryReparentAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "frank@example.com")

	root, err := repo.CreateCategory(ctx, core.Category{User: u.ID, Name: "Home", Type: core.CategoryExpense})
	require.NoError(t, err)
	mid, err := repo.CreateCategory(ctx, core.Category{User: u.ID, Name: "Bills", Type: core.CategoryExpense, Parent: root.ID})
	require.NoError(t, err)
	leaf, err := repo.CreateCategory(ctx, core.Category{User: u.ID, Name: "Power", Type: core.CategoryExpense, Parent: mid.ID})
	require.NoError(t, err)

	require.NoError(t, repo.ReparentCategories(ctx, u.ID, mid.ID, root.ID))
	require.NoError(t, repo.DeleteCategory(ctx, u.ID, mid.ID))

	got, err := repo.GetCategory(ctx, u.ID, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.Parent)

	require.NoError(t, repo.DeleteUserCategories(ctx, u.ID))
	cats, err := repo.ListCategories(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, cats)
}

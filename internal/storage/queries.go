package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"moneybook/internal/core"
	"moneybook/internal/dbx"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Queries runs the ledger statements against a *sql.DB or a *sql.Tx.
type Queries struct {
	db dbx.DBTX
}

func New(db dbx.DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx dbx.DBTX) *Queries {
	return &Queries{db: tx}
}

func newID() string {
	return uuid.NewString()
}

func now() time.Time {
	return time.Now().UTC()
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Currencies

func (q *Queries) ListCurrencies(ctx context.Context) ([]core.Currency, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT code, name, symbol FROM currencies ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Currency
	for rows.Next() {
		var c core.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.Symbol); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) CurrencyExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM currencies WHERE code = ?`, code).Scan(&n)
	return n > 0, err
}

// Users

const userColumns = `id, email, password, status, locale, base_currency, created_at, updated_at`

func scanUser(s rowScanner) (core.User, error) {
	var u core.User
	var status string
	err := s.Scan(&u.ID, &u.Email, &u.Password, &status, &u.Settings.Locale, &u.Settings.BaseCurrency, &u.Created, &u.Updated)
	u.Status = core.UserStatus(status)
	return u, mapErr(err)
}

func (q *Queries) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.Status == "" {
		u.Status = core.UserStatusInit
	}
	u.Created, u.Updated = now(), now()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Password, string(u.Status), u.Settings.Locale, u.Settings.BaseCurrency, u.Created, u.Updated)
	if err != nil {
		return core.User{}, mapErr(err)
	}
	return u, nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (core.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (core.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id string, blob []byte) error {
	return q.execOne(ctx, `UPDATE users SET password = ?, updated_at = ? WHERE id = ?`, blob, now(), id)
}

func (q *Queries) UpdateUserStatus(ctx context.Context, id string, status core.UserStatus) error {
	return q.execOne(ctx, `UPDATE users SET status = ?, updated_at = ? WHERE id = ?`, string(status), now(), id)
}

func (q *Queries) DeleteUser(ctx context.Context, id string) error {
	return q.execOne(ctx, `DELETE FROM users WHERE id = ?`, id)
}

// Accounts

const accountColumns = `id, user_id, name, type, start_balance_cents, balance_cents, balance_pending, currency, status, sort_order, created_at, updated_at`

func scanAccount(s rowScanner) (core.Account, error) {
	var a core.Account
	var typ, status string
	err := s.Scan(&a.ID, &a.User, &a.Name, &typ, &a.StartBalance.Cents, &a.Balance.Cents,
		&a.BalancePending, &a.Currency, &status, &a.Order, &a.Created, &a.Updated)
	a.Type = core.AccountType(typ)
	a.Status = core.AccountStatus(status)
	return a, mapErr(err)
}

func (q *Queries) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.Status == "" {
		a.Status = core.AccountActive
	}
	// A fresh account has no operations yet.
	a.Balance = a.StartBalance
	a.BalancePending = false
	a.Created, a.Updated = now(), now()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.User, a.Name, string(a.Type), a.StartBalance.Cents, a.Balance.Cents,
		boolToInt(a.BalancePending), a.Currency, string(a.Status), a.Order, a.Created, a.Updated)
	if err != nil {
		return core.Account{}, mapErr(err)
	}
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, userID, id string) (core.Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? AND id = ?`, userID, id))
}

func (q *Queries) GetAccountByID(ctx context.Context, id string) (core.Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

func (q *Queries) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	return q.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY sort_order, created_at`, userID)
}

// ListPendingAccounts returns accounts whose materialised balance is stale.
func (q *Queries) ListPendingAccounts(ctx context.Context, limit int) ([]core.Account, error) {
	return q.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE balance_pending = 1 ORDER BY updated_at LIMIT ?`, limit)
}

func (q *Queries) queryAccounts(ctx context.Context, query string, args ...any) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateAccount(ctx context.Context, a core.Account) error {
	return q.execOne(ctx,
		`UPDATE accounts SET name = ?, start_balance_cents = ?, currency = ?, status = ?, sort_order = ?,
		        balance_pending = balance_pending OR ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		a.Name, a.StartBalance.Cents, a.Currency, string(a.Status), a.Order,
		boolToInt(a.BalancePending), now(), a.User, a.ID)
}

func (q *Queries) DeleteAccount(ctx context.Context, userID, id string) error {
	return q.execOne(ctx, `DELETE FROM accounts WHERE user_id = ? AND id = ?`, userID, id)
}

func (q *Queries) DeleteUserAccounts(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = ?`, userID)
	return err
}

// AccountNameTaken reports whether another account of the user already
// uses name. excludeID skips the account being renamed.
func (q *Queries) AccountNameTaken(ctx context.Context, userID, name, excludeID string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE user_id = ? AND name = ? AND id != ?`,
		userID, name, excludeID).Scan(&n)
	return n > 0, err
}

func (q *Queries) NextAccountOrder(ctx context.Context, userID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM accounts WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// MarkBalancePending flags accounts for recomputation.
func (q *Queries) MarkBalancePending(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := q.db.ExecContext(ctx,
			`UPDATE accounts SET balance_pending = 1, updated_at = ? WHERE id = ?`, now(), id); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeBalance sets balance = start balance + signed operation sum and
// clears the pending flag. It returns the new balance. The sum and the write
// are one statement, so an operation committed by another connection is
// either counted or leaves the flag set.
func (q *Queries) RecomputeBalance(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := q.db.QueryRowContext(ctx, `
		UPDATE accounts SET
			balance_cents = start_balance_cents + COALESCE((
				SELECT SUM(CASE o.type WHEN 'income' THEN o.amount_cents ELSE -o.amount_cents END)
				FROM operations o WHERE o.account_id = accounts.id
			), 0),
			balance_pending = 0
		WHERE id = ?
		RETURNING balance_cents`, id).Scan(&balance)
	if err != nil {
		return 0, mapErr(err)
	}
	return balance, nil
}

func (q *Queries) CountAccountOperations(ctx context.Context, accountID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE account_id = ?`, accountID).Scan(&n)
	return n, err
}

// Categories

const categoryColumns = `id, user_id, name, type, COALESCE(parent_id, ''), system, created_at, updated_at`

func scanCategory(s rowScanner) (core.Category, error) {
	var c core.Category
	var typ string
	err := s.Scan(&c.ID, &c.User, &c.Name, &typ, &c.Parent, &c.System, &c.Created, &c.Updated)
	c.Type = core.CategoryType(typ)
	return c, mapErr(err)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (q *Queries) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	c.Created, c.Updated = now(), now()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, type, parent_id, system, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.User, c.Name, string(c.Type), nullable(c.Parent), boolToInt(c.System), c.Created, c.Updated)
	if err != nil {
		return core.Category{}, mapErr(err)
	}
	return c, nil
}

func (q *Queries) GetCategory(ctx context.Context, userID, id string) (core.Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? AND id = ?`, userID, id))
}

// GetSystemCategory returns the user's fallback category.
func (q *Queries) GetSystemCategory(ctx context.Context, userID string) (core.Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? AND system = 1 ORDER BY created_at LIMIT 1`, userID))
}

func (q *Queries) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateCategory(ctx context.Context, c core.Category) error {
	return q.execOne(ctx,
		`UPDATE categories SET name = ?, type = ?, parent_id = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		c.Name, string(c.Type), nullable(c.Parent), now(), c.User, c.ID)
}

// ReparentCategories moves the children of from under to ("" for root).
func (q *Queries) ReparentCategories(ctx context.Context, userID, from, to string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE categories SET parent_id = ?, updated_at = ? WHERE user_id = ? AND parent_id = ?`,
		nullable(to), now(), userID, from)
	return err
}

func (q *Queries) DeleteCategory(ctx context.Context, userID, id string) error {
	return q.execOne(ctx, `DELETE FROM categories WHERE user_id = ? AND id = ?`, userID, id)
}

func (q *Queries) DeleteUserCategories(ctx context.Context, userID string) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE categories SET parent_id = NULL WHERE user_id = ?`, userID); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM categories WHERE user_id = ?`, userID)
	return err
}

// CountCategoryOperations counts operations of the given type filed under
// the category. An empty type counts all of them.
func (q *Queries) CountCategoryOperations(ctx context.Context, categoryID string, typ core.OperationType) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operations WHERE category_id = ? AND (? = '' OR type = ?)`,
		categoryID, string(typ), string(typ)).Scan(&n)
	return n, err
}

// Operations

const operationColumns = `id, user_id, account_id, category_id, type, amount_cents, date, comment, created_at, updated_at`

func scanOperation(s rowScanner) (core.Operation, error) {
	var o core.Operation
	var typ, date string
	err := s.Scan(&o.ID, &o.User, &o.Account, &o.Category, &typ, &o.Amount.Cents, &date, &o.Comment, &o.Created, &o.Updated)
	if err != nil {
		return core.Operation{}, mapErr(err)
	}
	o.Type = core.OperationType(typ)
	if o.Date, err = core.ParseDate(date); err != nil {
		return core.Operation{}, fmt.Errorf("parse operation date %q: %w", date, err)
	}
	return o, nil
}

func (q *Queries) CreateOperation(ctx context.Context, o core.Operation) (core.Operation, error) {
	if o.ID == "" {
		o.ID = newID()
	}
	o.Created, o.Updated = now(), now()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO operations (`+operationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.User, o.Account, o.Category, string(o.Type), o.Amount.Cents, o.Date.String(), o.Comment, o.Created, o.Updated)
	if err != nil {
		return core.Operation{}, mapErr(err)
	}
	return o, nil
}

func (q *Queries) GetOperation(ctx context.Context, userID, id string) (core.Operation, error) {
	return scanOperation(q.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE user_id = ? AND id = ?`, userID, id))
}

func (q *Queries) UpdateOperation(ctx context.Context, o core.Operation) error {
	return q.execOne(ctx,
		`UPDATE operations SET account_id = ?, category_id = ?, type = ?, amount_cents = ?, date = ?, comment = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		o.Account, o.Category, string(o.Type), o.Amount.Cents, o.Date.String(), o.Comment, now(), o.User, o.ID)
}

func (q *Queries) DeleteOperation(ctx context.Context, userID, id string) error {
	return q.execOne(ctx, `DELETE FROM operations WHERE user_id = ? AND id = ?`, userID, id)
}

func (q *Queries) DeleteUserOperations(ctx context.Context, userID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM operations WHERE user_id = ?`, userID)
	return err
}

// MoveOperationsCategory refiles operations from one category to another.
func (q *Queries) MoveOperationsCategory(ctx context.Context, userID, from, to string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE operations SET category_id = ?, updated_at = ? WHERE user_id = ? AND category_id = ?`,
		to, now(), userID, from)
	return err
}

// OperationFilter selects operations for listing. Zero values mean no
// restriction.
type OperationFilter struct {
	UserID  string
	Account string
	From    core.Date
	To      core.Date
	Limit   int
	Skip    int
}

func (f OperationFilter) where() (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.Account != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, f.Account)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, f.To.String())
	}
	return strings.Join(clauses, " AND "), args
}

func (q *Queries) ListOperations(ctx context.Context, f OperationFilter) ([]core.Operation, error) {
	where, args := f.where()
	args = append(args, f.Limit, f.Skip)
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE `+where+
			` ORDER BY date DESC, created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (q *Queries) CountOperations(ctx context.Context, f OperationFilter) (int, error) {
	where, args := f.where()
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE `+where, args...).Scan(&n)
	return n, err
}

// SumByCategory totals operations per category and type for the filter.
func (q *Queries) SumByCategory(ctx context.Context, f OperationFilter) ([]core.CategoryAmount, error) {
	where, args := f.where()
	rows, err := q.db.QueryContext(ctx, `
		SELECT o.category_id, COALESCE(c.name, ''), o.type, SUM(o.amount_cents)
		FROM (SELECT * FROM operations WHERE `+where+`) o
		LEFT JOIN categories c ON c.id = o.category_id
		GROUP BY o.category_id, o.type
		ORDER BY SUM(o.amount_cents) DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.CategoryAmount
	for rows.Next() {
		var ca core.CategoryAmount
		var typ string
		if err := rows.Scan(&ca.Category, &ca.Name, &typ, &ca.Amount.Cents); err != nil {
			return nil, err
		}
		ca.Type = core.OperationType(typ)
		out = append(out, ca)
	}
	return out, rows.Err()
}

func (q *Queries) execOne(ctx context.Context, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

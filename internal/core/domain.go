package core

import (
	"errors"
	"strings"
	"time"
)

const (
	MaxNameLength    = 100
	MaxCommentLength = 200
	DateLayout       = "2006-01-02"
)

type UserStatus string

const (
	UserStatusInit  UserStatus = "init"
	UserStatusReady UserStatus = "ready"
)

type AccountType string

const (
	AccountStandard AccountType = "standard"
	AccountDebt     AccountType = "debt"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountArchived AccountStatus = "archived"
)

type OperationType string

const (
	OperationExpense OperationType = "expense"
	OperationIncome  OperationType = "income"
)

type (
	Date struct {
		time.Time
	}

	Currency struct {
		Code   string `json:"code"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	}

	Settings struct {
		Locale       string `json:"locale"`
		BaseCurrency string `json:"baseCurrency"`
	}

	User struct {
		ID       string     `json:"_id"`
		Email    string     `json:"email"`
		Password []byte     `json:"-"`
		Status   UserStatus `json:"status"`
		Settings Settings   `json:"settings"`
		Created  time.Time  `json:"created"`
		Updated  time.Time  `json:"updated"`
	}

	Account struct {
		ID             string        `json:"_id"`
		User           string        `json:"-"`
		Name           string        `json:"name"`
		Type           AccountType   `json:"type"`
		StartBalance   Money         `json:"startBalance"`
		Balance        Money         `json:"balance"`
		BalancePending bool          `json:"balancePending"`
		Currency       string        `json:"currency"`
		Status         AccountStatus `json:"status"`
		Order          int           `json:"order"`
		Created        time.Time     `json:"created"`
		Updated        time.Time     `json:"updated"`
	}

	Operation struct {
		ID       string        `json:"_id"`
		User     string        `json:"-"`
		Account  string        `json:"account"`
		Category string        `json:"category"`
		Type     OperationType `json:"type"`
		Amount   Money         `json:"amount"`
		Date     Date          `json:"date"`
		Comment  string        `json:"comment"`
		Created  time.Time     `json:"created"`
		Updated  time.Time     `json:"updated"`
	}
)

// BaseCurrencyFor picks the default base currency for a locale.
func BaseCurrencyFor(locale string) string {
	if strings.EqualFold(strings.TrimSpace(locale), "ru") {
		return "RUB"
	}
	return "USD"
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	// Full timestamps are truncated to the day.
	if len(s) > len(DateLayout) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		*d = NewDate(t.Year(), int(t.Month()), t.Day())
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t AccountType) Valid() bool {
	return t == AccountStandard || t == AccountDebt
}

func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountArchived
}

func (t OperationType) Valid() bool {
	return t == OperationExpense || t == OperationIncome
}

func (s UserStatus) Valid() bool {
	return s == UserStatusInit || s == UserStatusReady
}

// Validate checks field shapes and the start balance sign rule:
// standard accounts may not start below zero, debt accounts may not start
// above zero.
func (a Account) Validate() error {
	if err := validateName(a.Name); err != nil {
		return err
	}
	if !a.Type.Valid() {
		return Invalid("type", ReasonInvalid)
	}
	if a.Status != "" && !a.Status.Valid() {
		return Invalid("status", ReasonInvalid)
	}
	if strings.TrimSpace(a.Currency) == "" {
		return Invalid("currency", ReasonRequired)
	}
	switch {
	case a.Type == AccountDebt && a.StartBalance.Cents > 0:
		return Invalid("startBalance", ReasonPositive)
	case a.Type == AccountStandard && a.StartBalance.Cents < 0:
		return Invalid("startBalance", ReasonNegative)
	}
	return nil
}

// Validate checks an operation without looking at referenced entities.
func (o Operation) Validate() error {
	if strings.TrimSpace(o.Account) == "" {
		return Invalid("account", ReasonRequired)
	}
	if strings.TrimSpace(o.Category) == "" {
		return Invalid("category", ReasonRequired)
	}
	if !o.Type.Valid() {
		return Invalid("type", ReasonInvalid)
	}
	if err := o.Amount.Validate(); err != nil {
		return Invalid("amount", ReasonInvalid)
	}
	if err := o.Date.Validate(); err != nil {
		return Invalid("date", ReasonRequired)
	}
	if len([]rune(o.Comment)) > MaxCommentLength {
		return Invalid("comment", ReasonLong)
	}
	return nil
}

// Signed returns the operation's contribution to its account balance.
func (o Operation) Signed() int64 {
	if o.Type == OperationIncome {
		return o.Amount.Cents
	}
	return -o.Amount.Cents
}

func validateName(name string) error {
	n := trimmedLen(name)
	if n == 0 {
		return Invalid("name", ReasonRequired)
	}
	if n > MaxNameLength {
		return Invalid("name", ReasonLong)
	}
	return nil
}

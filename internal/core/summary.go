package core

// CategoryAmount is an amount aggregated by category.
type CategoryAmount struct {
	Category string        `json:"category"`
	Name     string        `json:"name"`
	Type     OperationType `json:"type"`
	Amount   Money         `json:"amount"`
}

// PeriodSummary totals a user's operations over a date range.
type PeriodSummary struct {
	From       Date             `json:"from"`
	To         Date             `json:"to"`
	Income     Money            `json:"income"`
	Expense    Money            `json:"expense"`
	ByCategory []CategoryAmount `json:"byCategory"`
}

// Net is income minus expense.
func (s PeriodSummary) Net() Money {
	return Money{Cents: s.Income.Cents - s.Expense.Cents}
}

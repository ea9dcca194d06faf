package core

// CategoryAmount is the spend of one category within a period.
type CategoryAmount struct {
	Category Category
	Total    Money
	Count    int
}

// MonthTotal is the income and expense volume of one calendar month.
type MonthTotal struct {
	Month    string // YYYY-MM
	Income   Money
	Expenses Money
}

// SpendingStats summarises a user's expenses for the stats endpoint.
type SpendingStats struct {
	ThisMonth     Money
	LastMonth     Money
	MonthlyChange float64 // percent, 0 when last month had no spend
	ByCategory    []CategoryAmount
	Trend         []MonthTotal
}

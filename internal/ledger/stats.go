package ledger

import (
	"context"
	"fmt"
	"time"

	"smartpay/internal/core"
)

const trendMonths = 6

// Stats summarises expenses by transaction date: the current and previous
// calendar month in loc, the current month per category and a six month
// income/expense trend.
func (l *Ledger) Stats(ctx context.Context, userID string, loc *time.Location) (core.SpendingStats, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := l.now().In(loc)
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	lastMonth := thisMonth.AddDate(0, -1, 0)
	first := thisMonth.AddDate(0, -(trendMonths - 1), 0)

	txs, err := l.store.ListTransactions(ctx, userID, core.TransactionFilter{From: first})
	if err != nil {
		return core.SpendingStats{}, fmt.Errorf("list transactions for stats: %w", err)
	}

	var stats core.SpendingStats
	trend := make([]core.MonthTotal, trendMonths)
	for i := range trend {
		trend[i].Month = first.AddDate(0, i, 0).Format("2006-01")
	}
	byCategory := make(map[core.Category]*core.CategoryAmount)

	for _, t := range txs {
		d := t.Date.In(loc)
		idx := (d.Year()-first.Year())*12 + int(d.Month()) - int(first.Month())
		if idx >= 0 && idx < trendMonths {
			if t.Type == core.Income {
				trend[idx].Income = trend[idx].Income.Add(t.Amount)
			} else {
				trend[idx].Expenses = trend[idx].Expenses.Add(t.Amount)
			}
		}
		if t.Type != core.Expense {
			continue
		}
		switch {
		case !d.Before(thisMonth):
			stats.ThisMonth = stats.ThisMonth.Add(t.Amount)
			ca, ok := byCategory[t.Category]
			if !ok {
				ca = &core.CategoryAmount{Category: t.Category}
				byCategory[t.Category] = ca
			}
			ca.Total = ca.Total.Add(t.Amount)
			ca.Count++
		case !d.Before(lastMonth):
			stats.LastMonth = stats.LastMonth.Add(t.Amount)
		}
	}

	for _, c := range core.Categories {
		if ca, ok := byCategory[c]; ok {
			stats.ByCategory = append(stats.ByCategory, *ca)
		}
	}
	if stats.LastMonth.Cents > 0 {
		change := stats.ThisMonth.Decimal().Sub(stats.LastMonth.Decimal()).
			Div(stats.LastMonth.Decimal()).Shift(2).Round(1)
		stats.MonthlyChange = change.InexactFloat64()
	}
	stats.Trend = trend
	return stats, nil
}

// Package rules decides which alerts a newly created expense raises. The
// evaluator is pure apart from the windowed aggregate reads.
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"smartpay/internal/core"
)

const (
	DefaultVelocityWindow    = 30 * time.Minute
	DefaultVelocityThreshold = 5
)

// Candidate is an alert the evaluator wants raised.
type Candidate struct {
	Type     core.AlertType
	Severity core.Severity
	Message  string
	Metadata *core.AlertMetadata
}

type Config struct {
	// Location decides where local midnight falls for the calendar windows.
	Location          *time.Location
	WeekStart         time.Weekday
	VelocityWindow    time.Duration
	VelocityThreshold int
}

func DefaultConfig() Config {
	return Config{
		Location:          time.UTC,
		WeekStart:         time.Sunday,
		VelocityWindow:    DefaultVelocityWindow,
		VelocityThreshold: DefaultVelocityThreshold,
	}
}

type Evaluator struct {
	agg Aggregates
	cfg Config
}

func NewEvaluator(agg Aggregates, cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = def.VelocityWindow
	}
	if cfg.VelocityThreshold <= 0 {
		cfg.VelocityThreshold = def.VelocityThreshold
	}
	return &Evaluator{agg: agg, cfg: cfg}
}

// Windows are the calendar boundaries that contain now.
type Windows struct {
	Day   time.Time
	Week  time.Time
	Month time.Time
}

// CalendarWindows returns the start of the day, week and month containing now
// in loc. Days are stepped with AddDate so DST changes keep local midnight.
func CalendarWindows(now time.Time, loc *time.Location, weekStart time.Weekday) Windows {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	back := (int(local.Weekday()) - int(weekStart) + 7) % 7
	return Windows{
		Day:   day,
		Week:  day.AddDate(0, 0, -back),
		Month: time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc),
	}
}

// Evaluate runs the rules in fixed order: large transaction, daily, weekly
// and monthly limits, velocity. The trigger's CreatedAt is "now" so the
// outcome does not depend on when evaluation happens. Limits <= 0 are off.
func (e *Evaluator) Evaluate(ctx context.Context, s core.AlertSettings, t core.Transaction) ([]Candidate, error) {
	if t.Type != core.Expense {
		return nil, nil
	}

	now := t.CreatedAt
	w := CalendarWindows(now, e.cfg.Location, e.cfg.WeekStart)

	var daily, weekly, monthly core.Money
	var recent int

	g, gctx := errgroup.WithContext(ctx)
	sum := func(enabled bool, from time.Time, out *core.Money) {
		if !enabled {
			return
		}
		g.Go(func() error {
			v, err := e.agg.SumExpenses(gctx, t.UserID, from, now)
			if err != nil {
				return fmt.Errorf("sum expenses since %s: %w", from.Format(time.RFC3339), err)
			}
			*out = v
			return nil
		})
	}
	sum(enabled(s.DailyLimit), w.Day, &daily)
	sum(enabled(s.WeeklyLimit), w.Week, &weekly)
	sum(enabled(s.MonthlyLimit), w.Month, &monthly)
	g.Go(func() error {
		n, err := e.agg.CountExpenses(gctx, t.UserID, now.Add(-e.cfg.VelocityWindow), now)
		if err != nil {
			return fmt.Errorf("count recent expenses: %w", err)
		}
		recent = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Candidate

	if enabled(s.LargeTransactionThreshold) && t.Amount.Cents >= s.LargeTransactionThreshold.Cents {
		out = append(out, Candidate{
			Type:     core.AlertLargeTransaction,
			Severity: core.SeverityHigh,
			Message:  fmt.Sprintf("Large transaction detected: %s for %s", t.Amount, t.Description),
			Metadata: &core.AlertMetadata{
				TransactionID: t.ID,
				Amount:        t.Amount,
				Category:      t.Category,
			},
		})
	}

	limits := []struct {
		period   string
		total    core.Money
		limit    core.Money
		severity core.Severity
	}{
		{"daily", daily, s.DailyLimit, core.SeverityMedium},
		{"weekly", weekly, s.WeeklyLimit, core.SeverityMedium},
		{"monthly", monthly, s.MonthlyLimit, core.SeverityHigh},
	}
	for _, l := range limits {
		if !enabled(l.limit) || l.total.Cents <= l.limit.Cents {
			continue
		}
		out = append(out, Candidate{
			Type:     core.AlertSpendingLimit,
			Severity: l.severity,
			Message: fmt.Sprintf("%s spending limit exceeded: %s of %s limit",
				capitalize(l.period), l.total, l.limit),
		})
	}

	if recent >= e.cfg.VelocityThreshold {
		out = append(out, Candidate{
			Type:     core.AlertUnusualActivity,
			Severity: core.SeverityHigh,
			Message: fmt.Sprintf("Unusual activity detected: %d transactions in the last %s",
				recent, humanize(e.cfg.VelocityWindow)),
		})
	}
	return out, nil
}

func enabled(limit core.Money) bool { return limit.Cents > 0 }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func humanize(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}

// ParseWeekday accepts english day names such as "sunday" or "Mon".
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			name := strings.ToLower(d.String())
			if strings.HasPrefix(name, s) {
				return d, nil
			}
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

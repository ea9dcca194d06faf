// Package alerts persists rule outcomes and hands them to the notification
// channel without ever blocking the caller on delivery.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"smartpay/internal/core"
	"smartpay/internal/rules"
)

var errTooManyInFlight = errors.New("too many notifications in flight")

type Config struct {
	NotifyTimeout time.Duration
	MaxInFlight   int64
}

func DefaultConfig() Config {
	return Config{
		NotifyTimeout: 10 * time.Second,
		MaxInFlight:   16,
	}
}

// channel is one notification destination. optIn channels only run for users
// with EnableEmailNotifications set.
type channel struct {
	name     string
	notifier Notifier
	optIn    bool
}

type Sink struct {
	store    Store
	channels []channel
	timeout  time.Duration
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	now      func() time.Time
	newID    func() string
}

type Option func(*Sink)

func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithRecorder adds a channel that receives every alert regardless of the
// user's email preference, such as an archive or an audit sheet.
func WithRecorder(name string, n Notifier) Option {
	return func(s *Sink) {
		if n != nil {
			s.channels = append(s.channels, channel{name: name, notifier: n})
		}
	}
}

// NewSink builds a sink whose notifier is the user-facing email channel,
// gated by EnableEmailNotifications. notifier may be nil.
func NewSink(store Store, notifier Notifier, cfg Config, opts ...Option) *Sink {
	def := DefaultConfig()
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	s := &Sink{
		store:    store,
		timeout:  cfg.NotifyTimeout,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if notifier != nil {
		s.channels = append(s.channels, channel{name: "email", notifier: notifier, optIn: true})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is an alert raised from outside the rule evaluator, such as an
// account security event. Severity defaults to medium.
type CreateInput struct {
	Type     core.AlertType
	Severity core.Severity
	Message  string
	Metadata *core.AlertMetadata
}

func (s *Sink) build(userID string, c rules.Candidate) core.Alert {
	return core.Alert{
		ID:        s.newID(),
		UserID:    userID,
		Type:      c.Type,
		Severity:  c.Severity,
		Message:   c.Message,
		Metadata:  c.Metadata,
		CreatedAt: s.now().UTC(),
	}
}

// Raise persists one alert and schedules its notification.
func (s *Sink) Raise(ctx context.Context, user core.User, c rules.Candidate) (core.Alert, error) {
	a := s.build(user.ID, c)
	if err := a.Validate(); err != nil {
		return core.Alert{}, err
	}
	if err := s.store.InsertAlert(ctx, a); err != nil {
		return core.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	slog.InfoContext(ctx, "Alert raised", "user_id", user.ID, "alert_id", a.ID, "alert_type", a.Type, "severity", a.Severity)
	s.dispatch(ctx, user, a)
	return a, nil
}

// RaiseForTrigger stores every candidate produced for one triggering
// transaction in a single unit. A second call for the same trigger is a
// no-op and reports fired=false, so redelivered messages never duplicate
// alerts.
func (s *Sink) RaiseForTrigger(ctx context.Context, user core.User, triggerID string, cs []rules.Candidate) ([]core.Alert, bool, error) {
	alerts := make([]core.Alert, 0, len(cs))
	for _, c := range cs {
		a := s.build(user.ID, c)
		if err := a.Validate(); err != nil {
			return nil, false, err
		}
		alerts = append(alerts, a)
	}

	fired, err := s.store.SaveEvaluation(ctx, triggerID, alerts)
	if err != nil {
		return nil, false, fmt.Errorf("save evaluation for %s: %w", triggerID, err)
	}
	if !fired {
		slog.InfoContext(ctx, "Transaction already evaluated", "transaction_id", triggerID)
		return nil, false, nil
	}

	for _, a := range alerts {
		slog.InfoContext(ctx, "Alert raised",
			"user_id", user.ID,
			"alert_id", a.ID,
			"alert_type", a.Type,
			"severity", a.Severity,
			"transaction_id", triggerID)
		s.dispatch(ctx, user, a)
	}
	return alerts, true, nil
}

func (s *Sink) Create(ctx context.Context, user core.User, in CreateInput) (core.Alert, error) {
	if in.Severity == "" {
		in.Severity = core.SeverityMedium
	}
	return s.Raise(ctx, user, rules.Candidate{
		Type:     in.Type,
		Severity: in.Severity,
		Message:  strings.TrimSpace(in.Message),
		Metadata: in.Metadata,
	})
}

// List returns the user's alerts, newest first.
func (s *Sink) List(ctx context.Context, userID string, limit int) ([]core.Alert, error) {
	return s.store.ListAlerts(ctx, userID, limit)
}

func (s *Sink) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

// MarkRead is the only state transition an alert has.
func (s *Sink) MarkRead(ctx context.Context, userID, alertID string) (core.Alert, error) {
	return s.store.MarkAlertRead(ctx, userID, alertID)
}

// dispatch delivers to every channel in the background, bounded by the
// timeout and the in-flight semaphore. Failures are logged as
// NotificationDeliveryError.
func (s *Sink) dispatch(ctx context.Context, user core.User, a core.Alert) {
	for _, ch := range s.channels {
		if ch.optIn && !user.Settings.EnableEmailNotifications {
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.logDelivery(ctx, user, a, ch.name, errTooManyInFlight)
			continue
		}

		s.wg.Add(1)
		go func(ch channel) {
			defer s.wg.Done()
			defer s.sem.Release(1)

			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			defer cancel()
			if err := ch.notifier.Notify(nctx, user.Email, user.Name, a); err != nil {
				s.logDelivery(nctx, user, a, ch.name, err)
			}
		}(ch)
	}
}

func (s *Sink) logDelivery(ctx context.Context, user core.User, a core.Alert, channel string, err error) {
	derr := &core.NotificationDeliveryError{Channel: channel, Recipient: user.Email, AlertID: a.ID, Err: err}
	slog.WarnContext(ctx, "Notification not delivered", "user_id", user.ID, "channel", channel, "error", derr)
}

// Wait blocks until every scheduled notification has finished.
func (s *Sink) Wait() {
	s.wg.Wait()
}

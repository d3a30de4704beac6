// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package reminder e-mails everyone attending or waitlisted for an event on
// the day it takes place, once per day.
package reminder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
)

const (
	lastRunKey = "reminders.last_run"
	dayLayout  = "2006-01-02"

	DefaultInterval = time.Minute
)

type Notifier interface {
	EventReminder(ctx context.Context, user *model.User, event *model.Event, status model.AttendanceStatus) error
}

// Summary counts what one round of reminders did.
type Summary struct {
	Skipped bool
	Events  int
	Sent    int
	Failed  int
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

type Runner struct {
	logger   *slog.Logger
	events   db.EventStore
	users    db.UserStore
	rsvps    db.RSVPStore
	meta     db.MetaStore
	notifier Notifier
	now      func() time.Time
	interval time.Duration
}

func New(events db.EventStore, users db.UserStore, rsvps db.RSVPStore, meta db.MetaStore, notifier Notifier, opts ...Option) *Runner {
	r := &Runner{
		logger:   slog.Default().WithGroup("reminder"),
		events:   events,
		users:    users,
		rsvps:    rsvps,
		meta:     meta,
		notifier: notifier,
		now:      time.Now,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run checks once per interval whether a new day has started and sends the
// reminders of that day. It returns when ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil {
			r.logger.ErrorContext(ctx, "sending reminders failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick sends the reminders of today unless they went out already.
func (r *Runner) Tick(ctx context.Context) (Summary, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Runner.Tick")
	defer span.End()

	today := r.now().Format(dayLayout)
	last, err := r.meta.GetMeta(ctx, lastRunKey)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		recordError(span, err)
		return Summary{}, err
	}
	if last >= today {
		return Summary{Skipped: true}, nil
	}

	summary, err := r.SendForDay(ctx, r.now())
	if err != nil {
		recordError(span, err)
		return summary, err
	}
	if err := r.meta.SetMeta(ctx, lastRunKey, today); err != nil {
		recordError(span, err)
		return summary, err
	}
	r.logger.InfoContext(ctx, "reminders sent", "day", today,
		"events", summary.Events, "sent", summary.Sent, "failed", summary.Failed)
	return summary, nil
}

// SendForDay reminds the attendees and the waitlist of every active event
// taking place on the calendar day of day.
func (r *Runner) SendForDay(ctx context.Context, day time.Time) (Summary, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Runner.SendForDay")
	defer span.End()

	var summary Summary
	events, err := r.events.ListEvents(ctx)
	if err != nil {
		recordError(span, err)
		return summary, err
	}
	for _, event := range events {
		if !event.IsActive || !sameDay(event.Starts(), day) {
			continue
		}
		summary.Events++
		roster, err := r.rsvps.GetRoster(ctx, event.ID)
		if err != nil {
			recordError(span, err)
			return summary, err
		}
		for _, rsvp := range roster.RSVPs {
			if rsvp.Status != model.StatusYes && rsvp.Status != model.StatusWaitlist {
				continue
			}
			user, err := r.users.GetUserByID(ctx, rsvp.UserID)
			if err == nil {
				err = r.notifier.EventReminder(ctx, user, event, rsvp.Status)
			}
			if err != nil {
				summary.Failed++
				r.logger.WarnContext(ctx, "reminder failed", "event", event.ID, "user", rsvp.UserID, "error", err)
				continue
			}
			summary.Sent++
		}
	}
	span.SetAttributes(attribute.Int("reminders.sent", summary.Sent), attribute.Int("reminders.failed", summary.Failed))
	return summary, nil
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

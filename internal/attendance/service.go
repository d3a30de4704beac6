// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package attendance applies the RSVP rules of an event: capacity, waitlist
// promotion and who may attend.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
)

// Notifier is told about attendance changes once they are persisted.
type Notifier interface {
	AttendanceChanged(ctx context.Context, user *model.User, event *model.Event, status model.AttendanceStatus) error
	WaitlistPromoted(ctx context.Context, user *model.User, event *model.Event) error
}

// Publisher pushes fresh counts to live viewers of an event.
type Publisher interface {
	Publish(eventID uint64, counts model.AttendanceCounts)
}

// Rejection is returned when a request breaks an attendance rule. Message is
// shown to the user as is.
type Rejection struct {
	Err     error
	Message string
}

func (r *Rejection) Error() string { return r.Message }

func (r *Rejection) Unwrap() error { return r.Err }

// errBadRequest marks rejections without a more specific cause.
var errBadRequest = errors.New("bad request")

func reject(err error, msg string) *Rejection {
	return &Rejection{Err: err, Message: msg}
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	logger    *slog.Logger
	events    db.EventStore
	users     db.UserStore
	rsvps     db.RSVPStore
	notifier  Notifier
	publisher Publisher
	now       func() time.Time
}

func NewService(events db.EventStore, users db.UserStore, rsvps db.RSVPStore, opts ...Option) *Service {
	s := &Service{
		logger: slog.Default().WithGroup("attendance"),
		events: events,
		users:  users,
		rsvps:  rsvps,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxNotesLength bounds the free text a member may leave with an RSVP.
const MaxNotesLength = 500

// ChangeStatus sets the attendance of userID and stores notes with it. An
// empty status cancels the RSVP. Rule violations are returned as *Rejection.
func (s *Service) ChangeStatus(ctx context.Context, userID string, eventID uint64, status, notes string) (*model.RSVPResult, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.ChangeStatus", trace.WithAttributes(
		attribute.Int64("event.id", int64(eventID)),
		attribute.String("rsvp.status", status),
	))
	defer span.End()

	user, event, err := s.attendee(ctx, userID, eventID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if status == "" {
		return s.cancel(ctx, span, user, event)
	}

	requested := model.ParseAttendanceStatus(status)
	if !requested.Interactive() {
		err := reject(model.ErrInvalidStatus, "Invalid attendance status.")
		recordError(span, err)
		return nil, err
	}

	notes = strings.TrimSpace(notes)
	if len([]rune(notes)) > MaxNotesLength {
		err := reject(errBadRequest, fmt.Sprintf("Notes can be at most %d characters.", MaxNotesLength))
		recordError(span, err)
		return nil, err
	}

	var c change
	err = s.rsvps.UpdateRoster(ctx, event.ID, func(roster *model.Roster) error {
		c = setStatus(roster, event, user.ID, requested, s.now())
		roster.Find(user.ID).Notes = notes
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("update roster of event %d: %w", event.ID, err)
	}

	msg := "Attendance confirmed: " + goingLabel(c.status)
	if c.waitlisted {
		msg = "Event is full. You have been added to the waitlist."
	}
	result := s.settle(ctx, event, user, c, msg)
	s.logger.InfoContext(ctx, "attendance changed",
		"event", event.ID, "user", user.ID, "previous", c.previous, "status", c.status)
	return result, nil
}

func (s *Service) cancel(ctx context.Context, span trace.Span, user *model.User, event *model.Event) (*model.RSVPResult, error) {
	span.AddEvent("cancel")
	var c change
	err := s.rsvps.UpdateRoster(ctx, event.ID, func(roster *model.Roster) error {
		c = removeRSVP(roster, event, user.ID, s.now())
		if c.removed == nil {
			return reject(model.ErrNotFound, "No attendance record found to cancel.")
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		var rej *Rejection
		if errors.As(err, &rej) {
			return nil, err
		}
		return nil, fmt.Errorf("update roster of event %d: %w", event.ID, err)
	}

	result := s.settle(ctx, event, user, c, "Attendance cancelled")
	s.logger.InfoContext(ctx, "attendance cancelled", "event", event.ID, "user", user.ID, "previous", c.previous)
	return result, nil
}

// Move sets the RSVP of target to status on behalf of an organizer. Unlike
// ChangeStatus any persisted status may be chosen, but yes on a full event
// still queues the user.
func (s *Service) Move(ctx context.Context, actorID string, eventID uint64, targetID string, status string) (*model.RSVPResult, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.Move", trace.WithAttributes(
		attribute.Int64("event.id", int64(eventID)),
		attribute.String("rsvp.status", status),
	))
	defer span.End()

	event, target, err := s.organizerTarget(ctx, actorID, eventID, targetID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	requested := model.ParseAttendanceStatus(status)
	if requested == model.StatusNone {
		err := reject(model.ErrInvalidStatus, "Invalid attendance status.")
		recordError(span, err)
		return nil, err
	}

	var c change
	err = s.rsvps.UpdateRoster(ctx, event.ID, func(roster *model.Roster) error {
		if roster.Find(target.ID) == nil {
			return reject(model.ErrNotFound, "RSVP not found.")
		}
		if requested == model.StatusWaitlist {
			c = setWaitlisted(roster, event, target.ID, s.now())
			return nil
		}
		c = setStatus(roster, event, target.ID, requested, s.now())
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	msg := fmt.Sprintf("Moved %s to %s.", target.Name, c.status.Label())
	if c.waitlisted {
		msg = fmt.Sprintf("Event is full. %s has been added to the waitlist.", target.Name)
	}
	result := s.settle(ctx, event, target, c, msg)
	s.logger.InfoContext(ctx, "attendance moved",
		"event", event.ID, "actor", actorID, "user", target.ID, "previous", c.previous, "status", c.status)
	return result, nil
}

// Remove deletes the RSVP of target on behalf of an organizer.
func (s *Service) Remove(ctx context.Context, actorID string, eventID uint64, targetID string) (*model.RSVPResult, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.Remove", trace.WithAttributes(attribute.Int64("event.id", int64(eventID))))
	defer span.End()

	event, target, err := s.organizerTarget(ctx, actorID, eventID, targetID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	var c change
	err = s.rsvps.UpdateRoster(ctx, event.ID, func(roster *model.Roster) error {
		c = removeRSVP(roster, event, target.ID, s.now())
		if c.removed == nil {
			return reject(model.ErrNotFound, "RSVP not found.")
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	result := s.settle(ctx, event, target, c, fmt.Sprintf("Removed %s from the attendance list.", target.Name))
	s.logger.InfoContext(ctx, "attendance removed", "event", event.ID, "actor", actorID, "user", target.ID)
	return result, nil
}

// Counts returns the current attendance numbers of an event.
func (s *Service) Counts(ctx context.Context, eventID uint64) (model.AttendanceCounts, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.Counts")
	defer span.End()

	event, err := s.events.GetEventByID(ctx, eventID)
	if err != nil {
		recordError(span, err)
		return model.AttendanceCounts{}, err
	}
	roster, err := s.rsvps.GetRoster(ctx, eventID)
	if err != nil {
		recordError(span, err)
		return model.AttendanceCounts{}, err
	}
	return roster.Counts(event.MaxAttendees), nil
}

// StatusOf returns the attendance of userID, or StatusNone.
func (s *Service) StatusOf(ctx context.Context, eventID uint64, userID string) (model.AttendanceStatus, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.StatusOf")
	defer span.End()

	roster, err := s.rsvps.GetRoster(ctx, eventID)
	if err != nil {
		recordError(span, err)
		return model.StatusNone, err
	}
	if rsvp := roster.Find(userID); rsvp != nil {
		return rsvp.Status, nil
	}
	return model.StatusNone, nil
}

// Attendance lists the hosts and everyone who answered, in display order.
func (s *Service) Attendance(ctx context.Context, event *model.Event) ([]model.AttendanceEntry, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.Attendance")
	defer span.End()

	roster, err := s.rsvps.GetRoster(ctx, event.ID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	ids := []string{event.OrganizerID, event.CoHostID}
	for _, rsvp := range roster.RSVPs {
		ids = append(ids, rsvp.UserID)
	}
	users := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := users[id]; ok {
			continue
		}
		u, err := s.users.GetUserByID(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			s.logger.WarnContext(ctx, "rsvp of unknown user", "event", event.ID, "user", id)
			continue
		} else if err != nil {
			recordError(span, err)
			return nil, err
		}
		users[id] = u
	}
	return model.ConsolidateAttendance(event, roster, users), nil
}

// settle builds the result of a committed change and runs its side effects.
func (s *Service) settle(ctx context.Context, event *model.Event, user *model.User, c change, msg string) *model.RSVPResult {
	counts := c.counts
	result := &model.RSVPResult{
		Success: true,
		Status:  c.status,
		Message: msg,
		Counts:  &counts,
	}

	if c.promoted != nil {
		promoted, err := s.users.GetUserByID(ctx, c.promoted.UserID)
		if err != nil {
			s.logger.WarnContext(ctx, "lookup promoted user", "user", c.promoted.UserID, "error", err)
			promoted = &model.User{ID: c.promoted.UserID, Name: c.promoted.UserID}
		}
		result.PromotedUser = promoted.Name
		result.Message = fmt.Sprintf("%s. %s has been moved from waitlist to attending.", strings.TrimSuffix(msg, "."), promoted.Name)
		if s.notifier != nil && promoted.Email != "" {
			if err := s.notifier.WaitlistPromoted(ctx, promoted, event); err != nil {
				s.logger.ErrorContext(ctx, "notify promoted user", "user", promoted.ID, "error", err)
			}
		}
	}

	if s.notifier != nil && c.status != c.previous {
		if err := s.notifier.AttendanceChanged(ctx, user, event, c.status); err != nil {
			s.logger.ErrorContext(ctx, "notify attendance change", "user", user.ID, "error", err)
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(event.ID, counts)
	}
	return result
}

// attendee loads the event and checks that userID may answer it.
func (s *Service) attendee(ctx context.Context, userID string, eventID uint64) (*model.User, *model.Event, error) {
	event, err := s.events.GetEventByID(ctx, eventID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, reject(err, "Event not found.")
	} else if err != nil {
		return nil, nil, err
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, reject(model.ErrForbidden, model.ErrorReasonUnauthenticated.Message())
	} else if err != nil {
		return nil, nil, err
	}

	switch {
	case !user.IsApprovedMember():
		return nil, nil, reject(model.ErrForbidden, model.ErrorReasonNotApproved.Message())
	case event.IsHost(user.ID):
		return nil, nil, reject(model.ErrForbidden, "Hosts and co-hosts cannot RSVP to their own events.")
	case !event.IsActive:
		return nil, nil, reject(model.ErrEventInactive, "This event has been cancelled.")
	}
	return user, event, nil
}

// organizerTarget checks that actorID may manage the attendance of event and
// loads the affected user.
func (s *Service) organizerTarget(ctx context.Context, actorID string, eventID uint64, targetID string) (*model.Event, *model.User, error) {
	event, err := s.events.GetEventByID(ctx, eventID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, reject(err, "Event not found.")
	} else if err != nil {
		return nil, nil, err
	}

	actor, err := s.users.GetUserByID(ctx, actorID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, reject(model.ErrForbidden, model.ErrorReasonUnauthenticated.Message())
	} else if err != nil {
		return nil, nil, err
	}
	if !actor.CanOrganize() && !event.IsHost(actor.ID) {
		return nil, nil, reject(model.ErrForbidden, model.ErrorReasonNotOrganizer.Message())
	}

	target, err := s.users.GetUserByID(ctx, targetID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil, reject(err, "User not found.")
	} else if err != nil {
		return nil, nil, err
	}
	return event, target, nil
}

// setWaitlisted queues userID behind the attendees. It is only reachable by
// organizers; members cannot ask for the waitlist.
func setWaitlisted(roster *model.Roster, event *model.Event, userID string, now time.Time) change {
	rsvp := roster.Find(userID)
	c := change{previous: rsvp.Status, status: model.StatusWaitlist}
	rsvp.Status = model.StatusWaitlist
	rsvp.UpdatedAt = now
	if c.previous == model.StatusYes {
		c.promoted = promote(roster, event, userID, now)
	}
	c.counts = roster.Counts(event.MaxAttendees)
	return c
}

func goingLabel(status model.AttendanceStatus) string {
	switch status {
	case model.StatusYes:
		return "Going"
	case model.StatusNo:
		return "Not Going"
	default:
		return status.Label()
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package attendance

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

// BulkEntry names a user on one of the lists of a BulkUpdate. Notify asks
// for an e-mail if the status of the user changes.
type BulkEntry struct {
	UserID string
	Notify bool
}

// BulkUpdate rewrites parts of a roster at once. Removals are applied first,
// then the no, yes and maybe lists in that order.
type BulkUpdate struct {
	Yes    []BulkEntry
	No     []BulkEntry
	Maybe  []BulkEntry
	Remove []string
}

func (u BulkUpdate) userIDs() []string {
	var ids []string
	for _, list := range [][]BulkEntry{u.No, u.Yes, u.Maybe} {
		for _, e := range list {
			ids = append(ids, e.UserID)
		}
	}
	return append(ids, u.Remove...)
}

type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type BulkResult struct {
	Success          bool                   `json:"success"`
	Message          string                 `json:"message"`
	CurrentAttending int                    `json:"current_attending"`
	Counts           model.AttendanceCounts `json:"counts"`
	UpdatedCount     int                    `json:"updated_count,omitempty"`
	RemovedCount     int                    `json:"removed_count,omitempty"`
	PromotedCount    int                    `json:"promoted_count,omitempty"`
	PromotedUsers    []UserRef              `json:"promoted_users,omitempty"`
}

type bulkChange struct {
	userID string
	status model.AttendanceStatus
	notify bool
}

// ManageAttendance applies a BulkUpdate in one roster transaction. Event
// managers may name anyone; everybody else may only name themselves. A yes
// on a full event queues the user, and free seats go to the waitlist once
// all lists are applied.
func (s *Service) ManageAttendance(ctx context.Context, actorID string, eventID uint64, upd BulkUpdate) (*BulkResult, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.ManageAttendance", trace.WithAttributes(attribute.Int64("event.id", int64(eventID))))
	defer span.End()

	event, err := s.events.GetEventByID(ctx, eventID)
	if errors.Is(err, model.ErrNotFound) {
		err := reject(err, "Event not found.")
		recordError(span, err)
		return nil, err
	} else if err != nil {
		recordError(span, err)
		return nil, err
	}
	actor, err := s.users.GetUserByID(ctx, actorID)
	if errors.Is(err, model.ErrNotFound) {
		err := reject(model.ErrForbidden, model.ErrorReasonUnauthenticated.Message())
		recordError(span, err)
		return nil, err
	} else if err != nil {
		recordError(span, err)
		return nil, err
	}

	ids := upd.userIDs()
	if len(ids) == 0 {
		err := reject(errBadRequest, "No attendance changes given.")
		recordError(span, err)
		return nil, err
	}
	if !actor.CanOrganize() && !event.IsHost(actor.ID) {
		for _, id := range ids {
			if id != actor.ID {
				err := reject(model.ErrForbidden, "You can only manage your own attendance.")
				recordError(span, err)
				return nil, err
			}
		}
		if _, _, err := s.attendee(ctx, actor.ID, event.ID); err != nil {
			recordError(span, err)
			return nil, err
		}
	}

	users := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if _, ok := users[id]; ok {
			continue
		}
		if event.IsHost(id) {
			err := reject(errBadRequest, "Hosts and co-hosts cannot RSVP to their own events.")
			recordError(span, err)
			return nil, err
		}
		u, err := s.users.GetUserByID(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			err := reject(errBadRequest, fmt.Sprintf("User %s not found.", id))
			recordError(span, err)
			return nil, err
		} else if err != nil {
			recordError(span, err)
			return nil, err
		}
		users[id] = u
	}

	var (
		updated  []bulkChange
		removed  []string
		promoted []*model.RSVP
		counts   model.AttendanceCounts
	)
	err = s.rsvps.UpdateRoster(ctx, event.ID, func(roster *model.Roster) error {
		updated, removed, promoted = nil, nil, nil
		now := s.now()
		before := roster.Count(model.StatusYes)

		for _, id := range upd.Remove {
			c := removeRSVP(roster, event, id, now)
			if c.removed != nil {
				removed = append(removed, id)
			}
			if c.promoted != nil {
				promoted = append(promoted, c.promoted)
			}
		}
		apply := func(list []BulkEntry, status model.AttendanceStatus) {
			for _, e := range list {
				c := setStatus(roster, event, e.UserID, status, now)
				if c.status != c.previous {
					updated = append(updated, bulkChange{userID: e.UserID, status: c.status, notify: e.Notify})
				}
				if c.promoted != nil {
					promoted = append(promoted, c.promoted)
				}
			}
		}
		apply(upd.No, model.StatusNo)
		apply(upd.Yes, model.StatusYes)
		apply(upd.Maybe, model.StatusMaybe)

		for next := promote(roster, event, "", now); next != nil; next = promote(roster, event, "", now) {
			promoted = append(promoted, next)
		}

		yes := roster.Count(model.StatusYes)
		if event.HasCapacity() && yes > event.MaxAttendees && yes > before {
			return reject(model.ErrConflict, fmt.Sprintf(
				"Cannot update attendance: would exceed event capacity (%d attending, max %d).", yes, event.MaxAttendees))
		}
		counts = roster.Counts(event.MaxAttendees)
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

	result := &BulkResult{
		Success:          true,
		Message:          "Attendance updated successfully",
		CurrentAttending: counts.Yes,
		Counts:           counts,
		UpdatedCount:     len(updated),
		RemovedCount:     len(removed),
	}

	// A promoted user may have been moved again by a later list.
	seen := map[string]bool{}
	for _, p := range promoted {
		if seen[p.UserID] || p.Status != model.StatusYes {
			continue
		}
		seen[p.UserID] = true
		u, err := s.user(ctx, users, p.UserID)
		if err != nil {
			s.logger.WarnContext(ctx, "lookup promoted user", "user", p.UserID, "error", err)
			u = &model.User{ID: p.UserID, Name: p.UserID}
		}
		result.PromotedUsers = append(result.PromotedUsers, UserRef{ID: u.ID, Name: u.Name})
		if s.notifier != nil && u.Email != "" {
			if err := s.notifier.WaitlistPromoted(ctx, u, event); err != nil {
				s.logger.ErrorContext(ctx, "notify promoted user", "user", u.ID, "error", err)
			}
		}
	}
	result.PromotedCount = len(result.PromotedUsers)

	if s.notifier != nil {
		for _, c := range updated {
			if !c.notify {
				continue
			}
			if err := s.notifier.AttendanceChanged(ctx, users[c.userID], event, c.status); err != nil {
				s.logger.ErrorContext(ctx, "notify attendance change", "user", c.userID, "error", err)
			}
		}
		for _, id := range removed {
			if err := s.notifier.AttendanceChanged(ctx, users[id], event, model.StatusNone); err != nil {
				s.logger.ErrorContext(ctx, "notify removal", "user", id, "error", err)
			}
		}
	}
	if s.publisher != nil {
		s.publisher.Publish(event.ID, counts)
	}
	s.logger.InfoContext(ctx, "attendance managed", "event", event.ID, "actor", actor.ID,
		"updated", len(updated), "removed", len(removed), "promoted", result.PromotedCount)
	return result, nil
}

// RemoveUser drops every RSVP of userID. Seats freed on full events go to
// the waitlist.
func (s *Service) RemoveUser(ctx context.Context, userID string) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Service.RemoveUser")
	defer span.End()

	events, err := s.events.ListEvents(ctx)
	if err != nil {
		recordError(span, err)
		return err
	}
	for _, event := range events {
		var c change
		err := s.rsvps.UpdateRoster(ctx, event.ID, func(roster *model.Roster) error {
			c = removeRSVP(roster, event, userID, s.now())
			return nil
		})
		if err != nil {
			recordError(span, err)
			return fmt.Errorf("update roster of event %d: %w", event.ID, err)
		}
		if c.removed == nil {
			continue
		}
		if c.promoted != nil && s.notifier != nil {
			if u, err := s.users.GetUserByID(ctx, c.promoted.UserID); err == nil && u.Email != "" {
				if err := s.notifier.WaitlistPromoted(ctx, u, event); err != nil {
					s.logger.ErrorContext(ctx, "notify promoted user", "user", u.ID, "error", err)
				}
			}
		}
		if s.publisher != nil {
			s.publisher.Publish(event.ID, c.counts)
		}
	}
	return nil
}

func (s *Service) user(ctx context.Context, known map[string]*model.User, id string) (*model.User, error) {
	if u, ok := known[id]; ok {
		return u, nil
	}
	u, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	known[id] = u
	return u, nil
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package attendance

import (
	"time"

	"github.com/cosypolyamory/site/internal/model"
)

// change is the outcome of a roster mutation.
type change struct {
	previous model.AttendanceStatus
	status   model.AttendanceStatus
	// waitlisted is set when a request for yes was queued instead.
	waitlisted bool
	promoted   *model.RSVP
	removed    *model.RSVP
	counts     model.AttendanceCounts
}

// setStatus records requested for userID. A request for yes on a full event
// turns into a waitlist entry unless the user already attends. When the user
// leaves yes the earliest waitlisted RSVP takes the free seat.
func setStatus(roster *model.Roster, event *model.Event, userID string, requested model.AttendanceStatus, now time.Time) change {
	c := change{previous: model.StatusNone, status: requested}

	existing := roster.Find(userID)
	if existing != nil {
		c.previous = existing.Status
	}

	if requested == model.StatusYes && c.previous != model.StatusYes && isFull(roster, event) {
		c.status = model.StatusWaitlist
		c.waitlisted = true
	}

	if existing != nil {
		existing.Status = c.status
		existing.UpdatedAt = now
	} else {
		roster.Add(&model.RSVP{
			UserID:    userID,
			Status:    c.status,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if c.previous == model.StatusYes && c.status != model.StatusYes {
		c.promoted = promote(roster, event, userID, now)
	}
	c.counts = roster.Counts(event.MaxAttendees)
	return c
}

// removeRSVP deletes the RSVP of userID. removed is nil when there was none.
func removeRSVP(roster *model.Roster, event *model.Event, userID string, now time.Time) change {
	c := change{previous: model.StatusNone, status: model.StatusNone}
	c.removed = roster.Remove(userID)
	if c.removed != nil {
		c.previous = c.removed.Status
		if c.removed.Status == model.StatusYes {
			c.promoted = promote(roster, event, userID, now)
		}
	}
	c.counts = roster.Counts(event.MaxAttendees)
	return c
}

func isFull(roster *model.Roster, event *model.Event) bool {
	return event.HasCapacity() && roster.Count(model.StatusYes) >= event.MaxAttendees
}

// promote moves the earliest waitlisted RSVP other than skip to yes if a seat
// is free.
func promote(roster *model.Roster, event *model.Event, skip string, now time.Time) *model.RSVP {
	if !event.HasCapacity() || isFull(roster, event) {
		return nil
	}
	next := roster.NextWaitlisted(skip)
	if next == nil {
		return nil
	}
	next.Status = model.StatusYes
	next.UpdatedAt = now
	return next
}

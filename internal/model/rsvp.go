// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttendanceStatus is a user's declared attendance for an event.
type AttendanceStatus string

const (
	StatusYes      AttendanceStatus = "yes"
	StatusNo       AttendanceStatus = "no"
	StatusMaybe    AttendanceStatus = "maybe"
	StatusWaitlist AttendanceStatus = "waitlist"
	// StatusNone is never persisted. It is the rendering fallback for a user
	// without an RSVP.
	StatusNone AttendanceStatus = "none"
)

// ParseAttendanceStatus maps unknown and empty input to StatusNone.
func ParseAttendanceStatus(s string) AttendanceStatus {
	switch st := AttendanceStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusYes, StatusNo, StatusMaybe, StatusWaitlist:
		return st
	default:
		return StatusNone
	}
}

// Interactive reports whether a user may request the status directly.
func (s AttendanceStatus) Interactive() bool {
	return s == StatusYes || s == StatusNo || s == StatusMaybe
}

func (s AttendanceStatus) Label() string {
	switch s {
	case StatusYes:
		return "Yes"
	case StatusNo:
		return "No"
	case StatusMaybe:
		return "Maybe"
	case StatusWaitlist:
		return "Waitlisted"
	default:
		return ""
	}
}

func (s AttendanceStatus) String() string { return string(s) }

type RSVP struct {
	ID        uuid.UUID        `json:"id"`
	EventID   uint64           `json:"event_id"`
	UserID    string           `json:"user_id"`
	Status    AttendanceStatus `json:"status"`
	Notes     string           `json:"notes,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RSVPRequest is the client side of a status change.
type RSVPRequest struct {
	EventID string
	Status  AttendanceStatus
}

// AttendanceCounts summarises an event roster. Capacity is zero when the
// event has no limit.
type AttendanceCounts struct {
	Yes      int `json:"yes"`
	No       int `json:"no"`
	Maybe    int `json:"maybe"`
	Waitlist int `json:"waitlist"`
	Capacity int `json:"capacity,omitempty"`
}

// RSVPResult is the only payload a client renders attendance from.
type RSVPResult struct {
	Success      bool              `json:"success"`
	Status       AttendanceStatus  `json:"status,omitempty"`
	Message      string            `json:"message"`
	Counts       *AttendanceCounts `json:"counts,omitempty"`
	PromotedUser string            `json:"promoted_user,omitempty"`
}

// Roster holds every RSVP of one event, oldest first.
type Roster struct {
	EventID uint64  `json:"event_id"`
	RSVPs   []*RSVP `json:"rsvps"`
}

func (r *Roster) Find(userID string) *RSVP {
	for _, rsvp := range r.RSVPs {
		if rsvp.UserID == userID {
			return rsvp
		}
	}
	return nil
}

// Add appends a new RSVP and keeps the roster ordered by creation time.
func (r *Roster) Add(rsvp *RSVP) {
	if rsvp.ID == uuid.Nil {
		rsvp.ID = uuid.New()
	}
	rsvp.EventID = r.EventID
	r.RSVPs = append(r.RSVPs, rsvp)
	sort.SliceStable(r.RSVPs, func(i, j int) bool {
		return r.RSVPs[i].CreatedAt.Before(r.RSVPs[j].CreatedAt)
	})
}

// Remove deletes the RSVP of userID and returns it, or nil if there was none.
func (r *Roster) Remove(userID string) *RSVP {
	for idx, rsvp := range r.RSVPs {
		if rsvp.UserID == userID {
			r.RSVPs = append(r.RSVPs[:idx], r.RSVPs[idx+1:]...)
			return rsvp
		}
	}
	return nil
}

func (r *Roster) Count(status AttendanceStatus) int {
	n := 0
	for _, rsvp := range r.RSVPs {
		if rsvp.Status == status {
			n++
		}
	}
	return n
}

func (r *Roster) Counts(capacity int) AttendanceCounts {
	c := AttendanceCounts{Capacity: capacity}
	for _, rsvp := range r.RSVPs {
		switch rsvp.Status {
		case StatusYes:
			c.Yes++
		case StatusNo:
			c.No++
		case StatusMaybe:
			c.Maybe++
		case StatusWaitlist:
			c.Waitlist++
		}
	}
	return c
}

// NextWaitlisted returns the earliest waitlisted RSVP that does not belong
// to skip.
func (r *Roster) NextWaitlisted(skip string) *RSVP {
	var next *RSVP
	for _, rsvp := range r.RSVPs {
		if rsvp.Status != StatusWaitlist || rsvp.UserID == skip {
			continue
		}
		if next == nil || rsvp.CreatedAt.Before(next.CreatedAt) {
			next = rsvp
		}
	}
	return next
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidStatus = errors.New("invalid attendance status")
	ErrEventInactive = errors.New("event cancelled")
	ErrConflict      = errors.New("conflict")
)

type ErrorReason int

const (
	ErrorReasonUnknown ErrorReason = iota
	ErrorReasonUnauthenticated
	ErrorReasonNotApproved
	ErrorReasonNotOrganizer
	ErrorReasonReadOnly
	ErrorReasonNotAdmin
)

// Message is the user facing text for a rejected request.
func (r ErrorReason) Message() string {
	switch r {
	case ErrorReasonUnauthenticated:
		return "Please log in to continue."
	case ErrorReasonNotApproved:
		return "Community approval required to access this feature."
	case ErrorReasonNotOrganizer:
		return "Organizer access required."
	case ErrorReasonNotAdmin:
		return "Admin access required."
	case ErrorReasonReadOnly:
		return "Changes are closed for now."
	default:
		return "An unexpected error occurred"
	}
}

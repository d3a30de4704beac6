// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleNew       Role = "new"
	RolePending   Role = "pending"
	RoleApproved  Role = "approved"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
	RoleRejected  Role = "rejected"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNew, RolePending, RoleApproved, RoleOrganizer, RoleAdmin, RoleRejected:
		return true
	}
	return false
}

// Display is the label shown next to a user in search results.
func (r Role) Display() string {
	switch r {
	case RolePending:
		return "Pending"
	case RoleApproved:
		return "Member"
	case RoleOrganizer:
		return "Organizer"
	case RoleAdmin:
		return "Admin"
	case RoleRejected:
		return "Rejected"
	}
	if r == "" {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

// User ids carry the oauth provider prefix, e.g. "google_123456".
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Provider  string    `json:"provider"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}

func (u *User) CanOrganize() bool {
	return u.Role == RoleOrganizer || u.Role == RoleAdmin
}

// IsApprovedMember reports whether the user passed community review.
func (u *User) IsApprovedMember() bool {
	return u.Role == RoleApproved || u.CanOrganize()
}

// FirstLast splits the display name into a first name and the remainder.
func (u *User) FirstLast() (string, string) {
	parts := strings.Fields(u.Name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// UserSummary is the search result record.
type UserSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        Role   `json:"role"`
	RoleDisplay string `json:"role_display"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
		RoleDisplay: u.Role.Display(),
	}
}

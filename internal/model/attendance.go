// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

import (
	"sort"
	"strings"
)

// Entry roles that only appear on the consolidated attendance list.
const (
	EntryHost   = "host"
	EntryCoHost = "co-host"
)

var entryPriority = map[string]int{
	string(StatusYes):      0,
	string(StatusMaybe):    1,
	string(StatusWaitlist): 2,
	string(StatusNo):       3,
	EntryCoHost:            4,
	EntryHost:              5,
}

type AttendanceEntry struct {
	User   UserSummary `json:"user"`
	Status string      `json:"status"`
}

// ConsolidateAttendance merges the roster with the event hosts. Hosts are
// listed with their host role instead of an RSVP status. users resolves
// user ids; unknown ids are skipped.
func ConsolidateAttendance(event *Event, roster *Roster, users map[string]*User) []AttendanceEntry {
	entries := make([]AttendanceEntry, 0, len(roster.RSVPs)+2)
	for _, rsvp := range roster.RSVPs {
		if event.IsHost(rsvp.UserID) {
			continue
		}
		u, ok := users[rsvp.UserID]
		if !ok {
			continue
		}
		entries = append(entries, AttendanceEntry{User: u.Summary(), Status: string(rsvp.Status)})
	}
	if u, ok := users[event.OrganizerID]; ok {
		entries = append(entries, AttendanceEntry{User: u.Summary(), Status: EntryHost})
	}
	if u, ok := users[event.CoHostID]; ok && event.CoHostID != event.OrganizerID {
		entries = append(entries, AttendanceEntry{User: u.Summary(), Status: EntryCoHost})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := priority(entries[i].Status), priority(entries[j].Status)
		if pi != pj {
			return pi < pj
		}
		fi, li := splitName(entries[i].User.Name)
		fj, lj := splitName(entries[j].User.Name)
		if fi != fj {
			return fi < fj
		}
		return li < lj
	})
	return entries
}

func priority(status string) int {
	if p, ok := entryPriority[status]; ok {
		return p
	}
	return len(entryPriority)
}

func splitName(name string) (string, string) {
	u := User{Name: strings.ToLower(name)}
	return u.FirstLast()
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package rsvpclient

import (
	"sync"

	"github.com/cosypolyamory/site/internal/model"
)

// PendingSet tracks the status changes that are in flight. A key is an event
// id plus the requested status, so switching to another status is never
// blocked by a pending request for the same event.
type PendingSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewPendingSet() *PendingSet {
	return &PendingSet{keys: make(map[string]struct{})}
}

func pendingKey(eventID string, status model.AttendanceStatus) string {
	return eventID + "-" + string(status)
}

// Acquire claims the key and reports whether it was free.
func (p *PendingSet) Acquire(eventID string, status model.AttendanceStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := pendingKey(eventID, status)
	if _, ok := p.keys[k]; ok {
		return false
	}
	p.keys[k] = struct{}{}
	return true
}

func (p *PendingSet) Release(eventID string, status model.AttendanceStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, pendingKey(eventID, status))
}

func (p *PendingSet) Pending(eventID string, status model.AttendanceStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[pendingKey(eventID, status)]
	return ok
}

func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cosypolyamory/site/internal/model"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEventStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewEventStore(openTestDB(t))
	require.NoError(t, err)

	later := &model.Event{Title: "Picnic", Date: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)}
	id, err := store.CreateEvent(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	preset := &model.Event{ID: 42, Title: "Board games", Date: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	id, err = store.CreateEvent(ctx, preset)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = store.CreateEvent(ctx, &model.Event{ID: 42})
	assert.Error(t, err, "duplicate ids must be rejected")

	next, err := store.CreateEvent(ctx, &model.Event{Title: "Brunch", Date: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, uint64(43), next, "sequence continues after a preset id")

	got, err := store.GetEventByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Board games", got.Title)
	assert.NotNil(t, got.CreatedAt)

	got.MaxAttendees = 10
	require.NoError(t, store.UpdateEvent(ctx, got))
	got, err = store.GetEventByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 10, got.MaxAttendees)

	_, err = store.GetEventByID(ctx, 999)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.True(t, errors.Is(store.UpdateEvent(ctx, &model.Event{ID: 999}), model.ErrNotFound))

	events, err := store.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "Board games", events[0].Title)
	assert.Equal(t, "Brunch", events[2].Title)
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewUserStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.CreateUser(ctx, &model.User{ID: "google_2", Name: "Zed"}))
	require.NoError(t, store.CreateUser(ctx, &model.User{ID: "github_1", Name: "Ana", Role: model.RoleApproved}))
	assert.Error(t, store.CreateUser(ctx, &model.User{ID: "github_1"}))
	assert.Error(t, store.CreateUser(ctx, &model.User{}))

	u, err := store.GetUserByID(ctx, "google_2")
	require.NoError(t, err)
	assert.Equal(t, model.RoleNew, u.Role)
	assert.False(t, u.CreatedAt.IsZero())

	u.Role = model.RolePending
	require.NoError(t, store.UpdateUser(ctx, u))
	u, err = store.GetUserByID(ctx, "google_2")
	require.NoError(t, err)
	assert.Equal(t, model.RolePending, u.Role)

	_, err = store.GetUserByID(ctx, "nobody")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Ana", users[0].Name)

	require.NoError(t, store.DeleteUser(ctx, "google_2"))
	_, err = store.GetUserByID(ctx, "google_2")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, store.DeleteUser(ctx, "google_2"), model.ErrNotFound)
}

func TestRSVPStore_UpdateRoster(t *testing.T) {
	ctx := context.Background()
	store, err := NewRSVPStore(openTestDB(t))
	require.NoError(t, err)

	roster, err := store.GetRoster(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, roster.RSVPs)
	assert.Equal(t, uint64(5), roster.EventID)

	err = store.UpdateRoster(ctx, 5, func(r *model.Roster) error {
		r.Add(&model.RSVP{UserID: "a", Status: model.StatusYes, CreatedAt: time.Now()})
		return nil
	})
	require.NoError(t, err)

	failed := errors.New("rolled back")
	err = store.UpdateRoster(ctx, 5, func(r *model.Roster) error {
		r.Add(&model.RSVP{UserID: "b", Status: model.StatusYes, CreatedAt: time.Now()})
		return failed
	})
	assert.ErrorIs(t, err, failed)

	roster, err = store.GetRoster(ctx, 5)
	require.NoError(t, err)
	require.Len(t, roster.RSVPs, 1)
	assert.Equal(t, "a", roster.RSVPs[0].UserID)
	assert.Equal(t, uint64(5), roster.RSVPs[0].EventID)
}

func TestApplicationStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewApplicationStore(openTestDB(t))
	require.NoError(t, err)

	first := &model.Application{UserID: "u1", SubmittedAt: time.Now().Add(-time.Hour)}
	id, err := store.CreateApplication(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, model.ApplicationPending, first.Status)

	second := &model.Application{UserID: "u1", Answers: map[string]any{"q1": "hello"}}
	id, err = store.CreateApplication(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	_, err = store.CreateApplication(ctx, &model.Application{})
	assert.Error(t, err)

	latest, err := store.LatestApplicationByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.ID)
	assert.Equal(t, "hello", latest.Answers["q1"])

	_, err = store.LatestApplicationByUser(ctx, "u2")
	assert.ErrorIs(t, err, model.ErrNotFound)

	latest.Status = model.ApplicationApproved
	require.NoError(t, store.UpdateApplication(ctx, latest))
	got, err := store.GetApplicationByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationApproved, got.Status)

	assert.ErrorIs(t, store.UpdateApplication(ctx, &model.Application{ID: 77}), model.ErrNotFound)

	_, err = store.CreateApplication(ctx, &model.Application{UserID: "u2"})
	require.NoError(t, err)
	n, err := store.DeleteApplicationsByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = store.LatestApplicationByUser(ctx, "u1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	all, err := store.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "u2", all[0].UserID)
}

func TestNoShowStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewNoShowStore(openTestDB(t))
	require.NoError(t, err)

	now := time.Now()
	for _, ns := range []*model.NoShow{
		{EventID: 1, UserID: "ana", MarkedAt: now, MarkedBy: "org"},
		{EventID: 1, UserID: "bea", MarkedAt: now, MarkedBy: "org", Notes: "sick"},
		{EventID: 2, UserID: "ana", MarkedAt: now, MarkedBy: "org"},
		{EventID: 256, UserID: "cai", MarkedAt: now, MarkedBy: "org"},
	} {
		require.NoError(t, store.MarkNoShow(ctx, ns))
	}
	err = store.MarkNoShow(ctx, &model.NoShow{EventID: 1, UserID: "ana"})
	assert.ErrorIs(t, err, model.ErrConflict)

	list, err := store.ListNoShowsByEvent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ana", list[0].UserID)
	assert.Equal(t, "sick", list[1].Notes)

	list, err = store.ListNoShowsByEvent(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, list)

	counts, err := store.NoShowCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ana": 2, "bea": 1, "cai": 1}, counts)

	require.NoError(t, store.ClearNoShow(ctx, 1, "bea"))
	assert.ErrorIs(t, store.ClearNoShow(ctx, 1, "bea"), model.ErrNotFound)

	require.NoError(t, store.DeleteNoShowsByUser(ctx, "ana"))
	counts, err = store.NoShowCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"cai": 1}, counts)
}

func TestEventNoteStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewEventNoteStore(openTestDB(t))
	require.NoError(t, err)

	rules, err := store.CreateEventNote(ctx, &model.EventNote{Name: "Rules", Note: "Be kind."})
	require.NoError(t, err)
	_, err = store.CreateEventNote(ctx, &model.EventNote{Name: "Accessibility", Note: "Step-free."})
	require.NoError(t, err)
	_, err = store.CreateEventNote(ctx, &model.EventNote{Name: "rules", Note: "Again."})
	assert.ErrorIs(t, err, model.ErrConflict)

	notes, err := store.ListEventNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "Accessibility", notes[0].Name)

	got, err := store.GetEventNoteByID(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, "Be kind.", got.Note)

	require.NoError(t, store.DeleteEventNote(ctx, rules))
	_, err = store.GetEventNoteByID(ctx, rules)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, store.DeleteEventNote(ctx, rules), model.ErrNotFound)
}

func TestMetaStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewMetaStore(openTestDB(t))
	require.NoError(t, err)

	_, err = store.GetMeta(ctx, "reminders.last_run")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, store.SetMeta(ctx, "reminders.last_run", "2024-06-01"))
	require.NoError(t, store.SetMeta(ctx, "reminders.last_run", "2024-06-02"))
	v, err := store.GetMeta(ctx, "reminders.last_run")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02", v)
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const bucketEventNote = "event_note_store"

func NewEventNoteStore(db *bolt.DB) (*EventNoteStore, error) {
	return &EventNoteStore{db: db}, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketEventNote))
		return err
	})
}

type EventNoteStore struct {
	db *bolt.DB
}

// CreateEventNote fails with model.ErrConflict when the name is taken,
// ignoring case.
func (e *EventNoteStore) CreateEventNote(ctx context.Context, note *model.EventNote) (uint64, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "CreateEventNote")
	defer span.End()

	span.AddEvent("Update bucket")
	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEventNote))
		err := bucket.ForEach(func(_, v []byte) error {
			other := &model.EventNote{}
			if err := json.Unmarshal(v, other); err != nil {
				return err
			}
			if strings.EqualFold(other.Name, note.Name) {
				return fmt.Errorf("event note %q: %w", note.Name, model.ErrConflict)
			}
			return nil
		})
		if err != nil {
			return err
		}
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		note.ID = id
		j, err := json.Marshal(note)
		if err != nil {
			return err
		}
		return bucket.Put(itob(id), j)
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return note.ID, nil
}

func (e *EventNoteStore) GetEventNoteByID(ctx context.Context, id uint64) (*model.EventNote, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "GetEventNoteByID")
	defer span.End()

	span.AddEvent("View bucket")
	note := &model.EventNote{}
	err := e.db.View(func(tx *bolt.Tx) error {
		res := tx.Bucket([]byte(bucketEventNote)).Get(itob(id))
		if res == nil {
			return fmt.Errorf("event note %d: %w", id, model.ErrNotFound)
		}
		return json.Unmarshal(res, note)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return note, nil
}

// ListEventNotes returns every note ordered by name.
func (e *EventNoteStore) ListEventNotes(ctx context.Context) ([]*model.EventNote, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "ListEventNotes")
	defer span.End()

	span.AddEvent("View bucket")
	var notes []*model.EventNote
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEventNote)).ForEach(func(_, v []byte) error {
			note := &model.EventNote{}
			if err := json.Unmarshal(v, note); err != nil {
				return err
			}
			notes = append(notes, note)
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Name < notes[j].Name })
	return notes, nil
}

func (e *EventNoteStore) DeleteEventNote(ctx context.Context, id uint64) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "DeleteEventNote")
	defer span.End()

	span.AddEvent("Update bucket")
	return e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEventNote))
		if bucket.Get(itob(id)) == nil {
			err := fmt.Errorf("event note %d: %w", id, model.ErrNotFound)
			span.RecordError(err)
			return err
		}
		return bucket.Delete(itob(id))
	})
}

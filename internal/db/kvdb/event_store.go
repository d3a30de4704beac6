// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const bucketEvent = "event_store"

func NewEventStore(db *bolt.DB) (*EventStore, error) {
	return &EventStore{db: db}, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketEvent))
		return err
	})
}

type EventStore struct {
	db *bolt.DB
}

// CreateEvent stores a new event. A zero ID is replaced by the next bucket
// sequence; a preset ID must not exist yet.
func (e *EventStore) CreateEvent(ctx context.Context, event *model.Event) (uint64, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "CreateEvent")
	defer span.End()

	now := time.Now()
	if event.CreatedAt == nil {
		event.CreatedAt = &now
	}
	event.UpdatedAt = &now

	span.AddEvent("Update bucket")
	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEvent))
		if event.ID == 0 {
			id, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			event.ID = id
		} else if bucket.Get(itob(event.ID)) != nil {
			return fmt.Errorf("event %d already exists", event.ID)
		} else if event.ID > bucket.Sequence() {
			if err := bucket.SetSequence(event.ID); err != nil {
				return err
			}
		}
		j, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return bucket.Put(itob(event.ID), j)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int64("event.id", int64(event.ID)))
	return event.ID, nil
}

func (e *EventStore) GetEventByID(ctx context.Context, id uint64) (*model.Event, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "GetEventByID")
	defer span.End()

	span.AddEvent("View bucket")
	event := &model.Event{}
	return event, e.db.View(func(tx *bolt.Tx) error {
		res := tx.Bucket([]byte(bucketEvent)).Get(itob(id))
		if res == nil {
			err := fmt.Errorf("event %d: %w", id, model.ErrNotFound)
			span.RecordError(err)
			return err
		}
		return json.Unmarshal(res, event)
	})
}

func (e *EventStore) UpdateEvent(ctx context.Context, event *model.Event) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "UpdateEvent")
	defer span.End()

	if event.ID == 0 {
		err := errors.New("event ID is required for updating")
		span.RecordError(err)
		return err
	}
	now := time.Now()
	event.UpdatedAt = &now

	j, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.AddEvent("Update bucket")
	return e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketEvent))
		if bucket.Get(itob(event.ID)) == nil {
			return fmt.Errorf("event %d: %w", event.ID, model.ErrNotFound)
		}
		return bucket.Put(itob(event.ID), j)
	})
}

// ListEvents returns all events ordered by date.
func (e *EventStore) ListEvents(ctx context.Context) ([]*model.Event, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "ListEvents")
	defer span.End()

	span.AddEvent("View bucket")
	var events []*model.Event
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEvent)).ForEach(func(_, v []byte) error {
			event := &model.Event{}
			if err := json.Unmarshal(v, event); err != nil {
				span.RecordError(err)
				return err
			}
			events = append(events, event)
			return nil
		})
	})
	sort.SliceStable(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })
	return events, err
}

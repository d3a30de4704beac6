// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"context"
	"encoding/json"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const bucketRSVP = "rsvp_store"

// NewRSVPStore keeps one roster document per event. bbolt serialises write
// transactions, so UpdateRoster is atomic per event and user.
func NewRSVPStore(db *bolt.DB) (*RSVPStore, error) {
	return &RSVPStore{db: db}, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRSVP))
		return err
	})
}

type RSVPStore struct {
	db *bolt.DB
}

func (r *RSVPStore) GetRoster(ctx context.Context, eventID uint64) (*model.Roster, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "GetRoster", trace.WithAttributes(attribute.Int64("event.id", int64(eventID))))
	defer span.End()

	span.AddEvent("View bucket")
	var roster *model.Roster
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		roster, err = readRoster(tx.Bucket([]byte(bucketRSVP)), eventID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return roster, nil
}

func (r *RSVPStore) UpdateRoster(ctx context.Context, eventID uint64, fn func(*model.Roster) error) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "UpdateRoster", trace.WithAttributes(attribute.Int64("event.id", int64(eventID))))
	defer span.End()

	span.AddEvent("Update bucket")
	err := r.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketRSVP))
		roster, err := readRoster(bucket, eventID)
		if err != nil {
			return err
		}
		if err := fn(roster); err != nil {
			return err
		}
		j, err := json.Marshal(roster)
		if err != nil {
			return err
		}
		return bucket.Put(itob(eventID), j)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func readRoster(bucket *bolt.Bucket, eventID uint64) (*model.Roster, error) {
	roster := &model.Roster{EventID: eventID}
	res := bucket.Get(itob(eventID))
	if res == nil {
		return roster, nil
	}
	if err := json.Unmarshal(res, roster); err != nil {
		return nil, err
	}
	return roster, nil
}

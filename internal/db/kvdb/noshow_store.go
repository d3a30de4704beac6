// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const bucketNoShow = "noshow_store"

// NewNoShowStore keys records by event id followed by user id, so the
// records of one event are a prefix scan.
func NewNoShowStore(db *bolt.DB) (*NoShowStore, error) {
	return &NoShowStore{db: db}, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketNoShow))
		return err
	})
}

type NoShowStore struct {
	db *bolt.DB
}

func noShowKey(eventID uint64, userID string) []byte {
	return append(itob(eventID), userID...)
}

func (n *NoShowStore) MarkNoShow(ctx context.Context, ns *model.NoShow) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "MarkNoShow", trace.WithAttributes(attribute.Int64("event.id", int64(ns.EventID))))
	defer span.End()

	j, err := json.Marshal(ns)
	if err != nil {
		return err
	}

	span.AddEvent("Update bucket")
	err = n.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketNoShow))
		key := noShowKey(ns.EventID, ns.UserID)
		if bucket.Get(key) != nil {
			return fmt.Errorf("no-show of %q at event %d: %w", ns.UserID, ns.EventID, model.ErrConflict)
		}
		return bucket.Put(key, j)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (n *NoShowStore) ClearNoShow(ctx context.Context, eventID uint64, userID string) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "ClearNoShow", trace.WithAttributes(attribute.Int64("event.id", int64(eventID))))
	defer span.End()

	span.AddEvent("Update bucket")
	return n.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketNoShow))
		key := noShowKey(eventID, userID)
		if bucket.Get(key) == nil {
			err := fmt.Errorf("no-show of %q at event %d: %w", userID, eventID, model.ErrNotFound)
			span.RecordError(err)
			return err
		}
		return bucket.Delete(key)
	})
}

func (n *NoShowStore) ListNoShowsByEvent(ctx context.Context, eventID uint64) ([]*model.NoShow, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "ListNoShowsByEvent", trace.WithAttributes(attribute.Int64("event.id", int64(eventID))))
	defer span.End()

	span.AddEvent("View bucket")
	var out []*model.NoShow
	err := n.db.View(func(tx *bolt.Tx) error {
		prefix := itob(eventID)
		c := tx.Bucket([]byte(bucketNoShow)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			ns := &model.NoShow{}
			if err := json.Unmarshal(v, ns); err != nil {
				return err
			}
			out = append(out, ns)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

func (n *NoShowStore) NoShowCounts(ctx context.Context) (map[string]int, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "NoShowCounts")
	defer span.End()

	span.AddEvent("View bucket")
	counts := make(map[string]int)
	err := n.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketNoShow)).ForEach(func(k, _ []byte) error {
			counts[string(k[8:])]++
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return counts, nil
}

func (n *NoShowStore) DeleteNoShowsByUser(ctx context.Context, userID string) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "DeleteNoShowsByUser")
	defer span.End()

	span.AddEvent("Update bucket")
	return n.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketNoShow))
		var keys [][]byte
		err := bucket.ForEach(func(k, _ []byte) error {
			if string(k[8:]) == userID {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const bucketMeta = "meta_store"

func NewMetaStore(db *bolt.DB) (*MetaStore, error) {
	return &MetaStore{db: db}, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		return err
	})
}

type MetaStore struct {
	db *bolt.DB
}

func (m *MetaStore) GetMeta(ctx context.Context, key string) (string, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "GetMeta")
	defer span.End()

	var value string
	err := m.db.View(func(tx *bolt.Tx) error {
		res := tx.Bucket([]byte(bucketMeta)).Get([]byte(key))
		if res == nil {
			return fmt.Errorf("meta %q: %w", key, model.ErrNotFound)
		}
		value = string(res)
		return nil
	})
	return value, err
}

func (m *MetaStore) SetMeta(ctx context.Context, key, value string) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "SetMeta")
	defer span.End()

	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(key), []byte(value))
	})
}

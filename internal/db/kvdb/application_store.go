// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const bucketApplication = "application_store"

func NewApplicationStore(db *bolt.DB) (*ApplicationStore, error) {
	return &ApplicationStore{db: db}, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketApplication))
		return err
	})
}

type ApplicationStore struct {
	db *bolt.DB
}

func (a *ApplicationStore) CreateApplication(ctx context.Context, app *model.Application) (uint64, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "CreateApplication")
	defer span.End()

	if app.UserID == "" {
		err := errors.New("application needs a user")
		span.RecordError(err)
		return 0, err
	}
	if app.Status == "" {
		app.Status = model.ApplicationPending
	}
	if app.SubmittedAt.IsZero() {
		app.SubmittedAt = time.Now()
	}

	span.AddEvent("Update bucket")
	err := a.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketApplication))
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		app.ID = id
		j, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return bucket.Put(itob(id), j)
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return app.ID, nil
}

func (a *ApplicationStore) UpdateApplication(ctx context.Context, app *model.Application) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "UpdateApplication")
	defer span.End()

	j, err := json.Marshal(app)
	if err != nil {
		return err
	}

	span.AddEvent("Update bucket")
	return a.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketApplication))
		if bucket.Get(itob(app.ID)) == nil {
			return fmt.Errorf("application %d: %w", app.ID, model.ErrNotFound)
		}
		return bucket.Put(itob(app.ID), j)
	})
}

func (a *ApplicationStore) GetApplicationByID(ctx context.Context, id uint64) (*model.Application, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "GetApplicationByID")
	defer span.End()

	span.AddEvent("View bucket")
	app := &model.Application{}
	return app, a.db.View(func(tx *bolt.Tx) error {
		res := tx.Bucket([]byte(bucketApplication)).Get(itob(id))
		if res == nil {
			err := fmt.Errorf("application %d: %w", id, model.ErrNotFound)
			span.RecordError(err)
			return err
		}
		return json.Unmarshal(res, app)
	})
}

func (a *ApplicationStore) LatestApplicationByUser(ctx context.Context, userID string) (*model.Application, error) {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "LatestApplicationByUser")
	defer span.End()

	apps, err := a.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	var latest *model.Application
	for _, app := range apps {
		if app.UserID != userID {
			continue
		}
		if latest == nil || !app.SubmittedAt.Before(latest.SubmittedAt) {
			latest = app
		}
	}
	if latest == nil {
		err := fmt.Errorf("application of %q: %w", userID, model.ErrNotFound)
		span.RecordError(err)
		return nil, err
	}
	return latest, nil
}

// ListApplications returns applications in submission order.
func (a *ApplicationStore) ListApplications(ctx context.Context) ([]*model.Application, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "ListApplications")
	defer span.End()

	span.AddEvent("View bucket")
	var apps []*model.Application
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketApplication)).ForEach(func(_, v []byte) error {
			app := &model.Application{}
			if err := json.Unmarshal(v, app); err != nil {
				span.RecordError(err)
				return err
			}
			apps = append(apps, app)
			return nil
		})
	})
	return apps, err
}

func (a *ApplicationStore) DeleteApplicationsByUser(ctx context.Context, userID string) (int, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "DeleteApplicationsByUser")
	defer span.End()

	span.AddEvent("Update bucket")
	deleted := 0
	err := a.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketApplication))
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			app := &model.Application{}
			if err := json.Unmarshal(v, app); err != nil {
				return err
			}
			if app.UserID == userID {
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
		deleted = len(keys)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return deleted, nil
}

package repository

import (
	"context"

	"github.com/stemsi/psytest-backend/internal/model"
)

// Observer is notified after a session write commits. before is nil for
// newly created sessions. Observers must not block.
type Observer interface {
	SessionChanged(ctx context.Context, before, after *model.Session)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, before, after *model.Session)

func (f ObserverFunc) SessionChanged(ctx context.Context, before, after *model.Session) {
	f(ctx, before, after)
}

// ObservedStore decorates a SessionStore with post-commit notifications.
type ObservedStore struct {
	SessionStore
	observers []Observer
}

func NewObservedStore(inner SessionStore, observers ...Observer) *ObservedStore {
	return &ObservedStore{SessionStore: inner, observers: observers}
}

func (o *ObservedStore) Create(ctx context.Context, s *model.Session) error {
	if err := o.SessionStore.Create(ctx, s); err != nil {
		return err
	}
	o.notify(ctx, nil, s.Clone())
	return nil
}

// Update reports the committed transition. Skipped writes (ErrNoChange)
// are not reported.
func (o *ObservedStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Session, error) {
	var before *model.Session
	after, err := o.SessionStore.Update(ctx, id, func(s *model.Session) error {
		before = s.Clone()
		return fn(s)
	})
	if err != nil {
		return nil, err
	}
	if before != nil && after.Version != before.Version {
		o.notify(ctx, before, after.Clone())
	}
	return after, nil
}

func (o *ObservedStore) notify(ctx context.Context, before, after *model.Session) {
	for _, obs := range o.observers {
		obs.SessionChanged(ctx, before, after)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownApplication is returned when no tenant matches the given key or
// id.
var ErrUnknownApplication = errors.New("unknown application")

// Registry resolves tenants. The broker core only reads through this
// interface; implementations may serve from memory or a database.
type Registry interface {
	All(ctx context.Context) ([]*Application, error)
	FindByKey(ctx context.Context, key string) (*Application, error)
	FindByID(ctx context.Context, id string) (*Application, error)
}

// StaticRegistry serves Applications materialised from configuration at
// startup. It is immutable and safe for concurrent use.
type StaticRegistry struct {
	apps  []*Application
	byKey map[string]*Application
	byID  map[string]*Application
}

// NewStaticRegistry validates and indexes the given applications.
func NewStaticRegistry(apps []*Application) (*StaticRegistry, error) {
	r := &StaticRegistry{
		apps:  apps,
		byKey: make(map[string]*Application, len(apps)),
		byID:  make(map[string]*Application, len(apps)),
	}
	for _, a := range apps {
		if a.ID == "" || a.Key == "" || a.Secret == "" {
			return nil, fmt.Errorf("application %q: id, key and secret are required", a.ID)
		}
		if _, dup := r.byKey[a.Key]; dup {
			return nil, fmt.Errorf("duplicate application key %q", a.Key)
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate application id %q", a.ID)
		}
		a.ApplyDefaults()
		r.byKey[a.Key] = a
		r.byID[a.ID] = a
	}
	return r, nil
}

// All returns every configured application.
func (r *StaticRegistry) All(_ context.Context) ([]*Application, error) {
	return r.apps, nil
}

// FindByKey resolves an application by its routing key.
func (r *StaticRegistry) FindByKey(_ context.Context, key string) (*Application, error) {
	a, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, ErrUnknownApplication)
	}
	return a, nil
}

// FindByID resolves an application by its id.
func (r *StaticRegistry) FindByID(_ context.Context, id string) (*Application, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("id %q: %w", id, ErrUnknownApplication)
	}
	return a, nil
}

package vmstore

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/hupe1980/vmstore/docstore"
)

// GenerateID returns a fresh unique id without touching storage.
func (s *Store) GenerateID() string {
	return s.conn.opts.idGenerator()
}

// Get loads the view model with the given id; an empty id is replaced by a
// generated one. When no document exists the result holds only the id and
// has ActionNone, leaving it to the caller to mark it for creation.
// Existing documents come back with ActionUpdate.
func (s *Store) Get(ctx context.Context, id string) (*ViewModel, error) {
	start := time.Now()
	if id == "" {
		id = s.GenerateID()
	}

	doc, err := s.findOne(ctx, docstore.Filter{docstore.FieldKey: id}, nil)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		s.observeRead(ctx, "get", start, 0, nil)
		return NewViewModel(id), nil
	case err != nil:
		s.observeRead(ctx, "get", start, 0, err)
		return nil, err
	}

	vm := hydrate(doc)
	vm.action = ActionUpdate
	s.observeRead(ctx, "get", start, 1, nil)
	return vm, nil
}

// Find passes filter and opts to the backend and returns every match with
// ActionUpdate, in the order the backend returned them.
func (s *Store) Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]*ViewModel, error) {
	start := time.Now()

	coll, err := s.bind(false)
	if err != nil {
		s.observeRead(ctx, "find", start, 0, err)
		return nil, err
	}
	release, err := s.conn.acquire(ctx)
	if err != nil {
		s.observeRead(ctx, "find", start, 0, err)
		return nil, err
	}
	defer release()

	docs, err := coll.Find(ctx, filter, withManagedFields(opts))
	if err != nil {
		s.observeRead(ctx, "find", start, 0, err)
		return nil, err
	}

	vms := make([]*ViewModel, len(docs))
	for i, doc := range docs {
		vms[i] = hydrate(doc)
		vms[i].action = ActionUpdate
	}
	s.observeRead(ctx, "find", start, len(vms), nil)
	return vms, nil
}

// FindOne returns the first match with ActionUpdate. Unlike Get it returns
// (nil, nil) when nothing matches.
func (s *Store) FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (*ViewModel, error) {
	start := time.Now()

	doc, err := s.findOne(ctx, filter, opts)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		s.observeRead(ctx, "findOne", start, 0, nil)
		return nil, nil
	case err != nil:
		s.observeRead(ctx, "findOne", start, 0, err)
		return nil, err
	}

	vm := hydrate(doc)
	vm.action = ActionUpdate
	s.observeRead(ctx, "findOne", start, 1, nil)
	return vm, nil
}

func (s *Store) findOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (docstore.Document, error) {
	coll, err := s.bind(false)
	if err != nil {
		return nil, err
	}
	release, err := s.conn.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return coll.FindOne(ctx, filter, withManagedFields(opts))
}

// withManagedFields keeps the id and version token in projected results so
// projected view models can still be committed.
func withManagedFields(opts *docstore.FindOptions) *docstore.FindOptions {
	if opts == nil || len(opts.Projection) == 0 {
		return opts
	}
	out := *opts
	out.Projection = slices.Clone(opts.Projection)
	for _, f := range []string{FieldID, FieldVersion} {
		if !slices.Contains(out.Projection, f) {
			out.Projection = append(out.Projection, f)
		}
	}
	return &out
}

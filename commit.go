package vmstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/vmstore/docstore"
)

// Commit performs vm's pending action as a compare-and-swap on its version
// token. It returns only once the outcome of the conditional write is known.
//
//   - create inserts the document; an existing id yields ErrConcurrency.
//   - update replaces the document only if it still carries the token vm
//     was loaded with; otherwise ErrConcurrency. A view model without a
//     token is upserted unconditionally, which can overwrite a document
//     written by someone else without any version check.
//   - delete removes the document only if it still carries vm's token;
//     otherwise ErrConcurrency. Without a token it is a no-op.
//
// A successful create or update assigns a fresh token and sets ActionUpdate.
// A failed commit leaves the token as it was, so the caller can reload and
// retry.
func (s *Store) Commit(ctx context.Context, vm *ViewModel) error {
	if vm == nil {
		return fmt.Errorf("%w: nil view model", ErrConfiguration)
	}
	action := vm.Action()
	switch action {
	case ActionNone:
		return ErrNoAction
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return &UnknownActionError{Action: action}
	}

	start := time.Now()
	err := s.commit(ctx, vm, action)
	s.conn.opts.metricsCollector.RecordCommit(action, time.Since(start), err)
	s.logger.LogCommit(ctx, vm.ID(), action, err)
	return err
}

func (s *Store) commit(ctx context.Context, vm *ViewModel, action Action) error {
	coll, err := s.bind(false)
	if err != nil {
		return err
	}
	release, err := s.conn.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	switch action {
	case ActionCreate:
		return s.create(ctx, coll, vm)
	case ActionUpdate:
		return s.update(ctx, coll, vm)
	default:
		return s.delete(ctx, coll, vm)
	}
}

func (s *Store) create(ctx context.Context, coll docstore.Collection, vm *ViewModel) error {
	previous := vm.version
	vm.version = VersionToken(s.GenerateID())

	if err := coll.InsertOne(ctx, vm.document()); err != nil {
		vm.version = previous
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return ErrConcurrency
		}
		return err
	}
	vm.action = ActionUpdate
	return nil
}

func (s *Store) update(ctx context.Context, coll docstore.Collection, vm *ViewModel) error {
	previous := vm.version
	filter := docstore.Filter{docstore.FieldKey: vm.id}
	if !previous.IsZero() {
		filter[FieldVersion] = string(previous)
	}
	vm.version = VersionToken(s.GenerateID())

	res, err := coll.ReplaceOne(ctx, filter, vm.document(), previous.IsZero())
	if err != nil {
		vm.version = previous
		// Two tokenless upserts of a new id race on the unique key.
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return ErrConcurrency
		}
		return err
	}
	if !previous.IsZero() && res.Matched == 0 {
		vm.version = previous
		return ErrConcurrency
	}
	vm.action = ActionUpdate
	return nil
}

func (s *Store) delete(ctx context.Context, coll docstore.Collection, vm *ViewModel) error {
	if vm.version.IsZero() {
		return nil
	}
	n, err := coll.DeleteOne(ctx, docstore.Filter{
		docstore.FieldKey: vm.id,
		FieldVersion:      string(vm.version),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrency
	}
	return nil
}

package vmstore

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/vmstore/docstore"
)

// Repository is the contract host code programs against. Store implements
// it for one collection.
type Repository interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	GenerateID() string
	Get(ctx context.Context, id string) (*ViewModel, error)
	Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]*ViewModel, error)
	FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (*ViewModel, error)
	Commit(ctx context.Context, vm *ViewModel) error
	Clear(ctx context.Context) error
	ClearAll(ctx context.Context) error
}

var _ Repository = (*Store)(nil)

// Store persists the view models of one collection over a shared Conn.
// It is safe for concurrent use.
type Store struct {
	conn    *Conn
	name    string
	indexes []docstore.IndexSpec
	logger  *Logger

	mu      sync.Mutex
	sess    *session // session the binding belongs to
	coll    docstore.Collection
	indexed bool
}

// NewStore creates a store for collection. Indexes declared for collection
// in the Conn's config are provisioned on first use, followed by extra.
func NewStore(conn *Conn, collection string, extra ...docstore.IndexSpec) *Store {
	indexes := append([]docstore.IndexSpec(nil), conn.cfg.Indexes[collection]...)
	indexes = append(indexes, extra...)
	return &Store{
		conn:    conn,
		name:    collection,
		indexes: indexes,
		logger:  conn.opts.logger.WithCollection(collection),
	}
}

// Name returns the collection name.
func (s *Store) Name() string { return s.name }

// Conn returns the shared connection.
func (s *Store) Conn() *Conn { return s.conn }

// Connect connects the shared Conn. It is a no-op when already connected.
func (s *Store) Connect(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// Disconnect disconnects the shared Conn, and with it every store on it.
func (s *Store) Disconnect(ctx context.Context) error {
	return s.conn.Disconnect(ctx)
}

// bind returns the collection handle, creating and registering it on first
// use for the current link. Unless skipIndexes is set, the first bind also
// starts background index provisioning.
func (s *Store) bind(skipIndexes bool) (docstore.Collection, error) {
	sess, err := s.conn.current()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sess != sess {
		s.sess = sess
		s.coll = sess.client.Collection(s.name)
		s.conn.registry.Add(s.name)
	}
	if !skipIndexes && !s.indexed {
		s.indexed = true
		s.conn.provision(sess, s.coll, s.indexes)
	}
	return s.coll, nil
}

// EnsureIndexes provisions the declared indexes synchronously. Creation
// failures are logged at debug level and otherwise ignored; the returned
// error is only set when the store is not connected.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	coll, err := s.bind(true)
	if err != nil {
		return err
	}
	ensureIndexes(ctx, coll, s.indexes, s.logger)
	return nil
}

// Clear deletes every document of the collection.
func (s *Store) Clear(ctx context.Context) error {
	coll, err := s.bind(true)
	if err != nil {
		return err
	}
	err = s.conn.clear(ctx, coll)
	s.logger.LogClear(ctx, 1, err)
	return err
}

// ClearAll deletes every document in every collection bound over the
// shared Conn.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.bind(true); err != nil {
		return err
	}
	return s.conn.ClearAll(ctx)
}

func (s *Store) observeRead(ctx context.Context, op string, start time.Time, results int, err error) {
	s.conn.opts.metricsCollector.RecordRead(results, time.Since(start), err)
	s.logger.LogRead(ctx, op, results, err)
}

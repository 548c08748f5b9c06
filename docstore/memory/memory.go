// Package memory provides an in-process docstore backend.
//
// Every client opened from the same [Server] sees the same data, which makes
// it suitable for exercising several connections (or several writers) against
// one store in tests. The server also exposes fault-injection hooks for open,
// authentication, ping and index creation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vmstore/docstore"
)

// ErrNoEndpoints is returned by Open for a topology without endpoints.
var ErrNoEndpoints = errors.New("memory: topology has no endpoints")

// PingFunc replaces the default (always healthy) liveness probe.
type PingFunc func(ctx context.Context) error

// Server is the shared state behind every client. It implements docstore.Driver.
// Safe for concurrent use.
type Server struct {
	mu          sync.RWMutex
	databases   map[string]map[string]*collection
	openErr     error
	authErr     error
	indexErr    error
	ping        PingFunc
	topologies  []docstore.Topology
	credentials []docstore.Credentials

	opens  atomic.Int64
	closes atomic.Int64
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{
		databases: make(map[string]map[string]*collection),
	}
}

// SetOpenError makes subsequent Open calls fail with err (nil restores).
func (s *Server) SetOpenError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// SetAuthError makes subsequent Authenticate calls fail with err (nil restores).
func (s *Server) SetAuthError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authErr = err
}

// SetIndexError makes subsequent CreateIndex calls fail with err (nil restores).
func (s *Server) SetIndexError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexErr = err
}

// SetPingFunc replaces the liveness probe (nil restores the healthy default).
func (s *Server) SetPingFunc(fn PingFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ping = fn
}

// Topologies returns every topology passed to Open, in call order.
func (s *Server) Topologies() []docstore.Topology {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]docstore.Topology(nil), s.topologies...)
}

// Credentials returns every credential set passed to Authenticate, in call order.
func (s *Server) Credentials() []docstore.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]docstore.Credentials(nil), s.credentials...)
}

// Opens returns the number of successful Open calls.
func (s *Server) Opens() int64 { return s.opens.Load() }

// Closes returns the number of clients closed.
func (s *Server) Closes() int64 { return s.closes.Load() }

// Count returns the number of documents stored in db.name.
func (s *Server) Count(db, name string) int {
	c := s.lookup(db, name)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Document returns a copy of the document with the given key, or nil.
func (s *Server) Document(db, name, key string) docstore.Document {
	c := s.lookup(db, name)
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return docstore.Clone(c.docs[key])
}

// Indexes returns the indexes created on db.name, in creation order.
func (s *Server) Indexes(db, name string) []docstore.IndexSpec {
	c := s.lookup(db, name)
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]docstore.IndexSpec(nil), c.indexes...)
}

// Open implements docstore.Driver.
func (s *Server) Open(ctx context.Context, t docstore.Topology) (docstore.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.topologies = append(s.topologies, t)
	if s.openErr != nil {
		return nil, s.openErr
	}
	if len(t.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	s.opens.Add(1)
	return &client{server: s, db: t.Database}, nil
}

func (s *Server) lookup(db, name string) *collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.databases[db][name]
}

func (s *Server) collection(db, name string) *collection {
	if c := s.lookup(db, name); c != nil {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// double-checked
	colls, ok := s.databases[db]
	if !ok {
		colls = make(map[string]*collection)
		s.databases[db] = colls
	}
	c, ok := colls[name]
	if !ok {
		c = &collection{docs: make(map[string]docstore.Document)}
		colls[name] = c
	}
	return c
}

type client struct {
	server *Server
	db     string
	closed atomic.Bool
}

func (c *client) Authenticate(ctx context.Context, creds docstore.Credentials) error {
	if c.closed.Load() {
		return docstore.ErrClosed
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.credentials = append(c.server.credentials, creds)
	return c.server.authErr
}

func (c *client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return docstore.ErrClosed
	}
	c.server.mu.RLock()
	ping := c.server.ping
	c.server.mu.RUnlock()
	if ping != nil {
		return ping(ctx)
	}
	return ctx.Err()
}

func (c *client) Collection(name string) docstore.Collection {
	return &handle{client: c, name: name}
}

func (c *client) Close(context.Context) error {
	if c.closed.CompareAndSwap(false, true) {
		c.server.closes.Add(1)
	}
	return nil
}

// collection holds the documents of one collection. order keeps insertion
// order so that Find returns documents the way a real store scans them.
type collection struct {
	mu      sync.RWMutex
	docs    map[string]docstore.Document
	order   []string
	indexes []docstore.IndexSpec
}

func (c *collection) insertLocked(key string, doc docstore.Document) {
	c.docs[key] = doc
	c.order = append(c.order, key)
}

func (c *collection) deleteLocked(key string) {
	delete(c.docs, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// matchLocked returns the keys of matching documents in insertion order.
func (c *collection) matchLocked(filter docstore.Filter) []string {
	var keys []string
	for _, k := range c.order {
		if docstore.Match(c.docs[k], filter) {
			keys = append(keys, k)
		}
	}
	return keys
}

// handle is the docstore.Collection returned to callers.
type handle struct {
	client *client
	name   string
}

func (h *handle) coll() (*collection, error) {
	if h.client.closed.Load() {
		return nil, docstore.ErrClosed
	}
	return h.client.server.collection(h.client.db, h.name), nil
}

func (h *handle) Name() string { return h.name }

func (h *handle) InsertOne(ctx context.Context, doc docstore.Document) error {
	c, err := h.coll()
	if err != nil {
		return err
	}
	key, ok := doc.Key()
	if !ok {
		return fmt.Errorf("memory: insert into %s: document has no %s", h.name, docstore.FieldKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[key]; exists {
		return fmt.Errorf("%w: %s.%s %q", docstore.ErrDuplicateKey, h.client.db, h.name, key)
	}
	c.insertLocked(key, docstore.Clone(doc))
	return nil
}

func (h *handle) ReplaceOne(ctx context.Context, filter docstore.Filter, doc docstore.Document, upsert bool) (docstore.ReplaceResult, error) {
	c, err := h.coll()
	if err != nil {
		return docstore.ReplaceResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if keys := c.matchLocked(filter); len(keys) > 0 {
		replacement := docstore.Clone(doc)
		replacement[docstore.FieldKey] = c.docs[keys[0]][docstore.FieldKey]
		c.docs[keys[0]] = replacement
		return docstore.ReplaceResult{Matched: 1}, nil
	}
	if !upsert {
		return docstore.ReplaceResult{}, nil
	}

	replacement := docstore.Clone(doc)
	if _, ok := replacement.Key(); !ok {
		if id, ok := filter[docstore.FieldKey]; ok {
			replacement[docstore.FieldKey] = id
		}
	}
	key, ok := replacement.Key()
	if !ok {
		return docstore.ReplaceResult{}, fmt.Errorf("memory: upsert into %s: document has no %s", h.name, docstore.FieldKey)
	}
	if _, exists := c.docs[key]; exists {
		return docstore.ReplaceResult{}, fmt.Errorf("%w: %s.%s %q", docstore.ErrDuplicateKey, h.client.db, h.name, key)
	}
	c.insertLocked(key, replacement)
	return docstore.ReplaceResult{Upserted: true}, nil
}

func (h *handle) DeleteOne(ctx context.Context, filter docstore.Filter) (int64, error) {
	c, err := h.coll()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.matchLocked(filter)
	if len(keys) == 0 {
		return 0, nil
	}
	c.deleteLocked(keys[0])
	return 1, nil
}

func (h *handle) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	c, err := h.coll()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.matchLocked(filter)
	for _, k := range keys {
		c.deleteLocked(k)
	}
	return int64(len(keys)), nil
}

func (h *handle) FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (docstore.Document, error) {
	one := docstore.FindOptions{Limit: 1}
	if opts != nil {
		one = *opts
		one.Limit = 1
	}
	docs, err := h.Find(ctx, filter, &one)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, docstore.ErrNotFound
	}
	return docs[0], nil
}

func (h *handle) Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := h.coll()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	keys := c.matchLocked(filter)
	docs := make([]docstore.Document, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, docstore.Clone(c.docs[k]))
	}
	c.mu.RUnlock()

	return docstore.Apply(docs, opts), nil
}

func (h *handle) CreateIndex(ctx context.Context, spec docstore.IndexSpec) (string, error) {
	c, err := h.coll()
	if err != nil {
		return "", err
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	h.client.server.mu.RLock()
	indexErr := h.client.server.indexErr
	h.client.server.mu.RUnlock()
	if indexErr != nil {
		return "", indexErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.indexes {
		if existing.Name() == spec.Name() {
			return spec.Name(), nil
		}
	}
	c.indexes = append(c.indexes, spec)
	return spec.Name(), nil
}

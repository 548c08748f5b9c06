package docstore

import (
	"context"
	"errors"
	"net"
	"strconv"
)

var (
	// ErrNotFound is returned by FindOne when no document matches.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrDuplicateKey is returned by InsertOne (and by an upserting ReplaceOne)
	// when a document with the same _id already exists.
	//
	// Implementations should return an error that satisfies `errors.Is(err, ErrDuplicateKey)`.
	ErrDuplicateKey = errors.New("docstore: duplicate key")

	// ErrClosed is returned when a client or one of its collections is used after Close.
	ErrClosed = errors.New("docstore: client closed")
)

// Reserved document fields.
const (
	// FieldKey is the primary key of every stored document.
	FieldKey = "_id"
)

// Document is a raw stored record.
type Document map[string]any

// Key returns the document's primary key as a string.
func (d Document) Key() (string, bool) {
	v, ok := d[FieldKey]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return toString(v), true
}

// Filter selects documents. Its interpretation is left to the backend.
type Filter map[string]any

// SortOrder is the direction of a sort or index key.
type SortOrder int

const (
	// Ascending sorts from low to high.
	Ascending SortOrder = 1
	// Descending sorts from high to low.
	Descending SortOrder = -1
)

// SortField is one component of a sort specification.
type SortField struct {
	Field string
	Order SortOrder
}

// FindOptions are passed through to the backend unchanged.
type FindOptions struct {
	Sort       []SortField
	Skip       int64
	Limit      int64
	Projection []string
}

// ReplaceResult reports the outcome of a conditional replace.
type ReplaceResult struct {
	// Matched is the number of documents the filter matched.
	Matched int64
	// Upserted is true when no document matched and a new one was inserted.
	Upserted bool
}

// Endpoint is one server address.
type Endpoint struct {
	Host    string
	Port    int
	Options map[string]string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Topology describes what a Driver should connect to.
type Topology struct {
	// Endpoints holds one address for a single-server topology and every
	// member for a clustered one.
	Endpoints []Endpoint

	// Clustered is true when the endpoints form a replica set / cluster.
	Clustered bool

	// ReplicaSet optionally names the cluster.
	ReplicaSet string

	// Database is the logical database (or table prefix).
	Database string

	// TLS enables encrypted transport.
	TLS bool

	// AutoReconnect lets the driver transparently retry an operation after a
	// transient network failure.
	AutoReconnect bool

	// Compressors lists wire compressors, in preference order.
	Compressors []string

	// Region is used by cloud backends.
	Region string
}

// Credentials authenticate a client.
type Credentials struct {
	Username string
	Password string
	// AuthNamespace is the database (or realm) the user is defined in.
	AuthNamespace string
}

// Driver opens clients.
type Driver interface {
	// Open establishes an unauthenticated link to the topology.
	Open(ctx context.Context, t Topology) (Client, error)
}

// Client is an open link to a document store.
type Client interface {
	// Authenticate authenticates the link. It is called at most once, right after Open.
	Authenticate(ctx context.Context, creds Credentials) error

	// Ping is a lightweight liveness probe.
	Ping(ctx context.Context) error

	// Collection returns a handle for the named collection. It does not
	// touch the network.
	Collection(name string) Collection

	// Close closes the link. Calling Close more than once is a no-op.
	Close(ctx context.Context) error
}

// Collection is a named set of documents.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// InsertOne inserts doc. It fails with ErrDuplicateKey when doc's _id exists.
	InsertOne(ctx context.Context, doc Document) error

	// ReplaceOne atomically replaces the first document matching filter with
	// doc. When nothing matches and upsert is true, doc is inserted.
	ReplaceOne(ctx context.Context, filter Filter, doc Document, upsert bool) (ReplaceResult, error)

	// DeleteOne atomically deletes the first document matching filter and
	// returns the number of deleted documents (0 or 1).
	DeleteOne(ctx context.Context, filter Filter) (int64, error)

	// DeleteMany deletes every document matching filter. An empty filter
	// deletes everything.
	DeleteMany(ctx context.Context, filter Filter) (int64, error)

	// FindOne returns the first match or ErrNotFound.
	FindOne(ctx context.Context, filter Filter, opts *FindOptions) (Document, error)

	// Find returns every match in backend order.
	Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error)

	// CreateIndex requests creation of an index and returns its name.
	CreateIndex(ctx context.Context, spec IndexSpec) (string, error)
}

// Package mongo provides a docstore backend for MongoDB built on the official
// Go driver.
//
// # Usage
//
//	conn := vmstore.NewConn(cfg, mongo.NewDriver())
//	if err := conn.Connect(ctx); err != nil { ... }
//
// A single endpoint is dialed directly; several endpoints are treated as
// members of one replica set. Authentication re-dials the deployment with the
// credential attached and verifies it with a ping before swapping links.
package mongo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hupe1980/vmstore/docstore"
)

// DefaultConnectTimeout bounds dialing a deployment.
const DefaultConnectTimeout = 10 * time.Second

// Driver implements docstore.Driver for MongoDB.
type Driver struct {
	connectTimeout time.Duration
	configure      []func(*options.ClientOptions)
}

// Option configures a Driver.
type Option func(*Driver)

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		dr.connectTimeout = d
	}
}

// WithClientOptions applies fn to the driver's client options after the
// topology has been translated, e.g. to set a custom TLS config or pool size.
func WithClientOptions(fn func(*options.ClientOptions)) Option {
	return func(dr *Driver) {
		dr.configure = append(dr.configure, fn)
	}
}

// NewDriver creates a MongoDB driver.
func NewDriver(optFns ...Option) *Driver {
	d := &Driver{connectTimeout: DefaultConnectTimeout}
	for _, fn := range optFns {
		fn(d)
	}
	return d
}

// Open dials the topology and verifies it is reachable.
func (d *Driver) Open(ctx context.Context, t docstore.Topology) (docstore.Client, error) {
	opts := d.clientOptions(t, nil)
	mc, err := mongo.Connect(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{driver: d, topology: t}
	c.swap(mc)

	if err := c.Ping(ctx); err != nil {
		_ = mc.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return c, nil
}

// clientOptions translates a topology (and optional credential) into driver options.
func (d *Driver) clientOptions(t docstore.Topology, cred *options.Credential) *options.ClientOptions {
	hosts := make([]string, 0, len(t.Endpoints))
	for _, ep := range t.Endpoints {
		hosts = append(hosts, ep.Address())
	}

	opts := options.Client().
		SetHosts(hosts).
		SetConnectTimeout(d.connectTimeout).
		SetRetryReads(t.AutoReconnect).
		SetRetryWrites(t.AutoReconnect)

	if t.Clustered {
		if t.ReplicaSet != "" {
			opts.SetReplicaSet(t.ReplicaSet)
		}
	} else {
		opts.SetDirect(true)
	}
	if t.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if len(t.Compressors) > 0 {
		opts.SetCompressors(t.Compressors)
	}
	if cred != nil {
		opts.SetAuth(*cred)
	}
	for _, fn := range d.configure {
		fn(opts)
	}
	return opts
}

// Client is an open MongoDB link.
type Client struct {
	driver   *Driver
	topology docstore.Topology

	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
	closed bool
}

func (c *Client) swap(mc *mongo.Client) *mongo.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.client
	c.client = mc
	c.db = mc.Database(c.topology.Database)
	return old
}

func (c *Client) database() (*mongo.Database, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, docstore.ErrClosed
	}
	return c.db, nil
}

// Authenticate re-dials with the credential attached. The driver only
// authenticates at connection handshake, so the authenticated link replaces
// the anonymous one once a ping over it succeeds.
func (c *Client) Authenticate(ctx context.Context, creds docstore.Credentials) error {
	cred := options.Credential{
		Username:   creds.Username,
		Password:   creds.Password,
		AuthSource: creds.AuthNamespace,
	}
	authed, err := mongo.Connect(c.driver.clientOptions(c.topology, &cred))
	if err != nil {
		return err
	}
	if err := ping(ctx, authed.Database(c.topology.Database)); err != nil {
		_ = authed.Disconnect(context.WithoutCancel(ctx))
		return err
	}

	old := c.swap(authed)
	if old != nil {
		_ = old.Disconnect(context.WithoutCancel(ctx))
	}
	return nil
}

// Ping issues the ping command against the configured database.
func (c *Client) Ping(ctx context.Context) error {
	db, err := c.database()
	if err != nil {
		return err
	}
	return ping(ctx, db)
}

func ping(ctx context.Context, db *mongo.Database) error {
	return db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

// Collection returns a handle for name.
func (c *Client) Collection(name string) docstore.Collection {
	return &Collection{client: c, name: name}
}

// Close disconnects. It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	mc := c.client
	c.mu.Unlock()

	if mc == nil {
		return nil
	}
	return mc.Disconnect(ctx)
}

// Collection adapts *mongo.Collection to docstore.Collection.
type Collection struct {
	client *Client
	name   string
}

func (c *Collection) coll() (*mongo.Collection, error) {
	db, err := c.client.database()
	if err != nil {
		return nil, err
	}
	return db.Collection(c.name), nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// InsertOne inserts doc.
func (c *Collection) InsertOne(ctx context.Context, doc docstore.Document) error {
	coll, err := c.coll()
	if err != nil {
		return err
	}
	_, err = coll.InsertOne(ctx, bson.M(doc))
	return translateError(err)
}

// ReplaceOne replaces the first document matching filter.
func (c *Collection) ReplaceOne(ctx context.Context, filter docstore.Filter, doc docstore.Document, upsert bool) (docstore.ReplaceResult, error) {
	coll, err := c.coll()
	if err != nil {
		return docstore.ReplaceResult{}, err
	}
	res, err := coll.ReplaceOne(ctx, toFilter(filter), bson.M(doc), options.Replace().SetUpsert(upsert))
	if err != nil {
		return docstore.ReplaceResult{}, translateError(err)
	}
	return docstore.ReplaceResult{
		Matched:  res.MatchedCount,
		Upserted: res.UpsertedCount > 0,
	}, nil
}

// DeleteOne deletes the first document matching filter.
func (c *Collection) DeleteOne(ctx context.Context, filter docstore.Filter) (int64, error) {
	coll, err := c.coll()
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteOne(ctx, toFilter(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteMany deletes every document matching filter.
func (c *Collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	coll, err := c.coll()
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, toFilter(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// FindOne returns the first match or docstore.ErrNotFound.
func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (docstore.Document, error) {
	coll, err := c.coll()
	if err != nil {
		return nil, err
	}
	var raw bson.M
	if err := coll.FindOne(ctx, toFilter(filter), findOneOptions(opts)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	return docstore.Document(raw), nil
}

// Find returns every match in server order.
func (c *Collection) Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]docstore.Document, error) {
	coll, err := c.coll()
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, toFilter(filter), findOptions(opts))
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, err
	}
	docs := make([]docstore.Document, len(raws))
	for i, r := range raws {
		docs[i] = docstore.Document(r)
	}
	return docs, nil
}

// CreateIndex creates the index described by spec.
func (c *Collection) CreateIndex(ctx context.Context, spec docstore.IndexSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	coll, err := c.coll()
	if err != nil {
		return "", err
	}
	return coll.Indexes().CreateOne(ctx, indexModel(spec))
}

func toFilter(f docstore.Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M(f)
}

func sortDoc(fields []docstore.SortField) bson.D {
	d := make(bson.D, 0, len(fields))
	for _, f := range fields {
		d = append(d, bson.E{Key: f.Field, Value: int(f.Order)})
	}
	return d
}

func projectionDoc(fields []string) bson.D {
	d := make(bson.D, 0, len(fields))
	for _, f := range fields {
		d = append(d, bson.E{Key: f, Value: 1})
	}
	return d
}

func findOptions(o *docstore.FindOptions) *options.FindOptionsBuilder {
	b := options.Find()
	if o == nil {
		return b
	}
	if len(o.Sort) > 0 {
		b.SetSort(sortDoc(o.Sort))
	}
	if o.Skip > 0 {
		b.SetSkip(o.Skip)
	}
	if o.Limit > 0 {
		b.SetLimit(o.Limit)
	}
	if len(o.Projection) > 0 {
		b.SetProjection(projectionDoc(o.Projection))
	}
	return b
}

func findOneOptions(o *docstore.FindOptions) *options.FindOneOptionsBuilder {
	b := options.FindOne()
	if o == nil {
		return b
	}
	if len(o.Sort) > 0 {
		b.SetSort(sortDoc(o.Sort))
	}
	if o.Skip > 0 {
		b.SetSkip(o.Skip)
	}
	if len(o.Projection) > 0 {
		b.SetProjection(projectionDoc(o.Projection))
	}
	return b
}

func indexModel(spec docstore.IndexSpec) mongo.IndexModel {
	keys := make(bson.D, 0, len(spec.Keys))
	for _, k := range spec.Keys {
		keys = append(keys, bson.E{Key: k.Field, Value: int(k.Order)})
	}

	opts := options.Index().SetName(spec.Name())
	if spec.Options.Unique {
		opts.SetUnique(true)
	}
	if spec.Options.Sparse {
		opts.SetSparse(true)
	}
	if spec.Options.ExpireAfterSeconds > 0 {
		opts.SetExpireAfterSeconds(spec.Options.ExpireAfterSeconds)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", docstore.ErrDuplicateKey, err)
	}
	return err
}

// Package dynamodb provides a docstore backend for Amazon DynamoDB.
//
// Each collection is a table named "<database>_<collection>" with the string
// partition key "_id". Conditional writes give the same compare-and-swap
// guarantees as MongoDB's filtered replace and delete:
//
//   - InsertOne uses attribute_not_exists(_id)
//   - ReplaceOne and DeleteOne require every filter field to match
//   - a failed condition maps to docstore.ErrDuplicateKey (insert) or a
//     zero match count (replace, delete)
//
// Create a table with:
//
//	aws dynamodb create-table \
//	  --table-name context_users \
//	  --attribute-definitions AttributeName=_id,AttributeType=S \
//	  --key-schema AttributeName=_id,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
//
// Filters are evaluated client-side after a consistent scan (see
// docstore.Match), so Find is intended for small collections and tooling.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/vmstore/docstore"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
}

var (
	// ErrKeyRequired is returned when a conditional write's filter has no string _id.
	ErrKeyRequired = errors.New("dynamodb: filter must contain a string _id")

	// ErrTooManyIndexKeys is returned for indexes with more than a hash and a range key.
	ErrTooManyIndexKeys = errors.New("dynamodb: index supports at most two keys")
)

// ClientFactory builds a DDBClient for a resolved AWS config.
type ClientFactory func(cfg aws.Config, endpoint string) DDBClient

// Driver implements docstore.Driver for DynamoDB.
type Driver struct {
	newClient  ClientFactory
	loadConfig []func(*config.LoadOptions) error
}

// Option configures a Driver.
type Option func(*Driver)

// WithClientFactory replaces the DynamoDB client constructor (useful for tests).
func WithClientFactory(f ClientFactory) Option {
	return func(d *Driver) {
		d.newClient = f
	}
}

// WithLoadOptions appends options for config.LoadDefaultConfig.
func WithLoadOptions(optFns ...func(*config.LoadOptions) error) Option {
	return func(d *Driver) {
		d.loadConfig = append(d.loadConfig, optFns...)
	}
}

// NewDriver creates a DynamoDB driver.
func NewDriver(optFns ...Option) *Driver {
	d := &Driver{newClient: defaultClient}
	for _, fn := range optFns {
		fn(d)
	}
	return d
}

func defaultClient(cfg aws.Config, endpoint string) DDBClient {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// endpointURL returns the override endpoint, or "" for the regional AWS endpoint.
// DynamoDB is regional, so only the first endpoint of a topology is used.
func endpointURL(t docstore.Topology) string {
	if len(t.Endpoints) == 0 || t.Endpoints[0].Host == "" {
		return ""
	}
	scheme := "http"
	if t.TLS {
		scheme = "https"
	}
	return scheme + "://" + t.Endpoints[0].Address()
}

// Open resolves the AWS configuration and verifies the endpoint answers.
func (d *Driver) Open(ctx context.Context, t docstore.Topology) (docstore.Client, error) {
	loadOpts := make([]func(*config.LoadOptions) error, 0, len(d.loadConfig)+2)
	if t.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(t.Region))
	}
	if !t.AutoReconnect {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(1))
	}
	loadOpts = append(loadOpts, d.loadConfig...)

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load config: %w", err)
	}

	c := &Client{
		driver:   d,
		cfg:      cfg,
		endpoint: endpointURL(t),
		database: t.Database,
	}
	c.ddb = d.newClient(cfg, c.endpoint)

	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Client is an open DynamoDB link.
type Client struct {
	driver   *Driver
	cfg      aws.Config
	endpoint string
	database string

	mu     sync.RWMutex
	ddb    DDBClient
	closed bool
}

func (c *Client) api() (DDBClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, docstore.ErrClosed
	}
	return c.ddb, nil
}

// Authenticate switches to static credentials: Username is the access key
// id, Password the secret key and AuthNamespace an optional session token.
func (c *Client) Authenticate(ctx context.Context, creds docstore.Credentials) error {
	cfg := c.cfg.Copy()
	cfg.Credentials = aws.NewCredentialsCache(
		credentials.NewStaticCredentialsProvider(creds.Username, creds.Password, creds.AuthNamespace),
	)
	ddb := c.driver.newClient(cfg, c.endpoint)

	if err := ping(ctx, ddb); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.ddb = ddb
	return nil
}

// Ping lists at most one table.
func (c *Client) Ping(ctx context.Context) error {
	ddb, err := c.api()
	if err != nil {
		return err
	}
	return ping(ctx, ddb)
}

func ping(ctx context.Context, ddb DDBClient) error {
	_, err := ddb.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("dynamodb: ping: %w", err)
	}
	return nil
}

// Collection returns a handle for the table backing name.
func (c *Client) Collection(name string) docstore.Collection {
	table := name
	if c.database != "" {
		table = c.database + "_" + name
	}
	return &Collection{client: c, name: name, table: table}
}

// Close marks the client closed. The SDK client holds no connection state
// that needs releasing.
func (c *Client) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Collection is one DynamoDB table.
type Collection struct {
	client *Client
	name   string
	table  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Table returns the backing table name.
func (c *Collection) Table() string { return c.table }

// InsertOne puts doc unless an item with the same _id exists.
func (c *Collection) InsertOne(ctx context.Context, doc docstore.Document) error {
	ddb, err := c.client.api()
	if err != nil {
		return err
	}
	key, ok := doc.Key()
	if !ok {
		return ErrKeyRequired
	}
	item, err := marshalDocument(doc)
	if err != nil {
		return err
	}

	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(c.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": docstore.FieldKey},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s %q", docstore.ErrDuplicateKey, c.table, key)
		}
		return fmt.Errorf("dynamodb: put %s: %w", c.table, err)
	}
	return nil
}

// ReplaceOne puts doc when the item addressed by filter's _id matches every
// other filter field. With upsert a missing item is created as well.
func (c *Collection) ReplaceOne(ctx context.Context, filter docstore.Filter, doc docstore.Document, upsert bool) (docstore.ReplaceResult, error) {
	ddb, err := c.client.api()
	if err != nil {
		return docstore.ReplaceResult{}, err
	}
	key, ok := filterKey(filter)
	if !ok {
		return docstore.ReplaceResult{}, ErrKeyRequired
	}

	replacement := docstore.Clone(doc)
	replacement[docstore.FieldKey] = key
	item, err := marshalDocument(replacement)
	if err != nil {
		return docstore.ReplaceResult{}, err
	}

	cond, err := buildCondition(filter, upsert)
	if err != nil {
		return docstore.ReplaceResult{}, err
	}

	out, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(c.table),
		Item:                      item,
		ConditionExpression:       cond.expression,
		ExpressionAttributeNames:  cond.names,
		ExpressionAttributeValues: cond.values,
		ReturnValues:              types.ReturnValueAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return docstore.ReplaceResult{}, nil
		}
		return docstore.ReplaceResult{}, fmt.Errorf("dynamodb: put %s: %w", c.table, err)
	}
	if len(out.Attributes) == 0 {
		return docstore.ReplaceResult{Upserted: true}, nil
	}
	return docstore.ReplaceResult{Matched: 1}, nil
}

// DeleteOne deletes the item addressed by filter's _id when every other
// filter field matches.
func (c *Collection) DeleteOne(ctx context.Context, filter docstore.Filter) (int64, error) {
	ddb, err := c.client.api()
	if err != nil {
		return 0, err
	}
	key, ok := filterKey(filter)
	if !ok {
		return 0, ErrKeyRequired
	}
	cond, err := buildCondition(filter, false)
	if err != nil {
		return 0, err
	}

	_, err = ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(c.table),
		Key:                       keyAttr(key),
		ConditionExpression:       cond.expression,
		ExpressionAttributeNames:  cond.names,
		ExpressionAttributeValues: cond.values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, nil
		}
		return 0, fmt.Errorf("dynamodb: delete %s: %w", c.table, err)
	}
	return 1, nil
}

// DeleteMany scans for matches and deletes them one by one.
func (c *Collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	ddb, err := c.client.api()
	if err != nil {
		return 0, err
	}
	docs, err := c.scan(ctx, ddb, filter)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, d := range docs {
		key, ok := d.Key()
		if !ok {
			continue
		}
		if _, err := ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.table),
			Key:       keyAttr(key),
		}); err != nil {
			return n, fmt.Errorf("dynamodb: delete %s: %w", c.table, err)
		}
		n++
	}
	return n, nil
}

// FindOne uses a consistent GetItem for pure key lookups and a scan otherwise.
func (c *Collection) FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (docstore.Document, error) {
	ddb, err := c.client.api()
	if err != nil {
		return nil, err
	}

	if key, ok := filterKey(filter); ok && len(filter) == 1 && opts == nil {
		out, err := ddb.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(c.table),
			Key:            keyAttr(key),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb: get %s: %w", c.table, err)
		}
		if len(out.Item) == 0 {
			return nil, docstore.ErrNotFound
		}
		return unmarshalDocument(out.Item)
	}

	one := docstore.FindOptions{Limit: 1}
	if opts != nil {
		one = *opts
		one.Limit = 1
	}
	docs, err := c.Find(ctx, filter, &one)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, docstore.ErrNotFound
	}
	return docs[0], nil
}

// Find scans the table and evaluates filter and opts client-side.
func (c *Collection) Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]docstore.Document, error) {
	ddb, err := c.client.api()
	if err != nil {
		return nil, err
	}
	docs, err := c.scan(ctx, ddb, filter)
	if err != nil {
		return nil, err
	}
	return docstore.Apply(docs, opts), nil
}

func (c *Collection) scan(ctx context.Context, ddb DDBClient, filter docstore.Filter) ([]docstore.Document, error) {
	var (
		docs  []docstore.Document
		start map[string]types.AttributeValue
	)
	for {
		out, err := ddb.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(c.table),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb: scan %s: %w", c.table, err)
		}
		for _, item := range out.Items {
			d, err := unmarshalDocument(item)
			if err != nil {
				return nil, err
			}
			if docstore.Match(d, filter) {
				docs = append(docs, d)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return docs, nil
		}
		start = out.LastEvaluatedKey
	}
}

// CreateIndex adds a global secondary index. The first key becomes the hash
// key and the optional second key the range key; key attributes are strings.
func (c *Collection) CreateIndex(ctx context.Context, spec docstore.IndexSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	if len(spec.Keys) > 2 {
		return "", ErrTooManyIndexKeys
	}
	ddb, err := c.client.api()
	if err != nil {
		return "", err
	}

	var (
		schema = make([]types.KeySchemaElement, 0, len(spec.Keys))
		defs   = make([]types.AttributeDefinition, 0, len(spec.Keys))
	)
	for i, k := range spec.Keys {
		keyType := types.KeyTypeHash
		if i == 1 {
			keyType = types.KeyTypeRange
		}
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(k.Field), KeyType: keyType})
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(k.Field), AttributeType: types.ScalarAttributeTypeS})
	}

	name := spec.Name()
	_, err = ddb.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName:            aws.String(c.table),
		AttributeDefinitions: defs,
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:  aws.String(name),
				KeySchema:  schema,
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb: create index %s on %s: %w", name, c.table, err)
	}
	return name, nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		docstore.FieldKey: &types.AttributeValueMemberS{Value: key},
	}
}

func filterKey(filter docstore.Filter) (string, bool) {
	key, ok := filter[docstore.FieldKey].(string)
	return key, ok
}

func marshalDocument(doc docstore.Document) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("dynamodb: marshal document: %w", err)
	}
	return item, nil
}

func unmarshalDocument(item map[string]types.AttributeValue) (docstore.Document, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, fmt.Errorf("dynamodb: unmarshal item: %w", err)
	}
	return docstore.Document(m), nil
}

// condition is a hand-built condition expression.
type condition struct {
	expression *string
	names      map[string]string
	values     map[string]types.AttributeValue
}

// buildCondition requires the item to exist and every non-key filter field to
// equal its filter value. With upsert, a missing item satisfies it as well;
// an upsert on the key alone needs no condition at all.
//
// Generated form: "attribute_exists(#k) AND #f0 = :v0 AND ..." or, for
// upserts, "attribute_not_exists(#k) OR (attribute_exists(#k) AND ...)".
func buildCondition(filter docstore.Filter, upsert bool) (condition, error) {
	fields := make([]string, 0, len(filter))
	for f := range filter {
		if f != docstore.FieldKey {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	if upsert && len(fields) == 0 {
		return condition{}, nil
	}

	cond := condition{
		names:  map[string]string{"#k": docstore.FieldKey},
		values: make(map[string]types.AttributeValue, len(fields)),
	}
	clauses := []string{"attribute_exists(#k)"}
	for i, f := range fields {
		av, err := attributevalue.Marshal(filter[f])
		if err != nil {
			return condition{}, fmt.Errorf("dynamodb: marshal filter field %q: %w", f, err)
		}
		name, value := fmt.Sprintf("#f%d", i), fmt.Sprintf(":v%d", i)
		cond.names[name] = f
		cond.values[value] = av
		clauses = append(clauses, name+" = "+value)
	}

	expr := strings.Join(clauses, " AND ")
	if upsert {
		expr = "attribute_not_exists(#k) OR (" + expr + ")"
	}
	cond.expression = aws.String(expr)
	if len(cond.values) == 0 {
		cond.values = nil
	}
	return cond, nil
}

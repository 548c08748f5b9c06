package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hupe1980/vmstore/docstore"
)

func TestClientOptions(t *testing.T) {
	t.Run("SingleServer", func(t *testing.T) {
		d := NewDriver()
		opts := d.clientOptions(docstore.Topology{
			Endpoints: []docstore.Endpoint{{Host: "localhost", Port: 27017}},
			Database:  "context",
		}, nil)

		assert.Equal(t, []string{"localhost:27017"}, opts.Hosts)
		require.NotNil(t, opts.Direct)
		assert.True(t, *opts.Direct)
		assert.Nil(t, opts.ReplicaSet)
		assert.Nil(t, opts.TLSConfig)
		assert.Nil(t, opts.Auth)
		require.NotNil(t, opts.RetryReads)
		assert.False(t, *opts.RetryReads)
		require.NotNil(t, opts.RetryWrites)
		assert.False(t, *opts.RetryWrites)
		require.NotNil(t, opts.ConnectTimeout)
		assert.Equal(t, DefaultConnectTimeout, *opts.ConnectTimeout)
	})

	t.Run("ReplicaSet", func(t *testing.T) {
		d := NewDriver(WithConnectTimeout(time.Second))
		opts := d.clientOptions(docstore.Topology{
			Endpoints: []docstore.Endpoint{
				{Host: "db1", Port: 27017},
				{Host: "db2", Port: 27018},
			},
			Clustered:     true,
			ReplicaSet:    "rs0",
			TLS:           true,
			AutoReconnect: true,
			Compressors:   []string{"zstd"},
		}, nil)

		assert.Equal(t, []string{"db1:27017", "db2:27018"}, opts.Hosts)
		assert.Nil(t, opts.Direct)
		require.NotNil(t, opts.ReplicaSet)
		assert.Equal(t, "rs0", *opts.ReplicaSet)
		require.NotNil(t, opts.TLSConfig)
		assert.Equal(t, []string{"zstd"}, opts.Compressors)
		assert.True(t, *opts.RetryReads)
		assert.True(t, *opts.RetryWrites)
		assert.Equal(t, time.Second, *opts.ConnectTimeout)
	})

	t.Run("Credential", func(t *testing.T) {
		d := NewDriver()
		cred := options.Credential{Username: "app", Password: "secret", AuthSource: "admin"}
		opts := d.clientOptions(docstore.Topology{
			Endpoints: []docstore.Endpoint{{Host: "localhost", Port: 27017}},
		}, &cred)

		require.NotNil(t, opts.Auth)
		assert.Equal(t, cred, *opts.Auth)
	})

	t.Run("CustomOptions", func(t *testing.T) {
		d := NewDriver(WithClientOptions(func(o *options.ClientOptions) {
			o.SetAppName("vmstore-test")
		}))
		opts := d.clientOptions(docstore.Topology{}, nil)

		require.NotNil(t, opts.AppName)
		assert.Equal(t, "vmstore-test", *opts.AppName)
	})
}

func TestFindOptions(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.Empty(t, findOptions(nil).List())
		assert.Empty(t, findOneOptions(nil).List())
	})

	t.Run("Find", func(t *testing.T) {
		b := findOptions(&docstore.FindOptions{
			Sort:       []docstore.SortField{{Field: "a", Order: docstore.Ascending}, {Field: "b", Order: docstore.Descending}},
			Skip:       5,
			Limit:      10,
			Projection: []string{"a"},
		})

		var got options.FindOptions
		for _, fn := range b.List() {
			require.NoError(t, fn(&got))
		}
		assert.Equal(t, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: -1}}, got.Sort)
		assert.Equal(t, int64(5), *got.Skip)
		assert.Equal(t, int64(10), *got.Limit)
		assert.Equal(t, bson.D{{Key: "a", Value: 1}}, got.Projection)
	})

	t.Run("FindOneIgnoresLimit", func(t *testing.T) {
		b := findOneOptions(&docstore.FindOptions{Skip: 2, Limit: 10})

		var got options.FindOneOptions
		for _, fn := range b.List() {
			require.NoError(t, fn(&got))
		}
		assert.Equal(t, int64(2), *got.Skip)
		assert.Nil(t, got.Sort)
	})
}

func TestIndexModel(t *testing.T) {
	m := indexModel(docstore.IndexSpec{
		Keys: []docstore.IndexKey{
			{Field: "lastName", Order: docstore.Ascending},
			{Field: "firstName", Order: docstore.Descending},
		},
		Options: docstore.IndexOptions{Unique: true, Sparse: true, ExpireAfterSeconds: 3600},
	})

	assert.Equal(t, bson.D{{Key: "lastName", Value: 1}, {Key: "firstName", Value: -1}}, m.Keys)

	var got options.IndexOptions
	for _, fn := range m.Options.List() {
		require.NoError(t, fn(&got))
	}
	assert.Equal(t, "lastName_1_firstName_-1", *got.Name)
	assert.True(t, *got.Unique)
	assert.True(t, *got.Sparse)
	assert.Equal(t, int32(3600), *got.ExpireAfterSeconds)
}

func TestToFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, toFilter(nil))
	assert.Equal(t, bson.M{"_id": "a", "_hash": "h"}, toFilter(docstore.Filter{"_id": "a", "_hash": "h"}))
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	dup := mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
	err := translateError(dup)
	assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
	assert.True(t, mongo.IsDuplicateKeyError(err))

	other := errors.New("network")
	assert.Equal(t, other, translateError(other))
}

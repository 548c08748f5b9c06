package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmstore/docstore"
)

var topology = docstore.Topology{
	Endpoints: []docstore.Endpoint{{Host: "localhost", Port: 27017}},
	Database:  "test",
}

func open(t *testing.T, srv *Server) docstore.Client {
	t.Helper()
	c, err := srv.Open(context.Background(), topology)
	require.NoError(t, err)
	return c
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("RecordsTopology", func(t *testing.T) {
		srv := NewServer()
		open(t, srv)

		assert.Equal(t, []docstore.Topology{topology}, srv.Topologies())
		assert.Equal(t, int64(1), srv.Opens())
	})

	t.Run("NoEndpoints", func(t *testing.T) {
		_, err := NewServer().Open(ctx, docstore.Topology{Database: "test"})
		assert.ErrorIs(t, err, ErrNoEndpoints)
	})

	t.Run("InjectedError", func(t *testing.T) {
		srv := NewServer()
		boom := errors.New("boom")
		srv.SetOpenError(boom)

		_, err := srv.Open(ctx, topology)
		assert.ErrorIs(t, err, boom)

		srv.SetOpenError(nil)
		open(t, srv)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewServer().Open(cctx, topology)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("AuthenticateAndPing", func(t *testing.T) {
		srv := NewServer()
		c := open(t, srv)

		creds := docstore.Credentials{Username: "u", Password: "p", AuthNamespace: "admin"}
		require.NoError(t, c.Authenticate(ctx, creds))
		assert.Equal(t, []docstore.Credentials{creds}, srv.Credentials())
		assert.NoError(t, c.Ping(ctx))

		lost := errors.New("lost")
		srv.SetPingFunc(func(context.Context) error { return lost })
		assert.ErrorIs(t, c.Ping(ctx), lost)
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		srv := NewServer()
		c := open(t, srv)

		require.NoError(t, c.Close(ctx))
		require.NoError(t, c.Close(ctx))

		assert.Equal(t, int64(1), srv.Closes())
		assert.ErrorIs(t, c.Ping(ctx), docstore.ErrClosed)
		assert.ErrorIs(t, c.Collection("x").InsertOne(ctx, docstore.Document{"_id": "a"}), docstore.ErrClosed)
	})

	t.Run("ClientsShareData", func(t *testing.T) {
		srv := NewServer()
		a, b := open(t, srv), open(t, srv)

		require.NoError(t, a.Collection("users").InsertOne(ctx, docstore.Document{"_id": "1"}))

		doc, err := b.Collection("users").FindOne(ctx, docstore.Filter{"_id": "1"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "1", doc["_id"])
		assert.Equal(t, 1, srv.Count("test", "users"))
	})
}

func TestCollection(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Server, docstore.Collection) {
		srv := NewServer()
		coll := open(t, srv).Collection("users")
		for _, doc := range []docstore.Document{
			{"_id": "1", "v": "a", "n": 3},
			{"_id": "2", "v": "a", "n": 1},
			{"_id": "3", "v": "b", "n": 2},
		} {
			require.NoError(t, coll.InsertOne(ctx, doc))
		}
		return srv, coll
	}

	t.Run("InsertDuplicate", func(t *testing.T) {
		_, coll := setup(t)
		err := coll.InsertOne(ctx, docstore.Document{"_id": "1"})
		assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
	})

	t.Run("InsertWithoutKey", func(t *testing.T) {
		_, coll := setup(t)
		assert.Error(t, coll.InsertOne(ctx, docstore.Document{"v": "x"}))
	})

	t.Run("InsertCopiesDocument", func(t *testing.T) {
		srv, coll := setup(t)
		doc := docstore.Document{"_id": "4", "v": "x"}
		require.NoError(t, coll.InsertOne(ctx, doc))
		doc["v"] = "mutated"

		assert.Equal(t, "x", srv.Document("test", "users", "4")["v"])
	})

	t.Run("ReplaceConditional", func(t *testing.T) {
		srv, coll := setup(t)

		res, err := coll.ReplaceOne(ctx, docstore.Filter{"_id": "1", "v": "a"}, docstore.Document{"v": "c"}, false)
		require.NoError(t, err)
		assert.Equal(t, docstore.ReplaceResult{Matched: 1}, res)
		assert.Equal(t, docstore.Document{"_id": "1", "v": "c"}, srv.Document("test", "users", "1"))

		res, err = coll.ReplaceOne(ctx, docstore.Filter{"_id": "1", "v": "a"}, docstore.Document{"v": "d"}, false)
		require.NoError(t, err)
		assert.Equal(t, docstore.ReplaceResult{}, res)
		assert.Equal(t, "c", srv.Document("test", "users", "1")["v"])
	})

	t.Run("ReplaceUpsert", func(t *testing.T) {
		srv, coll := setup(t)

		res, err := coll.ReplaceOne(ctx, docstore.Filter{"_id": "9"}, docstore.Document{"v": "z"}, true)
		require.NoError(t, err)
		assert.True(t, res.Upserted)
		assert.Equal(t, int64(0), res.Matched)
		assert.Equal(t, docstore.Document{"_id": "9", "v": "z"}, srv.Document("test", "users", "9"))
	})

	t.Run("ReplaceUpsertExistingKey", func(t *testing.T) {
		_, coll := setup(t)

		_, err := coll.ReplaceOne(ctx, docstore.Filter{"_id": "1", "v": "nope"}, docstore.Document{"_id": "1"}, true)
		assert.ErrorIs(t, err, docstore.ErrDuplicateKey)
	})

	t.Run("DeleteOne", func(t *testing.T) {
		srv, coll := setup(t)

		n, err := coll.DeleteOne(ctx, docstore.Filter{"_id": "1", "v": "b"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = coll.DeleteOne(ctx, docstore.Filter{"v": "a"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, 2, srv.Count("test", "users"))
		assert.Nil(t, srv.Document("test", "users", "1"))
	})

	t.Run("DeleteMany", func(t *testing.T) {
		srv, coll := setup(t)

		n, err := coll.DeleteMany(ctx, docstore.Filter{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.Equal(t, 0, srv.Count("test", "users"))
	})

	t.Run("FindInsertionOrder", func(t *testing.T) {
		_, coll := setup(t)

		docs, err := coll.Find(ctx, docstore.Filter{"v": "a"}, nil)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "1", docs[0]["_id"])
		assert.Equal(t, "2", docs[1]["_id"])
	})

	t.Run("FindOptions", func(t *testing.T) {
		_, coll := setup(t)

		docs, err := coll.Find(ctx, nil, &docstore.FindOptions{
			Sort:       []docstore.SortField{{Field: "n", Order: docstore.Ascending}},
			Limit:      2,
			Projection: []string{"n"},
		})
		require.NoError(t, err)
		assert.Equal(t, []docstore.Document{{"_id": "2", "n": 1}, {"_id": "3", "n": 2}}, docs)
	})

	t.Run("FindOneNotFound", func(t *testing.T) {
		_, coll := setup(t)

		_, err := coll.FindOne(ctx, docstore.Filter{"v": "zz"}, nil)
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("FindOneHonorsSort", func(t *testing.T) {
		_, coll := setup(t)

		doc, err := coll.FindOne(ctx, nil, &docstore.FindOptions{
			Sort: []docstore.SortField{{Field: "n", Order: docstore.Descending}},
		})
		require.NoError(t, err)
		assert.Equal(t, "1", doc["_id"])
	})

	t.Run("CreateIndex", func(t *testing.T) {
		srv, coll := setup(t)

		name, err := coll.CreateIndex(ctx, docstore.AscendingIndex("v"))
		require.NoError(t, err)
		assert.Equal(t, "v_1", name)

		_, err = coll.CreateIndex(ctx, docstore.AscendingIndex("v"))
		require.NoError(t, err)
		assert.Len(t, srv.Indexes("test", "users"), 1)

		_, err = coll.CreateIndex(ctx, docstore.IndexSpec{})
		assert.ErrorIs(t, err, docstore.ErrEmptyIndex)

		refused := errors.New("refused")
		srv.SetIndexError(refused)
		_, err = coll.CreateIndex(ctx, docstore.AscendingIndex("n"))
		assert.ErrorIs(t, err, refused)
	})
}

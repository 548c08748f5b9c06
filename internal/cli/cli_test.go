package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmstore"
	"github.com/hupe1980/vmstore/docstore"
	"github.com/hupe1980/vmstore/docstore/memory"
)

func execute(t *testing.T, srv *memory.Server, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{Driver: srv})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// seed stores view models through the library on the same server.
func seed(t *testing.T, srv *memory.Server, collection string, docs map[string]map[string]any) {
	t.Helper()
	ctx := context.Background()

	conn := vmstore.NewConn(vmstore.DefaultConfig(), srv)
	require.NoError(t, conn.Connect(ctx))
	defer func() { _ = conn.Disconnect(ctx) }()

	store := vmstore.NewStore(conn, collection)
	for id, attrs := range docs {
		vm := vmstore.NewViewModel(id)
		for k, v := range attrs {
			require.NoError(t, vm.Set(k, v))
		}
		vm.SetAction(vmstore.ActionCreate)
		require.NoError(t, store.Commit(ctx, vm))
	}
}

func TestRootInvalidFormat(t *testing.T) {
	_, err := execute(t, memory.NewServer(), "ping", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestPing(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		out, err := execute(t, memory.NewServer(), "ping")
		require.NoError(t, err)
		assert.Equal(t, "ok\n", out)
	})

	t.Run("JSON", func(t *testing.T) {
		out, err := execute(t, memory.NewServer(), "ping", "--format", "json")
		require.NoError(t, err)

		var resp map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp["status"])
		assert.Equal(t, "context", resp["database"])
		assert.Equal(t, []any{"localhost:27017"}, resp["endpoints"])
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := memory.NewServer()
		srv.SetOpenError(errors.New("connection refused"))

		_, err := execute(t, srv, "ping")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))

		var connErr *vmstore.ConnectionError
		assert.ErrorAs(t, err, &connErr)
	})
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("databaseName: reporting\nhost: db1\nport: 27018\n"), 0o600))

	srv := memory.NewServer()
	_, err := execute(t, srv, "ping", "--config", path)
	require.NoError(t, err)

	topology := srv.Topologies()[0]
	assert.Equal(t, "reporting", topology.Database)
	assert.Equal(t, "db1:27018", topology.Endpoints[0].Address())

	t.Run("Missing", func(t *testing.T) {
		_, err := execute(t, memory.NewServer(), "ping", "--config", filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("InvalidBackend", func(t *testing.T) {
		_, err := execute(t, memory.NewServer(), "ping", "--backend", "redis")
		require.Error(t, err)
		assert.ErrorIs(t, err, vmstore.ErrInvalidConfig)
	})
}

func TestGet(t *testing.T) {
	srv := memory.NewServer()
	seed(t, srv, "users", map[string]map[string]any{
		"u1": {"name": "ada"},
	})

	t.Run("Existing", func(t *testing.T) {
		out, err := execute(t, srv, "get", "users", "u1", "--format", "json")
		require.NoError(t, err)

		var vms []ViewModelOutput
		require.NoError(t, json.Unmarshal([]byte(out), &vms))
		require.Len(t, vms, 1)
		assert.Equal(t, "u1", vms[0].ID)
		assert.Equal(t, "update", vms[0].Action)
		assert.NotEmpty(t, vms[0].Version)
		assert.Equal(t, map[string]any{"name": "ada"}, vms[0].Attributes)
	})

	t.Run("Missing", func(t *testing.T) {
		out, err := execute(t, srv, "get", "users", "nobody")
		require.NoError(t, err)
		assert.Contains(t, out, "id:      nobody")
		assert.Contains(t, out, "action:  none")
		assert.NotContains(t, out, "version:")
	})

	t.Run("Args", func(t *testing.T) {
		_, err := execute(t, srv, "get", "users")
		require.Error(t, err)
	})
}

func TestFind(t *testing.T) {
	srv := memory.NewServer()
	seed(t, srv, "users", map[string]map[string]any{
		"u1": {"name": "ada", "team": "core"},
		"u2": {"name": "bob", "team": "core"},
		"u3": {"name": "cyd", "team": "web"},
	})

	t.Run("FilterAndSort", func(t *testing.T) {
		out, err := execute(t, srv, "find", "users", "--filter", `{"team":"core"}`, "--sort=-name", "--format", "json")
		require.NoError(t, err)

		var vms []ViewModelOutput
		require.NoError(t, json.Unmarshal([]byte(out), &vms))
		require.Len(t, vms, 2)
		assert.Equal(t, "u2", vms[0].ID)
		assert.Equal(t, "u1", vms[1].ID)
	})

	t.Run("Limit", func(t *testing.T) {
		out, err := execute(t, srv, "find", "users", "--sort", "name", "--limit", "1", "--format", "json")
		require.NoError(t, err)

		var vms []ViewModelOutput
		require.NoError(t, json.Unmarshal([]byte(out), &vms))
		require.Len(t, vms, 1)
		assert.Equal(t, "u1", vms[0].ID)
	})

	t.Run("NoMatches", func(t *testing.T) {
		out, err := execute(t, srv, "find", "users", "--filter", `{"team":"ops"}`)
		require.NoError(t, err)
		assert.Equal(t, "No view models found.\n", out)
	})

	t.Run("BadFilter", func(t *testing.T) {
		_, err := execute(t, srv, "find", "users", "--filter", `{team}`)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})
}

func TestFindOptionsParse(t *testing.T) {
	opts := &FindOptions{
		Filter: `{"a":"b"}`,
		Sort:   []string{"x", "-y"},
		Skip:   2,
		Limit:  3,
		Fields: []string{"name"},
	}

	filter, findOpts, err := opts.parse()
	require.NoError(t, err)
	assert.Equal(t, docstore.Filter{"a": "b"}, filter)
	assert.Equal(t, &docstore.FindOptions{
		Sort: []docstore.SortField{
			{Field: "x", Order: docstore.Ascending},
			{Field: "y", Order: docstore.Descending},
		},
		Skip:       2,
		Limit:      3,
		Projection: []string{"name"},
	}, findOpts)

	_, _, err = (&FindOptions{Sort: []string{"-"}}).parse()
	assert.Error(t, err)

	_, _, err = (&FindOptions{Limit: -1}).parse()
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	srv := memory.NewServer()
	seed(t, srv, "users", map[string]map[string]any{"u1": nil, "u2": nil})
	seed(t, srv, "orders", map[string]map[string]any{"o1": nil})

	out, err := execute(t, srv, "clear", "users", "orders", "--format", "json")
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "cleared", resp["status"])
	assert.Equal(t, []any{"orders", "users"}, resp["collections"])

	assert.Equal(t, 0, srv.Count(vmstore.DefaultDatabaseName, "users"))
	assert.Equal(t, 0, srv.Count(vmstore.DefaultDatabaseName, "orders"))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", nil)))
}

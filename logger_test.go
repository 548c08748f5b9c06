package vmstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmstore/docstore/memory"
)

// syncBuffer guards a buffer written by the watchdog goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func jsonLogger(w *syncBuffer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func TestLoggerLevels(t *testing.T) {
	ctx := context.Background()
	buf := &syncBuffer{}
	logger := jsonLogger(buf, slog.LevelDebug).WithCollection("users")

	logger.LogCommit(ctx, "a", ActionUpdate, nil)
	logger.LogCommit(ctx, "a", ActionUpdate, ErrConcurrency)
	logger.LogCommit(ctx, "a", ActionDelete, errors.New("socket closed"))
	logger.LogIndex(ctx, "users", "email_1", errors.New("index exists"))

	recs := buf.records(t)
	require.Len(t, recs, 4)

	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Equal(t, "users", recs[0]["collection"])
	assert.Equal(t, "update", recs[0]["action"])

	assert.Equal(t, "WARN", recs[1]["level"])
	assert.Equal(t, "commit conflict", recs[1]["msg"])

	assert.Equal(t, "ERROR", recs[2]["level"])
	assert.Equal(t, "socket closed", recs[2]["error"])

	assert.Equal(t, "DEBUG", recs[3]["level"])
	assert.Equal(t, "index creation failed", recs[3]["msg"])
}

func TestNoopLogger(t *testing.T) {
	logger := NoopLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestHeartbeatTimeoutIsLogged(t *testing.T) {
	ctx := context.Background()
	buf := &syncBuffer{}

	srv := memory.NewServer()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv.SetPingFunc(func(context.Context) error {
		<-release
		return nil
	})

	conn := newConn(t, srv, func(c *Config) { c.HeartbeatIntervalMs = 20 }, WithLogger(jsonLogger(buf, slog.LevelInfo)))
	events := recordEvents(t, conn)

	require.NoError(t, conn.Connect(ctx))
	assert.Equal(t, StateConnected, nextEvent(t, events).State)
	assert.Equal(t, StateDisconnected, nextEvent(t, events).State)

	var msgs []string
	for _, rec := range buf.records(t) {
		assert.Equal(t, DefaultDatabaseName, rec["database"])
		msgs = append(msgs, rec["msg"].(string))
	}
	assert.Equal(t, []string{"connected", "heartbeat timed out after 10ms", "connection closed"}, msgs)
}

func TestLoggerRespectsLevel(t *testing.T) {
	// Reads below the configured level are not rendered at all.
	buf := &syncBuffer{}
	logger := jsonLogger(buf, slog.LevelInfo)

	logger.LogRead(context.Background(), "find", 3, nil)
	logger.LogHeartbeatTimeout(context.Background(), 5*time.Millisecond)

	recs := buf.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "heartbeat timed out after 5ms", recs[0]["msg"])
}

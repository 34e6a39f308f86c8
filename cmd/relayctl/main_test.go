package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/relay/internal/api"
	"github.com/h1v3-io/relay/internal/ticket"
	"github.com/h1v3-io/relay/pkg/protocol"
)

func newTestAPI(t *testing.T) (*httptest.Server, *ticket.SQLiteStore) {
	t.Helper()
	store, err := ticket.NewSQLiteStore(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := api.NewServer(store, api.Config{Key: "k", ResponderChatID: "-1000"}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func execute(t *testing.T, ts *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api-url", ts.URL, "--api-key", "k"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHealth(t *testing.T) {
	ts, _ := newTestAPI(t)
	out, err := execute(t, ts, "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
}

func TestChannelsLifecycle(t *testing.T) {
	ts, store := newTestAPI(t)

	out, err := execute(t, ts, "channels", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no authorized channels")

	out, err = execute(t, ts, "channels", "add", "--", "-100")
	require.NoError(t, err)
	assert.Equal(t, "authorized -100\n", out)
	ok, err := store.IsAuthorized(context.Background(), "-100")
	require.NoError(t, err)
	assert.True(t, ok)

	out, err = execute(t, ts, "channels", "list")
	require.NoError(t, err)
	assert.Equal(t, "-100\n", out)

	_, err = execute(t, ts, "channels", "add", "--", "-1000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "responder chat")

	_, err = execute(t, ts, "channels", "remove", "--", "-100")
	require.NoError(t, err)
	_, err = execute(t, ts, "channels", "remove", "--", "-100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestTickets(t *testing.T) {
	ts, store := newTestAPI(t)
	ctx := context.Background()
	for i, anchor := range []string{"5001", "5002"} {
		require.NoError(t, store.Create(ctx, &protocol.Ticket{
			ID:                 int64(100 + i),
			ResponderAnchorID:  anchor,
			RequesterChannelID: "-100",
			RequesterMessageID: "7",
			RequesterID:        "42",
			RequesterName:      "alice",
		}))
	}

	out, err := execute(t, ts, "tickets", "list", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "101")
	assert.NotContains(t, out, "\n100 ")
	assert.Contains(t, out, "(1 of 2)")

	out, err = execute(t, ts, "tickets", "show", "100")
	require.NoError(t, err)
	assert.Contains(t, out, `"responder_anchor_id": "5001"`)

	_, err = execute(t, ts, "tickets", "show", "999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket not found")
}

func TestUnauthorized(t *testing.T) {
	ts, _ := newTestAPI(t)
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--api-url", ts.URL, "--api-key", "wrong", "channels", "list"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
telegram:
  token: "123:abc"
  responder_chat_id: -1000
  admin_user_id: 1
`), 0o644))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"telegram":{}}`), 0o644))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "validate", good})
	require.NoError(t, root.Execute())
	assert.Equal(t, "config is valid\n", out.String())

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"config", "validate", bad})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token is required")
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nfrund/chathub/internal/config"
	"github.com/nfrund/chathub/internal/domain"
	"github.com/nfrund/chathub/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WiresInstance(t *testing.T) {
	cfg := testutils.ConfigForTests(t)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.NotNil(t, a.Metrics)
	assert.NotNil(t, a.Sessions)
	assert.NotNil(t, a.Broker)
	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Presence)
	assert.NotNil(t, a.Auth)
	assert.NotNil(t, a.Gateway)
	assert.Empty(t, a.Stores.Checks)

	require.NoError(t, a.Engine.DeclareQueues(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestNew_RejectsBadOverflowPolicy(t *testing.T) {
	cfg := testutils.ConfigForTests(t)
	cfg.WS.OverflowPolicy = "explode"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_RejectsUnknownBroker(t *testing.T) {
	cfg := testutils.ConfigForTests(t)
	cfg.Broker.URL = "carrier-pigeon://coop"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "connect broker")
}

func TestOpenStores_MemoryWithSeed(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`
users:
  - id: alice
    username: alice
    role: ADMIN
  - id: bob
    username: bob
rooms:
  - id: lobby
    name: Lobby
    members:
      - user: alice
      - user: bob
`), 0o600))

	stores, err := OpenStores(context.Background(), config.StoreConfig{Driver: config.StoreMemory, SeedFile: seed})
	require.NoError(t, err)

	u, err := stores.Users.FindUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)

	ok, err := stores.Rooms.IsMember(context.Background(), "bob", "lobby")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, stores.Close(context.Background()))
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(context.Background(), config.StoreConfig{Driver: "floppy"})
	assert.ErrorContains(t, err, "unknown store driver")
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendebian/p2p-game/internal/config"
)

func TestApplyModes(t *testing.T) {
	opts := &options{}
	cmd := newCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--score", "single", "--collision", "rigid-body", "--no-migration"}))

	cfg := config.Default()
	opts.apply(cmd.Flags(), cfg)
	assert.Equal(t, "single", cfg.Session.Score)
	assert.Equal(t, "rigid-body", cfg.Session.Collision)
	assert.False(t, cfg.Session.HostMigration)
	assert.Equal(t, "peer.log", cfg.Log.File, "the UI owns the terminal, logs go to a file")
	assert.NoError(t, cfg.Validate())
}

func TestLogFileFromConfigKept(t *testing.T) {
	opts := &options{}
	cmd := newCmd(opts)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg := config.Default()
	cfg.Log.File = "/tmp/game.log"
	opts.apply(cmd.Flags(), cfg)
	assert.Equal(t, "/tmp/game.log", cfg.Log.File)
	assert.True(t, cfg.Session.HostMigration)
}

func TestEnvSelectsRoom(t *testing.T) {
	t.Setenv("P2PGAME_JOIN", "room-1")
	t.Setenv("P2PGAME_BROKER", "ws://example.test/ws")

	opts := &options{}
	cmd := newCmd(opts)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg := config.Default()
	opts.apply(cmd.Flags(), cfg)
	assert.Equal(t, "room-1", opts.join)
	assert.Equal(t, "ws://example.test/ws", cfg.Broker.URL)
}

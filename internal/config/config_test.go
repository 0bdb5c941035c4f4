package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	req.NoError(err)
	req.Equal(8080, cfg.Port)
	req.Equal(6, cfg.RoomCodeLength)
	req.NotContains(cfg.RoomCodeAlphabet, "O", "ambiguous glyphs excluded")
	req.Equal(8, cfg.DefaultMaxParticipants)
	req.Equal(30*time.Second, cfg.GracePeriod)
	req.Equal(10*time.Minute, cfg.IdleTimeout)
	req.Equal(2*time.Minute, cfg.ReapInterval)
	req.False(cfg.WaitingRoomDefault)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	t.Chdir(dir)
	req.NoError(os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	req.NoError(os.WriteFile(filepath.Join(dir, "config", "config.dev.yaml"), []byte(`
port: 9090
grace_period: 5s
idle_timeout: 1m
waiting_room_default: true
room_code_length: 4
`), 0o644))
	t.Setenv("CONFIG_ENV", "dev")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(9090, cfg.Port)
	req.Equal(5*time.Second, cfg.GracePeriod)
	req.Equal(time.Minute, cfg.IdleTimeout)
	req.True(cfg.WaitingRoomDefault)
	req.Equal(4, cfg.RoomCodeLength)
	// Untouched keys keep their defaults.
	req.Equal(2*time.Minute, cfg.ReapInterval)
}

func TestLoad_UnmarshalErrorSurfaces(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	t.Chdir(dir)
	req.NoError(os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	req.NoError(os.WriteFile(filepath.Join(dir, "config", "config.dev.yaml"), []byte("port: [1, 2]\n"), 0o644))
	t.Setenv("CONFIG_ENV", "dev")

	// Callers treat a Load error as fatal, so it must come back as an
	// error and a nil config, never a half-populated one.
	cfg, err := Load()
	req.Error(err)
	req.Nil(cfg)
}

package interpose

import (
	"testing"
	"time"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "localhost:50051", cfg.Addr)
	require.Equal(t, "./test/", cfg.Prefix)
	require.Equal(t, 15*time.Second, cfg.Timeout)
	require.Equal(t, "/dev/null", cfg.Placeholder)
	require.Equal(t, level.InfoValue().String(), cfg.LogLevel.String())
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("NETFD_ADDR", "unix:///run/netfd.sock")
	t.Setenv("NETFD_PREFIX", "/mnt/remote/")
	t.Setenv("NETFD_GLOB", "/data/**/*.db,/tmp/*.lock")
	t.Setenv("NETFD_TIMEOUT", "2s")
	t.Setenv("NETFD_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "unix:///run/netfd.sock", cfg.Addr)
	require.Equal(t, []string{"/data/**/*.db", "/tmp/*.lock"}, cfg.Glob)
	require.Equal(t, 2*time.Second, cfg.Timeout)
	require.Equal(t, "debug", cfg.LogLevel.String())

	o, err := cfg.Options()
	require.NoError(t, err)
	require.Equal(t, "unix:///run/netfd.sock", o.Address)
	require.Equal(t, 2*time.Second, o.Timeout)
	require.True(t, o.Rule.Match("/mnt/remote/file"))
	require.True(t, o.Rule.Match("/data/x/y.db"))
	require.True(t, o.Rule.Match("/tmp/a.lock"))
	require.False(t, o.Rule.Match("/etc/passwd"))
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	t.Setenv("NETFD_LOG_LEVEL", "loud")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestConfig_InvalidGlob(t *testing.T) {
	cfg := &Config{Addr: "localhost:50051", Glob: []string{"["}}
	_, err := cfg.Options()
	require.Error(t, err)
}

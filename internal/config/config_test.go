package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/ydb-platform/ydb-go-topic/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, _, err := config.Load("", pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.NoError(t, err)
	require.True(t, cfg.Driver.EnableDiscovery)
	require.Equal(t, 10_000, cfg.Driver.TokenTimeoutMs)
	require.Equal(t, 4<<20, cfg.Reader.MaxBufferBytes)
	require.Equal(t, 1000, cfg.Writer.MaxInflightCount)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ydb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sdk:\n  local_dc: VLA\nreader:\n  consumer: my-consumer\n"), 0o600))

	cfg, _, err := config.Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "VLA", cfg.Driver.LocalDC)
	require.Equal(t, "my-consumer", cfg.Reader.Consumer)
}

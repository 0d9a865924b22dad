package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultHistorySize, cfg.HistorySize)
	assert.Equal(t, DefaultCacheFileSizeLimitMiB, cfg.CacheFileSizeLimitMiB)
	assert.NotEmpty(t, cfg.CacheDir)
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &Config{
		HistorySize:           42,
		CacheFileSizeLimitMiB: 3,
		CacheDir:              "/tmp/elsewhere",
	}
	require.NoError(t, SaveConfigTo(dir, want))

	got, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName+".yaml")
	require.NoError(t, os.WriteFile(path, []byte("history_size: 99\n"), 0600))

	got, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, 99, got.HistorySize)
	assert.Equal(t, DefaultCacheFileSizeLimitMiB, got.CacheFileSizeLimitMiB)
}

package logs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/config"
)

func testLogConfig(dir string) *config.LogConfig {
	cfg := DefaultLogConfig()
	cfg.LogDir = dir
	cfg.EnableFile = true
	return cfg
}

func TestSetupConsoleOnly(t *testing.T) {
	logger, err := Setup(DefaultLogConfig())
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync() // stderr sync can fail on some platforms
}

func TestSetupFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := testLogConfig(dir)
	cfg.EnableConsole = false

	logger, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("catalog rebuilt")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "catalog rebuilt")
}

func TestSetupFileRequiresLogDir(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.EnableFile = true
	_, err := Setup(cfg)
	assert.Error(t, err)
}

func TestNewServerLoggerWritesOwnFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewServerLogger(testLogConfig(dir), "filesystem")
	require.NoError(t, err)
	logger.Info("stderr line captured")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "server-filesystem.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "stderr line captured")
	assert.Contains(t, string(data), "filesystem")
}

func TestTailServerLogMissingFile(t *testing.T) {
	lines, err := TailServerLog(testLogConfig(t.TempDir()), "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTailServerLogReturnsLastLines(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("line\n")
	}
	b.WriteString("final line\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server-alpha.log"), []byte(b.String()), 0o644))

	lines, err := TailServerLog(testLogConfig(dir), "alpha", 5)
	require.NoError(t, err)
	require.Len(t, lines, 5)
	assert.Equal(t, "final line", lines[4])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "error", parseLevel("error").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
}

package logging

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, log.WARN, ParseLevel("warning"))
	assert.Equal(t, log.ERROR, ParseLevel("error"))
	assert.Equal(t, log.INFO, ParseLevel(""))
	assert.Equal(t, log.INFO, ParseLevel("verbose"))
}

func TestGetLoggingFile(t *testing.T) {
	dir := t.TempDir()
	f, err := GetLoggingFile(filepath.Join(dir, "balancehub.log"))
	require.NoError(t, err)
	defer f.Close()
	name := filepath.Base(f.Name())
	assert.True(t, strings.HasPrefix(name, "balancehub-"))
	assert.True(t, strings.HasSuffix(name, ".log"))
}

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger := Logger(filepath.Join(dir, "service"), "info")
	logger.Infof("invoice_id:%s reconciled", "inv-1")

	matches, err := filepath.Glob(filepath.Join(dir, "service-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

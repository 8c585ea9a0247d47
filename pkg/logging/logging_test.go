package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/liveprobe/pkg/config"
)

func TestConfigureLevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "probed.log")
	l := Discard()
	require.NoError(t, l.Configure(config.LoggingConfig{Level: "warn", Format: "logfmt", FilePath: path}))
	t.Cleanup(func() { l.Close() })

	l.Infof("hidden %d", 1)
	l.Warnf("visible %d", 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible 2")
}

func TestConfigureRejectsUnknownValues(t *testing.T) {
	l := Discard()
	assert.Error(t, l.Configure(config.LoggingConfig{Level: "chatty"}))
	assert.Error(t, l.Configure(config.LoggingConfig{Format: "xml"}))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "probed")
	require.NoError(t, l.Configure(config.LoggingConfig{Format: "json", Level: "debug"}))
	l.Debugf("queued request %d", 4)
	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(line, "{"), line)
	assert.Contains(t, line, "queued request 4")
}

func TestRollingFileRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roll.log")
	r, err := newRollingFile(path, 1)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	_, err = r.Write(chunk)
	require.NoError(t, err)
	_, err = r.Write(chunk)
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

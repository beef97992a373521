package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telenode.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const hybridConfig = `
telenode:
  node:
    name: bench-3
  destination:
    address: "2001:db8::1"
    port: "1337"
  distribution:
    mode: HYBRID
    rate: 2
    period: 500ms
    packet_size: 8
  stack:
    type: udp
`

func TestRunValidate(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(writeConfigFile(t, hybridConfig), &buf)

	require.NoError(t, err)
	assert.Equal(t, "VALID: node \"bench-3\", HYBRID to [2001:db8::1]:1337, 8 byte readings, udp stack\n", buf.String())
}

func TestRunValidate_Invalid(t *testing.T) {
	var buf bytes.Buffer
	path := writeConfigFile(t, strings.Replace(hybridConfig, "HYBRID", "BURSTY", 1))
	err := runValidate(path, &buf)

	require.Error(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "INVALID: "))
}

func TestRunConfigShow(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runConfigShow(writeConfigFile(t, hybridConfig), &buf))

	text := buf.String()
	assert.True(t, strings.HasPrefix(text, "telenode:"))
	assert.Contains(t, text, "name: bench-3")
	assert.Contains(t, text, "mode: HYBRID")
}

func TestRunConfigShow_Defaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runConfigShow(filepath.Join(t.TempDir(), "none.yml"), &buf))
	assert.Contains(t, buf.String(), "mode: PERIODIC")
}

func TestRunBroadcast(t *testing.T) {
	path := writeConfigFile(t, `
telenode:
  broadcast:
    interval: 40ms
  stack:
    radio:
      dio_interval_min: 4
      dio_doublings: 2
  log:
    level: warn
`)
	var buf bytes.Buffer
	err := runBroadcast(context.Background(), path, 2, 400*time.Millisecond, &buf)
	require.NoError(t, err)

	text := buf.String()
	assert.Contains(t, text, "\nradio,")
	assert.Contains(t, text, "\nradio_rx,")
	assert.NotContains(t, text, "\nudp_rx,")
	assert.Contains(t, text, "info,node-0 ")
	assert.Contains(t, text, "info,node-1 ")
	assert.NotContains(t, text, "\nerror,")
}

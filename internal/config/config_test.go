package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "/psmqd", c.Broker.Name)
	assert.Equal(t, 10, c.Broker.MaxMsg)
	assert.Equal(t, 16, c.Broker.MaxClients)
	assert.Equal(t, 5000, c.Broker.PollMS)
	assert.EqualValues(t, 50, c.Clients.ReplyTimeoutMS)
	assert.EqualValues(t, 10, c.Clients.MaxMissed)
	assert.Zero(t, c.Stats.FlushIntervalS)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{
		"broker": {"name": "/bus", "max_clients": 4},
		"clients": {"reply_timeout_ms": 5},
		"stats": {"dir": "/tmp/psmq"},
		"ws": {"address": "127.0.0.1"}
	}`)
	c, err := New(p)
	require.NoError(t, err)
	assert.Equal(t, "/bus", c.Broker.Name)
	assert.Equal(t, 4, c.Broker.MaxClients)
	assert.EqualValues(t, 5, c.Clients.ReplyTimeoutMS)
	assert.Equal(t, 10, c.Stats.FlushIntervalS)
	assert.Equal(t, "127.0.0.1:8080", c.WS.Address)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.yaml", `
broker:
  name: /yamlbus
  remove_queue: true
log:
  level: debug
  colors: true
`)
	c, err := New(p)
	require.NoError(t, err)
	assert.Equal(t, "/yamlbus", c.Broker.Name)
	assert.True(t, c.Broker.RemoveQueue)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Log.Colors)
}

func TestInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, content string
	}{
		{"bad name", `{"broker": {"name": "psmqd"}}`},
		{"too many clients", `{"broker": {"max_clients": 255}}`},
		{"one client", `{"broker": {"max_clients": 1}}`},
		{"negative clients", `{"broker": {"max_clients": -3}}`},
		{"negative max msg", `{"broker": {"max_msg": -1}}`},
		{"bad json", `{"broker": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(writeFile(t, "config.json", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := New(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

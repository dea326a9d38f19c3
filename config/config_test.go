package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-sdk-bus/config"
)

func TestDefaultIsValid(t *testing.T) {
	o := config.Default()
	require.NoError(t, o.Validate())
	assert.Equal(t, 30*time.Second, o.CallTimeout)
	assert.Equal(t, 250*time.Millisecond, o.EnqueueAttemptTimeout)
	assert.Equal(t, 2*time.Millisecond, o.EnqueueBackoff)
	assert.Equal(t, 200*time.Millisecond, o.PollInterval)
	assert.False(t, o.Verbose)
}

func TestFromYAML(t *testing.T) {
	o, err := config.FromYAML([]byte(`
call_timeout: 5s
poll_interval: 50ms
verbose: true
transport:
  kind: nats
  url: nats://127.0.0.1:4222
  name: sdk
admin:
  addr: ":8089"
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, o.CallTimeout)
	assert.Equal(t, 50*time.Millisecond, o.PollInterval)
	assert.Equal(t, 250*time.Millisecond, o.EnqueueAttemptTimeout, "omitted fields keep defaults")
	assert.True(t, o.Verbose)
	assert.Equal(t, config.TransportNATS, o.Transport.Kind)
	assert.Equal(t, "gateway", o.Transport.Subject)
	assert.Equal(t, ":8089", o.Admin.Addr)
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative timeout": "call_timeout: -1s",
		"nats without url": "transport: {kind: nats}",
		"kafka no brokers": "transport: {kind: kafka}",
		"unknown kind":     "transport: {kind: carrier-pigeon}",
		"bad yaml":         "call_timeout: [",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "sdkbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("call_timeout: 2s\n"), 0o600))

	o, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, o.CallTimeout)

	_, err = config.FromFile(filepath.Join(dir, "sdkbus.toml"))
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"true\r\n", true},
		{`"true"`, true},
		{"false", false},
		{"yes", false},
		{"", false},
	}

	for _, tc := range cases {
		env := config.EnvFunc(func(key string) (string, bool) {
			if key == config.LoggingEnv {
				return tc.value, true
			}

			return "", false
		})

		assert.Equal(t, tc.want, config.Default().FromEnv(env).Verbose, "value %q", tc.value)
	}

	unset := config.EnvFunc(func(string) (string, bool) { return "", false })
	o := config.Default()
	o.Verbose = true
	assert.True(t, o.FromEnv(unset).Verbose, "unset variable keeps the configured value")
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	config.NewLogger(&buf, false).Debug("hidden")
	assert.Empty(t, buf.String())

	config.NewLogger(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

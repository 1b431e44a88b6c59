package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kurashi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  definitions: agents.yaml\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, filepath.Join(dir, "data", "kurashi.db"), cfg.Storage.Database)
	assert.Equal(t, filepath.Join(dir, "agents.yaml"), cfg.Agents.Definitions)
	assert.Equal(t, "sqlite", cfg.Storage.Jobs.Driver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.WaitTimeout)
	assert.Equal(t, ":8080", cfg.API.Address)
	assert.Equal(t, "DISCORD_BOT_TOKEN", cfg.Discord.TokenEnv)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("MY_BOT_TOKEN", "secret")
	t.Setenv("KURASHI_LOG_LEVEL", "debug")
	t.Setenv("KURASHI_WORKERS", "7")

	content := []byte(`
discord:
  enabled: true
  token_env: MY_BOT_TOKEN
  channels: ["123"]
dispatch:
  wait_timeout: 5s
queue:
  driver: nats
  nats:
    subject: kurashi.jobs
`)
	cfg, err := Parse(content, "/etc/kurashi")
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Discord.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Dispatch.Workers)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.WaitTimeout)
	assert.Equal(t, "kurashi.jobs", cfg.Queue.NATS.Subject)
	assert.Equal(t, "/etc/kurashi/data", cfg.Runtime.DataDir)
}

func TestParseRejectsInvalidSettings(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	cases := map[string]string{
		"job driver":    "storage:\n  jobs:\n    driver: postgres\n",
		"mysql dsn":     "storage:\n  jobs:\n    driver: mysql\n",
		"queue driver":  "queue:\n  driver: kafka\n",
		"rabbitmq url":  "queue:\n  driver: rabbitmq\n",
		"discord token": "discord:\n  enabled: true\n",
		"bad yaml":      "runtime: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content), t.TempDir())
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KURASHI_TEST_API_TOKEN=from-dotenv\n"), 0o600))
	path := filepath.Join(dir, "kurashi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  token_env: KURASHI_TEST_API_TOKEN\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("KURASHI_TEST_API_TOKEN") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.API.Token)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
	t.Setenv(EnvConfigPath, "/srv/kurashi.yaml")
	assert.Equal(t, "/srv/kurashi.yaml", ResolvePath(""))
	assert.Equal(t, "local.yaml", ResolvePath("local.yaml"))
}

func TestWatchDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: []\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func() { calls.Add(1) }, WithDebounce(50*time.Millisecond))
	}()
	// fsnotify 需要一点时间注册目录。
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("agents: []\n# edit\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}

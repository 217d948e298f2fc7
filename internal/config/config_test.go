package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 256, cfg.Server.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, ReportDriverSQLite, cfg.Reports.Driver)
	assert.Equal(t, ClassifierLocal, cfg.Classifier.Mode)
	assert.Empty(t, cfg.NATS.URL)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9000"
  worker_pool_size: 8
  write_timeout: 3s
reports:
  driver: postgres
  dsn: postgres://file
classifier:
  artifact_dir: /models
`), 0o644))

	t.Setenv("WORKER_POOL_SIZE", "16")
	t.Setenv("REPORT_DSN", "postgres://env")
	t.Setenv("LOG_PRETTY", "yes")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr, "file overrides default")
	assert.Equal(t, 16, cfg.Server.WorkerPoolSize, "env overrides file")
	assert.Equal(t, 3*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, ReportDriverPostgres, cfg.Reports.Driver)
	assert.Equal(t, "postgres://env", cfg.Reports.DSN)
	assert.Equal(t, "/models", cfg.Classifier.ArtifactDir)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad integer", map[string]string{"MAX_CONNECTIONS": "lots"}},
		{"bad duration", map[string]string{"WRITE_TIMEOUT": "soon"}},
		{"zero pool", map[string]string{"WORKER_POOL_SIZE": "0"}},
		{"unknown driver", map[string]string{"REPORT_DRIVER": "mongo"}},
		{"postgres without dsn", map[string]string{"REPORT_DRIVER": "postgres"}},
		{"unknown classifier mode", map[string]string{"CLASSIFIER_MODE": "magic"}},
		{"nats classifier without nats", map[string]string{"CLASSIFIER_MODE": "nats"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("FLAG_ON", "TRUE")
	t.Setenv("FLAG_OFF", "0")
	t.Setenv("FLAG_JUNK", "maybe")

	assert.True(t, GetEnvAsBool("FLAG_ON", false))
	assert.False(t, GetEnvAsBool("FLAG_OFF", true))
	assert.True(t, GetEnvAsBool("FLAG_JUNK", true))
	assert.False(t, GetEnvAsBool("FLAG_UNSET", false))
}

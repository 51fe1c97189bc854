package triggerconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  function_id: orders-worker
  log_level: info
queue:
  backend: sqs
  name: orders
  visibility_timeout: 45s
  min_polling_interval: 2s
aws:
  region: us-east-1
mysql:
  dsn: "user:pass@tcp(127.0.0.1:3306)/queuetrigger"
redis:
  addr: "127.0.0.1:6379"
  db: 1
retry:
  max_dequeue_count: 5
  poison_queue_name: orders-poison
  backoff_strategy: exponential
  retry_delay: 1s
  max_delay: 30s
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orders-worker", cfg.App.FunctionID)
	assert.Equal(t, "sqs", cfg.Queue.Backend)
	assert.Equal(t, "orders", cfg.Queue.Name)
	assert.Equal(t, 45*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, int64(5), cfg.Retry.MaxDequeueCount)
	assert.Equal(t, "orders-poison", cfg.Retry.PoisonQueueName)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_RequiresFunctionIDAndQueueName(t *testing.T) {
	cfg := &Config{Queue: QueueConfig{Backend: "sqs"}}
	assert.Error(t, cfg.Validate())

	cfg.App.FunctionID = "worker"
	assert.Error(t, cfg.Validate())

	cfg.Queue.Name = "orders"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := &Config{
		App:   AppConfig{FunctionID: "worker"},
		Queue: QueueConfig{Name: "orders", Backend: "rabbitmq"},
	}
	assert.Error(t, cfg.Validate())
}

func TestOptions_FillsDefaultsForZeroFields(t *testing.T) {
	cfg := &Config{
		App:   AppConfig{FunctionID: "worker"},
		Queue: QueueConfig{Name: "orders", Backend: "memqueue"},
	}

	opts := cfg.Options()
	assert.Equal(t, "worker", opts.FunctionID)
	assert.Equal(t, "orders", opts.QueueName)
	assert.Greater(t, opts.VisibilityTimeout, time.Duration(0))
	assert.Greater(t, opts.MinPollingInterval, time.Duration(0))
}

func TestOptions_OverridesDefaultsWhenSet(t *testing.T) {
	cfg := &Config{
		App: AppConfig{FunctionID: "worker"},
		Queue: QueueConfig{
			Name:                      "orders",
			Backend:                   "memqueue",
			VisibilityTimeout:         90 * time.Second,
			NumberOfSamplesToConsider: 10,
		},
	}

	opts := cfg.Options()
	assert.Equal(t, 90*time.Second, opts.VisibilityTimeout)
	assert.Equal(t, 10, opts.NumberOfSamplesToConsider)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.ObjectStore.Provider)
	assert.Equal(t, "file", cfg.Journal.Backend)
	assert.Equal(t, "postgres", cfg.Sink.Driver)
	assert.Equal(t, 20000, cfg.Sink.MaxParameters)
	assert.Equal(t, 100, cfg.Ingestion.BatchSize)
	assert.Zero(t, cfg.Ingestion.PollInterval)
	assert.Equal(t, "web", cfg.Ingestion.PollTable)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Tracing.Endpoint)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("OBJECT_STORE_PROVIDER", "minio")
	t.Setenv("OBJECT_STORE_BUCKET", "analytics")
	t.Setenv("JOURNAL_BACKEND", "mongodb")
	t.Setenv("SINK_DRIVER", "pgx")
	t.Setenv("SINK_MAX_PARAMETERS", "65535")
	t.Setenv("INGESTION_BATCH_SIZE", "500")
	t.Setenv("INGESTION_RUN_TIMEOUT", "2h")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.ObjectStore.Provider)
	assert.Equal(t, "analytics", cfg.ObjectStore.Bucket)
	assert.Equal(t, "mongodb", cfg.Journal.Backend)
	assert.Equal(t, "pgx", cfg.Sink.Driver)
	assert.Equal(t, 65535, cfg.Sink.MaxParameters)
	assert.Equal(t, 500, cfg.Ingestion.BatchSize)
	assert.Equal(t, 2*time.Hour, cfg.Ingestion.RunTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		msg  string
	}{
		{"provider", "OBJECT_STORE_PROVIDER", "gcs", "unsupported object store provider"},
		{"journal", "JOURNAL_BACKEND", "etcd", "unsupported journal backend"},
		{"driver", "SINK_DRIVER", "mysql", "unsupported sink driver"},
		{"batch size", "INGESTION_BATCH_SIZE", "0", "batch size"},
		{"max parameters", "SINK_MAX_PARAMETERS", "0", "max parameters"},
		{"not a number", "INGESTION_BATCH_SIZE", "lots", "failed to parse environment"},
		{"poll without prefix", "INGESTION_POLL_INTERVAL", "1h", "INGESTION_POLL_PREFIX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			cfg, err := Load()

			assert.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

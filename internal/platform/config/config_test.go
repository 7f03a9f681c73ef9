package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("USAGE_STORE", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.True(t, cfg.EnforceTierOrder)
	assert.True(t, cfg.DevMode())
	assert.Equal(t, UsageStoreMemory, cfg.UsageStore)
	assert.Equal(t, 5*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, "tiergate.audit", cfg.Kafka.AuditTopic)
}

func TestFromEnv_PostgresSelectedByDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tiergate")
	t.Setenv("USAGE_STORE", "")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.DevMode())
	assert.Equal(t, UsageStorePostgres, cfg.UsageStore)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"PROVIDER_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"ENFORCE_TIER_ORDER": "maybe"}},
		{"redis store without url", map[string]string{"USAGE_STORE": "redis", "REDIS_URL": ""}},
		{"unknown store", map[string]string{"USAGE_STORE": "etcd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestFromEnv_TierOrderPolicyCanBeDisabled(t *testing.T) {
	t.Setenv("ENFORCE_TIER_ORDER", "false")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.EnforceTierOrder)
}

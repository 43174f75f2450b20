package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, uint64(3), cfg.CheckoutMaxRetries)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Brokers())
	assert.Empty(t, cfg.OtelEndpoint)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("INVENTORY_WORKERS", "0")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, 1, cfg.InventoryWorkers)
	assert.Empty(t, cfg.RedisAddr, "set but empty overrides the default")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)
}

func TestEmptyBrokers(t *testing.T) {
	c := &Config{KafkaBrokers: ""}
	assert.Empty(t, c.Brokers())
}

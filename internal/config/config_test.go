package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
database:
  dsn: postgres://sync@localhost/records
feed:
  type: http
  http:
    url: https://crm.example/api
outbox:
  - name: trs
replica:
  enabled: true
events:
  kafka:
    brokers: ["localhost:9092"]
    topic: person-events
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, c.Outbox, 1)
	o := c.Outbox[0]
	assert.Equal(t, "trs", o.Name)
	assert.Equal(t, DefaultOutboxEntity, o.EntityType)
	assert.Equal(t, DefaultOutboxColumns, o.Columns)
	assert.Equal(t, DefaultWatermarkKey, o.WatermarkKey)
	assert.Equal(t, 500, o.PageSize)
	assert.Equal(t, 5, o.Retry.MaxAttempts)

	assert.Equal(t, DefaultPersonEntity, c.Replica.EntityType)
	assert.Equal(t, 5000, c.Replica.BatchSize)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, int32(8), c.Database.MaxConns)
}

func TestValidateRejectsSharedCursor(t *testing.T) {
	c := Config{
		Database: DatabaseConfig{DSN: "x"},
		Feed:     FeedConfig{Type: "http", HTTP: HTTPFeed{URL: "http://feed"}},
		Outbox: []OutboxConfig{
			{Name: "a", SyncKey: "k", EntityType: "e", WatermarkKey: "w1"},
			{Name: "b", SyncKey: "k", EntityType: "e", WatermarkKey: "w2"},
		},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both consume k/e")
}

func TestValidateRejectsSharedWatermark(t *testing.T) {
	c := Config{
		Database: DatabaseConfig{DSN: "x"},
		Feed:     FeedConfig{Type: "http", HTTP: HTTPFeed{URL: "http://feed"}},
		Outbox: []OutboxConfig{
			{Name: "a", SyncKey: "k", EntityType: "e1", WatermarkKey: "w"},
			{Name: "b", SyncKey: "k", EntityType: "e2", WatermarkKey: "w"},
		},
	}
	require.ErrorContains(t, c.Validate(), "share watermark key")
}

func TestValidateFeedType(t *testing.T) {
	_, err := Parse([]byte("database:\n  dsn: x\nfeed:\n  type: carrier-pigeon\n"))
	require.ErrorContains(t, err, "unknown feed type")

	_, err = Parse([]byte("database:\n  dsn: x\nfeed:\n  type: postgres\n"))
	require.ErrorContains(t, err, "feed.postgres.dsn")
}

func TestLoadFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	t.Setenv("CONFIG_PATH", path)

	c, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, c.Events.Kafka.Brokers)

	t.Setenv("CONFIG_PATH", "")
	_, err = LoadFromEnv()
	require.Error(t, err)
}

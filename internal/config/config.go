package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type HTTPFeed struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type PostgresFeed struct {
	DSN string `yaml:"dsn"`
}

type FeedConfig struct {
	Type     string       `yaml:"type"`
	HTTP     HTTPFeed     `yaml:"http"`
	Postgres PostgresFeed `yaml:"postgres"`
}

type Retry struct {
	MaxAttempts int `yaml:"max_attempts"`
	DelayMs     int `yaml:"delay_ms"`
}

type OutboxConfig struct {
	Name                 string   `yaml:"name"`
	SyncKey              string   `yaml:"sync_key"`
	EntityType           string   `yaml:"entity_type"`
	Columns              []string `yaml:"columns"`
	PageSize             int      `yaml:"page_size"`
	PollIntervalMs       int      `yaml:"poll_interval_ms"`
	DispatchTimeoutMs    int      `yaml:"dispatch_timeout_ms"`
	WatermarkKey         string   `yaml:"watermark_key"`
	HaltOnUnknownMessage bool     `yaml:"halt_on_unknown_message"`
	Retry                Retry    `yaml:"retry"`
}

type ReplicaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	SyncKey        string   `yaml:"sync_key"`
	EntityType     string   `yaml:"entity_type"`
	Columns        []string `yaml:"columns"`
	PageSize       int      `yaml:"page_size"`
	BatchSize      int      `yaml:"batch_size"`
	PollIntervalMs int      `yaml:"poll_interval_ms"`
}

type KafkaEvents struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type EventsConfig struct {
	Kafka KafkaEvents `yaml:"kafka"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Outbox   []OutboxConfig `yaml:"outbox"`
	Replica  ReplicaConfig  `yaml:"replica"`
	Events   EventsConfig   `yaml:"events"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

const (
	DefaultWatermarkKey = "outbox.ignore_messages_created_at_or_before"
	DefaultOutboxEntity = "dfeta_trsoutboxmessage"
	DefaultPersonEntity = "contact"
)

var (
	DefaultOutboxColumns = []string{"dfeta_messagename", "dfeta_payload", "createdon"}
	DefaultPersonColumns = []string{
		"contactid", "dfeta_trn", "firstname", "middlename", "lastname",
		"birthdate", "emailaddress1", "dfeta_ninumber",
	}
)

func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return Config{}, errors.New("CONFIG_PATH is not set")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 8
	}
	if c.Feed.Type == "" {
		c.Feed.Type = "http"
	}
	if c.Feed.HTTP.TimeoutMs <= 0 {
		c.Feed.HTTP.TimeoutMs = 30000
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	for i := range c.Outbox {
		o := &c.Outbox[i]
		if o.EntityType == "" {
			o.EntityType = DefaultOutboxEntity
		}
		if o.Name == "" {
			o.Name = o.EntityType
		}
		if o.SyncKey == "" {
			o.SyncKey = "outbox"
		}
		if len(o.Columns) == 0 {
			o.Columns = DefaultOutboxColumns
		}
		if o.PageSize <= 0 {
			o.PageSize = 500
		}
		if o.PollIntervalMs <= 0 {
			o.PollIntervalMs = 60000
		}
		if o.DispatchTimeoutMs <= 0 {
			o.DispatchTimeoutMs = 30000
		}
		if o.WatermarkKey == "" {
			o.WatermarkKey = DefaultWatermarkKey
		}
		if o.Retry.MaxAttempts <= 0 {
			o.Retry.MaxAttempts = 5
		}
		if o.Retry.DelayMs <= 0 {
			o.Retry.DelayMs = 2000
		}
	}

	r := &c.Replica
	if r.EntityType == "" {
		r.EntityType = DefaultPersonEntity
	}
	if r.SyncKey == "" {
		r.SyncKey = "replica"
	}
	if len(r.Columns) == 0 {
		r.Columns = DefaultPersonColumns
	}
	if r.PageSize <= 0 {
		r.PageSize = 1000
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 5000
	}
	if r.PollIntervalMs <= 0 {
		r.PollIntervalMs = 300000
	}
}

// Validate rejects configurations the sync design cannot run safely, most
// importantly two consumers sharing a journal row.
func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	switch c.Feed.Type {
	case "http":
		if c.Feed.HTTP.URL == "" {
			return errors.New("feed.http.url is required for the http feed")
		}
	case "postgres":
		if c.Feed.Postgres.DSN == "" {
			return errors.New("feed.postgres.dsn is required for the postgres feed")
		}
	default:
		return fmt.Errorf("unknown feed type %q", c.Feed.Type)
	}

	seen := make(map[string]string)
	claim := func(owner, syncKey, entityType string) error {
		k := syncKey + "/" + entityType
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("%s and %s both consume %s", prev, owner, k)
		}
		seen[k] = owner
		return nil
	}
	watermarks := make(map[string]string)
	for _, o := range c.Outbox {
		if err := claim("outbox "+o.Name, o.SyncKey, o.EntityType); err != nil {
			return err
		}
		if prev, ok := watermarks[o.WatermarkKey]; ok {
			return fmt.Errorf("outbox %s and %s share watermark key %s", prev, o.Name, o.WatermarkKey)
		}
		watermarks[o.WatermarkKey] = o.Name
	}
	if c.Replica.Enabled {
		if err := claim("replica", c.Replica.SyncKey, c.Replica.EntityType); err != nil {
			return err
		}
	}
	return nil
}

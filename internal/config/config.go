package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Databases DatabasesConfig `mapstructure:"databases"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DatabasesConfig struct {
	Local   LocalDatabase      `mapstructure:"local"`
	Central DatabaseConnection `mapstructure:"central"`
}

// LocalDatabase is the embedded store on the till.
type LocalDatabase struct {
	FilePath string `mapstructure:"file_path"`
}

type DatabaseConnection struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// SyncConfig is snapshotted at the start of each sync session and treated as
// immutable for its duration.
type SyncConfig struct {
	RetailerID        string        `mapstructure:"retailer_id"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
	RetryDelay        string        `mapstructure:"retry_delay"`
	PushTimeout       string        `mapstructure:"push_timeout"`
	Workers           int           `mapstructure:"workers"`
	DefaultResolution string        `mapstructure:"default_conflict_resolution"`
	Tables            []TableConfig `mapstructure:"tables"`
}

type TableConfig struct {
	Name               string `mapstructure:"name"`
	RemoteName         string `mapstructure:"remote_name"`
	PrimaryKey         string `mapstructure:"primary_key"`
	TimestampColumn    string `mapstructure:"timestamp_column"`
	ConflictResolution string `mapstructure:"conflict_resolution"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retry_attempts", 3)
	v.SetDefault("sync.retry_delay", "30s")
	v.SetDefault("sync.push_timeout", "15s")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.default_conflict_resolution", "most_recent")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Sync.RetailerID == "" {
		return fmt.Errorf("sync.retailer_id is required")
	}
	if len(c.Sync.Tables) == 0 {
		return fmt.Errorf("sync.tables must list at least one tracked table")
	}
	for _, t := range c.Sync.Tables {
		if t.Name == "" || t.PrimaryKey == "" {
			return fmt.Errorf("every sync table needs a name and primary_key")
		}
	}
	return nil
}

func (s SyncConfig) GetRetryDelay() time.Duration {
	d, _ := time.ParseDuration(s.RetryDelay)
	return d
}

func (s SyncConfig) GetPushTimeout() time.Duration {
	d, _ := time.ParseDuration(s.PushTimeout)
	return d
}

// RemoteName maps a local table name onto the central store's naming. Tables
// without an explicit mapping keep their local name.
func (s SyncConfig) RemoteName(table string) string {
	for _, t := range s.Tables {
		if t.Name == table && t.RemoteName != "" {
			return t.RemoteName
		}
	}
	return table
}

// TableFor returns the allow-list entry for a table, or false when the table
// is not tracked.
func (s SyncConfig) TableFor(name string) (TableConfig, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

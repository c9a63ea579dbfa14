// Package config loads the client's configuration surface (§6) from a
// layered key/value source, following the teacher's own
// viper-plus-mapstructure approach.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Credentials are a login/password pair injected into a request's
// auth field when the caller does not supply its own (§4.D).
type Credentials struct {
	Login    string `mapstructure:"login"`
	Password string `mapstructure:"password"`
}

// Reconnection configures the connection manager's retry policy
// (§4.C).
type Reconnection struct {
	MaxAttempts int           `mapstructure:"max_attempts"` // -1 means infinite
	DelayMin    time.Duration `mapstructure:"delay_min"`
	DelayMax    time.Duration `mapstructure:"delay_max"`
	Exponential bool          `mapstructure:"exponential"`
}

// Heartbeat configures the connection manager's liveness probe
// (§4.C).
type Heartbeat struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Operation configures the dispatcher's retry and timeout policy
// (§4.D).
type Operation struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Backpressure configures the frame codec's watermarks (§4.A).
type Backpressure struct {
	Low  int `mapstructure:"low"`
	High int `mapstructure:"high"`
	Max  int `mapstructure:"max"`
}

// Cluster configures the gossip-aware endpoint resolver. It is
// consumed by internal/resolver, not by the core itself (§1, §4.G).
type Cluster struct {
	Enabled      bool          `mapstructure:"enabled"`
	GossipSeeds  []string      `mapstructure:"gossip_seeds"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Backup configures the optional S3 archiver in internal/backup. It is
// consumed there, not by the core itself.
type Backup struct {
	S3 S3Backup `mapstructure:"s3"`
}

// S3Backup is the S3 archiver's bucket, key layout, and batching
// policy.
type S3Backup struct {
	Enabled       bool          `mapstructure:"enabled"`
	Bucket        string        `mapstructure:"bucket"`
	Prefix        string        `mapstructure:"prefix"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Config is the full configuration surface of §6.
type Config struct {
	Address            string        `mapstructure:"address"`
	ConnectionTimeout   time.Duration `mapstructure:"connection_timeout"`
	Reconnection        Reconnection  `mapstructure:"reconnection"`
	DefaultCredentials  *Credentials  `mapstructure:"default_credentials"`
	Heartbeat           Heartbeat     `mapstructure:"heartbeat"`
	Operation           Operation     `mapstructure:"operation"`
	ResolveLinkTos      bool          `mapstructure:"resolve_link_tos"`
	RequireMaster       bool          `mapstructure:"require_master"`
	ReadBatchSize       int           `mapstructure:"read_batch_size"`
	Backpressure        Backpressure  `mapstructure:"backpressure"`
	Cluster             Cluster       `mapstructure:"cluster"`
	Backup              Backup        `mapstructure:"backup"`
}

// Load reads configuration from path (YAML/JSON/TOML, chosen by
// viper from the extension), applies ELC_-prefixed environment
// overrides the way the teacher's config.Load applies CHRONICLES_
// ones, fills in defaults, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ELC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration surface's defaults (§6) without
// reading any file, for callers that configure the client purely in
// code.
func Default() Config {
	return Config{
		ConnectionTimeout: time.Second,
		Reconnection: Reconnection{
			MaxAttempts: 100,
			DelayMin:    250 * time.Millisecond,
			DelayMax:    10 * time.Second,
		},
		Heartbeat: Heartbeat{
			Interval: 500 * time.Millisecond,
			Timeout:  5 * time.Second,
		},
		Operation: Operation{
			MaxRetries: 10,
			Timeout:    30 * time.Second,
		},
		RequireMaster: true,
		ReadBatchSize: 500,
		Backpressure: Backpressure{
			Low:  1 << 20,
			High: 4 << 20,
			Max:  16 << 20,
		},
		Backup: Backup{
			S3: S3Backup{
				BatchSize:     500,
				FlushInterval: 30 * time.Second,
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("connection_timeout", d.ConnectionTimeout)
	v.SetDefault("reconnection.max_attempts", d.Reconnection.MaxAttempts)
	v.SetDefault("reconnection.delay_min", d.Reconnection.DelayMin)
	v.SetDefault("reconnection.delay_max", d.Reconnection.DelayMax)
	v.SetDefault("heartbeat.interval", d.Heartbeat.Interval)
	v.SetDefault("heartbeat.timeout", d.Heartbeat.Timeout)
	v.SetDefault("operation.max_retries", d.Operation.MaxRetries)
	v.SetDefault("operation.timeout", d.Operation.Timeout)
	v.SetDefault("require_master", d.RequireMaster)
	v.SetDefault("read_batch_size", d.ReadBatchSize)
	v.SetDefault("backpressure.low", d.Backpressure.Low)
	v.SetDefault("backpressure.high", d.Backpressure.High)
	v.SetDefault("backpressure.max", d.Backpressure.Max)
	v.SetDefault("backup.s3.batch_size", 500)
	v.SetDefault("backup.s3.flush_interval", 30*time.Second)
}

// Validate checks invariants setDefaults/Unmarshal cannot enforce on
// their own.
func (c Config) Validate() error {
	if c.Address == "" && !c.Cluster.Enabled {
		return fmt.Errorf("config: address is required when cluster discovery is disabled")
	}
	if c.Backpressure.Low > c.Backpressure.High || c.Backpressure.High > c.Backpressure.Max {
		return fmt.Errorf("config: backpressure watermarks must satisfy low <= high <= max")
	}
	if c.ReadBatchSize <= 0 {
		return fmt.Errorf("config: read_batch_size must be positive")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
)

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	PebbleDir string `mapstructure:"pebble_dir"`
	Migrate   bool   `mapstructure:"migrate"`
}

type EngineConfig struct {
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	TicketRetention time.Duration `mapstructure:"ticket_retention"`
	TicketSweep     time.Duration `mapstructure:"ticket_sweep"`
}

type TopicsConfig struct {
	Movements  string `mapstructure:"movements"`
	Entries    string `mapstructure:"entries"`
	DeadLetter string `mapstructure:"dead_letter"`
}

type KafkaConfig struct {
	Brokers       []string     `mapstructure:"brokers"`
	ConsumerGroup string       `mapstructure:"consumer_group"`
	Topics        TopicsConfig `mapstructure:"topics"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type Config struct {
	ServiceName     string       `mapstructure:"service_name"`
	Env             string       `mapstructure:"env"`
	LogLevel        string       `mapstructure:"log_level"`
	MetricsPath     string       `mapstructure:"metrics_path"`
	InternalToken   string       `mapstructure:"internal_token"`
	WebSocketOrigin string       `mapstructure:"ws_origin"`
	HTTP            HTTPConfig   `mapstructure:"http"`
	Store           StoreConfig  `mapstructure:"store"`
	Engine          EngineConfig `mapstructure:"engine"`
	Kafka           KafkaConfig  `mapstructure:"kafka"`
}

// Load reads path (YAML, optional) and then WALLET_* environment variables,
// e.g. WALLET_STORE_DRIVER for store.driver.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var missing []string
	if c.HTTP.Addr == "" {
		missing = append(missing, "http.addr")
	}
	if c.InternalToken == "" {
		missing = append(missing, "internal_token")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			missing = append(missing, "store.dsn")
		}
	case DriverPebble:
		if c.Store.PebbleDir == "" {
			missing = append(missing, "store.pebble_dir")
		}
	default:
		return fmt.Errorf("invalid store.driver %q: use memory, postgres or pebble", c.Store.Driver)
	}
	if c.Engine.StoreTimeout <= 0 {
		return errors.New("engine.store_timeout must be positive")
	}
	if c.Engine.TicketSweep <= 0 {
		return errors.New("engine.ticket_sweep must be positive")
	}
	if c.Kafka.Enabled() {
		if c.Kafka.ConsumerGroup == "" {
			missing = append(missing, "kafka.consumer_group")
		}
		if c.Kafka.Topics.Movements == "" {
			missing = append(missing, "kafka.topics.movements")
		}
		if c.Kafka.Topics.Entries == "" {
			missing = append(missing, "kafka.topics.entries")
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required config: " + strings.Join(missing, ","))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "wallet-ledger")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("internal_token", "")
	v.SetDefault("ws_origin", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.pebble_dir", "")
	v.SetDefault("store.migrate", false)
	v.SetDefault("engine.store_timeout", "3s")
	v.SetDefault("engine.ticket_retention", "24h")
	v.SetDefault("engine.ticket_sweep", "10m")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.consumer_group", "wallet-ledger")
	v.SetDefault("kafka.topics.movements", "wallet.movements")
	v.SetDefault("kafka.topics.entries", "ledger.entries")
	v.SetDefault("kafka.topics.dead_letter", "wallet.movements.dlq")
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

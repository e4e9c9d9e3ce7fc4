package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CHECKOUT"

// Stock backends
const (
	StockSQL    = "sql"
	StockRedis  = "redis"
	StockMemory = "memory"
)

type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stock    StockConfig    `mapstructure:"stock"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Cart     CartConfig     `mapstructure:"cart"`
}

type HTTPConfig struct {
	Port               string        `mapstructure:"port"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// Path is the sqlite file
	Path string `mapstructure:"path"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	// Brokers empty disables publishing; orders are then only logged
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type StockConfig struct {
	Backend          string        `mapstructure:"backend"`
	RestoreMaxTries  uint          `mapstructure:"restore_max_tries"`
	RestoreInterval  time.Duration `mapstructure:"restore_interval"`
	RestoreMaxElapse time.Duration `mapstructure:"restore_max_elapsed"`
}

type PricingConfig struct {
	PointValue            int64 `mapstructure:"point_value"`
	ShippingFee           int64 `mapstructure:"shipping_fee"`
	FreeShippingThreshold int64 `mapstructure:"free_shipping_threshold"`
}

type RecoveryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Lease    time.Duration `mapstructure:"lease"`
}

type CartConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	StoreTTL time.Duration `mapstructure:"store_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "storefront-checkout")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_request_body_size", 1<<20)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "storefront")
	v.SetDefault("database.path", "storefront.db")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "storefront")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "storefront-orders")

	v.SetDefault("stock.backend", StockSQL)
	v.SetDefault("stock.restore_max_tries", 5)
	v.SetDefault("stock.restore_interval", 50*time.Millisecond)
	v.SetDefault("stock.restore_max_elapsed", 5*time.Second)

	v.SetDefault("pricing.point_value", 1000)
	v.SetDefault("pricing.shipping_fee", 30000)
	v.SetDefault("pricing.free_shipping_threshold", 500000)

	v.SetDefault("recovery.interval", 5*time.Second)
	v.SetDefault("recovery.lease", 30*time.Second)

	v.SetDefault("cart.cache_ttl", 30*time.Minute)
	v.SetDefault("cart.store_ttl", 30*24*time.Hour)
}

// Load reads defaults, then the optional file, then CHECKOUT_* environment variables
// (CHECKOUT_HTTP_PORT overrides http.port).
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Stock.Backend {
	case StockSQL, StockRedis, StockMemory:
	default:
		errs = append(errs, fmt.Errorf("stock.backend must be one of sql, redis, memory; got %q", c.Stock.Backend))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite; got %q", c.Database.Driver))
	}
	if c.Pricing.PointValue <= 0 {
		errs = append(errs, errors.New("pricing.point_value must be positive"))
	}
	if c.Pricing.ShippingFee < 0 || c.Pricing.FreeShippingThreshold < 0 {
		errs = append(errs, errors.New("pricing fees must not be negative"))
	}
	if c.Recovery.Interval <= 0 {
		errs = append(errs, errors.New("recovery.interval must be positive"))
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig driver 可选 mysql / postgres / sqlite
// 配置了 dsn 时直接使用，否则由 host/port/user/password/name 拼接
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PlanEvents string `mapstructure:"plan_events"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type BusinessConfig struct {
	DefaultPageSize    int `mapstructure:"default_page_size"`
	MaxPageSize        int `mapstructure:"max_page_size"`
	PlanLockTTLSeconds int `mapstructure:"plan_lock_ttl_seconds"`
	OutboxMaxRetry     int `mapstructure:"outbox_max_retry"`
	OutboxIntervalMs   int `mapstructure:"outbox_interval_ms"`
	OutboxBatchSize    int `mapstructure:"outbox_batch_size"`
}

// PlanLockTTL 计划槽位锁的过期时间
func (b BusinessConfig) PlanLockTTL() time.Duration {
	return time.Duration(b.PlanLockTTLSeconds) * time.Second
}

// OutboxInterval 消息转发任务的轮询间隔
func (b BusinessConfig) OutboxInterval() time.Duration {
	return time.Duration(b.OutboxIntervalMs) * time.Millisecond
}

const envPrefix = "TREASURY"

// Load 加载配置文件，环境变量可覆盖，例如 TREASURY_DATABASE_DSN
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic.plan_events", "treasury.plan.events")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("log.level", "info")

	v.SetDefault("business.default_page_size", 20)
	v.SetDefault("business.max_page_size", 100)
	v.SetDefault("business.plan_lock_ttl_seconds", 10)
	v.SetDefault("business.outbox_max_retry", 5)
	v.SetDefault("business.outbox_interval_ms", 500)
	v.SetDefault("business.outbox_batch_size", 100)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}

	if c.Business.DefaultPageSize <= 0 || c.Business.MaxPageSize < c.Business.DefaultPageSize {
		return fmt.Errorf("分页配置不合法: default=%d max=%d",
			c.Business.DefaultPageSize, c.Business.MaxPageSize)
	}

	// 为 0 时 ticker 会 panic，锁不会过期
	positives := []struct {
		key   string
		value int
	}{
		{"business.plan_lock_ttl_seconds", c.Business.PlanLockTTLSeconds},
		{"business.outbox_max_retry", c.Business.OutboxMaxRetry},
		{"business.outbox_interval_ms", c.Business.OutboxIntervalMs},
		{"business.outbox_batch_size", c.Business.OutboxBatchSize},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s 必须大于 0: %d", p.key, p.value)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("启用 kafka 时必须配置 brokers")
	}

	return nil
}

package config

import (
	"fmt"
	"strings"

	"marketpay/internal/model"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port      int     `mapstructure:"port"`
	Debug     bool    `mapstructure:"debug"`      // 开启后错误响应会带上内部错误信息
	JWTSecret string  `mapstructure:"jwt_secret"` // 与用户服务共享的签名密钥
	RateLimit float64 `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限流
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"` // mysql | memory
	MySQL  MySQLConfig `mapstructure:"mysql"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// DSN 拼接 MySQL 连接串
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled 未配置 host 时使用进程内锁
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentEvents    string `mapstructure:"payment_events"`
	CommissionEvents string `mapstructure:"commission_events"`
}

type BusinessConfig struct {
	CommissionRate           float64 `mapstructure:"commission_rate"`
	MinDeposit               int64   `mapstructure:"min_deposit"`
	Currency                 string  `mapstructure:"currency"`
	PlatformAccountID        int64   `mapstructure:"platform_account_id"` // 佣金入账的平台账户
	PendingDepositTTLHours   int     `mapstructure:"pending_deposit_ttl_hours"`
	MaxRetryCount            int     `mapstructure:"max_retry_count"`
	ReconcileIntervalSeconds int     `mapstructure:"reconcile_interval_seconds"`
}

func (b BusinessConfig) CommissionRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(b.CommissionRate)
}

func (b BusinessConfig) MinDepositDecimal() decimal.Decimal {
	return decimal.NewFromInt(b.MinDeposit)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 50)
	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.mysql.max_open_conns", 50)
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("kafka.topic.payment_events", "marketpay.payment")
	v.SetDefault("kafka.topic.commission_events", "marketpay.commission")
	v.SetDefault("business.commission_rate", 0.02)
	v.SetDefault("business.min_deposit", 1000)
	v.SetDefault("business.currency", model.DefaultCurrency)
	v.SetDefault("business.platform_account_id", 1)
	v.SetDefault("business.pending_deposit_ttl_hours", 72)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.reconcile_interval_seconds", 300)
}

// Load 加载配置文件
//
// 读取顺序：.env（可选）-> yaml 文件 -> MARKETPAY_ 前缀的环境变量，后者覆盖前者。
// 例如 MARKETPAY_SERVER_JWT_SECRET 覆盖 server.jwt_secret。
func Load(configPath string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MARKETPAY")
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

func (c *Config) validate() error {
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret 不能为空")
	}
	switch c.Database.Driver {
	case DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("不支持的 database.driver: %s", c.Database.Driver)
	}
	if c.Business.CommissionRate < 0 || c.Business.CommissionRate >= 1 {
		return fmt.Errorf("business.commission_rate 必须在 [0, 1) 之间")
	}
	return nil
}

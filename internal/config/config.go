// Package config provides configuration management for the prize wheel service
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	Auth      AuthConfig
	Wheel     WheelConfig
	Messaging MessagingConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// RedisConfig holds the eligibility lock store. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AMQPConfig holds the merchant alert broker. An empty URL disables it.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AuthConfig holds token configuration
type AuthConfig struct {
	JWTSecret         string
	MerchantTokenTTL  time.Duration
	RedeemTokenSecret string
}

// WheelConfig holds game behaviour settings
type WheelConfig struct {
	AnimationDuration time.Duration
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	AutoResolve       bool
	RedeemBaseURL     string
	DeviceHashKey     string
	DefaultTimezone   string
	NotifyTimeout     time.Duration
}

// MessagingConfig holds the customer message gateway. An empty BaseURL
// disables customer messages.
type MessagingConfig struct {
	BaseURL    string
	OperatorID string
	SecretKey  string
	Timeout    time.Duration
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string
	JSON  bool
}

// Load loads configuration from environment with defaults. A .env file in
// the working directory is read first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("WHEEL_PORT", "8080"),
			ReadTimeout:  getDuration("WHEEL_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WHEEL_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver: getEnv("WHEEL_DB_DRIVER", "postgres"),
			DSN:    getEnv("WHEEL_DB_DSN", "host=localhost dbname=prizewheel sslmode=disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("WHEEL_REDIS_ADDR", ""),
			Password: getEnv("WHEEL_REDIS_PASSWORD", ""),
			DB:       getInt("WHEEL_REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("WHEEL_AMQP_URL", ""),
			Exchange: getEnv("WHEEL_AMQP_EXCHANGE", "prizewheel.events"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("WHEEL_JWT_SECRET", "prizewheel-dev-secret-change-in-production"),
			MerchantTokenTTL:  getDuration("WHEEL_MERCHANT_TOKEN_TTL", 12*time.Hour),
			RedeemTokenSecret: getEnv("WHEEL_REDEEM_SECRET", "prizewheel-redeem-secret-change-in-production"),
		},
		Wheel: WheelConfig{
			AnimationDuration: getDuration("WHEEL_ANIMATION_DURATION", 5*time.Second),
			SessionTTL:        getDuration("WHEEL_SESSION_TTL", 30*time.Minute),
			SweepInterval:     getDuration("WHEEL_SWEEP_INTERVAL", time.Minute),
			AutoResolve:       getBool("WHEEL_AUTO_RESOLVE", true),
			RedeemBaseURL:     getEnv("WHEEL_REDEEM_BASE_URL", "http://localhost:8080/api/v1/redeem"),
			DeviceHashKey:     getEnv("WHEEL_DEVICE_HASH_KEY", "prizewheel-device-key"),
			DefaultTimezone:   getEnv("WHEEL_DEFAULT_TIMEZONE", "UTC"),
			NotifyTimeout:     getDuration("WHEEL_NOTIFY_TIMEOUT", 10*time.Second),
		},
		Messaging: MessagingConfig{
			BaseURL:    getEnv("WHEEL_MSG_BASE_URL", ""),
			OperatorID: getEnv("WHEEL_MSG_OPERATOR_ID", ""),
			SecretKey:  getEnv("WHEEL_MSG_SECRET_KEY", ""),
			Timeout:    getDuration("WHEEL_MSG_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("WHEEL_LOG_LEVEL", "info"),
			JSON:  getBool("WHEEL_LOG_JSON", true),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "YCCHAT_"

type Config struct {
	ListenAddr  string
	DBURL       string
	RedisURL    string
	TLSCertPath string
	TLSKeyPath  string

	JWTSecret       []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	LogLevel  string
	LogFormat string

	PubSubChannel     string
	FanoutSendTimeout time.Duration
	FanoutWorkers     int
	PingInterval      time.Duration

	SendRateLimit float64
	SendRateBurst int

	TraceStdout bool
}

// LoadDotEnv reads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:  envString("LISTEN_ADDR", ":8080"),
		DBURL:       os.Getenv(envPrefix + "DB_URL"),
		RedisURL:    os.Getenv(envPrefix + "REDIS_URL"),
		TLSCertPath: os.Getenv(envPrefix + "TLS_CERT"),
		TLSKeyPath:  os.Getenv(envPrefix + "TLS_KEY"),
		JWTSecret:   []byte(os.Getenv(envPrefix + "JWT_SECRET")),

		LogLevel:      envString("LOG_LEVEL", "info"),
		LogFormat:     envString("LOG_FORMAT", "json"),
		PubSubChannel: envString("PUBSUB_CHANNEL", "ycchat:pubsub"),
	}

	var err error
	if cfg.AccessTokenTTL, err = envDuration("ACCESS_TOKEN_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = envDuration("REFRESH_TOKEN_TTL", 14*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.FanoutSendTimeout, err = envDuration("FANOUT_SEND_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PingInterval, err = envDuration("PING_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.FanoutWorkers, err = envInt("FANOUT_WORKERS", 64); err != nil {
		return Config{}, err
	}
	if cfg.SendRateBurst, err = envInt("SEND_RATE_BURST", 10); err != nil {
		return Config{}, err
	}
	if cfg.SendRateLimit, err = envFloat("SEND_RATE_LIMIT", 5); err != nil {
		return Config{}, err
	}
	if cfg.TraceStdout, err = envBool("TRACE_STDOUT", false); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if c.DBURL == "" {
		return errors.New("db url is required")
	}
	if c.RedisURL == "" {
		return errors.New("redis url is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt secret must be at least 32 bytes")
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return errors.New("both tls cert and key are required when enabling tls")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	if c.FanoutSendTimeout <= 0 || c.FanoutWorkers <= 0 {
		return errors.New("fanout send timeout and workers must be positive")
	}
	if c.PingInterval <= 0 {
		return errors.New("ping interval must be positive")
	}
	if c.SendRateLimit <= 0 || c.SendRateBurst <= 0 {
		return errors.New("send rate limit and burst must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s must be a duration: %w", envPrefix, key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s must be an integer: %w", envPrefix, key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s must be a number: %w", envPrefix, key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s%s must be a boolean: %w", envPrefix, key, err)
	}
	return b, nil
}

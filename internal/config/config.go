package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreMemory  = "memory"
	StoreSurreal = "surreal"
)

// Config holds all configuration for the application.
type Config struct {
	AppAddr    string
	InstanceID string

	Broker  BrokerConfig
	Store   StoreConfig
	Auth    AuthConfig
	WS      WSConfig
	Tracing TracingConfig

	MembershipCacheTTL      time.Duration
	PresenceOfflineDebounce time.Duration
	APIRateLimit            float64
	APIRateBurst            int
}

type BrokerConfig struct {
	URL           string
	ConsumerGroup string
	// PublishTimeout bounds how long a send waits for the broker to accept
	// its event before the publish is counted as failed.
	PublishTimeout time.Duration
}

type StoreConfig struct {
	Driver   string
	SeedFile string
	DBUrl    string
	DBNs     string
	DBDb     string
	DBUser   string
	DBPass   string
	// QueryTimeout bounds each database round trip.
	QueryTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type WSConfig struct {
	SendBuffer        int
	OverflowPolicy    string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPingFailures   int
	WriteTimeout      time.Duration
	ReadLimit         int64
	RateLimit         float64
	RateBurst         int
	OriginPatterns    []string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	ZipkinURL   string
}

var defaults = map[string]any{
	"APP_ADDR":                  ":8080",
	"BROKER_URL":                "memory://",
	"BROKER_CONSUMER_GROUP":     "chathub",
	"BROKER_PUBLISH_TIMEOUT":    "5s",
	"STORE_DRIVER":              StoreMemory,
	"SURREAL_QUERY_TIMEOUT":     "5s",
	"AUTH_TOKEN_TTL":            "24h",
	"WS_SEND_BUFFER":            256,
	"WS_OVERFLOW_POLICY":        "drop_oldest",
	"WS_HEARTBEAT_INTERVAL":     "30s",
	"WS_HEARTBEAT_TIMEOUT":      "10s",
	"WS_MAX_PING_FAILURES":      3,
	"WS_WRITE_TIMEOUT":          "10s",
	"WS_READ_LIMIT":             64 << 10,
	"WS_RATE_LIMIT":             20,
	"WS_RATE_BURST":             40,
	"MEMBERSHIP_CACHE_TTL":      "5s",
	"PRESENCE_OFFLINE_DEBOUNCE": "0s",
	"API_RATE_LIMIT":            10,
	"API_RATE_BURST":            30,
	"PUBSUB_TRACING_ENABLED":    false,
	"PUBSUB_TRACING_SERVICE":    "chathub",
	"PUBSUB_TRACING_ZIPKIN_URL": "http://localhost:9411/api/v2/spans",
}

// Load reads configuration from the environment, after loading a .env file
// when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{
		AppAddr:    v.GetString("APP_ADDR"),
		InstanceID: v.GetString("INSTANCE_ID"),
		Broker: BrokerConfig{
			URL:            v.GetString("BROKER_URL"),
			ConsumerGroup:  v.GetString("BROKER_CONSUMER_GROUP"),
			PublishTimeout: v.GetDuration("BROKER_PUBLISH_TIMEOUT"),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(v.GetString("STORE_DRIVER")),
			SeedFile: v.GetString("SEED_FILE"),
			DBUrl:    v.GetString("SURREAL_URL"),
			DBNs:     v.GetString("SURREAL_NS"),
			DBDb:     v.GetString("SURREAL_DB"),
			DBUser:   v.GetString("SURREAL_USER"),
			DBPass:   v.GetString("SURREAL_PASS"),

			QueryTimeout: v.GetDuration("SURREAL_QUERY_TIMEOUT"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("AUTH_JWT_SECRET"),
			TokenTTL:  v.GetDuration("AUTH_TOKEN_TTL"),
		},
		WS: WSConfig{
			SendBuffer:        v.GetInt("WS_SEND_BUFFER"),
			OverflowPolicy:    v.GetString("WS_OVERFLOW_POLICY"),
			HeartbeatInterval: v.GetDuration("WS_HEARTBEAT_INTERVAL"),
			HeartbeatTimeout:  v.GetDuration("WS_HEARTBEAT_TIMEOUT"),
			MaxPingFailures:   v.GetInt("WS_MAX_PING_FAILURES"),
			WriteTimeout:      v.GetDuration("WS_WRITE_TIMEOUT"),
			ReadLimit:         v.GetInt64("WS_READ_LIMIT"),
			RateLimit:         v.GetFloat64("WS_RATE_LIMIT"),
			RateBurst:         v.GetInt("WS_RATE_BURST"),
			OriginPatterns:    splitList(v.GetString("WS_ORIGIN_PATTERNS")),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("PUBSUB_TRACING_ENABLED"),
			ServiceName: v.GetString("PUBSUB_TRACING_SERVICE"),
			ZipkinURL:   v.GetString("PUBSUB_TRACING_ZIPKIN_URL"),
		},
		MembershipCacheTTL:      v.GetDuration("MEMBERSHIP_CACHE_TTL"),
		PresenceOfflineDebounce: v.GetDuration("PRESENCE_OFFLINE_DEBOUNCE"),
		APIRateLimit:            v.GetFloat64("API_RATE_LIMIT"),
		APIRateBurst:            v.GetInt("API_RATE_BURST"),
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSurreal:
		if c.Store.DBUrl == "" || c.Store.DBNs == "" || c.Store.DBDb == "" {
			errs = append(errs, errors.New("SURREAL_URL, SURREAL_NS and SURREAL_DB are required when STORE_DRIVER=surreal"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", c.Store.Driver, StoreMemory, StoreSurreal))
	}
	if c.WS.SendBuffer < 16 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be at least 16, got %d", c.WS.SendBuffer))
	}
	if c.WS.OverflowPolicy != "drop_oldest" && c.WS.OverflowPolicy != "disconnect" {
		errs = append(errs, fmt.Errorf("unknown WS_OVERFLOW_POLICY %q", c.WS.OverflowPolicy))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config loads service settings: defaults, then an optional YAML
// file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	GatewaySimulated = "simulated"
	GatewayHTTP      = "http"

	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

type Config struct {
	Service     Service     `yaml:"service"`
	Log         Log         `yaml:"log"`
	Tracing     Tracing     `yaml:"tracing"`
	Metrics     Metrics     `yaml:"metrics"`
	Storage     Storage     `yaml:"storage"`
	Payment     Payment     `yaml:"payment"`
	Reservation Reservation `yaml:"reservation"`
	// Seed stock per product id, applied at startup.
	Seed map[string]int `yaml:"seed"`
}

type Service struct {
	Name            string        `yaml:"name"`
	Env             string        `yaml:"env"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Tracing struct {
	Exporter string `yaml:"exporter"`
}

type Metrics struct {
	Namespace string `yaml:"namespace"`
}

type Storage struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Redis       Redis  `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Payment struct {
	Gateway       string        `yaml:"gateway"`
	Endpoint      string        `yaml:"endpoint"`
	PartnerCode   string        `yaml:"partner_code"`
	RedirectURL   string        `yaml:"redirect_url"`
	NotifyURL     string        `yaml:"notify_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   uint          `yaml:"max_attempts"`
	// Simulator settings, used when Gateway is "simulated".
	SimulatorBaseURL     string        `yaml:"simulator_base_url"`
	SimulatorDelay       time.Duration `yaml:"simulator_delay"`
	SimulatorSuccessRate float64       `yaml:"simulator_success_rate"`
}

// Reservation expiry. A zero TTL keeps reservations until an explicit transition.
type Reservation struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func Default() Config {
	return Config{
		Service: Service{
			Name:            "minishop",
			Env:             "dev",
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log:     Log{Level: "info"},
		Tracing: Tracing{Exporter: ExporterNone},
		Metrics: Metrics{Namespace: "minishop"},
		Storage: Storage{
			Backend: BackendMemory,
			Redis:   Redis{Addr: "localhost:6379", Prefix: "minishop:product:"},
		},
		Payment: Payment{
			Gateway:              GatewaySimulated,
			Timeout:              5 * time.Second,
			MaxAttempts:          3,
			SimulatorBaseURL:     "http://localhost:8080",
			SimulatorDelay:       2 * time.Second,
			SimulatorSuccessRate: 0.7,
		},
		Reservation: Reservation{SweepInterval: time.Minute},
	}
}

// Load reads path (or CONFIG_FILE when path is empty), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("SERVICE_NAME", &cfg.Service.Name)
	e.str("ENV", &cfg.Service.Env)
	e.str("HTTP_ADDR", &cfg.Service.Addr)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.Service.ShutdownTimeout)
	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FILE", &cfg.Log.File)
	e.str("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	e.str("METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	e.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	e.str("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	e.str("REDIS_ADDR", &cfg.Storage.Redis.Addr)
	e.str("REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	e.integer("REDIS_DB", &cfg.Storage.Redis.DB)
	e.str("REDIS_PREFIX", &cfg.Storage.Redis.Prefix)

	e.str("PAYMENT_GATEWAY", &cfg.Payment.Gateway)
	e.str("PAYMENT_ENDPOINT", &cfg.Payment.Endpoint)
	e.str("PAYMENT_PARTNER_CODE", &cfg.Payment.PartnerCode)
	e.str("PAYMENT_REDIRECT_URL", &cfg.Payment.RedirectURL)
	e.str("PAYMENT_NOTIFY_URL", &cfg.Payment.NotifyURL)
	e.str("PAYMENT_WEBHOOK_SECRET", &cfg.Payment.WebhookSecret)
	e.duration("PAYMENT_TIMEOUT", &cfg.Payment.Timeout)
	e.float("PAYMENT_SIMULATOR_SUCCESS_RATE", &cfg.Payment.SimulatorSuccessRate)
	e.duration("PAYMENT_SIMULATOR_DELAY", &cfg.Payment.SimulatorDelay)

	e.duration("RESERVATION_TTL", &cfg.Reservation.TTL)
	e.duration("RESERVATION_SWEEP_INTERVAL", &cfg.Reservation.SweepInterval)

	if v, ok := lookup("SEED_STOCK"); ok && v != "" {
		seed, err := parseSeed(v)
		if err != nil {
			e.errs = append(e.errs, err)
		} else {
			cfg.Seed = seed
		}
	}
	return errors.Join(e.errs...)
}

// parseSeed reads "A=10,B=5".
func parseSeed(v string) (map[string]int, error) {
	out := make(map[string]int)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, qty, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("config: SEED_STOCK entry %q: want id=stock", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil {
			return nil, fmt.Errorf("config: SEED_STOCK entry %q: %w", part, err)
		}
		out[strings.TrimSpace(id)] = n
	}
	return out, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Service.Addr == "" {
		errs = append(errs, errors.New("config: service.addr is required"))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("config: storage.postgres_dsn is required for the postgres backend"))
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("config: storage.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Payment.Gateway {
	case GatewaySimulated:
		if c.Payment.SimulatorSuccessRate < 0 || c.Payment.SimulatorSuccessRate > 1 {
			errs = append(errs, errors.New("config: payment.simulator_success_rate must be within [0, 1]"))
		}
	case GatewayHTTP:
		if c.Payment.Endpoint == "" {
			errs = append(errs, errors.New("config: payment.endpoint is required for the http gateway"))
		}
		if c.Payment.WebhookSecret == "" {
			errs = append(errs, errors.New("config: payment.webhook_secret is required for the http gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown payment.gateway %q", c.Payment.Gateway))
	}
	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("config: unknown tracing.exporter %q", c.Tracing.Exporter))
	}
	if c.Reservation.TTL < 0 {
		errs = append(errs, errors.New("config: reservation.ttl must not be negative"))
	}
	if c.Reservation.TTL > 0 && c.Reservation.SweepInterval <= 0 {
		errs = append(errs, errors.New("config: reservation.sweep_interval must be positive when ttl is set"))
	}
	for id, n := range c.Seed {
		if id == "" || n < 0 {
			errs = append(errs, fmt.Errorf("config: seed entry %q=%d is invalid", id, n))
		}
	}
	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = d
	}
}

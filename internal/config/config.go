package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

const configFileEnv = "CONFIG_FILE"

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"

	AuthModeSession   = "session"
	AuthModeStateless = "stateless"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort           string   `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	StoreDriver        string   `env:"STORE_DRIVER" envDefault:"postgres"`
	SessionStore       string   `env:"SESSION_STORE" envDefault:"postgres"`
	AutoMigrate        bool     `env:"AUTO_MIGRATE" envDefault:"true"`
	AuthMode           string   `env:"AUTH_MODE" envDefault:"session"`
	JWTSecret          string   `env:"JWT_SECRET,required"`
	SessionTTLHours    int      `env:"SESSION_TTL_HOURS" envDefault:"24"`
	RedisAddr          string   `env:"REDIS_ADDR"`
	RedisPassword      string   `env:"REDIS_PASSWORD"`
	RedisDB            int      `env:"REDIS_DB" envDefault:"0"`
	CORSOrigins        []string `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPS       float64  `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst     int      `env:"RATE_LIMIT_BURST" envDefault:"20"`
	LoginMaxAttempts   int      `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginWindowMinutes int      `env:"LOGIN_WINDOW_MINUTES" envDefault:"15"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig carga la configuración desde variables de entorno.
// Si CONFIG_FILE apunta a un YAML, sus claves (mismos nombres que las
// variables) se usan como base y el entorno real las pisa.
func LoadConfig() (*Config, error) {
	environ := currentEnviron()
	if path := strings.TrimSpace(environ[configFileEnv]); path != "" {
		fileVars, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fileVars {
			if _, ok := environ[k]; !ok {
				environ[k] = v
			}
		}
	}
	return parse(environ)
}

func parse(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate comprueba combinaciones de valores que los tags no pueden expresar.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.SessionStore {
	case DriverPostgres, DriverMemory, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("config: unknown SESSION_STORE %q", c.SessionStore))
	}
	switch c.AuthMode {
	case AuthModeSession, AuthModeStateless:
	default:
		errs = append(errs, fmt.Errorf("config: unknown AUTH_MODE %q", c.AuthMode))
	}
	if (c.StoreDriver == DriverPostgres || c.SessionStore == DriverPostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL is required for the postgres driver"))
	}
	if c.SessionStore == DriverPostgres && c.StoreDriver == DriverMemory {
		errs = append(errs, errors.New("config: postgres sessions need accounts in postgres"))
	}
	if c.SessionStore == DriverRedis && c.RedisAddr == "" {
		errs = append(errs, errors.New("config: REDIS_ADDR is required for the redis session store"))
	}
	if c.SessionTTLHours <= 0 {
		errs = append(errs, errors.New("config: SESSION_TTL_HOURS must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) LoginWindow() time.Duration {
	return time.Duration(c.LoginWindowMinutes) * time.Minute
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(k), "-", "_"))
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func currentEnviron() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

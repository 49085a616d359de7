package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Addr              string        `yaml:"addr"`
		MetricsAddr       string        `yaml:"metrics_addr"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
		MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Dev struct {
		Mode bool `yaml:"mode"`
	} `yaml:"dev"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Redis struct {
		URL            string        `yaml:"url"`
		EntitlementTTL time.Duration `yaml:"entitlement_ttl"`
	} `yaml:"redis"`
	Billing struct {
		Provider            string `yaml:"provider"`
		WebhookSecret       string `yaml:"webhook_secret"`
		APIKey              string `yaml:"api_key"`
		APIBaseURL          string `yaml:"api_base_url"`
		StoreID             string `yaml:"store_id"`
		VariantID           string `yaml:"variant_id"`
		CheckoutRedirectURL string `yaml:"checkout_redirect_url"`
	} `yaml:"billing"`
	Security struct {
		APIKey          string `yaml:"api_key"`
		TokenSigningKey string `yaml:"token_signing_key"`
		TokenIssuer     string `yaml:"token_issuer"`
		WebhookRPM      int    `yaml:"webhook_rpm"`
	} `yaml:"security"`
	Quiz struct {
		FreeDailyAttempts int `yaml:"free_daily_attempts"`
	} `yaml:"quiz"`
	Reconcile struct {
		Schedule       string        `yaml:"schedule"`
		FailedEventAge time.Duration `yaml:"failed_event_age"`
	} `yaml:"reconcile"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8090"
	cfg.HTTP.MetricsAddr = ":9091"
	cfg.HTTP.ReadHeaderTimeout = 5 * time.Second
	cfg.HTTP.MaxBodyBytes = 1 << 20
	cfg.Dev.Mode = true
	cfg.Database.Driver = "postgres"
	cfg.Redis.EntitlementTTL = 30 * time.Second
	cfg.Billing.Provider = "lemonsqueezy"
	cfg.Billing.APIBaseURL = "https://api.lemonsqueezy.com"
	cfg.Security.WebhookRPM = 600
	cfg.Quiz.FreeDailyAttempts = 3
	cfg.Reconcile.Schedule = "@hourly"
	cfg.Reconcile.FailedEventAge = time.Hour
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// Load reads defaults, then the optional YAML file at path, then a local .env
// file, then PS_* environment variables. Later sources win.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	// godotenv.Load never overrides variables already present in the process.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return errors.New("database.driver must be postgres or sqlite")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("missing database.dsn (or PS_DB_DSN)")
	}
	if !c.Dev.Mode && strings.TrimSpace(c.Billing.WebhookSecret) == "" {
		return errors.New("missing billing.webhook_secret (or PS_BILLING_WEBHOOK_SECRET)")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PS_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("PS_METRICS_ADDR"); v != "" {
		cfg.HTTP.MetricsAddr = v
	}
	if v := os.Getenv("PS_HTTP_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HTTP.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("PS_DEV_MODE"); v != "" {
		cfg.Dev.Mode = parseBool(v, cfg.Dev.Mode)
	}
	if v := os.Getenv("PS_DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PS_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PS_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PS_REDIS_ENTITLEMENT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.EntitlementTTL = d
		}
	}
	if v := os.Getenv("PS_BILLING_PROVIDER"); v != "" {
		cfg.Billing.Provider = v
	}
	if v := os.Getenv("PS_BILLING_WEBHOOK_SECRET"); v != "" {
		cfg.Billing.WebhookSecret = v
	}
	if v := os.Getenv("PS_BILLING_API_KEY"); v != "" {
		cfg.Billing.APIKey = v
	}
	if v := os.Getenv("PS_BILLING_API_BASE_URL"); v != "" {
		cfg.Billing.APIBaseURL = v
	}
	if v := os.Getenv("PS_BILLING_STORE_ID"); v != "" {
		cfg.Billing.StoreID = v
	}
	if v := os.Getenv("PS_BILLING_VARIANT_ID"); v != "" {
		cfg.Billing.VariantID = v
	}
	if v := os.Getenv("PS_BILLING_CHECKOUT_REDIRECT_URL"); v != "" {
		cfg.Billing.CheckoutRedirectURL = v
	}
	if v := os.Getenv("PS_API_KEY"); v != "" {
		cfg.Security.APIKey = v
	}
	if v := os.Getenv("PS_TOKEN_SIGNING_KEY"); v != "" {
		cfg.Security.TokenSigningKey = v
	}
	if v := os.Getenv("PS_TOKEN_ISSUER"); v != "" {
		cfg.Security.TokenIssuer = v
	}
	if v := os.Getenv("PS_WEBHOOK_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.WebhookRPM = n
		}
	}
	if v := os.Getenv("PS_QUIZ_FREE_DAILY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quiz.FreeDailyAttempts = n
		}
	}
	if v := os.Getenv("PS_RECONCILE_SCHEDULE"); v != "" {
		cfg.Reconcile.Schedule = v
	}
	if v := os.Getenv("PS_RECONCILE_FAILED_EVENT_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reconcile.FailedEventAge = d
		}
	}
	if v := os.Getenv("PS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

// config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	DatabaseURL    string
	DBDriver       string
	ServiceToken   string
	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	SweepInterval   time.Duration
	RetryInterval   time.Duration
	SessionGrace    time.Duration
	ShutdownTimeout time.Duration

	CatalogSource       string
	CatalogFile         string
	CatalogObjectKey    string
	CatalogURL          string
	CatalogSyncInterval time.Duration

	R2 R2Config
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

const (
	CatalogSourceNone = "none"
	CatalogSourceFile = "file"
	CatalogSourceR2   = "r2"
	CatalogSourceHTTP = "http"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "5200")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("PROGRESSION_RETRY_INTERVAL", "1m")
	v.SetDefault("SESSION_GRACE", "10s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("CATALOG_SOURCE", CatalogSourceNone)
	v.SetDefault("CATALOG_FILE", "catalog.json")
	v.SetDefault("CATALOG_OBJECT_KEY", "catalog/matching-games.json")
	v.SetDefault("CATALOG_SYNC_INTERVAL", "10m")
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, reading environment variables directly")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:                v.GetString("PORT"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		DBDriver:            strings.ToLower(v.GetString("DB_DRIVER")),
		ServiceToken:        v.GetString("GAME_SERVICE_TOKEN"),
		AllowedOrigins:      splitList(v.GetString("ALLOWED_ORIGINS")),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
		RetryInterval:       v.GetDuration("PROGRESSION_RETRY_INTERVAL"),
		SessionGrace:        v.GetDuration("SESSION_GRACE"),
		ShutdownTimeout:     v.GetDuration("SHUTDOWN_TIMEOUT"),
		CatalogSource:       strings.ToLower(v.GetString("CATALOG_SOURCE")),
		CatalogFile:         v.GetString("CATALOG_FILE"),
		CatalogObjectKey:    v.GetString("CATALOG_OBJECT_KEY"),
		CatalogURL:          v.GetString("CATALOG_URL"),
		CatalogSyncInterval: v.GetDuration("CATALOG_SYNC_INTERVAL"),
		R2: R2Config{
			AccountID:       v.GetString("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
			AccessKeySecret: v.GetString("R2_ACCESS_KEY_SECRET"),
			Bucket:          v.GetString("R2_BUCKET_NAME"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.ServiceToken == "" {
		errs = append(errs, errors.New("GAME_SERVICE_TOKEN is not set, service cannot authenticate the gateway"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, errors.New("DB_DRIVER must be postgres or sqlite"))
	}
	if c.SweepInterval <= 0 || c.RetryInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL and PROGRESSION_RETRY_INTERVAL must be positive"))
	}
	switch c.CatalogSource {
	case CatalogSourceNone, CatalogSourceFile:
	case CatalogSourceR2:
		if c.R2.AccountID == "" || c.R2.Bucket == "" {
			errs = append(errs, errors.New("CATALOG_SOURCE=r2 needs CLOUDFLARE_ACCOUNT_ID and R2_BUCKET_NAME"))
		}
	case CatalogSourceHTTP:
		if c.CatalogURL == "" {
			errs = append(errs, errors.New("CATALOG_SOURCE=http needs CATALOG_URL"))
		}
	default:
		errs = append(errs, errors.New("CATALOG_SOURCE must be one of none, file, r2, http"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	// DSN overrides the individual fields when set.
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

type Stripe struct {
	SecretKey     string
	WebhookSecret string
	ProductID     string
	Currency      string
}

type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type Config struct {
	Env          string
	Addr         string
	Debug        bool
	JWTSecret    string
	JWTTTL       time.Duration
	RollbarToken string
	Timezone     string
	// Shift start times as "15:04" in Timezone.
	MorningStart   string
	AfternoonStart string
	RatesPerChild  []int64
	CacheEntries   int

	Database Database
	Stripe   Stripe
	SMTP     SMTP
}

// Location returns the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("addr", ":8080")
	v.SetDefault("debug", false)
	v.SetDefault("jwt_secret", "dev-insecure-secret")
	v.SetDefault("jwt_ttl", 12*time.Hour)
	v.SetDefault("rollbar_token", "")
	v.SetDefault("timezone", "America/Chicago")
	v.SetDefault("morning_start", "09:00")
	v.SetDefault("afternoon_start", "13:00")
	v.SetDefault("rates_per_child", []int64{8000, 8000, 7000, 6500})
	v.SetDefault("cache_entries", 256)

	v.SetDefault("db_user", "root")
	v.SetDefault("db_password", "")
	v.SetDefault("db_host", "127.0.0.1")
	v.SetDefault("db_port", "3306")
	v.SetDefault("db_name", "dugsi")
	v.SetDefault("db_dsn", "")
	v.SetDefault("db_max_open_conns", 25)
	v.SetDefault("db_max_idle_conns", 25)
	v.SetDefault("db_conn_lifetime", 5*time.Minute)

	v.SetDefault("stripe_secret_key", "")
	v.SetDefault("stripe_webhook_secret", "")
	v.SetDefault("stripe_product_id", "")
	v.SetDefault("stripe_currency", "usd")

	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "")

	v.SetEnvPrefix("DUGSI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional .env file at envFile (ignored when missing) and builds the
// configuration from defaults and DUGSI_* environment variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, errors.Wrapf(err, "loading %s", envFile)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "stat %s", envFile)
		}
	}

	v := newViper()
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	rates, err := parseRates(v.GetString("rates_per_child"), v.Get("rates_per_child"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:            env,
		Addr:           v.GetString("addr"),
		Debug:          v.GetBool("debug"),
		JWTSecret:      v.GetString("jwt_secret"),
		JWTTTL:         v.GetDuration("jwt_ttl"),
		RollbarToken:   v.GetString("rollbar_token"),
		Timezone:       v.GetString("timezone"),
		MorningStart:   v.GetString("morning_start"),
		AfternoonStart: v.GetString("afternoon_start"),
		RatesPerChild:  rates,
		CacheEntries:   v.GetInt("cache_entries"),
		Database: Database{
			User:         v.GetString("db_user"),
			Password:     v.GetString("db_password"),
			Host:         v.GetString("db_host"),
			Port:         v.GetString("db_port"),
			Name:         v.GetString("db_name"),
			DSN:          v.GetString("db_dsn"),
			MaxOpenConns: v.GetInt("db_max_open_conns"),
			MaxIdleConns: v.GetInt("db_max_idle_conns"),
			ConnLifetime: v.GetDuration("db_conn_lifetime"),
		},
		Stripe: Stripe{
			SecretKey:     v.GetString("stripe_secret_key"),
			WebhookSecret: v.GetString("stripe_webhook_secret"),
			ProductID:     v.GetString("stripe_product_id"),
			Currency:      v.GetString("stripe_currency"),
		},
		SMTP: SMTP{
			Host:     v.GetString("smtp_host"),
			Port:     v.GetInt("smtp_port"),
			User:     v.GetString("smtp_user"),
			Password: v.GetString("smtp_password"),
			From:     v.GetString("smtp_from"),
		},
	}
	if cfg.JWTSecret == "dev-insecure-secret" && env == "PROD" {
		log.Printf("[CONFIG][warn] DUGSI_JWT_SECRET not set in %s", env)
	}
	return cfg, nil
}

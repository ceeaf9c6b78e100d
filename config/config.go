package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

func LoadEnv() error {
	// .env is optional; deployed environments set variables directly.
	if err := godotenv.Load(); err != nil {
		return nil
	}
	return nil
}

// ValidateEnv checks that critical environment variables are set.
// Returns an error if any critical variable is missing.
func ValidateEnv() error {
	var missing []string

	if os.Getenv("JWT_SECRET") == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if os.Getenv("DATABASE_URL") == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("critical environment variables not set: %v", missing)
	}

	if os.Getenv("REDIS_ADDR") == "" {
		zlog.Warn().Msg("REDIS_ADDR not set - merchant settings will not be cached")
	}
	if os.Getenv("KAFKA_BROKERS") == "" {
		zlog.Warn().Msg("KAFKA_BROKERS not set - outbox events will stay in the database")
	}
	if os.Getenv("JAEGER_ENDPOINT") == "" {
		zlog.Warn().Msg("JAEGER_ENDPOINT not set - traces will not be exported")
	}
	if os.Getenv("ALLOWED_ORIGINS") == "" {
		zlog.Warn().Msg("ALLOWED_ORIGINS not set - CORS falls back to localhost")
	}

	return nil
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return value
}

// MerchantDefaults is the settings snapshot used for merchants that have no
// settings row of their own.
type MerchantDefaults struct {
	EarnBps                    int    `yaml:"earnBps"`
	RedeemLimitBps             int    `yaml:"redeemLimitBps"`
	EarnCooldownSec            int    `yaml:"earnCooldownSec"`
	RedeemCooldownSec          int    `yaml:"redeemCooldownSec"`
	EarnDailyCap               *int64 `yaml:"earnDailyCap"`
	RedeemDailyCap             *int64 `yaml:"redeemDailyCap"`
	AllowEarnRedeemSameReceipt bool   `yaml:"allowEarnRedeemSameReceipt"`
	LevelsPeriodDays           int    `yaml:"levelsPeriodDays"`

	StaffMotivation struct {
		Enabled           bool   `yaml:"enabled"`
		NewCustomerPoints int    `yaml:"newCustomerPoints"`
		ExistingPoints    int    `yaml:"existingCustomerPoints"`
		LeaderboardPeriod string `yaml:"leaderboardPeriod"`
		CustomDays        int    `yaml:"customDays"`
	} `yaml:"staffMotivation"`
}

// DefaultMerchantDefaults returns the built-in defaults.
func DefaultMerchantDefaults() MerchantDefaults {
	d := MerchantDefaults{
		EarnBps:          300,
		RedeemLimitBps:   5000,
		LevelsPeriodDays: 365,
	}
	d.StaffMotivation.NewCustomerPoints = 30
	d.StaffMotivation.ExistingPoints = 10
	d.StaffMotivation.LeaderboardPeriod = "week"
	return d
}

// LoadMerchantDefaults reads a YAML defaults file on top of the built-in
// defaults. An empty path returns the built-in defaults.
func LoadMerchantDefaults(path string) (MerchantDefaults, error) {
	d := DefaultMerchantDefaults()
	if path == "" {
		return d, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, errors.Wrapf(err, "read merchant defaults %s", path)
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return d, errors.Wrapf(err, "parse merchant defaults %s", path)
	}
	if d.EarnBps < 0 || d.RedeemLimitBps < 0 || d.RedeemLimitBps > 10000 {
		return d, errors.Errorf("merchant defaults %s: rates out of range", path)
	}
	if d.LevelsPeriodDays <= 0 {
		d.LevelsPeriodDays = 365
	}
	return d, nil
}

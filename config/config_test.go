package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnv(t *testing.T) {
	// LoadEnv returns nil when no .env file exists
	err := LoadEnv()
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidateEnvAllSet(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("DATABASE_URL", "test-db-url")
	defer os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("DATABASE_URL")

	err := ValidateEnv()
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidateEnvMissingJWTSecret(t *testing.T) {
	os.Unsetenv("JWT_SECRET")
	os.Setenv("DATABASE_URL", "test-db-url")
	defer os.Unsetenv("DATABASE_URL")

	err := ValidateEnv()
	if err == nil {
		t.Error("expected error for missing JWT_SECRET")
	}
}

func TestValidateEnvMissingDatabaseURL(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret")
	os.Unsetenv("DATABASE_URL")
	defer os.Unsetenv("JWT_SECRET")

	err := ValidateEnv()
	if err == nil {
		t.Error("expected error for missing DATABASE_URL")
	}
}

func TestValidateEnvMissingBoth(t *testing.T) {
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("DATABASE_URL")

	err := ValidateEnv()
	if err == nil {
		t.Error("expected error for missing both")
	}
}

func TestGetEnvExisting(t *testing.T) {
	os.Setenv("TEST_GET_ENV_KEY", "test-value")
	defer os.Unsetenv("TEST_GET_ENV_KEY")

	result := GetEnv("TEST_GET_ENV_KEY", "default")
	if result != "test-value" {
		t.Errorf("expected 'test-value', got '%s'", result)
	}
}

func TestGetEnvMissing(t *testing.T) {
	os.Unsetenv("TEST_GET_ENV_MISSING")
	result := GetEnv("TEST_GET_ENV_MISSING", "fallback")
	if result != "fallback" {
		t.Errorf("expected 'fallback', got '%s'", result)
	}
}

func TestGetEnvIntParsesAndFallsBack(t *testing.T) {
	os.Setenv("TEST_GET_ENV_INT", "42")
	defer os.Unsetenv("TEST_GET_ENV_INT")

	if got := GetEnvInt("TEST_GET_ENV_INT", 1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	os.Setenv("TEST_GET_ENV_INT", "nope")
	if got := GetEnvInt("TEST_GET_ENV_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_GET_ENV_DURATION", "250ms")
	defer os.Unsetenv("TEST_GET_ENV_DURATION")

	if got := GetEnvDuration("TEST_GET_ENV_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", got)
	}
	if got := GetEnvDuration("TEST_GET_ENV_DURATION_MISSING", time.Second); got != time.Second {
		t.Errorf("expected fallback 1s, got %s", got)
	}
}

func TestLoadMerchantDefaultsBuiltIn(t *testing.T) {
	d, err := LoadMerchantDefaults("")
	if err != nil {
		t.Fatal(err)
	}
	if d.EarnBps != 300 || d.RedeemLimitBps != 5000 {
		t.Errorf("unexpected built-in rates: %d/%d", d.EarnBps, d.RedeemLimitBps)
	}
	if d.StaffMotivation.NewCustomerPoints != 30 || d.StaffMotivation.ExistingPoints != 10 {
		t.Errorf("unexpected staff motivation defaults: %+v", d.StaffMotivation)
	}
}

func TestLoadMerchantDefaultsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	content := "earnBps: 500\nredeemLimitBps: 3000\nredeemDailyCap: 1000\nstaffMotivation:\n  enabled: true\n  leaderboardPeriod: month\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := LoadMerchantDefaults(path)
	if err != nil {
		t.Fatal(err)
	}
	if d.EarnBps != 500 || d.RedeemLimitBps != 3000 {
		t.Errorf("expected 500/3000, got %d/%d", d.EarnBps, d.RedeemLimitBps)
	}
	if d.RedeemDailyCap == nil || *d.RedeemDailyCap != 1000 {
		t.Errorf("expected redeem daily cap 1000, got %v", d.RedeemDailyCap)
	}
	if !d.StaffMotivation.Enabled || d.StaffMotivation.LeaderboardPeriod != "month" {
		t.Errorf("unexpected staff motivation: %+v", d.StaffMotivation)
	}
	// untouched keys keep built-in values
	if d.StaffMotivation.NewCustomerPoints != 30 || d.LevelsPeriodDays != 365 {
		t.Errorf("expected built-in values to survive, got %+v", d)
	}
}

func TestLoadMerchantDefaultsRejectsBadRates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	if err := os.WriteFile(path, []byte("redeemLimitBps: 20000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMerchantDefaults(path); err == nil {
		t.Fatal("expected error for redeemLimitBps above 10000")
	}
}

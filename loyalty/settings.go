package loyalty

import (
	"context"

	"loyalty-engine/config"
	"loyalty-engine/models"
	"loyalty-engine/staffmotivation"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Settings is the read-only snapshot of a merchant's rates and caps, fetched
// once at the start of an operation and passed down explicitly.
type Settings struct {
	MerchantID        uuid.UUID                `json:"merchant_id"`
	EarnBps           int                      `json:"earn_bps"`
	RedeemLimitBps    int                      `json:"redeem_limit_bps"`
	EarnCooldownSec   int                      `json:"earn_cooldown_sec"`
	RedeemCooldownSec int                      `json:"redeem_cooldown_sec"`
	EarnDailyCap      *int64                   `json:"earn_daily_cap,omitempty"`
	RedeemDailyCap    *int64                   `json:"redeem_daily_cap,omitempty"`
	AllowSameReceipt  bool                     `json:"allow_same_receipt"`
	LevelsPeriodDays  int                      `json:"levels_period_days"`
	StaffMotivation   staffmotivation.Settings `json:"staff_motivation"`
}

func staffDefaults(d config.MerchantDefaults) staffmotivation.Settings {
	period, custom := staffmotivation.NormalizePeriod(d.StaffMotivation.LeaderboardPeriod, d.StaffMotivation.CustomDays)
	return staffmotivation.Settings{
		Enabled:                   d.StaffMotivation.Enabled,
		PointsForNewCustomer:      d.StaffMotivation.NewCustomerPoints,
		PointsForExistingCustomer: d.StaffMotivation.ExistingPoints,
		LeaderboardPeriod:         period,
		CustomDays:                custom,
	}
}

func settingsFromDefaults(merchantID uuid.UUID, d config.MerchantDefaults) Settings {
	return Settings{
		MerchantID:        merchantID,
		EarnBps:           d.EarnBps,
		RedeemLimitBps:    d.RedeemLimitBps,
		EarnCooldownSec:   d.EarnCooldownSec,
		RedeemCooldownSec: d.RedeemCooldownSec,
		EarnDailyCap:      d.EarnDailyCap,
		RedeemDailyCap:    d.RedeemDailyCap,
		AllowSameReceipt:  d.AllowEarnRedeemSameReceipt,
		LevelsPeriodDays:  d.LevelsPeriodDays,
		StaffMotivation:   staffDefaults(d),
	}
}

func settingsFromRow(row *models.MerchantSettings, d config.MerchantDefaults) Settings {
	s := settingsFromDefaults(row.MerchantID, d)
	s.EarnBps = row.EarnBps
	s.RedeemLimitBps = row.RedeemLimitBps
	s.EarnCooldownSec = row.EarnCooldownSec
	s.RedeemCooldownSec = row.RedeemCooldownSec
	s.EarnDailyCap = row.EarnDailyCap
	s.RedeemDailyCap = row.RedeemDailyCap
	s.AllowSameReceipt = row.AllowEarnRedeemSameReceipt
	if row.LevelsPeriodDays > 0 {
		s.LevelsPeriodDays = row.LevelsPeriodDays
	}
	s.StaffMotivation = staffmotivation.SettingsFromRow(row, staffDefaults(d))
	return s
}

// LoadSettings returns the merchant's settings snapshot: cache first, then the
// settings row, then the configured defaults.
func (s *Service) LoadSettings(ctx context.Context, merchantID uuid.UUID) (Settings, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, merchantID); ok {
			return *cached, nil
		}
	}
	var row models.MerchantSettings
	err := s.db.WithContext(ctx).Where("merchant_id = ?", merchantID).Take(&row).Error
	var out Settings
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		out = settingsFromDefaults(merchantID, s.defaults)
	case err != nil:
		return Settings{}, errors.Wrap(err, "load merchant settings")
	default:
		out = settingsFromRow(&row, s.defaults)
	}
	if s.cache != nil {
		s.cache.Set(ctx, merchantID, out)
	}
	zerolog.Ctx(ctx).Debug().Str("merchant_id", merchantID.String()).Int("earn_bps", out.EarnBps).Msg("merchant settings loaded")
	return out, nil
}

func capValue(v *int64) int64 {
	if v == nil || *v <= 0 {
		return 0
	}
	return *v
}

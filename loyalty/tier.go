package loyalty

import (
	"context"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Rates are the effective earn/redeem parameters for one customer.
type Rates struct {
	EarnBps          int
	RedeemLimitBps   int
	TierMinPayment   *int64
	TierID           *uuid.UUID
	AllowSameReceipt bool
}

// ResolveRates applies the customer's current tier over the merchant settings.
// Customers without any tier use the settings rates.
func (s *Service) ResolveRates(ctx context.Context, merchantID, customerID uuid.UUID, settings Settings) (Rates, error) {
	ctx, span := tracer.Start(ctx, "loyalty.ResolveRates")
	defer span.End()

	rates := Rates{
		EarnBps:          settings.EarnBps,
		RedeemLimitBps:   settings.RedeemLimitBps,
		AllowSameReceipt: settings.AllowSameReceipt,
	}
	db := s.db.WithContext(ctx)
	now := s.now()

	var expired int64
	if err := db.Model(&models.LoyaltyTierAssignment{}).
		Where("merchant_id = ? AND customer_id = ? AND expires_at <= ?", merchantID, customerID, now).
		Count(&expired).Error; err != nil {
		return rates, errors.Wrap(err, "check tier assignment expiry")
	}
	if expired > 0 {
		if err := s.RecomputeTier(ctx, merchantID, customerID, settings); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("customer_id", customerID.String()).Msg("tier refresh failed")
		}
	}

	tier, err := s.currentTier(ctx, merchantID, customerID)
	if err != nil {
		return rates, err
	}
	if tier == nil {
		return rates, nil
	}
	rates.TierID = &tier.ID
	rates.EarnBps = tier.EarnRateBps
	if tier.RedeemRateBps != nil {
		rates.RedeemLimitBps = *tier.RedeemRateBps
	}
	if tier.MinPaymentAmount != nil && *tier.MinPaymentAmount >= 0 {
		mp := *tier.MinPaymentAmount
		rates.TierMinPayment = &mp
	}
	return rates, nil
}

func (s *Service) currentTier(ctx context.Context, merchantID, customerID uuid.UUID) (*models.LoyaltyTier, error) {
	db := s.db.WithContext(ctx)
	var assignment models.LoyaltyTierAssignment
	err := db.Where("merchant_id = ? AND customer_id = ? AND (expires_at IS NULL OR expires_at > ?)", merchantID, customerID, s.now()).
		Order("assigned_at DESC").
		Take(&assignment).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "load tier assignment")
	}
	var tier models.LoyaltyTier
	if err == nil {
		terr := db.Where("id = ? AND merchant_id = ?", assignment.TierID, merchantID).Take(&tier).Error
		if terr == nil {
			return &tier, nil
		}
		if !errors.Is(terr, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(terr, "load tier")
		}
	}
	err = db.Where("merchant_id = ? AND is_initial = ?", merchantID, true).
		Order("threshold_amount ASC").
		Take(&tier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load initial tier")
	}
	return &tier, nil
}

// RecomputeTier assigns the highest visible tier whose threshold the customer's
// spend over the levels period reaches. Manual assignments are left alone
// until they expire.
func (s *Service) RecomputeTier(ctx context.Context, merchantID, customerID uuid.UUID, settings Settings) error {
	db := s.db.WithContext(ctx)
	now := s.now()

	var current models.LoyaltyTierAssignment
	err := db.Where("merchant_id = ? AND customer_id = ?", merchantID, customerID).Take(&current).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(err, "load tier assignment")
	}
	if err == nil && current.Source == models.TierSourceManual && (current.ExpiresAt == nil || current.ExpiresAt.After(now)) {
		return nil
	}

	var tiers []models.LoyaltyTier
	if err := db.Where("merchant_id = ? AND is_hidden = ?", merchantID, false).
		Order("threshold_amount ASC").Order("created_at ASC").
		Find(&tiers).Error; err != nil {
		return errors.Wrap(err, "load tiers")
	}
	if len(tiers) == 0 {
		return nil
	}

	periodDays := settings.LevelsPeriodDays
	if periodDays <= 0 {
		periodDays = 365
	}
	since := now.AddDate(0, 0, -periodDays)
	var spent struct{ Total int64 }
	if err := db.Model(&models.Receipt{}).
		Select("COALESCE(SUM(total), 0) AS total").
		Where("merchant_id = ? AND customer_id = ? AND canceled_at IS NULL AND created_at >= ?", merchantID, customerID, since).
		Scan(&spent).Error; err != nil {
		return errors.Wrap(err, "sum receipts for tier")
	}

	target := tiers[0]
	for _, t := range tiers {
		if spent.Total >= t.ThresholdAmount {
			target = t
		}
	}

	expiresAt := now.Add(time.Duration(periodDays) * 24 * time.Hour)
	assignment := models.LoyaltyTierAssignment{
		MerchantID: merchantID,
		CustomerID: customerID,
		TierID:     target.ID,
		Source:     models.TierSourceAuto,
		AssignedAt: now,
		ExpiresAt:  &expiresAt,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier_id", "source", "assigned_at", "expires_at", "updated_at"}),
	}).Create(&assignment).Error; err != nil {
		return errors.Wrap(err, "upsert tier assignment")
	}
	zerolog.Ctx(ctx).Debug().
		Str("customer_id", customerID.String()).
		Str("tier", target.Name).
		Int64("spent", spent.Total).
		Msg("tier recomputed")
	return nil
}

package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	maxReferralLevels      = 5
	referralRewardPrefix   = "referral_reward_"
	referralRollbackPrefix = "referral_rollback_"
)

type ReferralParams struct {
	MerchantID     uuid.UUID
	BuyerID        uuid.UUID
	ReceiptID      uuid.UUID
	PurchaseAmount int64
}

type levelReward struct {
	Level   int      `json:"level"`
	Reward  *float64 `json:"reward"`
	Enabled bool     `json:"enabled"`
}

type referralPlan struct {
	program models.ReferralProgram
	levels  []levelReward
}

func (p referralPlan) level(n int) *levelReward {
	for i := range p.levels {
		if p.levels[i].Level == n {
			return &p.levels[i]
		}
	}
	return nil
}

func (p referralPlan) enabled(n int) bool {
	if n == 1 {
		return true
	}
	if !p.program.MultiLevel {
		return false
	}
	cfg := p.level(n)
	return cfg != nil && cfg.Enabled
}

func (p referralPlan) maxLevels() int {
	if !p.program.MultiLevel {
		return 1
	}
	top := 1
	for _, l := range p.levels {
		top = max(top, l.Level)
	}
	return min(top, maxReferralLevels)
}

func (p referralPlan) points(n int, purchase int64) int64 {
	value := 0.0
	if cfg := p.level(n); cfg != nil && cfg.Reward != nil {
		value = *cfg.Reward
	} else if n == 1 {
		value = p.program.ReferrerReward
	}
	value = math.Max(0, value)
	if strings.EqualFold(p.program.RewardType, models.ReferralRewardPercent) {
		return int64(math.Floor(float64(purchase) * value / 100))
	}
	return int64(math.Floor(value))
}

func referralOrderID(receiptID uuid.UUID, level int) string {
	return fmt.Sprintf("%s%s_L%d", referralRewardPrefix, receiptID, level)
}

// ApplyReferralRewards pays the referrer chain of a buyer for a purchase.
// Each level is paid at most once per receipt. Returns the points paid.
func (s *Service) ApplyReferralRewards(ctx context.Context, p ReferralParams) (int64, error) {
	ctx, span := tracer.Start(ctx, "loyalty.ApplyReferralRewards")
	defer span.End()

	var paid int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var program models.ReferralProgram
		err := tx.Where("merchant_id = ? AND is_active = ?", p.MerchantID, true).
			Order("created_at DESC").Take(&program).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "load referral program")
		}
		if p.PurchaseAmount < program.MinPurchaseAmount {
			return nil
		}

		var direct models.Referral
		err = tx.Where("program_id = ? AND referee_id = ?", program.ID, p.BuyerID).Take(&direct).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "load referral")
		}
		triggerAll := strings.EqualFold(program.RewardTrigger, models.ReferralTriggerAll)
		if !triggerAll && direct.Status != models.ReferralStatusActivated {
			return nil
		}

		plan := referralPlan{program: program}
		if program.LevelRewards != "" {
			if err := json.Unmarshal([]byte(program.LevelRewards), &plan.levels); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("program_id", program.ID.String()).Msg("bad referral level rewards")
				plan.levels = nil
			}
		}

		now := s.now()
		current := direct
		for level := 1; level <= plan.maxLevels(); level++ {
			if plan.enabled(level) {
				points := plan.points(level, p.PurchaseAmount)
				if points > 0 {
					ok, err := s.payReferrer(ctx, tx, p, current.ReferrerID, level, points)
					if err != nil {
						return err
					}
					if ok {
						paid += points
					}
				}
			}
			if !program.MultiLevel {
				break
			}
			var parent models.Referral
			err := tx.Where("program_id = ? AND referee_id = ?", program.ID, current.ReferrerID).Take(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			if err != nil {
				return errors.Wrap(err, "load parent referral")
			}
			current = parent
		}

		if !triggerAll {
			return errors.Wrap(tx.Model(&models.Referral{}).Where("id = ?", direct.ID).
				Updates(map[string]interface{}{
					"status":       models.ReferralStatusCompleted,
					"completed_at": now,
					"updated_at":   now,
				}).Error, "complete referral")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.metrics.AddPoints("referral", paid)
	return paid, nil
}

func (s *Service) payReferrer(ctx context.Context, tx *gorm.DB, p ReferralParams, referrerID uuid.UUID, level int, points int64) (bool, error) {
	orderID := referralOrderID(p.ReceiptID, level)
	var existing int64
	if err := tx.Model(&models.Transaction{}).
		Where("merchant_id = ? AND customer_id = ? AND order_id = ? AND type = ?",
			p.MerchantID, referrerID, orderID, models.TxnReferral).
		Count(&existing).Error; err != nil {
		return false, errors.Wrap(err, "check referral reward")
	}
	if existing > 0 {
		return false, nil
	}
	wallet, err := ensureWallet(ctx, tx, p.MerchantID, referrerID)
	if err != nil {
		return false, err
	}
	if err := adjustBalance(ctx, tx, wallet.ID, points); err != nil {
		return false, err
	}
	receiptID := p.ReceiptID
	if err := postMovement(ctx, tx, &models.Transaction{
		MerchantID: p.MerchantID,
		CustomerID: referrerID,
		Type:       models.TxnReferral,
		Amount:     points,
		OrderID:    &orderID,
		ReceiptID:  &receiptID,
		CreatedAt:  s.now(),
	}); err != nil {
		return false, err
	}
	zerolog.Ctx(ctx).Debug().
		Str("referrer_id", referrerID.String()).
		Int("level", level).
		Int64("points", points).
		Msg("referral reward paid")
	return true, nil
}

// RollbackReferralRewards reverses the referral rewards paid for a receipt
// and reopens a first-purchase referral. Nothing is reversed while the buyer
// still has another qualifying purchase under a first-purchase program.
func (s *Service) RollbackReferralRewards(ctx context.Context, tx *gorm.DB, receipt *models.Receipt) (int64, error) {
	var program models.ReferralProgram
	err := tx.Where("merchant_id = ?", receipt.MerchantID).Order("created_at DESC").Take(&program).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, errors.Wrap(err, "load referral program")
	}
	firstOnly := err == nil && !strings.EqualFold(program.RewardTrigger, models.ReferralTriggerAll)
	if firstOnly {
		var others int64
		if err := tx.Model(&models.Receipt{}).
			Where("merchant_id = ? AND customer_id = ? AND id <> ? AND canceled_at IS NULL AND total >= ?",
				receipt.MerchantID, receipt.CustomerID, receipt.ID, program.MinPurchaseAmount).
			Count(&others).Error; err != nil {
			return 0, errors.Wrap(err, "count other purchases")
		}
		if others > 0 {
			return 0, nil
		}
	}

	var rewards []models.Transaction
	if err := tx.Where("merchant_id = ? AND type = ? AND order_id LIKE ?",
		receipt.MerchantID, models.TxnReferral, referralRewardPrefix+receipt.ID.String()+"%").
		Find(&rewards).Error; err != nil {
		return 0, errors.Wrap(err, "load referral rewards")
	}

	now := s.now()
	var reversed int64
	for _, reward := range rewards {
		if reward.Amount <= 0 || reward.OrderID == nil {
			continue
		}
		rollbackID := strings.Replace(*reward.OrderID, referralRewardPrefix, referralRollbackPrefix, 1)
		var done int64
		if err := tx.Model(&models.Transaction{}).
			Where("merchant_id = ? AND order_id = ?", receipt.MerchantID, rollbackID).
			Count(&done).Error; err != nil {
			return reversed, errors.Wrap(err, "check referral rollback")
		}
		if done > 0 {
			continue
		}
		var wallet models.Wallet
		err := tx.Where("merchant_id = ? AND customer_id = ? AND type = ?",
			receipt.MerchantID, reward.CustomerID, models.WalletTypePoints).Take(&wallet).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return reversed, errors.Wrap(err, "load referrer wallet")
		}
		// The referrer may already have spent the reward.
		amount := min(reward.Amount, wallet.Balance)
		if amount <= 0 {
			continue
		}
		if err := adjustBalance(ctx, tx, wallet.ID, -amount); err != nil {
			return reversed, err
		}
		receiptID := receipt.ID
		if err := postMovement(ctx, tx, &models.Transaction{
			MerchantID: receipt.MerchantID,
			CustomerID: reward.CustomerID,
			Type:       models.TxnReferral,
			Amount:     -amount,
			OrderID:    &rollbackID,
			ReceiptID:  &receiptID,
			CreatedAt:  now,
		}); err != nil {
			return reversed, err
		}
		reversed += amount
	}

	if firstOnly {
		var referral models.Referral
		err := tx.Where("merchant_id = ? AND referee_id = ? AND status = ?",
			receipt.MerchantID, receipt.CustomerID, models.ReferralStatusCompleted).
			Order("completed_at DESC").Limit(1).Find(&referral).Error
		if err != nil {
			return reversed, errors.Wrap(err, "load completed referral")
		}
		if referral.ID != uuid.Nil {
			if err := tx.Model(&models.Referral{}).Where("id = ?", referral.ID).
				Updates(map[string]interface{}{
					"status":       models.ReferralStatusActivated,
					"completed_at": nil,
					"updated_at":   now,
				}).Error; err != nil {
				return reversed, errors.Wrap(err, "reopen referral")
			}
		}
	}
	return reversed, nil
}

package loyalty

import (
	"testing"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) seedReferral(program models.ReferralProgram, referrer, referee uuid.UUID, status string) models.Referral {
	f.t.Helper()
	r := models.Referral{
		MerchantID: f.merchant.ID,
		ProgramID:  program.ID,
		ReferrerID: referrer,
		RefereeID:  &referee,
		Status:     status,
	}
	require.NoError(f.t, f.db.Create(&r).Error)
	return r
}

func (f *fixture) seedProgram(trigger string, multiLevel bool, levels string) models.ReferralProgram {
	f.t.Helper()
	p := models.ReferralProgram{
		MerchantID:        f.merchant.ID,
		IsActive:          true,
		RewardTrigger:     trigger,
		RewardType:        models.ReferralRewardFixed,
		ReferrerReward:    50,
		MinPurchaseAmount: 100,
		MultiLevel:        multiLevel,
		LevelRewards:      levels,
	}
	require.NoError(f.t, f.db.Create(&p).Error)
	return p
}

func TestReferralFirstPurchasePaysAndRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	referrer := f.seedCustomer("+79990000010")
	program := f.seedProgram(models.ReferralTriggerFirst, false, "")
	referral := f.seedReferral(program, referrer.ID, f.customer.ID, models.ReferralStatusActivated)

	committed := f.commitHold(models.HoldModeEarn, 0, 10, 200, "order-ref1")
	assert.Equal(t, int64(50), f.balance(referrer.ID))

	var reloaded models.Referral
	require.NoError(t, f.db.Where("id = ?", referral.ID).Take(&reloaded).Error)
	assert.Equal(t, models.ReferralStatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)

	// A second purchase pays nothing: the referral is completed.
	f.commitHold(models.HoldModeEarn, 0, 10, 200, "order-ref2")
	assert.Equal(t, int64(50), f.balance(referrer.ID))

	_, err := f.svc.Refund(f.ctx, RefundRequest{MerchantID: f.merchant.ID, OrderID: "order-ref2"})
	require.NoError(t, err)
	_, err = f.svc.Refund(f.ctx, RefundRequest{MerchantID: f.merchant.ID, ReceiptID: &committed.ReceiptID})
	require.NoError(t, err)

	assert.Equal(t, int64(0), f.balance(referrer.ID))
	require.NoError(t, f.db.Where("id = ?", referral.ID).Take(&reloaded).Error)
	assert.Equal(t, models.ReferralStatusActivated, reloaded.Status)
	assert.Nil(t, reloaded.CompletedAt)
}

func TestReferralSkipsSmallPurchase(t *testing.T) {
	f := newFixture(t, nil)
	referrer := f.seedCustomer("+79990000011")
	program := f.seedProgram(models.ReferralTriggerFirst, false, "")
	f.seedReferral(program, referrer.ID, f.customer.ID, models.ReferralStatusActivated)

	f.commitHold(models.HoldModeEarn, 0, 2, 50, "order-ref3")
	assert.Equal(t, int64(0), f.balance(referrer.ID))
}

func TestReferralMultiLevel(t *testing.T) {
	f := newFixture(t, nil)
	top := f.seedCustomer("+79990000012")
	middle := f.seedCustomer("+79990000013")
	program := f.seedProgram(models.ReferralTriggerAll, true,
		`[{"level":1,"reward":50,"enabled":true},{"level":2,"reward":20,"enabled":true}]`)
	f.seedReferral(program, top.ID, middle.ID, models.ReferralStatusActivated)
	f.seedReferral(program, middle.ID, f.customer.ID, models.ReferralStatusActivated)

	receipt := f.commitHold(models.HoldModeEarn, 0, 10, 200, "order-ref4")
	assert.Equal(t, int64(50), f.balance(middle.ID))
	assert.Equal(t, int64(20), f.balance(top.ID))

	// Replaying the reward for the same receipt pays nothing.
	paid, err := f.svc.ApplyReferralRewards(f.ctx, ReferralParams{
		MerchantID:     f.merchant.ID,
		BuyerID:        f.customer.ID,
		ReceiptID:      receipt.ReceiptID,
		PurchaseAmount: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), paid)
	assert.Equal(t, int64(2), f.count(&models.Transaction{}, "type = ?", models.TxnReferral))
}

func TestReferralPercentReward(t *testing.T) {
	plan := referralPlan{program: models.ReferralProgram{RewardType: models.ReferralRewardPercent, ReferrerReward: 10}}
	assert.Equal(t, int64(25), plan.points(1, 259))
	assert.Equal(t, 1, plan.maxLevels())
	assert.False(t, plan.enabled(2))
}

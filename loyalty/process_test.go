package loyalty

import (
	"testing"

	"loyalty-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessEarnsAndReplays(t *testing.T) {
	f := newFixture(t, nil)
	req := ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-1",
		InvoiceNum:     "A-17",
		Total:          100,
	}

	first, err := f.svc.ProcessIntegrationBonus(f.ctx, req)
	require.NoError(t, err)
	assert.False(t, first.AlreadyProcessed)
	assert.Equal(t, "int-1", first.OrderID)
	assert.Equal(t, int64(5), first.EarnApplied)
	require.NotNil(t, first.BalanceBefore)
	assert.Equal(t, int64(0), *first.BalanceBefore)
	assert.Equal(t, int64(5), first.BalanceAfter)

	second, err := f.svc.ProcessIntegrationBonus(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.Nil(t, second.BalanceBefore)
	assert.Equal(t, int64(5), second.BalanceAfter)
	require.NotNil(t, second.InvoiceNum)
	assert.Equal(t, "A-17", *second.InvoiceNum)
	assert.Equal(t, int64(1), f.count(&models.Receipt{}, ""))
	assert.Equal(t, int64(5), f.balance(f.customer.ID))
}

func TestProcessRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{MerchantID: f.merchant.ID, CustomerID: &f.customer.ID, Total: 10})
	requireKind(t, err, KindValidation, msgIdempotencyRequired)
}

func TestProcessKeyUsedByOtherCustomer(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-2",
		Total:          100,
	})
	require.NoError(t, err)

	other := f.seedCustomer("+79990000002")
	_, err = f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &other.ID,
		IdempotencyKey: "int-2",
		Total:          100,
	})
	requireKind(t, err, KindConflict, msgOtherCustomerDone)
}

func TestProcessKeyHeldByOtherCustomer(t *testing.T) {
	f := newFixture(t, nil)
	f.seedHold(models.HoldModeEarn, 0, 5, 100, "int-3")

	other := f.seedCustomer("+79990000003")
	_, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &other.ID,
		IdempotencyKey: "int-3",
		Total:          100,
	})
	requireKind(t, err, KindConflict, msgOtherCustomerRunning)
}

func TestProcessManualRedeemAboveBalance(t *testing.T) {
	f := newFixture(t, nil)
	f.setBalance(f.customer.ID, 100)
	_, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-4",
		Total:          500,
		PaidBonus:      ptr(150.0),
	})
	requireKind(t, err, KindPolicy, msgNotEnoughBonus)
	assert.Equal(t, int64(0), f.count(&models.Hold{}, ""))
}

func TestProcessManualRedeemAboveAllowedMax(t *testing.T) {
	f := newFixture(t, nil)
	f.setBalance(f.customer.ID, 100)
	_, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-5",
		Total:          100,
		PaidBonus:      ptr(80.0),
	})
	requireKind(t, err, KindPolicy, msgRedeemAboveMax)
	assert.Equal(t, int64(100), f.balance(f.customer.ID))
}

func TestProcessManualRedeem(t *testing.T) {
	f := newFixture(t, nil)
	f.setBalance(f.customer.ID, 100)
	res, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-6",
		Total:          100,
		PaidBonus:      ptr(30.9),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.RedeemApplied)
	assert.Equal(t, int64(0), res.EarnApplied)
	assert.Equal(t, int64(100), *res.BalanceBefore)
	assert.Equal(t, int64(70), res.BalanceAfter)
}

func TestProcessManualEarn(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-7",
		Items: []PositionInput{
			{ExternalID: "a", Qty: 1, Price: 300},
			{ExternalID: "b", Qty: 1, Price: 100},
		},
		BonusValue: ptr(8.0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.EarnApplied)
	assert.Equal(t, int64(8), res.BalanceAfter)

	var items []models.ReceiptItem
	require.NoError(t, f.db.Order("amount DESC").Find(&items).Error)
	require.Len(t, items, 2)
	assert.Equal(t, int64(6), items[0].EarnApplied)
	assert.Equal(t, int64(2), items[1].EarnApplied)
}

func TestProcessManualEarnBlocked(t *testing.T) {
	f := newFixture(t, nil)
	f.block(true, false)
	_, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-8",
		Total:          100,
		BonusValue:     ptr(10.0),
	})
	requireKind(t, err, KindPolicy, msgAccrualsBlocked)
}

func TestProcessCompletesPendingHold(t *testing.T) {
	f := newFixture(t, nil)
	hold := f.seedHold(models.HoldModeEarn, 0, 5, 100, "int-9")

	res, err := f.svc.ProcessIntegrationBonus(f.ctx, ProcessRequest{
		MerchantID:     f.merchant.ID,
		CustomerID:     &f.customer.ID,
		IdempotencyKey: "int-9",
		Total:          100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.EarnApplied)

	var reloaded models.Hold
	require.NoError(t, f.db.Where("id = ?", hold.ID).Take(&reloaded).Error)
	assert.Equal(t, models.HoldStatusCommitted, reloaded.Status)
	assert.Equal(t, int64(1), f.count(&models.Hold{}, ""))
}

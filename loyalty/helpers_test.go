package loyalty

import (
	"context"
	"testing"
	"time"

	"loyalty-engine/database"
	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	svc      *Service
	now      time.Time
	merchant models.Merchant
	settings models.MerchantSettings
	customer models.Customer
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: database.NowUTC,
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

// newFixture seeds one merchant with earnBps 500 / redeemLimitBps 5000 and
// one customer. tweak may adjust the settings row before it is stored.
func newFixture(t *testing.T, tweak func(*models.MerchantSettings)) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), db: newTestDB(t), now: time.Now().UTC()}
	f.svc = NewService(f.db, WithClock(func() time.Time { return f.now }))

	f.merchant = models.Merchant{Name: "Coffee Point", IsActive: true}
	require.NoError(t, f.db.Create(&f.merchant).Error)
	f.settings = models.MerchantSettings{
		MerchantID:       f.merchant.ID,
		EarnBps:          500,
		RedeemLimitBps:   5000,
		LevelsPeriodDays: 365,
	}
	if tweak != nil {
		tweak(&f.settings)
	}
	require.NoError(t, f.db.Create(&f.settings).Error)
	f.customer = f.seedCustomer("+79990000001")
	return f
}

func (f *fixture) seedCustomer(phone string) models.Customer {
	f.t.Helper()
	c := models.Customer{MerchantID: f.merchant.ID, Phone: &phone, Name: "Customer " + phone}
	require.NoError(f.t, f.db.Create(&c).Error)
	return c
}

func (f *fixture) setBalance(customerID uuid.UUID, balance int64) {
	f.t.Helper()
	wallet, err := ensureWallet(f.ctx, f.db, f.merchant.ID, customerID)
	require.NoError(f.t, err)
	require.NoError(f.t, f.db.Model(&models.Wallet{}).Where("id = ?", wallet.ID).
		UpdateColumn("balance", balance).Error)
}

func (f *fixture) balance(customerID uuid.UUID) int64 {
	f.t.Helper()
	b, err := walletBalance(f.ctx, f.db, f.merchant.ID, customerID)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) block(accruals, redemptions bool) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&models.Customer{}).Where("id = ?", f.customer.ID).
		UpdateColumns(map[string]interface{}{"accruals_blocked": accruals, "redemptions_blocked": redemptions}).Error)
	f.customer.AccrualsBlocked = accruals
	f.customer.RedemptionsBlocked = redemptions
}

func (f *fixture) seedProduct(ext string, accrue bool, redeemPercent int) models.Product {
	f.t.Helper()
	p := models.Product{
		MerchantID:    f.merchant.ID,
		ExternalID:    &ext,
		Name:          "Product " + ext,
		AccruePoints:  accrue,
		AllowRedeem:   true,
		RedeemPercent: redeemPercent,
	}
	require.NoError(f.t, f.db.Create(&p).Error)
	return p
}

func (f *fixture) seedPromotion(name, rewardType, rewardMetadata string) models.LoyaltyPromotion {
	f.t.Helper()
	p := models.LoyaltyPromotion{
		MerchantID:     f.merchant.ID,
		Name:           name,
		Status:         models.PromotionStatusActive,
		RewardType:     rewardType,
		RewardMetadata: rewardMetadata,
	}
	require.NoError(f.t, f.db.Create(&p).Error)
	return p
}

// seedHold stores a PENDING hold directly, bypassing the quote checks.
func (f *fixture) seedHold(mode models.HoldMode, redeem, earn, total int64, orderID string) models.Hold {
	f.t.Helper()
	h := models.Hold{
		MerchantID:    f.merchant.ID,
		CustomerID:    f.customer.ID,
		Mode:          mode,
		Status:        models.HoldStatusPending,
		RedeemAmount:  redeem,
		EarnPoints:    earn,
		Total:         total,
		EligibleTotal: total,
		OrderID:       &orderID,
	}
	require.NoError(f.t, f.db.Create(&h).Error)
	return h
}

func (f *fixture) count(model interface{}, query string, args ...interface{}) int64 {
	f.t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(f.t, q.Count(&n).Error)
	return n
}

func ptr[T any](v T) *T { return &v }

func requireKind(t *testing.T, err error, kind Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "unexpected error: %v", err)
	if msg != "" {
		require.Equal(t, msg, err.Error())
	}
}

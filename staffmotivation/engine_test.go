package staffmotivation

import (
	"context"
	"testing"
	"time"

	"loyalty-engine/database"
	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type engineFixture struct {
	t        *testing.T
	ctx      context.Context
	db       *gorm.DB
	engine   *Engine
	merchant uuid.UUID
	now      time.Time
}

func newEngineFixture(t *testing.T, enabled bool) *engineFixture {
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

	merchant := models.Merchant{Name: "Bakery", IsActive: true}
	require.NoError(t, db.Create(&merchant).Error)
	require.NoError(t, db.Create(&models.MerchantSettings{
		MerchantID:             merchant.ID,
		EarnBps:                300,
		RedeemLimitBps:         5000,
		StaffMotivationEnabled: enabled,
	}).Error)

	return &engineFixture{
		t:        t,
		ctx:      context.Background(),
		db:       db,
		engine:   NewEngine(db, DefaultSettings()),
		merchant: merchant.ID,
		now:      time.Now().UTC(),
	}
}

func (f *engineFixture) seedStaff(first, last string) models.Staff {
	f.t.Helper()
	s := models.Staff{MerchantID: f.merchant, FirstName: first, LastName: last, Status: "ACTIVE"}
	require.NoError(f.t, f.db.Create(&s).Error)
	return s
}

func (f *engineFixture) seedOutlet(name string) models.Outlet {
	f.t.Helper()
	o := models.Outlet{MerchantID: f.merchant, Name: name}
	require.NoError(f.t, f.db.Create(&o).Error)
	return o
}

func (f *engineFixture) purchase(staffID uuid.UUID, outletID *uuid.UUID, orderID string, first bool) int {
	f.t.Helper()
	points, err := f.engine.RecordPurchase(f.ctx, f.db, PurchaseParams{
		MerchantID:      f.merchant,
		StaffID:         &staffID,
		OutletID:        outletID,
		CustomerID:      uuid.New(),
		OrderID:         orderID,
		EventAt:         f.now,
		IsFirstPurchase: first,
	})
	require.NoError(f.t, err)
	return points
}

func TestRecordPurchaseAwardsOncePerOrder(t *testing.T) {
	f := newEngineFixture(t, true)
	staff := f.seedStaff("Anna", "")

	assert.Equal(t, DefaultNewCustomerPoints, f.purchase(staff.ID, nil, "o-1", true))
	assert.Equal(t, 0, f.purchase(staff.ID, nil, "o-1", true))
	assert.Equal(t, DefaultExistingCustomerPoints, f.purchase(staff.ID, nil, "o-2", false))

	var n int64
	require.NoError(t, f.db.Model(&models.StaffMotivationEntry{}).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestRecordPurchaseDisabledOrWithoutStaff(t *testing.T) {
	f := newEngineFixture(t, false)
	staff := f.seedStaff("Anna", "")
	assert.Equal(t, 0, f.purchase(staff.ID, nil, "o-1", true))

	enabled := newEngineFixture(t, true)
	points, err := enabled.engine.RecordPurchase(enabled.ctx, enabled.db, PurchaseParams{
		MerchantID: enabled.merchant,
		OrderID:    "o-2",
		EventAt:    enabled.now,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, points)
}

func TestRecordRefundNeverExceedsAward(t *testing.T) {
	f := newEngineFixture(t, true)
	staff := f.seedStaff("Anna", "")
	f.purchase(staff.ID, nil, "o-1", true)

	refund := func(share float64) int {
		n, err := f.engine.RecordRefund(f.ctx, f.db, RefundParams{
			MerchantID: f.merchant,
			OrderID:    "o-1",
			EventAt:    f.now,
			Share:      share,
		})
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 18, refund(0.6))
	assert.Equal(t, 0, refund(0.6))
	assert.Equal(t, 12, refund(1.0))
	assert.Equal(t, 0, refund(1.0))
	assert.Equal(t, 0, refund(0))

	var sum struct{ Total int }
	require.NoError(t, f.db.Model(&models.StaffMotivationEntry{}).
		Select("COALESCE(SUM(points), 0) AS total").Scan(&sum).Error)
	assert.Equal(t, 0, sum.Total)
}

func TestRecordRefundWithoutPurchase(t *testing.T) {
	f := newEngineFixture(t, true)
	n, err := f.engine.RecordRefund(f.ctx, f.db, RefundParams{MerchantID: f.merchant, OrderID: "missing", Share: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLeaderboardRanksStaff(t *testing.T) {
	f := newEngineFixture(t, true)
	anna := f.seedStaff("Anna", "Petrova")
	boris := f.seedStaff("Boris", "")
	center := f.seedOutlet("Center")
	mall := f.seedOutlet("Mall")

	f.purchase(anna.ID, &center.ID, "o-1", true)
	f.purchase(anna.ID, &mall.ID, "o-2", false)
	f.purchase(anna.ID, &mall.ID, "o-3", false)
	f.purchase(boris.ID, &mall.ID, "o-4", false)

	board, err := f.engine.Leaderboard(f.ctx, f.merchant, LeaderboardOptions{Now: f.now})
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, board.Period.Period)
	assert.Equal(t, "Последние 7 дней", board.Period.Label)
	require.Len(t, board.Items, 2)

	first := board.Items[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, anna.ID, first.StaffID)
	assert.Equal(t, "Anna Petrova", first.StaffName)
	assert.Equal(t, int64(50), first.Points)
	require.NotNil(t, first.OutletID)
	assert.Equal(t, center.ID, *first.OutletID)
	assert.Equal(t, "Center", first.OutletName)

	assert.Equal(t, boris.ID, board.Items[1].StaffID)
	assert.Equal(t, int64(10), board.Items[1].Points)

	limited, err := f.engine.Leaderboard(f.ctx, f.merchant, LeaderboardOptions{Now: f.now, Limit: 1, OutletID: &mall.ID})
	require.NoError(t, err)
	require.Len(t, limited.Items, 1)
	assert.Equal(t, int64(20), limited.Items[0].Points)
}

func TestLeaderboardTiesByStaffID(t *testing.T) {
	f := newEngineFixture(t, true)
	a := f.seedStaff("A", "")
	b := f.seedStaff("B", "")
	f.purchase(a.ID, nil, "o-1", false)
	f.purchase(b.ID, nil, "o-2", false)

	board, err := f.engine.Leaderboard(f.ctx, f.merchant, LeaderboardOptions{Now: f.now})
	require.NoError(t, err)
	require.Len(t, board.Items, 2)
	assert.Less(t, board.Items[0].StaffID.String(), board.Items[1].StaffID.String())
	assert.Nil(t, board.Items[0].OutletID)
}

func TestLeaderboardDisabled(t *testing.T) {
	f := newEngineFixture(t, false)
	board, err := f.engine.Leaderboard(f.ctx, f.merchant, LeaderboardOptions{Now: f.now})
	require.NoError(t, err)
	assert.False(t, board.Settings.Enabled)
	assert.Empty(t, board.Items)
}

func TestLeaderboardExcludesOldEntries(t *testing.T) {
	f := newEngineFixture(t, true)
	staff := f.seedStaff("Old", "Timer")
	old := models.StaffMotivationEntry{
		MerchantID: f.merchant,
		StaffID:    staff.ID,
		CustomerID: uuid.New(),
		OrderID:    "o-old",
		Action:     models.StaffActionPurchase,
		Points:     30,
		EventAt:    f.now.AddDate(0, 0, -30),
	}
	require.NoError(t, f.db.Create(&old).Error)

	board, err := f.engine.Leaderboard(f.ctx, f.merchant, LeaderboardOptions{Now: f.now})
	require.NoError(t, err)
	assert.Empty(t, board.Items)
}

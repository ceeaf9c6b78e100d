package staffmotivation

import (
	"context"
	"math"
	"sort"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine awards and claws back staff incentive points. Writes go through the
// caller's transaction so that they commit together with the purchase.
type Engine struct {
	DB       *gorm.DB
	Defaults Settings
}

func NewEngine(db *gorm.DB, defaults Settings) *Engine {
	return &Engine{DB: db, Defaults: defaults}
}

// Settings loads the merchant's staff motivation settings through db.
func (e *Engine) Settings(ctx context.Context, db *gorm.DB, merchantID uuid.UUID) (Settings, error) {
	if db == nil {
		db = e.DB
	}
	var row models.MerchantSettings
	err := db.WithContext(ctx).Where("merchant_id = ?", merchantID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SettingsFromRow(nil, e.Defaults), nil
	}
	if err != nil {
		return Settings{}, errors.Wrap(err, "load staff motivation settings")
	}
	return SettingsFromRow(&row, e.Defaults), nil
}

type PurchaseParams struct {
	MerchantID      uuid.UUID
	StaffID         *uuid.UUID
	OutletID        *uuid.UUID
	CustomerID      uuid.UUID
	OrderID         string
	ReceiptID       *uuid.UUID
	EventAt         time.Time
	IsFirstPurchase bool
	// Settings skips the settings lookup when set.
	Settings *Settings
}

// RecordPurchase awards the staff member of a committed purchase. It is a
// no-op when motivation is disabled, no staff is given, or the order was
// already awarded to that staff member.
func (e *Engine) RecordPurchase(ctx context.Context, tx *gorm.DB, p PurchaseParams) (int, error) {
	if p.StaffID == nil || *p.StaffID == uuid.Nil {
		return 0, nil
	}
	settings := p.Settings
	if settings == nil {
		loaded, err := e.Settings(ctx, tx, p.MerchantID)
		if err != nil {
			return 0, err
		}
		settings = &loaded
	}
	if !settings.Enabled {
		return 0, nil
	}

	points := settings.PointsForExistingCustomer
	if p.IsFirstPurchase {
		points = settings.PointsForNewCustomer
	}
	if points <= 0 {
		return 0, nil
	}

	var existing int64
	if err := tx.WithContext(ctx).Model(&models.StaffMotivationEntry{}).
		Where("merchant_id = ? AND order_id = ? AND staff_id = ? AND action = ?",
			p.MerchantID, p.OrderID, *p.StaffID, models.StaffActionPurchase).
		Count(&existing).Error; err != nil {
		return 0, errors.Wrap(err, "check staff purchase entry")
	}
	if existing > 0 {
		return 0, nil
	}

	entry := models.StaffMotivationEntry{
		MerchantID: p.MerchantID,
		StaffID:    *p.StaffID,
		OutletID:   p.OutletID,
		CustomerID: p.CustomerID,
		OrderID:    p.OrderID,
		ReceiptID:  p.ReceiptID,
		Action:     models.StaffActionPurchase,
		Points:     points,
		IsNew:      p.IsFirstPurchase,
		EventAt:    p.EventAt,
	}
	// A concurrent committer may have inserted the same award.
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "create staff purchase entry")
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}
	zerolog.Ctx(ctx).Debug().
		Str("staff_id", p.StaffID.String()).
		Str("order_id", p.OrderID).
		Int("points", points).
		Msg("staff motivation points issued")
	return points, nil
}

type RefundParams struct {
	MerchantID uuid.UUID
	OrderID    string
	EventAt    time.Time
	Share      float64
}

type staffOutletKey struct {
	staff  uuid.UUID
	outlet uuid.UUID
}

func keyOf(e models.StaffMotivationEntry) staffOutletKey {
	k := staffOutletKey{staff: e.StaffID}
	if e.OutletID != nil {
		k.outlet = *e.OutletID
	}
	return k
}

// RecordRefund claws back round(points*share) of every purchase award on the
// order, minus what was already clawed back for the same staff and outlet.
func (e *Engine) RecordRefund(ctx context.Context, tx *gorm.DB, p RefundParams) (int, error) {
	share := clampShare(p.Share)
	if share <= 0 {
		return 0, nil
	}

	var entries []models.StaffMotivationEntry
	if err := tx.WithContext(ctx).
		Where("merchant_id = ? AND order_id = ?", p.MerchantID, p.OrderID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return 0, errors.Wrap(err, "load staff motivation entries")
	}

	var purchases []models.StaffMotivationEntry
	refunded := make(map[staffOutletKey]int)
	for _, entry := range entries {
		switch entry.Action {
		case models.StaffActionPurchase:
			purchases = append(purchases, entry)
		case models.StaffActionRefund:
			refunded[keyOf(entry)] += absInt(entry.Points)
		}
	}
	if len(purchases) == 0 {
		return 0, nil
	}

	deducted := 0
	for _, purchase := range purchases {
		target := int(math.Round(float64(purchase.Points) * share))
		if target <= 0 {
			continue
		}
		key := keyOf(purchase)
		remaining := target - refunded[key]
		if remaining <= 0 {
			continue
		}
		baseID := purchase.ID
		refund := models.StaffMotivationEntry{
			MerchantID: p.MerchantID,
			StaffID:    purchase.StaffID,
			OutletID:   purchase.OutletID,
			CustomerID: purchase.CustomerID,
			OrderID:    p.OrderID,
			ReceiptID:  purchase.ReceiptID,
			Action:     models.StaffActionRefund,
			Points:     -remaining,
			IsNew:      purchase.IsNew,
			Share:      &share,
			EventAt:    p.EventAt,
			BaseEntry:  &baseID,
		}
		if err := tx.WithContext(ctx).Create(&refund).Error; err != nil {
			return deducted, errors.Wrap(err, "create staff refund entry")
		}
		refunded[key] += remaining
		deducted += remaining
	}
	return deducted, nil
}

type LeaderboardOptions struct {
	OutletID *uuid.UUID
	Limit    int
	Now      time.Time
}

type PeriodInfo struct {
	Period     Period    `json:"period"`
	CustomDays int       `json:"custom_days,omitempty"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Days       int       `json:"days"`
	Label      string    `json:"label"`
}

type LeaderboardEntry struct {
	Rank       int        `json:"rank"`
	StaffID    uuid.UUID  `json:"staff_id"`
	StaffName  string     `json:"staff_name"`
	Points     int64      `json:"points"`
	OutletID   *uuid.UUID `json:"outlet_id,omitempty"`
	OutletName string     `json:"outlet_name,omitempty"`
}

type Leaderboard struct {
	Settings Settings           `json:"settings"`
	Period   PeriodInfo         `json:"period"`
	Items    []LeaderboardEntry `json:"items"`
}

type staffTotal struct {
	StaffID uuid.UUID
	Points  int64
}

type staffOutletTotal struct {
	StaffID  uuid.UUID
	OutletID *uuid.UUID
	Points   int64
}

// Leaderboard ranks staff by points over the merchant's configured period.
// Ties are broken by staff id ascending.
func (e *Engine) Leaderboard(ctx context.Context, merchantID uuid.UUID, opts LeaderboardOptions) (*Leaderboard, error) {
	settings, err := e.Settings(ctx, e.DB, merchantID)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	window := CalculateWindow(settings.LeaderboardPeriod, settings.CustomDays, now)
	board := &Leaderboard{
		Settings: settings,
		Period: PeriodInfo{
			Period:     settings.LeaderboardPeriod,
			CustomDays: settings.CustomDays,
			From:       window.From,
			To:         window.To,
			Days:       window.Days,
			Label:      PeriodLabel(settings.LeaderboardPeriod, settings.CustomDays),
		},
		Items: []LeaderboardEntry{},
	}
	if !settings.Enabled {
		return board, nil
	}

	scope := func() *gorm.DB {
		q := e.DB.WithContext(ctx).Model(&models.StaffMotivationEntry{}).
			Where("merchant_id = ? AND event_at >= ? AND event_at <= ?", merchantID, window.From, window.To)
		if opts.OutletID != nil {
			q = q.Where("outlet_id = ?", *opts.OutletID)
		}
		return q
	}

	var totals []staffTotal
	if err := scope().Select("staff_id, SUM(points) AS points").Group("staff_id").Scan(&totals).Error; err != nil {
		return nil, errors.Wrap(err, "aggregate staff points")
	}
	ranked := totals[:0]
	for _, t := range totals {
		if t.StaffID != uuid.Nil && t.Points != 0 {
			ranked = append(ranked, t)
		}
	}
	if len(ranked) == 0 {
		return board, nil
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Points == ranked[j].Points {
			return ranked[i].StaffID.String() < ranked[j].StaffID.String()
		}
		return ranked[i].Points > ranked[j].Points
	})
	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}

	staffIDs := make([]uuid.UUID, 0, len(ranked))
	for _, r := range ranked {
		staffIDs = append(staffIDs, r.StaffID)
	}

	var staff []models.Staff
	if err := e.DB.WithContext(ctx).Where("id IN ?", staffIDs).Find(&staff).Error; err != nil {
		return nil, errors.Wrap(err, "load staff")
	}
	staffByID := make(map[uuid.UUID]models.Staff, len(staff))
	for _, s := range staff {
		staffByID[s.ID] = s
	}

	var perOutlet []staffOutletTotal
	if err := scope().Where("staff_id IN ?", staffIDs).
		Select("staff_id, outlet_id, SUM(points) AS points").
		Group("staff_id, outlet_id").
		Scan(&perOutlet).Error; err != nil {
		return nil, errors.Wrap(err, "aggregate staff outlets")
	}
	topOutlet := topOutletByStaff(perOutlet)

	outletIDs := make([]uuid.UUID, 0, len(topOutlet))
	for _, t := range topOutlet {
		if t.OutletID != nil {
			outletIDs = append(outletIDs, *t.OutletID)
		}
	}
	outletNames := make(map[uuid.UUID]string, len(outletIDs))
	if len(outletIDs) > 0 {
		var outlets []models.Outlet
		if err := e.DB.WithContext(ctx).Where("id IN ?", outletIDs).Find(&outlets).Error; err != nil {
			return nil, errors.Wrap(err, "load outlets")
		}
		for _, o := range outlets {
			outletNames[o.ID] = o.Name
		}
	}

	for i, r := range ranked {
		entry := LeaderboardEntry{Rank: i + 1, StaffID: r.StaffID, Points: r.Points}
		if s, ok := staffByID[r.StaffID]; ok {
			entry.StaffName = s.DisplayName()
		}
		if t, ok := topOutlet[r.StaffID]; ok && t.OutletID != nil {
			entry.OutletID = t.OutletID
			entry.OutletName = outletNames[*t.OutletID]
		}
		board.Items = append(board.Items, entry)
	}
	return board, nil
}

// topOutletByStaff picks the outlet with the most points per staff member.
// Equal sums resolve to the lower outlet id.
func topOutletByStaff(rows []staffOutletTotal) map[uuid.UUID]staffOutletTotal {
	sort.Slice(rows, func(i, j int) bool {
		return outletKey(rows[i].OutletID) < outletKey(rows[j].OutletID)
	})
	top := make(map[uuid.UUID]staffOutletTotal)
	for _, row := range rows {
		current, ok := top[row.StaffID]
		if !ok || row.Points > current.Points {
			top[row.StaffID] = row
		}
	}
	return top
}

func outletKey(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

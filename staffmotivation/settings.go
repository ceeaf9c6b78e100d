package staffmotivation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"loyalty-engine/models"
)

type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
	PeriodCustom  Period = "custom"
)

const (
	DefaultNewCustomerPoints      = 30
	DefaultExistingCustomerPoints = 10
	maxCustomDays                 = 365
)

// Settings is the normalized staff motivation configuration of a merchant.
type Settings struct {
	Enabled                   bool   `json:"enabled"`
	PointsForNewCustomer      int    `json:"points_for_new_customer"`
	PointsForExistingCustomer int    `json:"points_for_existing_customer"`
	LeaderboardPeriod         Period `json:"leaderboard_period"`
	CustomDays                int    `json:"custom_days,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		PointsForNewCustomer:      DefaultNewCustomerPoints,
		PointsForExistingCustomer: DefaultExistingCustomerPoints,
		LeaderboardPeriod:         PeriodWeek,
	}
}

// NormalizePeriod maps unknown periods to week and clamps custom days to 1..365.
func NormalizePeriod(raw string, customDays int) (Period, int) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return p, 0
	case PeriodCustom:
		if customDays <= 0 {
			return PeriodWeek, 0
		}
		if customDays > maxCustomDays {
			customDays = maxCustomDays
		}
		return PeriodCustom, customDays
	default:
		return PeriodWeek, 0
	}
}

// SettingsFromRow applies a merchant settings row over defaults. A nil row
// yields the defaults.
func SettingsFromRow(row *models.MerchantSettings, defaults Settings) Settings {
	out := defaults
	if out.LeaderboardPeriod == "" {
		out.LeaderboardPeriod = PeriodWeek
	}
	if row == nil {
		return out
	}
	out.Enabled = row.StaffMotivationEnabled
	if row.StaffMotivationNewPoints != nil && *row.StaffMotivationNewPoints >= 0 {
		out.PointsForNewCustomer = *row.StaffMotivationNewPoints
	}
	if row.StaffMotivationExistingPoints != nil && *row.StaffMotivationExistingPoints >= 0 {
		out.PointsForExistingCustomer = *row.StaffMotivationExistingPoints
	}
	if row.StaffMotivationPeriod != "" {
		custom := 0
		if row.StaffMotivationCustomDays != nil {
			custom = *row.StaffMotivationCustomDays
		}
		out.LeaderboardPeriod, out.CustomDays = NormalizePeriod(row.StaffMotivationPeriod, custom)
	}
	return out
}

func periodDays(period Period, customDays int) int {
	switch period {
	case PeriodMonth:
		return 30
	case PeriodQuarter:
		return 90
	case PeriodYear:
		return 365
	case PeriodCustom:
		if customDays > 0 {
			return customDays
		}
	}
	return 7
}

// Window is an inclusive [From, To] time range.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Days int       `json:"days"`
}

// CalculateWindow returns the window of the given period that ends with the
// day containing now.
func CalculateWindow(period Period, customDays int, now time.Time) Window {
	days := periodDays(period, customDays)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := dayStart.Add(24*time.Hour - time.Millisecond)
	from := dayStart.AddDate(0, 0, -(days - 1))
	return Window{From: from, To: to, Days: days}
}

func PeriodLabel(period Period, customDays int) string {
	switch period {
	case PeriodWeek:
		return "Последние 7 дней"
	case PeriodMonth:
		return "Последние 30 дней"
	case PeriodQuarter:
		return "Последние 90 дней"
	case PeriodYear:
		return "Последние 365 дней"
	}
	return fmt.Sprintf("Последние %d дн.", periodDays(period, customDays))
}

func clampShare(share float64) float64 {
	if math.IsNaN(share) || share <= 0 {
		return 0
	}
	if share >= 1 {
		return 1
	}
	return share
}

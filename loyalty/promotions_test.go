package loyalty

import (
	"testing"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coffeeMultiplier = `{"productIds":["coffee"],"pointsRuleType":"multiplier","pointsValue":2}`

func ruleNames(rules []Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Name)
	}
	return out
}

func TestLoadActivePromotionRulesParsesEffects(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPromotion("double coffee", models.PromotionRewardPoints, coffeeMultiplier)
	f.seedPromotion("2+1", models.PromotionRewardDiscount, `{"kind":"nth_free","buyQty":"2","productIds":["bun"]}`)
	f.seedPromotion("tea 50", models.PromotionRewardDiscount, `{"kind":"FIXED_PRICE","price":50,"productIds":["tea"]}`)
	f.seedPromotion("fixed 2.7", models.PromotionRewardPoints, `{"productIds":["cake"],"pointsRuleType":"fixed","pointsValue":2.7}`)

	rules, err := f.svc.LoadActivePromotionRules(f.ctx, f.merchant.ID, f.now)
	require.NoError(t, err)
	require.Len(t, rules, 4)

	byName := map[string]Rule{}
	for _, r := range rules {
		byName[r.Name] = r
	}
	assert.Equal(t, PointsEffect{Type: PointsMultiplier, Value: 2}, byName["double coffee"].Effect)
	assert.Equal(t, NthFreeEffect{BuyQty: 2, FreeQty: 1}, byName["2+1"].Effect)
	assert.Equal(t, FixedPriceEffect{Price: 50}, byName["tea 50"].Effect)
	assert.Equal(t, PointsEffect{Type: PointsFixed, Value: 2}, byName["fixed 2.7"].Effect)
	assert.True(t, byName["double coffee"].Matches("coffee", ""))
	assert.False(t, byName["double coffee"].Matches("tea", ""))
}

func TestLoadActivePromotionRulesSkipsUnusable(t *testing.T) {
	f := newFixture(t, nil)
	f.seedPromotion("no targets", models.PromotionRewardPoints, `{"pointsRuleType":"multiplier","pointsValue":2}`)
	f.seedPromotion("zero value", models.PromotionRewardPoints, `{"productIds":["a"],"pointsRuleType":"percent","pointsValue":0}`)
	f.seedPromotion("no buy qty", models.PromotionRewardDiscount, `{"kind":"NTH_FREE","productIds":["a"]}`)
	f.seedPromotion("negative price", models.PromotionRewardDiscount, `{"kind":"FIXED_PRICE","price":-1}`)

	paused := f.seedPromotion("paused", models.PromotionRewardPoints, coffeeMultiplier)
	require.NoError(t, f.db.Model(&paused).Update("status", models.PromotionStatusPaused).Error)

	expired := f.seedPromotion("expired", models.PromotionRewardPoints, coffeeMultiplier)
	ended := f.now.Add(-time.Hour)
	require.NoError(t, f.db.Model(&expired).Update("end_at", ended).Error)

	future := f.seedPromotion("future", models.PromotionRewardPoints, coffeeMultiplier)
	starts := f.now.Add(time.Hour)
	require.NoError(t, f.db.Model(&future).Update("start_at", starts).Error)

	archived := f.seedPromotion("archived", models.PromotionRewardPoints, coffeeMultiplier)
	require.NoError(t, f.db.Model(&archived).Update("archived_at", f.now).Error)

	rules, err := f.svc.LoadActivePromotionRules(f.ctx, f.merchant.ID, f.now)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestFilterPromotionsWithoutCustomer(t *testing.T) {
	f := newFixture(t, nil)
	segmentID := uuid.New()
	rules := []Rule{
		{ID: uuid.New(), Name: "open", UsageLimit: UsageUnlimited},
		{ID: uuid.New(), Name: "segmented", UsageLimit: UsageUnlimited, SegmentID: &segmentID},
		{ID: uuid.New(), Name: "once", UsageLimit: UsageOncePerClient},
	}

	out, err := f.svc.FilterPromotionsForCustomer(f.ctx, f.merchant.ID, nil, rules)
	require.NoError(t, err)
	assert.Equal(t, []string{"open"}, ruleNames(out))
}

func TestFilterPromotionsBySegment(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.Model(&models.Customer{}).Where("id = ?", f.customer.ID).
		Updates(map[string]interface{}{"visits": 6, "total_spent": 20000}).Error)

	systemKey := models.SegmentSystemAllCustomers
	everyone := models.CustomerSegment{MerchantID: f.merchant.ID, Name: "Everyone", SystemKey: &systemKey, RuleKind: models.SegmentKindManual}
	manual := models.CustomerSegment{MerchantID: f.merchant.ID, Name: "VIP list", RuleKind: models.SegmentKindManual}
	empty := models.CustomerSegment{MerchantID: f.merchant.ID, Name: "Nobody", RuleKind: models.SegmentKindManual}
	regulars := models.CustomerSegment{MerchantID: f.merchant.ID, Name: "Regulars", RuleKind: models.SegmentKindExpression,
		Expression: "customer.visits >= 5 && customer.total_spent > 10000"}
	newcomers := models.CustomerSegment{MerchantID: f.merchant.ID, Name: "Newcomers", RuleKind: models.SegmentKindExpression,
		Expression: "customer.visits < 2"}
	broken := models.CustomerSegment{MerchantID: f.merchant.ID, Name: "Broken", RuleKind: models.SegmentKindExpression,
		Expression: "customer.visits +"}
	for _, s := range []*models.CustomerSegment{&everyone, &manual, &empty, &regulars, &newcomers, &broken} {
		require.NoError(t, f.db.Create(s).Error)
	}
	require.NoError(t, f.db.Create(&models.SegmentCustomer{SegmentID: manual.ID, CustomerID: f.customer.ID}).Error)

	rules := []Rule{
		{ID: uuid.New(), Name: "everyone", UsageLimit: UsageUnlimited, SegmentID: &everyone.ID},
		{ID: uuid.New(), Name: "vip", UsageLimit: UsageUnlimited, SegmentID: &manual.ID},
		{ID: uuid.New(), Name: "nobody", UsageLimit: UsageUnlimited, SegmentID: &empty.ID},
		{ID: uuid.New(), Name: "regulars", UsageLimit: UsageUnlimited, SegmentID: &regulars.ID},
		{ID: uuid.New(), Name: "newcomers", UsageLimit: UsageUnlimited, SegmentID: &newcomers.ID},
		{ID: uuid.New(), Name: "broken", UsageLimit: UsageUnlimited, SegmentID: &broken.ID},
	}

	out, err := f.svc.FilterPromotionsForCustomer(f.ctx, f.merchant.ID, &f.customer.ID, rules)
	require.NoError(t, err)
	assert.Equal(t, []string{"everyone", "vip", "regulars"}, ruleNames(out))
}

func TestFilterPromotionsByUsageLimit(t *testing.T) {
	f := newFixture(t, nil)
	once := f.seedPromotion("once", models.PromotionRewardPoints, coffeeMultiplier)
	daily := f.seedPromotion("daily", models.PromotionRewardPoints, coffeeMultiplier)
	monthly := f.seedPromotion("monthly", models.PromotionRewardPoints, coffeeMultiplier)

	yesterday := f.now.AddDate(0, 0, -1)
	for _, p := range []models.LoyaltyPromotion{once, daily, monthly} {
		require.NoError(t, f.db.Create(&models.PromotionParticipant{
			MerchantID: f.merchant.ID, PromotionID: p.ID, CustomerID: f.customer.ID,
			PurchasesCount: 1, LastPurchaseAt: &yesterday, JoinedAt: yesterday,
		}).Error)
	}

	rules := []Rule{
		{ID: once.ID, Name: "once", UsageLimit: UsageOncePerClient},
		{ID: daily.ID, Name: "daily", UsageLimit: UsageOncePerDay},
		{ID: monthly.ID, Name: "monthly", UsageLimit: UsageOncePerMonth},
		{ID: uuid.New(), Name: "fresh", UsageLimit: UsageOncePerClient},
	}
	out, err := f.svc.FilterPromotionsForCustomer(f.ctx, f.merchant.ID, &f.customer.ID, rules)
	require.NoError(t, err)

	names := ruleNames(out)
	assert.Contains(t, names, "daily")
	assert.Contains(t, names, "fresh")
	assert.NotContains(t, names, "once")
	if f.now.Day() > 1 {
		assert.NotContains(t, names, "monthly")
	}
}

func TestUsageExhaustedWeekStartsMonday(t *testing.T) {
	// Wednesday
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	monday := time.Date(2024, 5, 13, 9, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 5, 12, 23, 0, 0, 0, time.UTC)

	assert.True(t, usageExhausted(UsageOncePerWeek, usageStats{purchases: 1, lastPurchaseAt: &monday}, now))
	assert.False(t, usageExhausted(UsageOncePerWeek, usageStats{purchases: 1, lastPurchaseAt: &sunday}, now))
	assert.True(t, usageExhausted(UsageOncePerClient, usageStats{purchases: 1}, now))
	assert.False(t, usageExhausted(UsageUnlimited, usageStats{purchases: 9, lastPurchaseAt: &monday}, now))
}

func TestSegmentEvaluatorRejectsNonBoolean(t *testing.T) {
	e := NewSegmentEvaluator()
	assert.NoError(t, e.Validate("customer.has_phone"))
	assert.Error(t, e.Validate("1 + 2"))
	assert.Error(t, e.Validate("customer.visits >"))

	ok, err := e.Match("customer.days_since_last_purchase < 0", customerAttributes(models.Customer{}, time.Now()))
	require.NoError(t, err)
	assert.True(t, ok)
}

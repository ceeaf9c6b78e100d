package loyalty

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type RuleKind string

const (
	RuleKindPoints     RuleKind = "POINTS_MULTIPLIER"
	RuleKindNthFree    RuleKind = "NTH_FREE"
	RuleKindFixedPrice RuleKind = "FIXED_PRICE"
)

type PointsRuleType string

const (
	PointsMultiplier PointsRuleType = "multiplier"
	PointsPercent    PointsRuleType = "percent"
	PointsFixed      PointsRuleType = "fixed"
)

type UsageLimit string

const (
	UsageUnlimited     UsageLimit = "unlimited"
	UsageOncePerClient UsageLimit = "once_per_client"
	UsageOncePerDay    UsageLimit = "once_per_day"
	UsageOncePerWeek   UsageLimit = "once_per_week"
	UsageOncePerMonth  UsageLimit = "once_per_month"
)

// Effect is the closed set of promotion effects. Implementations are
// PointsEffect, NthFreeEffect and FixedPriceEffect.
type Effect interface {
	Kind() RuleKind
	priority() int
}

// PointsEffect changes earned points only; price is untouched.
type PointsEffect struct {
	Type  PointsRuleType
	Value float64
}

// NthFreeEffect makes FreeQty of every BuyQty+FreeQty matched units free.
type NthFreeEffect struct {
	BuyQty  int
	FreeQty int
}

// FixedPriceEffect overrides the unit price of matched units.
type FixedPriceEffect struct {
	Price float64
}

func (PointsEffect) Kind() RuleKind     { return RuleKindPoints }
func (NthFreeEffect) Kind() RuleKind    { return RuleKindNthFree }
func (FixedPriceEffect) Kind() RuleKind { return RuleKindFixedPrice }

func (PointsEffect) priority() int     { return 3 }
func (NthFreeEffect) priority() int    { return 2 }
func (FixedPriceEffect) priority() int { return 1 }

// step is the size of one buy+free group.
func (e NthFreeEffect) step() int {
	if s := e.BuyQty + e.FreeQty; s > 1 {
		return s
	}
	return 1
}

// freeCount is the number of free units for qty matched units.
func (e NthFreeEffect) freeCount(qty float64) int {
	free := e.FreeQty
	if free < 1 {
		free = 1
	}
	return int(math.Floor(qty/float64(e.step()))) * free
}

// Rule is an active promotion in evaluable form.
type Rule struct {
	ID          uuid.UUID
	Name        string
	ProductIDs  map[string]struct{}
	CategoryIDs map[string]struct{}
	SegmentID   *uuid.UUID
	UsageLimit  UsageLimit
	Effect      Effect
}

func (r Rule) Kind() RuleKind { return r.Effect.Kind() }

// Matches reports whether the rule targets the product or category. A rule
// without targets matches every item.
func (r Rule) Matches(productID, categoryID string) bool {
	if len(r.ProductIDs) == 0 && len(r.CategoryIDs) == 0 {
		return true
	}
	if productID != "" {
		if _, ok := r.ProductIDs[productID]; ok {
			return true
		}
	}
	if categoryID != "" {
		if _, ok := r.CategoryIDs[categoryID]; ok {
			return true
		}
	}
	return false
}

type rewardMetadata struct {
	ProductIDs     []string        `json:"productIds"`
	CategoryIDs    []string        `json:"categoryIds"`
	Kind           string          `json:"kind"`
	PointsRuleType string          `json:"pointsRuleType"`
	PointsValue    json.RawMessage `json:"pointsValue"`
	BuyQty         json.RawMessage `json:"buyQty"`
	FreeQty        json.RawMessage `json:"freeQty"`
	Price          json.RawMessage `json:"price"`
}

type promotionMetadata struct {
	UsageLimit string `json:"usageLimit"`
}

// jsonNumber accepts both numbers and numeric strings.
func jsonNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

func normalizeUsageLimit(raw string) UsageLimit {
	switch l := UsageLimit(strings.ToLower(strings.TrimSpace(raw))); l {
	case UsageOncePerClient, UsageOncePerDay, UsageOncePerWeek, UsageOncePerMonth:
		return l
	}
	return UsageUnlimited
}

// parseRule turns a stored promotion into a Rule. ok is false for promotions
// that carry no usable effect.
func parseRule(p models.LoyaltyPromotion) (Rule, bool) {
	var meta rewardMetadata
	if p.RewardMetadata != "" {
		if err := json.Unmarshal([]byte(p.RewardMetadata), &meta); err != nil {
			return Rule{}, false
		}
	}
	var promoMeta promotionMetadata
	if p.Metadata != "" {
		_ = json.Unmarshal([]byte(p.Metadata), &promoMeta)
	}
	rule := Rule{
		ID:          p.ID,
		Name:        p.Name,
		ProductIDs:  toSet(meta.ProductIDs),
		CategoryIDs: toSet(meta.CategoryIDs),
		SegmentID:   p.SegmentID,
		UsageLimit:  normalizeUsageLimit(promoMeta.UsageLimit),
	}
	hasTargets := len(rule.ProductIDs) > 0 || len(rule.CategoryIDs) > 0
	kind := strings.ToUpper(strings.TrimSpace(meta.Kind))

	if p.RewardType == models.PromotionRewardPoints {
		if !hasTargets {
			return Rule{}, false
		}
		ruleType := PointsRuleType(strings.ToLower(strings.TrimSpace(meta.PointsRuleType)))
		if ruleType != PointsMultiplier && ruleType != PointsPercent && ruleType != PointsFixed {
			return Rule{}, false
		}
		value, ok := jsonNumber(meta.PointsValue)
		if !ok || value <= 0 {
			return Rule{}, false
		}
		if ruleType == PointsFixed {
			value = math.Floor(value)
			if value <= 0 {
				return Rule{}, false
			}
		}
		rule.Effect = PointsEffect{Type: ruleType, Value: value}
		return rule, true
	}

	switch RuleKind(kind) {
	case RuleKindNthFree:
		buy, ok := jsonNumber(meta.BuyQty)
		if !ok || buy <= 0 {
			return Rule{}, false
		}
		free := 1
		if f, ok := jsonNumber(meta.FreeQty); ok && f > 0 {
			free = max(1, int(math.Trunc(f)))
		}
		rule.Effect = NthFreeEffect{BuyQty: max(1, int(math.Trunc(buy))), FreeQty: free}
		return rule, true
	case RuleKindFixedPrice:
		price, ok := jsonNumber(meta.Price)
		if !ok || price < 0 {
			return Rule{}, false
		}
		rule.Effect = FixedPriceEffect{Price: price}
		return rule, true
	}
	return Rule{}, false
}

// LoadActivePromotionRules returns the merchant's ACTIVE, unarchived
// promotions whose window contains now.
func (s *Service) LoadActivePromotionRules(ctx context.Context, merchantID uuid.UUID, now time.Time) ([]Rule, error) {
	var promos []models.LoyaltyPromotion
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND status = ? AND archived_at IS NULL", merchantID, models.PromotionStatusActive).
		Where("(start_at IS NULL OR start_at <= ?) AND (end_at IS NULL OR end_at >= ?)", now, now).
		Order("created_at ASC").
		Find(&promos).Error
	if err != nil {
		return nil, errors.Wrap(err, "load promotions")
	}
	rules := make([]Rule, 0, len(promos))
	for _, p := range promos {
		rule, ok := parseRule(p)
		if !ok {
			zerolog.Ctx(ctx).Debug().Str("promotion_id", p.ID.String()).Msg("promotion skipped: no usable rule")
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type usageStats struct {
	purchases      int
	lastPurchaseAt *time.Time
}

// usageExhausted reports whether the customer already used a limited rule in
// the current day, week (starting Monday) or month.
func usageExhausted(limit UsageLimit, stats usageStats, now time.Time) bool {
	hasPurchases := stats.purchases > 0
	if limit == UsageOncePerClient {
		return hasPurchases || stats.lastPurchaseAt != nil
	}
	if stats.lastPurchaseAt == nil {
		return hasPurchases
	}
	last := *stats.lastPurchaseAt
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch limit {
	case UsageOncePerDay:
		return !last.Before(dayStart)
	case UsageOncePerWeek:
		offset := (int(dayStart.Weekday()) + 6) % 7
		return !last.Before(dayStart.AddDate(0, 0, -offset))
	case UsageOncePerMonth:
		return !last.Before(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()))
	}
	return false
}

// FilterPromotionsForCustomer drops rules the customer is not targeted by or
// has already used up. Without a customer only unsegmented, unlimited rules
// remain.
func (s *Service) FilterPromotionsForCustomer(ctx context.Context, merchantID uuid.UUID, customerID *uuid.UUID, rules []Rule) ([]Rule, error) {
	if len(rules) == 0 {
		return rules, nil
	}
	if customerID == nil || *customerID == uuid.Nil {
		out := make([]Rule, 0, len(rules))
		for _, r := range rules {
			if r.SegmentID == nil && r.UsageLimit == UsageUnlimited {
				out = append(out, r)
			}
		}
		return out, nil
	}

	segmentIDs := make([]uuid.UUID, 0)
	seen := make(map[uuid.UUID]struct{})
	limited := make([]uuid.UUID, 0)
	for _, r := range rules {
		if r.SegmentID != nil {
			if _, ok := seen[*r.SegmentID]; !ok {
				seen[*r.SegmentID] = struct{}{}
				segmentIDs = append(segmentIDs, *r.SegmentID)
			}
		}
		if r.UsageLimit != UsageUnlimited {
			limited = append(limited, r.ID)
		}
	}

	var (
		segments     []models.CustomerSegment
		memberships  []models.SegmentCustomer
		participants []models.PromotionParticipant
		customer     models.Customer
	)
	db := s.db.WithContext(ctx)
	g, gctx := errgroup.WithContext(ctx)
	if len(segmentIDs) > 0 {
		g.Go(func() error {
			return db.WithContext(gctx).Where("id IN ? AND merchant_id = ?", segmentIDs, merchantID).Find(&segments).Error
		})
		g.Go(func() error {
			return db.WithContext(gctx).Where("segment_id IN ? AND customer_id = ?", segmentIDs, *customerID).Find(&memberships).Error
		})
		g.Go(func() error {
			return db.WithContext(gctx).Where("id = ? AND merchant_id = ?", *customerID, merchantID).Limit(1).Find(&customer).Error
		})
	}
	if len(limited) > 0 {
		g.Go(func() error {
			return db.WithContext(gctx).
				Where("merchant_id = ? AND customer_id = ? AND promotion_id IN ?", merchantID, *customerID, limited).
				Find(&participants).Error
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "load promotion eligibility")
	}

	now := s.now()
	passing := make(map[uuid.UUID]bool, len(segments))
	for _, m := range memberships {
		passing[m.SegmentID] = true
	}
	for _, seg := range segments {
		if passing[seg.ID] {
			continue
		}
		switch {
		case seg.SystemKey != nil && *seg.SystemKey == models.SegmentSystemAllCustomers:
			passing[seg.ID] = true
		case seg.RuleKind == models.SegmentKindAll:
			passing[seg.ID] = true
		case seg.RuleKind == models.SegmentKindExpression && seg.Expression != "":
			ok, err := s.segments.Match(seg.Expression, customerAttributes(customer, now))
			if err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("segment_id", seg.ID.String()).Msg("segment expression failed")
				continue
			}
			passing[seg.ID] = ok
		}
	}
	usage := make(map[uuid.UUID]usageStats, len(participants))
	for _, p := range participants {
		usage[p.PromotionID] = usageStats{purchases: p.PurchasesCount, lastPurchaseAt: p.LastPurchaseAt}
	}

	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.SegmentID != nil && !passing[*r.SegmentID] {
			continue
		}
		if r.UsageLimit != UsageUnlimited {
			if stats, ok := usage[r.ID]; ok && usageExhausted(r.UsageLimit, stats, now) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// eligibleRules loads and filters the rules applicable to the customer.
func (s *Service) eligibleRules(ctx context.Context, merchantID uuid.UUID, customerID *uuid.UUID) ([]Rule, error) {
	rules, err := s.LoadActivePromotionRules(ctx, merchantID, s.now())
	if err != nil {
		return nil, err
	}
	return s.FilterPromotionsForCustomer(ctx, merchantID, customerID, rules)
}

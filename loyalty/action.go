package loyalty

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

type ActionRequest struct {
	MerchantID uuid.UUID
	CustomerID *uuid.UUID
	Items      []PositionInput
}

// ActionPosition is a priced output line. BasePrice is the pre-promotion
// unit price, present only when a promotion changed the price.
type ActionPosition struct {
	IDProduct   *string  `json:"id_product"`
	Name        *string  `json:"name"`
	Qty         float64  `json:"qty"`
	Price       float64  `json:"price"`
	BasePrice   *float64 `json:"base_price"`
	Actions     []string `json:"actions"`
	ActionNames []string `json:"actions_names"`
}

type ActionResult struct {
	Positions []ActionPosition `json:"positions"`
	Info      []string         `json:"info"`
}

// infoSet keeps unique messages in insertion order.
type infoSet struct {
	seen  map[string]struct{}
	items []string
}

func (s *infoSet) add(msg string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[msg]; ok {
		return
	}
	s.seen[msg] = struct{}{}
	s.items = append(s.items, msg)
}

func pointsSuffix(e PointsEffect) string {
	v := roundCurrency(e.Value)
	if v <= 0 {
		return ""
	}
	switch e.Type {
	case PointsPercent:
		return fmt.Sprintf(" (%s%% от цены)", formatAmount(v))
	case PointsFixed:
		return fmt.Sprintf(" (%s баллов)", formatAmount(v))
	default:
		return fmt.Sprintf(" (x%s)", formatAmount(v))
	}
}

// CalculateAction applies every eligible promotion to the lines and returns
// the repriced positions. NTH_FREE splits a line into a free slice and a paid
// remainder; FIXED_PRICE rewrites the unit price.
func (s *Service) CalculateAction(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	ctx, span := tracer.Start(ctx, "loyalty.CalculateAction")
	defer span.End()

	result := &ActionResult{Positions: []ActionPosition{}, Info: []string{}}
	resolved, err := s.resolvePositions(ctx, req.MerchantID, req.CustomerID, req.Items, resolveOptions{autoPromotions: true})
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return result, nil
	}
	rules, err := s.eligibleRules(ctx, req.MerchantID, req.CustomerID)
	if err != nil {
		return nil, err
	}
	sortByPriority(rules)

	var info infoSet
	for _, item := range resolved {
		result.Positions = append(result.Positions, priceLine(item, rules, &info)...)
	}
	if info.items != nil {
		result.Info = info.items
	}
	return result, nil
}

func priceLine(item Position, rules []Rule, info *infoSet) []ActionPosition {
	label := item.label()
	original := math.Max(0, item.Input.Price)
	normalizedOriginal := roundCurrency(original)
	unitPrice := original
	freebies := 0.0
	nthApplied := false

	var applied []Rule
	seen := make(map[uuid.UUID]struct{})
	for _, rule := range rules {
		if !rule.Matches(item.productKey(), item.categoryKey()) {
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			continue
		}
		switch e := rule.Effect.(type) {
		case PointsEffect:
			info.add(fmt.Sprintf("Применена акция: %s%s для товара \"%s\"", rule.Name, pointsSuffix(e), label))
		case NthFreeEffect:
			n := e.freeCount(item.Qty)
			if n <= 0 {
				continue
			}
			freebies = math.Min(float64(n), item.Qty)
			nthApplied = true
			info.add(fmt.Sprintf("Применена акция: %s — %s шт. бесплатно для товара \"%s\"", rule.Name, formatAmount(freebies), label))
		case FixedPriceEffect:
			unitPrice = math.Max(0, e.Price)
			info.add(fmt.Sprintf("Применена акция: %s — цена %s вместо %s для товара \"%s\"",
				rule.Name, formatAmount(roundCurrency(unitPrice)), formatAmount(normalizedOriginal), label))
		}
		seen[rule.ID] = struct{}{}
		applied = append(applied, rule)
	}

	basePrice := func(price float64) *float64 {
		if roundCurrency(price) != normalizedOriginal && len(applied) > 0 {
			v := normalizedOriginal
			return &v
		}
		return nil
	}
	ids := func(withNth bool) ([]string, []string) {
		actions, names := []string{}, []string{}
		for _, r := range applied {
			if !withNth && r.Kind() == RuleKindNthFree {
				continue
			}
			actions = append(actions, r.ID.String())
			names = append(names, r.Name)
		}
		return actions, names
	}

	var idProduct, name *string
	if id := item.IDProduct(); id != "" {
		idProduct = &id
	}
	if item.Name != "" {
		n := item.Name
		name = &n
	}
	allActions, allNames := ids(true)

	switch {
	case nthApplied && freebies > 0 && freebies < item.Qty:
		paidActions, paidNames := ids(false)
		return []ActionPosition{
			{IDProduct: idProduct, Name: name, Qty: freebies, Price: 0, BasePrice: basePrice(0), Actions: allActions, ActionNames: allNames},
			{IDProduct: idProduct, Name: name, Qty: item.Qty - freebies, Price: unitPrice, BasePrice: basePrice(unitPrice), Actions: paidActions, ActionNames: paidNames},
		}
	case nthApplied && freebies >= item.Qty:
		return []ActionPosition{
			{IDProduct: idProduct, Name: name, Qty: item.Qty, Price: 0, BasePrice: basePrice(0), Actions: allActions, ActionNames: allNames},
		}
	}
	return []ActionPosition{
		{IDProduct: idProduct, Name: name, Qty: item.Qty, Price: unitPrice, BasePrice: basePrice(unitPrice), Actions: allActions, ActionNames: allNames},
	}
}

package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// PositionInput is one purchase line as sent by a cash register or shop.
// Several field spellings are accepted, see UnmarshalJSON.
type PositionInput struct {
	ProductID    string   `json:"productId,omitempty"`
	ExternalID   string   `json:"externalId,omitempty"`
	Name         string   `json:"name,omitempty"`
	Qty          float64  `json:"qty"`
	Price        float64  `json:"price"`
	BasePrice    *float64 `json:"base_price,omitempty"`
	AccruePoints *bool    `json:"accruePoints,omitempty"`
	ActionIDs    []string `json:"actions,omitempty"`
	ActionNames  []string `json:"action_names,omitempty"`
}

var (
	productIDKeys    = []string{"productId", "product_id"}
	externalIDKeys   = []string{"externalId", "id_product", "external_id"}
	qtyKeys          = []string{"qty", "quantity"}
	basePriceKeys    = []string{"base_price", "basePrice"}
	accruePointsKeys = []string{"accruePoints", "accrue_points", "allowAccrue", "earn_bonus", "eligible"}
	actionIDKeys     = []string{"actions", "actions_id", "action_ids", "actionIds", "actionsIds"}
	actionNameKeys   = []string{"action_names", "actions_names", "actionNames", "actionsNames"}
)

func firstPresent(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := fields[k]; ok && len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			return raw, true
		}
	}
	return nil, false
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawBool(raw json.RawMessage) *bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b
	}
	switch strings.ToLower(rawString(raw)) {
	case "true", "1", "yes":
		v := true
		return &v
	case "false", "0", "no":
		v := false
		return &v
	}
	return nil
}

func rawStrings(raw json.RawMessage) []string {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		if s := rawString(raw); s != "" {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := rawString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// UnmarshalJSON accepts the field aliases used by the different integrations.
func (p *PositionInput) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = PositionInput{}
	if raw, ok := firstPresent(fields, productIDKeys); ok {
		p.ProductID = rawString(raw)
	}
	if raw, ok := firstPresent(fields, externalIDKeys); ok {
		p.ExternalID = rawString(raw)
	}
	if raw, ok := fields["name"]; ok {
		p.Name = rawString(raw)
	}
	if raw, ok := firstPresent(fields, qtyKeys); ok {
		p.Qty, _ = jsonNumber(raw)
	}
	if raw, ok := fields["price"]; ok {
		p.Price, _ = jsonNumber(raw)
	}
	if raw, ok := firstPresent(fields, basePriceKeys); ok {
		if v, ok := jsonNumber(raw); ok && v >= 0 {
			p.BasePrice = &v
		}
	}
	if raw, ok := firstPresent(fields, accruePointsKeys); ok {
		p.AccruePoints = rawBool(raw)
	}
	if raw, ok := firstPresent(fields, actionIDKeys); ok {
		p.ActionIDs = rawStrings(raw)
	}
	if raw, ok := firstPresent(fields, actionNameKeys); ok {
		p.ActionNames = rawStrings(raw)
	}
	return nil
}

// SanitizePositions drops lines with a non-positive quantity or a negative
// price.
func SanitizePositions(items []PositionInput) []PositionInput {
	out := make([]PositionInput, 0, len(items))
	for _, item := range items {
		if math.IsNaN(item.Qty) || math.IsNaN(item.Price) || item.Qty <= 0 || item.Price < 0 {
			continue
		}
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.ExternalID = strings.TrimSpace(item.ExternalID)
		item.Name = strings.TrimSpace(item.Name)
		out = append(out, item)
	}
	return out
}

// Position is a resolved purchase line ready for the calculator.
type Position struct {
	Input               PositionInput
	ProductID           *uuid.UUID
	CategoryID          *uuid.UUID
	Name                string
	Qty                 float64
	Price               float64
	Amount              int64
	AccruePoints        bool
	AllowEarnAndPay     bool
	RedeemPercent       int
	PromotionMultiplier float64
	PointPromotions     []Rule
	AppliedPromotionIDs []uuid.UUID

	PromotionID          *uuid.UUID
	PromotionPointsBonus int64
	EarnPoints           int64
	RedeemAmount         int64
}

// IDProduct is the identifier echoed back to the caller.
func (p Position) IDProduct() string {
	switch {
	case p.Input.ExternalID != "":
		return p.Input.ExternalID
	case p.Input.ProductID != "":
		return p.Input.ProductID
	case p.ProductID != nil:
		return p.ProductID.String()
	}
	return ""
}

func (p Position) label() string {
	if p.Name != "" {
		return p.Name
	}
	if id := p.IDProduct(); id != "" {
		return id
	}
	return "товар"
}

func (p Position) productKey() string {
	if p.ProductID == nil {
		return ""
	}
	return p.ProductID.String()
}

func (p Position) categoryKey() string {
	if p.CategoryID == nil {
		return ""
	}
	return p.CategoryID.String()
}

type productIndex struct {
	byID  map[string]*models.Product
	byExt map[string]*models.Product
}

func (idx productIndex) lookup(item PositionInput) *models.Product {
	if item.ProductID != "" {
		if p, ok := idx.byID[item.ProductID]; ok {
			return p
		}
	}
	if item.ExternalID != "" {
		if p, ok := idx.byExt[item.ExternalID]; ok {
			return p
		}
	}
	return nil
}

// ResolvePositions sanitises the lines, joins them with the product catalog
// and attaches the promotions that apply to each. With autoPromotions false
// only promotions a line explicitly requests are applied.
func (s *Service) ResolvePositions(ctx context.Context, merchantID uuid.UUID, customerID *uuid.UUID, items []PositionInput, autoPromotions bool) ([]Position, error) {
	return s.resolvePositions(ctx, merchantID, customerID, items, resolveOptions{autoPromotions: autoPromotions, pricing: true})
}

type resolveOptions struct {
	autoPromotions bool
	// pricing applies price-changing rules to the line amount.
	pricing bool
}

func (s *Service) resolvePositions(ctx context.Context, merchantID uuid.UUID, customerID *uuid.UUID, items []PositionInput, opts resolveOptions) ([]Position, error) {
	ctx, span := tracer.Start(ctx, "loyalty.ResolvePositions")
	defer span.End()

	items = SanitizePositions(items)
	if len(items) == 0 {
		return nil, nil
	}

	var ids []uuid.UUID
	var exts []string
	for _, item := range items {
		if id, err := uuid.Parse(item.ProductID); err == nil {
			ids = append(ids, id)
		}
		if item.ExternalID != "" {
			exts = append(exts, item.ExternalID)
		}
	}

	var (
		byID  []models.Product
		byExt []models.Product
		rules []Rule
	)
	db := s.db.WithContext(ctx)
	g, gctx := errgroup.WithContext(ctx)
	if len(ids) > 0 {
		g.Go(func() error {
			return errors.Wrap(db.WithContext(gctx).Where("merchant_id = ? AND id IN ?", merchantID, ids).Find(&byID).Error, "load products")
		})
	}
	if len(exts) > 0 {
		g.Go(func() error {
			return errors.Wrap(db.WithContext(gctx).Where("merchant_id = ? AND external_id IN ?", merchantID, exts).Find(&byExt).Error, "load products by external id")
		})
	}
	g.Go(func() error {
		var err error
		rules, err = s.eligibleRules(gctx, merchantID, customerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := productIndex{byID: map[string]*models.Product{}, byExt: map[string]*models.Product{}}
	for i := range byID {
		idx.byID[byID[i].ID.String()] = &byID[i]
	}
	for i := range byExt {
		if byExt[i].ExternalID != nil {
			idx.byExt[*byExt[i].ExternalID] = &byExt[i]
		}
	}
	sortByPriority(rules)

	out := make([]Position, 0, len(items))
	for _, item := range items {
		pos := Position{
			Input:               item,
			Name:                item.Name,
			Qty:                 item.Qty,
			Price:               item.Price,
			AccruePoints:        true,
			AllowEarnAndPay:     true,
			RedeemPercent:       100,
			PromotionMultiplier: 1,
		}
		if product := idx.lookup(item); product != nil {
			id := product.ID
			pos.ProductID = &id
			pos.CategoryID = product.CategoryID
			pos.AccruePoints = product.AccruePoints
			pos.AllowEarnAndPay = product.AllowRedeem
			pos.RedeemPercent = product.RedeemPercent
			if pos.Name == "" {
				pos.Name = product.Name
			}
		}
		if item.AccruePoints != nil {
			pos.AccruePoints = *item.AccruePoints
		}

		applicable := applicableRules(rules, pos, item, opts.autoPromotions)
		unitPrice := item.Price
		freebies := 0.0
		for _, rule := range applicable {
			switch e := rule.Effect.(type) {
			case PointsEffect:
				pos.PointPromotions = append(pos.PointPromotions, rule)
				pos.AppliedPromotionIDs = append(pos.AppliedPromotionIDs, rule.ID)
			case NthFreeEffect:
				if n := e.freeCount(item.Qty); n > 0 {
					freebies = math.Min(float64(n), item.Qty)
					pos.AppliedPromotionIDs = append(pos.AppliedPromotionIDs, rule.ID)
				}
			case FixedPriceEffect:
				unitPrice = e.Price
				pos.AppliedPromotionIDs = append(pos.AppliedPromotionIDs, rule.ID)
			}
		}
		// Lines carrying base_price were already priced by calculate-action.
		if opts.pricing && item.BasePrice == nil {
			pos.Price = unitPrice
			pos.Amount = int64(math.Round(unitPrice * (item.Qty - freebies)))
		} else {
			pos.Amount = int64(math.Round(item.Price * item.Qty))
		}
		if pos.Amount <= 0 {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// applicableRules returns the rules that apply to one line, in priority
// order. Requested actions restrict the set; without them rules apply only
// when auto is set.
func applicableRules(rules []Rule, pos Position, item PositionInput, auto bool) []Rule {
	requestedIDs := make(map[string]struct{}, len(item.ActionIDs))
	for _, id := range item.ActionIDs {
		if id = strings.TrimSpace(id); id != "" {
			requestedIDs[id] = struct{}{}
		}
	}
	requestedNames := make(map[string]struct{}, len(item.ActionNames))
	for _, name := range item.ActionNames {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			requestedNames[name] = struct{}{}
		}
	}
	requested := len(requestedIDs) > 0 || len(requestedNames) > 0
	if !requested && !auto {
		return nil
	}
	var out []Rule
	for _, rule := range rules {
		if !rule.Matches(pos.productKey(), pos.categoryKey()) {
			continue
		}
		if requested {
			_, byID := requestedIDs[rule.ID.String()]
			_, byName := requestedNames[strings.ToLower(strings.TrimSpace(rule.Name))]
			if !byID && !byName {
				continue
			}
		}
		out = append(out, rule)
	}
	return out
}

// ComputeTotals returns the purchase total and the accrual-eligible amount.
// fallback is used when no line carries an amount.
func ComputeTotals(positions []Position, fallback int64) (total, eligible int64) {
	if fallback < 0 {
		fallback = 0
	}
	if len(positions) == 0 {
		return fallback, fallback
	}
	var itemsTotal int64
	for _, p := range positions {
		if p.Amount > 0 {
			itemsTotal += p.Amount
		}
		if p.AccruePoints && p.PromotionMultiplier > 0 && p.Amount > 0 {
			eligible += int64(math.Floor(float64(p.Amount) * p.PromotionMultiplier))
		}
	}
	total = fallback
	if itemsTotal > 0 {
		total = itemsTotal
	}
	if eligible > total {
		eligible = total
	}
	return total, eligible
}

func roundCurrency(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortByPriority(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Effect.priority() < rules[j].Effect.priority()
	})
}

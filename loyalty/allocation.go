package loyalty

import "math"

func sum64(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// AllocateProRata splits target across amounts proportionally. Rounding
// leftovers go one by one to non-zero amounts in order. target is clamped to
// the sum of amounts.
func AllocateProRata(amounts []int64, target int64) []int64 {
	shares := make([]int64, len(amounts))
	var total int64
	for _, a := range amounts {
		total += nonNegative(a)
	}
	if total <= 0 || target <= 0 {
		return shares
	}
	if target > total {
		target = total
	}
	var distributed int64
	for i, a := range amounts {
		shares[i] = nonNegative(a) * target / total
		distributed += shares[i]
	}
	for i := 0; distributed < target; i = (i + 1) % len(shares) {
		if amounts[i] > 0 {
			shares[i]++
			distributed++
		}
	}
	return shares
}

// AllocateByWeight distributes total across weights. Unlike AllocateProRata
// the total is not clamped to the weight sum.
func AllocateByWeight(weights []int64, total int64) []int64 {
	shares := make([]int64, len(weights))
	var sum int64
	for _, w := range weights {
		sum += nonNegative(w)
	}
	if sum <= 0 || total <= 0 {
		return shares
	}
	var distributed int64
	for i, w := range weights {
		shares[i] = nonNegative(w) * total / sum
		distributed += shares[i]
	}
	for i := 0; distributed < total; i = (i + 1) % len(shares) {
		if weights[i] > 0 {
			shares[i]++
			distributed++
		}
	}
	return shares
}

func normalizePercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ComputeRedeemCaps returns the per-line redeem cap: the line amount times
// its redeem percent, or zero for lines that cannot be paid with points.
func ComputeRedeemCaps(positions []Position) []int64 {
	caps := make([]int64, len(positions))
	for i, p := range positions {
		if !p.AllowEarnAndPay || p.Amount <= 0 {
			continue
		}
		caps[i] = p.Amount * int64(normalizePercent(p.RedeemPercent)) / 100
	}
	return caps
}

// AllocateProRataWithCaps distributes total proportionally to weights without
// exceeding any cap. Capacity freed by capped lines is redistributed over
// the remaining ones.
func AllocateProRataWithCaps(weights, caps []int64, total int64) []int64 {
	n := min(len(weights), len(caps))
	shares := make([]int64, n)
	remaining := nonNegative(total)
	if n == 0 || remaining == 0 {
		return shares
	}
	left := make([]int64, n)
	var active []int
	for i := 0; i < n; i++ {
		left[i] = nonNegative(caps[i])
		if weights[i] > 0 && left[i] > 0 {
			active = append(active, i)
		}
	}
	for remaining > 0 && len(active) > 0 {
		activeWeights := make([]int64, len(active))
		for j, idx := range active {
			activeWeights[j] = weights[idx]
		}
		provisional := AllocateProRata(activeWeights, remaining)
		capped := false
		next := active[:0]
		for j, idx := range active {
			want := provisional[j]
			applied := min(want, left[idx])
			if want > left[idx] {
				capped = true
			}
			shares[idx] += applied
			left[idx] -= applied
			remaining -= applied
			if left[idx] > 0 {
				next = append(next, idx)
			}
		}
		active = next
		if !capped {
			break
		}
	}
	return shares
}

// ApplyEarnAndRedeemToItems spreads discount over the lines within their redeem
// caps and computes each line's earn on what is left to pay. A line's best
// point promotion replaces its base earn. Returns the total earn.
func ApplyEarnAndRedeemToItems(items []Position, earnBps int, discount int64, allowEarn bool) int64 {
	if len(items) == 0 {
		return 0
	}
	amounts := make([]int64, len(items))
	for i, item := range items {
		amounts[i] = nonNegative(item.Amount)
	}
	caps := ComputeRedeemCaps(items)
	target := min(nonNegative(discount), sum64(caps))
	shares := AllocateProRataWithCaps(amounts, caps, target)

	var totalEarn int64
	for i := range items {
		item := &items[i]
		item.RedeemAmount = shares[i]
		itemAllowed := allowEarn && item.AccruePoints
		if !itemAllowed {
			item.EarnPoints = 0
			item.PromotionPointsBonus = 0
			continue
		}
		earnBase := nonNegative(item.Amount - shares[i])
		base := earnBase * int64(earnBps) / 10000

		var earn int64
		var best *Rule
		if len(item.PointPromotions) > 0 {
			for j := range item.PointPromotions {
				rule := &item.PointPromotions[j]
				effect, ok := rule.Effect.(PointsEffect)
				if !ok {
					continue
				}
				points := base
				switch effect.Type {
				case PointsMultiplier:
					points = int64(math.Floor(float64(base) * effect.Value))
				case PointsPercent:
					points = int64(math.Floor(float64(earnBase) * effect.Value / 100))
				case PointsFixed:
					points = int64(math.Floor(effect.Value * math.Max(0, item.Qty)))
				}
				if points > earn {
					earn = points
					best = rule
				}
			}
		} else {
			mult := item.PromotionMultiplier
			if mult < 1 {
				mult = 1
			}
			earn = int64(math.Floor(float64(base) * mult))
		}

		if best != nil {
			id := best.ID
			item.PromotionID = &id
			item.PromotionMultiplier = 1
			if e := best.Effect.(PointsEffect); e.Type == PointsMultiplier {
				item.PromotionMultiplier = e.Value
			}
		} else if item.PromotionMultiplier <= 0 {
			item.PromotionMultiplier = 1
		}
		item.PromotionPointsBonus = nonNegative(earn - base)
		item.EarnPoints = earn
		totalEarn += earn
	}
	return totalEarn
}

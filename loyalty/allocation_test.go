package loyalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateProRata(t *testing.T) {
	tests := []struct {
		name    string
		amounts []int64
		target  int64
		want    []int64
	}{
		{"exact split", []int64{100, 200, 300}, 60, []int64{10, 20, 30}},
		{"leftover goes to first lines", []int64{1, 1, 1}, 2, []int64{1, 1, 0}},
		{"target clamped to total", []int64{10, 20}, 100, []int64{10, 20}},
		{"zero target", []int64{10, 20}, 0, []int64{0, 0}},
		{"zero amounts skipped", []int64{0, 50, 50}, 3, []int64{0, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AllocateProRata(tt.amounts, tt.target)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllocateByWeightDoesNotClamp(t *testing.T) {
	got := AllocateByWeight([]int64{1, 3}, 100)
	assert.Equal(t, []int64{25, 75}, got)
	assert.Equal(t, int64(100), sum64(got))
	assert.Equal(t, []int64{0, 0}, AllocateByWeight([]int64{0, 0}, 10))
}

func TestAllocateProRataWithCapsRedistributes(t *testing.T) {
	got := AllocateProRataWithCaps([]int64{600, 400}, []int64{100, 400}, 300)
	assert.Equal(t, []int64{100, 200}, got)

	// Every line capped: the remainder stays unallocated.
	got = AllocateProRataWithCaps([]int64{100, 100}, []int64{10, 20}, 100)
	assert.Equal(t, []int64{10, 20}, got)
}

func TestComputeRedeemCaps(t *testing.T) {
	positions := []Position{
		{Amount: 200, AllowEarnAndPay: true, RedeemPercent: 50},
		{Amount: 100, AllowEarnAndPay: false, RedeemPercent: 100},
		{Amount: 300, AllowEarnAndPay: true, RedeemPercent: 150},
		{Amount: 80, AllowEarnAndPay: true, RedeemPercent: -5},
	}
	assert.Equal(t, []int64{100, 0, 300, 0}, ComputeRedeemCaps(positions))
}

func TestApplyEarnAndRedeemToItems(t *testing.T) {
	items := []Position{
		{Amount: 600, AccruePoints: true, AllowEarnAndPay: true, RedeemPercent: 100, PromotionMultiplier: 1},
		{Amount: 400, AccruePoints: false, AllowEarnAndPay: true, RedeemPercent: 100, PromotionMultiplier: 1},
	}
	earn := ApplyEarnAndRedeemToItems(items, 1000, 100, true)

	assert.Equal(t, int64(60), items[0].RedeemAmount)
	assert.Equal(t, int64(40), items[1].RedeemAmount)
	// (600-60) * 10%
	assert.Equal(t, int64(54), items[0].EarnPoints)
	assert.Equal(t, int64(0), items[1].EarnPoints)
	assert.Equal(t, int64(54), earn)
}

func TestApplyEarnBestPointPromotionWins(t *testing.T) {
	double := Rule{ID: [16]byte{1}, Effect: PointsEffect{Type: PointsMultiplier, Value: 2}}
	fixed := Rule{ID: [16]byte{2}, Effect: PointsEffect{Type: PointsFixed, Value: 15}}
	items := []Position{{
		Qty:                 2,
		Amount:              200,
		AccruePoints:        true,
		AllowEarnAndPay:     true,
		RedeemPercent:       100,
		PromotionMultiplier: 1,
		PointPromotions:     []Rule{double, fixed},
	}}

	earn := ApplyEarnAndRedeemToItems(items, 500, 0, true)
	// base 10, multiplier gives 20, fixed gives 30
	assert.Equal(t, int64(30), earn)
	assert.Equal(t, fixed.ID, *items[0].PromotionID)
	assert.Equal(t, 1.0, items[0].PromotionMultiplier)
	assert.Equal(t, int64(20), items[0].PromotionPointsBonus)
}

func TestApplyEarnDisallowed(t *testing.T) {
	items := []Position{{Amount: 100, AccruePoints: true, AllowEarnAndPay: true, RedeemPercent: 100}}
	assert.Equal(t, int64(0), ApplyEarnAndRedeemToItems(items, 500, 0, false))
	assert.Equal(t, int64(0), items[0].EarnPoints)
}

func TestCapEarnRedistributes(t *testing.T) {
	positions := []Position{{EarnPoints: 30}, {EarnPoints: 10}}
	got := capEarn(positions, 40, 20)
	assert.Equal(t, int64(20), got)
	assert.Equal(t, int64(15), positions[0].EarnPoints)
	assert.Equal(t, int64(5), positions[1].EarnPoints)

	assert.Equal(t, int64(0), capEarn(positions, 20, 0))
	assert.Equal(t, int64(0), positions[0].EarnPoints)
}

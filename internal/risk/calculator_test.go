package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-desk/internal/extremum"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/i18n"
)

func ptr(v float64) *float64 { return &v }

func defaultLeverage() *common.LeverageInfo {
	info := common.DefaultLeverageInfo()
	return &info
}

func baseInput() PlanInput {
	return PlanInput{
		Side:         extremum.Long,
		CurrentPrice: 100,
		StopPrice:    95,
		Config:       RiskConfig{RiskPercent: 1, RewardToRiskRatio: 2},
		Balance:      ptr(10_000),
		Leverage:     defaultLeverage(),
	}
}

func TestWorkedExample(t *testing.T) {
	plan := ComputePositionPlan(baseInput())
	require.Nil(t, plan.Error)
	require.NotNil(t, plan.Sizing)

	assert.InDelta(t, 5, plan.StopDistance, 1e-9)
	assert.InDelta(t, 110, plan.TargetPrice, 1e-9)
	assert.InDelta(t, 5, plan.StopPercent, 1e-9)
	assert.InDelta(t, 10, plan.TargetPercent, 1e-9)
	assert.InDelta(t, 100, plan.Sizing.RiskAmount, 1e-9)
	assert.InDelta(t, 20, plan.Sizing.PositionSize, 1e-9)
	assert.Equal(t, 1.0, plan.Sizing.Leverage)
	assert.InDelta(t, 2_000, plan.Sizing.MarginRequired, 1e-9)
	assert.Nil(t, plan.Fees)
	assert.False(t, plan.InsufficientCapital)
	assert.Equal(t, "ok", plan.Outcome())
}

func TestDirectionInequalities(t *testing.T) {
	long := ComputePositionPlan(baseInput())
	assert.Greater(t, long.TargetPrice, long.EntryPrice)
	assert.Greater(t, long.EntryPrice, long.StopPrice)

	in := baseInput()
	in.Side = extremum.Short
	in.StopPrice = 104
	short := ComputePositionPlan(in)
	require.Nil(t, short.Error)
	assert.Less(t, short.TargetPrice, short.EntryPrice)
	assert.Less(t, short.EntryPrice, short.StopPrice)
	assert.InDelta(t, 92, short.TargetPrice, 1e-9)
}

func TestFeesReduceSize(t *testing.T) {
	in := baseInput()
	in.Fees = &common.TradingFees{Maker: 0.0002, Taker: 0.001}
	plan := ComputePositionPlan(in)
	require.Nil(t, plan.Error)

	want := 100 / (5 + 195*0.001)
	assert.InDelta(t, want, plan.Sizing.PositionSize, 1e-9)
	assert.InDelta(t, 100, plan.Sizing.ExpectedLoss, 1e-9, "fees stay inside the risk budget")
	assert.NotNil(t, plan.Fees)
}

func TestAmountStepAndTick(t *testing.T) {
	in := baseInput()
	in.Fees = &common.TradingFees{Taker: 0.001}
	in.Market = &common.Market{AmountStep: 0.001, PriceTick: 0.5}
	in.Config.RewardToRiskRatio = 1.55 // 100 + 7.75 -> 108 at a 0.5 tick
	plan := ComputePositionPlan(in)
	require.Nil(t, plan.Error)

	assert.InDelta(t, 19.249, plan.Sizing.PositionSize, 1e-12)
	assert.InDelta(t, 108, plan.TargetPrice, 1e-12)
}

func TestPartialClose(t *testing.T) {
	in := baseInput()
	in.Config.PartialClose = true
	in.Config.CloseRatio = 50
	plan := ComputePositionPlan(in)
	require.NotNil(t, plan.Sizing.PartialCloseSize)
	assert.InDelta(t, 10, *plan.Sizing.PartialCloseSize, 1e-9)

	in.Config.CloseRatio = 0
	assert.Equal(t, CodeBadCloseRatio, ComputePositionPlan(in).Error.Code)
}

func TestTierClampSetsInsufficientCapital(t *testing.T) {
	in := baseInput()
	in.StopPrice = 99
	in.Config.RiskPercent = 10 // 1000 risk / 1 distance = 1000 units, 100k notional
	in.Leverage = &common.LeverageInfo{
		MaxLeverage: 125,
		Tiers: []common.LeverageTier{
			{NotionalCeiling: 50_000, MaxLeverage: 20, MaintenanceMarginRate: 0.01},
			{NotionalCeiling: 10_000, MaxLeverage: 50, MaintenanceMarginRate: 0.005},
		},
	}
	plan := ComputePositionPlan(in)
	require.Nil(t, plan.Error)
	assert.True(t, plan.InsufficientCapital)
	assert.Equal(t, "insufficient_capital", plan.Outcome())
	assert.InDelta(t, 500, plan.Sizing.PositionSize, 1e-9)
	assert.Equal(t, 5.0, plan.Sizing.Leverage)
	assert.InDelta(t, 500, plan.Sizing.MaintenanceMargin, 1e-9)
	require.NotNil(t, plan.Sizing.Tier)
	assert.Equal(t, 50_000.0, plan.Sizing.Tier.NotionalCeiling)
}

func TestTierSelection(t *testing.T) {
	in := baseInput()
	in.Leverage = &common.LeverageInfo{
		MaxLeverage: 125,
		Tiers: []common.LeverageTier{
			{NotionalCeiling: 1_000, MaxLeverage: 125, MaintenanceMarginRate: 0.004},
			{NotionalCeiling: 5_000, MaxLeverage: 50, MaintenanceMarginRate: 0.005},
		},
	}
	plan := ComputePositionPlan(in)
	require.Nil(t, plan.Error)
	assert.False(t, plan.InsufficientCapital)
	assert.Equal(t, 5_000.0, plan.Sizing.Tier.NotionalCeiling)
	assert.Equal(t, 50.0, plan.Sizing.MaxLeverage)
}

func TestMarginClampSetsInsufficientCapital(t *testing.T) {
	in := baseInput()
	in.StopPrice = 99
	in.Balance = ptr(1_000)
	in.Config.RiskPercent = 10
	in.Leverage = &common.LeverageInfo{MaxLeverage: 2, Tiers: []common.LeverageTier{}}

	plan := ComputePositionPlan(in)
	require.Nil(t, plan.Error)
	assert.True(t, plan.InsufficientCapital)
	assert.Equal(t, 2.0, plan.Sizing.Leverage)
	assert.InDelta(t, 20, plan.Sizing.PositionSize, 1e-9)
	assert.InDelta(t, 1_000, plan.Sizing.MarginRequired, 1e-9)
}

func TestUnknownBalanceOmitsSizing(t *testing.T) {
	in := baseInput()
	in.Balance = nil
	plan := ComputePositionPlan(in)
	require.Nil(t, plan.Error)
	assert.Nil(t, plan.Sizing)
	assert.InDelta(t, 110, plan.TargetPrice, 1e-9)
	assert.Equal(t, "partial", plan.Outcome())
	assert.NotEmpty(t, plan.Notice)
}

func TestMakerRebateAccepted(t *testing.T) {
	in := baseInput()
	in.Fees = &common.TradingFees{Maker: -0.0001, Taker: 0.0004}
	plan := ComputePositionPlan(in)
	require.Nil(t, plan.Error)
	require.NotNil(t, plan.Sizing)
	assert.Positive(t, plan.Sizing.PositionSize)
	assert.Positive(t, plan.Sizing.MarginRequired)
}

func TestDegenerateInputs(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*PlanInput)
		code string
	}{
		{"zero distance", func(in *PlanInput) { in.StopPrice = 100 }, CodeZeroStopDistance},
		{"wrong side long", func(in *PlanInput) { in.StopPrice = 101 }, CodeStopWrongSide},
		{"wrong side short", func(in *PlanInput) { in.Side = extremum.Short }, CodeStopWrongSide},
		{"nan", func(in *PlanInput) { in.CurrentPrice = math.NaN() }, CodeNonFinite},
		{"inf balance", func(in *PlanInput) { in.Balance = ptr(math.Inf(1)) }, CodeNonFinite},
		{"negative price", func(in *PlanInput) { in.StopPrice = -1 }, CodeNonPositivePrice},
		{"missing leverage", func(in *PlanInput) { in.Leverage = nil }, CodeMissingLeverage},
		{"risk percent", func(in *PlanInput) { in.Config.RiskPercent = 150 }, CodeBadRiskPercent},
		{"reward ratio", func(in *PlanInput) { in.Config.RewardToRiskRatio = 0 }, CodeBadRewardRatio},
		{"side", func(in *PlanInput) { in.Side = "up" }, CodeBadSide},
		{"negative taker", func(in *PlanInput) { in.Fees = &common.TradingFees{Maker: 0.0002, Taker: -0.05} }, CodeNegativeFee},
		{"short target below zero", func(in *PlanInput) {
			in.Side = extremum.Short
			in.StopPrice = 160
			in.Config.RewardToRiskRatio = 3
		}, CodeNonPositivePrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := baseInput()
			tc.mut(&in)
			plan := ComputePositionPlan(in)
			require.NotNil(t, plan.Error)
			assert.Equal(t, tc.code, plan.Error.Code)
			assert.NotEmpty(t, plan.Error.Message)
			assert.Nil(t, plan.Sizing)
		})
	}
}

func TestLocalizedError(t *testing.T) {
	in := baseInput()
	in.StopPrice = 100
	in.Lang = i18n.LangZH
	plan := ComputePositionPlan(in)
	require.NotNil(t, plan.Error)
	assert.Equal(t, i18n.GetIn(i18n.LangZH, "PlanZeroStopDistance"), plan.Error.Message)
}

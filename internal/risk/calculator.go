// Package risk turns a stop reference, balance and exchange limits into a
// risk-bounded position plan.
package risk

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"risk-desk/internal/extremum"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/i18n"
)

// ComputePositionPlan derives stop, target, size, leverage and margin.
// It never panics; invalid inputs come back as PositionPlan.Error.
//
// The round-trip taker fee per unit, (entry+stop)*taker, is charged
// against the risk budget: size = riskAmount / (stopDistance + feePerUnit).
func ComputePositionPlan(in PlanInput) PositionPlan {
	plan := PositionPlan{
		Side:         in.Side,
		EntryPrice:   in.CurrentPrice,
		StopPrice:    in.StopPrice,
		RewardToRisk: in.Config.RewardToRiskRatio,
		Fees:         in.Fees,
	}
	if err := validate(in); err != nil {
		plan.Error = err
		return plan
	}

	dir := 1.0
	if in.Side == extremum.Short {
		dir = -1
	}
	cur := in.CurrentPrice
	stopDistance := math.Abs(cur - in.StopPrice)
	target := cur + dir*stopDistance*in.Config.RewardToRiskRatio
	if in.Market != nil && in.Market.PriceTick > 0 {
		target = roundToTick(target, in.Market.PriceTick)
	}
	if target <= 0 {
		plan.Error = newPlanError(CodeNonPositivePrice, in.Lang)
		return plan
	}

	plan.StopDistance = stopDistance
	plan.StopPercent = stopDistance / cur * 100
	plan.TargetPrice = target
	plan.TargetPercent = math.Abs(target-cur) / cur * 100

	if in.Balance == nil {
		plan.Notice = i18n.GetIn(in.Lang, "PlanBalanceUnknown")
		return plan
	}

	sizing, capped := size(in, stopDistance, target)
	plan.Sizing = sizing
	plan.InsufficientCapital = capped
	if capped {
		plan.Notice = i18n.GetIn(in.Lang, "PlanInsufficientCapital")
	}
	return plan
}

func size(in PlanInput, stopDistance, target float64) (*Sizing, bool) {
	cur := in.CurrentPrice
	balance := *in.Balance
	s := &Sizing{Balance: balance}
	if balance <= 0 {
		return s, true
	}

	var taker float64
	if in.Fees != nil {
		taker = in.Fees.Taker
	}
	feePerUnit := (cur + in.StopPrice) * taker

	s.RiskAmount = balance * in.Config.RiskPercent / 100
	qty := s.RiskAmount / (stopDistance + feePerUnit)
	notional := qty * cur
	capped := false

	maxLev := in.Leverage.MaxLeverage
	if tiers := sortedTiers(in.Leverage.Tiers); len(tiers) > 0 {
		idx := sort.Search(len(tiers), func(i int) bool { return tiers[i].NotionalCeiling >= notional })
		if idx == len(tiers) {
			idx = len(tiers) - 1
			notional = tiers[idx].NotionalCeiling
			qty = notional / cur
			capped = true
		}
		tier := tiers[idx]
		s.Tier = &tier
		maxLev = tier.MaxLeverage
	}
	maxLev = math.Max(1, math.Floor(maxLev))
	s.MaxLeverage = maxLev

	leverage := math.Max(1, math.Ceil(notional/balance))
	if leverage > maxLev {
		leverage = maxLev
	}
	if notional/leverage > balance {
		qty = balance * leverage / cur
		capped = true
	}

	if in.Market != nil && in.Market.AmountStep > 0 {
		qty = floorToStep(qty, in.Market.AmountStep)
	}
	notional = qty * cur

	s.PositionSize = qty
	s.Notional = notional
	s.Leverage = leverage
	s.MarginRequired = notional / leverage
	s.FeeCost = qty * feePerUnit
	s.ExpectedLoss = qty * (stopDistance + feePerUnit)
	s.ExpectedReward = qty*math.Abs(target-cur) - qty*(cur+target)*taker
	if s.Tier != nil {
		s.MaintenanceMargin = notional * s.Tier.MaintenanceMarginRate
	}
	if in.Config.PartialClose {
		part := qty * in.Config.CloseRatio / 100
		if in.Market != nil && in.Market.AmountStep > 0 {
			part = floorToStep(part, in.Market.AmountStep)
		}
		s.PartialCloseSize = &part
	}
	return s, capped
}

func validate(in PlanInput) *PlanError {
	lang := in.Lang
	if in.Side != extremum.Long && in.Side != extremum.Short {
		return newPlanError(CodeBadSide, lang)
	}
	nums := []float64{in.CurrentPrice, in.StopPrice, in.Config.RiskPercent, in.Config.RewardToRiskRatio, in.Config.CloseRatio}
	if in.Balance != nil {
		nums = append(nums, *in.Balance)
	}
	if in.Fees != nil {
		nums = append(nums, in.Fees.Maker, in.Fees.Taker)
	}
	for _, v := range nums {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return newPlanError(CodeNonFinite, lang)
		}
	}
	// Maker rebates may be negative; only the taker rate is charged.
	if in.Fees != nil && in.Fees.Taker < 0 {
		return newPlanError(CodeNegativeFee, lang)
	}
	if in.CurrentPrice <= 0 || in.StopPrice <= 0 {
		return newPlanError(CodeNonPositivePrice, lang)
	}
	if in.CurrentPrice == in.StopPrice {
		return newPlanError(CodeZeroStopDistance, lang)
	}
	if (in.Side == extremum.Long && in.StopPrice > in.CurrentPrice) ||
		(in.Side == extremum.Short && in.StopPrice < in.CurrentPrice) {
		return newPlanError(CodeStopWrongSide, lang)
	}
	if in.Config.RiskPercent <= 0 || in.Config.RiskPercent > 100 {
		return newPlanError(CodeBadRiskPercent, lang)
	}
	if in.Config.RewardToRiskRatio <= 0 {
		return newPlanError(CodeBadRewardRatio, lang)
	}
	if in.Config.PartialClose && (in.Config.CloseRatio <= 0 || in.Config.CloseRatio > 100) {
		return newPlanError(CodeBadCloseRatio, lang)
	}
	if in.Leverage == nil || (in.Leverage.MaxLeverage <= 0 && len(in.Leverage.Tiers) == 0) {
		return newPlanError(CodeMissingLeverage, lang)
	}
	return nil
}

func sortedTiers(tiers []common.LeverageTier) []common.LeverageTier {
	out := append([]common.LeverageTier(nil), tiers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].NotionalCeiling < out[j].NotionalCeiling })
	return out
}

func floorToStep(v, step float64) float64 {
	d := decimal.NewFromFloat(step)
	f, _ := decimal.NewFromFloat(v).Div(d).Floor().Mul(d).Float64()
	return f
}

func roundToTick(v, tick float64) float64 {
	d := decimal.NewFromFloat(tick)
	f, _ := decimal.NewFromFloat(v).Div(d).Round(0).Mul(d).Float64()
	return f
}

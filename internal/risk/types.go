package risk

import (
	"risk-desk/internal/extremum"
	"risk-desk/pkg/exchanges/common"
	"risk-desk/pkg/i18n"
)

// Error codes carried by PlanError.
const (
	CodeZeroStopDistance = "ZERO_STOP_DISTANCE"
	CodeStopWrongSide    = "STOP_WRONG_SIDE"
	CodeNonFinite        = "NON_FINITE"
	CodeNonPositivePrice = "NON_POSITIVE_PRICE"
	CodeMissingLeverage  = "MISSING_LEVERAGE"
	CodeBadRiskPercent   = "BAD_RISK_PERCENT"
	CodeBadRewardRatio   = "BAD_REWARD_RATIO"
	CodeBadCloseRatio    = "BAD_CLOSE_RATIO"
	CodeBadSide          = "BAD_SIDE"
	CodeNegativeFee      = "NEGATIVE_FEE"
)

var codeMessages = map[string]string{
	CodeZeroStopDistance: "PlanZeroStopDistance",
	CodeStopWrongSide:    "PlanStopWrongSide",
	CodeNonFinite:        "PlanNonFinite",
	CodeNonPositivePrice: "PlanNonPositivePrice",
	CodeMissingLeverage:  "PlanMissingLeverage",
	CodeBadRiskPercent:   "PlanBadRiskPercent",
	CodeBadRewardRatio:   "PlanBadRewardRatio",
	CodeBadCloseRatio:    "PlanBadCloseRatio",
	CodeBadSide:          "PlanBadSide",
	CodeNegativeFee:      "PlanNegativeFee",
}

// RiskConfig defines per-trade risk parameters.
type RiskConfig struct {
	RiskPercent       float64 `json:"risk_percent" yaml:"risk_percent"`               // (0,100]
	RewardToRiskRatio float64 `json:"reward_to_risk_ratio" yaml:"reward_to_risk_ratio"` // > 0
	PartialClose      bool    `json:"partial_close" yaml:"partial_close"`
	CloseRatio        float64 `json:"close_ratio" yaml:"close_ratio"` // percent of size closed at target
}

// DefaultConfig returns default risk configuration
func DefaultConfig() RiskConfig {
	return RiskConfig{
		RiskPercent:       1,
		RewardToRiskRatio: 2,
		PartialClose:      false,
		CloseRatio:        50,
	}
}

// PlanInput collects everything ComputePositionPlan needs. Balance, Fees
// and Market are optional.
type PlanInput struct {
	Side         extremum.TradeSide
	CurrentPrice float64
	StopPrice    float64
	Config       RiskConfig
	Balance      *float64
	Leverage     *common.LeverageInfo
	Fees         *common.TradingFees
	Market       *common.Market
	Lang         i18n.Language
}

// PositionPlan is a full plan, a capped plan (InsufficientCapital), a
// partial plan without sizing (unknown balance) or an error.
type PositionPlan struct {
	Side          extremum.TradeSide  `json:"side"`
	EntryPrice    float64             `json:"entry_price"`
	StopPrice     float64             `json:"stop_price"`
	TargetPrice   float64             `json:"target_price"`
	StopPercent   float64             `json:"stop_percent"`
	TargetPercent float64             `json:"target_percent"`
	StopDistance  float64             `json:"stop_distance"`
	RewardToRisk  float64             `json:"reward_to_risk_ratio"`
	Fees          *common.TradingFees `json:"fees"`
	Sizing        *Sizing             `json:"sizing,omitempty"`

	InsufficientCapital bool       `json:"insufficient_capital"`
	Notice              string     `json:"notice,omitempty"`
	Error               *PlanError `json:"error,omitempty"`
}

// Sizing is present only when the balance is known.
type Sizing struct {
	Balance           float64              `json:"balance"`
	RiskAmount        float64              `json:"risk_amount"`
	PositionSize      float64              `json:"position_size"`
	Notional          float64              `json:"notional"`
	Leverage          float64              `json:"leverage"`
	MaxLeverage       float64              `json:"max_leverage"`
	MarginRequired    float64              `json:"margin_required"`
	MaintenanceMargin float64              `json:"maintenance_margin"`
	FeeCost           float64              `json:"fee_cost"`
	ExpectedLoss      float64              `json:"expected_loss"`
	ExpectedReward    float64              `json:"expected_reward"`
	PartialCloseSize  *float64             `json:"partial_close_size,omitempty"`
	Tier              *common.LeverageTier `json:"tier,omitempty"`
}

// PlanError is a structured calculation failure.
type PlanError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *PlanError) Error() string { return e.Code + ": " + e.Message }

func newPlanError(code string, lang i18n.Language) *PlanError {
	return &PlanError{Code: code, Message: i18n.GetIn(lang, codeMessages[code])}
}

// Outcome classifies a plan for metrics and logs.
func (p PositionPlan) Outcome() string {
	switch {
	case p.Error != nil:
		return "error"
	case p.Sizing == nil:
		return "partial"
	case p.InsufficientCapital:
		return "insufficient_capital"
	}
	return "ok"
}

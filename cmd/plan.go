package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"risk-desk/internal/engine"
	"risk-desk/internal/extremum"
	"risk-desk/internal/risk"
	"risk-desk/internal/series"
	"risk-desk/pkg/i18n"
)

var planOpts struct {
	exchange  string
	symbol    string
	timeframe string
	side      string
	stop      float64
	balance   float64
	profile   string
	risk      float64
	rr        float64
	partial   float64
	wait      time.Duration
	lang      string
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Load a series, derive the stop reference and print a position plan",
	Example: `  risk-desk plan --exchange binanceusdm --symbol BTCUSDT --timeframe 15 --side long --balance 2500
  risk-desk plan --exchange mock --symbol ETHUSDT --side short --stop 105 --risk 0.5 --rr 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := planRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		a := newApp(cfg, log)
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), planOpts.wait+5*time.Second)
		defer cancel()
		res, err := a.engine.Plan(ctx, req)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	f := planCmd.Flags()
	f.StringVar(&planOpts.exchange, "exchange", "binanceusdm", "exchange id")
	f.StringVar(&planOpts.symbol, "symbol", "BTCUSDT", "symbol")
	f.StringVar(&planOpts.timeframe, "timeframe", "15", "canonical timeframe (1,5,15,30,60,240,D,W,M)")
	f.StringVar(&planOpts.side, "side", "long", "long or short")
	f.Float64Var(&planOpts.stop, "stop", 0, "stop price (default: derived from the swing extremum)")
	f.Float64Var(&planOpts.balance, "balance", 0, "balance to size against (default: synced wallet)")
	f.StringVar(&planOpts.profile, "profile", "", "named risk profile")
	f.Float64Var(&planOpts.risk, "risk", 0, "risk percent of balance")
	f.Float64Var(&planOpts.rr, "rr", 0, "reward to risk ratio")
	f.Float64Var(&planOpts.partial, "partial", 0, "close this percent of the position at target")
	f.DurationVar(&planOpts.wait, "wait", 15*time.Second, "how long to wait for the series")
	f.StringVar(&planOpts.lang, "lang", "", "message language (en or zh)")
}

func planRequestFromFlags(cmd *cobra.Command) (engine.PlanRequest, error) {
	side, err := extremum.ParseTradeSide(strings.ToLower(planOpts.side))
	if err != nil {
		return engine.PlanRequest{}, fmt.Errorf("%w: %v", engine.ErrInvalidPlanInput, err)
	}
	req := engine.PlanRequest{
		Key: series.Key{
			Exchange:  strings.ToLower(planOpts.exchange),
			Symbol:    strings.ToUpper(planOpts.symbol),
			Timeframe: planOpts.timeframe,
		},
		Side:    side,
		Profile: planOpts.profile,
		Lang:    i18n.ParseLanguage(planOpts.lang),
		Wait:    planOpts.wait,
	}
	flags := cmd.Flags()
	if flags.Changed("stop") {
		v := planOpts.stop
		req.StopPrice = &v
	}
	if flags.Changed("balance") {
		v := planOpts.balance
		req.Balance = &v
	}
	if flags.Changed("risk") || flags.Changed("rr") || flags.Changed("partial") {
		rc := risk.DefaultConfig()
		if flags.Changed("risk") {
			rc.RiskPercent = planOpts.risk
		}
		if flags.Changed("rr") {
			rc.RewardToRiskRatio = planOpts.rr
		}
		if flags.Changed("partial") {
			rc.PartialClose = true
			rc.CloseRatio = planOpts.partial
		}
		req.Config = &rc
	}
	return req, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

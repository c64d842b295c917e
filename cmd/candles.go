package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"risk-desk/internal/series"
)

var candlesOpts struct {
	exchange  string
	symbol    string
	timeframe string
	pages     int
	tail      int
	asJSON    bool
	wait      time.Duration
}

var candlesCmd = &cobra.Command{
	Use:   "candles",
	Short: "Load a gap-filled series (plus older pages) and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := series.Key{
			Exchange:  strings.ToLower(candlesOpts.exchange),
			Symbol:    strings.ToUpper(candlesOpts.symbol),
			Timeframe: candlesOpts.timeframe,
		}
		a := newApp(cfg, log)
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), candlesOpts.wait+time.Duration(candlesOpts.pages)*10*time.Second)
		defer cancel()

		snap, err := a.engine.WaitReady(ctx, key, candlesOpts.wait)
		if err != nil {
			return err
		}
		for i := 0; i < candlesOpts.pages && !snap.Exhausted; i++ {
			if snap, err = a.engine.LoadMore(ctx, key); err != nil {
				return err
			}
		}

		candles := snap.Candles
		if candlesOpts.tail > 0 && len(candles) > candlesOpts.tail {
			candles = candles[len(candles)-candlesOpts.tail:]
		}
		if candlesOpts.asJSON {
			return writeJSON(cmd.OutOrStdout(), candles)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "time\topen\thigh\tlow\tclose\tvolume\t")
		for _, c := range candles {
			fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%g\t%g\t\n",
				time.Unix(c.Time, 0).UTC().Format("2006-01-02 15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d candles (%d shown), exhausted=%t\n", key, snap.Len(), len(candles), snap.Exhausted)
		return nil
	},
}

func init() {
	f := candlesCmd.Flags()
	f.StringVar(&candlesOpts.exchange, "exchange", "binance", "exchange id")
	f.StringVar(&candlesOpts.symbol, "symbol", "BTCUSDT", "symbol")
	f.StringVar(&candlesOpts.timeframe, "timeframe", "60", "canonical timeframe")
	f.IntVar(&candlesOpts.pages, "pages", 0, "older pages to load after bootstrap")
	f.IntVar(&candlesOpts.tail, "tail", 20, "print only the newest N candles (0 = all)")
	f.BoolVar(&candlesOpts.asJSON, "json", false, "print JSON")
	f.DurationVar(&candlesOpts.wait, "wait", 15*time.Second, "how long to wait for the series")
}

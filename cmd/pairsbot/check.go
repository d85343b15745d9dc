package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pairsbot-go/internal/app"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fit the spread model once and print the cointegration report",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// check never trades or records anything
	cfg.Paper.JournalPath = ""
	cfg.Paper.DBPath = ""

	session, err := app.NewSession(cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer session.Close()

	in, err := session.Inspect(cmd.Context())
	if err != nil {
		return fmt.Errorf("inspect %s: %w", in.Pair, err)
	}
	m := in.Model
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pair           %s (%d bars)\n", in.Pair, m.Lookback)
	fmt.Fprintf(out, "fit            y = %.6f * x + %.6f\n", m.Slope, m.Intercept)
	fmt.Fprintf(out, "spread std     %.6f\n", m.SpreadStdDev)
	if m.Degenerate {
		fmt.Fprintln(out, "adf            skipped (degenerate spread)")
	} else {
		fmt.Fprintf(out, "adf            stat %.4f  p-value %.4f  lag %d/%d  nobs %d\n",
			m.ADF.Statistic, m.ADF.PValue, m.ADF.UsedLag, m.ADF.MaxLag, m.ADF.NObs)
		fmt.Fprintf(out, "critical       1%% %.3f  5%% %.3f  10%% %.3f\n",
			m.ADF.Critical["1%"], m.ADF.Critical["5%"], m.ADF.Critical["10%"])
	}
	fmt.Fprintf(out, "cointegrated   %t (significance %.3f)\n", m.IsCointegrated, cfg.Strategy.ADFSignificance)
	if in.ZErr != nil {
		fmt.Fprintf(out, "z-score        n/a (%v)\n", in.ZErr)
		return nil
	}
	fmt.Fprintf(out, "prices         x %.4f  y %.4f\n", in.PriceX, in.PriceY)
	fmt.Fprintf(out, "z-score        %.4f (spread %.4f, entry at |z| >= %.2f)\n", in.Z, in.Spread, cfg.Strategy.EntryThreshold)
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/metrics"
	"github.com/rustyeddy/stakeledger/sim"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a staking scenario",
	Long: `Replay a scripted staking scenario against a simulated clock and an
in-memory vault, printing the outcome of every step.

Steps: advance, open, claim, close, exit, deposit, withdraw, emergency,
pause, set_rate, add_option, remove_option, check. A step may name the
error code it expects with expect_error; any mismatch fails the run.

With --metrics-addr the final metrics are served at /metrics until
interrupted.

Example:
  stakeledger simulate -c stakeledger.yaml -s scenarios/lifecycle.yaml
  stakeledger simulate -s scenarios/lifecycle.yaml --metrics-addr :9102`,
	RunE: runSimulate,
}

var (
	simulateScenario    string
	simulateMetrics     bool
	simulateMetricsAddr string
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simulateScenario, "scenario", "s", "", "path to scenario YAML (required)")
	simulateCmd.Flags().BoolVar(&simulateMetrics, "metrics", false, "print Prometheus metrics after the run")
	simulateCmd.Flags().StringVar(&simulateMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address after the run")
	simulateCmd.MarkFlagRequired("scenario")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sc, err := sim.LoadScenario(simulateScenario)
	if err != nil {
		return err
	}

	j, err := cfg.OpenJournal()
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	collector := metrics.New(cfg.Ledger.TokenDecimals)
	r, err := sim.NewRunner(cfg, sc, sim.Options{
		Journal:  j,
		Observer: collector,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name := sc.Name
	if name == "" {
		name = simulateScenario
	}
	fmt.Printf("Running scenario %s (%d steps)\n\n", name, len(sc.Steps))

	_, runErr := r.Run(ctx, sc, os.Stdout)

	dec := cfg.Ledger.TokenDecimals
	t := r.Coordinator.Totals()
	fmt.Println()
	fmt.Printf("  Pool balance:      %s\n", amount.Format(t.PoolBalance, dec))
	fmt.Printf("  Pending reward:    %s\n", amount.Format(t.TotalPendingReward, dec))
	fmt.Printf("  Total staked:      %s\n", amount.Format(t.TotalStaked, dec))
	fmt.Printf("  Historical staked: %s\n", amount.Format(t.HistoricalStaked, dec))
	fmt.Printf("  Open positions:    %d\n", t.OpenPositions)

	if err := r.Coordinator.CheckInvariants(); err != nil {
		log.Error().Err(err).Msg("ledger invariants violated")
		return err
	}

	if simulateMetrics {
		mfs, err := collector.Registry().Gather()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		fmt.Println()
		enc := expfmt.NewEncoder(os.Stdout, expfmt.FmtText)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				return fmt.Errorf("encode metrics: %w", err)
			}
		}
	}

	if simulateMetricsAddr != "" {
		ln, err := net.Listen("tcp", simulateMetricsAddr)
		if err != nil {
			return fmt.Errorf("listen for metrics: %w", err)
		}
		fmt.Printf("\nServing metrics on http://%s/metrics (Ctrl-C to stop)\n", ln.Addr())
		log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
		if err := serveMetrics(ctx, ln, collector.Handler()); err != nil {
			return fmt.Errorf("serve metrics: %w", err)
		}
	}
	return runErr
}

// serveMetrics serves h at /metrics on ln until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/harness"
	"github.com/ManuGH/encbench/internal/log"
	"github.com/ManuGH/encbench/internal/stats/store"
	"github.com/ManuGH/encbench/internal/telemetry"
	"github.com/ManuGH/encbench/internal/version"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	metricsAddr string
	outputDir   string
	resultsDB   string
	only        []string
}

func newRunCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Run the tests of a suite",
		Long: `Runs every test of the suite in order and writes one JSON report per
test into the output directory. A failing test does not stop the suite;
the command exits non-zero if any test failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, args[0], o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.StringVar(&o.outputDir, "output-dir", "", "override the suite's output directory")
	f.StringVar(&o.resultsDB, "results-db", "", "store reports in this SQLite database")
	f.StringSliceVar(&o.only, "test", nil, "run only these test ids (repeatable)")
	return cmd
}

func runSuite(cmd *cobra.Command, path string, o runOptions) error {
	ctx := cmd.Context()
	suite, err := config.NewLoader(path).Load()
	if err != nil {
		return err
	}
	if o.outputDir != "" {
		suite.OutputDir = o.outputDir
	}
	if o.resultsDB != "" {
		suite.ResultsDB = o.resultsDB
	}
	if suite.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		log.Reconfigure(log.Config{
			Level:   suite.LogLevel,
			Output:  cmd.ErrOrStderr(),
			Service: serviceName,
			Version: version.Version,
		})
	}
	logger := log.WithComponent("cli")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        suite.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		ExporterType:   suite.Telemetry.Exporter,
		Endpoint:       suite.Telemetry.Endpoint,
		SamplingRate:   suite.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.shutdown_failed").Msg("telemetry shutdown failed")
		}
	}()

	var db *store.Store
	if suite.ResultsDB != "" {
		db, err = store.Open(suite.ResultsDB)
		if err != nil {
			return fmt.Errorf("open results db: %w", err)
		}
		defer func() { _ = db.Close() }()
	}

	h := harness.New(suite, harness.Options{
		Version: version.Version,
		Store:   db,
		Only:    o.only,
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if o.metricsAddr != "" {
		srv := &http.Server{
			Addr:              o.metricsAddr,
			Handler:           newMetricsRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().
				Str(log.FieldEvent, "metrics.listening").
				Str("addr", o.metricsAddr).
				Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	var sum harness.Summary
	g.Go(func() error {
		defer cancel()
		var err error
		sum, err = h.Run(runCtx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), sum)
	if n := sum.Failed(); n > 0 {
		return fmt.Errorf("%d of %d tests failed", n, len(sum.Outcomes))
	}
	return nil
}

func printSummary(w io.Writer, sum harness.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TEST\tMODE\tSUBMITTED\tENCODED\tSKIPPED\tFORCED\tRESULT")
	for _, o := range sum.Outcomes {
		res := o.ReportPath
		if o.Err != nil {
			res = "error: " + o.Err.Error()
		}
		forced := o.Result.Forced
		if forced == "" {
			forced = "-"
		}
		c := o.Result.Counters
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			o.TestID, o.Result.Mode, c.Submitted, c.Encoded, c.Skipped, forced, res)
	}
	_ = tw.Flush()
}

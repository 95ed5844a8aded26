// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/encbench/internal/config"
	"github.com/ManuGH/encbench/internal/persistence/sqlite"
	"github.com/ManuGH/encbench/internal/stats/store"
)

func newResultsCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
		check  bool
	)
	cmd := &cobra.Command{
		Use:   "results [run-id]",
		Short: "Show stored benchmark runs",
		Long: `Lists the newest runs of the results database. Given a run id, prints
the encoded size of every frame of that run instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = config.ParseString(config.EnvResultsDB, "")
			}
			if dbPath == "" {
				return errors.New("no results database given (--db or " + config.EnvResultsDB + ")")
			}
			if check {
				issues, err := sqlite.VerifyIntegrity(dbPath, true)
				if err != nil {
					return err
				}
				if len(issues) > 0 {
					return fmt.Errorf("results db %s is corrupt: %s", dbPath, strings.Join(issues, "; "))
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			db, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open results db: %w", err)
			}
			defer func() { _ = db.Close() }()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				sizes, err := db.FrameSizes(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for i, s := range sizes {
					_, _ = fmt.Fprintf(out, "%d\t%d\n", i, s)
				}
				return nil
			}

			runs, err := db.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTEST\tCODEC\tFRAMES\tBITRATE\tPROCTIME\tCREATED\tERROR")
			for _, r := range runs {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
					r.ID, r.TestID, r.Codec, r.Frames, r.MeanBitrate,
					r.ProcTime.Round(time.Millisecond), r.CreatedAt.Format(time.RFC3339), r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "results database path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	cmd.Flags().BoolVar(&check, "check", false, "run a full integrity check instead of listing")
	return cmd
}

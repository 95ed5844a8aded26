// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuGH/encbench/internal/codec"
)

func newListCmd() *cobra.Command {
	var encodersOnly, decodersOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the available codecs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if encodersOnly && decodersOnly {
				return errors.New("--encoders and --decoders are mutually exclusive")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tMIME\tTYPE\tHW\tMODES")
			for _, info := range codec.Default.List() {
				if (encodersOnly && !info.Encoder) || (decodersOnly && info.Encoder) {
					continue
				}
				kind := "decoder"
				if info.Encoder {
					kind = "encoder"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", info.Name, info.Mime, kind, info.Hardware, modes(info))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&encodersOnly, "encoders", false, "only list encoders")
	cmd.Flags().BoolVar(&decodersOnly, "decoders", false, "only list decoders")
	return cmd
}

func modes(info codec.Info) string {
	var m []string
	if info.Sync {
		m = append(m, "sync")
	}
	if info.Async {
		m = append(m, "async")
	}
	return strings.Join(m, ",")
}

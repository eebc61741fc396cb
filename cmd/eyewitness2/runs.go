package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/store"
	"pkt.systems/pslog"
)

func newRunsCmd() *cobra.Command {
	var cfgPath string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent scan runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			history, err := store.OpenHistory(cfg.StateDir, logger)
			if err != nil {
				return err
			}
			defer func() { _ = history.Close() }()

			runs, err := history.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-20s  %8s  %7s  %s\n", "RUN", "STARTED", "TARGETS", "ERRORS", "OUTPUT")
			for _, run := range runs {
				fmt.Fprintf(out, "%-36s  %-20s  %8d  %7d  %s\n",
					run.ID,
					run.StartedAt.Local().Format(time.DateTime),
					run.Targets,
					run.Errors,
					run.OutputDir,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/report"
	"pkt.systems/eyewitness2/internal/store"
	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

func newReportCmd() *cobra.Command {
	var cfgPath string
	var runDir string
	var openDashboard bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Re-render HTML reports for a stored scan run",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			fs, err := store.NewFS(cfg.OutputRoot, logger)
			if err != nil {
				return err
			}
			dir := runDir
			if dir == "" {
				dir, err = latestRunDir(cmd, cfg, fs, logger)
				if err != nil {
					return err
				}
			}
			results, err := fs.LoadRun(dir)
			if err != nil {
				return err
			}
			indexPath, err := report.Generate(fs, dir, results, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dashboard: %s\n", indexPath)
			if openDashboard {
				openInBrowser(cmd.Context(), indexPath, logger)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&runDir, "run", "", "run directory (default: latest run)")
	cmd.Flags().BoolVar(&openDashboard, "open", false, "open the dashboard in a browser")
	return cmd
}

// latestRunDir resolves the most recent run, preferring the history index and
// falling back to directory naming when the index is unavailable.
func latestRunDir(cmd *cobra.Command, cfg appconfig.Config, fs *store.FS, logger pslog.Logger) (string, error) {
	history, err := store.OpenHistory(cfg.StateDir, logger)
	if err == nil {
		defer func() { _ = history.Close() }()
		summary, err := history.LatestRun(cmd.Context())
		if err == nil {
			return summary.OutputDir, nil
		}
		if !errors.Is(err, schema.ErrRunNotFound) {
			return "", err
		}
	}
	return fs.LatestRunDir()
}

package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/browser"
	"pkt.systems/eyewitness2/internal/signature"
	"pkt.systems/eyewitness2/internal/store"
	"pkt.systems/pslog"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var skipBrowser bool
	var skipRuntime bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run eyewitness2 diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)
			logger.Info("doctor config ok", "runtime", cfg.Runner.Runtime, "image", cfg.Runner.Image)

			db, err := signature.Resolve(cfg.DataDir, logger)
			if err != nil {
				return err
			}
			logger.Info("doctor signatures ok", "signatures", len(db.Signatures), "categories", len(db.Categories))

			history, err := store.OpenHistory(cfg.StateDir, logger)
			if err != nil {
				return err
			}
			if err := history.Close(); err != nil {
				return err
			}
			logger.Info("doctor history ok", "state_dir", cfg.StateDir)

			if !skipRuntime {
				rt, err := selectRuntime(ctx, cfg)
				if err != nil {
					return err
				}
				_ = rt.Close()
				logger.Info("doctor runtime ok", "runtime", cfg.Runner.Runtime)
			}

			if !skipBrowser {
				engine, err := browser.New(ctx, browser.Options{
					UserAgent:    cfg.Scan.UserAgent,
					WindowWidth:  cfg.Scan.WindowWidth,
					WindowHeight: cfg.Scan.WindowHeight,
					Timeout:      time.Duration(cfg.Scan.TimeoutSeconds) * time.Second,
				}, logger)
				if err != nil {
					return err
				}
				defer engine.Close()
				product, err := engine.Probe(ctx)
				if err != nil {
					return err
				}
				logger.Info("doctor browser ok", "product", product)
			}

			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&skipBrowser, "skip-browser", false, "skip the headless browser check")
	cmd.Flags().BoolVar(&skipRuntime, "skip-runtime", false, "skip the container runtime check")
	return cmd
}

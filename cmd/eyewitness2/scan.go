package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/browser"
	"pkt.systems/eyewitness2/internal/eventbus"
	"pkt.systems/eyewitness2/internal/logx"
	"pkt.systems/eyewitness2/internal/report"
	"pkt.systems/eyewitness2/internal/scan"
	"pkt.systems/eyewitness2/internal/signature"
	"pkt.systems/eyewitness2/internal/store"
	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

func newScanCmd() *cobra.Command {
	var cfgPath string
	var urls []string
	var urlFile string
	var outputRoot string
	var concurrency int
	var timeoutSeconds int
	var dataDir string
	var openDashboard bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Capture and analyze web targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if outputRoot != "" {
				cfg.OutputRoot = outputRoot
			}
			if concurrency > 0 {
				cfg.Scan.Concurrency = concurrency
			}
			if timeoutSeconds > 0 {
				cfg.Scan.TimeoutSeconds = timeoutSeconds
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if cfg.DataDir == "" {
				cfg.DataDir = os.Getenv("EYEWITNESS2_DATA_DIR")
			}

			stamp := time.Now().Format(store.TimestampLayout)
			ctx, logger, closeLog, err := scanLogger(cmd.Context(), cfg.LogDir, stamp)
			if err != nil {
				return err
			}
			defer closeLog()

			targets, err := scan.CollectTargets(urls, urlFile, pipedStdin(cmd.InOrStdin()))
			if err != nil {
				return err
			}

			signatures, err := signature.Resolve(cfg.DataDir, logger)
			if err != nil {
				return err
			}
			fs, err := store.NewFS(cfg.OutputRoot, logger)
			if err != nil {
				return err
			}
			history, err := store.OpenHistory(cfg.StateDir, logger)
			if err != nil {
				// The on-disk run is the source of truth; scanning proceeds
				// without the history index.
				logger.Warn("history unavailable", "err", err)
				history = nil
			} else {
				defer func() { _ = history.Close() }()
			}

			engine, err := browser.New(ctx, browser.Options{
				UserAgent:    cfg.Scan.UserAgent,
				WindowWidth:  cfg.Scan.WindowWidth,
				WindowHeight: cfg.Scan.WindowHeight,
				Timeout:      time.Duration(cfg.Scan.TimeoutSeconds) * time.Second,
				Settle:       time.Duration(cfg.Scan.SettleMillis) * time.Millisecond,
			}, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			runID := schema.RunID(uuid.NewString())
			bus := eventbus.New(logger)
			events, cancelEvents := bus.Subscribe(runID)
			progressDone := make(chan struct{})
			go func() {
				defer close(progressDone)
				printProgress(cmd.OutOrStdout(), len(targets), events)
			}()

			pipeline := scan.New(engine, signatures, fs, history, bus, scan.Options{
				Concurrency: cfg.Scan.Concurrency,
			})
			result, err := pipeline.Run(logx.ContextWithRunLogger(ctx, logger, runID), runID, stamp, targets)
			cancelEvents()
			<-progressDone
			if err != nil {
				return err
			}

			indexPath, err := report.Generate(fs, result.RunDir, result.Results, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dashboard: %s\n", indexPath)
			if openDashboard {
				openInBrowser(ctx, indexPath, logger)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "target URL (repeatable)")
	cmd.Flags().StringVar(&urlFile, "url-file", "", "file with one target URL per line")
	cmd.Flags().StringVarP(&outputRoot, "output", "o", "", "output root directory (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (default from config)")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "per-target timeout in seconds (default from config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory with signatures.txt and categories.txt")
	cmd.Flags().BoolVar(&openDashboard, "open", false, "open the dashboard in a browser when the scan completes")
	return cmd
}

// scanLogger tees console logging into the per-run log file
// logs/eyewitness2_<stamp>.log.
func scanLogger(ctx context.Context, logDir, stamp string) (context.Context, pslog.Logger, func(), error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return ctx, nil, nil, err
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("eyewitness2_%s.log", stamp))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ctx, nil, nil, err
	}
	logger := pslog.NewWithOptions(io.MultiWriter(os.Stderr, logFile), pslog.Options{
		Mode:    pslog.ModeConsole,
		NoColor: true,
	})
	logger.Debug("run log opened", "path", logPath)
	return pslog.ContextWithLogger(ctx, logger), logger, func() { _ = logFile.Close() }, nil
}

// pipedStdin returns the reader only when stdin is not a terminal, so an
// interactive invocation without targets errors instead of blocking.
func pipedStdin(in io.Reader) io.Reader {
	file, ok := in.(*os.File)
	if !ok {
		return in
	}
	info, err := file.Stat()
	if err != nil {
		return nil
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	return file
}

func printProgress(w io.Writer, total int, events <-chan schema.ScanEvent) {
	for event := range events {
		switch event.Type {
		case schema.ScanEventTargetOK:
			fmt.Fprintf(w, "[%d/%d] %s %d %s\n", event.Index+1, total, event.URL, event.Status, event.Category)
		case schema.ScanEventTargetFailed:
			fmt.Fprintf(w, "[%d/%d] %s FAILED: %s\n", event.Index+1, total, event.URL, event.Error)
		}
	}
}

func openInBrowser(ctx context.Context, path string, logger pslog.Logger) {
	for _, opener := range []string{"xdg-open", "open"} {
		if _, err := exec.LookPath(opener); err != nil {
			continue
		}
		if err := exec.CommandContext(ctx, opener, path).Start(); err == nil {
			return
		}
	}
	logger.Debug("no browser opener available", "path", path)
}

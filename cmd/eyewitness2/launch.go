package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/moby/term"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/dockhand"
	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

const (
	containerLogsDir    = "/app/logs"
	containerResultsDir = "/app/results"
)

func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch [args...]",
		Short: "Run the scanner image in a container, forwarding all arguments",
		// Everything after "launch" belongs to the containerized scanner; no
		// flag is interpreted here.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load("")
			if err != nil {
				return err
			}

			logsDir, resultsDir, err := ensureLaunchDirs()
			if err != nil {
				return err
			}

			rt, err := selectRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := rt.EnsureImage(ctx, cfg.Runner.Image); err != nil {
				return err
			}

			stdinFd, isTerminal := term.GetFdInfo(os.Stdin)
			spec := newLaunchSpec(cfg.Runner.Image, args, logsDir, resultsDir, isTerminal)
			spec.Stdin = os.Stdin
			spec.Stdout = os.Stdout
			spec.Stderr = os.Stderr

			if isTerminal {
				state, err := term.SetRawTerminal(stdinFd)
				if err != nil {
					return fmt.Errorf("raw terminal: %w", err)
				}
				defer func() { _ = term.RestoreTerminal(stdinFd, state) }()

				resize := make(chan dockhand.TerminalSize, 1)
				spec.Resize = resize
				stopResize := forwardResize(stdinFd, resize)
				defer stopResize()
			}

			logger.Info("launch start", "image", cfg.Runner.Image, "args", len(args))
			code, err := rt.Run(ctx, spec)
			if err != nil {
				return err
			}
			if code != 0 {
				return &schema.ExitError{Code: code}
			}
			return nil
		},
	}
	return cmd
}

// newLaunchSpec builds the container run: host networking and both bind
// mounts are unconditional, and the forwarded arguments become the container
// command appended to the image's fixed entry point.
func newLaunchSpec(image string, args []string, logsDir, resultsDir string, tty bool) dockhand.RunSpec {
	return dockhand.RunSpec{
		Image:   image,
		Command: args,
		Mounts: []dockhand.Mount{
			{Source: logsDir, Target: containerLogsDir},
			{Source: resultsDir, Target: containerResultsDir},
		},
		HostNetwork: true,
		TTY:         tty,
		AutoRemove:  true,
	}
}

// ensureLaunchDirs creates ./logs and ./results relative to the invocation
// directory and returns their absolute paths for mounting.
func ensureLaunchDirs() (string, string, error) {
	logsDir, err := filepath.Abs("logs")
	if err != nil {
		return "", "", err
	}
	resultsDir, err := filepath.Abs("results")
	if err != nil {
		return "", "", err
	}
	for _, dir := range []string{logsDir, resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", err
		}
	}
	return logsDir, resultsDir, nil
}

// forwardResize sends the current window size immediately and again on every
// SIGWINCH. The returned stop function ends forwarding and closes the channel.
func forwardResize(fd uintptr, resize chan<- dockhand.TerminalSize) func() {
	send := func() {
		size, err := term.GetWinsize(fd)
		if err != nil || size == nil {
			return
		}
		select {
		case resize <- dockhand.TerminalSize{Width: size.Width, Height: size.Height}:
		default:
		}
	}
	send()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	done := make(chan struct{})
	go func() {
		defer close(resize)
		for {
			select {
			case <-done:
				return
			case <-winch:
				send()
			}
		}
	}()
	return func() {
		signal.Stop(winch)
		close(done)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/eyewitness2/schema"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		// launch propagates the container's exit status as our own.
		var exitErr *schema.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		pslog.Ctx(ctx).With("err", err).Error("eyewitness2 command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "eyewitness2",
		Short:         "Web reconnaissance scanner with a containerized launcher",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newRunsCmd())
	root.AddCommand(newLaunchCmd())
	root.AddCommand(newBuildCmd())
	root.AddCommand(newBootstrapCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newVersionCmd())

	return root
}

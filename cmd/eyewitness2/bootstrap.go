package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/eyewitness2/bootstrap"
	"pkt.systems/pslog"
)

func newBootstrapCmd() *cobra.Command {
	var outputDir string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Generate default config, signature data, and container build files",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			out := outputDir
			if out == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				out = filepath.Join(home, ".eyewitness2")
			}
			paths, err := bootstrap.Write(out, overwrite)
			if err != nil {
				return err
			}
			logger.Info("bootstrap wrote", "path", paths.ConfigPath, "name", "config.yaml")
			logger.Info("bootstrap wrote", "path", paths.SignaturesPath, "name", "signatures.txt")
			logger.Info("bootstrap wrote", "path", paths.CategoriesPath, "name", "categories.txt")
			logger.Info("bootstrap wrote", "path", paths.ContainerfilePath, "name", "Containerfile")
			logger.Info("bootstrap wrote", "path", paths.PackagesPath, "name", "packages.txt")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing files")
	return cmd
}

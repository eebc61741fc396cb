package main

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/eyewitness2/bootstrap"
	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/dockhand"
	containerdrt "pkt.systems/eyewitness2/internal/dockhand/containerd"
	"pkt.systems/eyewitness2/internal/signature"
	"pkt.systems/eyewitness2/internal/version"
	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

func newBuildCmd() *cobra.Command {
	var cfgPath string
	var binPath string
	var tag string
	var output string
	var baseImage string
	var namespace string
	var disableImport bool
	var noCache bool
	var pull bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the scanner container image",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, configPath, err := loadRequiredConfig(cfgPath)
			if err != nil {
				return err
			}
			resolvedBin, err := resolveScannerBinary(binPath, cfg.Runner.Binary)
			if err != nil {
				return err
			}
			if err := ensureStaticBinary(resolvedBin); err != nil {
				return err
			}
			// The manifest is resolved before any daemon is contacted so a
			// misconfigured packages_file fails the same way every time.
			packages, err := resolvePackagesManifest(cfg.Runner.PackagesFile)
			if err != nil {
				return err
			}
			tags, err := buildTags(cfg.Runner.Image, tag)
			if err != nil {
				return err
			}

			builder, runtimeKind, closeBuilder, err := selectBuilder(ctx, cfg)
			if err != nil {
				return err
			}
			if closeBuilder != nil {
				defer func() { _ = closeBuilder() }()
			}

			outputPath := ""
			if runtimeKind == "containerd" {
				outputPath, err = resolveOutputPath(configPath, output, "pktsystems-eyewitness2.oci.tar")
				if err != nil {
					return err
				}
			}

			contextDir, cleanup, err := prepareBuildContext(resolvedBin, packages, cfg.DataDir)
			if err != nil {
				return err
			}
			defer cleanup()

			containerfile, err := bootstrap.DefaultContainerfile()
			if err != nil {
				return err
			}
			spec := dockhand.BuildSpec{
				ContextDir:        contextDir,
				ContainerfileData: containerfile,
				Tags:              tags,
				NoCache:           noCache,
				Pull:              pull,
				Timeout:           buildTimeout(cfg),
				OutputPath:        outputPath,
			}
			if value := strings.TrimSpace(baseImage); value != "" {
				spec.BuildArgs = map[string]string{"BASE_IMAGE": value}
			}

			logger.Info("build start", "tags", tags, "runtime", runtimeKind)
			if _, err := runBuild(ctx, builder, spec, logger); err != nil {
				return err
			}
			if runtimeKind == "containerd" {
				return postBuildContainerd(ctx, cfg, namespace, disableImport, outputPath, tags)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&binPath, "bin", "", "path to eyewitness2 binary")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "image tag (default: version + latest)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "path to OCI tar export (default: <config dir>/containers/pktsystems-eyewitness2.oci.tar)")
	cmd.Flags().StringVar(&baseImage, "base-image", "", "override the base image build argument")
	cmd.Flags().StringVar(&namespace, "namespace", "", "override containerd namespace for import (containerd only)")
	cmd.Flags().BoolVar(&disableImport, "disable-import", false, "skip importing the built image into containerd (containerd only)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "build without layer cache")
	cmd.Flags().BoolVar(&pull, "pull", false, "always pull the base image")
	return cmd
}

func runBuild(ctx context.Context, builder dockhand.Builder, spec dockhand.BuildSpec, logger pslog.Logger) (dockhand.BuildResult, error) {
	if withEvents, ok := builder.(dockhand.BuilderWithEvents); ok {
		events := make(chan dockhand.BuildEvent, 256)
		done := make(chan struct{})
		go func() {
			defer close(done)
			logBuildEvents(ctx, logger, events)
		}()
		res, err := withEvents.BuildWithEvents(ctx, spec, events)
		close(events)
		<-done
		if err == nil {
			logger.Info("build complete", "images", res.ImageNames)
		}
		return res, err
	}
	res, err := builder.Build(ctx, spec)
	if err == nil {
		logger.Info("build complete", "images", res.ImageNames)
	}
	return res, err
}

func logBuildEvents(ctx context.Context, logger pslog.Logger, events <-chan dockhand.BuildEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case dockhand.BuildEventVertexStarted:
				logger.Info(buildEventMessage(ev, "build event"), "state", "started")
			case dockhand.BuildEventVertexCompleted:
				if ev.Error != "" {
					logger.Error(buildEventMessage(ev, "build event"), "vertex", ev.VertexID, "err", ev.Error)
				} else {
					logger.Info(buildEventMessage(ev, "build event"), "state", "completed")
				}
			case dockhand.BuildEventLog:
				line := strings.TrimSpace(ev.Message)
				if line == "" {
					line = buildEventMessage(ev, "build event")
				}
				logger.Info(line)
			case dockhand.BuildEventWarning:
				logger.Warn(buildEventMessage(ev, "build event"), "warning", ev.Message)
			default:
				logger.Info(buildEventMessage(ev, "build event"), "kind", ev.Kind, "msg", ev.Message)
			}
		}
	}
}

func buildEventMessage(ev dockhand.BuildEvent, fallback string) string {
	if strings.TrimSpace(ev.Name) != "" {
		return ev.Name
	}
	return fallback
}

func buildTimeout(cfg appconfig.Config) time.Duration {
	if cfg.Runner.BuildTimeout <= 0 {
		return 0
	}
	return time.Duration(cfg.Runner.BuildTimeout) * time.Minute
}

// postBuildContainerd imports the exported OCI tar into the containerd image
// store and verifies each tag is resolvable afterwards.
func postBuildContainerd(ctx context.Context, cfg appconfig.Config, namespaceOverride string, disableImport bool, outputPath string, tags []string) error {
	logger := pslog.Ctx(ctx)
	if disableImport {
		logger.Info("build import skipped", "path", outputPath)
		return nil
	}
	if strings.TrimSpace(outputPath) == "" {
		return errors.New("output path is required for import")
	}
	namespace := cfg.Runner.Containerd.Namespace
	if value := strings.TrimSpace(namespaceOverride); value != "" {
		namespace = value
	}
	runtime, err := containerdrt.New(ctx, containerdrt.Config{
		Address:     cfg.Runner.Containerd.Address,
		Namespace:   namespace,
		PullTimeout: time.Duration(cfg.Runner.PullTimeout) * time.Minute,
	})
	if err != nil {
		return err
	}
	defer func() { _ = runtime.Close() }()
	logger.Info("build import start", "path", outputPath, "namespace", namespace)
	if err := runtime.Import(ctx, outputPath, tags); err != nil {
		return err
	}
	for _, image := range tags {
		ok, err := runtime.ImageExists(ctx, image)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("image %q not found in containerd namespace %q; import failed or namespace mismatch", image, namespace)
		}
	}
	logger.Info("build import complete", "path", outputPath, "namespace", namespace)
	return nil
}

func loadRequiredConfig(path string) (appconfig.Config, string, error) {
	configPath, err := resolveConfigPath(path)
	if err != nil {
		return appconfig.Config{}, "", err
	}
	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return appconfig.Config{}, "", fmt.Errorf("config not found: %s; run eyewitness2 bootstrap", configPath)
		}
		return appconfig.Config{}, "", err
	}
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return appconfig.Config{}, "", err
	}
	return cfg, configPath, nil
}

func resolveConfigPath(path string) (string, error) {
	configPath := strings.TrimSpace(path)
	if configPath != "" {
		return configPath, nil
	}
	return appconfig.DefaultConfigPath()
}

func resolveOutputPath(configPath string, override string, filename string) (string, error) {
	output := strings.TrimSpace(override)
	if output == "" {
		output = filepath.Join(filepath.Dir(configPath), "containers", filename)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", err
	}
	return output, nil
}

// resolvePackagesManifest loads the configured apt manifest, or the embedded
// default when none is configured. A configured path that does not exist is a
// hard error.
func resolvePackagesManifest(configured string) ([]byte, error) {
	path := strings.TrimSpace(configured)
	if path == "" {
		return bootstrap.DefaultPackages()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", schema.ErrManifestMissing, path)
		}
		return nil, err
	}
	return data, nil
}

func buildTags(baseImage string, override string) ([]string, error) {
	if value := strings.TrimSpace(override); value != "" {
		return []string{value}, nil
	}
	base := stripImageTag(baseImage)
	if base == "" {
		return nil, errors.New("image name is required")
	}
	ver := version.Current()
	if strings.TrimSpace(ver) == "" {
		ver = "v0.0.0-unknown"
	}
	return []string{
		base + ":" + ver,
		base + ":latest",
	}, nil
}

func stripImageTag(image string) string {
	image = strings.TrimSpace(image)
	if image == "" {
		return ""
	}
	if at := strings.LastIndex(image, "@"); at != -1 {
		image = image[:at]
	}
	lastSlash := strings.LastIndex(image, "/")
	lastColon := strings.LastIndex(image, ":")
	if lastColon > lastSlash {
		return image[:lastColon]
	}
	return image
}

func resolveScannerBinary(explicit, configured string) (string, error) {
	if value := strings.TrimSpace(explicit); value != "" {
		return ensureFile(value)
	}
	if value := strings.TrimSpace(configured); value != "" {
		return ensureFile(value)
	}
	if value := strings.TrimSpace(os.Getenv("EYEWITNESS2_BIN")); value != "" {
		return ensureFile(value)
	}
	if exe, err := os.Executable(); err == nil && strings.TrimSpace(exe) != "" {
		return ensureFile(exe)
	}
	if path, err := exec.LookPath("eyewitness2"); err == nil && strings.TrimSpace(path) != "" {
		return ensureFile(path)
	}
	return "", errors.New("eyewitness2 binary not found; use --bin or set EYEWITNESS2_BIN")
}

func ensureFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("path is a directory: %s", path)
	}
	return path, nil
}

// prepareBuildContext stages the build context: the scanner binary under bin/,
// the apt manifest at the root, and the signature data under data/.
func prepareBuildContext(binPath string, packages []byte, dataDir string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "eyewitness2-build-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	if err := copyFile(binPath, filepath.Join(dir, "bin", "eyewitness2"), 0o755); err != nil {
		cleanup()
		return "", nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "packages.txt"), packages, 0o644); err != nil {
		cleanup()
		return "", nil, err
	}
	signatures, categories := contextDataFiles(dataDir)
	contextDataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(contextDataDir, 0o755); err != nil {
		cleanup()
		return "", nil, err
	}
	if err := os.WriteFile(filepath.Join(contextDataDir, "signatures.txt"), signatures, 0o644); err != nil {
		cleanup()
		return "", nil, err
	}
	if err := os.WriteFile(filepath.Join(contextDataDir, "categories.txt"), categories, 0o644); err != nil {
		cleanup()
		return "", nil, err
	}
	return dir, cleanup, nil
}

// contextDataFiles prefers customized signature data from the data dir and
// falls back to the embedded defaults per file.
func contextDataFiles(dataDir string) ([]byte, []byte) {
	signatures := signature.DefaultSignatures()
	categories := signature.DefaultCategories()
	if strings.TrimSpace(dataDir) == "" {
		return signatures, categories
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "signatures.txt")); err == nil {
		signatures = data
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "categories.txt")); err == nil {
		categories = data
	}
	return signatures, categories
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func ensureStaticBinary(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	ef, err := elf.NewFile(file)
	if err != nil {
		return fmt.Errorf("eyewitness2 binary is not a valid ELF file: %w", err)
	}
	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_INTERP {
			return errors.New("eyewitness2 binary is dynamically linked; build with CGO_ENABLED=0 so it runs in the image")
		}
	}
	return nil
}

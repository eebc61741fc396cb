// Package containerd implements dockhand.Runtime and dockhand.Importer
// against a containerd daemon.
package containerd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	transferimage "github.com/containerd/containerd/v2/core/transfer/image"
	"github.com/containerd/containerd/v2/core/transfer/registry"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/namespaces"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/opencontainers/runtime-spec/specs-go"

	"pkt.systems/eyewitness2/internal/dockhand"
	"pkt.systems/pslog"
)

// Config configures the containerd runtime.
type Config struct {
	Address     string
	Namespace   string
	PullTimeout time.Duration
}

// Runtime implements dockhand.Runtime using containerd.
type Runtime struct {
	client      *containerd.Client
	namespace   string
	pullTimeout time.Duration
}

// New constructs a containerd runtime, trying fallback socket paths if needed.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	log := pslog.Ctx(ctx).With("runtime", "containerd")
	addresses := candidateAddresses(cfg.Address, "containerd")
	var lastErr error
	for _, addr := range addresses {
		log.Debug("containerd connect attempt", "address", addr)
		client, err := containerd.New(addr)
		if err == nil {
			namespace := cfg.Namespace
			if namespace == "" {
				namespace = "eyewitness2"
			}
			timeout := cfg.PullTimeout
			if timeout == 0 {
				timeout = 5 * time.Minute
			}
			log.Info("containerd runtime ready", "address", addr, "namespace", namespace)
			return &Runtime{
				client:      client,
				namespace:   namespace,
				pullTimeout: timeout,
			}, nil
		}
		log.Warn("containerd connect failed", "address", addr, "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("containerd address not configured")
	}
	log.Warn("containerd runtime unavailable", "err", lastErr)
	return nil, lastErr
}

// Close releases the containerd client.
func (r *Runtime) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// ImageExists reports whether an image exists locally without pulling.
func (r *Runtime) ImageExists(ctx context.Context, image string) (bool, error) {
	if strings.TrimSpace(image) == "" {
		return false, errors.New("image is required")
	}
	log := r.logger(ctx).With("image", image)
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	if _, err := r.client.GetImage(ctx, image); err == nil {
		log.Debug("containerd image present")
		return true, nil
	} else if errdefs.IsNotFound(err) {
		log.Debug("containerd image missing")
		return false, nil
	} else {
		log.Warn("containerd image check failed", "err", err)
		return false, err
	}
}

// Import loads an OCI tar image into the containerd image store.
func (r *Runtime) Import(ctx context.Context, tarPath string, tags []string) error {
	if strings.TrimSpace(tarPath) == "" {
		return errors.New("tar path is required")
	}
	log := r.logger(ctx).With("tar", tarPath)
	log.Info("containerd import start", "tags", len(tags))
	file, err := os.Open(tarPath)
	if err != nil {
		log.Warn("containerd import failed", "err", err)
		return err
	}
	defer func() { _ = file.Close() }()

	ctx = namespaces.WithNamespace(ctx, r.namespace)
	imported, err := r.client.Import(ctx, file)
	if err != nil {
		log.Warn("containerd import failed", "err", err)
		return err
	}
	if len(tags) == 0 {
		log.Info("containerd import ok", "images", len(imported))
		return nil
	}
	if len(imported) == 0 {
		log.Warn("containerd import failed", "err", "import did not return any images")
		return errors.New("import did not return any images")
	}
	existing := map[string]struct{}{}
	for _, img := range imported {
		if strings.TrimSpace(img.Name) == "" {
			continue
		}
		existing[img.Name] = struct{}{}
	}
	baseTarget := imported[0].Target
	if first := strings.TrimSpace(tags[0]); first != "" {
		if img, err := r.client.GetImage(ctx, first); err == nil {
			baseTarget = img.Target()
		}
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := existing[tag]; ok {
			continue
		}
		if _, err := r.client.GetImage(ctx, tag); err == nil {
			continue
		} else if !errdefs.IsNotFound(err) {
			return err
		}
		if err := r.tagImage(ctx, tag, baseTarget); err != nil {
			log.Warn("containerd import tag failed", "err", err, "tag", tag)
			return err
		}
	}
	log.Info("containerd import ok", "images", len(imported))
	return nil
}

func (r *Runtime) tagImage(ctx context.Context, name string, target ocispec.Descriptor) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	if _, err := r.client.GetImage(ctx, name); err == nil {
		_, err = r.client.ImageService().Update(ctx, images.Image{Name: name, Target: target}, "target")
		return err
	} else if !errdefs.IsNotFound(err) {
		return err
	}
	_, err := r.client.ImageService().Create(ctx, images.Image{Name: name, Target: target})
	return err
}

// EnsureImage pulls the image if it is not available.
func (r *Runtime) EnsureImage(ctx context.Context, image string) error {
	log := r.logger(ctx).With("image", image)
	log.Info("containerd ensure image start")
	_, err := r.ensureImage(ctx, image, "")
	if err != nil {
		log.Warn("containerd ensure image failed", "err", err)
		return err
	}
	log.Info("containerd ensure image ok")
	return nil
}

func (r *Runtime) ensureImage(ctx context.Context, image, snapshotter string) (containerd.Image, error) {
	if strings.TrimSpace(image) == "" {
		return nil, errors.New("image is required")
	}
	log := r.logger(ctx).With("image", image)
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	rootless := os.Geteuid() != 0
	img, err := r.client.GetImage(ctx, image)
	if err == nil {
		log.Debug("containerd image present")
		if snapshotter != "" && !rootless {
			if err := img.Unpack(ctx, snapshotter); err != nil && !errdefs.IsAlreadyExists(err) {
				log.Warn("containerd image unpack failed", "err", err)
				return nil, err
			}
		}
		return img, nil
	}
	if !errdefs.IsNotFound(err) {
		log.Warn("containerd image lookup failed", "err", err)
		return nil, err
	}
	pullCtx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()
	log.Info("containerd image pull start", "rootless", rootless)
	if pulled, err := r.pullWithTransfer(pullCtx, image, snapshotter, !rootless); err == nil {
		log.Info("containerd image pull ok", "method", "transfer")
		return pulled, nil
	} else if rootless {
		log.Warn("containerd transfer pull failed", "err", err)
		return nil, fmt.Errorf("transfer pull failed: %w", err)
	}
	opts := []containerd.RemoteOpt{containerd.WithPullUnpack}
	if snapshotter != "" {
		opts = append(opts, containerd.WithPullSnapshotter(snapshotter))
	}
	img, err = r.client.Pull(pullCtx, image, opts...)
	if err != nil {
		log.Warn("containerd image pull failed", "err", err)
		return nil, err
	}
	log.Info("containerd image pull ok", "method", "pull")
	return img, nil
}

func (r *Runtime) pullWithTransfer(ctx context.Context, image, snapshotter string, unpack bool) (containerd.Image, error) {
	storeOpts := []transferimage.StoreOpt{}
	if unpack {
		platform := platforms.DefaultSpec()
		storeOpts = append(storeOpts, transferimage.WithUnpack(platform, snapshotter))
	}
	store := transferimage.NewStore(image, storeOpts...)
	reg, err := registry.NewOCIRegistry(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := r.client.Transfer(ctx, reg, store); err != nil {
		return nil, err
	}
	return r.client.GetImage(ctx, image)
}

// Run creates the container, starts its task with attached streams, and
// blocks until it exits. The container and its snapshot are always deleted
// afterwards; containerd has no daemon-side auto-remove, so spec.AutoRemove
// is effectively always on here.
func (r *Runtime) Run(ctx context.Context, spec dockhand.RunSpec) (int, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return 0, errors.New("container image is required")
	}
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("eyewitness2-%d", time.Now().UnixNano())
	}
	log := r.logger(ctx).With("container", name, "image", spec.Image)
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.ensureImage(ctx, spec.Image, "")
	if err != nil {
		log.Warn("containerd ensure image failed", "err", err)
		return 0, err
	}

	specOpts := r.specOptions(image, spec)
	container, err := r.client.NewContainer(ctx, name,
		containerd.WithImage(image),
		containerd.WithContainerLabels(spec.Labels),
		containerd.WithNewSnapshot(name+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		log.Warn("containerd create container failed", "err", err)
		return 0, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(namespaces.WithNamespace(context.Background(), r.namespace), 30*time.Second)
		defer cancel()
		_ = container.Delete(cleanupCtx, containerd.WithSnapshotCleanup)
	}()
	log.Debug("containerd container created", "id", container.ID())

	stdout := spec.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := spec.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	streams := []cio.Opt{cio.WithStreams(spec.Stdin, stdout, stderr)}
	if spec.TTY {
		streams = append(streams, cio.WithTerminal)
	}
	task, err := container.NewTask(ctx, cio.NewCreator(streams...))
	if err != nil {
		log.Warn("containerd task create failed", "err", err)
		return 0, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(namespaces.WithNamespace(context.Background(), r.namespace), 30*time.Second)
		defer cancel()
		_, _ = task.Delete(cleanupCtx, containerd.WithProcessKill)
	}()

	// Grab the wait channel before Start so a fast exit is not missed.
	waitCh, err := task.Wait(ctx)
	if err != nil {
		log.Warn("containerd task wait failed", "err", err)
		return 0, err
	}
	if err := task.Start(ctx); err != nil {
		log.Warn("containerd task start failed", "err", err)
		return 0, err
	}
	log.Debug("containerd task started", "id", task.ID())

	if spec.Resize != nil {
		go func() {
			for size := range spec.Resize {
				_ = task.Resize(ctx, uint32(size.Width), uint32(size.Height))
			}
		}()
	}

	select {
	case status := <-waitCh:
		code, _, err := status.Result()
		if err != nil {
			log.Warn("containerd task result failed", "err", err)
			return 0, err
		}
		log.Debug("containerd task exited", "exit_code", int(code))
		return int(code), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Runtime) specOptions(image containerd.Image, spec dockhand.RunSpec) []oci.SpecOpts {
	opts := []oci.SpecOpts{}
	if len(spec.Command) > 0 {
		// Keeps the image ENTRYPOINT and appends the forwarded arguments,
		// mirroring docker's CMD semantics.
		opts = append(opts, oci.WithImageConfigArgs(image, spec.Command))
	} else {
		opts = append(opts, oci.WithImageConfig(image))
	}
	if env := flattenEnv(spec.Env); len(env) > 0 {
		opts = append(opts, oci.WithEnv(env))
	}
	if spec.WorkingDir != "" {
		opts = append(opts, oci.WithProcessCwd(spec.WorkingDir))
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(mapMounts(spec.Mounts)))
	}
	if spec.HostNetwork {
		opts = append(opts, oci.WithHostNamespace(specs.NetworkNamespace))
	}
	if spec.TTY {
		opts = append(opts, oci.WithTTY)
	}
	return opts
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func mapMounts(mounts []dockhand.Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, mount := range mounts {
		opts := []string{"rbind"}
		if mount.ReadOnly {
			opts = append(opts, "ro")
		} else {
			opts = append(opts, "rw")
		}
		out = append(out, specs.Mount{
			Type:        "bind",
			Source:      mount.Source,
			Destination: mount.Target,
			Options:     opts,
		})
	}
	return out
}

func candidateAddresses(primary string, name string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		addr = normalizeAddress(addr)
		if addr == "" {
			return
		}
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	add(primary)

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		add(filepath.Join(runtimeDir, name, name+".sock"))
	}
	userRunDir := filepath.Join("/run", "user", fmt.Sprintf("%d", os.Getuid()))
	if userRunDir != runtimeDir {
		add(filepath.Join(userRunDir, name, name+".sock"))
	}
	add(filepath.Join("/run", name, name+".sock"))
	return out
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "unix://") {
		addr = strings.TrimPrefix(addr, "unix://")
	}
	if strings.HasPrefix(addr, "unix:") {
		addr = strings.TrimPrefix(addr, "unix:")
	}
	return addr
}

func (r *Runtime) logger(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx).With("runtime", "containerd")
}

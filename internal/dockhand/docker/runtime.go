// Package docker implements dockhand.Runtime and dockhand.Builder against a
// docker daemon.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"pkt.systems/eyewitness2/internal/dockhand"
	"pkt.systems/pslog"
)

// Config configures the docker runtime.
type Config struct {
	// Address overrides DOCKER_HOST and the socket fallbacks when set.
	Address     string
	PullTimeout time.Duration
}

// Runtime implements dockhand.Runtime using the docker SDK.
type Runtime struct {
	client      *client.Client
	pullTimeout time.Duration
}

// New connects to the docker daemon, trying the configured address, the
// environment, and the usual socket locations, probing each with Ping.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	log := pslog.Ctx(ctx).With("runtime", "docker")
	timeout := cfg.PullTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	cli, err := connect(ctx, cfg.Address, log)
	if err != nil {
		log.Warn("docker runtime unavailable", "err", err)
		return nil, err
	}
	log.Info("docker runtime ready")
	return &Runtime{client: cli, pullTimeout: timeout}, nil
}

func connect(ctx context.Context, address string, log pslog.Logger) (*client.Client, error) {
	var lastErr error
	for _, opts := range clientOptions(address) {
		cli, err := client.NewClientWithOpts(append(opts, client.WithAPIVersionNegotiation())...)
		if err != nil {
			lastErr = err
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err = cli.Ping(pingCtx)
		cancel()
		if err == nil {
			return cli, nil
		}
		log.Debug("docker ping failed", "err", err)
		_ = cli.Close()
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("docker daemon unreachable")
	}
	return nil, lastErr
}

func clientOptions(address string) [][]client.Opt {
	var out [][]client.Opt
	if strings.TrimSpace(address) != "" {
		out = append(out, []client.Opt{client.WithHost(address)})
		return out
	}
	out = append(out, []client.Opt{client.FromEnv})
	home, _ := os.UserHomeDir()
	candidates := []string{
		"unix:///var/run/docker.sock",
	}
	if home != "" {
		candidates = append(candidates,
			"unix://"+filepath.Join(home, ".docker", "run", "docker.sock"),
			"unix://"+filepath.Join(home, ".colima", "docker.sock"),
		)
	}
	for _, candidate := range candidates {
		out = append(out, []client.Opt{client.WithHost(candidate)})
	}
	return out
}

// Close releases the docker client.
func (r *Runtime) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// EnsureImage pulls the image when it is not present locally.
func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return errors.New("image is required")
	}
	log := r.logger(ctx).With("image", ref)
	if _, _, err := r.client.ImageInspectWithRaw(ctx, ref); err == nil {
		log.Debug("docker image present")
		return nil
	} else if !client.IsErrNotFound(err) {
		return err
	}
	pullCtx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()
	log.Info("docker image pull start")
	reader, err := r.client.ImagePull(pullCtx, ref, image.PullOptions{})
	if err != nil {
		log.Warn("docker image pull failed", "err", err)
		return err
	}
	defer func() { _ = reader.Close() }()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		log.Warn("docker image pull failed", "err", err)
		return err
	}
	log.Info("docker image pull ok")
	return nil
}

// Run creates, attaches, and starts the container, then blocks until it
// exits and returns the exit status. The image ENTRYPOINT is left alone;
// spec.Command becomes the container command appended to it.
func (r *Runtime) Run(ctx context.Context, spec dockhand.RunSpec) (int, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return 0, errors.New("container image is required")
	}
	log := r.logger(ctx).With("image", spec.Image)

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		WorkingDir:   spec.WorkingDir,
		Env:          flattenEnv(spec.Env),
		Labels:       spec.Labels,
		Tty:          spec.TTY,
		OpenStdin:    spec.Stdin != nil,
		StdinOnce:    spec.Stdin != nil,
		AttachStdin:  spec.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostConfig := &container.HostConfig{
		Mounts: mapMounts(spec.Mounts),
	}
	if spec.HostNetwork {
		hostConfig.NetworkMode = "host"
	}

	created, err := r.client.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		log.Warn("docker create failed", "err", err)
		return 0, err
	}
	id := created.ID
	log = log.With("id", shortID(id))
	if spec.AutoRemove {
		defer func() {
			removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = r.client.ContainerRemove(removeCtx, id, container.RemoveOptions{Force: true})
		}()
	}

	attach, err := r.client.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  spec.Stdin != nil,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		log.Warn("docker attach failed", "err", err)
		return 0, err
	}
	defer attach.Close()

	if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		log.Warn("docker start failed", "err", err)
		return 0, err
	}
	log.Debug("docker container started")

	if spec.Resize != nil {
		go func() {
			for size := range spec.Resize {
				_ = r.client.ContainerResize(ctx, id, container.ResizeOptions{
					Height: uint(size.Height),
					Width:  uint(size.Width),
				})
			}
		}()
	}
	if spec.Stdin != nil {
		go func() {
			_, _ = io.Copy(attach.Conn, spec.Stdin)
			_ = attach.CloseWrite()
		}()
	}

	stdout := spec.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := spec.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	streamDone := make(chan error, 1)
	go func() {
		var copyErr error
		if spec.TTY {
			_, copyErr = io.Copy(stdout, attach.Reader)
		} else {
			_, copyErr = stdcopy.StdCopy(stdout, stderr, attach.Reader)
		}
		streamDone <- copyErr
	}()

	waitCh, errCh := r.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		<-streamDone
		if status.Error != nil {
			return 0, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		log.Debug("docker container exited", "exit_code", status.StatusCode)
		return int(status.StatusCode), nil
	case err := <-errCh:
		log.Warn("docker wait failed", "err", err)
		return 0, err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
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

func mapMounts(mounts []dockhand.Mount) []mount.Mount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (r *Runtime) logger(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx).With("runtime", "docker")
}

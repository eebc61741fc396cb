package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"

	"pkt.systems/eyewitness2/internal/dockhand"
	"pkt.systems/pslog"
)

// Builder implements dockhand.Builder via the daemon's ImageBuild endpoint.
// The built image lands directly in the daemon's store; OutputPath export is
// not supported here (use the BuildKit builder for OCI tars).
type Builder struct {
	client clientAPI
}

type clientAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

// NewBuilder wraps an existing runtime connection.
func NewBuilder(runtime *Runtime) *Builder {
	return &Builder{client: runtime.client}
}

// Build builds an image from the context directory.
func (b *Builder) Build(ctx context.Context, spec dockhand.BuildSpec) (dockhand.BuildResult, error) {
	return b.build(ctx, spec, nil)
}

// BuildWithEvents builds an image and streams daemon progress as log events.
func (b *Builder) BuildWithEvents(ctx context.Context, spec dockhand.BuildSpec, events chan<- dockhand.BuildEvent) (dockhand.BuildResult, error) {
	return b.build(ctx, spec, events)
}

func (b *Builder) build(ctx context.Context, spec dockhand.BuildSpec, events chan<- dockhand.BuildEvent) (dockhand.BuildResult, error) {
	log := pslog.Ctx(ctx).With("backend", "docker")
	if len(spec.Tags) == 0 {
		return dockhand.BuildResult{}, errors.New("build tags are required")
	}
	if strings.TrimSpace(spec.ContextDir) == "" {
		return dockhand.BuildResult{}, errors.New("build context is required")
	}
	if strings.TrimSpace(spec.OutputPath) != "" {
		return dockhand.BuildResult{}, errors.New("docker builder cannot export OCI tars")
	}

	containerfile := "Containerfile"
	if len(spec.ContainerfileData) > 0 {
		// ImageBuild reads the Containerfile from inside the context tar, so
		// the embedded recipe is materialized into the prepared context dir.
		path := filepath.Join(spec.ContextDir, containerfile)
		if err := os.WriteFile(path, spec.ContainerfileData, 0o600); err != nil {
			return dockhand.BuildResult{}, err
		}
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = 20 * time.Minute
	}
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tar, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{})
	if err != nil {
		return dockhand.BuildResult{}, fmt.Errorf("tar build context: %w", err)
	}
	defer func() { _ = tar.Close() }()

	buildArgs := make(map[string]*string, len(spec.BuildArgs))
	for k, v := range spec.BuildArgs {
		value := v
		buildArgs[k] = &value
	}

	log.Info("docker build start", "tags", len(spec.Tags), "timeout_ms", timeout.Milliseconds())
	resp, err := b.client.ImageBuild(buildCtx, tar, types.ImageBuildOptions{
		Tags:       spec.Tags,
		Dockerfile: containerfile,
		BuildArgs:  buildArgs,
		NoCache:    spec.NoCache,
		PullParent: spec.Pull,
		Remove:     true,
	})
	if err != nil {
		log.Warn("docker build failed", "err", err)
		return dockhand.BuildResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := drainBuildOutput(buildCtx, resp.Body, events); err != nil {
		log.Warn("docker build failed", "err", err)
		return dockhand.BuildResult{}, err
	}
	log.Info("docker build ok", "tags", len(spec.Tags))
	return dockhand.BuildResult{ImageNames: spec.Tags}, nil
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func drainBuildOutput(ctx context.Context, body io.Reader, events chan<- dockhand.BuildEvent) error {
	decoder := json.NewDecoder(body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return errors.New(detail)
		}
		line := strings.TrimSpace(msg.Stream)
		if line == "" || events == nil {
			continue
		}
		event := dockhand.BuildEvent{
			Kind:      dockhand.BuildEventLog,
			Message:   line,
			Timestamp: time.Now(),
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case events <- event:
		default:
		}
	}
}

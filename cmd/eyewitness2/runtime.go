package main

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/eyewitness2/internal/appconfig"
	"pkt.systems/eyewitness2/internal/dockhand"
	"pkt.systems/eyewitness2/internal/dockhand/buildkit"
	containerdrt "pkt.systems/eyewitness2/internal/dockhand/containerd"
	dockerrt "pkt.systems/eyewitness2/internal/dockhand/docker"
	"pkt.systems/eyewitness2/schema"
)

func selectRuntime(ctx context.Context, cfg appconfig.Config) (dockhand.Runtime, error) {
	switch cfg.Runner.Runtime {
	case "docker":
		rt, err := dockerrt.New(ctx, dockerrt.Config{
			Address:     cfg.Runner.Docker.Address,
			PullTimeout: time.Duration(cfg.Runner.PullTimeout) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("docker connection failed: %w", err)
		}
		return rt, nil
	case "containerd":
		rt, err := containerdrt.New(ctx, containerdrt.Config{
			Address:     cfg.Runner.Containerd.Address,
			Namespace:   cfg.Runner.Containerd.Namespace,
			PullTimeout: time.Duration(cfg.Runner.PullTimeout) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("containerd connection failed (%s): %w", cfg.Runner.Containerd.Address, err)
		}
		return rt, nil
	default:
		return nil, fmt.Errorf("%w: %q", schema.ErrUnsupportedRuntime, cfg.Runner.Runtime)
	}
}

// selectBuilder pairs each runtime with its image builder: the docker daemon
// builds via ImageBuild, containerd builds via BuildKit.
func selectBuilder(ctx context.Context, cfg appconfig.Config) (dockhand.Builder, string, func() error, error) {
	switch cfg.Runner.Runtime {
	case "docker":
		rt, err := dockerrt.New(ctx, dockerrt.Config{
			Address:     cfg.Runner.Docker.Address,
			PullTimeout: time.Duration(cfg.Runner.PullTimeout) * time.Minute,
		})
		if err != nil {
			return nil, "", nil, fmt.Errorf("docker connection failed: %w", err)
		}
		return dockerrt.NewBuilder(rt), "docker", rt.Close, nil
	case "containerd":
		return buildkit.New(buildkit.Config{Address: cfg.Runner.BuildKit.Address}), "containerd", nil, nil
	default:
		return nil, "", nil, fmt.Errorf("%w: %q", schema.ErrUnsupportedRuntime, cfg.Runner.Runtime)
	}
}

// Package dockhand abstracts the container runtimes and image builders the
// launcher and image build commands run against.
package dockhand

import (
	"context"
	"io"
	"time"
)

// Runtime runs one container to completion.
type Runtime interface {
	// EnsureImage pulls the image if it is not available locally.
	EnsureImage(ctx context.Context, image string) error
	// Run starts the container described by spec, blocks until it exits, and
	// returns its exit status. The image entry point stays fixed; spec.Command
	// is appended to it.
	Run(ctx context.Context, spec RunSpec) (int, error)
	Close() error
}

// Importer loads OCI tar archives into a runtime's image store. Only
// containerd supports this; the docker builder stores images directly.
type Importer interface {
	Import(ctx context.Context, tarPath string, tags []string) error
}

// Builder builds container images.
type Builder interface {
	Build(ctx context.Context, spec BuildSpec) (BuildResult, error)
}

// BuilderWithEvents streams build progress events.
type BuilderWithEvents interface {
	BuildWithEvents(ctx context.Context, spec BuildSpec, events chan<- BuildEvent) (BuildResult, error)
}

// Mount describes a host bind mount placed inside the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// TerminalSize carries a window resize to an attached TTY.
type TerminalSize struct {
	Width  uint16
	Height uint16
}

// RunSpec describes one container run.
type RunSpec struct {
	Name        string
	Image       string
	Command     []string
	WorkingDir  string
	Env         map[string]string
	Labels      map[string]string
	Mounts      []Mount
	HostNetwork bool
	TTY         bool
	AutoRemove  bool
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
	// Resize delivers terminal size updates while the container runs; only
	// meaningful with TTY.
	Resize <-chan TerminalSize
}

// BuildSpec describes a container image build.
type BuildSpec struct {
	ContextDir        string
	ContainerfileData []byte
	Tags              []string
	BuildArgs         map[string]string
	NoCache           bool
	Pull              bool
	Timeout           time.Duration
	// OutputPath, when set, exports the build as an OCI tar (BuildKit only).
	OutputPath string
}

// BuildResult captures build output metadata.
type BuildResult struct {
	ImageNames []string
}

// BuildEventKind categorizes build progress updates.
type BuildEventKind string

const (
	// BuildEventVertexStarted marks a build step start event.
	BuildEventVertexStarted BuildEventKind = "vertex_started"
	// BuildEventVertexCompleted marks a build step completion event.
	BuildEventVertexCompleted BuildEventKind = "vertex_completed"
	// BuildEventLog indicates a build log event.
	BuildEventLog BuildEventKind = "log"
	// BuildEventWarning indicates a build warning event.
	BuildEventWarning BuildEventKind = "warning"
)

// BuildEvent reports a build progress update.
type BuildEvent struct {
	Kind      BuildEventKind
	VertexID  string
	Name      string
	Message   string
	Timestamp time.Time
	Error     string
}

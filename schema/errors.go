package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTargets indicates a scan was requested without any targets.
	ErrNoTargets = errors.New("no targets")
	// ErrInvalidTarget indicates a target URL could not be normalized.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNoResponse indicates navigation finished without a document response.
	ErrNoResponse = errors.New("no response received")
	// ErrRunNotFound indicates a stored scan run could not be located.
	ErrRunNotFound = errors.New("run not found")
	// ErrManifestMissing indicates the configured package manifest does not exist.
	ErrManifestMissing = errors.New("package manifest missing")
	// ErrUnsupportedRuntime indicates an unknown runner.runtime value.
	ErrUnsupportedRuntime = errors.New("unsupported runtime")
)

// ExitError carries a container exit status through the command layer so the
// process can terminate with the same code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

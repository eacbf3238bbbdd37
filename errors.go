package framebridge

import (
	"errors"
	"fmt"
)

var (
	// ErrEnvironmentUnsupported means the media engine or the rendering backend
	// is missing a required capability. Fatal for the host; it stays idle.
	ErrEnvironmentUnsupported = errors.New("framebridge: environment unsupported")

	// ErrBuildFailure is matched by every *BuildError. Recoverable: the graph is
	// back to Unbuilt and the caller may retry with another file.
	ErrBuildFailure = errors.New("framebridge: build failed")

	// ErrAllocatorHandshake is a build failure of the allocator registration step.
	ErrAllocatorHandshake = errors.New("framebridge: allocator handshake failed")

	// ErrDeviceLost is returned when surfaces cannot be renegotiated after a
	// device-lost event.
	ErrDeviceLost = errors.New("framebridge: device lost")

	// ErrStopTimeout means the engine did not confirm the stopped state within the
	// poll bound. Teardown proceeds anyway.
	ErrStopTimeout = errors.New("framebridge: engine did not confirm stop")

	// ErrInvalidTransition is returned for transport commands the current state
	// does not allow.
	ErrInvalidTransition = errors.New("framebridge: invalid state transition")

	// ErrNotBuilt is returned for operations that need a built graph.
	ErrNotBuilt = errors.New("framebridge: graph not built")
)

// BuildStep names a sub-step of graph construction.
type BuildStep string

const (
	StepEngine    BuildStep = "engine"
	StepProbe     BuildStep = "probe"
	StepAllocator BuildStep = "allocator"
	StepSource    BuildStep = "source"
	StepNegotiate BuildStep = "negotiate"
)

// BuildError reports which build step failed. errors.Is(err, ErrBuildFailure)
// holds for every BuildError; handshake failures also match ErrAllocatorHandshake.
type BuildError struct {
	Step BuildStep
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("framebridge: build %q failed at %s: %v", e.Path, e.Step, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Is makes every BuildError match ErrBuildFailure.
func (e *BuildError) Is(target error) bool {
	return target == ErrBuildFailure
}

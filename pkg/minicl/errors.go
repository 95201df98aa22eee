package minicl

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by Context operations. Match them with errors.Is; the returned
// errors wrap these sentinels with the offending kernel, buffer or driver cause.
var (
	ErrDeviceUnavailable       = errors.New("minicl: device unavailable")
	ErrBuildFailure            = errors.New("minicl: program build failed")
	ErrDuplicateKernel         = errors.New("minicl: kernel already registered")
	ErrUnknownKernelName       = errors.New("minicl: program has no kernel with that name")
	ErrUnknownKernel           = errors.New("minicl: kernel not registered")
	ErrBufferAlreadyRegistered = errors.New("minicl: buffer already registered")
	ErrBufferStateViolation    = errors.New("minicl: buffer ownership state violation")
	ErrInvalidPartitioning     = errors.New("minicl: invalid work partitioning")
	ErrUnboundArgument         = errors.New("minicl: kernel argument not bound")
	ErrStaleBuffer             = errors.New("minicl: stale buffer id")
	ErrUnknownBuffer           = errors.New("minicl: unknown buffer")
	ErrEmptyBuffer             = errors.New("minicl: empty buffer")
	ErrElementMismatch         = errors.New("minicl: element type mismatch")
	ErrAddressMoved            = errors.New("minicl: mapped address differs from registered address")
	ErrContextClosed           = errors.New("minicl: context closed")
	ErrInvalidArgument         = errors.New("minicl: invalid kernel argument")
)

// BuildError carries the compiler log of a failed program build, verbatim.
type BuildError struct {
	Log string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%v:\n%s", ErrBuildFailure, e.Log)
}

// Is makes errors.Is(err, ErrBuildFailure) true for every *BuildError.
func (e *BuildError) Is(target error) bool {
	return target == ErrBuildFailure
}

// UnboundArgumentError reports the first required argument index without a binding.
type UnboundArgumentError struct {
	Kernel KernelID
	Index  int
}

func (e *UnboundArgumentError) Error() string {
	return fmt.Sprintf("%v: kernel %q argument %d", ErrUnboundArgument, string(e.Kernel), e.Index)
}

func (e *UnboundArgumentError) Is(target error) bool {
	return target == ErrUnboundArgument
}

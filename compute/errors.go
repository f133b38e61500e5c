package compute

import "errors"

// Errors shared by every backend.
var (
	ErrUnknownKernel  = errors.New("compute: unknown kernel")
	ErrBadArgument    = errors.New("compute: bad kernel argument")
	ErrBufferReleased = errors.New("compute: buffer already released")
	ErrClosed         = errors.New("compute: backend closed")
	ErrInvalidRange   = errors.New("compute: global size must be a positive multiple of local size")
	ErrOutOfBounds    = errors.New("compute: transfer out of buffer bounds")
)

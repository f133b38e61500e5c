package compute

import "context"

// AccessMode declares how kernels use a buffer.
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
	WriteOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read_only"
	case WriteOnly:
		return "write_only"
	default:
		return "read_write"
	}
}

// Buffer is a device memory region holding 32-bit words.
type Buffer interface {
	Label() string
	Len() int // number of uint32 words
	Mode() AccessMode
}

// Dim is a 1-D or 2-D index space. A zero Y means 1.
type Dim struct {
	X, Y int
}

// D1 returns a 1-D index space of n work items.
func D1(n int) Dim { return Dim{X: n, Y: 1} }

// Size returns the number of work items.
func (d Dim) Size() int {
	y := d.Y
	if y == 0 {
		y = 1
	}
	return d.X * y
}

// Groups returns the number of work-groups per dimension for a launch of
// global items with the given local size.
func (d Dim) Groups(local Dim) (Dim, error) {
	gy, ly := d.Y, local.Y
	if gy == 0 {
		gy = 1
	}
	if ly == 0 {
		ly = 1
	}
	if d.X <= 0 || local.X <= 0 || gy <= 0 || ly <= 0 {
		return Dim{}, ErrInvalidRange
	}
	if d.X%local.X != 0 || gy%ly != 0 {
		return Dim{}, ErrInvalidRange
	}
	return Dim{X: d.X / local.X, Y: gy / ly}, nil
}

// Local declares the bytes of work-group local memory a kernel argument needs.
type Local int

// Backend executes named kernels on one ordered command stream.
//
// Launches, writes and reads issued on a Backend are executed in submission
// order. EnqueueKernel and non-blocking writes may return before the work
// ran; ReadBuffer and Finish block until everything queued before them is
// done. A Backend is not safe for concurrent use.
type Backend interface {
	Name() string

	CreateBuffer(label string, sizeBytes int, mode AccessMode) (Buffer, error)
	ReleaseBuffer(b Buffer) error

	WriteBuffer(ctx context.Context, dst Buffer, offset int, src []uint32, blocking bool) error
	ReadBuffer(ctx context.Context, src Buffer, offset int, dst []uint32) error

	// EnqueueKernel launches kernel name over global work items in groups of
	// local. args holds Buffer, uint32 and Local values in kernel order.
	EnqueueKernel(name string, global, local Dim, args ...any) error

	Finish(ctx context.Context) error
	Close() error
}

// LaunchEvent describes one kernel launch.
type LaunchEvent struct {
	Kernel string
	Global Dim
	Local  Dim
	Groups Dim
	Seq    uint64 // position on the stream
}

// Observer receives launch notifications from a backend.
type Observer interface {
	OnLaunch(ev LaunchEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev LaunchEvent)

func (f ObserverFunc) OnLaunch(ev LaunchEvent) { f(ev) }

package cpu

import (
	"fmt"

	"github.com/openfluke/radix/compute"
)

// Buffer is host memory standing in for a device buffer.
type Buffer struct {
	label    string
	mode     compute.AccessMode
	data     []uint32
	owner    *Backend
	released bool // set by ReleaseBuffer, guarded by owner.mu
}

func (b *Buffer) Label() string            { return b.label }
func (b *Buffer) Len() int                 { return len(b.data) }
func (b *Buffer) Mode() compute.AccessMode { return b.mode }

// buffer resolves a compute.Buffer to one of this backend's live buffers.
func (cb *Backend) buffer(x compute.Buffer) (*Buffer, error) {
	b, ok := x.(*Buffer)
	if !ok || b == nil || b.owner != cb {
		return nil, fmt.Errorf("%w: buffer %T does not belong to the cpu backend", compute.ErrBadArgument, x)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if b.released {
		return nil, fmt.Errorf("%w: %s", compute.ErrBufferReleased, b.label)
	}
	return b, nil
}

func (b *Buffer) checkRange(offset, n int) error {
	if offset < 0 || offset+n > len(b.data) {
		return fmt.Errorf("%w: %s [%d,%d) of %d words", compute.ErrOutOfBounds, b.label, offset, offset+n, len(b.data))
	}
	return nil
}

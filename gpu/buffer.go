package gpu

import (
	"context"
	"fmt"
	"time"

	"github.com/openfluke/radix/compute"
	"github.com/openfluke/webgpu/wgpu"
)

// Buffer is a storage buffer of 32-bit words on the device.
type Buffer struct {
	label    string
	mode     compute.AccessMode
	words    int
	buf      *wgpu.Buffer
	owner    *Backend
	released bool
}

func (b *Buffer) Label() string            { return b.label }
func (b *Buffer) Len() int                 { return b.words }
func (b *Buffer) Mode() compute.AccessMode { return b.mode }

func (b *Buffer) checkRange(offset, n int) error {
	if offset < 0 || offset+n > b.words {
		return fmt.Errorf("%w: %s [%d,%d) of %d words", compute.ErrOutOfBounds, b.label, offset, offset+n, b.words)
	}
	return nil
}

const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

// readWords copies n words at offset from buf into a staging buffer, maps it
// and returns the words. The device is polled until the map completes or ctx
// ends.
func readWords(ctx context.Context, c *Context, buf *wgpu.Buffer, offset, n int) ([]uint32, error) {
	sizeBytes := uint64(n * 4)
	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "radix_read_staging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create staging buffer: %w", err)
	}
	defer staging.Destroy()

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("gpu: create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(buf, uint64(offset*4), staging, 0, sizeBytes)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, fmt.Errorf("gpu: finish copy: %w", err)
	}
	c.Queue.Submit(cmd)
	cmd.Release()

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("gpu: map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: map staging buffer: %w", err)
	}

	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			time.Sleep(100 * time.Microsecond)
			continue
		}
		break
	}
	if mapErr != nil {
		return nil, mapErr
	}

	data := staging.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return nil, fmt.Errorf("gpu: failed to get mapped range")
	}
	out := make([]uint32, n)
	copy(out, wgpu.FromBytes[uint32](data))
	staging.Unmap()
	return out, nil
}

// Package gpu runs the compute kernels on a WebGPU device. Every launch is
// recorded into its own compute pass and submitted to the device queue, so
// launches execute in enqueue order.
package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openfluke/radix/compute"
	"github.com/openfluke/webgpu/wgpu"
)

// Backend implements compute.Backend on the shared WebGPU context.
type Backend struct {
	ctx       *Context
	log       *slog.Logger
	observer  compute.Observer
	pipelines *pipelineCache

	mu     sync.Mutex
	seq    uint64
	closed bool
}

var _ compute.Backend = (*Backend)(nil)

// New opens the GPU context and returns a backend on it. It fails when no
// adapter or device is available.
func New() (*Backend, error) {
	c, err := GetContext(slog.Default())
	if err != nil {
		return nil, err
	}
	return newBackend(c), nil
}

func newBackend(c *Context) *Backend {
	return &Backend{ctx: c, log: slog.Default(), pipelines: newPipelineCache()}
}

// WithLogger sets the logger used for launch tracing.
func (b *Backend) WithLogger(l *slog.Logger) *Backend {
	if l != nil {
		b.log = l
	}
	return b
}

// WithObserver registers o for launch notifications.
func (b *Backend) WithObserver(o compute.Observer) *Backend {
	b.observer = o
	return b
}

func (b *Backend) Name() string { return "gpu" }

// Adapter returns the name of the adapter the backend runs on.
func (b *Backend) Adapter() string { return b.ctx.Name }

func (b *Backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) buffer(x compute.Buffer) (*Buffer, error) {
	buf, ok := x.(*Buffer)
	if !ok || buf == nil || buf.owner != b {
		return nil, fmt.Errorf("%w: buffer %T does not belong to the gpu backend", compute.ErrBadArgument, x)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf.released {
		return nil, fmt.Errorf("%w: %s", compute.ErrBufferReleased, buf.label)
	}
	return buf, nil
}

func (b *Backend) CreateBuffer(label string, sizeBytes int, mode compute.AccessMode) (compute.Buffer, error) {
	if sizeBytes <= 0 || sizeBytes%4 != 0 {
		return nil, fmt.Errorf("%w: buffer %s size %d is not a positive multiple of 4", compute.ErrBadArgument, label, sizeBytes)
	}
	if b.isClosed() {
		return nil, compute.ErrClosed
	}
	if limit := b.ctx.Limits.Limits.MaxStorageBufferBindingSize; limit > 0 && uint64(sizeBytes) > limit {
		return nil, fmt.Errorf("%w: buffer %s of %d bytes exceeds the binding limit %d", compute.ErrBadArgument, label, sizeBytes, limit)
	}
	wb, err := b.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(sizeBytes),
		Usage: storageUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create buffer %s: %w", label, err)
	}
	return &Buffer{label: label, mode: mode, words: sizeBytes / 4, buf: wb, owner: b}, nil
}

func (b *Backend) ReleaseBuffer(x compute.Buffer) error {
	buf, err := b.buffer(x)
	if err != nil {
		return err
	}
	b.mu.Lock()
	buf.released = true
	b.mu.Unlock()
	buf.buf.Release()
	return nil
}

// WriteBuffer stages src on the queue; the data is copied before it
// returns, so a non-blocking write never aliases src.
func (b *Backend) WriteBuffer(ctx context.Context, dst compute.Buffer, offset int, src []uint32, blocking bool) error {
	buf, err := b.buffer(dst)
	if err != nil {
		return err
	}
	if err := buf.checkRange(offset, len(src)); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	b.ctx.Queue.WriteBuffer(buf.buf, uint64(offset*4), wgpu.ToBytes(src))
	if blocking {
		return b.Finish(ctx)
	}
	return nil
}

func (b *Backend) ReadBuffer(ctx context.Context, src compute.Buffer, offset int, dst []uint32) error {
	buf, err := b.buffer(src)
	if err != nil {
		return err
	}
	if err := buf.checkRange(offset, len(dst)); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	words, err := readWords(ctx, b.ctx, buf.buf, offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, words)
	return nil
}

func (b *Backend) EnqueueKernel(name string, global, local compute.Dim, args ...any) error {
	shape, err := compute.ShapeOf(name)
	if err != nil {
		return err
	}
	groups, err := global.Groups(local)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	a, err := compute.SplitArgs(args)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := a.Expect(name, shape.Buffers, shape.Scalars); err != nil {
		return err
	}
	if local.Y > 1 {
		return fmt.Errorf("%w: %s: 2-D work-groups are not supported", compute.ErrInvalidRange, name)
	}
	lim := b.ctx.Limits.Limits
	if uint32(local.X) > lim.MaxComputeInvocationsPerWorkgroup || uint32(local.X) > lim.MaxComputeWorkgroupSizeX {
		return fmt.Errorf("%w: %s: work-group of %d lanes exceeds the device limit", compute.ErrInvalidRange, name, local.X)
	}
	if uint32(groups.X) > lim.MaxComputeWorkgroupsPerDimension || uint32(groups.Y) > lim.MaxComputeWorkgroupsPerDimension {
		return fmt.Errorf("%w: %s: %dx%d groups exceed the device limit", compute.ErrInvalidRange, name, groups.X, groups.Y)
	}
	if uint32(a.Local) > lim.MaxComputeWorkgroupStorageSize {
		return fmt.Errorf("%w: %s: %d bytes of local memory exceed the device limit", compute.ErrBadArgument, name, a.Local)
	}
	if b.isClosed() {
		return compute.ErrClosed
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(a.Buffers)+1)
	for i, x := range a.Buffers {
		buf, err := b.buffer(x)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(i), Buffer: buf.buf, Size: buf.buf.GetSize()})
	}

	pipeline, err := b.pipelines.get(b.ctx, name, local.X)
	if err != nil {
		return err
	}

	var params *wgpu.Buffer
	if len(a.Scalars) > 0 {
		params, err = b.ctx.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Label:    name + "_Params",
			Contents: wgpu.ToBytes(padScalars(a.Scalars)),
			Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("gpu: %s params: %w", name, err)
		}
		defer params.Release()
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(len(a.Buffers)), Buffer: params, Size: params.GetSize()})
	}

	bg, err := b.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   name + "_Bind",
		Layout:  pipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: %s bind group: %w", name, err)
	}
	defer bg.Release()

	enc, err := b.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("gpu: %s encoder: %w", name, err)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(uint32(groups.X), uint32(max(groups.Y, 1)), 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return fmt.Errorf("gpu: %s finish: %w", name, err)
	}
	b.ctx.Queue.Submit(cmd)
	cmd.Release()

	b.mu.Lock()
	b.seq++
	ev := compute.LaunchEvent{Kernel: name, Global: global, Local: local, Groups: groups, Seq: b.seq}
	b.mu.Unlock()

	b.log.Debug("gpu: submitted kernel", "kernel", name, "groups", groups.Size(), "seq", ev.Seq)
	if b.observer != nil {
		b.observer.OnLaunch(ev)
	}
	return nil
}

// padScalars rounds the scalar block up to whole 16-byte uniform rows.
func padScalars(s []uint32) []uint32 {
	n := (len(s) + 3) &^ 3
	out := make([]uint32, n)
	copy(out, s)
	return out
}

// Finish blocks until every submitted launch has completed.
func (b *Backend) Finish(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.isClosed() {
		return compute.ErrClosed
	}
	b.ctx.Device.Poll(true, nil)
	return nil
}

// Close waits for outstanding work and drops the compiled pipelines. The
// shared device stays open for other backends.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.ctx.Device.Poll(true, nil)
	b.pipelines.release()
	return nil
}

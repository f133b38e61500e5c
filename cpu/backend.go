// Package cpu is an in-process compute backend. Launches run on one ordered
// stream; the work-groups of a launch run in parallel on a worker pool, each
// with its own local memory.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/openfluke/radix/compute"
)

// ErrKernelFailed wraps failures raised while a queued kernel executed.
var ErrKernelFailed = errors.New("cpu: kernel failed")

type task struct {
	run   func() error
	fence chan struct{}
}

// Backend implements compute.Backend on the host.
type Backend struct {
	log      *slog.Logger
	observer compute.Observer
	pool     *pool
	tasks    chan task
	stopped  chan struct{}

	mu  sync.Mutex
	err error // first failure since the last Finish/ReadBuffer
	seq uint64

	// closeMu is held for reading while a task is queued so that Close
	// never closes the queue under a sender.
	closeMu sync.RWMutex
	closed  bool
}

var _ compute.Backend = (*Backend)(nil)

// New starts a backend whose launches use the given number of workers;
// workers <= 0 means GOMAXPROCS.
func New(workers int) *Backend {
	b := &Backend{
		log:     slog.Default(),
		pool:    newPool(workers),
		tasks:   make(chan task, 256),
		stopped: make(chan struct{}),
	}
	go b.stream()
	return b
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

func (b *Backend) Name() string { return "cpu" }

// stream drains the task queue in order. After a failure the remaining work
// is skipped until the failure has been reported.
func (b *Backend) stream() {
	defer close(b.stopped)
	for t := range b.tasks {
		if t.fence != nil {
			close(t.fence)
			continue
		}
		b.mu.Lock()
		failed := b.err != nil
		b.mu.Unlock()
		if failed {
			continue
		}
		if err := runTask(t.run); err != nil {
			b.mu.Lock()
			if b.err == nil {
				b.err = err
			}
			b.mu.Unlock()
		}
	}
}

func runTask(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v\n%s", ErrKernelFailed, r, debug.Stack())
		}
	}()
	return fn()
}

func (b *Backend) submit(t task) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return compute.ErrClosed
	}
	b.tasks <- t
	return nil
}

// wait blocks until everything queued so far ran, then reports and clears
// the first failure.
func (b *Backend) wait(ctx context.Context) error {
	fence := make(chan struct{})
	if err := b.submit(task{fence: fence}); err != nil {
		return err
	}
	select {
	case <-fence:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.err
	b.err = nil
	return err
}

func (b *Backend) CreateBuffer(label string, sizeBytes int, mode compute.AccessMode) (compute.Buffer, error) {
	if sizeBytes <= 0 || sizeBytes%4 != 0 {
		return nil, fmt.Errorf("%w: buffer %s size %d is not a positive multiple of 4", compute.ErrBadArgument, label, sizeBytes)
	}
	b.closeMu.RLock()
	closed := b.closed
	b.closeMu.RUnlock()
	if closed {
		return nil, compute.ErrClosed
	}
	return &Buffer{
		label: label,
		mode:  mode,
		data:  make([]uint32, sizeBytes/4),
		owner: b,
	}, nil
}

func (b *Backend) ReleaseBuffer(x compute.Buffer) error {
	buf, err := b.buffer(x)
	if err != nil {
		return err
	}
	b.mu.Lock()
	buf.released = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) WriteBuffer(ctx context.Context, dst compute.Buffer, offset int, src []uint32, blocking bool) error {
	buf, err := b.buffer(dst)
	if err != nil {
		return err
	}
	if err := buf.checkRange(offset, len(src)); err != nil {
		return err
	}
	if !blocking {
		src = append([]uint32(nil), src...)
	}
	if err := b.submit(task{run: func() error {
		copy(buf.data[offset:], src)
		return nil
	}}); err != nil {
		return err
	}
	if blocking {
		return b.wait(ctx)
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
	staged := make([]uint32, len(dst))
	if err := b.submit(task{run: func() error {
		copy(staged, buf.data[offset:])
		return nil
	}}); err != nil {
		return err
	}
	if err := b.wait(ctx); err != nil {
		return err
	}
	copy(dst, staged)
	return nil
}

func (b *Backend) EnqueueKernel(name string, global, local compute.Dim, args ...any) error {
	k, err := Lookup(name)
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
	if err := a.Expect(name, k.Buffers, k.Scalars); err != nil {
		return err
	}
	l := &Launch{Buffers: make([][]uint32, len(a.Buffers)), Scalars: a.Scalars}
	for i, x := range a.Buffers {
		buf, err := b.buffer(x)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		l.Buffers[i] = buf.data
	}
	if local.Y == 0 {
		local.Y = 1
	}
	localWords := (a.Local + 3) / 4

	b.mu.Lock()
	b.seq++
	ev := compute.LaunchEvent{Kernel: name, Global: global, Local: local, Groups: groups, Seq: b.seq}
	b.mu.Unlock()

	err = b.submit(task{run: func() error {
		return b.execute(k, ev, localWords, l)
	}})
	if err != nil {
		return err
	}
	b.log.Debug("cpu: enqueued kernel", "kernel", name, "groups", groups.Size(), "seq", ev.Seq)
	if b.observer != nil {
		b.observer.OnLaunch(ev)
	}
	return nil
}

// execute runs every group of one launch and returns the first failure.
func (b *Backend) execute(k Kernel, ev compute.LaunchEvent, localWords int, l *Launch) error {
	total := ev.Groups.Size()
	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	b.pool.parallelFor(total, func(start, end int) {
		defer func() {
			if r := recover(); r != nil {
				fail(fmt.Errorf("%w: %s panicked: %v", ErrKernelFailed, k.Name, r))
			}
		}()
		g := &Group{Groups: ev.Groups, Size: ev.Local, Local: make([]uint32, localWords)}
		for id := start; id < end; id++ {
			clear(g.Local)
			g.ID = compute.Dim{X: id % ev.Groups.X, Y: id / ev.Groups.X}
			if err := k.Run(g, l); err != nil {
				fail(fmt.Errorf("%w: %v", ErrKernelFailed, err))
				return
			}
		}
	})
	return firstErr
}

// Finish blocks until the stream is idle.
func (b *Backend) Finish(ctx context.Context) error {
	return b.wait(ctx)
}

// Close drains the stream and stops the workers. It reports any failure not
// yet collected by Finish.
func (b *Backend) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.tasks)
	b.closeMu.Unlock()

	<-b.stopped
	b.pool.close()

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

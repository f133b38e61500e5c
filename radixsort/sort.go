// Package radixsort sorts 32-bit unsigned keys on a compute backend with a
// four-kernel LSB radix sort, and provides the hierarchical exclusive scan
// the sort depends on.
//
// Each pass orders the keys on one digit: blocks are sorted locally, digit
// runs are counted per block, the counters are scanned in digit-major order
// and every key is scattered to its global position. All scratch memory is
// allocated once when the engine is built.
package radixsort

import (
	"context"
	"log/slog"

	"github.com/openfluke/radix/compute"
)

// Option customizes an engine.
type Option func(*options)

type options struct {
	log     *slog.Logger
	bitStep int
}

// WithLogger sets the logger for pass tracing. Nil keeps slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithBitStep sets the digit width of a pass, 1 to 8 bits.
func WithBitStep(bits int) Option {
	return func(o *options) { o.bitStep = bits }
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default(), bitStep: DefaultBitStep}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Stats counts work issued by a Sorter.
type Stats struct {
	Sorts    int
	Passes   int
	Launches int
}

// Sorter is a radix sort engine bound to one backend stream. It is not safe
// for concurrent use: scratch buffers are shared by every Sort.
type Sorter struct {
	backend compute.Backend
	log     *slog.Logger
	cfg     Config
	scan    *Scan
	scratch *arena
	stats   Stats

	released bool
}

// New builds a sorter for up to maxElements keys using work-groups of
// blockSize lanes. It fails with a configuration error when the derived scan
// parameters are unsupported. Unlike NewFromConfig, a zero blockSize is
// rejected rather than defaulted.
func New(b compute.Backend, maxElements, blockSize int, opts ...Option) (*Sorter, error) {
	if blockSize <= 0 {
		return nil, configError("New", "block size %d must be a power of two in [1,%d]", blockSize, MaxBlockSize)
	}
	o := buildOptions(opts)
	return NewFromConfig(b, Config{MaxElements: maxElements, BlockSize: blockSize, BitStep: o.bitStep}, opts...)
}

// NewFromConfig builds a sorter from cfg. Options other than the bit step
// still apply.
func NewFromConfig(b compute.Backend, cfg Config, opts ...Option) (*Sorter, error) {
	const op = "New"
	if b == nil {
		return nil, configError(op, "nil backend")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	s := &Sorter{
		backend: b,
		log:     o.log,
		cfg:     cfg,
		scratch: newArena(b, "radixsort"),
	}
	scan, err := NewScan(b, cfg.segmentLength(cfg.MaxElements), WithLogger(o.log))
	if err != nil {
		return nil, err
	}
	s.scan = scan

	counters := cfg.segmentLength(cfg.MaxElements)
	sizes := []struct {
		slot  slot
		words int
	}{
		{slotTempKeys, cfg.MaxElements},
		{slotCounters, counters},
		{slotCountersSum, counters},
		{slotBlockOffsets, counters},
	}
	for _, sz := range sizes {
		if err := s.scratch.alloc(sz.slot, sz.words); err != nil {
			_ = s.scratch.release()
			_ = scan.Release()
			return nil, resourceError(op, "allocate scratch", err)
		}
	}
	s.log.Debug("radixsort: engine ready", "backend", b.Name(),
		"maxElements", cfg.MaxElements, "blockSize", cfg.BlockSize, "bitStep", cfg.BitStep)
	return s, nil
}

// Config returns the engine configuration.
func (s *Sorter) Config() Config { return s.cfg }

// Stats returns cumulative counts since the engine was built.
func (s *Sorter) Stats() Stats { return s.stats }

// Validate checks Sort arguments without launching anything.
func (s *Sorter) Validate(keys compute.Buffer, numElements, keyBits int) error {
	const op = "Sort"
	if s.released {
		return &Error{Kind: KindPrecondition, Op: op, Msg: "engine released", Err: ErrReleased}
	}
	if keys == nil {
		return preconditionError(op, "nil key buffer")
	}
	gran := 4 * s.cfg.BlockSize
	if numElements <= 0 || numElements%gran != 0 {
		return preconditionError(op, "%d elements is not a positive multiple of %d", numElements, gran)
	}
	if numElements > s.cfg.MaxElements {
		return preconditionError(op, "%d elements exceed the engine capacity %d", numElements, s.cfg.MaxElements)
	}
	if keys.Len() < numElements {
		return preconditionError(op, "key buffer %s holds %d words, need %d", keys.Label(), keys.Len(), numElements)
	}
	if keyBits < 1 || keyBits > MaxKeyBits {
		return preconditionError(op, "key bits %d outside [1,%d]", keyBits, MaxKeyBits)
	}
	return s.scan.ValidateLarge(1, s.cfg.segmentLength(numElements))
}

// Sort orders keys[0:numElements) ascending on their low keyBits bits, in
// place. Launches are only enqueued; read keys back or Finish the backend to
// wait for the result. On error the contents of keys are unspecified.
func (s *Sorter) Sort(keys compute.Buffer, numElements, keyBits int) error {
	if err := s.Validate(keys, numElements, keyBits); err != nil {
		return err
	}
	s.stats.Sorts++
	step := s.cfg.BitStep
	for start := 0; start < keyBits; start += step {
		if err := s.pass(keys, start, keyBits, numElements); err != nil {
			return err
		}
	}
	return nil
}

// pass runs the four stages for the digit at startBit.
func (s *Sorter) pass(keys compute.Buffer, startBit, keyBits, n int) error {
	const op = "Sort"
	cta := s.cfg.BlockSize
	nbits := uint32(s.cfg.BitStep)
	temp := s.scratch.get(slotTempKeys)
	counters := s.scratch.get(slotCounters)
	countersSum := s.scratch.get(slotCountersSum)
	offsets := s.scratch.get(slotBlockOffsets)

	s.log.Debug("radixsort: pass", "startBit", startBit, "elements", n)
	s.stats.Passes++

	sortBlocks := n / (4 * cta)
	err := s.backend.EnqueueKernel(compute.KernelRadixSortBlocks,
		compute.D1(cta*sortBlocks), compute.D1(cta),
		keys, temp, nbits, uint32(startBit), uint32(keyBits), uint32(n), uint32(sortBlocks),
		compute.Local(4*cta*4))
	if err != nil {
		return resourceError(op, "block sort", err)
	}
	s.stats.Launches++

	blocks := n / (2 * cta)
	err = s.backend.EnqueueKernel(compute.KernelFindRadixOffsets,
		compute.D1(cta*blocks), compute.D1(cta),
		temp, counters, offsets, nbits, uint32(startBit), uint32(keyBits), uint32(n), uint32(blocks),
		compute.Local(2*cta*4))
	if err != nil {
		return resourceError(op, "radix offsets", err)
	}
	s.stats.Launches++

	if err := s.scan.ExclusiveScan(countersSum, counters, 1, s.cfg.segmentLength(n)); err != nil {
		return err
	}
	s.stats.Launches += 3

	err = s.backend.EnqueueKernel(compute.KernelReorderData,
		compute.D1(cta*blocks), compute.D1(cta),
		keys, temp, offsets, countersSum, counters, nbits, uint32(startBit), uint32(keyBits), uint32(n), uint32(blocks),
		compute.Local(2*cta*4))
	if err != nil {
		return resourceError(op, "reorder", err)
	}
	s.stats.Launches++
	return nil
}

// SortSlice sorts keys on the host side of the backend: the keys are padded
// with maximal sentinels to the next size the engine accepts, uploaded,
// sorted and read back into keys. The first call allocates a MaxElements
// staging buffer that later calls reuse.
func (s *Sorter) SortSlice(ctx context.Context, keys []uint32, keyBits int) error {
	const op = "SortSlice"
	if s.released {
		return &Error{Kind: KindPrecondition, Op: op, Msg: "engine released", Err: ErrReleased}
	}
	if keyBits < 1 || keyBits > MaxKeyBits {
		return preconditionError(op, "key bits %d outside [1,%d]", keyBits, MaxKeyBits)
	}
	if len(keys) == 0 {
		return nil
	}
	n := s.PaddedLength(len(keys))
	if n > s.cfg.MaxElements {
		return preconditionError(op, "%d keys pad to %d, above the engine capacity %d", len(keys), n, s.cfg.MaxElements)
	}

	staging := s.scratch.get(slotStagingKeys)
	if staging == nil {
		if err := s.scratch.alloc(slotStagingKeys, s.cfg.MaxElements); err != nil {
			return resourceError(op, "allocate staging keys", err)
		}
		staging = s.scratch.get(slotStagingKeys)
	}

	padded := make([]uint32, n)
	copy(padded, keys)
	sentinel := sentinelFor(keyBits)
	for i := len(keys); i < n; i++ {
		padded[i] = sentinel
	}
	if err := s.backend.WriteBuffer(ctx, staging, 0, padded, false); err != nil {
		return resourceError(op, "upload keys", err)
	}
	if err := s.Sort(staging, n, keyBits); err != nil {
		return err
	}
	if err := s.backend.ReadBuffer(ctx, staging, 0, keys); err != nil {
		return resourceError(op, "read back keys", err)
	}
	return nil
}

// PaddedLength returns the key count SortSlice sorts for n host keys: at
// least MinElements, and a power-of-two number of 2*BlockSize blocks.
func (s *Sorter) PaddedLength(n int) int {
	half := 2 * s.cfg.BlockSize
	blocks := nextPowerOf2((n + half - 1) / half)
	return max(blocks*half, s.cfg.MinElements())
}

func sentinelFor(keyBits int) uint32 {
	if keyBits >= 32 {
		return ^uint32(0)
	}
	return 1<<uint(keyBits) - 1
}

// Release frees the scratch buffers and the owned scan engine. Later calls
// are no-ops.
func (s *Sorter) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	scanErr := s.scan.Release()
	if err := s.scratch.release(); err != nil {
		return resourceError("Release", "release scratch", err)
	}
	return scanErr
}

// IsReleased reports whether Release has been called.
func (s *Sorter) IsReleased() bool { return s.released }

package radixsort

import (
	"log/slog"

	"github.com/openfluke/radix/compute"
)

// Scan computes batched exclusive prefix sums on a compute backend.
//
// Segments longer than one work-group can scan are handled in three launches:
// every 4*WorkgroupSize chunk is scanned in local memory and its total
// recorded, the chunk totals are scanned, and each chunk's base offset is
// added back. dst and src may be the same buffer. Sums wrap at 32 bits;
// callers bound the totals.
type Scan struct {
	backend  compute.Backend
	log      *slog.Logger
	capacity int
	scratch  *arena
	released bool
}

// NewScan prepares a scan engine for up to maxElements total elements per
// call and allocates its block-sum buffer.
func NewScan(b compute.Backend, maxElements int, opts ...Option) (*Scan, error) {
	const op = "NewScan"
	if b == nil {
		return nil, configError(op, "nil backend")
	}
	if maxElements <= 0 || maxElements > MaxBatchElements {
		return nil, configError(op, "max elements %d outside [1,%d]", maxElements, MaxBatchElements)
	}
	o := buildOptions(opts)
	s := &Scan{
		backend:  b,
		log:      o.log,
		capacity: maxElements,
		scratch:  newArena(b, "scan"),
	}
	words := max(1, maxElements/MaxWorkgroupInclusiveScanSize)
	if err := s.scratch.alloc(slotScanBlockSums, words); err != nil {
		return nil, resourceError(op, "allocate block sums", err)
	}
	return s, nil
}

// Capacity returns the largest batchSize*arrayLength a call may scan.
func (s *Scan) Capacity() int { return s.capacity }

// ValidateLarge checks the arguments of ExclusiveScan without launching.
func (s *Scan) ValidateLarge(batchSize, arrayLength int) error {
	const op = "Scan.ExclusiveScan"
	if s.released {
		return &Error{Kind: KindPrecondition, Op: op, Msg: "scan released", Err: ErrReleased}
	}
	if batchSize < 1 {
		return configError(op, "batch size %d must be positive", batchSize)
	}
	if !isPowerOf2(arrayLength) {
		return configError(op, "array length %d is not a power of two", arrayLength)
	}
	if arrayLength < MinLargeArraySize || arrayLength > MaxLargeArraySize {
		return configError(op, "array length %d outside [%d,%d]", arrayLength, MinLargeArraySize, MaxLargeArraySize)
	}
	if batchSize*arrayLength > MaxBatchElements {
		return configError(op, "batch of %d x %d exceeds %d elements", batchSize, arrayLength, MaxBatchElements)
	}
	if batchSize*arrayLength > s.capacity {
		return configError(op, "batch of %d x %d exceeds the engine capacity %d", batchSize, arrayLength, s.capacity)
	}
	return nil
}

// ExclusiveScan writes the exclusive prefix sum of each of batchSize
// arrayLength-long segments of src to dst.
func (s *Scan) ExclusiveScan(dst, src compute.Buffer, batchSize, arrayLength int) error {
	const op = "Scan.ExclusiveScan"
	if err := s.ValidateLarge(batchSize, arrayLength); err != nil {
		return err
	}
	n := batchSize * arrayLength
	if err := checkBuffers(op, n, dst, src); err != nil {
		return err
	}

	chunk := 4 * WorkgroupSize
	chunks := n / chunk
	sums := s.scratch.get(slotScanBlockSums)
	s.log.Debug("scan: exclusive large", "batch", batchSize, "length", arrayLength, "chunks", chunks)

	if err := s.scanLocal1(dst, src, sums, chunks, chunk); err != nil {
		return resourceError(op, "local scan", err)
	}
	if err := s.scanLocal2(sums, batchSize, arrayLength/chunk); err != nil {
		return resourceError(op, "block-sum scan", err)
	}
	if err := s.uniformUpdate(dst, sums, chunks); err != nil {
		return resourceError(op, "uniform update", err)
	}
	return nil
}

// ExclusiveScanShort scans segments short enough for one work-group with a
// single launch. batchSize*arrayLength must be a multiple of 4*WorkgroupSize.
func (s *Scan) ExclusiveScanShort(dst, src compute.Buffer, batchSize, arrayLength int) error {
	const op = "Scan.ExclusiveScanShort"
	if s.released {
		return &Error{Kind: KindPrecondition, Op: op, Msg: "scan released", Err: ErrReleased}
	}
	if batchSize < 1 {
		return configError(op, "batch size %d must be positive", batchSize)
	}
	if !isPowerOf2(arrayLength) {
		return configError(op, "array length %d is not a power of two", arrayLength)
	}
	if arrayLength < MinShortArraySize || arrayLength > MaxShortArraySize {
		return configError(op, "array length %d outside [%d,%d]", arrayLength, MinShortArraySize, MaxShortArraySize)
	}
	n := batchSize * arrayLength
	if n > MaxBatchElements {
		return configError(op, "batch of %d x %d exceeds %d elements", batchSize, arrayLength, MaxBatchElements)
	}
	if n%(4*WorkgroupSize) != 0 {
		return configError(op, "batch of %d x %d is not a multiple of %d", batchSize, arrayLength, 4*WorkgroupSize)
	}
	if n > s.capacity {
		return configError(op, "batch of %d x %d exceeds the engine capacity %d", batchSize, arrayLength, s.capacity)
	}
	if err := checkBuffers(op, n, dst, src); err != nil {
		return err
	}
	sums := s.scratch.get(slotScanBlockSums)
	if err := s.scanLocal1(dst, src, sums, batchSize, arrayLength); err != nil {
		return resourceError(op, "local scan", err)
	}
	return nil
}

func checkBuffers(op string, n int, bufs ...compute.Buffer) error {
	for _, b := range bufs {
		if b == nil {
			return preconditionError(op, "nil buffer")
		}
		if b.Len() < n {
			return preconditionError(op, "buffer %s holds %d words, need %d", b.Label(), b.Len(), n)
		}
	}
	return nil
}

func (s *Scan) scanLocal1(dst, src, sums compute.Buffer, n, size int) error {
	return s.backend.EnqueueKernel(compute.KernelScanExclusiveLocal1,
		compute.D1(n*size/4), compute.D1(WorkgroupSize),
		dst, src, sums, compute.Local(2*WorkgroupSize*4), uint32(size))
}

func (s *Scan) scanLocal2(sums compute.Buffer, n, size int) error {
	elements := n * size
	return s.backend.EnqueueKernel(compute.KernelScanExclusiveLocal2,
		compute.D1(snapUp(elements, WorkgroupSize)), compute.D1(WorkgroupSize),
		sums, compute.Local(2*WorkgroupSize*4), uint32(elements), uint32(size))
}

func (s *Scan) uniformUpdate(dst, sums compute.Buffer, n int) error {
	return s.backend.EnqueueKernel(compute.KernelUniformUpdate,
		compute.D1(n*WorkgroupSize), compute.D1(WorkgroupSize),
		dst, sums)
}

// Release frees the block-sum buffer. Later calls are no-ops.
func (s *Scan) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	if err := s.scratch.release(); err != nil {
		return resourceError("Scan.Release", "release scratch", err)
	}
	return nil
}

// IsReleased reports whether Release has been called.
func (s *Scan) IsReleased() bool { return s.released }

func snapUp(dividend, divisor int) int {
	if r := dividend % divisor; r != 0 {
		return dividend - r + divisor
	}
	return dividend
}

package compute

import "fmt"

// Kernel names understood by every backend. Argument order is part of the
// contract; see the per-kernel comments.
const (
	// dst, src, sums, Local, size
	// Exclusive scan of every size-long segment of src into dst. Each lane
	// owns four consecutive elements, so a group covers 4*local.X elements.
	// Group g also writes the total of its whole chunk to sums[g]. Every
	// element is read before it is written, so dst may alias src.
	KernelScanExclusiveLocal1 = "scanExclusiveLocal1"

	// sums, Local, elements, size
	// Replaces the first elements chunk totals in sums with their exclusive
	// scan, restarting every size elements.
	KernelScanExclusiveLocal2 = "scanExclusiveLocal2"

	// dst, sums
	// Adds sums[g] to every element of the g-th 4*local.X chunk of dst.
	KernelUniformUpdate = "uniformUpdate"

	// keys, tempKeys, nbits, startBit, endBit, numElements, totalBlocks, Local
	// Stable local sort of each 4*local.X block of keys by the digit at
	// startBit; result written to the same block of tempKeys.
	KernelRadixSortBlocks = "radixSortBlocksKeysOnly"

	// tempKeys, counters, blockOffsets, nbits, startBit, endBit, numElements, totalBlocks, Local
	// For each 2*local.X block b and digit d: counters[d*totalBlocks+b] is
	// the run length and blockOffsets[b<<nbits+d] the run start within b.
	KernelFindRadixOffsets = "findRadixOffsets"

	// keys, tempKeys, blockOffsets, countersSum, counters, nbits, startBit, endBit, numElements, totalBlocks, Local
	// Scatters tempKeys[b*2*local.X+i] to
	// countersSum[d*totalBlocks+b] + i - blockOffsets[b<<nbits+d].
	KernelReorderData = "reorderDataKeysOnly"
)

// Digit extraction shared by the three sort kernels: the layout radix is
// 1<<nbits, the digit is (key>>startBit)&DigitMask(nbits, startBit, endBit).
// Bits at or above endBit never take part in the ordering.

// DigitMask returns the mask applied to a key shifted right by startBit.
func DigitMask(nbits, startBit, endBit uint32) uint32 {
	w := nbits
	if endBit <= startBit {
		return 0
	}
	if endBit-startBit < w {
		w = endBit - startBit
	}
	if w >= 32 {
		return ^uint32(0)
	}
	return 1<<w - 1
}

// KernelNames lists the kernels in the contract.
func KernelNames() []string {
	return []string{
		KernelScanExclusiveLocal1,
		KernelScanExclusiveLocal2,
		KernelUniformUpdate,
		KernelRadixSortBlocks,
		KernelFindRadixOffsets,
		KernelReorderData,
	}
}

// Shape is the argument count of a contract kernel.
type Shape struct {
	Buffers int
	Scalars int
}

var shapes = map[string]Shape{
	KernelScanExclusiveLocal1: {3, 1},
	KernelScanExclusiveLocal2: {1, 2},
	KernelUniformUpdate:       {2, 0},
	KernelRadixSortBlocks:     {2, 5},
	KernelFindRadixOffsets:    {3, 5},
	KernelReorderData:         {5, 5},
}

// ShapeOf returns the argument shape of a contract kernel.
func ShapeOf(kernel string) (Shape, error) {
	s, ok := shapes[kernel]
	if !ok {
		return Shape{}, fmt.Errorf("%w: %q", ErrUnknownKernel, kernel)
	}
	return s, nil
}

// Args is a launch argument list split by kind, order kept within a kind.
type Args struct {
	Buffers []Buffer
	Scalars []uint32
	Local   int // total bytes of declared local memory
}

// SplitArgs sorts launch arguments into buffers, scalars and local memory.
func SplitArgs(args []any) (Args, error) {
	var a Args
	for i, v := range args {
		switch x := v.(type) {
		case nil:
			return a, fmt.Errorf("%w: arg %d is nil", ErrBadArgument, i)
		case Buffer:
			a.Buffers = append(a.Buffers, x)
		case uint32:
			a.Scalars = append(a.Scalars, x)
		case int:
			if x < 0 {
				return a, fmt.Errorf("%w: arg %d is negative", ErrBadArgument, i)
			}
			a.Scalars = append(a.Scalars, uint32(x))
		case Local:
			if x < 0 {
				return a, fmt.Errorf("%w: arg %d declares negative local memory", ErrBadArgument, i)
			}
			a.Local += int(x)
		default:
			return a, fmt.Errorf("%w: arg %d has type %T", ErrBadArgument, i, v)
		}
	}
	return a, nil
}

// Expect checks the buffer and scalar counts of a launch.
func (a Args) Expect(kernel string, buffers, scalars int) error {
	if len(a.Buffers) != buffers || len(a.Scalars) != scalars {
		return fmt.Errorf("%w: %s wants %d buffers and %d scalars, got %d and %d",
			ErrBadArgument, kernel, buffers, scalars, len(a.Buffers), len(a.Scalars))
	}
	return nil
}

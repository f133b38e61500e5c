package cpu

import (
	"fmt"

	"github.com/openfluke/radix/compute"
)

const maxRadix = 256

type digitArgs struct {
	nbits, startBit uint32
	mask            uint32
	numElements     int
	totalBlocks     int
	radix           int
}

func parseDigitArgs(name string, s []uint32) (digitArgs, error) {
	d := digitArgs{
		nbits:       s[0],
		startBit:    s[1],
		mask:        compute.DigitMask(s[0], s[1], s[2]),
		numElements: int(s[3]),
		totalBlocks: int(s[4]),
	}
	if d.nbits < 1 || d.nbits > 8 {
		return d, fmt.Errorf("%s: digit width %d outside [1,8]", name, d.nbits)
	}
	d.radix = 1 << d.nbits
	return d, nil
}

func (d digitArgs) digit(k uint32) uint32 {
	if d.startBit >= 32 {
		return 0
	}
	return (k >> d.startBit) & d.mask
}

// radixSortBlocks stably sorts one 4*lanes block by the current digit with a
// bucket count, staging the block in local memory.
func radixSortBlocks(g *Group, l *Launch) error {
	keys, temp := l.Buffers[0], l.Buffers[1]
	d, err := parseDigitArgs(compute.KernelRadixSortBlocks, l.Scalars)
	if err != nil {
		return err
	}
	if g.ID.X >= d.totalBlocks {
		return nil
	}
	block := 4 * g.Size.X
	base := g.ID.X * block
	if base+block > d.numElements || base+block > len(keys) || base+block > len(temp) {
		return fmt.Errorf("radixSortBlocks: block %d out of range", g.ID.X)
	}
	if len(g.Local) < block {
		return fmt.Errorf("radixSortBlocks: %d local words, need %d", len(g.Local), block)
	}
	sh := g.Local[:block]
	copy(sh, keys[base:base+block])

	var pos [maxRadix]int
	for _, k := range sh {
		pos[d.digit(k)]++
	}
	sum := 0
	for r := range d.radix {
		c := pos[r]
		pos[r] = sum
		sum += c
	}
	out := temp[base : base+block]
	for _, k := range sh {
		r := d.digit(k)
		out[pos[r]] = k
		pos[r]++
	}
	return nil
}

// findRadixOffsets records, for each 2*lanes half block sorted by the
// previous stage, where every digit run starts and how long it is.
func findRadixOffsets(g *Group, l *Launch) error {
	temp, counters, offsets := l.Buffers[0], l.Buffers[1], l.Buffers[2]
	d, err := parseDigitArgs(compute.KernelFindRadixOffsets, l.Scalars)
	if err != nil {
		return err
	}
	b := g.ID.X
	if b >= d.totalBlocks {
		return nil
	}
	block := 2 * g.Size.X
	base := b * block
	if base+block > d.numElements || base+block > len(temp) {
		return fmt.Errorf("findRadixOffsets: block %d out of range", b)
	}
	if len(counters) < d.radix*d.totalBlocks || len(offsets) < d.radix*d.totalBlocks {
		return fmt.Errorf("findRadixOffsets: counter buffers hold fewer than %d words", d.radix*d.totalBlocks)
	}

	var start, end [maxRadix]uint32
	keys := temp[base : base+block]
	prev := d.digit(keys[0])
	for i := 1; i < block; i++ {
		r := d.digit(keys[i])
		if r != prev {
			end[prev] = uint32(i)
			start[r] = uint32(i)
			prev = r
		}
	}
	end[prev] = uint32(block)

	for r := range d.radix {
		offsets[b*d.radix+r] = start[r]
		counters[r*d.totalBlocks+b] = end[r] - start[r]
	}
	return nil
}

// reorderData scatters every key of a half block to its global position.
func reorderData(g *Group, l *Launch) error {
	keys, temp, offsets, sums := l.Buffers[0], l.Buffers[1], l.Buffers[2], l.Buffers[3]
	d, err := parseDigitArgs(compute.KernelReorderData, l.Scalars)
	if err != nil {
		return err
	}
	b := g.ID.X
	if b >= d.totalBlocks {
		return nil
	}
	block := 2 * g.Size.X
	base := b * block
	if base+block > d.numElements || base+block > len(temp) {
		return fmt.Errorf("reorderData: block %d out of range", b)
	}

	for i, k := range temp[base : base+block] {
		r := int(d.digit(k))
		pos := int(sums[r*d.totalBlocks+b]) + i - int(offsets[b*d.radix+r])
		if pos < 0 || pos >= d.numElements || pos >= len(keys) {
			return fmt.Errorf("reorderData: key %d of block %d scatters to %d", i, b, pos)
		}
		keys[pos] = k
	}
	return nil
}

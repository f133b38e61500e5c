package cpu

import "fmt"

// scanExclusiveLocal1 scans every size-long segment of the group's chunk.
// Each lane owns four consecutive elements; lane totals are scanned in
// local memory and then expanded back over the lane's elements. The chunk
// total goes to sums[group].
func scanExclusiveLocal1(g *Group, l *Launch) error {
	dst, src, sums := l.Buffers[0], l.Buffers[1], l.Buffers[2]
	size := int(l.Scalars[0])
	lanes := g.Size.X
	if size < 4 || size > 4*lanes || (4*lanes)%size != 0 {
		return fmt.Errorf("scanExclusiveLocal1: segment size %d does not tile a %d element chunk", size, 4*lanes)
	}
	if len(g.Local) < lanes {
		return fmt.Errorf("scanExclusiveLocal1: %d local words, need %d", len(g.Local), lanes)
	}
	base := g.ID.X * 4 * lanes
	if base+4*lanes > len(src) || base+4*lanes > len(dst) {
		return fmt.Errorf("scanExclusiveLocal1: chunk %d out of range", g.ID.X)
	}
	if g.ID.X >= len(sums) {
		return fmt.Errorf("scanExclusiveLocal1: no block sum slot for chunk %d", g.ID.X)
	}
	sh := g.Local[:lanes]

	var total uint32
	for lane := range lanes {
		i := base + 4*lane
		sh[lane] = src[i] + src[i+1] + src[i+2] + src[i+3]
		total += sh[lane]
	}
	sums[g.ID.X] = total
	exclusiveSegments(sh, size/4)

	for lane := range lanes {
		i := base + 4*lane
		acc := sh[lane]
		for k := range 4 {
			v := src[i+k]
			dst[i+k] = acc
			acc += v
		}
	}
	return nil
}

// scanExclusiveLocal2 scans, in place, the chunk totals left behind by
// level one.
func scanExclusiveLocal2(g *Group, l *Launch) error {
	sums := l.Buffers[0]
	elements, size := int(l.Scalars[0]), int(l.Scalars[1])
	lanes := g.Size.X
	if size < 1 || size > lanes || lanes%size != 0 {
		return fmt.Errorf("scanExclusiveLocal2: segment size %d does not tile %d lanes", size, lanes)
	}
	if len(g.Local) < lanes {
		return fmt.Errorf("scanExclusiveLocal2: %d local words, need %d", len(g.Local), lanes)
	}
	if elements > len(sums) {
		return fmt.Errorf("scanExclusiveLocal2: %d totals, buffer holds %d", elements, len(sums))
	}
	sh := g.Local[:lanes]

	first := g.ID.X * lanes
	for lane := range lanes {
		i := first + lane
		sh[lane] = 0
		if i < elements {
			sh[lane] = sums[i]
		}
	}
	exclusiveSegments(sh, size)

	for lane := range lanes {
		if i := first + lane; i < elements {
			sums[i] = sh[lane]
		}
	}
	return nil
}

// uniformUpdate adds each chunk's base offset to the chunk.
func uniformUpdate(g *Group, l *Launch) error {
	dst, sums := l.Buffers[0], l.Buffers[1]
	chunk := 4 * g.Size.X
	base := g.ID.X * chunk
	if g.ID.X >= len(sums) || base+chunk > len(dst) {
		return fmt.Errorf("uniformUpdate: chunk %d out of range", g.ID.X)
	}
	add := sums[g.ID.X]
	for i := base; i < base+chunk; i++ {
		dst[i] += add
	}
	return nil
}

// exclusiveSegments replaces v with its exclusive scan, restarting every seg
// elements.
func exclusiveSegments(v []uint32, seg int) {
	for start := 0; start < len(v); start += seg {
		var acc uint32
		for i := start; i < start+seg && i < len(v); i++ {
			x := v[i]
			v[i] = acc
			acc += x
		}
	}
}

package radixsort

// Host reference versions of the device algorithms, used to validate device
// results.

// HostExclusiveScan writes the exclusive prefix sum of each arrayLength-long
// segment of src to dst.
func HostExclusiveScan(dst, src []uint32, arrayLength int) {
	for start := 0; start < len(src); start += arrayLength {
		var acc uint32
		end := min(start+arrayLength, len(src))
		for i := start; i < end; i++ {
			v := src[i]
			dst[i] = acc
			acc += v
		}
	}
}

// HostSort stably sorts keys on their low keyBits bits with 8-bit counting
// passes, least significant byte first.
func HostSort(keys []uint32, keyBits int) {
	if len(keys) <= 1 || keyBits <= 0 {
		return
	}
	mask := sentinelFor(min(keyBits, 32))
	src, dst := keys, make([]uint32, len(keys))
	for shift := 0; shift < keyBits; shift += 8 {
		var counts [256]int
		for _, v := range src {
			counts[(v&mask)>>shift&0xFF]++
		}
		total := 0
		for i, c := range counts {
			counts[i] = total
			total += c
		}
		for _, v := range src {
			b := (v & mask) >> shift & 0xFF
			dst[counts[b]] = v
			counts[b]++
		}
		src, dst = dst, src
	}
	if &src[0] != &keys[0] {
		copy(keys, src)
	}
}

// IsSorted reports whether keys are non-decreasing on their low keyBits bits.
func IsSorted(keys []uint32, keyBits int) bool {
	mask := sentinelFor(min(keyBits, 32))
	for i := 1; i < len(keys); i++ {
		if keys[i-1]&mask > keys[i]&mask {
			return false
		}
	}
	return true
}

package radixsort

import (
	"errors"
	"fmt"

	"github.com/openfluke/radix/compute"
)

// slot indexes a scratch buffer in an arena.
type slot int

const (
	slotTempKeys slot = iota
	slotCounters
	slotCountersSum
	slotBlockOffsets
	slotScanBlockSums
	slotStagingKeys
	numSlots
)

var slotNames = [numSlots]string{
	slotTempKeys:      "tempKeys",
	slotCounters:      "counters",
	slotCountersSum:   "countersSum",
	slotBlockOffsets:  "blockOffsets",
	slotScanBlockSums: "scanBlockSums",
	slotStagingKeys:   "stagingKeys",
}

func (s slot) String() string { return slotNames[s] }

// arena owns a fixed set of scratch buffers. Slots are sized once and never
// resized; release frees everything in one pass. Engines allocate every slot
// at construction except stagingKeys, which SortSlice creates on its first
// call so that engines sorting caller buffers never pay for it.
type arena struct {
	backend compute.Backend
	prefix  string
	bufs    [numSlots]compute.Buffer
}

func newArena(b compute.Backend, prefix string) *arena {
	return &arena{backend: b, prefix: prefix}
}

// alloc creates the buffer for s holding words 32-bit words.
func (a *arena) alloc(s slot, words int) error {
	if a.bufs[s] != nil {
		return fmt.Errorf("arena: slot %s already allocated", s)
	}
	buf, err := a.backend.CreateBuffer(a.prefix+"_"+s.String(), 4*words, compute.ReadWrite)
	if err != nil {
		return fmt.Errorf("arena: allocate %s (%d words): %w", s, words, err)
	}
	a.bufs[s] = buf
	return nil
}

func (a *arena) get(s slot) compute.Buffer { return a.bufs[s] }

// release frees every allocated slot and reports all failures.
func (a *arena) release() error {
	var errs []error
	for i, buf := range a.bufs {
		if buf == nil {
			continue
		}
		if err := a.backend.ReleaseBuffer(buf); err != nil {
			errs = append(errs, fmt.Errorf("arena: release %s: %w", slot(i), err))
		}
		a.bufs[i] = nil
	}
	return errors.Join(errs...)
}

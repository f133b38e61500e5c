package cpu

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfluke/radix/compute"
)

// Group is the execution context of one work-group.
type Group struct {
	ID     compute.Dim // index of this group
	Groups compute.Dim // groups in the launch
	Size   compute.Dim // lanes per group
	Local  []uint32    // zeroed local memory, Local bytes / 4 words
}

// Launch holds the resolved arguments of one kernel launch.
type Launch struct {
	Buffers [][]uint32
	Scalars []uint32
}

// KernelFunc runs one work-group. Groups of a launch run concurrently and
// must only write disjoint regions of global memory.
type KernelFunc func(g *Group, l *Launch) error

// Kernel is a registered CPU kernel body with its argument shape.
type Kernel struct {
	Name    string
	Buffers int
	Scalars int
	Run     KernelFunc
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Kernel{}
)

// Register adds or replaces a kernel.
func Register(k Kernel) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[k.Name] = k
}

// Lookup returns the kernel registered under name.
func Lookup(name string) (Kernel, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := registry[name]
	if !ok {
		return Kernel{}, fmt.Errorf("%w: %q", compute.ErrUnknownKernel, name)
	}
	return k, nil
}

// Names returns the registered kernel names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	bodies := map[string]KernelFunc{
		compute.KernelScanExclusiveLocal1: scanExclusiveLocal1,
		compute.KernelScanExclusiveLocal2: scanExclusiveLocal2,
		compute.KernelUniformUpdate:       uniformUpdate,
		compute.KernelRadixSortBlocks:     radixSortBlocks,
		compute.KernelFindRadixOffsets:    findRadixOffsets,
		compute.KernelReorderData:         reorderData,
	}
	for _, name := range compute.KernelNames() {
		shape, err := compute.ShapeOf(name)
		if err != nil {
			panic(err)
		}
		Register(Kernel{Name: name, Buffers: shape.Buffers, Scalars: shape.Scalars, Run: bodies[name]})
	}
}

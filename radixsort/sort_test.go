package radixsort

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/radix/compute"
	"github.com/openfluke/radix/cpu"
)

// smallBlock keeps the minimum sort size at 2048 keys with 4-bit digits.
const smallBlock = 8

func newSorter(t testing.TB, b compute.Backend, maxElements, blockSize int, opts ...Option) *Sorter {
	t.Helper()
	s, err := New(b, maxElements, blockSize, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Release() })
	return s
}

func randomKeys(seed int64, n int) []uint32 {
	rng := rand.New(rand.NewSource(seed))
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = rng.Uint32()
	}
	return keys
}

func sortOnDevice(t testing.TB, s *Sorter, b compute.Backend, keys []uint32, keyBits int) []uint32 {
	t.Helper()
	buf := deviceSlice(t, b, "keys", keys)
	require.NoError(t, s.Sort(buf, len(keys), keyBits))
	return readAll(t, b, buf, len(keys))
}

func hostSorted(keys []uint32, keyBits int) []uint32 {
	want := append([]uint32(nil), keys...)
	HostSort(want, keyBits)
	return want
}

func TestSortNineKeys(t *testing.T) {
	b := newBackend(t)
	s := newSorter(t, b, 8192, smallBlock)

	keys := make([]uint32, 2048)
	copy(keys, []uint32{5, 3, 1, 4, 1, 5, 9, 2, 6})
	for i := 9; i < len(keys); i++ {
		keys[i] = 15
	}
	got := sortOnDevice(t, s, b, keys, 4)
	assert.Equal(t, []uint32{1, 1, 2, 3, 4, 5, 5, 6, 9}, got[:9])
	for _, v := range got[9:] {
		require.Equal(t, uint32(15), v)
	}
}

func TestSortRandom(t *testing.T) {
	b := newBackend(t)
	s := newSorter(t, b, 8192, smallBlock)

	for _, n := range []int{2048, 4096, 8192} {
		keys := randomKeys(int64(n), n)
		got := sortOnDevice(t, s, b, keys, 32)
		require.True(t, IsSorted(got, 32), "n=%d", n)
		assert.Equal(t, hostSorted(keys, 32), got, "n=%d", n)
	}
}

func TestSortIdempotent(t *testing.T) {
	b := newBackend(t)
	s := newSorter(t, b, 4096, smallBlock)

	keys := randomKeys(7, 4096)
	buf := deviceSlice(t, b, "keys", keys)
	require.NoError(t, s.Sort(buf, 4096, 32))
	once := readAll(t, b, buf, 4096)
	require.NoError(t, s.Sort(buf, 4096, 32))
	assert.Equal(t, once, readAll(t, b, buf, 4096))
}

func TestSortPartialKeyBits(t *testing.T) {
	b := newBackend(t)
	s := newSorter(t, b, 4096, smallBlock)

	// High bits are payload: only the low keyBits order the keys, and the
	// order of equal digits is preserved.
	for _, keyBits := range []int{1, 5, 12, 16, 31} {
		keys := randomKeys(int64(keyBits), 4096)
		got := sortOnDevice(t, s, b, keys, keyBits)
		require.True(t, IsSorted(got, keyBits), "keyBits=%d", keyBits)
		assert.Equal(t, hostSorted(keys, keyBits), got, "keyBits=%d", keyBits)
	}
}

func TestSortBitSteps(t *testing.T) {
	b := newBackend(t)
	cases := []struct {
		bitStep, maxElements, n int
	}{
		{1, 16384, 16384},
		{2, 8192, 8192},
		{3, 8192, 4096},
		{8, 8192, 4096},
		{8, 8192, 128},
	}
	for _, tc := range cases {
		s := newSorter(t, b, tc.maxElements, smallBlock, WithBitStep(tc.bitStep))
		keys := randomKeys(int64(tc.bitStep), tc.n)
		got := sortOnDevice(t, s, b, keys, 32)
		assert.Equal(t, hostSorted(keys, 32), got, "bitStep=%d n=%d", tc.bitStep, tc.n)
		assert.Equal(t, tc.bitStep, s.Config().BitStep)
	}
}

func TestSortDefaultBlockSize(t *testing.T) {
	b := newBackend(t)
	s := newSorter(t, b, 65536, DefaultBlockSize)
	assert.Equal(t, 32768, s.Config().MinElements())

	keys := randomKeys(11, 65536)
	got := sortOnDevice(t, s, b, keys, 32)
	assert.Equal(t, hostSorted(keys, 32), got)
}

func TestSortLaunchOrder(t *testing.T) {
	var kernels []string
	b := cpu.New(2).WithObserver(compute.ObserverFunc(func(ev compute.LaunchEvent) {
		kernels = append(kernels, ev.Kernel)
	}))
	defer b.Close()
	s := newSorter(t, b, 2048, smallBlock)

	buf := deviceSlice(t, b, "keys", randomKeys(1, 2048))
	require.NoError(t, s.Sort(buf, 2048, 4))
	assert.Equal(t, []string{
		compute.KernelRadixSortBlocks,
		compute.KernelFindRadixOffsets,
		compute.KernelScanExclusiveLocal1,
		compute.KernelScanExclusiveLocal2,
		compute.KernelUniformUpdate,
		compute.KernelReorderData,
	}, kernels)
	require.NoError(t, b.Finish(context.Background()))

	kernels = nil
	require.NoError(t, s.Sort(buf, 2048, 32))
	assert.Len(t, kernels, 8*6)
	assert.Equal(t, Stats{Sorts: 2, Passes: 9, Launches: 54}, s.Stats())
}

func TestSortRejectsBeforeLaunching(t *testing.T) {
	launches := 0
	b := cpu.New(2).WithObserver(compute.ObserverFunc(func(compute.LaunchEvent) { launches++ }))
	defer b.Close()
	s := newSorter(t, b, 8192, smallBlock)

	keys := deviceSlice(t, b, "keys", make([]uint32, 8192))
	short := deviceSlice(t, b, "short", make([]uint32, 2048))

	cases := []struct {
		name    string
		buf     compute.Buffer
		n, bits int
		target  error
	}{
		{"not a multiple", keys, 2050, 32, ErrPrecondition},
		{"zero", keys, 0, 32, ErrPrecondition},
		{"over capacity", keys, 8192 + 4*smallBlock, 32, ErrPrecondition},
		{"short buffer", short, 4096, 32, ErrPrecondition},
		{"nil buffer", nil, 2048, 32, ErrPrecondition},
		{"no key bits", keys, 2048, 0, ErrPrecondition},
		{"too many key bits", keys, 2048, 33, ErrPrecondition},
		{"scan length not a power of two", keys, 2080, 32, ErrConfiguration},
		{"scan length too short", keys, 1024, 32, ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Sort(tc.buf, tc.n, tc.bits)
			assert.ErrorIs(t, err, tc.target)
			assert.Zero(t, launches)
		})
	}
	assert.Zero(t, s.Stats().Sorts)
}

func TestNewRejectsConfigurations(t *testing.T) {
	b := newBackend(t)
	cases := []struct {
		name                   string
		maxElements, blockSize int
		opts                   []Option
	}{
		{"not a multiple of the block", 1000, smallBlock, nil},
		{"scan length below minimum", 1024, smallBlock, nil},
		{"scan length above maximum", 1 << 20, smallBlock, nil},
		{"block not a power of two", 8192, 3, nil},
		{"zero block", 8192, 0, nil},
		{"negative block", 8192, -8, nil},
		{"block too large", 8192, 512, nil},
		{"bit step too wide", 8192, smallBlock, []Option{WithBitStep(9)}},
		{"negative bit step", 8192, smallBlock, []Option{WithBitStep(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(b, tc.maxElements, tc.blockSize, tc.opts...)
			assert.Nil(t, s)
			assert.True(t, IsConfiguration(err), "%v", err)
		})
	}

	_, err := New(nil, 8192, smallBlock)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewFromConfigDefaults(t *testing.T) {
	b := newBackend(t)
	s, err := NewFromConfig(b, Config{MaxElements: 32768})
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, DefaultConfig(32768), s.Config())
}

func TestSorterRelease(t *testing.T) {
	b := newBackend(t)
	s, err := New(b, 2048, smallBlock)
	require.NoError(t, err)
	buf := deviceSlice(t, b, "keys", make([]uint32, 2048))

	require.NoError(t, s.Release())
	assert.True(t, s.IsReleased())
	require.NoError(t, s.Release())

	err = s.Sort(buf, 2048, 32)
	assert.ErrorIs(t, err, ErrReleased)
	assert.True(t, IsPrecondition(err))
	assert.ErrorIs(t, s.SortSlice(context.Background(), []uint32{3, 1}, 32), ErrReleased)
}

func TestSortSlice(t *testing.T) {
	b := newBackend(t)
	s := newSorter(t, b, 8192, smallBlock)
	ctx := context.Background()

	// The staging slot is the one scratch buffer created on first use, and
	// it is reused afterwards.
	assert.Nil(t, s.scratch.get(slotStagingKeys))
	var staging compute.Buffer
	for _, n := range []int{1, 9, 1000, 5000} {
		keys := randomKeys(int64(n), n)
		want := hostSorted(keys, 32)
		require.NoError(t, s.SortSlice(ctx, keys, 32))
		assert.Equal(t, want, keys, "n=%d", n)
		if staging == nil {
			staging = s.scratch.get(slotStagingKeys)
			require.NotNil(t, staging)
			assert.Equal(t, 8192, staging.Len())
		}
		assert.True(t, staging == s.scratch.get(slotStagingKeys), "n=%d", n)
	}

	keys := []uint32{0xF5, 0x03, 0xA1, 0x14, 0xFF, 0x0F}
	require.NoError(t, s.SortSlice(ctx, keys, 4))
	assert.Equal(t, []uint32{0xA1, 0x03, 0x14, 0xF5, 0xFF, 0x0F}, keys)

	require.NoError(t, s.SortSlice(ctx, nil, 32))
	assert.ErrorIs(t, s.SortSlice(ctx, make([]uint32, 9000), 32), ErrPrecondition)
	assert.ErrorIs(t, s.SortSlice(ctx, []uint32{1}, 0), ErrPrecondition)
}

func TestPaddedLength(t *testing.T) {
	b := newBackend(t)
	s := newSorter(t, b, 8192, smallBlock)
	assert.Equal(t, 2048, s.PaddedLength(1))
	assert.Equal(t, 2048, s.PaddedLength(2048))
	assert.Equal(t, 4096, s.PaddedLength(2049))
	assert.Equal(t, 8192, s.PaddedLength(5000))
}

// failingBackend fails every launch of one kernel.
type failingBackend struct {
	compute.Backend
	kernel string
}

func (f failingBackend) EnqueueKernel(name string, global, local compute.Dim, args ...any) error {
	if name == f.kernel {
		return errors.New("device lost")
	}
	return f.Backend.EnqueueKernel(name, global, local, args...)
}

func TestSortSurfacesLaunchFailure(t *testing.T) {
	b := failingBackend{Backend: newBackend(t), kernel: compute.KernelReorderData}
	s := newSorter(t, b, 2048, smallBlock)

	buf := deviceSlice(t, b, "keys", make([]uint32, 2048))
	err := s.Sort(buf, 2048, 32)
	require.Error(t, err)
	assert.True(t, IsResource(err))

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "Sort", e.Op)
	assert.EqualError(t, e.Err, "device lost")
}

func BenchmarkSort(b *testing.B) {
	const n = 1 << 18
	be := newBackend(b)
	s := newSorter(b, be, n, DefaultBlockSize)
	keys := randomKeys(42, n)
	buf := deviceSlice(b, be, "keys", keys)
	ctx := context.Background()

	b.SetBytes(4 * n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		require.NoError(b, be.WriteBuffer(ctx, buf, 0, keys, true))
		b.StartTimer()
		require.NoError(b, s.Sort(buf, n, 32))
		require.NoError(b, be.Finish(ctx))
	}
}

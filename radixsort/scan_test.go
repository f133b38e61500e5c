package radixsort

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/radix/compute"
	"github.com/openfluke/radix/cpu"
)

func newBackend(t testing.TB) *cpu.Backend {
	t.Helper()
	b := cpu.New(0)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func deviceSlice(t testing.TB, b compute.Backend, label string, data []uint32) compute.Buffer {
	t.Helper()
	buf, err := b.CreateBuffer(label, 4*len(data), compute.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, b.WriteBuffer(context.Background(), buf, 0, data, true))
	return buf
}

func readAll(t testing.TB, b compute.Backend, buf compute.Buffer, n int) []uint32 {
	t.Helper()
	out := make([]uint32, n)
	require.NoError(t, b.ReadBuffer(context.Background(), buf, 0, out))
	return out
}

func runScan(t *testing.T, s *Scan, b compute.Backend, src []uint32, batch, length int) []uint32 {
	t.Helper()
	in := deviceSlice(t, b, "src", src)
	out := deviceSlice(t, b, "dst", make([]uint32, len(src)))
	require.NoError(t, s.ExclusiveScan(out, in, batch, length))
	return readAll(t, b, out, len(src))
}

func TestScanOnes(t *testing.T) {
	b := newBackend(t)
	s, err := NewScan(b, MinLargeArraySize)
	require.NoError(t, err)
	defer s.Release()

	src := make([]uint32, MinLargeArraySize)
	for i := range 8 {
		src[i] = 1
	}
	got := runScan(t, s, b, src, 1, MinLargeArraySize)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8}, got[:9])
	for _, v := range got[8:] {
		require.Equal(t, uint32(8), v)
	}

	for i := range src {
		src[i] = 1
	}
	got = runScan(t, s, b, src, 1, MinLargeArraySize)
	for i, v := range got {
		require.Equal(t, uint32(i), v)
	}
}

func TestScanMatchesHost(t *testing.T) {
	b := newBackend(t)
	rng := rand.New(rand.NewSource(42))

	cases := []struct {
		name          string
		batch, length int
	}{
		{"single min", 1, MinLargeArraySize},
		{"batched", 4, 4096},
		{"single 64k", 1, 65536},
		{"batched min", 16, MinLargeArraySize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := tc.batch * tc.length
			s, err := NewScan(b, n)
			require.NoError(t, err)
			defer s.Release()

			src := make([]uint32, n)
			for i := range src {
				src[i] = uint32(rng.Intn(1000))
			}
			got := runScan(t, s, b, src, tc.batch, tc.length)

			want := make([]uint32, n)
			HostExclusiveScan(want, src, tc.length)
			require.Equal(t, want, got)

			var inclusive uint32
			for i := range src {
				if i%tc.length == 0 {
					assert.Zero(t, got[i], "segment start %d", i)
					inclusive = 0
				}
				inclusive += src[i]
				require.Equal(t, inclusive, got[i]+src[i], "index %d", i)
			}
		})
	}
}

func TestScanAllZero(t *testing.T) {
	b := newBackend(t)
	s, err := NewScan(b, 8192)
	require.NoError(t, err)
	defer s.Release()

	got := runScan(t, s, b, make([]uint32, 8192), 2, 4096)
	for _, v := range got {
		require.Zero(t, v)
	}
}

func TestScanBounds(t *testing.T) {
	b := newBackend(t)
	s, err := NewScan(b, MaxLargeArraySize)
	require.NoError(t, err)
	defer s.Release()

	big := deviceSlice(t, b, "big", make([]uint32, 2*MaxLargeArraySize))
	out := deviceSlice(t, b, "out", make([]uint32, 2*MaxLargeArraySize))

	assert.NoError(t, s.ExclusiveScan(out, big, 1, MinLargeArraySize))
	assert.NoError(t, s.ExclusiveScan(out, big, 1, MaxLargeArraySize))
	require.NoError(t, b.Finish(context.Background()))

	for _, length := range []int{MinLargeArraySize / 2, MaxLargeArraySize * 2, 3000} {
		err := s.ExclusiveScan(out, big, 1, length)
		assert.True(t, IsConfiguration(err), "length %d: %v", length, err)
	}

	err = s.ExclusiveScan(out, big, MaxBatchElements/MaxLargeArraySize+1, MaxLargeArraySize)
	assert.ErrorIs(t, err, ErrConfiguration)

	// Within the global limit but over what this engine was sized for.
	err = s.ExclusiveScan(out, big, 2, MaxLargeArraySize)
	assert.ErrorIs(t, err, ErrConfiguration)

	err = s.ExclusiveScan(out, big, 0, MinLargeArraySize)
	assert.ErrorIs(t, err, ErrConfiguration)

	short := deviceSlice(t, b, "short", make([]uint32, 16))
	err = s.ExclusiveScan(out, short, 1, MinLargeArraySize)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestScanShort(t *testing.T) {
	b := newBackend(t)
	s, err := NewScan(b, 4096)
	require.NoError(t, err)
	defer s.Release()

	rng := rand.New(rand.NewSource(3))
	for _, length := range []int{MinShortArraySize, 64, MaxShortArraySize} {
		n := 2048
		src := make([]uint32, n)
		for i := range src {
			src[i] = uint32(rng.Intn(50))
		}
		in := deviceSlice(t, b, "src", src)
		out := deviceSlice(t, b, "dst", make([]uint32, n))
		require.NoError(t, s.ExclusiveScanShort(out, in, n/length, length))

		want := make([]uint32, n)
		HostExclusiveScan(want, src, length)
		assert.Equal(t, want, readAll(t, b, out, n), "length %d", length)
	}

	buf := deviceSlice(t, b, "x", make([]uint32, 4096))
	assert.ErrorIs(t, s.ExclusiveScanShort(buf, buf, 1, 2*MaxShortArraySize), ErrConfiguration)
	assert.ErrorIs(t, s.ExclusiveScanShort(buf, buf, 1, 512), ErrConfiguration)
	assert.ErrorIs(t, s.ExclusiveScanShort(buf, buf, 512, 2), ErrConfiguration)

	// Each chunk records its total in the block-sum buffer, so a short scan
	// is bounded by the engine capacity too.
	big := deviceSlice(t, b, "big", make([]uint32, 8192))
	assert.ErrorIs(t, s.ExclusiveScanShort(big, big, 8, MaxShortArraySize), ErrConfiguration)
}

func TestScanLaunchSequence(t *testing.T) {
	var kernels []string
	b := cpu.New(2).WithObserver(compute.ObserverFunc(func(ev compute.LaunchEvent) {
		kernels = append(kernels, ev.Kernel)
	}))
	defer b.Close()

	s, err := NewScan(b, 4096)
	require.NoError(t, err)
	defer s.Release()

	buf := deviceSlice(t, b, "x", make([]uint32, 4096))
	require.NoError(t, s.ExclusiveScan(buf, buf, 1, 4096))
	assert.Equal(t, []string{
		compute.KernelScanExclusiveLocal1,
		compute.KernelScanExclusiveLocal2,
		compute.KernelUniformUpdate,
	}, kernels)
}

func TestScanInPlace(t *testing.T) {
	b := newBackend(t)
	s, err := NewScan(b, 4096)
	require.NoError(t, err)
	defer s.Release()

	src := make([]uint32, 4096)
	for i := range src {
		src[i] = uint32(i % 7)
	}
	buf := deviceSlice(t, b, "x", src)
	require.NoError(t, s.ExclusiveScan(buf, buf, 1, 4096))

	want := make([]uint32, len(src))
	HostExclusiveScan(want, src, 4096)
	assert.Equal(t, want, readAll(t, b, buf, len(src)))
}

func TestScanInPlaceChunkBases(t *testing.T) {
	b := newBackend(t)
	s, err := NewScan(b, 4096)
	require.NoError(t, err)
	defer s.Release()

	// Two segments of two chunks each: every chunk after the first starts
	// from the running total of the chunks before it.
	ones := make([]uint32, 4096)
	for i := range ones {
		ones[i] = 1
	}
	buf := deviceSlice(t, b, "x", ones)
	require.NoError(t, s.ExclusiveScan(buf, buf, 2, MinLargeArraySize))

	got := readAll(t, b, buf, len(ones))
	for _, i := range []int{0, 1023, 1024, 2047} {
		assert.Equal(t, uint32(i), got[i], "index %d", i)
		assert.Equal(t, uint32(i), got[MinLargeArraySize+i], "index %d", MinLargeArraySize+i)
	}
}

func TestScanRelease(t *testing.T) {
	b := newBackend(t)
	s, err := NewScan(b, 4096)
	require.NoError(t, err)
	assert.False(t, s.IsReleased())
	require.NoError(t, s.Release())
	assert.True(t, s.IsReleased())
	require.NoError(t, s.Release())

	buf := deviceSlice(t, b, "x", make([]uint32, 4096))
	assert.ErrorIs(t, s.ExclusiveScan(buf, buf, 1, 4096), ErrReleased)
	assert.ErrorIs(t, s.ExclusiveScanShort(buf, buf, 4, 1024), ErrReleased)
	assert.True(t, IsPrecondition(s.ExclusiveScan(buf, buf, 1, 4096)))

	_, err = NewScan(b, 0)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewScan(nil, 4096)
	assert.ErrorIs(t, err, ErrConfiguration)
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/openfluke/radix/compute"
	"github.com/openfluke/radix/radixsort"
)

// Result is the outcome of one (block size, element count) run.
type Result struct {
	BlockSize int
	Elements  int
	Passes    int
	Mean      time.Duration
	Valid     bool
	Snapshot  []uint32
}

// KeysPerSecond is the sort throughput of the mean sample.
func (r Result) KeysPerSecond() float64 {
	if r.Mean <= 0 {
		return 0
	}
	return float64(r.Elements) / r.Mean.Seconds()
}

const snapshotLen = 8

// runBench sorts random keys at every planned size, validates the first
// result against a host sort and times cfg.Samples more sorts.
func runBench(ctx context.Context, b compute.Backend, cfg BenchConfig, log *slog.Logger) ([]Result, error) {
	var results []Result
	for _, blockSize := range cfg.BlockSizes {
		sizes := cfg.sizes(blockSize)
		if len(sizes) == 0 {
			log.Warn("no valid sizes for block size", "blockSize", blockSize,
				"min", cfg.MinElements, "max", cfg.MaxElements)
			continue
		}
		for _, n := range sizes {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			r, err := benchOne(ctx, b, cfg, blockSize, n, log)
			if err != nil {
				return results, fmt.Errorf("block size %d, %d keys: %w", blockSize, n, err)
			}
			results = append(results, r)
		}
	}
	return results, nil
}

func benchOne(ctx context.Context, b compute.Backend, cfg BenchConfig, blockSize, n int, log *slog.Logger) (Result, error) {
	s, err := radixsort.New(b, n, blockSize, radixsort.WithBitStep(cfg.BitStep), radixsort.WithLogger(log))
	if err != nil {
		return Result{}, err
	}
	defer s.Release()

	keys := make([]uint32, n)
	rng := rand.New(rand.NewSource(cfg.Seed))
	mask := uint32(1<<uint(cfg.KeyBits) - 1)
	if cfg.KeyBits >= 32 {
		mask = ^uint32(0)
	}
	for i := range keys {
		keys[i] = rng.Uint32() & mask
	}

	buf, err := b.CreateBuffer("bench_keys", 4*n, compute.ReadWrite)
	if err != nil {
		return Result{}, err
	}
	defer b.ReleaseBuffer(buf)

	// Validation run.
	if err := b.WriteBuffer(ctx, buf, 0, keys, true); err != nil {
		return Result{}, err
	}
	if err := s.Sort(buf, n, cfg.KeyBits); err != nil {
		return Result{}, err
	}
	got := make([]uint32, n)
	if err := b.ReadBuffer(ctx, buf, 0, got); err != nil {
		return Result{}, err
	}
	want := slices.Clone(keys)
	radixsort.HostSort(want, cfg.KeyBits)

	r := Result{
		BlockSize: blockSize,
		Elements:  n,
		Passes:    s.Config().Passes(cfg.KeyBits),
		Valid:     slices.Equal(got, want),
		Snapshot:  slices.Clone(got[:min(snapshotLen, n)]),
	}
	if !r.Valid {
		log.Error("sort produced a wrong order", "blockSize", blockSize, "elements", n)
		return r, nil
	}

	var total time.Duration
	for range cfg.Samples {
		if err := b.WriteBuffer(ctx, buf, 0, keys, true); err != nil {
			return r, err
		}
		start := time.Now()
		if err := s.Sort(buf, n, cfg.KeyBits); err != nil {
			return r, err
		}
		if err := b.Finish(ctx); err != nil {
			return r, err
		}
		total += time.Since(start)
	}
	r.Mean = total / time.Duration(cfg.Samples)
	log.Debug("bench: size done", "blockSize", blockSize, "elements", n, "mean", r.Mean)
	return r, nil
}

// printResults writes one row per run.
func printResults(w io.Writer, backend string, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "backend\tblock\tkeys\tpasses\tmean ms\tMkeys/s\tvalid\tsnapshot\t\n")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3f\t%.2f\t%t\t%v\t\n",
			backend, r.BlockSize, r.Elements, r.Passes,
			float64(r.Mean.Microseconds())/1000, r.KeysPerSecond()/1e6, r.Valid, r.Snapshot)
	}
	return tw.Flush()
}

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/radix/cpu"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
backend = "cpu"
blockSizes = [8, 16]
minElements = 2048
maxElements = 8192
samples = 3
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 16}, cfg.BlockSizes)
	assert.Equal(t, 3, cfg.Samples)
	// Keys the file leaves out keep their defaults.
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 32, cfg.KeyBits)
}

func TestLoadConfigRejects(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `blockSize = 8`))
	assert.ErrorContains(t, err, "unknown config keys: blockSize")

	_, err = LoadConfig(writeConfig(t, `backend = "tpu"`))
	assert.ErrorContains(t, err, "backend")

	_, err = LoadConfig(writeConfig(t, `samples = "many"`))
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestBenchConfigValidate(t *testing.T) {
	mutate := []func(*BenchConfig){
		func(c *BenchConfig) { c.BlockSizes = nil },
		func(c *BenchConfig) { c.BlockSizes = []int{96} },
		func(c *BenchConfig) { c.BlockSizes = []int{512} },
		func(c *BenchConfig) { c.BitStep = 0 },
		func(c *BenchConfig) { c.KeyBits = 33 },
		func(c *BenchConfig) { c.MinElements, c.MaxElements = 4096, 2048 },
		func(c *BenchConfig) { c.Samples = 0 },
	}
	require.NoError(t, DefaultBenchConfig().Validate())
	for i, m := range mutate {
		cfg := DefaultBenchConfig()
		m(&cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}

func TestSizes(t *testing.T) {
	cfg := DefaultBenchConfig()
	cfg.MinElements, cfg.MaxElements = 1000, 8192
	assert.Equal(t, []int{2048, 4096, 8192}, cfg.sizes(8))
	// 128-lane blocks need at least 32768 keys with 4-bit digits.
	assert.Empty(t, cfg.sizes(128))

	cfg = DefaultBenchConfig()
	sizes := cfg.sizes(256)
	assert.Equal(t, 65536, sizes[0])
	assert.Equal(t, 8388608, sizes[len(sizes)-1])
}

func TestRunBench(t *testing.T) {
	b := cpu.New(2)
	defer b.Close()

	cfg := DefaultBenchConfig()
	cfg.BlockSizes = []int{8, 128}
	cfg.MinElements, cfg.MaxElements = 2048, 4096
	cfg.Samples = 2
	cfg.KeyBits = 20

	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	results, err := runBench(context.Background(), b, cfg, log)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Valid)
		assert.Equal(t, 8, r.BlockSize)
		assert.Equal(t, 5, r.Passes)
		assert.Positive(t, r.Mean)
		assert.Len(t, r.Snapshot, snapshotLen)
	}

	var out bytes.Buffer
	require.NoError(t, printResults(&out, "cpu", results))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Mkeys/s")
}

func TestBenchCommand(t *testing.T) {
	var out bytes.Buffer
	app.Writer = &out
	defer func() { app.Writer = os.Stdout }()

	err := app.Run([]string{"radixbench", "bench",
		"--blockSizes", "8", "--minElements", "2048", "--maxElements", "2048",
		"--samples", "1", "--logLevel", "error"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "2048")
	assert.Contains(t, out.String(), "true")

	err = app.Run([]string{"radixbench", "bench", "--backend", "tpu"})
	assert.ErrorContains(t, err, "backend")
}

package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/openfluke/radix/radixsort"
)

// BenchConfig is the benchmark plan. It can be loaded from TOML; flags set
// on the command line override the file.
type BenchConfig struct {
	Backend     string `toml:"backend"` // "cpu" or "gpu"
	Workers     int    `toml:"workers"` // cpu backend only; 0 means GOMAXPROCS
	BlockSizes  []int  `toml:"blockSizes"`
	BitStep     int    `toml:"bitStep"`
	KeyBits     int    `toml:"keyBits"`
	MinElements int    `toml:"minElements"`
	MaxElements int    `toml:"maxElements"`
	Samples     int    `toml:"samples"`
	Seed        int64  `toml:"seed"`
	LogLevel    string `toml:"logLevel"`
}

// DefaultBenchConfig mirrors the classic demo: both block sizes, 32K to 8M
// keys, ten timed samples per size.
func DefaultBenchConfig() BenchConfig {
	return BenchConfig{
		Backend:     "cpu",
		BlockSizes:  []int{128, 256},
		BitStep:     radixsort.DefaultBitStep,
		KeyBits:     radixsort.MaxKeyBits,
		MinElements: 32768,
		MaxElements: 8388608,
		Samples:     10,
		Seed:        42,
		LogLevel:    "info",
	}
}

// LoadConfig reads path over the defaults. Unknown keys are rejected.
func LoadConfig(path string) (BenchConfig, error) {
	cfg := DefaultBenchConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks the plan before any engine is built.
func (c BenchConfig) Validate() error {
	switch c.Backend {
	case "cpu", "gpu":
	default:
		return fmt.Errorf("backend %q must be cpu or gpu", c.Backend)
	}
	if len(c.BlockSizes) == 0 {
		return fmt.Errorf("no block sizes")
	}
	for _, b := range c.BlockSizes {
		if b < 1 || b > radixsort.MaxBlockSize || b&(b-1) != 0 {
			return fmt.Errorf("block size %d must be a power of two in [1,%d]", b, radixsort.MaxBlockSize)
		}
	}
	if c.BitStep < 1 || c.BitStep > radixsort.MaxBitStep {
		return fmt.Errorf("bit step %d outside [1,%d]", c.BitStep, radixsort.MaxBitStep)
	}
	if c.KeyBits < 1 || c.KeyBits > radixsort.MaxKeyBits {
		return fmt.Errorf("key bits %d outside [1,%d]", c.KeyBits, radixsort.MaxKeyBits)
	}
	if c.MinElements <= 0 || c.MaxElements < c.MinElements {
		return fmt.Errorf("element range [%d,%d] is empty", c.MinElements, c.MaxElements)
	}
	if c.Samples < 1 {
		return fmt.Errorf("samples %d must be positive", c.Samples)
	}
	return nil
}

// sizes lists the power-of-two key counts in [MinElements, MaxElements]
// that an engine with blockSize lanes can sort.
func (c BenchConfig) sizes(blockSize int) []int {
	cfg := radixsort.Config{BlockSize: blockSize, BitStep: c.BitStep}
	var out []int
	for n := 1; n <= c.MaxElements; n *= 2 {
		if n < c.MinElements {
			continue
		}
		cfg.MaxElements = n
		if cfg.Validate() == nil {
			out = append(out, n)
		}
	}
	return out
}

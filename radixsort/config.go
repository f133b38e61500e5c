package radixsort

import "math/bits"

// Scan engine limits.
const (
	WorkgroupSize                 = 256
	MaxWorkgroupInclusiveScanSize = 1024
	MaxBatchElements              = 64 * 1048576
	MinShortArraySize             = 4
	MaxShortArraySize             = 4 * WorkgroupSize
	MinLargeArraySize             = 8 * WorkgroupSize
	MaxLargeArraySize             = 4 * WorkgroupSize * WorkgroupSize
)

// Sort engine defaults.
const (
	DefaultBitStep   = 4
	DefaultBlockSize = 128
	MaxBlockSize     = 256
	MaxBitStep       = 8
	MaxKeyBits       = 32
)

// Config sizes a Sorter. It is what cmd/radixbench reads from TOML.
type Config struct {
	MaxElements int `toml:"maxElements"`
	BlockSize   int `toml:"blockSize"` // CTA size, lanes per work-group
	BitStep     int `toml:"bitStep"`   // digit width per pass
}

// DefaultConfig returns a configuration for up to maxElements keys.
func DefaultConfig(maxElements int) Config {
	return Config{MaxElements: maxElements, BlockSize: DefaultBlockSize, BitStep: DefaultBitStep}
}

func (c Config) withDefaults() Config {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.BitStep == 0 {
		c.BitStep = DefaultBitStep
	}
	return c
}

// Validate checks the configuration against the scan engine bounds. Zero
// BlockSize and BitStep take their defaults.
func (c Config) Validate() error {
	const op = "Config.Validate"
	c = c.withDefaults()
	if c.BlockSize < 1 || c.BlockSize > MaxBlockSize || !isPowerOf2(c.BlockSize) {
		return configError(op, "block size %d must be a power of two in [1,%d]", c.BlockSize, MaxBlockSize)
	}
	if c.BitStep < 1 || c.BitStep > MaxBitStep {
		return configError(op, "bit step %d outside [1,%d]", c.BitStep, MaxBitStep)
	}
	gran := 4 * c.BlockSize
	if c.MaxElements <= 0 || c.MaxElements%gran != 0 {
		return configError(op, "max elements %d must be a positive multiple of %d", c.MaxElements, gran)
	}
	seg := c.segmentLength(c.MaxElements)
	if seg < MinLargeArraySize || seg > MaxLargeArraySize {
		return configError(op, "max elements %d derive a scan length %d outside [%d,%d]",
			c.MaxElements, seg, MinLargeArraySize, MaxLargeArraySize)
	}
	return nil
}

// segmentLength is the scan length over the counters of n keys: one counter
// per digit per 2*BlockSize keys.
func (c Config) segmentLength(n int) int {
	return n / (2 * c.BlockSize) << c.BitStep
}

// MinElements is the smallest key count a sort can take with this
// configuration.
func (c Config) MinElements() int {
	c = c.withDefaults()
	n := MinLargeArraySize * 2 * c.BlockSize >> c.BitStep
	return max(n, 4*c.BlockSize)
}

// Passes returns how many digit passes sort keyBits-wide keys.
func (c Config) Passes(keyBits int) int {
	c = c.withDefaults()
	return (keyBits + c.BitStep - 1) / c.BitStep
}

func isPowerOf2(x int) bool { return x > 0 && x&(x-1) == 0 }

// nextPowerOf2 rounds x up to a power of two.
func nextPowerOf2(x int) int {
	if x <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(x-1))
}

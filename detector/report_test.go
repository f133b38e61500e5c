package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultLimits = Limits{
	MaxComputeInvocationsPerWorkgroup: 256,
	MaxComputeWorkgroupSizeX:          256,
	MaxComputeWorkgroupsPerDimension:  65535,
	MaxComputeWorkgroupStorageSize:    16384,
	MaxStorageBufferBindingSize:       128 << 20,
	MaxBufferSize:                     256 << 20,
}

func TestRecommendDefaultLimits(t *testing.T) {
	rec := Recommend(defaultLimits, defaultBudget)
	assert.True(t, rec.ScanSupported)
	assert.Equal(t, 256, rec.BlockSize)
	assert.Equal(t, 4, rec.BitStep)
	assert.Equal(t, 8<<20, rec.MaxElements)
	require.NoError(t, rec.Config().Validate())
}

func TestRecommendBudget(t *testing.T) {
	rec := Recommend(defaultLimits, 16<<20)
	assert.Equal(t, 1<<20, rec.MaxElements)
	require.NoError(t, rec.Config().Validate())
	assert.LessOrEqual(t, footprint(rec.MaxElements, 32768), uint64(16<<20))

	rec = Recommend(defaultLimits, 1024)
	assert.Zero(t, rec.MaxElements)
}

func TestRecommendSmallDevice(t *testing.T) {
	l := defaultLimits
	l.MaxComputeWorkgroupStorageSize = 4096
	rec := Recommend(l, defaultBudget)
	assert.Equal(t, 128, rec.BlockSize)
	assert.Positive(t, rec.MaxElements)
	require.NoError(t, rec.Config().Validate())

	l = defaultLimits
	l.MaxComputeInvocationsPerWorkgroup = 128
	rec = Recommend(l, defaultBudget)
	assert.False(t, rec.ScanSupported)
	assert.Equal(t, 128, rec.BlockSize)
	assert.Zero(t, rec.MaxElements)

	l = defaultLimits
	l.MaxComputeWorkgroupSizeX = 16
	assert.Zero(t, Recommend(l, defaultBudget).BlockSize)
}

func TestRecommendBindingLimit(t *testing.T) {
	l := defaultLimits
	l.MaxStorageBufferBindingSize = 4 << 20
	rec := Recommend(l, defaultBudget)
	assert.Equal(t, 1<<20, rec.MaxElements)
}

func TestBudgetFromEnv(t *testing.T) {
	t.Setenv(budgetEnv, "64")
	assert.Equal(t, uint64(64<<20), budgetFromEnv())
	assert.Equal(t, map[string]string{budgetEnv: "64"}, pickEnv([]string{budgetEnv}))

	t.Setenv(budgetEnv, "lots")
	assert.Equal(t, defaultBudget, budgetFromEnv())

	t.Setenv(budgetEnv, "")
	assert.Nil(t, pickEnv([]string{budgetEnv}))
}

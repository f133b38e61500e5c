// Package detector probes the WebGPU adapter and recommends sort engine
// sizing for it.
package detector

import (
	"os"
	"runtime"
	"strconv"

	"github.com/openfluke/radix/radixsort"
)

/* ---------- public API ---------- */

// Report is a portable summary of the current adapter/device caps.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"` // "native" or "wasm"
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// CTA size for the sort kernels.
	BlockSize int `json:"block_size"`
	BitStep   int `json:"bit_step"`

	// Largest key count one engine should be built for; 0 when the device
	// cannot run the sort at all.
	MaxElements int `json:"max_elements"`

	// The scan kernels always run WorkgroupSize lanes.
	ScanSupported bool `json:"scan_supported"`

	// Soft device memory budget in bytes for keys plus scratch.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// Config returns the engine configuration the recommendations describe.
func (r Recommendations) Config() radixsort.Config {
	return radixsort.Config{MaxElements: r.MaxElements, BlockSize: r.BlockSize, BitStep: r.BitStep}
}

const budgetEnv = "RADIX_BUDGET_MB"

const defaultBudget = uint64(256 * 1024 * 1024)

/* ---------- helpers ---------- */

// Recommend derives engine sizing from device limits and a memory budget.
func Recommend(l Limits, budget uint64) Recommendations {
	rec := Recommendations{
		BitStep:       radixsort.DefaultBitStep,
		BudgetBytes:   budget,
		ScanSupported: l.MaxComputeInvocationsPerWorkgroup >= radixsort.WorkgroupSize && l.MaxComputeWorkgroupSizeX >= radixsort.WorkgroupSize && l.MaxComputeWorkgroupStorageSize >= scanStorageBytes,
	}
	rec.BlockSize = chooseBlockSize(l)
	if rec.BlockSize == 0 || !rec.ScanSupported {
		return rec
	}
	rec.MaxElements = chooseMaxElements(l, rec.BlockSize, rec.BitStep, budget)
	return rec
}

// Local memory of the scan kernels: a double-buffered lane scan.
const scanStorageBytes = 2 * radixsort.WorkgroupSize * 4

// sortStorageBytes is the larger local footprint of the two sort kernels
// that stage keys for a CTA of c lanes.
func sortStorageBytes(c int) uint32 {
	blocks := 4 * (4*c + 2*c)  // block keys and lane scan
	offsets := 4 * (2*c + 512) // half-block keys and run bounds
	return uint32(max(blocks, offsets))
}

func chooseBlockSize(l Limits) int {
	for _, c := range []int{256, 128, 64, 32} {
		if uint32(c) <= l.MaxComputeInvocationsPerWorkgroup &&
			uint32(c) <= l.MaxComputeWorkgroupSizeX &&
			sortStorageBytes(c) <= l.MaxComputeWorkgroupStorageSize {
			return c
		}
	}
	return 0
}

// footprint is the device memory a sort of n keys holds: the keys, the
// block-sorted copy and three counter arrays of seg words.
func footprint(n, seg int) uint64 {
	return uint64(4*n) + uint64(4*n) + uint64(3*4*seg)
}

func chooseMaxElements(l Limits, blockSize, bitStep int, budget uint64) int {
	cfg := radixsort.Config{BlockSize: blockSize, BitStep: bitStep}
	minN := cfg.MinElements()
	n := radixsort.MaxLargeArraySize * 2 * blockSize >> bitStep
	for ; n >= minN; n /= 2 {
		seg := n / (2 * blockSize) << bitStep
		groups := n / (2 * blockSize)
		if l.MaxStorageBufferBindingSize > 0 && uint64(4*n) > l.MaxStorageBufferBindingSize {
			continue
		}
		if l.MaxComputeWorkgroupsPerDimension > 0 && uint32(groups) > l.MaxComputeWorkgroupsPerDimension {
			continue
		}
		if budget > 0 && footprint(n, seg) > budget {
			continue
		}
		cfg.MaxElements = n
		if cfg.Validate() == nil {
			return n
		}
	}
	return 0
}

func budgetFromEnv() uint64 {
	if mbStr := os.Getenv(budgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			return uint64(mb) * 1024 * 1024
		}
	}
	return defaultBudget
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

package gpu

import (
	"fmt"

	"github.com/openfluke/radix/compute"
)

// Every shader is generated for one work-group width L. Storage buffers are
// bound first in argument order, then the scalar block as a uniform.

// scanHelpers declares the double-buffered lane scan used by every shader
// that needs one. scanLanes returns the inclusive scan of v over runs of seg
// lanes, and the total of the caller's run.
func scanHelpers(lanes int) string {
	return fmt.Sprintf(`
const L: u32 = %du;
var<workgroup> l_scan: array<u32, %d>;

fn scanLanes(lid: u32, v: u32, seg: u32) -> vec2<u32> {
	var pout: u32 = 0u;
	l_scan[lid] = v;
	workgroupBarrier();
	let lane = lid %% seg;
	for (var off: u32 = 1u; off < seg; off = off << 1u) {
		pout = 1u - pout;
		let pin = 1u - pout;
		var acc = l_scan[pin * L + lid];
		if (lane >= off) {
			acc = acc + l_scan[pin * L + lid - off];
		}
		l_scan[pout * L + lid] = acc;
		workgroupBarrier();
	}
	let last = (lid / seg) * seg + seg - 1u;
	return vec2<u32>(l_scan[pout * L + lid], l_scan[pout * L + last]);
}
`, lanes, 2*lanes)
}

const digitHelpers = `
struct DigitParams {
	nbits: u32,
	startBit: u32,
	endBit: u32,
	numElements: u32,
	totalBlocks: u32,
	pad0: u32,
	pad1: u32,
	pad2: u32,
}

fn digitWidth(p: DigitParams) -> u32 {
	if (p.endBit <= p.startBit) {
		return 0u;
	}
	return min(p.nbits, p.endBit - p.startBit);
}

fn digitOf(p: DigitParams, k: u32) -> u32 {
	let w = digitWidth(p);
	if (w == 0u || p.startBit >= 32u) {
		return 0u;
	}
	var mask = 0xffffffffu;
	if (w < 32u) {
		mask = (1u << w) - 1u;
	}
	return (k >> p.startBit) & mask;
}
`

const wordParams = `
struct WordParams {
	a: u32,
	b: u32,
	pad0: u32,
	pad1: u32,
}
`

func scanLocal1Shader(lanes int) string {
	return scanHelpers(lanes) + wordParams + fmt.Sprintf(`
@group(0) @binding(0) var<storage, read_write> dst: array<u32>;
@group(0) @binding(1) var<storage, read_write> src: array<u32>;
@group(0) @binding(2) var<storage, read_write> sums: array<u32>;
@group(0) @binding(3) var<uniform> params: WordParams;

@compute @workgroup_size(%d)
fn main(@builtin(workgroup_id) wg: vec3<u32>, @builtin(local_invocation_id) lid3: vec3<u32>) {
	let lid = lid3.x;
	let i = (wg.x * L + lid) * 4u;
	let v0 = src[i];
	let v1 = src[i + 1u];
	let v2 = src[i + 2u];
	let v3 = src[i + 3u];
	let total = v0 + v1 + v2 + v3;
	let r = scanLanes(lid, total, params.a / 4u);
	workgroupBarrier();
	let whole = scanLanes(lid, total, L);
	if (lid == 0u) {
		sums[wg.x] = whole.y;
	}
	let e = r.x - total;
	dst[i] = e;
	dst[i + 1u] = e + v0;
	dst[i + 2u] = e + v0 + v1;
	dst[i + 3u] = e + v0 + v1 + v2;
}
`, lanes)
}

func scanLocal2Shader(lanes int) string {
	return scanHelpers(lanes) + wordParams + fmt.Sprintf(`
@group(0) @binding(0) var<storage, read_write> sums: array<u32>;
@group(0) @binding(1) var<uniform> params: WordParams;

@compute @workgroup_size(%d)
fn main(@builtin(workgroup_id) wg: vec3<u32>, @builtin(local_invocation_id) lid3: vec3<u32>) {
	let lid = lid3.x;
	let i = wg.x * L + lid;
	var v = 0u;
	if (i < params.a) {
		v = sums[i];
	}
	let r = scanLanes(lid, v, params.b);
	if (i < params.a) {
		sums[i] = r.x - v;
	}
}
`, lanes)
}

func uniformUpdateShader(lanes int) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read_write> dst: array<u32>;
@group(0) @binding(1) var<storage, read_write> sums: array<u32>;

@compute @workgroup_size(%[1]d)
fn main(@builtin(workgroup_id) wg: vec3<u32>, @builtin(local_invocation_id) lid3: vec3<u32>) {
	let add = sums[wg.x];
	let base = wg.x * %[2]du + lid3.x * 4u;
	for (var k: u32 = 0u; k < 4u; k = k + 1u) {
		dst[base + k] = dst[base + k] + add;
	}
}
`, lanes, 4*lanes)
}

// radixSortBlocksShader sorts each 4*L block with one stable split per digit
// bit. Lane t owns keys 4t..4t+3 of the block.
func radixSortBlocksShader(lanes int) string {
	return scanHelpers(lanes) + digitHelpers + fmt.Sprintf(`
@group(0) @binding(0) var<storage, read_write> keys: array<u32>;
@group(0) @binding(1) var<storage, read_write> temp: array<u32>;
@group(0) @binding(2) var<uniform> params: DigitParams;

var<workgroup> l_keys: array<u32, %[2]d>;

@compute @workgroup_size(%[1]d)
fn main(@builtin(workgroup_id) wg: vec3<u32>, @builtin(local_invocation_id) lid3: vec3<u32>) {
	if (wg.x >= params.totalBlocks) {
		return;
	}
	let lid = lid3.x;
	let base = wg.x * %[2]du;
	for (var j: u32 = 0u; j < 4u; j = j + 1u) {
		l_keys[4u * lid + j] = keys[base + 4u * lid + j];
	}
	workgroupBarrier();

	let w = digitWidth(params);
	for (var b: u32 = 0u; b < w; b = b + 1u) {
		let shift = params.startBit + b;
		var k: array<u32, 4>;
		var ones = 0u;
		for (var j: u32 = 0u; j < 4u; j = j + 1u) {
			k[j] = l_keys[4u * lid + j];
			ones = ones + ((k[j] >> shift) & 1u);
		}
		let zeros = 4u - ones;
		let r = scanLanes(lid, zeros, L);
		var zb = r.x - zeros;
		let totalZeros = r.y;
		var pos: array<u32, 4>;
		for (var j: u32 = 0u; j < 4u; j = j + 1u) {
			let idx = 4u * lid + j;
			if (((k[j] >> shift) & 1u) == 0u) {
				pos[j] = zb;
				zb = zb + 1u;
			} else {
				pos[j] = totalZeros + idx - zb;
			}
		}
		workgroupBarrier();
		for (var j: u32 = 0u; j < 4u; j = j + 1u) {
			l_keys[pos[j]] = k[j];
		}
		workgroupBarrier();
	}

	for (var j: u32 = 0u; j < 4u; j = j + 1u) {
		temp[base + 4u * lid + j] = l_keys[4u * lid + j];
	}
}
`, lanes, 4*lanes)
}

func findRadixOffsetsShader(lanes int) string {
	return digitHelpers + fmt.Sprintf(`
@group(0) @binding(0) var<storage, read_write> temp: array<u32>;
@group(0) @binding(1) var<storage, read_write> counters: array<u32>;
@group(0) @binding(2) var<storage, read_write> offsets: array<u32>;
@group(0) @binding(3) var<uniform> params: DigitParams;

const L: u32 = %[1]du;
const BLOCK: u32 = %[2]du;
var<workgroup> l_keys: array<u32, %[2]d>;
var<workgroup> l_start: array<u32, 256>;
var<workgroup> l_end: array<u32, 256>;

@compute @workgroup_size(%[1]d)
fn main(@builtin(workgroup_id) wg: vec3<u32>, @builtin(local_invocation_id) lid3: vec3<u32>) {
	let b = wg.x;
	if (b >= params.totalBlocks) {
		return;
	}
	let lid = lid3.x;
	let radix = 1u << params.nbits;
	for (var r = lid; r < 256u; r = r + L) {
		l_start[r] = 0u;
		l_end[r] = 0u;
	}
	let base = b * BLOCK;
	l_keys[2u * lid] = temp[base + 2u * lid];
	l_keys[2u * lid + 1u] = temp[base + 2u * lid + 1u];
	workgroupBarrier();

	for (var j: u32 = 0u; j < 2u; j = j + 1u) {
		let idx = 2u * lid + j;
		let d = digitOf(params, l_keys[idx]);
		if (idx > 0u) {
			let prev = digitOf(params, l_keys[idx - 1u]);
			if (prev != d) {
				l_start[d] = idx;
				l_end[prev] = idx;
			}
		}
		if (idx == BLOCK - 1u) {
			l_end[d] = BLOCK;
		}
	}
	workgroupBarrier();

	for (var r = lid; r < radix; r = r + L) {
		offsets[b * radix + r] = l_start[r];
		counters[r * params.totalBlocks + b] = l_end[r] - l_start[r];
	}
}
`, lanes, 2*lanes)
}

func reorderDataShader(lanes int) string {
	return digitHelpers + fmt.Sprintf(`
@group(0) @binding(0) var<storage, read_write> keys: array<u32>;
@group(0) @binding(1) var<storage, read_write> temp: array<u32>;
@group(0) @binding(2) var<storage, read_write> offsets: array<u32>;
@group(0) @binding(3) var<storage, read_write> sums: array<u32>;
@group(0) @binding(4) var<storage, read_write> counters: array<u32>;
@group(0) @binding(5) var<uniform> params: DigitParams;

@compute @workgroup_size(%[1]d)
fn main(@builtin(workgroup_id) wg: vec3<u32>, @builtin(local_invocation_id) lid3: vec3<u32>) {
	let b = wg.x;
	if (b >= params.totalBlocks) {
		return;
	}
	let radix = 1u << params.nbits;
	let base = b * %[2]du;
	for (var j: u32 = 0u; j < 2u; j = j + 1u) {
		let idx = 2u * lid3.x + j;
		let k = temp[base + idx];
		let r = digitOf(params, k);
		let rank = idx - offsets[b * radix + r];
		let cell = r * params.totalBlocks + b;
		if (rank < counters[cell]) {
			keys[sums[cell] + rank] = k;
		}
	}
}
`, lanes, 2*lanes)
}

// shaderFor returns the WGSL source of kernel for work-groups of lanes.
func shaderFor(kernel string, lanes int) (string, error) {
	switch kernel {
	case compute.KernelScanExclusiveLocal1:
		return scanLocal1Shader(lanes), nil
	case compute.KernelScanExclusiveLocal2:
		return scanLocal2Shader(lanes), nil
	case compute.KernelUniformUpdate:
		return uniformUpdateShader(lanes), nil
	case compute.KernelRadixSortBlocks:
		return radixSortBlocksShader(lanes), nil
	case compute.KernelFindRadixOffsets:
		return findRadixOffsetsShader(lanes), nil
	case compute.KernelReorderData:
		return reorderDataShader(lanes), nil
	}
	return "", fmt.Errorf("%w: %s", compute.ErrUnknownKernel, kernel)
}

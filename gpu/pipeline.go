package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

type pipelineKey struct {
	kernel string
	lanes  int
}

// pipelineCache compiles each (kernel, work-group width) pair once.
type pipelineCache struct {
	mu        sync.Mutex
	pipelines map[pipelineKey]*wgpu.ComputePipeline
}

func newPipelineCache() *pipelineCache {
	return &pipelineCache{pipelines: make(map[pipelineKey]*wgpu.ComputePipeline)}
}

func (pc *pipelineCache) get(c *Context, kernel string, lanes int) (*wgpu.ComputePipeline, error) {
	key := pipelineKey{kernel, lanes}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if p, ok := pc.pipelines[key]; ok {
		return p, nil
	}

	code, err := shaderFor(kernel, lanes)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("%s_%d", kernel, lanes)
	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: compile %s: %w", label, err)
	}
	defer module.Release()

	p, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: pipeline %s: %w", label, err)
	}
	pc.pipelines[key] = p
	return p, nil
}

func (pc *pipelineCache) release() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for k, p := range pc.pipelines {
		p.Release()
		delete(pc.pipelines, k)
	}
}

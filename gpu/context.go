package gpu

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the WebGPU objects shared by every backend in the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Limits   wgpu.SupportedLimits // limits of Device, not of Adapter
	Name     string               // adapter name
}

var (
	shared     *Context
	sharedErr  error
	sharedOnce sync.Once
)

// GetContext returns the process-wide GPU context, creating it on first use.
// A discrete NVIDIA adapter is preferred when present, then high
// performance, low power and finally the default adapter.
func GetContext(log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}
	sharedOnce.Do(func() {
		shared, sharedErr = openContext(log)
	})
	return shared, sharedErr
}

func openContext(log *slog.Logger) (*Context, error) {
	c := &Context{Instance: wgpu.CreateInstance(nil)}
	if c.Instance == nil {
		return nil, fmt.Errorf("gpu: failed to create WebGPU instance")
	}

	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		log.Debug("gpu: adapter", "name", info.Name, "vendor", info.VendorName,
			"deviceID", fmt.Sprintf("0x%X", info.DeviceId), "type", info.AdapterType)
		if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
			strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			log.Debug("gpu: adapter request failed", "err", err)
		}
	}
	if c.Adapter == nil {
		c.Instance.Release()
		return nil, fmt.Errorf("gpu: all adapter attempts failed: %v", err)
	}

	info := c.Adapter.GetInfo()
	c.Name = strings.TrimSpace(info.Name)
	log.Info("gpu: using adapter", "name", c.Name, "vendor", info.VendorName)

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		c.Adapter.Release()
		c.Instance.Release()
		return nil, fmt.Errorf("gpu: request device: %w", err)
	}
	// Requested with default limits; bounds checks use these, not the
	// adapter's.
	c.Limits = c.Device.GetLimits()
	log.Debug("gpu: device limits",
		"maxStorageBufferBindingSize", c.Limits.Limits.MaxStorageBufferBindingSize,
		"maxComputeWorkgroupsPerDimension", c.Limits.Limits.MaxComputeWorkgroupsPerDimension)
	c.Queue = c.Device.GetQueue()
	if c.Queue == nil {
		return nil, fmt.Errorf("gpu: device has no queue")
	}
	return c, nil
}

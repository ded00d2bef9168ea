//go:build gpu

package gpu

import (
	"sync"
	"time"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/logging"
)

// gpuContext holds the process-wide WebGPU instance, adapter, device, and
// queue. It is created lazily on the first kernel call so that merely
// importing the package never probes hardware.
type gpuContext struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
}

var (
	ctxOnce sync.Once
	ctx     *gpuContext
	ctxErr  error
)

func getContext(logger logging.Logger) (*gpuContext, error) {
	ctxOnce.Do(func() {
		c := &gpuContext{}
		c.instance = wgpu.CreateInstance(nil)
		if c.instance == nil {
			ctxErr = errors.New("failed to create WebGPU instance")
			return
		}
		c.adapter, ctxErr = c.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if ctxErr != nil || c.adapter == nil {
			c.adapter, ctxErr = c.instance.RequestAdapter(nil)
		}
		if ctxErr != nil {
			ctxErr = errors.Wrap(ctxErr, "no WebGPU adapter available")
			return
		}
		if c.adapter == nil {
			ctxErr = errors.New("no WebGPU adapter available")
			return
		}
		info := c.adapter.GetInfo()
		logger.Debugw("using GPU adapter", "name", info.Name, "vendor", info.VendorName)

		c.device, ctxErr = c.adapter.RequestDevice(nil)
		if ctxErr != nil {
			ctxErr = errors.Wrap(ctxErr, "failed to request WebGPU device")
			return
		}
		c.queue = c.device.GetQueue()
		ctx = c
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	return ctx, nil
}

// newStorageBuffer uploads data into a storage buffer readable and writable
// by compute shaders and copyable back to the host.
func (c *gpuContext) newStorageBuffer(data []byte) (*wgpu.Buffer, error) {
	buf, err := c.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Contents: data,
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage buffer")
	}
	return buf, nil
}

// newUniformBuffer uploads packed kernel parameters.
func (c *gpuContext) newUniformBuffer(words []uint32) (*wgpu.Buffer, error) {
	buf, err := c.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Contents: wgpu.ToBytes(words),
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create uniform buffer")
	}
	return buf, nil
}

// readBuffer copies a device buffer through a staging buffer and maps it
// back to the host, blocking until the copy completes.
func (c *gpuContext) readBuffer(buf *wgpu.Buffer, sizeBytes uint64) ([]byte, error) {
	staging, err := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create staging buffer")
	}
	defer staging.Destroy()

	encoder, err := c.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create command encoder")
	}
	encoder.CopyBufferToBuffer(buf, 0, staging, 0, sizeBytes)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to finish command encoder")
	}
	c.queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	if err := staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = errors.Errorf("buffer map failed: %v", status)
		}
		close(done)
	}); err != nil {
		return nil, errors.Wrap(err, "MapAsync failed")
	}
	timeout := time.After(10 * time.Second)
poll:
	for {
		c.device.Poll(false, nil)
		select {
		case <-done:
			break poll
		case <-timeout:
			return nil, errors.New("timed out waiting for GPU readback")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, mapErr
	}
	mapped := staging.GetMappedRange(0, uint(sizeBytes))
	if mapped == nil {
		return nil, errors.New("failed to get mapped range")
	}
	out := make([]byte, sizeBytes)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

// dispatch runs a compute pipeline over ceil(n/256) workgroups.
func (c *gpuContext) dispatch(pipeline *wgpu.ComputePipeline, entries []wgpu.BindGroupEntry, n int) error {
	bindGroup, err := c.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout:  pipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create bind group")
	}
	defer bindGroup.Release()

	encoder, err := c.device.CreateCommandEncoder(nil)
	if err != nil {
		return errors.Wrap(err, "failed to create command encoder")
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32((n+255)/256), 1, 1)
	pass.End()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return errors.Wrap(err, "failed to finish command encoder")
	}
	c.queue.Submit(cmd)
	c.device.Poll(true, nil)
	return nil
}

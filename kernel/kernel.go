// Package kernel is the device-dispatched geometric kernel layer: it
// validates and normalizes tensor arguments, then routes each operation to
// the backend registered for the primary input's device.
//
// Backends self-register, so callers must import the ones they need:
//
//	import (
//		"github.com/leomariga/Open3D/kernel"
//		_ "github.com/leomariga/Open3D/kernel/cpu"
//		_ "github.com/leomariga/Open3D/kernel/gpu" // effective only with -tags gpu
//	)
//
// Calling an operation on a device with no registered backend is a
// configuration error, never a silent fallback to another device.
package kernel

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/tensor"
)

// Backend implements the per-device kernels. The dispatch layer hands every
// backend contiguous tensors; intrinsics and extrinsics arrive as host
// float64 3x3 and 4x4 tensors. Optional tensors are nil when absent, with
// pairing already validated.
type Backend interface {
	// Unproject maps a depth image (and optional color image) to a point
	// cloud (and matching colors) in world coordinates.
	Unproject(depth, imageColors, intrinsics, extrinsics *tensor.Tensor,
		depthScale, depthMax float32, stride int) (points, colors *tensor.Tensor, err error)
	// Project renders a point cloud (and optional per-point colors) into a
	// pre-allocated depth image (and color image), nearest point winning
	// each pixel.
	Project(depth, imageColors, points, colors, intrinsics, extrinsics *tensor.Tensor,
		depthScale, depthMax float32) error
	// Transform applies a rigid transformation to points (and normals, when
	// non-nil) in place.
	Transform(points, normals, transformation *tensor.Tensor) error
	// CreateVertexMap unprojects every pixel of a depth image into an
	// (H, W, 3) camera-space vertex raster.
	CreateVertexMap(depth, intrinsics *tensor.Tensor, depthScale, depthMax float32) (*tensor.Tensor, error)
	// CreateNormalMap estimates per-pixel normals from a vertex map.
	CreateNormalMap(vertexMap *tensor.Tensor, depthScale, depthMax, depthDiff float32) (*tensor.Tensor, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[tensor.DeviceType]Backend{}
)

// RegisterBackend makes a backend available for a device type. Backend
// packages call this from init; the last registration for a type wins.
func RegisterBackend(deviceType tensor.DeviceType, b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[deviceType] = b
}

// BackendFor returns the backend registered for the device, or an error
// when the device type has no implementation available.
func BackendFor(device tensor.Device) (Backend, error) {
	registryMu.RLock()
	b, ok := registry[device.Type]
	registryMu.RUnlock()
	if !ok {
		if device.Type == tensor.GPU {
			return nil, errors.Errorf(
				"no kernel backend registered for device %s: GPU support requires building with -tags gpu and importing kernel/gpu", device)
		}
		return nil, errors.Errorf("no kernel backend registered for device %s", device)
	}
	return b, nil
}

// normalizeProjective hoists intrinsics (3x3) and extrinsics (4x4) to
// contiguous host float64 tensors, the one layout every backend consumes.
func normalizeProjective(intrinsics, extrinsics *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := intrinsics.AssertShape(3, 3); err != nil {
		return nil, nil, errors.Wrap(err, "intrinsics")
	}
	if err := extrinsics.AssertShape(4, 4); err != nil {
		return nil, nil, errors.Wrap(err, "extrinsics")
	}
	return intrinsics.To(tensor.Host, tensor.Float64), extrinsics.To(tensor.Host, tensor.Float64), nil
}

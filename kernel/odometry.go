package kernel

import (
	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/tensor"
)

// CreateVertexMap unprojects every pixel of a depth image into an
// (H, W, 3) camera-space vertex raster on the depth image's device. Unlike
// Unproject there is no stride and no compaction: a pixel whose metric
// depth falls outside (0, depthMax] keeps its grid position and receives
// the all-zero invalid sentinel, preserving raster adjacency for normal
// estimation and odometry.
func CreateVertexMap(depth, intrinsics *tensor.Tensor, depthScale, depthMax float32) (*tensor.Tensor, error) {
	if depth == nil || intrinsics == nil {
		return nil, errors.New("create vertex map: depth and intrinsics must not be nil")
	}
	if depth.Dims() != 2 {
		return nil, errors.Errorf("create vertex map: depth must have shape (rows, cols), got %v", depth.Shape())
	}
	if !depth.Dtype().IsFloat() {
		return nil, errors.Errorf("create vertex map: depth must be floating point, got %s", depth.Dtype())
	}
	if depth.Device() != intrinsics.Device() {
		return nil, errors.Errorf("create vertex map: inconsistent device between depth map (%s) and intrinsics (%s)",
			depth.Device(), intrinsics.Device())
	}
	if err := intrinsics.AssertShape(3, 3); err != nil {
		return nil, errors.Wrap(err, "create vertex map: intrinsics")
	}
	intrinsicsD := intrinsics.To(tensor.Host, tensor.Float64)
	b, err := BackendFor(depth.Device())
	if err != nil {
		return nil, err
	}
	return b.CreateVertexMap(depth.Contiguous(), intrinsicsD, depthScale, depthMax)
}

// CreateNormalMap estimates a per-pixel surface normal raster from a vertex
// map. Each interior pixel's normal comes from the cross product of the
// vectors to its right and bottom raster neighbors, normalized and oriented
// toward the camera. A pixel receives the all-zero invalid sentinel when
// the pixel or either neighbor is invalid, when the camera-depth difference
// to a neighbor exceeds depthDiff (discontinuity rejection at silhouettes),
// or when it lies on the right or bottom border.
func CreateNormalMap(vertexMap *tensor.Tensor, depthScale, depthMax, depthDiff float32) (*tensor.Tensor, error) {
	if vertexMap == nil {
		return nil, errors.New("create normal map: vertex map must not be nil")
	}
	if vertexMap.Dims() != 3 || vertexMap.Dim(2) != 3 {
		return nil, errors.Errorf("create normal map: vertex map must have shape (rows, cols, 3), got %v", vertexMap.Shape())
	}
	if !vertexMap.Dtype().IsFloat() {
		return nil, errors.Errorf("create normal map: vertex map must be floating point, got %s", vertexMap.Dtype())
	}
	b, err := BackendFor(vertexMap.Device())
	if err != nil {
		return nil, err
	}
	return b.CreateNormalMap(vertexMap.Contiguous(), depthScale, depthMax, depthDiff)
}

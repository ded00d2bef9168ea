// Package geometry provides the point cloud and depth image value types
// built on top of the tensor buffers, with convenience methods that call
// into the device-dispatched kernel layer. The CPU backend is always linked
// in; GPU-device data additionally needs kernel/gpu imported and the gpu
// build tag.
package geometry

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/kernel"
	_ "github.com/leomariga/Open3D/kernel/cpu" // register the CPU backend
	"github.com/leomariga/Open3D/tensor"
)

// PointCloud is a dense (N, 3) point set with optional row-aligned colors
// and normals. All tensors share one dtype and device.
type PointCloud struct {
	Points  *tensor.Tensor
	Colors  *tensor.Tensor
	Normals *tensor.Tensor
}

// NewPointCloud wraps a (N, 3) tensor as a point cloud.
func NewPointCloud(points *tensor.Tensor) (*PointCloud, error) {
	if points == nil || points.Dims() != 2 || points.Dim(1) != 3 {
		return nil, errors.New("point cloud requires a tensor of shape (N, 3)")
	}
	return &PointCloud{Points: points}, nil
}

// NewPointCloudFromVectors builds a float64 host point cloud from vectors.
func NewPointCloudFromVectors(pts []r3.Vector) *PointCloud {
	data := make([]float64, len(pts)*3)
	for i, p := range pts {
		data[i*3] = p.X
		data[i*3+1] = p.Y
		data[i*3+2] = p.Z
	}
	return &PointCloud{Points: tensor.FromFloat64(data, []int{len(pts), 3}, tensor.Host)}
}

// Size returns the number of points.
func (pc *PointCloud) Size() int { return pc.Points.Dim(0) }

// HasColors reports whether per-point colors are attached.
func (pc *PointCloud) HasColors() bool { return pc.Colors != nil }

// HasNormals reports whether per-point normals are attached.
func (pc *PointCloud) HasNormals() bool { return pc.Normals != nil }

// Transform applies a rigid transformation to the points, and to the
// normals when present, in place. The matrix is validated by the kernel
// layer before any mutation.
func (pc *PointCloud) Transform(m mgl64.Mat4) error {
	tf := tensor.New([]int{4, 4}, pc.Points.Dtype(), pc.Points.Device())
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			tf.SetAt(m.At(r, c), r, c)
		}
	}
	return kernel.Transform(pc.Points, pc.Normals, tf)
}

// Iterate calls fn for every point in row order until it returns false.
func (pc *PointCloud) Iterate(fn func(p r3.Vector) bool) {
	pts := pc.Points.Contiguous()
	n := pts.Dim(0)
	for i := 0; i < n; i++ {
		v := r3.Vector{X: pts.At(i, 0), Y: pts.At(i, 1), Z: pts.At(i, 2)}
		if !fn(v) {
			return
		}
	}
}

// Centroid returns the arithmetic mean of the points, or the zero vector
// for an empty cloud.
func (pc *PointCloud) Centroid() r3.Vector {
	n := pc.Size()
	if n == 0 {
		return r3.Vector{}
	}
	sum := r3.Vector{}
	pc.Iterate(func(p r3.Vector) bool {
		sum = sum.Add(p)
		return true
	})
	return sum.Mul(1.0 / float64(n))
}

// Package cpu implements the kernel backend for host execution. Kernels are
// data-parallel over pixels or points and are scheduled across goroutine
// groups; group boundaries partition the index space contiguously, so
// compacting kernels produce row-major-ordered output deterministically.
//
// Importing the package registers the backend:
//
//	_ "github.com/leomariga/Open3D/kernel/cpu"
package cpu

import (
	"math"
	"unsafe"

	"github.com/chewxy/math32"

	"github.com/leomariga/Open3D/kernel"
	"github.com/leomariga/Open3D/tensor"
)

type backend struct{}

func init() {
	kernel.RegisterBackend(tensor.CPU, backend{})
}

// Float constrains the element types the float kernels operate on.
type Float interface {
	~float32 | ~float64
}

// floatsOf views a dense float tensor as its typed slice.
func floatsOf[T Float](t *tensor.Tensor) []T {
	var z T
	if _, ok := any(z).(float32); ok {
		return any(t.Float32s()).([]T)
	}
	return any(t.Float64s()).([]T)
}

func sqrt[T Float](v T) T {
	if f, ok := any(v).(float32); ok {
		return T(math32.Sqrt(f))
	}
	return T(math.Sqrt(float64(v)))
}

func abs[T Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

func bitsOf32(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func bitsOf64(b []byte) []uint64 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// projective holds the host camera parameters every kernel consumes:
// intrinsics, the world-to-camera extrinsics, and its inverse.
type projective struct {
	fx, fy, cx, cy float64
	rot            [9]float64 // row-major world-to-camera rotation
	t              [3]float64
}

func newProjective(intrinsics, extrinsics *tensor.Tensor) projective {
	in := intrinsics.Float64s()
	ex := extrinsics.Float64s()
	return projective{
		fx: in[0], fy: in[4], cx: in[2], cy: in[5],
		rot: [9]float64{ex[0], ex[1], ex[2], ex[4], ex[5], ex[6], ex[8], ex[9], ex[10]},
		t:   [3]float64{ex[3], ex[7], ex[11]},
	}
}

// worldToCamera applies the extrinsics forward.
func (p *projective) worldToCamera(x, y, z float64) (float64, float64, float64) {
	return p.rot[0]*x + p.rot[1]*y + p.rot[2]*z + p.t[0],
		p.rot[3]*x + p.rot[4]*y + p.rot[5]*z + p.t[1],
		p.rot[6]*x + p.rot[7]*y + p.rot[8]*z + p.t[2]
}

// cameraToWorld applies the inverse extrinsics: R^T * (p - t).
func (p *projective) cameraToWorld(x, y, z float64) (float64, float64, float64) {
	x, y, z = x-p.t[0], y-p.t[1], z-p.t[2]
	return p.rot[0]*x + p.rot[3]*y + p.rot[6]*z,
		p.rot[1]*x + p.rot[4]*y + p.rot[7]*z,
		p.rot[2]*x + p.rot[5]*y + p.rot[8]*z
}

// unprojectPixel lifts pixel (u, v) with metric depth d into camera space.
func (p *projective) unprojectPixel(u, v, d float64) (float64, float64, float64) {
	return (u - p.cx) * d / p.fx, (v - p.cy) * d / p.fy, d
}

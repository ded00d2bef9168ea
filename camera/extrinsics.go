package camera

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/tensor"
)

// Extrinsics are expressed as a 4x4 homogeneous matrix mapping world
// coordinates into the camera frame. Unprojection applies the inverse
// (camera to world); projection applies it forward. mgl64.Mat4 stores
// column-major, so all element access goes through At/Set.

// IdentityExtrinsics returns the identity world-to-camera transform.
func IdentityExtrinsics() mgl64.Mat4 {
	return mgl64.Ident4()
}

// ExtrinsicsTensor flattens a 4x4 matrix into a row-major host float64
// tensor, the normalized form the kernel dispatch layer consumes.
func ExtrinsicsTensor(m mgl64.Mat4) *tensor.Tensor {
	data := make([]float64, 16)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			data[r*4+c] = m.At(r, c)
		}
	}
	return tensor.FromFloat64(data, []int{4, 4}, tensor.Host)
}

// ExtrinsicsFromTensor reads a row-major 4x4 tensor into a matrix.
func ExtrinsicsFromTensor(t *tensor.Tensor) (mgl64.Mat4, error) {
	if err := t.AssertShape(4, 4); err != nil {
		return mgl64.Mat4{}, errors.Wrap(err, "extrinsics")
	}
	var m mgl64.Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, t.At(r, c))
		}
	}
	return m, nil
}

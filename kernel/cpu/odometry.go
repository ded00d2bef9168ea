package cpu

import (
	"image"

	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/tensor"
	"github.com/leomariga/Open3D/utils"
)

func (backend) CreateVertexMap(depth, intrinsics *tensor.Tensor, depthScale, depthMax float32) (*tensor.Tensor, error) {
	switch depth.Dtype() {
	case tensor.Float32:
		return createVertexMap[float32](depth, intrinsics, depthScale, depthMax), nil
	case tensor.Float64:
		return createVertexMap[float64](depth, intrinsics, depthScale, depthMax), nil
	default:
		return nil, errors.Errorf("create vertex map: unsupported depth dtype %s", depth.Dtype())
	}
}

func createVertexMap[T Float](depth, intrinsics *tensor.Tensor, depthScale, depthMax float32) *tensor.Tensor {
	rows, cols := depth.Dim(0), depth.Dim(1)
	d := floatsOf[T](depth)
	proj := newProjective(intrinsics, identityExtrinsics)
	scale := float64(depthScale)
	maxDepth := float64(depthMax)

	vertexMap := tensor.New([]int{rows, cols, 3}, depth.Dtype(), depth.Device())
	vm := floatsOf[T](vertexMap)
	utils.ParallelForEachPixel(image.Point{X: cols, Y: rows}, func(x, y int) {
		pix := y*cols + x
		md := float64(d[pix]) / scale
		if md <= 0 || md > maxDepth {
			// invalid pixels keep the all-zero sentinel at their raster slot
			return
		}
		vx, vy, vz := proj.unprojectPixel(float64(x), float64(y), md)
		vm[pix*3] = T(vx)
		vm[pix*3+1] = T(vy)
		vm[pix*3+2] = T(vz)
	})
	return vertexMap
}

func (backend) CreateNormalMap(vertexMap *tensor.Tensor, depthScale, depthMax, depthDiff float32) (*tensor.Tensor, error) {
	switch vertexMap.Dtype() {
	case tensor.Float32:
		return createNormalMap[float32](vertexMap, depthDiff), nil
	case tensor.Float64:
		return createNormalMap[float64](vertexMap, depthDiff), nil
	default:
		return nil, errors.Errorf("create normal map: unsupported vertex map dtype %s", vertexMap.Dtype())
	}
}

func createNormalMap[T Float](vertexMap *tensor.Tensor, depthDiff float32) *tensor.Tensor {
	rows, cols := vertexMap.Dim(0), vertexMap.Dim(1)
	vm := floatsOf[T](vertexMap)
	diff := T(depthDiff)

	normalMap := tensor.New([]int{rows, cols, 3}, vertexMap.Dtype(), vertexMap.Device())
	nm := floatsOf[T](normalMap)
	utils.ParallelForEachPixel(image.Point{X: cols, Y: rows}, func(x, y int) {
		// right/bottom neighborhood; the last row and column have no full
		// neighbor set and keep the all-zero sentinel
		if x+1 >= cols || y+1 >= rows {
			return
		}
		i00 := (y*cols + x) * 3
		i01 := (y*cols + x + 1) * 3
		i10 := ((y+1)*cols + x) * 3
		z00, z01, z10 := vm[i00+2], vm[i01+2], vm[i10+2]
		if z00 <= 0 || z01 <= 0 || z10 <= 0 {
			return
		}
		if abs(z01-z00) > diff || abs(z10-z00) > diff {
			// depth discontinuity, e.g. an object silhouette
			return
		}
		dux, duy, duz := vm[i01]-vm[i00], vm[i01+1]-vm[i00+1], z01-z00
		dvx, dvy, dvz := vm[i10]-vm[i00], vm[i10+1]-vm[i00+1], z10-z00
		// cross(dv, du) orients the normal toward the camera (-z)
		nx := dvy*duz - dvz*duy
		ny := dvz*dux - dvx*duz
		nz := dvx*duy - dvy*dux
		norm := sqrt(nx*nx + ny*ny + nz*nz)
		if norm == 0 {
			return
		}
		nm[i00] = nx / norm
		nm[i00+1] = ny / norm
		nm[i00+2] = nz / norm
	})
	return normalMap
}

// identityExtrinsics is the host identity transform handed to newProjective
// for kernels that work purely in the camera frame.
var identityExtrinsics = tensor.FromFloat64([]float64{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}, []int{4, 4}, tensor.Host)

package cpu

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/tensor"
	"github.com/leomariga/Open3D/utils"
)

func (backend) Unproject(depth, imageColors, intrinsics, extrinsics *tensor.Tensor,
	depthScale, depthMax float32, stride int,
) (*tensor.Tensor, *tensor.Tensor, error) {
	switch depth.Dtype() {
	case tensor.Float32:
		return unproject[float32](depth, imageColors, intrinsics, extrinsics, depthScale, depthMax, stride)
	case tensor.Float64:
		return unproject[float64](depth, imageColors, intrinsics, extrinsics, depthScale, depthMax, stride)
	default:
		return nil, nil, errors.Errorf("unproject: unsupported depth dtype %s", depth.Dtype())
	}
}

func unproject[T Float](depth, imageColors, intrinsics, extrinsics *tensor.Tensor,
	depthScale, depthMax float32, stride int,
) (*tensor.Tensor, *tensor.Tensor, error) {
	rows, cols := depth.Dim(0), depth.Dim(1)
	d := floatsOf[T](depth)
	proj := newProjective(intrinsics, extrinsics)
	scale := float64(depthScale)
	maxDepth := float64(depthMax)

	sampledRows := (rows + stride - 1) / stride
	sampledCols := (cols + stride - 1) / stride
	total := sampledRows * sampledCols

	// Pixel index of the k-th sampled pixel in row-major sampling order.
	pixelAt := func(workNum int) int {
		v := (workNum / sampledCols) * stride
		u := (workNum % sampledCols) * stride
		return v*cols + u
	}
	valid := func(pix int) (float64, bool) {
		md := float64(d[pix]) / scale
		return md, md > 0 && md <= maxDepth
	}

	// Pass 1: count valid pixels per group so each group owns a contiguous
	// output range and the compacted cloud stays in row-major pixel order.
	var counts []int
	//nolint:errcheck
	utils.GroupWorkParallel(context.Background(), total,
		func(groups int) { counts = make([]int, groups) },
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			count := 0
			return func(memberNum, workNum int) {
					if _, ok := valid(pixelAt(workNum)); ok {
						count++
					}
				}, func() {
					counts[groupNum] = count
				}
		})
	starts := make([]int, len(counts)+1)
	for i, c := range counts {
		starts[i+1] = starts[i] + c
	}
	n := starts[len(counts)]

	points := tensor.New([]int{n, 3}, depth.Dtype(), depth.Device())
	pts := floatsOf[T](points)
	var colors *tensor.Tensor
	var colorBytes, imageColorBytes []byte
	colorRowSize := 0
	if imageColors != nil {
		colors = tensor.New([]int{n, 3}, imageColors.Dtype(), imageColors.Device())
		colorBytes = colors.Bytes()
		imageColorBytes = imageColors.Bytes()
		colorRowSize = imageColors.Dtype().Size() * 3
	}

	// Pass 2: the same group split writes into its reserved range in order.
	//nolint:errcheck
	utils.GroupWorkParallel(context.Background(), total,
		func(int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			w := starts[groupNum]
			return func(memberNum, workNum int) {
				pix := pixelAt(workNum)
				md, ok := valid(pix)
				if !ok {
					return
				}
				u := float64(pix % cols)
				v := float64(pix / cols)
				cx, cy, cz := proj.unprojectPixel(u, v, md)
				wx, wy, wz := proj.cameraToWorld(cx, cy, cz)
				pts[w*3] = T(wx)
				pts[w*3+1] = T(wy)
				pts[w*3+2] = T(wz)
				if colorBytes != nil {
					copy(colorBytes[w*colorRowSize:(w+1)*colorRowSize],
						imageColorBytes[pix*colorRowSize:(pix+1)*colorRowSize])
				}
				w++
			}, nil
		})
	return points, colors, nil
}

func (backend) Project(depth, imageColors, points, colors, intrinsics, extrinsics *tensor.Tensor,
	depthScale, depthMax float32,
) error {
	switch depth.Dtype() {
	case tensor.Float32:
		return project[float32](depth, imageColors, points, colors, intrinsics, extrinsics, depthScale, depthMax)
	case tensor.Float64:
		return project[float64](depth, imageColors, points, colors, intrinsics, extrinsics, depthScale, depthMax)
	default:
		return errors.Errorf("project: unsupported depth dtype %s", depth.Dtype())
	}
}

func project[T Float](depth, imageColors, points, colors, intrinsics, extrinsics *tensor.Tensor,
	depthScale, depthMax float32,
) error {
	rows, cols := depth.Dim(0), depth.Dim(1)
	pts := floatsOf[T](points)
	proj := newProjective(intrinsics, extrinsics)
	scale := float64(depthScale)
	maxDepth := float64(depthMax)
	n := points.Dim(0)

	var bits32 []uint32
	var bits64 []uint64
	if depth.Dtype() == tensor.Float32 {
		bits32 = bitsOf32(depth.Bytes())
	} else {
		bits64 = bitsOf64(depth.Bytes())
	}
	var colorBytes, imageColorBytes []byte
	colorRowSize := 0
	if colors != nil {
		colorBytes = colors.Bytes()
		imageColorBytes = imageColors.Bytes()
		colorRowSize = colors.Dtype().Size() * 3
	}

	// claim performs the nearest-wins update on one pixel. Stored depths are
	// positive, and non-negative IEEE floats order the same as their bit
	// patterns, so a compare-and-swap on the bits implements an atomic
	// depth minimum with zero meaning empty. It reports whether this point
	// won the pixel.
	claim := func(idx int, dNew float64) bool {
		if bits32 != nil {
			newBits := math.Float32bits(float32(dNew))
			for {
				oldBits := atomic.LoadUint32(&bits32[idx])
				old := math.Float32frombits(oldBits)
				if old > 0 && old <= float32(dNew) {
					return false
				}
				if atomic.CompareAndSwapUint32(&bits32[idx], oldBits, newBits) {
					return true
				}
			}
		}
		newBits := math.Float64bits(dNew)
		for {
			oldBits := atomic.LoadUint64(&bits64[idx])
			old := math.Float64frombits(oldBits)
			if old > 0 && old <= dNew {
				return false
			}
			if atomic.CompareAndSwapUint64(&bits64[idx], oldBits, newBits) {
				return true
			}
		}
	}

	//nolint:errcheck
	utils.GroupWorkParallel(context.Background(), n,
		func(int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				i := workNum
				cx, cy, cz := proj.worldToCamera(float64(pts[i*3]), float64(pts[i*3+1]), float64(pts[i*3+2]))
				if cz <= 0 || cz > maxDepth {
					return
				}
				u := int(math.Round(proj.fx*cx/cz + proj.cx))
				v := int(math.Round(proj.fy*cy/cz + proj.cy))
				if u < 0 || u >= cols || v < 0 || v >= rows {
					return
				}
				idx := v*cols + u
				if !claim(idx, cz*scale) {
					return
				}
				if colorBytes != nil {
					// Only pixel winners write their color. Two points at
					// exactly equal depth may race here; the depth value is
					// unaffected either way.
					copy(imageColorBytes[idx*colorRowSize:(idx+1)*colorRowSize],
						colorBytes[i*colorRowSize:(i+1)*colorRowSize])
				}
			}, nil
		})
	return nil
}

func (backend) Transform(points, normals, transformation *tensor.Tensor) error {
	switch points.Dtype() {
	case tensor.Float32:
		return transform[float32](points, normals, transformation)
	case tensor.Float64:
		return transform[float64](points, normals, transformation)
	default:
		return errors.Errorf("transform: unsupported points dtype %s", points.Dtype())
	}
}

func transform[T Float](points, normals, transformation *tensor.Tensor) error {
	m := transformation.To(tensor.Host, tensor.Float64).Float64s()
	work := []utils.SimpleFunc{
		func(context.Context) error {
			applyAffine[T](floatsOf[T](points), m, true)
			return nil
		},
	}
	if normals != nil {
		work = append(work, func(context.Context) error {
			applyAffine[T](floatsOf[T](normals), m, false)
			return nil
		})
	}
	_, err := utils.RunInParallel(context.Background(), work)
	return err
}

// applyAffine maps every row of a dense (N, 3) buffer through the rotation
// block of a row-major 4x4, adding the translation only when withTranslation
// is set (points translate, normals only rotate).
func applyAffine[T Float](rows []T, m []float64, withTranslation bool) {
	tx, ty, tz := 0.0, 0.0, 0.0
	if withTranslation {
		tx, ty, tz = m[3], m[7], m[11]
	}
	n := len(rows) / 3
	//nolint:errcheck
	utils.GroupWorkParallel(context.Background(), n,
		func(int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				i := workNum * 3
				x, y, z := float64(rows[i]), float64(rows[i+1]), float64(rows[i+2])
				rows[i] = T(m[0]*x + m[1]*y + m[2]*z + tx)
				rows[i+1] = T(m[4]*x + m[5]*y + m[6]*z + ty)
				rows[i+2] = T(m[8]*x + m[9]*y + m[10]*z + tz)
			}, nil
		})
}

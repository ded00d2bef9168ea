package kernel

import (
	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/tensor"
)

// ColorPair couples the per-point source colors with the destination color
// image for Project. The pairing is an invariant: both buffers must be set,
// a half-filled pair is a precondition failure. A nil *ColorPair means no
// color output is requested.
type ColorPair struct {
	Points *tensor.Tensor // (N, 3) colors, row-aligned with the point cloud
	Image  *tensor.Tensor // (H, W, 3) destination image, mutated in place
}

// Unproject converts a depth image into a point cloud in world coordinates.
//
// Pixels are visited at multiples of stride in both axes. A sampled pixel
// with metric depth d = depth(u,v)/depthScale contributes a point only when
// 0 < d <= depthMax; the output row count is the number of such pixels.
// Extrinsics map world to camera, so each camera-space point is carried to
// world space through the inverse. When imageColors is non-nil the source
// pixel's color is copied verbatim to the matching output row and the
// returned colors tensor is non-nil; pairing is structural (colors are
// returned if and only if imageColors was supplied).
func Unproject(depth, imageColors, intrinsics, extrinsics *tensor.Tensor,
	depthScale, depthMax float32, stride int,
) (points, colors *tensor.Tensor, err error) {
	if depth == nil {
		return nil, nil, errors.New("unproject: depth must not be nil")
	}
	if depth.Dims() != 2 {
		return nil, nil, errors.Errorf("unproject: depth must have shape (rows, cols), got %v", depth.Shape())
	}
	if !depth.Dtype().IsFloat() {
		return nil, nil, errors.Errorf("unproject: depth must be floating point, got %s", depth.Dtype())
	}
	if stride < 1 {
		return nil, nil, errors.Errorf("unproject: stride must be >= 1, got %d", stride)
	}
	if imageColors != nil {
		if err := imageColors.AssertShape(depth.Dim(0), depth.Dim(1), 3); err != nil {
			return nil, nil, errors.Wrap(err, "unproject: image colors")
		}
		if err := imageColors.AssertDevice(depth.Device()); err != nil {
			return nil, nil, errors.Wrap(err, "unproject: image colors")
		}
	}
	intrinsicsD, extrinsicsD, err := normalizeProjective(intrinsics, extrinsics)
	if err != nil {
		return nil, nil, errors.Wrap(err, "unproject")
	}
	b, err := BackendFor(depth.Device())
	if err != nil {
		return nil, nil, err
	}
	depthC := depth.Contiguous()
	var imageColorsC *tensor.Tensor
	if imageColors != nil {
		imageColorsC = imageColors.Contiguous()
	}
	return b.Unproject(depthC, imageColorsC, intrinsicsD, extrinsicsD, depthScale, depthMax, stride)
}

// Project renders a point cloud into a pre-allocated depth image, the
// inverse of Unproject. Each point is carried world to camera through the
// extrinsics and projected through the intrinsics; a point is discarded
// when its camera depth is outside (0, depthMax] or it lands outside the
// image. When several points land on one pixel the smallest depth wins
// regardless of iteration order. Stored depth is scaled by depthScale;
// pixels no point reaches keep their pre-existing value.
//
// depth (and colors.Image, when colors is non-nil) are mutated in place:
// a non-contiguous buffer is replaced by the dense working copy on return.
func Project(depth *tensor.Tensor, points *tensor.Tensor, colors *ColorPair,
	intrinsics, extrinsics *tensor.Tensor, depthScale, depthMax float32,
) error {
	if depth == nil || points == nil {
		return errors.New("project: depth and points must not be nil")
	}
	if depth.Dims() != 2 {
		return errors.Errorf("project: depth must have shape (rows, cols), got %v", depth.Shape())
	}
	if points.Dims() != 2 || points.Dim(1) != 3 {
		return errors.Errorf("project: points must have shape (N, 3), got %v", points.Shape())
	}
	if err := points.AssertDtype(depth.Dtype()); err != nil {
		return errors.Wrap(err, "project: points")
	}
	if !depth.Dtype().IsFloat() {
		return errors.Errorf("project: depth must be floating point, got %s", depth.Dtype())
	}
	if err := points.AssertDevice(depth.Device()); err != nil {
		return errors.Wrap(err, "project: points")
	}
	if colors != nil {
		if colors.Points == nil || colors.Image == nil {
			return errors.New("project: both or none of point colors and image colors must be set")
		}
		if err := colors.Points.AssertShape(points.Dim(0), 3); err != nil {
			return errors.Wrap(err, "project: point colors")
		}
		if err := colors.Image.AssertShape(depth.Dim(0), depth.Dim(1), 3); err != nil {
			return errors.Wrap(err, "project: image colors")
		}
		if err := colors.Image.AssertDtype(colors.Points.Dtype()); err != nil {
			return errors.Wrap(err, "project: image colors")
		}
		if err := colors.Points.AssertDevice(depth.Device()); err != nil {
			return errors.Wrap(err, "project: point colors")
		}
		if err := colors.Image.AssertDevice(depth.Device()); err != nil {
			return errors.Wrap(err, "project: image colors")
		}
	}
	intrinsicsD, extrinsicsD, err := normalizeProjective(intrinsics, extrinsics)
	if err != nil {
		return errors.Wrap(err, "project")
	}
	b, err := BackendFor(depth.Device())
	if err != nil {
		return err
	}
	depthC := depth.Contiguous()
	pointsC := points.Contiguous()
	var pointColorsC, imageColorsC *tensor.Tensor
	if colors != nil {
		pointColorsC = colors.Points.Contiguous()
		imageColorsC = colors.Image.Contiguous()
	}
	if err := b.Project(depthC, imageColorsC, pointsC, pointColorsC, intrinsicsD, extrinsicsD, depthScale, depthMax); err != nil {
		return err
	}
	*depth = *depthC
	if colors != nil {
		*colors.Image = *imageColorsC
	}
	return nil
}

// Transform applies a 4x4 homogeneous rigid transformation to a point cloud
// in place, and to its normals when normals is non-nil. Points transform as
// p' = R*p + t; normals as n' = R*n. Points, normals, and the
// transformation must agree exactly on dtype and device.
//
// The transformation is validated before any mutation: interpreted row
// major, every rotation-block entry must be <= 1 and the first three
// entries of the bottom row must be exactly 0. This is a coarse bound, not
// an orthogonality check; non-orthogonal matrices with small entries pass.
func Transform(points, normals, transformation *tensor.Tensor) error {
	if points == nil {
		return errors.New("transform: points must not be nil")
	}
	if points.Dims() != 2 || points.Dim(1) != 3 {
		return errors.Errorf("transform: points must have shape (N, 3), got %v", points.Shape())
	}
	if !points.Dtype().IsFloat() {
		return errors.Errorf("transform: points must be floating point, got %s", points.Dtype())
	}
	if transformation == nil {
		return errors.New("transform: transformation must not be nil")
	}
	if err := transformation.AssertShape(4, 4); err != nil {
		return errors.Wrap(err, "transform: transformation")
	}
	if err := transformation.AssertDtype(points.Dtype()); err != nil {
		return errors.Wrap(err, "transform: transformation")
	}
	if err := transformation.AssertDevice(points.Device()); err != nil {
		return errors.Wrap(err, "transform: transformation")
	}
	if normals != nil {
		if err := normals.AssertShape(points.Dim(0), 3); err != nil {
			return errors.Wrap(err, "transform: normals")
		}
		if err := normals.AssertDtype(points.Dtype()); err != nil {
			return errors.Wrap(err, "transform: normals")
		}
		if err := normals.AssertDevice(points.Device()); err != nil {
			return errors.Wrap(err, "transform: normals")
		}
	}
	if !isValidRigidTransformation(transformation.To(tensor.Host, tensor.Float64).Float64s()) {
		return errors.New("transform: invalid transformation matrix, only rigid transformations are supported")
	}

	pointsC := points.Contiguous()
	var normalsC *tensor.Tensor
	if normals != nil {
		normalsC = normals.Contiguous()
	}
	transformationC := transformation.Contiguous()

	b, err := BackendFor(points.Device())
	if err != nil {
		return err
	}
	if err := b.Transform(pointsC, normalsC, transformationC); err != nil {
		return err
	}
	*points = *pointsC
	if normals != nil {
		*normals = *normalsC
	}
	return nil
}

// isValidRigidTransformation applies the coarse rigid bound on a row-major
// flat 4x4: rotation entries no greater than 1 and a zero bottom row
// (translation is unconstrained). Kept deliberately weak; orthogonality and
// determinant are not verified.
func isValidRigidTransformation(m []float64) bool {
	if m[0] > 1 || m[1] > 1 || m[2] > 1 ||
		m[4] > 1 || m[5] > 1 || m[6] > 1 ||
		m[8] > 1 || m[9] > 1 || m[10] > 1 ||
		m[12] != 0 || m[13] != 0 || m[14] != 0 {
		return false
	}
	return true
}

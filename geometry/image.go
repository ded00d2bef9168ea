package geometry

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/camera"
	"github.com/leomariga/Open3D/kernel"
	"github.com/leomariga/Open3D/tensor"
)

// DepthImage is a single-channel (H, W) raster of raw sensor depth values.
// Scale converts raw values to metric units (metric = raw / Scale); Max is
// the largest metric depth considered valid. Zero and out-of-range pixels
// are background.
type DepthImage struct {
	Data  *tensor.Tensor
	Scale float32
	Max   float32
}

// NewDepthImage wraps an (H, W) float tensor as a depth image.
func NewDepthImage(data *tensor.Tensor, depthScale, depthMax float32) (*DepthImage, error) {
	if data == nil || data.Dims() != 2 {
		return nil, errors.New("depth image requires a tensor of shape (rows, cols)")
	}
	if !data.Dtype().IsFloat() {
		return nil, errors.Errorf("depth image must be floating point, got %s", data.Dtype())
	}
	if depthScale <= 0 {
		return nil, errors.Errorf("depth scale must be positive, got %v", depthScale)
	}
	return &DepthImage{Data: data, Scale: depthScale, Max: depthMax}, nil
}

// Width returns the number of columns.
func (d *DepthImage) Width() int { return d.Data.Dim(1) }

// Height returns the number of rows.
func (d *DepthImage) Height() int { return d.Data.Dim(0) }

// PointCloud unprojects the depth image into a world-frame point cloud.
// extrinsics maps world to camera. Pixels are sampled at multiples of
// stride; when colorImage (H, W, 3, same device) is non-nil the resulting
// cloud carries row-aligned colors.
func (d *DepthImage) PointCloud(
	intrinsics *camera.PinholeCameraIntrinsics,
	extrinsics mgl64.Mat4,
	stride int,
	colorImage *tensor.Tensor,
) (*PointCloud, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	points, colors, err := kernel.Unproject(
		d.Data, colorImage, intrinsics.Tensor(), camera.ExtrinsicsTensor(extrinsics),
		d.Scale, d.Max, stride)
	if err != nil {
		return nil, err
	}
	return &PointCloud{Points: points, Colors: colors}, nil
}

// VertexMap unprojects every pixel into an (H, W, 3) camera-space raster,
// zero sentinel at invalid pixels.
func (d *DepthImage) VertexMap(intrinsics *camera.PinholeCameraIntrinsics) (*tensor.Tensor, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	intrinsicsT := intrinsics.Tensor().To(d.Data.Device(), tensor.Float64)
	return kernel.CreateVertexMap(d.Data, intrinsicsT, d.Scale, d.Max)
}

// NormalMap estimates per-pixel surface normals from a vertex map produced
// by VertexMap, rejecting discontinuities larger than depthDiff.
func (d *DepthImage) NormalMap(vertexMap *tensor.Tensor, depthDiff float32) (*tensor.Tensor, error) {
	return kernel.CreateNormalMap(vertexMap, d.Scale, d.Max, depthDiff)
}

// ProjectPointCloud renders a point cloud into a fresh depth image of the
// given size, nearest point winning each pixel. When the cloud has colors a
// matching (H, W, 3) color image is returned as well.
func ProjectPointCloud(
	pc *PointCloud,
	intrinsics *camera.PinholeCameraIntrinsics,
	extrinsics mgl64.Mat4,
	width, height int,
	depthScale, depthMax float32,
) (*DepthImage, *tensor.Tensor, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, nil, errors.Errorf("invalid image size (%d, %d)", width, height)
	}
	depth := tensor.New([]int{height, width}, pc.Points.Dtype(), pc.Points.Device())
	var pair *kernel.ColorPair
	var imageColors *tensor.Tensor
	if pc.HasColors() {
		imageColors = tensor.New([]int{height, width, 3}, pc.Colors.Dtype(), pc.Colors.Device())
		pair = &kernel.ColorPair{Points: pc.Colors, Image: imageColors}
	}
	err := kernel.Project(depth, pc.Points, pair,
		intrinsics.Tensor(), camera.ExtrinsicsTensor(extrinsics), depthScale, depthMax)
	if err != nil {
		return nil, nil, err
	}
	img, err := NewDepthImage(depth, depthScale, depthMax)
	if err != nil {
		return nil, nil, err
	}
	return img, imageColors, nil
}

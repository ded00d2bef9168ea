package kernel_test

import (
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/leomariga/Open3D/kernel"
	_ "github.com/leomariga/Open3D/kernel/cpu"
	"github.com/leomariga/Open3D/tensor"
)

const (
	testDepthScale = 1000.0 // millimeter sensor units
	testDepthMax   = 3.0
)

// testIntrinsics is a 3x3 camera matrix with fx=fy=100, principal point at
// the center of an 8x6 image.
func testIntrinsics() *tensor.Tensor {
	return tensor.FromFloat64([]float64{
		100, 0, 4,
		0, 100, 3,
		0, 0, 1,
	}, []int{3, 3}, tensor.Host)
}

func identity4(dtype tensor.Dtype) *tensor.Tensor {
	m := tensor.New([]int{4, 4}, dtype, tensor.Host)
	for i := 0; i < 4; i++ {
		m.SetAt(1, i, i)
	}
	return m
}

// testDepthImage returns a 6x8 depth image: a flat wall at 1m with a hole
// at (2, 3), a too-far pixel at (4, 5), and a nearer patch at (1, 1).
func testDepthImage() *tensor.Tensor {
	data := make([]float32, 6*8)
	for i := range data {
		data[i] = 1000
	}
	data[2*8+3] = 0
	data[4*8+5] = 4000 // beyond testDepthMax
	data[1*8+1] = 500
	return tensor.FromFloat32(data, []int{6, 8}, tensor.Host)
}

func validPixelCount(depth *tensor.Tensor, stride int) int {
	rows, cols := depth.Dim(0), depth.Dim(1)
	count := 0
	for v := 0; v < rows; v += stride {
		for u := 0; u < cols; u += stride {
			d := depth.At(v, u) / testDepthScale
			if d > 0 && d <= testDepthMax {
				count++
			}
		}
	}
	return count
}

func TestUnprojectRoundTrip(t *testing.T) {
	depth := testDepthImage()
	intrinsics := testIntrinsics()
	extrinsics := identity4(tensor.Float64)

	points, colors, err := kernel.Unproject(depth, nil, intrinsics, extrinsics, testDepthScale, testDepthMax, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, colors, test.ShouldBeNil)
	test.That(t, points.Dim(0), test.ShouldEqual, validPixelCount(depth, 1))
	test.That(t, points.Dim(1), test.ShouldEqual, 3)

	reprojected := tensor.New([]int{6, 8}, tensor.Float32, tensor.Host)
	err = kernel.Project(reprojected, points, nil, intrinsics, extrinsics, testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldBeNil)

	for v := 0; v < 6; v++ {
		for u := 0; u < 8; u++ {
			orig := depth.At(v, u) / testDepthScale
			if orig > 0 && orig <= testDepthMax {
				test.That(t, reprojected.At(v, u), test.ShouldAlmostEqual, depth.At(v, u), 1e-2)
			} else {
				test.That(t, reprojected.At(v, u), test.ShouldEqual, 0)
			}
		}
	}
}

func TestUnprojectStride(t *testing.T) {
	depth := testDepthImage()
	intrinsics := testIntrinsics()
	extrinsics := identity4(tensor.Float64)

	points1, _, err := kernel.Unproject(depth, nil, intrinsics, extrinsics, testDepthScale, testDepthMax, 1)
	test.That(t, err, test.ShouldBeNil)
	points2, _, err := kernel.Unproject(depth, nil, intrinsics, extrinsics, testDepthScale, testDepthMax, 2)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, points1.Dim(0), test.ShouldEqual, validPixelCount(depth, 1))
	test.That(t, points2.Dim(0), test.ShouldEqual, validPixelCount(depth, 2))
	test.That(t, points2.Dim(0), test.ShouldBeLessThan, points1.Dim(0))

	// stride-2 output must be exactly the valid pixels at even grid
	// positions, in row-major order
	rowIdx := 0
	for v := 0; v < 6; v += 2 {
		for u := 0; u < 8; u += 2 {
			d := depth.At(v, u) / testDepthScale
			if d <= 0 || d > testDepthMax {
				continue
			}
			test.That(t, points2.At(rowIdx, 2), test.ShouldAlmostEqual, d, 1e-6)
			test.That(t, points2.At(rowIdx, 0), test.ShouldAlmostEqual, (float64(u)-4)*d/100, 1e-6)
			test.That(t, points2.At(rowIdx, 1), test.ShouldAlmostEqual, (float64(v)-3)*d/100, 1e-6)
			rowIdx++
		}
	}
	test.That(t, rowIdx, test.ShouldEqual, points2.Dim(0))
}

func TestUnprojectWithColors(t *testing.T) {
	depth := testDepthImage()
	intrinsics := testIntrinsics()
	extrinsics := identity4(tensor.Float64)

	colorData := make([]float32, 6*8*3)
	for i := 0; i < 6*8; i++ {
		colorData[i*3] = float32(i) // encode the pixel index in the red channel
	}
	colorImage := tensor.FromFloat32(colorData, []int{6, 8, 3}, tensor.Host)

	points, colors, err := kernel.Unproject(depth, colorImage, intrinsics, extrinsics, testDepthScale, testDepthMax, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, colors, test.ShouldNotBeNil)
	test.That(t, colors.Dim(0), test.ShouldEqual, points.Dim(0))

	// colors must be copied verbatim from each point's source pixel
	rowIdx := 0
	for pix := 0; pix < 6*8; pix++ {
		d := depth.At(pix/8, pix%8) / testDepthScale
		if d <= 0 || d > testDepthMax {
			continue
		}
		test.That(t, colors.At(rowIdx, 0), test.ShouldEqual, float64(pix))
		rowIdx++
	}
}

func TestUnprojectColorShapeMismatch(t *testing.T) {
	depth := testDepthImage()
	badColors := tensor.New([]int{3, 3, 3}, tensor.Float32, tensor.Host)
	_, _, err := kernel.Unproject(depth, badColors, testIntrinsics(), identity4(tensor.Float64), testDepthScale, testDepthMax, 1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "image colors")
}

func TestUnprojectBadStride(t *testing.T) {
	_, _, err := kernel.Unproject(testDepthImage(), nil, testIntrinsics(), identity4(tensor.Float64), testDepthScale, testDepthMax, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "stride")
}

func TestProjectNearestWins(t *testing.T) {
	intrinsics := testIntrinsics()
	extrinsics := identity4(tensor.Float64)

	// both points project to the principal point pixel (4, 3)
	near := []float32{0, 0, 1}
	far := []float32{0, 0, 2}
	for _, order := range [][]float32{
		append(append([]float32{}, near...), far...),
		append(append([]float32{}, far...), near...),
	} {
		points := tensor.FromFloat32(order, []int{2, 3}, tensor.Host)
		depth := tensor.New([]int{6, 8}, tensor.Float32, tensor.Host)
		err := kernel.Project(depth, points, nil, intrinsics, extrinsics, testDepthScale, testDepthMax)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, depth.At(3, 4), test.ShouldAlmostEqual, 1.0*testDepthScale, 1e-3)
	}
}

func TestProjectColorPairMismatch(t *testing.T) {
	points := tensor.New([]int{2, 3}, tensor.Float32, tensor.Host)
	depth := tensor.New([]int{6, 8}, tensor.Float32, tensor.Host)
	err := kernel.Project(depth, points, &kernel.ColorPair{Points: tensor.New([]int{2, 3}, tensor.Float32, tensor.Host)},
		testIntrinsics(), identity4(tensor.Float64), testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "both or none")
}

func TestProjectDiscardsOutOfBoundsAndFar(t *testing.T) {
	points := tensor.FromFloat32([]float32{
		0, 0, -1, // behind the camera
		0, 0, 5, // beyond depthMax
		10, 10, 0.5, // projects far outside the image
	}, []int{3, 3}, tensor.Host)
	depth := tensor.New([]int{6, 8}, tensor.Float32, tensor.Host)
	err := kernel.Project(depth, points, nil, testIntrinsics(), identity4(tensor.Float64), testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldBeNil)
	for v := 0; v < 6; v++ {
		for u := 0; u < 8; u++ {
			test.That(t, depth.At(v, u), test.ShouldEqual, 0)
		}
	}
}

func TestProjectPreservesUntouchedPixels(t *testing.T) {
	depth := tensor.New([]int{6, 8}, tensor.Float32, tensor.Host)
	depth.SetAt(777, 0, 0)
	points := tensor.FromFloat32([]float32{0, 0, 1}, []int{1, 3}, tensor.Host)
	err := kernel.Project(depth, points, nil, testIntrinsics(), identity4(tensor.Float64), testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth.At(0, 0), test.ShouldEqual, 777)
	test.That(t, depth.At(3, 4), test.ShouldAlmostEqual, testDepthScale, 1e-3)
}

func TestTransformIdentity(t *testing.T) {
	points := tensor.FromFloat32([]float32{1, 2, 3, -4, 5, -6}, []int{2, 3}, tensor.Host)
	normals := tensor.FromFloat32([]float32{0, 0, 1, 1, 0, 0}, []int{2, 3}, tensor.Host)
	err := kernel.Transform(points, normals, identity4(tensor.Float32))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points.Float32s(), test.ShouldResemble, []float32{1, 2, 3, -4, 5, -6})
	test.That(t, normals.Float32s(), test.ShouldResemble, []float32{0, 0, 1, 1, 0, 0})
}

func TestTransformTranslationAndRotation(t *testing.T) {
	// 90 degree rotation about z plus a translation
	tf := tensor.FromFloat64([]float64{
		0, -1, 0, 10,
		1, 0, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	}, []int{4, 4}, tensor.Host)
	points := tensor.FromFloat64([]float64{1, 0, 0}, []int{1, 3}, tensor.Host)
	normals := tensor.FromFloat64([]float64{1, 0, 0}, []int{1, 3}, tensor.Host)
	err := kernel.Transform(points, normals, tf)
	test.That(t, err, test.ShouldBeNil)
	// points rotate and translate
	test.That(t, points.At(0, 0), test.ShouldAlmostEqual, 10, 1e-12)
	test.That(t, points.At(0, 1), test.ShouldAlmostEqual, 21, 1e-12)
	test.That(t, points.At(0, 2), test.ShouldAlmostEqual, 30, 1e-12)
	// normals only rotate
	test.That(t, normals.At(0, 0), test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, normals.At(0, 1), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, normals.At(0, 2), test.ShouldAlmostEqual, 0, 1e-12)
}

func TestTransformRejectsNonRigid(t *testing.T) {
	points := tensor.FromFloat64([]float64{1, 2, 3}, []int{1, 3}, tensor.Host)
	before := append([]float64(nil), points.Float64s()...)

	scaled := tensor.FromFloat64([]float64{
		2, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, []int{4, 4}, tensor.Host)
	err := kernel.Transform(points, nil, scaled)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rigid")
	test.That(t, points.Float64s(), test.ShouldResemble, before)

	projective := tensor.FromFloat64([]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0.5, 0, 0, 1,
	}, []int{4, 4}, tensor.Host)
	err = kernel.Transform(points, nil, projective)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rigid")
	test.That(t, points.Float64s(), test.ShouldResemble, before)

	// translation components are unconstrained
	bigTranslation := tensor.FromFloat64([]float64{
		1, 0, 0, 1e6,
		0, 1, 0, -1e6,
		0, 0, 1, 42,
		0, 0, 0, 1,
	}, []int{4, 4}, tensor.Host)
	err = kernel.Transform(points, nil, bigTranslation)
	test.That(t, err, test.ShouldBeNil)
}

func TestTransformDtypeMismatch(t *testing.T) {
	points := tensor.FromFloat32([]float32{1, 2, 3}, []int{1, 3}, tensor.Host)
	err := kernel.Transform(points, nil, identity4(tensor.Float64))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dtype")
}

func TestTransformDeviceMismatch(t *testing.T) {
	points := tensor.FromFloat32([]float32{1, 2, 3}, []int{1, 3}, tensor.Host)
	tf := tensor.New([]int{4, 4}, tensor.Float32, tensor.Device{Type: tensor.GPU})
	for i := 0; i < 4; i++ {
		tf.SetAt(1, i, i)
	}
	err := kernel.Transform(points, nil, tf)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device")
}

func TestTransformNormalsShapeMismatch(t *testing.T) {
	points := tensor.New([]int{2, 3}, tensor.Float32, tensor.Host)
	normals := tensor.New([]int{3, 3}, tensor.Float32, tensor.Host)
	err := kernel.Transform(points, normals, identity4(tensor.Float32))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "normals")
}

func TestTransformRestoresLayoutInPlace(t *testing.T) {
	// a transposed view is not contiguous; after Transform the caller's
	// variable must hold the transformed, now-dense data
	raw := tensor.FromFloat64([]float64{
		1, 4,
		2, 5,
		3, 6,
	}, []int{3, 2}, tensor.Host)
	points := raw.Transpose(0, 1) // shape (2, 3): rows (1,2,3), (4,5,6)
	test.That(t, points.IsContiguous(), test.ShouldBeFalse)

	tf := tensor.FromFloat64([]float64{
		1, 0, 0, 100,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, []int{4, 4}, tensor.Host)
	err := kernel.Transform(points, nil, tf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points.IsContiguous(), test.ShouldBeTrue)
	test.That(t, points.At(0, 0), test.ShouldEqual, 101)
	test.That(t, points.At(1, 0), test.ShouldEqual, 104)
	test.That(t, points.At(1, 2), test.ShouldEqual, 6)
}

func TestCreateVertexMap(t *testing.T) {
	depth := testDepthImage()
	vertexMap, err := kernel.CreateVertexMap(depth, testIntrinsics(), testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, vertexMap.Shape(), test.ShouldResemble, []int{6, 8, 3})

	// a valid pixel carries its camera-space position at its raster slot
	test.That(t, vertexMap.At(0, 0, 2), test.ShouldAlmostEqual, 1.0, 1e-6)
	test.That(t, vertexMap.At(0, 0, 0), test.ShouldAlmostEqual, (0-4.0)/100, 1e-6)
	test.That(t, vertexMap.At(1, 1, 2), test.ShouldAlmostEqual, 0.5, 1e-6)

	// invalid pixels hold the zero sentinel at their own grid position
	for c := 0; c < 3; c++ {
		test.That(t, vertexMap.At(2, 3, c), test.ShouldEqual, 0)
		test.That(t, vertexMap.At(4, 5, c), test.ShouldEqual, 0)
	}
}

func TestCreateVertexMapDeviceMismatch(t *testing.T) {
	depth := testDepthImage()
	intrinsics := testIntrinsics().To(tensor.Device{Type: tensor.GPU}, tensor.Float64)
	_, err := kernel.CreateVertexMap(depth, intrinsics, testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "inconsistent device")
}

func TestCreateNormalMapFlatWall(t *testing.T) {
	depth := testDepthImage()
	vertexMap, err := kernel.CreateVertexMap(depth, testIntrinsics(), testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldBeNil)
	normalMap, err := kernel.CreateNormalMap(vertexMap, testDepthScale, testDepthMax, 0.07)
	test.That(t, err, test.ShouldBeNil)

	// interior of the flat wall: unit normal pointing toward the camera
	norm := math.Sqrt(normalMap.At(0, 5, 0)*normalMap.At(0, 5, 0) +
		normalMap.At(0, 5, 1)*normalMap.At(0, 5, 1) +
		normalMap.At(0, 5, 2)*normalMap.At(0, 5, 2))
	test.That(t, norm, test.ShouldAlmostEqual, 1.0, 1e-5)
	test.That(t, normalMap.At(0, 5, 2), test.ShouldBeLessThan, 0)

	// right and bottom borders never have a full neighbor set
	for v := 0; v < 6; v++ {
		test.That(t, normalMap.At(v, 7, 2), test.ShouldEqual, 0)
	}
	for u := 0; u < 8; u++ {
		test.That(t, normalMap.At(5, u, 2), test.ShouldEqual, 0)
	}
}

func TestCreateNormalMapDiscontinuity(t *testing.T) {
	// two flat regions: left half at 1m, right half at 2m
	data := make([]float32, 6*8)
	for v := 0; v < 6; v++ {
		for u := 0; u < 8; u++ {
			if u < 4 {
				data[v*8+u] = 1000
			} else {
				data[v*8+u] = 2000
			}
		}
	}
	depth := tensor.FromFloat32(data, []int{6, 8}, tensor.Host)
	vertexMap, err := kernel.CreateVertexMap(depth, testIntrinsics(), testDepthScale, testDepthMax)
	test.That(t, err, test.ShouldBeNil)
	normalMap, err := kernel.CreateNormalMap(vertexMap, testDepthScale, testDepthMax, 0.5)
	test.That(t, err, test.ShouldBeNil)

	for v := 0; v < 5; v++ {
		// column 3's right neighbor crosses the jump: invalid
		test.That(t, normalMap.At(v, 3, 2), test.ShouldEqual, 0)
		// interior columns away from the jump stay valid
		test.That(t, normalMap.At(v, 1, 2), test.ShouldBeLessThan, 0)
		test.That(t, normalMap.At(v, 5, 2), test.ShouldBeLessThan, 0)
	}
}

func TestUnsupportedDevice(t *testing.T) {
	gpuDevice := tensor.Device{Type: tensor.GPU}
	depth := tensor.New([]int{4, 4}, tensor.Float32, gpuDevice)
	_, _, err := kernel.Unproject(depth, nil, testIntrinsics(), identity4(tensor.Float64), testDepthScale, testDepthMax, 1)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "-tags gpu")
}

func TestUnprojectNonContiguousDepth(t *testing.T) {
	// a transposed-then-retransposed view is logically identical; feeding a
	// genuinely non-contiguous view must produce the same cloud as its
	// dense copy
	depth := testDepthImage().Transpose(0, 1) // (8, 6) view
	dense := depth.Contiguous()
	test.That(t, depth.IsContiguous(), test.ShouldBeFalse)

	intrinsics := testIntrinsics()
	extrinsics := identity4(tensor.Float64)
	fromView, _, err := kernel.Unproject(depth, nil, intrinsics, extrinsics, testDepthScale, testDepthMax, 1)
	test.That(t, err, test.ShouldBeNil)
	fromDense, _, err := kernel.Unproject(dense, nil, intrinsics, extrinsics, testDepthScale, testDepthMax, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fromView.Float32s(), test.ShouldResemble, fromDense.Float32s())
}

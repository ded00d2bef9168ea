package cpu

import (
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/leomariga/Open3D/tensor"
)

func rotatedProjective() projective {
	// 90 degrees about z plus a translation, world to camera
	s, c := math.Sin(math.Pi/2), math.Cos(math.Pi/2)
	intrinsics := tensor.FromFloat64([]float64{
		525, 0, 319.5,
		0, 525, 239.5,
		0, 0, 1,
	}, []int{3, 3}, tensor.Host)
	extrinsics := tensor.FromFloat64([]float64{
		c, -s, 0, 0.5,
		s, c, 0, -1,
		0, 0, 1, 2,
		0, 0, 0, 1,
	}, []int{4, 4}, tensor.Host)
	return newProjective(intrinsics, extrinsics)
}

func TestProjectiveFieldExtraction(t *testing.T) {
	p := rotatedProjective()
	test.That(t, p.fx, test.ShouldEqual, 525.0)
	test.That(t, p.fy, test.ShouldEqual, 525.0)
	test.That(t, p.cx, test.ShouldEqual, 319.5)
	test.That(t, p.cy, test.ShouldEqual, 239.5)
	test.That(t, p.t, test.ShouldResemble, [3]float64{0.5, -1, 2})
}

func TestWorldCameraInverse(t *testing.T) {
	p := rotatedProjective()
	for _, pt := range [][3]float64{
		{0, 0, 0},
		{1, 2, 3},
		{-0.5, 4, -2.25},
	} {
		cx, cy, cz := p.worldToCamera(pt[0], pt[1], pt[2])
		wx, wy, wz := p.cameraToWorld(cx, cy, cz)
		test.That(t, wx, test.ShouldAlmostEqual, pt[0], 1e-12)
		test.That(t, wy, test.ShouldAlmostEqual, pt[1], 1e-12)
		test.That(t, wz, test.ShouldAlmostEqual, pt[2], 1e-12)
	}
}

func TestUnprojectPixel(t *testing.T) {
	p := rotatedProjective()
	x, y, z := p.unprojectPixel(319.5, 239.5, 1.5)
	test.That(t, x, test.ShouldEqual, 0)
	test.That(t, y, test.ShouldEqual, 0)
	test.That(t, z, test.ShouldEqual, 1.5)

	x, y, z = p.unprojectPixel(844.5, 239.5, 2)
	test.That(t, x, test.ShouldAlmostEqual, 2.0, 1e-12)
	test.That(t, y, test.ShouldEqual, 0)
	test.That(t, z, test.ShouldEqual, 2.0)
}

func TestSqrtGeneric(t *testing.T) {
	test.That(t, sqrt(float32(9)), test.ShouldEqual, float32(3))
	test.That(t, sqrt(float64(2.25)), test.ShouldEqual, 1.5)
	test.That(t, abs(float32(-4)), test.ShouldEqual, float32(4))
	test.That(t, abs(7.5), test.ShouldEqual, 7.5)
}

func TestFloatsOfViews(t *testing.T) {
	t32 := tensor.FromFloat32([]float32{1, 2, 3}, []int{3}, tensor.Host)
	s32 := floatsOf[float32](t32)
	s32[1] = 20
	test.That(t, t32.At(1), test.ShouldEqual, 20)

	t64 := tensor.FromFloat64([]float64{4, 5}, []int{2}, tensor.Host)
	test.That(t, floatsOf[float64](t64), test.ShouldResemble, []float64{4, 5})
}

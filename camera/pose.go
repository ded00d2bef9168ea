package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Pose is a compact 6-vector camera pose: rotations about x, y, z in
// radians followed by the translation.
type Pose struct {
	Rx, Ry, Rz float64
	Tx, Ty, Tz float64
}

// RtToTransformation assembles a homogeneous transformation from a 3x3
// rotation and a translation vector.
func RtToTransformation(rotation mgl64.Mat3, translation r3.Vector) mgl64.Mat4 {
	m := mgl64.Ident4()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, rotation.At(r, c))
		}
	}
	m.Set(0, 3, translation.X)
	m.Set(1, 3, translation.Y)
	m.Set(2, 3, translation.Z)
	return m
}

// PoseToTransformation expands a pose vector into a homogeneous
// transformation, composing the rotations as Rz * Ry * Rx.
func PoseToTransformation(pose Pose) mgl64.Mat4 {
	m := mgl64.HomogRotate3DZ(pose.Rz).Mul4(
		mgl64.HomogRotate3DY(pose.Ry).Mul4(
			mgl64.HomogRotate3DX(pose.Rx)))
	m.Set(0, 3, pose.Tx)
	m.Set(1, 3, pose.Ty)
	m.Set(2, 3, pose.Tz)
	return m
}

// TransformationToPose extracts the pose vector from a homogeneous
// transformation, inverting the Rz * Ry * Rx composition. It fails near the
// ry = ±pi/2 gimbal singularity where the decomposition is not unique.
func TransformationToPose(m mgl64.Mat4) (Pose, error) {
	cy := math.Hypot(m.At(2, 1), m.At(2, 2))
	if cy < 1e-12 {
		return Pose{}, errors.New("rotation is at the gimbal singularity, pose decomposition is not unique")
	}
	return Pose{
		Rx: math.Atan2(m.At(2, 1), m.At(2, 2)),
		Ry: math.Atan2(-m.At(2, 0), cy),
		Rz: math.Atan2(m.At(1, 0), m.At(0, 0)),
		Tx: m.At(0, 3),
		Ty: m.At(1, 3),
		Tz: m.At(2, 3),
	}, nil
}

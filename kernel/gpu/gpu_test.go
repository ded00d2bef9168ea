//go:build gpu

package gpu_test

import (
	"sort"
	"testing"

	"go.viam.com/test"

	"github.com/leomariga/Open3D/kernel"
	_ "github.com/leomariga/Open3D/kernel/cpu"
	"github.com/leomariga/Open3D/kernel/gpu"
	"github.com/leomariga/Open3D/tensor"
)

const (
	parityScale = 1000.0
	parityMax   = 3.0
)

var gpuDevice = tensor.Device{Type: tensor.GPU}

func requireAdapter(t *testing.T) {
	t.Helper()
	if !gpu.Available() {
		t.Skip("no GPU adapter available")
	}
}

func parityIntrinsics(device tensor.Device) *tensor.Tensor {
	return tensor.FromFloat64([]float64{
		100, 0, 16,
		0, 100, 12,
		0, 0, 1,
	}, []int{3, 3}, tensor.Host).To(device, tensor.Float64)
}

func parityExtrinsics() *tensor.Tensor {
	m := tensor.New([]int{4, 4}, tensor.Float64, tensor.Host)
	for i := 0; i < 4; i++ {
		m.SetAt(1, i, i)
	}
	return m
}

func parityDepth(device tensor.Device) *tensor.Tensor {
	data := make([]float32, 24*32)
	for v := 0; v < 24; v++ {
		for u := 0; u < 32; u++ {
			data[v*32+u] = 1000 + float32(v*7+u*3)
		}
	}
	data[100] = 0
	data[200] = 9000 // beyond parityMax
	return tensor.FromFloat32(data, []int{24, 32}, tensor.Host).To(device, tensor.Float32)
}

// sortedRows flattens an (N, 3) cloud into sortable triples; the GPU
// compaction order is unspecified so parity compares point sets.
func sortedRows(t *tensor.Tensor) [][3]float32 {
	host := t.To(tensor.Host, tensor.Float32)
	n := host.Dim(0)
	rows := make([][3]float32, n)
	raw := host.Float32s()
	for i := 0; i < n; i++ {
		rows[i] = [3]float32{raw[i*3], raw[i*3+1], raw[i*3+2]}
	}
	sort.Slice(rows, func(a, b int) bool {
		for c := 0; c < 3; c++ {
			if rows[a][c] != rows[b][c] {
				return rows[a][c] < rows[b][c]
			}
		}
		return false
	})
	return rows
}

func TestUnprojectParity(t *testing.T) {
	requireAdapter(t)
	cpuPoints, _, err := kernel.Unproject(parityDepth(tensor.Host), nil,
		parityIntrinsics(tensor.Host), parityExtrinsics(), parityScale, parityMax, 2)
	test.That(t, err, test.ShouldBeNil)
	gpuPoints, _, err := kernel.Unproject(parityDepth(gpuDevice), nil,
		parityIntrinsics(tensor.Host), parityExtrinsics(), parityScale, parityMax, 2)
	test.That(t, err, test.ShouldBeNil)

	cpuRows := sortedRows(cpuPoints)
	gpuRows := sortedRows(gpuPoints)
	test.That(t, len(gpuRows), test.ShouldEqual, len(cpuRows))
	for i := range cpuRows {
		for c := 0; c < 3; c++ {
			test.That(t, gpuRows[i][c], test.ShouldAlmostEqual, cpuRows[i][c], 1e-4)
		}
	}
}

func TestProjectParity(t *testing.T) {
	requireAdapter(t)
	intr := parityIntrinsics(tensor.Host)
	extr := parityExtrinsics()

	cpuPoints, _, err := kernel.Unproject(parityDepth(tensor.Host), nil, intr, extr, parityScale, parityMax, 1)
	test.That(t, err, test.ShouldBeNil)

	cpuDepth := tensor.New([]int{24, 32}, tensor.Float32, tensor.Host)
	err = kernel.Project(cpuDepth, cpuPoints, nil, intr, extr, parityScale, parityMax)
	test.That(t, err, test.ShouldBeNil)

	gpuDepth := tensor.New([]int{24, 32}, tensor.Float32, tensor.Host).To(gpuDevice, tensor.Float32)
	err = kernel.Project(gpuDepth, cpuPoints.To(gpuDevice, tensor.Float32), nil, intr, extr, parityScale, parityMax)
	test.That(t, err, test.ShouldBeNil)

	host := gpuDepth.To(tensor.Host, tensor.Float32)
	for v := 0; v < 24; v++ {
		for u := 0; u < 32; u++ {
			test.That(t, host.At(v, u), test.ShouldAlmostEqual, cpuDepth.At(v, u), 1e-1)
		}
	}
}

func TestTransformParity(t *testing.T) {
	requireAdapter(t)
	raw := []float32{1, 2, 3, -4, 5, -6, 0.5, -0.25, 8}
	tfData := []float32{
		0, -1, 0, 10,
		1, 0, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	}

	cpuPoints := tensor.FromFloat32(append([]float32(nil), raw...), []int{3, 3}, tensor.Host)
	err := kernel.Transform(cpuPoints, nil, tensor.FromFloat32(append([]float32(nil), tfData...), []int{4, 4}, tensor.Host))
	test.That(t, err, test.ShouldBeNil)

	gpuPoints := tensor.FromFloat32(append([]float32(nil), raw...), []int{3, 3}, tensor.Host).To(gpuDevice, tensor.Float32)
	err = kernel.Transform(gpuPoints, nil, tensor.FromFloat32(append([]float32(nil), tfData...), []int{4, 4}, gpuDevice))
	test.That(t, err, test.ShouldBeNil)

	host := gpuPoints.To(tensor.Host, tensor.Float32)
	for i := 0; i < 3; i++ {
		for c := 0; c < 3; c++ {
			test.That(t, host.At(i, c), test.ShouldAlmostEqual, cpuPoints.At(i, c), 1e-4)
		}
	}
}

func TestVertexAndNormalMapParity(t *testing.T) {
	requireAdapter(t)
	cpuVM, err := kernel.CreateVertexMap(parityDepth(tensor.Host), parityIntrinsics(tensor.Host), parityScale, parityMax)
	test.That(t, err, test.ShouldBeNil)
	gpuVM, err := kernel.CreateVertexMap(parityDepth(gpuDevice), parityIntrinsics(gpuDevice), parityScale, parityMax)
	test.That(t, err, test.ShouldBeNil)

	hostVM := gpuVM.To(tensor.Host, tensor.Float32)
	for v := 0; v < 24; v++ {
		for u := 0; u < 32; u++ {
			for c := 0; c < 3; c++ {
				test.That(t, hostVM.At(v, u, c), test.ShouldAlmostEqual, cpuVM.At(v, u, c), 1e-4)
			}
		}
	}

	cpuNM, err := kernel.CreateNormalMap(cpuVM, parityScale, parityMax, 0.2)
	test.That(t, err, test.ShouldBeNil)
	gpuNM, err := kernel.CreateNormalMap(gpuVM, parityScale, parityMax, 0.2)
	test.That(t, err, test.ShouldBeNil)

	hostNM := gpuNM.To(tensor.Host, tensor.Float32)
	for v := 0; v < 24; v++ {
		for u := 0; u < 32; u++ {
			for c := 0; c < 3; c++ {
				test.That(t, hostNM.At(v, u, c), test.ShouldAlmostEqual, cpuNM.At(v, u, c), 1e-3)
			}
		}
	}
}

func TestGPURejectsFloat64(t *testing.T) {
	requireAdapter(t)
	points := tensor.New([]int{2, 3}, tensor.Float64, gpuDevice)
	tf := tensor.New([]int{4, 4}, tensor.Float64, gpuDevice)
	for i := 0; i < 4; i++ {
		tf.SetAt(1, i, i)
	}
	err := kernel.Transform(points, nil, tf)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Float32")
}

//go:build gpu

package gpu

import (
	"math"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/leomariga/Open3D/kernel"
	"github.com/leomariga/Open3D/logging"
	"github.com/leomariga/Open3D/tensor"
)

// emptyDepthBits is the bit pattern of the largest finite f32, installed in
// the z-buffer for pixels holding 0 so that every real depth beats them in
// the atomic minimum.
const emptyDepthBits = 0x7F7FFFFF

type backend struct {
	logger logging.Logger

	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
}

func init() {
	kernel.RegisterBackend(tensor.GPU, &backend{
		logger:    logging.NewLogger("kernel.gpu"),
		pipelines: map[string]*wgpu.ComputePipeline{},
	})
}

// Available reports whether a WebGPU adapter and device can be acquired.
func Available() bool {
	_, err := getContext(logging.NewLogger("kernel.gpu"))
	return err == nil
}

func (b *backend) context() (*gpuContext, error) {
	return getContext(b.logger)
}

func (b *backend) pipeline(c *gpuContext, name, src string) (*wgpu.ComputePipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pipelines[name]; ok {
		return p, nil
	}
	module, err := c.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile %s shader", name)
	}
	p, err := c.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   name,
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s pipeline", name)
	}
	b.pipelines[name] = p
	b.logger.Debugw("compiled compute pipeline", "kernel", name)
	return p, nil
}

func assertF32(name string, t *tensor.Tensor) error {
	if t == nil {
		return nil
	}
	if t.Dtype() != tensor.Float32 {
		return errors.Errorf("%s: dtype %s not supported on device %s, the GPU backend requires Float32",
			name, t.Dtype(), t.Device())
	}
	return nil
}

func f32w(v float64) uint32 { return math.Float32bits(float32(v)) }

// pad16 pads the packed uniform words to a 16-byte multiple.
func pad16(words []uint32) []uint32 {
	for len(words)%4 != 0 {
		words = append(words, 0)
	}
	return words
}

// projectiveWords packs the shared camera uniform block: four u32 header
// words, then intrinsics, scale bounds, and the row-major world-to-camera
// rotation and translation as f32.
func projectiveWords(w0, w1, w2, w3 uint32, intrinsics, extrinsics *tensor.Tensor, depthScale, depthMax float32) []uint32 {
	in := intrinsics.Float64s()
	ex := extrinsics.Float64s()
	return pad16([]uint32{
		w0, w1, w2, w3,
		f32w(in[0]), f32w(in[4]), f32w(in[2]), f32w(in[5]),
		math.Float32bits(depthScale), math.Float32bits(depthMax),
		f32w(ex[0]), f32w(ex[1]), f32w(ex[2]),
		f32w(ex[4]), f32w(ex[5]), f32w(ex[6]),
		f32w(ex[8]), f32w(ex[9]), f32w(ex[10]),
		f32w(ex[3]), f32w(ex[7]), f32w(ex[11]),
	})
}

func (b *backend) Unproject(depth, imageColors, intrinsics, extrinsics *tensor.Tensor,
	depthScale, depthMax float32, stride int,
) (*tensor.Tensor, *tensor.Tensor, error) {
	if err := assertF32("unproject", depth); err != nil {
		return nil, nil, err
	}
	if err := assertF32("unproject", imageColors); err != nil {
		return nil, nil, err
	}
	c, err := b.context()
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := b.pipeline(c, "unproject", unprojectWGSL)
	if err != nil {
		return nil, nil, err
	}

	rows, cols := depth.Dim(0), depth.Dim(1)
	hasColors := uint32(0)
	if imageColors != nil {
		hasColors = 1
	}
	uniform, err := c.newUniformBuffer(projectiveWords(
		uint32(cols), uint32(rows), uint32(stride), hasColors,
		intrinsics, extrinsics, depthScale, depthMax))
	if err != nil {
		return nil, nil, err
	}
	defer uniform.Destroy()

	depthBuf, err := c.newStorageBuffer(depth.Bytes())
	if err != nil {
		return nil, nil, err
	}
	defer depthBuf.Destroy()
	imageColorBytes := []byte{0, 0, 0, 0}
	if imageColors != nil {
		imageColorBytes = imageColors.Bytes()
	}
	imageColorsBuf, err := c.newStorageBuffer(imageColorBytes)
	if err != nil {
		return nil, nil, err
	}
	defer imageColorsBuf.Destroy()
	pointsBuf, err := c.newStorageBuffer(make([]byte, rows*cols*3*4))
	if err != nil {
		return nil, nil, err
	}
	defer pointsBuf.Destroy()
	colorsSize := 4
	if imageColors != nil {
		colorsSize = rows * cols * 3 * 4
	}
	colorsBuf, err := c.newStorageBuffer(make([]byte, colorsSize))
	if err != nil {
		return nil, nil, err
	}
	defer colorsBuf.Destroy()
	counterBuf, err := c.newStorageBuffer(make([]byte, 4))
	if err != nil {
		return nil, nil, err
	}
	defer counterBuf.Destroy()

	sampledRows := (rows + stride - 1) / stride
	sampledCols := (cols + stride - 1) / stride
	if err := c.dispatch(pipeline, []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: uniform, Size: uniform.GetSize()},
		{Binding: 1, Buffer: depthBuf, Size: depthBuf.GetSize()},
		{Binding: 2, Buffer: imageColorsBuf, Size: imageColorsBuf.GetSize()},
		{Binding: 3, Buffer: pointsBuf, Size: pointsBuf.GetSize()},
		{Binding: 4, Buffer: colorsBuf, Size: colorsBuf.GetSize()},
		{Binding: 5, Buffer: counterBuf, Size: counterBuf.GetSize()},
	}, sampledRows*sampledCols); err != nil {
		return nil, nil, err
	}

	counterBytes, err := c.readBuffer(counterBuf, 4)
	if err != nil {
		return nil, nil, err
	}
	n := int(wgpu.FromBytes[uint32](counterBytes)[0])

	points := tensor.New([]int{n, 3}, tensor.Float32, depth.Device())
	var colors *tensor.Tensor
	if imageColors != nil {
		colors = tensor.New([]int{n, 3}, tensor.Float32, depth.Device())
	}
	if n == 0 {
		return points, colors, nil
	}
	pointBytes, err := c.readBuffer(pointsBuf, uint64(n*3*4))
	if err != nil {
		return nil, nil, err
	}
	copy(points.Float32s(), wgpu.FromBytes[float32](pointBytes))
	if colors != nil {
		colorBytes, err := c.readBuffer(colorsBuf, uint64(n*3*4))
		if err != nil {
			return nil, nil, err
		}
		copy(colors.Float32s(), wgpu.FromBytes[float32](colorBytes))
	}
	return points, colors, nil
}

func (b *backend) Project(depth, imageColors, points, colors, intrinsics, extrinsics *tensor.Tensor,
	depthScale, depthMax float32,
) error {
	for _, t := range []*tensor.Tensor{depth, imageColors, points, colors} {
		if err := assertF32("project", t); err != nil {
			return err
		}
	}
	c, err := b.context()
	if err != nil {
		return err
	}
	depthPipeline, err := b.pipeline(c, "project_depth", projectDepthWGSL)
	if err != nil {
		return err
	}

	rows, cols := depth.Dim(0), depth.Dim(1)
	n := points.Dim(0)
	hasColors := uint32(0)
	if colors != nil {
		hasColors = 1
	}
	uniform, err := c.newUniformBuffer(projectiveWords(
		uint32(cols), uint32(rows), uint32(n), hasColors,
		intrinsics, extrinsics, depthScale, depthMax))
	if err != nil {
		return err
	}
	defer uniform.Destroy()

	// z-buffer upload: 0 becomes the empty sentinel, anything else competes
	// with its own bit pattern.
	depthData := depth.Float32s()
	bits := make([]uint32, len(depthData))
	for i, v := range depthData {
		if v == 0 {
			bits[i] = emptyDepthBits
		} else {
			bits[i] = math.Float32bits(v)
		}
	}
	depthBitsBuf, err := c.newStorageBuffer(wgpu.ToBytes(bits))
	if err != nil {
		return err
	}
	defer depthBitsBuf.Destroy()
	pointsBuf, err := c.newStorageBuffer(points.Bytes())
	if err != nil {
		return err
	}
	defer pointsBuf.Destroy()

	if err := c.dispatch(depthPipeline, []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: uniform, Size: uniform.GetSize()},
		{Binding: 1, Buffer: pointsBuf, Size: pointsBuf.GetSize()},
		{Binding: 2, Buffer: depthBitsBuf, Size: depthBitsBuf.GetSize()},
	}, n); err != nil {
		return err
	}

	if colors != nil {
		colorPipeline, err := b.pipeline(c, "project_color", projectColorWGSL)
		if err != nil {
			return err
		}
		pointColorsBuf, err := c.newStorageBuffer(colors.Bytes())
		if err != nil {
			return err
		}
		defer pointColorsBuf.Destroy()
		imageColorsBuf, err := c.newStorageBuffer(imageColors.Bytes())
		if err != nil {
			return err
		}
		defer imageColorsBuf.Destroy()
		if err := c.dispatch(colorPipeline, []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: uniform, Size: uniform.GetSize()},
			{Binding: 1, Buffer: pointsBuf, Size: pointsBuf.GetSize()},
			{Binding: 2, Buffer: depthBitsBuf, Size: depthBitsBuf.GetSize()},
			{Binding: 3, Buffer: pointColorsBuf, Size: pointColorsBuf.GetSize()},
			{Binding: 4, Buffer: imageColorsBuf, Size: imageColorsBuf.GetSize()},
		}, n); err != nil {
			return err
		}
		imageColorBytes, err := c.readBuffer(imageColorsBuf, imageColorsBuf.GetSize())
		if err != nil {
			return err
		}
		copy(imageColors.Float32s(), wgpu.FromBytes[float32](imageColorBytes))
	}

	bitBytes, err := c.readBuffer(depthBitsBuf, depthBitsBuf.GetSize())
	if err != nil {
		return err
	}
	for i, w := range wgpu.FromBytes[uint32](bitBytes) {
		if w == emptyDepthBits {
			continue // untouched empty pixel keeps its pre-existing value
		}
		depthData[i] = math.Float32frombits(w)
	}
	return nil
}

func (b *backend) Transform(points, normals, transformation *tensor.Tensor) error {
	for _, t := range []*tensor.Tensor{points, normals} {
		if err := assertF32("transform", t); err != nil {
			return err
		}
	}
	c, err := b.context()
	if err != nil {
		return err
	}
	pipeline, err := b.pipeline(c, "transform", transformWGSL)
	if err != nil {
		return err
	}

	n := points.Dim(0)
	hasNormals := uint32(0)
	if normals != nil {
		hasNormals = 1
	}
	m := transformation.To(tensor.Host, tensor.Float64).Float64s()
	words := []uint32{uint32(n), hasNormals, 0, 0}
	for _, v := range m {
		words = append(words, f32w(v))
	}
	uniform, err := c.newUniformBuffer(pad16(words))
	if err != nil {
		return err
	}
	defer uniform.Destroy()

	pointsBuf, err := c.newStorageBuffer(points.Bytes())
	if err != nil {
		return err
	}
	defer pointsBuf.Destroy()
	normalBytes := []byte{0, 0, 0, 0}
	if normals != nil {
		normalBytes = normals.Bytes()
	}
	normalsBuf, err := c.newStorageBuffer(normalBytes)
	if err != nil {
		return err
	}
	defer normalsBuf.Destroy()

	if err := c.dispatch(pipeline, []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: uniform, Size: uniform.GetSize()},
		{Binding: 1, Buffer: pointsBuf, Size: pointsBuf.GetSize()},
		{Binding: 2, Buffer: normalsBuf, Size: normalsBuf.GetSize()},
	}, n); err != nil {
		return err
	}

	pointBytes, err := c.readBuffer(pointsBuf, pointsBuf.GetSize())
	if err != nil {
		return err
	}
	copy(points.Float32s(), wgpu.FromBytes[float32](pointBytes))
	if normals != nil {
		outNormalBytes, err := c.readBuffer(normalsBuf, normalsBuf.GetSize())
		if err != nil {
			return err
		}
		copy(normals.Float32s(), wgpu.FromBytes[float32](outNormalBytes))
	}
	return nil
}

func (b *backend) CreateVertexMap(depth, intrinsics *tensor.Tensor, depthScale, depthMax float32) (*tensor.Tensor, error) {
	if err := assertF32("create vertex map", depth); err != nil {
		return nil, err
	}
	c, err := b.context()
	if err != nil {
		return nil, err
	}
	pipeline, err := b.pipeline(c, "vertex_map", vertexMapWGSL)
	if err != nil {
		return nil, err
	}

	rows, cols := depth.Dim(0), depth.Dim(1)
	in := intrinsics.Float64s()
	uniform, err := c.newUniformBuffer(pad16([]uint32{
		uint32(cols), uint32(rows), 0, 0,
		f32w(in[0]), f32w(in[4]), f32w(in[2]), f32w(in[5]),
		math.Float32bits(depthScale), math.Float32bits(depthMax),
	}))
	if err != nil {
		return nil, err
	}
	defer uniform.Destroy()

	depthBuf, err := c.newStorageBuffer(depth.Bytes())
	if err != nil {
		return nil, err
	}
	defer depthBuf.Destroy()
	vertexMapBuf, err := c.newStorageBuffer(make([]byte, rows*cols*3*4))
	if err != nil {
		return nil, err
	}
	defer vertexMapBuf.Destroy()

	if err := c.dispatch(pipeline, []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: uniform, Size: uniform.GetSize()},
		{Binding: 1, Buffer: depthBuf, Size: depthBuf.GetSize()},
		{Binding: 2, Buffer: vertexMapBuf, Size: vertexMapBuf.GetSize()},
	}, rows*cols); err != nil {
		return nil, err
	}

	vertexBytes, err := c.readBuffer(vertexMapBuf, vertexMapBuf.GetSize())
	if err != nil {
		return nil, err
	}
	vertexMap := tensor.New([]int{rows, cols, 3}, tensor.Float32, depth.Device())
	copy(vertexMap.Float32s(), wgpu.FromBytes[float32](vertexBytes))
	return vertexMap, nil
}

func (b *backend) CreateNormalMap(vertexMap *tensor.Tensor, depthScale, depthMax, depthDiff float32) (*tensor.Tensor, error) {
	if err := assertF32("create normal map", vertexMap); err != nil {
		return nil, err
	}
	c, err := b.context()
	if err != nil {
		return nil, err
	}
	pipeline, err := b.pipeline(c, "normal_map", normalMapWGSL)
	if err != nil {
		return nil, err
	}

	rows, cols := vertexMap.Dim(0), vertexMap.Dim(1)
	uniform, err := c.newUniformBuffer(pad16([]uint32{
		uint32(cols), uint32(rows), 0, 0,
		math.Float32bits(depthDiff),
	}))
	if err != nil {
		return nil, err
	}
	defer uniform.Destroy()

	vertexMapBuf, err := c.newStorageBuffer(vertexMap.Bytes())
	if err != nil {
		return nil, err
	}
	defer vertexMapBuf.Destroy()
	normalMapBuf, err := c.newStorageBuffer(make([]byte, rows*cols*3*4))
	if err != nil {
		return nil, err
	}
	defer normalMapBuf.Destroy()

	if err := c.dispatch(pipeline, []wgpu.BindGroupEntry{
		{Binding: 0, Buffer: uniform, Size: uniform.GetSize()},
		{Binding: 1, Buffer: vertexMapBuf, Size: vertexMapBuf.GetSize()},
		{Binding: 2, Buffer: normalMapBuf, Size: normalMapBuf.GetSize()},
	}, rows*cols); err != nil {
		return nil, err
	}

	normalBytes, err := c.readBuffer(normalMapBuf, normalMapBuf.GetSize())
	if err != nil {
		return nil, err
	}
	normalMap := tensor.New([]int{rows, cols, 3}, tensor.Float32, vertexMap.Device())
	copy(normalMap.Float32s(), wgpu.FromBytes[float32](normalBytes))
	return normalMap, nil
}

// Package tensor provides the flat-buffer view type the geometry kernels
// operate on: a shape, element strides, a dtype, and a device tag over a
// host-resident byte buffer. It deliberately implements only what the kernel
// layer consumes (contiguity, dtype/device normalization, typed access);
// it is not a general array-programming library.
package tensor

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Tensor is a strided view over a flat buffer of numeric elements.
// Views created by Transpose share the underlying buffer; Contiguous and To
// return dense copies when the view is not already dense.
type Tensor struct {
	data    []byte
	shape   []int
	strides []int // element strides per dimension
	dtype   Dtype
	device  Device
}

// New returns a zero-filled dense tensor of the given shape.
func New(shape []int, dtype Dtype, device Device) *Tensor {
	if err := validDtype(dtype); err != nil {
		panic(err)
	}
	n := numElements(shape)
	return &Tensor{
		data:    make([]byte, n*dtype.Size()),
		shape:   append([]int(nil), shape...),
		strides: denseStrides(shape),
		dtype:   dtype,
		device:  device,
	}
}

// FromFloat32 wraps a float32 slice as a dense tensor. The slice is not
// copied; the tensor aliases it.
func FromFloat32(data []float32, shape []int, device Device) *Tensor {
	if len(data) != numElements(shape) {
		panic(errors.Errorf("data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{
		data:    asBytes(data),
		shape:   append([]int(nil), shape...),
		strides: denseStrides(shape),
		dtype:   Float32,
		device:  device,
	}
}

// FromFloat64 wraps a float64 slice as a dense tensor without copying.
func FromFloat64(data []float64, shape []int, device Device) *Tensor {
	if len(data) != numElements(shape) {
		panic(errors.Errorf("data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{
		data:    asBytes(data),
		shape:   append([]int(nil), shape...),
		strides: denseStrides(shape),
		dtype:   Float64,
		device:  device,
	}
}

// FromUint8 wraps a uint8 slice as a dense tensor without copying.
func FromUint8(data []uint8, shape []int, device Device) *Tensor {
	if len(data) != numElements(shape) {
		panic(errors.Errorf("data length %d does not match shape %v", len(data), shape))
	}
	return &Tensor{
		data:    data,
		shape:   append([]int(nil), shape...),
		strides: denseStrides(shape),
		dtype:   UInt8,
		device:  device,
	}
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Dims returns the number of dimensions.
func (t *Tensor) Dims() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// NumElements returns the total element count of the view.
func (t *Tensor) NumElements() int { return numElements(t.shape) }

// Dtype returns the element type.
func (t *Tensor) Dtype() Dtype { return t.dtype }

// Device returns the device tag.
func (t *Tensor) Device() Device { return t.device }

// IsContiguous reports whether the view is dense in row-major order.
func (t *Tensor) IsContiguous() bool {
	want := denseStrides(t.shape)
	for i := range want {
		if t.shape[i] > 1 && t.strides[i] != want[i] {
			return false
		}
	}
	return true
}

// Transpose returns a view with dimensions d0 and d1 swapped. No data moves.
func (t *Tensor) Transpose(d0, d1 int) *Tensor {
	if d0 < 0 || d0 >= len(t.shape) || d1 < 0 || d1 >= len(t.shape) {
		panic(errors.Errorf("transpose dims (%d, %d) out of range for shape %v", d0, d1, t.shape))
	}
	shape := append([]int(nil), t.shape...)
	strides := append([]int(nil), t.strides...)
	shape[d0], shape[d1] = shape[d1], shape[d0]
	strides[d0], strides[d1] = strides[d1], strides[d0]
	return &Tensor{data: t.data, shape: shape, strides: strides, dtype: t.dtype, device: t.device}
}

// Contiguous returns t itself when already dense, otherwise a dense copy on
// the same device.
func (t *Tensor) Contiguous() *Tensor {
	if t.IsContiguous() {
		return t
	}
	out := New(t.shape, t.dtype, t.device)
	esz := t.dtype.Size()
	dst := out.data
	i := 0
	t.iterate(func(srcOff int) {
		copy(dst[i*esz:(i+1)*esz], t.data[srcOff*esz:(srcOff+1)*esz])
		i++
	})
	return out
}

// Clone returns a dense copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := t.Contiguous()
	out := New(c.shape, c.dtype, c.device)
	copy(out.data, c.data)
	return out
}

// To returns a dense copy converted to the given device and dtype. When the
// tensor already matches both and is contiguous, it is returned unchanged.
func (t *Tensor) To(device Device, dtype Dtype) *Tensor {
	if err := validDtype(dtype); err != nil {
		panic(err)
	}
	if t.device == device && t.dtype == dtype && t.IsContiguous() {
		return t
	}
	src := t.Contiguous()
	if src.dtype == dtype {
		out := New(src.shape, dtype, device)
		copy(out.data, src.data)
		return out
	}
	out := New(src.shape, dtype, device)
	n := src.NumElements()
	for i := 0; i < n; i++ {
		out.setFloat(i, src.getFloat(i))
	}
	return out
}

// Float32s returns the underlying data as a float32 slice. The tensor must
// be contiguous and of dtype Float32; kernels call this only after the
// dispatch layer has normalized inputs.
func (t *Tensor) Float32s() []float32 {
	t.mustBeDense(Float32)
	return asTyped[float32](t.data)
}

// Float64s returns the underlying data as a float64 slice (dense Float64 only).
func (t *Tensor) Float64s() []float64 {
	t.mustBeDense(Float64)
	return asTyped[float64](t.data)
}

// Uint8s returns the underlying data as a uint8 slice (dense UInt8 only).
func (t *Tensor) Uint8s() []uint8 {
	t.mustBeDense(UInt8)
	return t.data
}

// Bytes returns the raw backing bytes of a contiguous tensor.
func (t *Tensor) Bytes() []byte {
	if !t.IsContiguous() {
		panic(errors.New("Bytes requires a contiguous tensor"))
	}
	return t.data
}

// At returns the element at the given multi-index as float64,
// converting from the tensor's dtype.
func (t *Tensor) At(idx ...int) float64 {
	return t.getFloat(t.flatOffset(idx))
}

// SetAt stores v (converted to the tensor's dtype) at the given multi-index.
func (t *Tensor) SetAt(v float64, idx ...int) {
	t.setFloat(t.flatOffset(idx), v)
}

// AssertShape returns an error unless the tensor has exactly the given shape.
func (t *Tensor) AssertShape(shape ...int) error {
	if len(shape) != len(t.shape) {
		return errors.Errorf("expected shape %v, got %v", shape, t.shape)
	}
	for i := range shape {
		if shape[i] != t.shape[i] {
			return errors.Errorf("expected shape %v, got %v", shape, t.shape)
		}
	}
	return nil
}

// AssertDtype returns an error unless the tensor has the given dtype.
func (t *Tensor) AssertDtype(d Dtype) error {
	if t.dtype != d {
		return errors.Errorf("expected dtype %s, got %s", d, t.dtype)
	}
	return nil
}

// AssertDevice returns an error unless the tensor is on the given device.
func (t *Tensor) AssertDevice(d Device) error {
	if t.device != d {
		return errors.Errorf("expected device %s, got %s", d, t.device)
	}
	return nil
}

func (t *Tensor) mustBeDense(d Dtype) {
	if t.dtype != d {
		panic(errors.Errorf("tensor is %s, not %s", t.dtype, d))
	}
	if !t.IsContiguous() {
		panic(errors.Errorf("tensor of shape %v is not contiguous", t.shape))
	}
}

func (t *Tensor) flatOffset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(errors.Errorf("index %v does not match shape %v", idx, t.shape))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(errors.Errorf("index %v out of range for shape %v", idx, t.shape))
		}
		off += x * t.strides[i]
	}
	return off
}

func (t *Tensor) getFloat(off int) float64 {
	switch t.dtype {
	case Float32:
		return float64(asTyped[float32](t.data)[off])
	case Float64:
		return asTyped[float64](t.data)[off]
	case UInt8:
		return float64(t.data[off])
	default:
		panic(errors.Errorf("unknown dtype %d", t.dtype))
	}
}

func (t *Tensor) setFloat(off int, v float64) {
	switch t.dtype {
	case Float32:
		asTyped[float32](t.data)[off] = float32(v)
	case Float64:
		asTyped[float64](t.data)[off] = v
	case UInt8:
		t.data[off] = uint8(v)
	default:
		panic(errors.Errorf("unknown dtype %d", t.dtype))
	}
}

// iterate visits every element of the view in row-major logical order and
// passes its element offset into the backing buffer.
func (t *Tensor) iterate(fn func(off int)) {
	if len(t.shape) == 0 {
		fn(0)
		return
	}
	idx := make([]int, len(t.shape))
	for {
		off := 0
		for i, x := range idx {
			off += x * t.strides[i]
		}
		fn(off)
		d := len(idx) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < t.shape[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return
		}
	}
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(errors.Errorf("negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

func denseStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func asBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var z T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(z)))
}

func asTyped[T any](b []byte) []T {
	if len(b) == 0 {
		return nil
	}
	var z T
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/int(unsafe.Sizeof(z)))
}

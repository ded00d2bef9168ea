package tensor

import "github.com/pkg/errors"

// Dtype is the element type of a Tensor.
type Dtype uint8

// Supported element types.
const (
	DtypeUnknown Dtype = iota
	Float32
	Float64
	UInt8
)

// Size returns the width of one element in bytes.
func (d Dtype) Size() int {
	switch d {
	case Float32:
		return 4
	case Float64:
		return 8
	case UInt8:
		return 1
	default:
		return 0
	}
}

func (d Dtype) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case UInt8:
		return "UInt8"
	default:
		return "Unknown"
	}
}

// IsFloat reports whether the dtype is a floating-point type.
func (d Dtype) IsFloat() bool {
	return d == Float32 || d == Float64
}

func validDtype(d Dtype) error {
	if d.Size() == 0 {
		return errors.Errorf("unknown dtype %d", d)
	}
	return nil
}

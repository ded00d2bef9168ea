package tensor

import "fmt"

// DeviceType enumerates the kinds of devices a Tensor can be scheduled on.
type DeviceType uint8

// Known device types.
const (
	CPU DeviceType = iota
	GPU
)

func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return fmt.Sprintf("DeviceType(%d)", uint8(t))
	}
}

// Device identifies the execution device of a Tensor. The payload of every
// Tensor lives in host memory; Device records which kernel backend operates
// on it (the GPU backend stages data through device buffers per call).
type Device struct {
	Type  DeviceType
	Index int
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Type, d.Index)
}

// Host is the default CPU device.
var Host = Device{Type: CPU}

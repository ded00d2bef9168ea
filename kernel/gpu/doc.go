// Package gpu implements the kernel backend for GPU execution through
// WebGPU compute shaders. The implementation is gated behind the "gpu"
// build tag; without it the package compiles to a stub that registers
// nothing, so kernel calls on GPU-device tensors fail with an unsupported
// device error instead of silently running on the CPU.
//
// Importing the package registers the backend when built with -tags gpu:
//
//	_ "github.com/leomariga/Open3D/kernel/gpu"
//
// The backend requires float32 tensors: WGSL has no 64-bit floats.
package gpu

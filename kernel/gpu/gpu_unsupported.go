//go:build !gpu

package gpu

// Available reports whether the GPU backend can execute kernels. Without
// the "gpu" build tag there is no implementation to probe.
func Available() bool { return false }

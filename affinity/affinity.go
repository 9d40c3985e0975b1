// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are
// located in affinity_linux.go, affinity_windows.go and affinity_stub.go.

package affinity

import "runtime"

// SetAffinity pins the current OS thread to a logical CPU. The caller must
// have called runtime.LockOSThread. On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// PinWorker locks the calling goroutine to its OS thread and pins that
// thread to CPU worker mod NumCPU. On failure the thread stays locked.
func PinWorker(worker int) (cpu int, err error) {
	runtime.LockOSThread()
	cpu = worker % runtime.NumCPU()
	return cpu, SetAffinity(cpu)
}

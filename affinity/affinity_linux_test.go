//go:build linux

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/momentics/hioload-flow/affinity"
)

func TestPinWorker(t *testing.T) {
	type result struct {
		cpu int
		err error
	}
	res := make(chan result, 1)
	go func() {
		defer runtime.UnlockOSThread()
		cpu, err := affinity.PinWorker(runtime.NumCPU() + 1)
		res <- result{cpu, err}
	}()
	r := <-res
	if r.cpu != 1%runtime.NumCPU() {
		t.Errorf("cpu = %d", r.cpu)
	}
	if r.err != nil {
		t.Skipf("pinning not permitted here: %v", r.err)
	}
}

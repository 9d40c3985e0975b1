package control_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/momentics/hioload-flow/control"
)

func TestMetricsRecordTick(t *testing.T) {
	m := control.NewMetrics("flow-test", 2)
	m.RecordTick(0, 0)
	m.RecordTick(0, 5)
	m.RecordTick(1, 1)
	m.RecordTick(7, 1) // unknown worker is ignored
	m.FramesOut(1, 3)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed("liveness_timeout")

	if n, err := testutil.GatherAndCount(m.Registry(), "hioload_flow_ticks_total"); err != nil || n != 2 {
		t.Fatalf("ticks series = %d, err = %v", n, err)
	}
	exp := `
# HELP hioload_flow_connections Live connections.
# TYPE hioload_flow_connections gauge
hioload_flow_connections{resources="flow-test"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(exp), "hioload_flow_connections"); err != nil {
		t.Error(err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`hioload_flow_idle_ticks_total{resources="flow-test",worker="0"} 1`,
		`hioload_flow_work_total{resources="flow-test",worker="0"} 5`,
		`hioload_flow_frames_out_total{resources="flow-test",worker="1"} 3`,
		`hioload_flow_teardowns_total{cause="liveness_timeout",resources="flow-test"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("answer", func() any { return 42 })
	state := dp.DumpState()
	if state["answer"] != 42 {
		t.Errorf("answer = %v", state["answer"])
	}
	if _, ok := state["runtime.cpus"]; !ok {
		t.Error("runtime probe missing")
	}
}

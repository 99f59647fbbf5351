package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBatchCounts(t *testing.T) {
	m := New()
	m.Batch(true, 3, 2)
	m.Batch(false, 0, 0)
	m.Batch(true, 1, 0)

	if v := testutil.ToFloat64(m.Batches.WithLabelValues("committed")); v != 2 {
		t.Errorf("committed = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.Batches.WithLabelValues("rejected")); v != 1 {
		t.Errorf("rejected = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.LegosCommitted.WithLabelValues("new")); v != 4 {
		t.Errorf("new legos = %v, want 4", v)
	}
	if v := testutil.ToFloat64(m.LegosCommitted.WithLabelValues("reference")); v != 2 {
		t.Errorf("references = %v, want 2", v)
	}
}

func TestBasketCounts(t *testing.T) {
	m := New()
	m.Basket(0, 4)
	m.Basket(3, 1)

	if v := testutil.ToFloat64(m.Baskets.WithLabelValues("full")); v != 1 {
		t.Errorf("full = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.Baskets.WithLabelValues("padded")); v != 1 {
		t.Errorf("padded = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.PaddedSlots); v != 3 {
		t.Errorf("padded slots = %v, want 3", v)
	}
	if v := testutil.ToFloat64(m.GateRejections); v != 5 {
		t.Errorf("gate rejections = %v, want 5", v)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *Collector
	m.Segmented("ok")
	m.Batch(true, 1, 1)
	m.Basket(1, 1)
	m.Conflict("capitalization")
	if out, err := m.Dump(); err != nil || out != "" {
		t.Fatalf("Dump on nil = %q, %v", out, err)
	}
}

func TestDump(t *testing.T) {
	m := New()
	m.Segmented("ok")
	m.Conflict("capitalization")
	out, err := m.Dump()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`coursegen_segment_seeds_total{result="ok"} 1`, `coursegen_conflict_detected_total{type="capitalization"} 1`} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

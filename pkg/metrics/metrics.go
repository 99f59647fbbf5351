// Package metrics counts pipeline outcomes on a private Prometheus registry.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "coursegen"

// Collector holds the pipeline counters. A nil *Collector is valid and
// records nothing.
type Collector struct {
	Registry *prometheus.Registry

	// SeedsSegmented counts segmentation jobs by result (ok, tiling, error).
	SeedsSegmented *prometheus.CounterVec
	// Batches counts merge batches by outcome (committed, rejected).
	Batches *prometheus.CounterVec
	// LegosCommitted counts committed LEGOs by origin (new, reference).
	LegosCommitted *prometheus.CounterVec
	// Baskets counts generated baskets by shape (full, padded).
	Baskets *prometheus.CounterVec
	// GateRejections counts candidate phrases discarded by the GATE check.
	GateRejections prometheus.Counter
	// PaddedSlots counts basket slots filled by padding.
	PaddedSlots prometheus.Counter
	// Conflicts counts detected conflicts by type.
	Conflicts *prometheus.CounterVec
}

// New registers every counter on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		Registry: reg,
		SeedsSegmented: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "segment", Name: "seeds_total",
			Help: "Seeds processed by segmentation workers, by result.",
		}, []string{"result"}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "merge", Name: "batches_total",
			Help: "Merge batches by outcome.",
		}, []string{"outcome"}),
		LegosCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "merge", Name: "legos_total",
			Help: "Committed LEGOs by origin.",
		}, []string{"origin"}),
		Baskets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "basket", Name: "generated_total",
			Help: "Generated baskets by shape.",
		}, []string{"shape"}),
		GateRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "basket", Name: "gate_rejections_total",
			Help: "Candidate phrases rejected by the GATE check.",
		}),
		PaddedSlots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "basket", Name: "padded_slots_total",
			Help: "Basket slots filled by padding.",
		}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "conflict", Name: "detected_total",
			Help: "Detected conflicts by type.",
		}, []string{"type"}),
	}
}

// Segmented records one segmentation result.
func (c *Collector) Segmented(result string) {
	if c == nil {
		return
	}
	c.SeedsSegmented.WithLabelValues(result).Inc()
}

// Batch records a merge batch and, when committed, its LEGO counts.
func (c *Collector) Batch(committed bool, newLegos, references int) {
	if c == nil {
		return
	}
	if !committed {
		c.Batches.WithLabelValues("rejected").Inc()
		return
	}
	c.Batches.WithLabelValues("committed").Inc()
	c.LegosCommitted.WithLabelValues("new").Add(float64(newLegos))
	c.LegosCommitted.WithLabelValues("reference").Add(float64(references))
}

// Basket records one generated basket.
func (c *Collector) Basket(padded, rejected int) {
	if c == nil {
		return
	}
	shape := "full"
	if padded > 0 {
		shape = "padded"
	}
	c.Baskets.WithLabelValues(shape).Inc()
	c.PaddedSlots.Add(float64(padded))
	c.GateRejections.Add(float64(rejected))
}

// Conflict records one detected conflict.
func (c *Collector) Conflict(kind string) {
	if c == nil {
		return
	}
	c.Conflicts.WithLabelValues(kind).Inc()
}

// Dump renders every metric in the Prometheus text format.
func (c *Collector) Dump() (string, error) {
	if c == nil {
		return "", nil
	}
	families, err := c.Registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

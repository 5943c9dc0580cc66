// Package metrics exposes Prometheus metrics for the storage SCP and SCU.
//
// A nil *Collector is valid and records nothing, so components take an
// optional collector without checking for it.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caio-sobreiro/dicomstore/types"
)

// Association end results.
const (
	ResultReleased = "released"
	ResultAborted  = "aborted"
)

// Collector records association and object metrics.
type Collector struct {
	associationsAccepted prometheus.Counter
	associationsRejected prometheus.Counter
	associationsEnded    *prometheus.CounterVec
	associationsActive   prometheus.Gauge

	objectsReceived *prometheus.CounterVec
	bytesReceived   prometheus.Counter
	storeLatency    prometheus.Histogram

	objectsSent *prometheus.CounterVec
}

// NewCollector creates the collector and registers it on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		associationsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_associations_accepted_total",
			Help: "Total number of associations accepted",
		}),
		associationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_associations_rejected_total",
			Help: "Total number of association requests rejected or failed during negotiation",
		}),
		associationsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom_associations_ended_total",
			Help: "Total number of established associations that ended, by result",
		}, []string{"result"}),
		associationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dicom_associations_active",
			Help: "Current number of established associations",
		}),
		objectsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom_objects_received_total",
			Help: "Total number of C-STORE requests answered, by status class",
		}, []string{"status"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_received_bytes_total",
			Help: "Total dataset bytes received in C-STORE requests",
		}),
		storeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dicom_store_latency_seconds",
			Help:    "Time spent persisting a received object",
			Buckets: prometheus.DefBuckets,
		}),
		objectsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom_objects_sent_total",
			Help: "Total number of objects handled by the storage SCU, by outcome",
		}, []string{"outcome"}),
	}

	for _, m := range []prometheus.Collector{
		c.associationsAccepted,
		c.associationsRejected,
		c.associationsEnded,
		c.associationsActive,
		c.objectsReceived,
		c.bytesReceived,
		c.storeLatency,
		c.objectsSent,
	} {
		if err := reg.Register(m); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("metrics already registered: %w", err)
			}
			return nil, err
		}
	}
	return c, nil
}

// AssociationAccepted records a newly established association.
func (c *Collector) AssociationAccepted() {
	if c == nil {
		return
	}
	c.associationsAccepted.Inc()
	c.associationsActive.Inc()
}

// AssociationRejected records a request that never became established.
func (c *Collector) AssociationRejected() {
	if c == nil {
		return
	}
	c.associationsRejected.Inc()
}

// AssociationEnded records the end of an established association.
func (c *Collector) AssociationEnded(result string) {
	if c == nil {
		return
	}
	c.associationsEnded.WithLabelValues(result).Inc()
	c.associationsActive.Dec()
}

// ObjectReceived records a C-STORE response status and the dataset size.
func (c *Collector) ObjectReceived(status uint16, size int) {
	if c == nil {
		return
	}
	c.objectsReceived.WithLabelValues(types.ClassifyStatus(status).String()).Inc()
	c.bytesReceived.Add(float64(size))
}

// ObserveStore records how long persisting one object took.
func (c *Collector) ObserveStore(d time.Duration) {
	if c == nil {
		return
	}
	c.storeLatency.Observe(d.Seconds())
}

// ObjectSent records the outcome of one object of a send job.
func (c *Collector) ObjectSent(outcome string) {
	if c == nil {
		return
	}
	c.objectsSent.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

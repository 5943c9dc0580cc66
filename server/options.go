package server

import (
	"crypto/tls"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/caio-sobreiro/dicomstore/association"
	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/metrics"
	"github.com/caio-sobreiro/dicomstore/negotiation"
)

// Option configures a Dispatcher instance.
type Option func(*Dispatcher)

// WithLogger overrides the logger used by the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTimeouts sets the read, write and release timeouts of every association.
func WithTimeouts(timeouts association.Timeouts) Option {
	return func(d *Dispatcher) {
		d.timeouts = timeouts
	}
}

// WithPolicy replaces the default storage presentation context policy.
func WithPolicy(policy negotiation.PresentationContextSelectionPolicy) Option {
	return func(d *Dispatcher) {
		if policy != nil {
			d.policy = policy
		}
	}
}

// WithStatusHandler is notified when an association is released, and when
// it implements association.AbortObserver, when one is aborted.
func WithStatusHandler(handler association.StatusHandler) Option {
	return func(d *Dispatcher) {
		d.statusHandler = handler
	}
}

// WithTLSConfig serves DICOM over TLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(d *Dispatcher) {
		d.tlsConfig = cfg
	}
}

// WithCounter numbers associations with counter instead of a private one.
func WithCounter(counter association.Counter) Option {
	return func(d *Dispatcher) {
		if counter != nil {
			d.counter = counter
		}
	}
}

// WithMetrics records association and object metrics on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(d *Dispatcher) {
		d.metrics = collector
	}
}

// WithMaxAssociations limits concurrent associations. Requests beyond the
// limit are rejected as transient (local limit exceeded). n <= 0 removes the
// limit.
func WithMaxAssociations(n int) Option {
	return func(d *Dispatcher) {
		if n <= 0 {
			d.limit = nil
			return
		}
		d.limit = semaphore.NewWeighted(int64(n))
	}
}

// WithStrictAETitle rejects requests that do not call the dispatcher's AE
// title.
func WithStrictAETitle() Option {
	return func(d *Dispatcher) {
		d.strictAETitle = true
	}
}

// WithMaxPDULength sets the largest P-DATA-TF the dispatcher accepts.
func WithMaxPDULength(n uint32) Option {
	return func(d *Dispatcher) {
		d.maxPDULength = n
	}
}

// WithServiceHandler routes commandField to handler, for example to plug
// query/retrieve services into a storage dispatcher. It applies when the
// dispatcher's handler is a *services.Registry.
func WithServiceHandler(commandField uint16, handler interfaces.ServiceHandler) Option {
	return func(d *Dispatcher) {
		d.extraHandlers[commandField] = handler
	}
}

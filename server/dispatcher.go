// Package server implements the storage SCP dispatcher: it accepts
// connections, negotiates one association per connection and routes the
// DIMSE messages of each association to a service handler.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/caio-sobreiro/dicomstore/association"
	"github.com/caio-sobreiro/dicomstore/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/metrics"
	"github.com/caio-sobreiro/dicomstore/negotiation"
	"github.com/caio-sobreiro/dicomstore/pdu"
	"github.com/caio-sobreiro/dicomstore/services"
	"github.com/caio-sobreiro/dicomstore/storage"
	"github.com/caio-sobreiro/dicomstore/types"
)

// ErrAlreadyStarted is returned by Start and Run on a dispatcher that was
// started or shut down before.
var ErrAlreadyStarted = errors.New("dispatcher already started")

// Dispatcher listens for associations and serves each on its own goroutine.
//
// IsReady reports true once the listener is bound and the accept loop runs,
// and false again once Shutdown has closed the listener, so a new dispatcher
// may bind the same address right after.
type Dispatcher struct {
	aeTitle string
	address string
	handler interfaces.ServiceHandler

	logger        *slog.Logger
	timeouts      association.Timeouts
	policy        negotiation.PresentationContextSelectionPolicy
	statusHandler association.StatusHandler
	tlsConfig     *tls.Config
	counter       association.Counter
	metrics       *metrics.Collector
	limit         *semaphore.Weighted
	strictAETitle bool
	maxPDULength  uint32
	extraHandlers map[uint16]interfaces.ServiceHandler

	mu       sync.Mutex
	listener net.Listener

	started      *atomic.Bool
	ready        *atomic.Bool
	shuttingDown *atomic.Bool
	readyCh      chan struct{}
	doneCh       chan struct{}
	shutdownOnce sync.Once
	doneOnce     sync.Once
	conns        sync.WaitGroup
}

// NewDispatcher builds a dispatcher serving handler on address.
func NewDispatcher(aeTitle, address string, handler interfaces.ServiceHandler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		aeTitle:       aeTitle,
		address:       address,
		handler:       handler,
		logger:        slog.Default(),
		policy:        negotiation.NewStoragePolicy(),
		counter:       association.NewCounter(),
		extraHandlers: make(map[uint16]interfaces.ServiceHandler),
		started:       atomic.NewBool(false),
		ready:         atomic.NewBool(false),
		shuttingDown:  atomic.NewBool(false),
		readyCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("ae_title", aeTitle)

	if len(d.extraHandlers) > 0 {
		registry, ok := handler.(*services.Registry)
		if !ok {
			d.logger.Warn("Ignoring extra service handlers: dispatcher handler is not a registry")
		}
		for command, h := range d.extraHandlers {
			if ok {
				registry.RegisterHandler(command, h)
			}
		}
	}
	return d
}

// NewStorageDispatcher builds a storage SCP: C-STORE requests are persisted
// with store and reported to received, C-ECHO requests are answered.
func NewStorageDispatcher(aeTitle, address string, store storage.Store, received interfaces.ReceivedObjectHandler, opts ...Option) *Dispatcher {
	registry := services.NewRegistry(nil)
	d := NewDispatcher(aeTitle, address, registry, opts...)
	registry.SetLogger(d.logger)

	// Handlers given with WithServiceHandler take precedence.
	if !registry.HasHandler(types.CEchoRQ) {
		registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(d.logger))
	}
	if !registry.HasHandler(types.CStoreRQ) {
		registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(store, received,
			services.WithStoreServiceLogger(d.logger),
			services.WithStoreMetrics(d.metrics)))
	}
	return d
}

// IsReady reports whether the dispatcher is accepting connections.
func (d *Dispatcher) IsReady() bool {
	return d.ready.Load()
}

// Ready is closed once the dispatcher accepts connections.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.readyCh
}

// Done is closed once the dispatcher has stopped and every association it
// served has ended.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.doneCh
}

// Wait blocks until Done is closed.
func (d *Dispatcher) Wait() {
	<-d.doneCh
}

// Addr returns the bound address, or nil before Start.
func (d *Dispatcher) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Start binds the listening socket and serves on a new goroutine. Bind
// errors are returned; once Start returns nil the dispatcher is ready.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.bind(); err != nil {
		return err
	}
	go func() {
		if err := d.serve(ctx); err != nil {
			d.logger.ErrorContext(ctx, "Dispatcher stopped", "error", err)
		}
	}()
	<-d.readyCh
	return nil
}

// Run binds the listening socket and serves on the calling goroutine until
// Shutdown is called or ctx is done, then waits for in-flight associations.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.bind(); err != nil {
		return err
	}
	return d.serve(ctx)
}

// Shutdown stops accepting connections. Associations in progress are left
// to finish; Wait or Done report when they have. Calling it again does
// nothing.
func (d *Dispatcher) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.shuttingDown.Store(true)
		if d.started.CompareAndSwap(false, true) {
			d.finish()
			return
		}

		d.mu.Lock()
		if d.listener != nil {
			if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				d.logger.Warn("Failed to close listener", "error", err)
			}
		}
		d.ready.Store(false)
		d.mu.Unlock()
		d.logger.Info("DICOM dispatcher shutting down")
	})
}

func (d *Dispatcher) finish() {
	d.doneOnce.Do(func() { close(d.doneCh) })
}

func (d *Dispatcher) bind() error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if d.handler == nil {
		d.finish()
		return errors.New("dispatcher: handler is required")
	}

	listener, err := net.Listen("tcp", d.address)
	if err != nil {
		d.finish()
		return fmt.Errorf("bind %s: %w", d.address, err)
	}
	if d.tlsConfig != nil {
		listener = tls.NewListener(listener, d.tlsConfig)
	}

	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) serve(ctx context.Context) error {
	defer d.finish()
	stop := context.AfterFunc(ctx, d.Shutdown)
	defer stop()

	d.mu.Lock()
	listener := d.listener
	if !d.shuttingDown.Load() {
		d.ready.Store(true)
	}
	d.mu.Unlock()
	close(d.readyCh)

	d.logger.InfoContext(ctx, "DICOM dispatcher listening",
		"address", listener.Addr().String(),
		"tls", d.tlsConfig != nil)

	var serveErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if d.shuttingDown.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				d.logger.WarnContext(ctx, "Accept timeout", "error", err)
				continue
			}
			serveErr = err
			break
		}

		d.conns.Add(1)
		go func() {
			defer d.conns.Done()
			d.handleConnection(context.WithoutCancel(ctx), conn)
		}()
	}

	d.Shutdown()
	d.conns.Wait()
	d.logger.InfoContext(ctx, "DICOM dispatcher stopped")
	return serveErr
}

func (d *Dispatcher) handleConnection(ctx context.Context, conn net.Conn) {
	logger := d.logger.With("remote_addr", conn.RemoteAddr().String())
	logger.DebugContext(ctx, "Accepted DICOM connection")

	admitted := true
	if d.limit != nil {
		admitted = d.limit.TryAcquire(1)
		if admitted {
			defer d.limit.Release(1)
		}
	}

	assoc, err := association.Accept(ctx, conn, association.AcceptConfig{
		AETitle:             d.aeTitle,
		StrictCalledAETitle: d.strictAETitle,
		Policy:              d.policy,
		MaxPDULength:        d.maxPDULength,
		Admit: func(*pdu.AssociateRQ) *dicomerrors.AssociationError {
			if admitted {
				return nil
			}
			rejection := dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceProviderPresentation,
				dicomerrors.RejectReasonLocalLimitExceeded, "too many concurrent associations")
			rejection.Result = dicomerrors.RejectResultTransient
			return rejection
		},
		Timeouts:      d.timeouts,
		Counter:       d.counter,
		StatusHandler: d.statusHandler,
		Logger:        logger,
	})
	if err != nil {
		d.metrics.AssociationRejected()
		logger.WarnContext(ctx, "Association not established", "error", err)
		return
	}
	d.metrics.AssociationAccepted()

	service := dimse.NewService(d.handler, logger.With("association", assoc.Number()))
	for {
		msg, err := assoc.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, dicomerrors.ErrReleased) {
				d.metrics.AssociationEnded(metrics.ResultReleased)
				return
			}
			d.metrics.AssociationEnded(metrics.ResultAborted)
			logger.WarnContext(ctx, "Association ended abnormally",
				"association", assoc.Number(),
				"error", err)
			return
		}

		meta := interfaces.MessageContext{
			AssociationNumber:     assoc.Number(),
			CallingAETitle:        assoc.CallingAETitle(),
			CalledAETitle:         assoc.CalledAETitle(),
			RemoteAddr:            assoc.RemoteAddr(),
			PresentationContextID: msg.ContextID,
			AbstractSyntaxUID:     msg.AbstractSyntax,
			TransferSyntaxUID:     msg.TransferSyntax,
		}
		if err := service.Handle(ctx, msg.Command, msg.Data, meta, assoc); err != nil {
			logger.WarnContext(ctx, "Failed to answer DIMSE request",
				"association", assoc.Number(),
				"error", err)
			_ = assoc.Abort()
			d.metrics.AssociationEnded(metrics.ResultAborted)
			return
		}
	}
}

// Package association implements the DICOM upper layer association: the
// A-ASSOCIATE handshake for both roles, DIMSE message transfer over P-DATA-TF,
// orderly release and abort.
package association

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/pdu"
	"github.com/caio-sobreiro/dicomstore/types"
	"github.com/caio-sobreiro/dicomstore/uid"
)

// Default timeouts.
const (
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 60 * time.Second
	DefaultReleaseTimeout = 30 * time.Second
)

// Role tells which side of the association this process plays.
type Role int

const (
	RoleRequestor Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "requestor"
}

// Timeouts bounds blocking operations. Zero values take the defaults; negative
// values disable the bound.
type Timeouts struct {
	Read    time.Duration
	Write   time.Duration
	Release time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Read == 0 {
		t.Read = DefaultReadTimeout
	}
	if t.Write == 0 {
		t.Write = DefaultWriteTimeout
	}
	if t.Release == 0 {
		t.Release = DefaultReleaseTimeout
	}
	return t
}

// Association is one DICOM association over a single connection. Message
// exchange is meant to be driven from one goroutine; Abort and the accessors
// may be called from any goroutine.
type Association struct {
	number         uint64
	role           Role
	conn           net.Conn
	callingAETitle string
	calledAETitle  string
	localMaxPDU    uint32
	peerMaxPDU     uint32
	peerUserInfo   pdu.UserInformation

	contexts  []*types.PresentationContext
	byID      map[byte]*types.PresentationContext
	pdvCounts map[byte]*atomic.Uint64

	state    *fsm.FSM
	handler  StatusHandler
	logger   *slog.Logger
	timeouts Timeouts

	writeMu   sync.Mutex
	closeOnce sync.Once
	aborting  *atomic.Bool

	assemblies map[byte]*assembly
	backlog    []pdu.PDV
}

// newAssociation builds an association in the Idle state.
func newAssociation(conn net.Conn, role Role, number uint64, handler StatusHandler, logger *slog.Logger, timeouts Timeouts) *Association {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Association{
		number:     number,
		role:       role,
		conn:       conn,
		handler:    handler,
		timeouts:   timeouts.withDefaults(),
		aborting:   atomic.NewBool(false),
		assemblies: make(map[byte]*assembly),
	}
	a.logger = logger.With("association", number, "role", role.String())
	a.state = newStateMachine(fsm.Callbacks{
		"enter_" + string(StateEstablished): a.onEstablished,
		"enter_" + string(StateReleased):    a.onReleased,
		"enter_" + string(StateAborted):     a.onAborted,
		"enter_" + string(StateRejected):    a.onRejected,
	})
	return a
}

func (a *Association) onEstablished(ctx context.Context, _ *fsm.Event) {
	a.logger.InfoContext(ctx, "Association established",
		"calling_ae", a.callingAETitle,
		"called_ae", a.calledAETitle,
		"remote_addr", a.RemoteAddr(),
		"accepted_contexts", a.acceptedCount(),
		"proposed_contexts", len(a.contexts),
		"peer_max_pdu", a.peerMaxPDU)
}

func (a *Association) onReleased(ctx context.Context, _ *fsm.Event) {
	a.logger.InfoContext(ctx, "Association released")
	if a.handler != nil {
		a.handler.AssociationReleased(a)
	}
	a.close()
}

func (a *Association) onAborted(ctx context.Context, e *fsm.Event) {
	a.close()
	var cause error
	if len(e.Args) > 0 {
		cause, _ = e.Args[0].(error)
	}
	a.logger.WarnContext(ctx, "Association aborted", "error", cause)
	if observer, ok := a.handler.(AbortObserver); ok {
		observer.AssociationAborted(a, cause)
	}
}

func (a *Association) onRejected(ctx context.Context, e *fsm.Event) {
	a.close()
	var cause error
	if len(e.Args) > 0 {
		cause, _ = e.Args[0].(error)
	}
	a.logger.InfoContext(ctx, "Association rejected", "error", cause)
}

// transition fires an event; invalid transitions are protocol errors. The
// event runs even when ctx is done: fsm skips transitions on a done context,
// and aborts caused by cancellation must still close the connection.
func (a *Association) transition(ctx context.Context, event string, args ...interface{}) error {
	if err := a.state.Event(context.WithoutCancel(ctx), event, args...); err != nil {
		return fmt.Errorf("association %d: %s in state %s: %w", a.number, event, a.state.Current(), err)
	}
	return nil
}

func (a *Association) close() {
	a.closeOnce.Do(func() {
		_ = a.conn.Close()
	})
}

// Number is the association number issued by the counter.
func (a *Association) Number() uint64 {
	return a.number
}

// Role returns whether this side requested or accepted the association.
func (a *Association) Role() Role {
	return a.role
}

// CallingAETitle is the AE title of the requestor.
func (a *Association) CallingAETitle() string {
	return a.callingAETitle
}

// CalledAETitle is the AE title of the acceptor.
func (a *Association) CalledAETitle() string {
	return a.calledAETitle
}

// MaxPDULength is the largest P-DATA-TF the peer accepts; 0 means unlimited.
func (a *Association) MaxPDULength() uint32 {
	return a.peerMaxPDU
}

// PeerImplementation returns the implementation class UID and version name the
// peer announced.
func (a *Association) PeerImplementation() (classUID, versionName string) {
	return a.peerUserInfo.ImplementationClassUID, a.peerUserInfo.ImplementationVersionName
}

// RemoteAddr returns the peer's network address.
func (a *Association) RemoteAddr() string {
	if addr := a.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// State returns the current lifecycle state.
func (a *Association) State() State {
	return State(a.state.Current())
}

// PresentationContexts returns copies of the negotiated contexts in proposal
// order.
func (a *Association) PresentationContexts() []*types.PresentationContext {
	return types.CloneContexts(a.contexts)
}

// PresentationContext returns a copy of the context with the given ID.
func (a *Association) PresentationContext(id byte) (*types.PresentationContext, bool) {
	pc, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	return pc.Clone(), true
}

// AcceptedContextFor returns the ID of the first accepted context for the
// abstract syntax whose transfer syntax is ts. An empty ts matches any.
func (a *Association) AcceptedContextFor(abstractSyntax, ts string) (byte, bool) {
	for _, pc := range a.contexts {
		if pc.Accepted() && pc.AbstractSyntax == abstractSyntax && (ts == "" || pc.TransferSyntax() == ts) {
			return pc.ID, true
		}
	}
	return 0, false
}

// PDVCount returns how many PDVs have been sent or received on a context.
func (a *Association) PDVCount(id byte) uint64 {
	if c, ok := a.pdvCounts[id]; ok {
		return c.Load()
	}
	return 0
}

func (a *Association) acceptedCount() int {
	n := 0
	for _, pc := range a.contexts {
		if pc.Accepted() {
			n++
		}
	}
	return n
}

// settleContexts freezes the negotiated context list.
func (a *Association) settleContexts(contexts []*types.PresentationContext) {
	a.contexts = contexts
	a.byID = make(map[byte]*types.PresentationContext, len(contexts))
	a.pdvCounts = make(map[byte]*atomic.Uint64, len(contexts))
	for _, pc := range contexts {
		a.byID[pc.ID] = pc
		a.pdvCounts[pc.ID] = atomic.NewUint64(0)
	}
}

// Abort sends A-ABORT as service user and closes the connection. It is safe to
// call more than once and from any goroutine.
func (a *Association) Abort() error {
	return a.abort(context.Background(), dicomerrors.AbortSourceServiceUser, dicomerrors.AbortReasonNotSpecified, nil)
}

// abort sends A-ABORT best effort, moves to Aborted and closes the connection.
func (a *Association) abort(ctx context.Context, source, reason byte, cause error) error {
	if a.State().Terminal() || a.State() == StateIdle {
		a.close()
		return nil
	}
	if !a.aborting.CompareAndSwap(false, true) {
		return nil
	}
	if err := a.writePDU(pdu.New(types.TypeAbort, (&pdu.Abort{Source: source, Reason: reason}).Encode())); err != nil {
		a.logger.DebugContext(ctx, "Failed to send A-ABORT", "error", err)
	}
	if cause == nil {
		cause = &dicomerrors.AbortError{Source: source, Reason: reason, Local: true}
	}
	return a.transition(ctx, eventAbort, cause)
}

// fail aborts after a transport or protocol failure and returns err.
func (a *Association) fail(ctx context.Context, source, reason byte, err error) error {
	_ = a.abort(ctx, source, reason, err)
	return err
}

// peerAborted records an A-ABORT received from the peer.
func (a *Association) peerAborted(ctx context.Context, data []byte) error {
	abortPDU, err := pdu.DecodeAbort(data)
	abortErr := &dicomerrors.AbortError{}
	if err == nil {
		abortErr.Source = abortPDU.Source
		abortErr.Reason = abortPDU.Reason
	}
	a.aborting.Store(true)
	_ = a.transition(ctx, eventAbort, abortErr)
	return abortErr
}

func (a *Association) writePDU(p *pdu.PDU) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	deadline := time.Time{}
	if a.timeouts.Write > 0 {
		deadline = time.Now().Add(a.timeouts.Write)
	}
	if err := a.conn.SetWriteDeadline(deadline); err != nil {
		return dicomerrors.NewNetworkError("set write deadline", err)
	}
	if _, err := p.WriteTo(a.conn); err != nil {
		return dicomerrors.NewNetworkError("write "+pdu.TypeName(p.Type), err)
	}
	return nil
}

// readPDU reads the next PDU, bounded by timeout and ctx.
func (a *Association) readPDU(ctx context.Context, timeout time.Duration) (*pdu.PDU, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return nil, dicomerrors.NewNetworkError("set read deadline", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = a.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	p, err := pdu.ReadPDU(a.conn, a.localMaxPDU)
	if err == nil {
		return p, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, ctxErr)
	}
	var pduErr *dicomerrors.PDUError
	if errors.As(err, &pduErr) {
		return nil, err
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, dicomerrors.NewTimeoutError("read PDU", timeout)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil, dicomerrors.NewNetworkError("read PDU", fmt.Errorf("%w: %w", dicomerrors.ErrConnectionClosed, err))
	}
	return nil, dicomerrors.NewNetworkError("read PDU", err)
}

// userInformation describes this implementation to the peer.
func userInformation(maxPDU uint32, classUID, versionName string) pdu.UserInformation {
	if classUID == "" {
		classUID = uid.ImplementationClassUID
	}
	if versionName == "" {
		versionName = uid.ImplementationVersionName
	}
	return pdu.UserInformation{
		MaxPDULength:              maxPDU,
		ImplementationClassUID:    classUID,
		ImplementationVersionName: versionName,
	}
}

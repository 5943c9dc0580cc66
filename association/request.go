package association

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/pdu"
	"github.com/caio-sobreiro/dicomstore/types"
)

// DefaultConnectTimeout bounds TCP and TLS connection setup in Dial.
const DefaultConnectTimeout = 30 * time.Second

// RequestConfig holds the requestor's side of an association.
type RequestConfig struct {
	CallingAETitle string
	CalledAETitle  string

	// PresentationContexts are proposed in order. IDs must be odd and unique.
	PresentationContexts []*types.PresentationContext

	MaxPDULength              uint32 // largest P-DATA-TF we accept (default: 16384)
	ImplementationClassUID    string
	ImplementationVersionName string

	ConnectTimeout time.Duration // Dial only (default: 30s)
	Timeouts       Timeouts
	TLSConfig      *tls.Config // Dial only; nil means plain TCP

	Counter       Counter       // default: a private counter
	StatusHandler StatusHandler // optional
	Logger        *slog.Logger  // default: slog.Default()
}

// validateProposal checks the proposed context list before anything is sent.
func validateProposal(contexts []*types.PresentationContext) error {
	if len(contexts) == 0 {
		return fmt.Errorf("%w: no presentation contexts proposed", dicomerrors.ErrNoPresentationCtx)
	}
	if len(contexts) > types.MaxPresentationContexts {
		return fmt.Errorf("%w: %d proposed", dicomerrors.ErrTooManyContexts, len(contexts))
	}
	seen := make(map[byte]struct{}, len(contexts))
	for _, pc := range contexts {
		if pc.ID%2 == 0 {
			return fmt.Errorf("presentation context ID %d is not odd", pc.ID)
		}
		if _, dup := seen[pc.ID]; dup {
			return fmt.Errorf("presentation context ID %d proposed twice", pc.ID)
		}
		seen[pc.ID] = struct{}{}
		if pc.AbstractSyntax == "" {
			return fmt.Errorf("presentation context %d has no abstract syntax", pc.ID)
		}
		if len(pc.TransferSyntaxes) == 0 {
			return fmt.Errorf("presentation context %d proposes no transfer syntax", pc.ID)
		}
	}
	return nil
}

// Dial connects to address and requests an association over the new
// connection. The connection is closed when the request fails.
func Dial(ctx context.Context, address string, cfg RequestConfig) (*Association, error) {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if cfg.TLSConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg.TLSConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, dicomerrors.NewNetworkError("connect to "+address, err)
	}
	return Request(ctx, conn, cfg)
}

// Request negotiates an association as requestor over an open connection.
// On success the association is Established and owns conn. On failure conn is
// closed; an A-ASSOCIATE-RJ is reported as *errors.AssociationError and an
// A-ABORT as *errors.AbortError.
func Request(ctx context.Context, conn net.Conn, cfg RequestConfig) (*Association, error) {
	if err := validateProposal(cfg.PresentationContexts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = types.DefaultMaxPDULength
	}
	counter := cfg.Counter
	if counter == nil {
		counter = NewCounter()
	}

	a := newAssociation(conn, RoleRequestor, counter.Next(), cfg.StatusHandler, cfg.Logger, cfg.Timeouts)
	a.callingAETitle = cfg.CallingAETitle
	a.calledAETitle = cfg.CalledAETitle
	a.localMaxPDU = cfg.MaxPDULength

	proposed := types.CloneContexts(cfg.PresentationContexts)
	rq := &pdu.AssociateRQ{
		ProtocolVersion:      pdu.ProtocolVersion,
		CalledAETitle:        cfg.CalledAETitle,
		CallingAETitle:       cfg.CallingAETitle,
		ApplicationContext:   types.ApplicationContextUID,
		PresentationContexts: proposed,
		UserInfo:             userInformation(cfg.MaxPDULength, cfg.ImplementationClassUID, cfg.ImplementationVersionName),
	}

	if err := a.transition(ctx, eventRequest); err != nil {
		a.close()
		return nil, err
	}

	a.logger.DebugContext(ctx, "Sending A-ASSOCIATE-RQ",
		"calling_ae", cfg.CallingAETitle,
		"called_ae", cfg.CalledAETitle,
		"contexts", len(proposed))
	if err := a.writePDU(pdu.New(types.TypeAssociateRQ, rq.Encode())); err != nil {
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceUser, dicomerrors.AbortReasonNotSpecified, err)
	}

	resp, err := a.readPDU(ctx, a.timeouts.Read)
	if err != nil {
		reason := dicomerrors.AbortReasonNotSpecified
		if errors.Is(err, dicomerrors.ErrInvalidPDU) {
			reason = dicomerrors.AbortReasonUnrecognizedPDU
		}
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, reason, err)
	}

	switch resp.Type {
	case types.TypeAssociateAC:
		ac, err := pdu.DecodeAssociateAC(resp.Data)
		if err != nil {
			return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonInvalidParameterValue, err)
		}
		negotiated, err := mergeAccepted(proposed, ac.PresentationContexts)
		if err != nil {
			return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonInvalidParameterValue, err)
		}
		a.peerUserInfo = ac.UserInfo
		a.peerMaxPDU = ac.UserInfo.MaxPDULength
		a.settleContexts(negotiated)
		if err := a.transition(ctx, eventEstablish); err != nil {
			a.close()
			return nil, err
		}
		return a, nil

	case types.TypeAssociateRJ:
		rj, err := pdu.DecodeAssociateRJ(resp.Data)
		if err != nil {
			a.close()
			return nil, err
		}
		rejectErr := &dicomerrors.AssociationError{
			Result: dicomerrors.AssociationRejectResult(rj.Result),
			Source: dicomerrors.AssociationRejectSource(rj.Source),
			Reason: dicomerrors.AssociationRejectReason(rj.Reason),
			Msg:    "rejected by " + cfg.CalledAETitle,
		}
		_ = a.transition(ctx, eventReject, rejectErr)
		return nil, rejectErr

	case types.TypeAbort:
		return nil, a.peerAborted(ctx, resp.Data)

	default:
		err := dicomerrors.NewPDUError(resp.Type, "unexpected PDU while awaiting A-ASSOCIATE response")
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonUnexpectedPDU, err)
	}
}

// mergeAccepted applies the acceptor's answers to the proposal. Contexts the
// AC leaves out are treated as rejected without reason.
func mergeAccepted(proposed, answered []*types.PresentationContext) ([]*types.PresentationContext, error) {
	byID := make(map[byte]*types.PresentationContext, len(answered))
	for _, pc := range answered {
		byID[pc.ID] = pc
	}

	negotiated := make([]*types.PresentationContext, 0, len(proposed))
	for _, offered := range proposed {
		pc := offered.Clone()
		answer, ok := byID[pc.ID]
		switch {
		case !ok:
			pc.Reject(types.NoReason)
		case answer.Accepted():
			ts := answer.TransferSyntax()
			if !offered.Offers(ts) {
				return nil, fmt.Errorf("%w: context %d accepted with %s which was not proposed",
					dicomerrors.ErrUnsupportedTransfer, pc.ID, ts)
			}
			pc.Accept(ts)
		default:
			pc.Reject(answer.Result)
		}
		delete(byID, offered.ID)
		negotiated = append(negotiated, pc)
	}
	if len(byID) > 0 {
		return nil, fmt.Errorf("A-ASSOCIATE-AC answers %d unproposed presentation contexts", len(byID))
	}
	return negotiated, nil
}

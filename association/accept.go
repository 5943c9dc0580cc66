package association

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/negotiation"
	"github.com/caio-sobreiro/dicomstore/pdu"
	"github.com/caio-sobreiro/dicomstore/types"
)

// AdmitFunc may refuse an otherwise acceptable request. Returning nil admits
// it; a non-nil error is sent back as A-ASSOCIATE-RJ.
type AdmitFunc func(rq *pdu.AssociateRQ) *dicomerrors.AssociationError

// AcceptConfig holds the acceptor's side of an association.
type AcceptConfig struct {
	AETitle string

	// StrictCalledAETitle rejects requests whose called AE title differs from
	// AETitle.
	StrictCalledAETitle bool

	Policy negotiation.PresentationContextSelectionPolicy // default: negotiation.NewStoragePolicy()

	MaxPDULength              uint32 // largest P-DATA-TF we accept (default: 16384)
	ImplementationClassUID    string
	ImplementationVersionName string

	// OmitRejectedContexts leaves rejected contexts out of the AC.
	OmitRejectedContexts bool

	Admit AdmitFunc

	Timeouts      Timeouts
	Counter       Counter       // default: a private counter
	StatusHandler StatusHandler // optional
	Logger        *slog.Logger  // default: slog.Default()
}

// Accept reads an A-ASSOCIATE-RQ from conn and answers it. The request is
// rejected when it is malformed, names an unsupported protocol version or
// application context, misuses context IDs, is refused by Admit, or names the
// wrong AE title in strict mode. Otherwise an AC is sent, even when every
// presentation context was rejected.
//
// On success the association is Established and owns conn. On failure conn is
// closed.
func Accept(ctx context.Context, conn net.Conn, cfg AcceptConfig) (*Association, error) {
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = types.DefaultMaxPDULength
	}
	policy := cfg.Policy
	if policy == nil {
		policy = negotiation.NewStoragePolicy()
	}
	counter := cfg.Counter
	if counter == nil {
		counter = NewCounter()
	}

	a := newAssociation(conn, RoleAcceptor, counter.Next(), cfg.StatusHandler, cfg.Logger, cfg.Timeouts)
	a.calledAETitle = cfg.AETitle
	a.localMaxPDU = cfg.MaxPDULength

	if err := a.transition(ctx, eventAwait); err != nil {
		a.close()
		return nil, err
	}

	req, err := a.readPDU(ctx, a.timeouts.Read)
	if err != nil {
		reason := dicomerrors.AbortReasonNotSpecified
		if errors.Is(err, dicomerrors.ErrInvalidPDU) {
			reason = dicomerrors.AbortReasonUnrecognizedPDU
		}
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, reason, err)
	}
	switch req.Type {
	case types.TypeAssociateRQ:
	case types.TypeAbort:
		return nil, a.peerAborted(ctx, req.Data)
	default:
		err := dicomerrors.NewPDUError(req.Type, "expected A-ASSOCIATE-RQ")
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonUnexpectedPDU, err)
	}

	rq, err := pdu.DecodeAssociateRQ(req.Data)
	if err != nil {
		return nil, a.reject(ctx, dicomerrors.NewAssociationError(
			dicomerrors.RejectSourceServiceUser, dicomerrors.RejectReasonNoReasonGiven, err.Error()))
	}
	a.callingAETitle = rq.CallingAETitle
	a.peerUserInfo = rq.UserInfo
	a.peerMaxPDU = rq.UserInfo.MaxPDULength

	a.logger.DebugContext(ctx, "Received A-ASSOCIATE-RQ",
		"calling_ae", rq.CallingAETitle,
		"called_ae", rq.CalledAETitle,
		"remote_addr", a.RemoteAddr(),
		"contexts", len(rq.PresentationContexts))

	if rejectErr := screenRequest(rq, cfg); rejectErr != nil {
		return nil, a.reject(ctx, rejectErr)
	}
	if cfg.Admit != nil {
		if rejectErr := cfg.Admit(rq); rejectErr != nil {
			return nil, a.reject(ctx, rejectErr)
		}
	}

	negotiated := policy.Select(types.CloneContexts(rq.PresentationContexts), a.number)
	if err := negotiation.Verify(rq.PresentationContexts, negotiated); err != nil {
		err = fmt.Errorf("presentation context policy produced an invalid answer: %w", err)
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonNotSpecified, err)
	}
	a.settleContexts(negotiated)

	ac := &pdu.AssociateAC{
		ProtocolVersion:      pdu.ProtocolVersion,
		CalledAETitle:        rq.CalledAETitle,
		CallingAETitle:       rq.CallingAETitle,
		ApplicationContext:   types.ApplicationContextUID,
		PresentationContexts: negotiated,
		UserInfo:             userInformation(cfg.MaxPDULength, cfg.ImplementationClassUID, cfg.ImplementationVersionName),
		OmitRejected:         cfg.OmitRejectedContexts,
	}
	if err := a.writePDU(pdu.New(types.TypeAssociateAC, ac.Encode())); err != nil {
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonNotSpecified, err)
	}
	for _, pc := range negotiated {
		a.logger.DebugContext(ctx, "Presentation context negotiated", "context", pc.String())
	}
	if err := a.transition(ctx, eventEstablish); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// screenRequest applies the acceptor's fixed admission rules.
func screenRequest(rq *pdu.AssociateRQ, cfg AcceptConfig) *dicomerrors.AssociationError {
	if rq.ProtocolVersion&pdu.ProtocolVersion == 0 {
		return dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceProviderACSE,
			dicomerrors.RejectReasonProtocolVersionNotSupported,
			fmt.Sprintf("protocol version 0x%04x", rq.ProtocolVersion))
	}
	if rq.ApplicationContext != types.ApplicationContextUID {
		return dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonApplicationContextNotSupported,
			"application context "+rq.ApplicationContext)
	}
	if cfg.StrictCalledAETitle && !strings.EqualFold(strings.TrimSpace(rq.CalledAETitle), strings.TrimSpace(cfg.AETitle)) {
		return dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonCalledAETitleNotRecognized,
			"called AE title "+rq.CalledAETitle)
	}
	if len(rq.PresentationContexts) > types.MaxPresentationContexts {
		return dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonNoReasonGiven,
			fmt.Sprintf("%d presentation contexts proposed", len(rq.PresentationContexts)))
	}
	seen := make(map[byte]struct{}, len(rq.PresentationContexts))
	for _, pc := range rq.PresentationContexts {
		_, dup := seen[pc.ID]
		if pc.ID%2 == 0 || dup {
			return dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceUser,
				dicomerrors.RejectReasonNoReasonGiven,
				fmt.Sprintf("invalid presentation context ID %d", pc.ID))
		}
		seen[pc.ID] = struct{}{}
	}
	return nil
}

// reject sends A-ASSOCIATE-RJ, moves to Rejected and returns rejectErr.
func (a *Association) reject(ctx context.Context, rejectErr *dicomerrors.AssociationError) error {
	rj := &pdu.AssociateRJ{
		Result: byte(rejectErr.Result),
		Source: byte(rejectErr.Source),
		Reason: byte(rejectErr.Reason),
	}
	if err := a.writePDU(pdu.New(types.TypeAssociateRJ, rj.Encode())); err != nil {
		a.logger.DebugContext(ctx, "Failed to send A-ASSOCIATE-RJ", "error", err)
	}
	_ = a.transition(ctx, eventReject, rejectErr)
	return rejectErr
}

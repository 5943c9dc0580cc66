package association

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caio-sobreiro/dicomstore/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/pdu"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Message is a complete DIMSE message received on an association.
type Message struct {
	ContextID      byte
	Command        *types.Message
	Data           []byte // nil when the command announces no dataset
	AbstractSyntax string
	TransferSyntax string
}

// assembly collects the fragments of one message on one presentation context.
type assembly struct {
	command    []byte
	cmd        *types.Message
	data       []byte
	fragments  int
	dataStream bool
}

// SendMessage writes cmd and its optional dataset on an accepted presentation
// context. Each fragment fits the peer's maximum PDU length and travels in its
// own P-DATA-TF.
func (a *Association) SendMessage(ctx context.Context, contextID byte, cmd *types.Message, data []byte) error {
	if a.State() != StateEstablished {
		return fmt.Errorf("%w: state %s", dicomerrors.ErrAssociationClosed, a.State())
	}
	pc, ok := a.byID[contextID]
	if !ok || !pc.Accepted() {
		return fmt.Errorf("%w: context %d is not accepted", dicomerrors.ErrNoPresentationCtx, contextID)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, err)
	}

	msg := *cmd
	msg.CommandDataSetType = types.NoDataSet
	if data != nil {
		msg.CommandDataSetType = types.DataSetPresent
	}
	encoded, err := dimse.EncodeCommand(&msg)
	if err != nil {
		return err
	}

	pdvs := pdu.FragmentPDVs(contextID, true, encoded, a.peerMaxPDU)
	if data != nil {
		pdvs = append(pdvs, pdu.FragmentPDVs(contextID, false, data, a.peerMaxPDU)...)
	}

	a.logger.DebugContext(ctx, "Sending DIMSE message",
		"context_id", contextID,
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID,
		"dataset_size", len(data),
		"fragments", len(pdvs))

	stop := context.AfterFunc(ctx, func() {
		_ = a.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	for _, v := range pdvs {
		body := (&pdu.PDataTF{PDVs: []pdu.PDV{v}}).Encode()
		if err := a.writePDU(pdu.New(types.TypePDataTF, body)); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, ctxErr)
			}
			return a.fail(ctx, dicomerrors.AbortSourceServiceUser, dicomerrors.AbortReasonNotSpecified, err)
		}
		a.pdvCounts[contextID].Inc()
	}
	return nil
}

// ReceiveMessage blocks until a complete DIMSE message arrives. A peer
// A-RELEASE-RQ is answered and reported as errors.ErrReleased; a peer A-ABORT
// as *errors.AbortError. Protocol violations abort the association.
func (a *Association) ReceiveMessage(ctx context.Context) (*Message, error) {
	if a.State() != StateEstablished {
		return nil, fmt.Errorf("%w: state %s", dicomerrors.ErrAssociationClosed, a.State())
	}

	for {
		for len(a.backlog) > 0 {
			v := a.backlog[0]
			a.backlog = a.backlog[1:]
			msg, err := a.assemble(ctx, v)
			if err != nil {
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
		}

		p, err := a.readPDU(ctx, a.timeouts.Read)
		if err != nil {
			reason := dicomerrors.AbortReasonNotSpecified
			if errors.Is(err, dicomerrors.ErrInvalidPDU) {
				reason = dicomerrors.AbortReasonUnrecognizedPDU
			}
			return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, reason, err)
		}

		switch p.Type {
		case types.TypePDataTF:
			data, err := pdu.DecodePDataTF(p.Data)
			if err != nil {
				return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonInvalidParameterValue, err)
			}
			a.backlog = append(a.backlog, data.PDVs...)

		case types.TypeReleaseRQ:
			if pending := a.pendingFragments(); pending > 0 {
				a.logger.WarnContext(ctx, "Release requested with incomplete messages", "pending_contexts", pending)
			}
			if err := a.writePDU(pdu.ReleaseRP()); err != nil {
				return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonNotSpecified, err)
			}
			if err := a.transition(ctx, eventReleased); err != nil {
				return nil, err
			}
			return nil, dicomerrors.ErrReleased

		case types.TypeAbort:
			return nil, a.peerAborted(ctx, p.Data)

		default:
			err := dicomerrors.NewPDUError(p.Type, "unexpected PDU on established association")
			return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonUnexpectedPDU, err)
		}
	}
}

// assemble adds one PDV to its context's message and returns the message once
// it is complete.
func (a *Association) assemble(ctx context.Context, v pdu.PDV) (*Message, error) {
	pc, ok := a.byID[v.ContextID]
	if !ok || !pc.Accepted() {
		err := dicomerrors.NewPDUError(types.TypePDataTF, fmt.Sprintf("PDV on unaccepted presentation context %d", v.ContextID))
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonInvalidParameterValue, err)
	}
	a.pdvCounts[v.ContextID].Inc()

	asm := a.assemblies[v.ContextID]
	if asm == nil {
		asm = &assembly{}
		a.assemblies[v.ContextID] = asm
	}
	asm.fragments++

	if v.Command {
		if asm.dataStream {
			err := dicomerrors.NewPDUError(types.TypePDataTF, fmt.Sprintf("command fragment inside dataset on context %d", v.ContextID))
			return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonUnexpectedParameter, err)
		}
		asm.command = append(asm.command, v.Data...)
		if !v.Last {
			return nil, nil
		}
		cmd, err := dimse.DecodeCommand(asm.command)
		if err != nil {
			return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonInvalidParameterValue, err)
		}
		cmd.TransferSyntaxUID = pc.TransferSyntax()
		asm.cmd = cmd
		if cmd.HasDataSet() {
			asm.dataStream = true
			return nil, nil
		}
		return a.complete(v.ContextID, pc, asm), nil
	}

	if asm.cmd == nil || !asm.dataStream {
		err := dicomerrors.NewPDUError(types.TypePDataTF, fmt.Sprintf("dataset fragment before command on context %d", v.ContextID))
		return nil, a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonUnexpectedParameter, err)
	}
	asm.data = append(asm.data, v.Data...)
	if !v.Last {
		return nil, nil
	}
	if asm.data == nil {
		asm.data = []byte{}
	}
	return a.complete(v.ContextID, pc, asm), nil
}

func (a *Association) complete(contextID byte, pc *types.PresentationContext, asm *assembly) *Message {
	delete(a.assemblies, contextID)
	a.logger.Debug("Received DIMSE message",
		"context_id", contextID,
		"command_field", fmt.Sprintf("0x%04x", asm.cmd.CommandField),
		"message_id", asm.cmd.MessageID,
		"dataset_size", len(asm.data),
		"fragments", asm.fragments)
	return &Message{
		ContextID:      contextID,
		Command:        asm.cmd,
		Data:           asm.data,
		AbstractSyntax: pc.AbstractSyntax,
		TransferSyntax: pc.TransferSyntax(),
	}
}

func (a *Association) pendingFragments() int {
	return len(a.assemblies)
}

// Release performs the orderly A-RELEASE handshake and closes the connection.
// It waits up to the release timeout for A-RELEASE-RP; on expiry the
// association is aborted and a *errors.TimeoutError returned. A crossing
// A-RELEASE-RQ from the peer is answered and the wait continues.
func (a *Association) Release(ctx context.Context) error {
	if a.State() != StateEstablished {
		return fmt.Errorf("%w: state %s", dicomerrors.ErrAssociationClosed, a.State())
	}
	if err := a.transition(ctx, eventRelease); err != nil {
		return err
	}
	if err := a.writePDU(pdu.ReleaseRQ()); err != nil {
		return a.fail(ctx, dicomerrors.AbortSourceServiceUser, dicomerrors.AbortReasonNotSpecified, err)
	}

	deadline := time.Now().Add(a.timeouts.Release)
	for {
		remaining := time.Until(deadline)
		if a.timeouts.Release < 0 {
			remaining = -1
		} else if remaining <= 0 {
			remaining = time.Nanosecond
		}

		p, err := a.readPDU(ctx, remaining)
		if err != nil {
			var timeoutErr *dicomerrors.TimeoutError
			if errors.As(err, &timeoutErr) {
				err = dicomerrors.NewTimeoutError("A-RELEASE", a.timeouts.Release)
			}
			return a.fail(ctx, dicomerrors.AbortSourceServiceUser, dicomerrors.AbortReasonNotSpecified, err)
		}

		switch p.Type {
		case types.TypeReleaseRP:
			return a.transition(ctx, eventReleased)
		case types.TypeReleaseRQ:
			a.logger.DebugContext(ctx, "A-RELEASE collision")
			if err := a.writePDU(pdu.ReleaseRP()); err != nil {
				return a.fail(ctx, dicomerrors.AbortSourceServiceUser, dicomerrors.AbortReasonNotSpecified, err)
			}
		case types.TypePDataTF:
			a.logger.DebugContext(ctx, "Discarding P-DATA-TF received while releasing")
		case types.TypeAbort:
			return a.peerAborted(ctx, p.Data)
		default:
			err := dicomerrors.NewPDUError(p.Type, "unexpected PDU while awaiting A-RELEASE-RP")
			return a.fail(ctx, dicomerrors.AbortSourceServiceProvider, dicomerrors.AbortReasonUnexpectedPDU, err)
		}
	}
}

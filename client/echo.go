package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dicomstore/association"
	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status            uint16
	MessageID         uint16
	AssociationNumber uint64
}

// Echo opens an association proposing the Verification SOP class, sends one
// C-ECHO-RQ and releases the association.
func Echo(ctx context.Context, address string, cfg Config) (*CEchoResponse, error) {
	cfg = cfg.withDefaults()
	proposal := []*types.PresentationContext{
		types.NewProposedContext(1, types.VerificationSOPClass, types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian),
	}

	assoc, err := association.Dial(ctx, address, cfg.requestConfig(proposal))
	if err != nil {
		return nil, err
	}

	contextID, ok := assoc.AcceptedContextFor(types.VerificationSOPClass, "")
	if !ok {
		_ = assoc.Release(ctx)
		return nil, fmt.Errorf("%w: verification not accepted by %s", dicomerrors.ErrNoPresentationCtx, cfg.CalledAETitle)
	}

	sess := &session{assoc: assoc}
	rsp, err := sess.exchange(ctx, contextID, &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           sess.nextMessageID(),
		AffectedSOPClassUID: types.VerificationSOPClass,
	}, nil)
	if err != nil {
		_ = assoc.Abort()
		return nil, err
	}

	response := &CEchoResponse{
		Status:            rsp.Status,
		MessageID:         rsp.MessageIDBeingRespondedTo,
		AssociationNumber: assoc.Number(),
	}
	if err := assoc.Release(ctx); err != nil {
		return response, fmt.Errorf("release association: %w", err)
	}
	cfg.Logger.InfoContext(ctx, "C-ECHO completed",
		"remote_addr", address,
		"called_ae", cfg.CalledAETitle,
		"status", fmt.Sprintf("0x%04X", rsp.Status))
	return response, nil
}

package dimse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Service routes complete DIMSE messages to a handler and writes the
// responses back on the originating presentation context.
type Service struct {
	handler interfaces.ServiceHandler
	logger  *slog.Logger
}

// responseHandler implements ResponseSender for streaming responses
type responseHandler struct {
	ctx       context.Context
	contextID byte
	sender    interfaces.MessageSender
}

// SendResponse implements ResponseSender interface
func (r *responseHandler) SendResponse(msg *types.Message, data []byte) error {
	return r.sender.SendMessage(r.ctx, r.contextID, msg, data)
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler: handler,
		logger:  logger,
	}
}

// Handle dispatches one request. Handler failures are answered with a failure
// response and do not end the association; only errors writing the response
// are returned.
func (d *Service) Handle(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, sender interfaces.MessageSender) error {
	d.logger.DebugContext(ctx, "Processing complete DIMSE message",
		"association", meta.AssociationNumber,
		"context_id", meta.PresentationContextID,
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID,
		"dataset_size", len(data))

	if msg.IsResponse() {
		d.logger.WarnContext(ctx, "Ignoring unsolicited DIMSE response",
			"association", meta.AssociationNumber,
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField))
		return nil
	}
	if msg.CommandField == CCancelRQ {
		d.logger.DebugContext(ctx, "Ignoring C-CANCEL-RQ with no pending operation",
			"message_id", msg.MessageIDBeingRespondedTo)
		return nil
	}

	if streamingHandler, ok := d.handler.(interfaces.StreamingServiceHandler); ok {
		responder := &responseHandler{ctx: ctx, contextID: meta.PresentationContextID, sender: sender}
		if err := streamingHandler.HandleDIMSEStreaming(ctx, msg, data, meta, responder); err != nil {
			return d.sendFailure(ctx, msg, meta, sender, err)
		}
		return nil
	}

	responseMsg, responseData, err := d.handler.HandleDIMSE(ctx, msg, data, meta)
	if err != nil {
		return d.sendFailure(ctx, msg, meta, sender, err)
	}
	if responseMsg == nil {
		return nil
	}
	return sender.SendMessage(ctx, meta.PresentationContextID, responseMsg, responseData)
}

func (d *Service) sendFailure(ctx context.Context, msg *types.Message, meta interfaces.MessageContext, sender interfaces.MessageSender, cause error) error {
	status := uint16(StatusProcessingFailure)
	var dimseErr *dicomerrors.DIMSEError
	if errors.As(cause, &dimseErr) {
		status = dimseErr.Status
	}

	d.logger.WarnContext(ctx, "Service handler failed",
		"association", meta.AssociationNumber,
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID,
		"status", fmt.Sprintf("0x%04X", status),
		"error", cause)

	return sender.SendMessage(ctx, meta.PresentationContextID, ErrorResponse(msg, status), nil)
}

// ErrorResponse builds a response to req carrying status and no dataset.
func ErrorResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    req.AffectedSOPInstanceUID,
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	}
}

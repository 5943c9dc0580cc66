// Package interfaces contains the service and handler contracts shared by the
// dispatcher, the DIMSE router and the service implementations.
package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomstore/types"
)

// MessageContext describes the association a DIMSE message arrived on.
type MessageContext struct {
	AssociationNumber     uint64
	CallingAETitle        string
	CalledAETitle         string
	RemoteAddr            string
	PresentationContextID byte
	AbstractSyntaxUID     string
	TransferSyntaxUID     string
}

// ServiceHandler interface for handling DIMSE operations
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, []byte, error)
}

// StreamingServiceHandler interface for multi-response DIMSE operations such as
// query/retrieve.
type StreamingServiceHandler interface {
	HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta MessageContext, responder ResponseSender) error
}

// ResponseSender interface for sending intermediate responses
type ResponseSender interface {
	SendResponse(msg *types.Message, data []byte) error
}

// MessageSender writes a complete DIMSE message on a presentation context.
type MessageSender interface {
	SendMessage(ctx context.Context, contextID byte, msg *types.Message, data []byte) error
}

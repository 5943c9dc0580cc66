package services

import (
	"github.com/caio-sobreiro/dicomstore/types"
)

// ResponseBuilder creates response messages that echo the identifying fields
// of a request.
type ResponseBuilder struct {
	request *types.Message
}

// NewResponseBuilder creates a new response builder for the given request message.
func NewResponseBuilder(request *types.Message) *ResponseBuilder {
	return &ResponseBuilder{request: request}
}

// CEchoResponse creates a C-ECHO-RSP message with no dataset.
func (b *ResponseBuilder) CEchoResponse(status uint16) *types.Message {
	sopClass := b.request.AffectedSOPClassUID
	if sopClass == "" {
		sopClass = types.VerificationSOPClass
	}
	return &types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       sopClass,
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	}
}

// CStoreResponse creates a C-STORE-RSP message with no dataset. An empty
// sopInstanceUID uses the instance of the request.
func (b *ResponseBuilder) CStoreResponse(status uint16, sopInstanceUID string) *types.Message {
	if sopInstanceUID == "" {
		sopInstanceUID = b.request.AffectedSOPInstanceUID
	}

	return &types.Message{
		CommandField:              types.CStoreRSP,
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       b.request.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    sopInstanceUID,
		CommandDataSetType:        types.NoDataSet,
		Status:                    status,
	}
}

// NewCEchoResponse creates a C-ECHO-RSP message from a request.
func NewCEchoResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CEchoResponse(status)
}

// NewCStoreResponse creates a C-STORE-RSP message from a request.
func NewCStoreResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CStoreResponse(status, "")
}

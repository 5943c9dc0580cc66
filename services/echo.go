// Package services provides the DIMSE service implementations of the storage
// SCP: C-ECHO verification, C-STORE storage and the registry routing requests
// between them.
package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO verifies application-level communication between two AEs. The
// service is stateless and always answers success.
type EchoService struct {
	logger *slog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService(logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoService{logger: logger}
}

// HandleDIMSE answers a C-ECHO-RQ with a successful C-ECHO-RSP.
func (s *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, []byte, error) {
	s.logger.DebugContext(ctx, "Processing C-ECHO request",
		"association", meta.AssociationNumber,
		"calling_ae", meta.CallingAETitle,
		"message_id", msg.MessageID)

	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}

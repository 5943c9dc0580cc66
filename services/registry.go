package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Registry manages DICOM service handlers and routes incoming DIMSE messages.
//
// The registry acts as a dispatcher, routing DIMSE messages to the appropriate
// service handler based on the command field. It supports both single-response
// and streaming (multi-response) operations, so query/retrieve handlers can be
// plugged in next to the storage and verification services.
//
// Example usage:
//
//	registry := services.NewRegistry(logger)
//	registry.RegisterHandler(dimse.CEchoRQ, services.NewEchoService(logger))
//	registry.RegisterHandler(dimse.CStoreRQ, storeService)
//
// Handlers may be registered while the registry is serving.
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint16]interfaces.ServiceHandler
	logger   *slog.Logger
}

// NewRegistry creates a new service registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[uint16]interfaces.ServiceHandler),
		logger:   logger,
	}
}

// SetLogger replaces the logger. Call it before the registry serves.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RegisterHandler registers a service handler for a specific DIMSE command.
// Registering again for the same command replaces the previous handler.
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[commandField] = handler
}

// UnregisterHandler removes a service handler for a specific DIMSE command.
//
// After unregistering, messages with this command field are answered with an
// unrecognized operation status.
func (r *Registry) UnregisterHandler(commandField uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, commandField)
}

func (r *Registry) lookup(ctx context.Context, msg *types.Message, meta interfaces.MessageContext) (interfaces.ServiceHandler, error) {
	r.logger.DebugContext(ctx, "Routing DIMSE message",
		"association", meta.AssociationNumber,
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID)

	r.mu.RLock()
	handler, ok := r.handlers[msg.CommandField]
	r.mu.RUnlock()
	if !ok {
		r.logger.WarnContext(ctx, "No handler registered for DIMSE command",
			"association", meta.AssociationNumber,
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField))
		return nil, dicomerrors.NewDIMSEError("dispatch", types.StatusUnrecognizedOperation,
			fmt.Sprintf("unsupported DIMSE command: 0x%04x", msg.CommandField))
	}
	return handler, nil
}

// HandleDIMSE routes a message to the handler registered for its command.
// A message without a handler yields a *errors.DIMSEError carrying status
// 0x0211 (unrecognized operation).
func (r *Registry) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, []byte, error) {
	handler, err := r.lookup(ctx, msg, meta)
	if err != nil {
		return nil, nil, err
	}
	return handler.HandleDIMSE(ctx, msg, data, meta)
}

// HandleDIMSEStreaming routes a message to a streaming handler when the
// registered handler supports it, and otherwise sends the single response of
// HandleDIMSE through responder.
func (r *Registry) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	handler, err := r.lookup(ctx, msg, meta)
	if err != nil {
		return err
	}

	if streamingHandler, ok := handler.(interfaces.StreamingServiceHandler); ok {
		return streamingHandler.HandleDIMSEStreaming(ctx, msg, data, meta, responder)
	}

	responseMsg, responseData, err := handler.HandleDIMSE(ctx, msg, data, meta)
	if err != nil {
		return err
	}
	if responseMsg == nil {
		return nil
	}
	return responder.SendResponse(responseMsg, responseData)
}

// HasHandler returns true if a handler is registered for the given command field.
func (r *Registry) HasHandler(commandField uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[commandField]
	return ok
}

// RegisteredCommands returns the command fields that have handlers, in
// ascending order.
func (r *Registry) RegisteredCommands() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	commands := make([]uint16, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i] < commands[j] })
	return commands
}

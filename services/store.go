package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/metrics"
	"github.com/caio-sobreiro/dicomstore/storage"
	"github.com/caio-sobreiro/dicomstore/types"
)

// StoreService handles C-STORE requests: it persists the received dataset and
// notifies the received-object handler once per stored object.
//
// Every outcome is reported to the sender as a C-STORE-RSP status; the
// association is never ended by a failed store.
type StoreService struct {
	store    storage.Store
	received interfaces.ReceivedObjectHandler
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// StoreOption configures a StoreService.
type StoreOption func(*StoreService)

// WithStoreServiceLogger sets the logger.
func WithStoreServiceLogger(logger *slog.Logger) StoreOption {
	return func(s *StoreService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreMetrics records received objects on collector.
func WithStoreMetrics(collector *metrics.Collector) StoreOption {
	return func(s *StoreService) {
		s.metrics = collector
	}
}

// NewStoreService creates a C-STORE service. received may be nil.
func NewStoreService(store storage.Store, received interfaces.ReceivedObjectHandler, opts ...StoreOption) *StoreService {
	s := &StoreService{
		store:    store,
		received: received,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleDIMSE implements interfaces.ServiceHandler.
func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, []byte, error) {
	status := s.handle(ctx, msg, data, meta)
	s.metrics.ObjectReceived(status, len(data))
	return NewCStoreResponse(msg, status), nil, nil
}

func (s *StoreService) handle(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) uint16 {
	logger := s.logger.With(
		"association", meta.AssociationNumber,
		"calling_ae", meta.CallingAETitle,
		"context_id", meta.PresentationContextID,
		"message_id", msg.MessageID,
		"sop_instance", msg.AffectedSOPInstanceUID)

	if msg.CommandField != types.CStoreRQ {
		logger.WarnContext(ctx, "Storage service received a non C-STORE command",
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField))
		return types.StatusUnrecognizedOperation
	}
	if meta.AbstractSyntaxUID != "" && msg.AffectedSOPClassUID != meta.AbstractSyntaxUID {
		logger.WarnContext(ctx, "SOP class does not match presentation context",
			"sop_class", msg.AffectedSOPClassUID,
			"abstract_syntax", meta.AbstractSyntaxUID)
		return types.StatusSOPClassNotSupported
	}
	if len(data) == 0 {
		logger.WarnContext(ctx, "C-STORE request carries no dataset")
		return types.StatusFailure
	}
	if msg.AffectedSOPInstanceUID == "" {
		logger.WarnContext(ctx, "C-STORE request has no SOP instance UID")
		return types.StatusDataSetDoesNotMatchSOPClass
	}

	transferSyntax := meta.TransferSyntaxUID
	if transferSyntax == "" {
		transferSyntax = msg.TransferSyntaxUID
	}
	obj := &storage.Object{
		SOPClassUID:       msg.AffectedSOPClassUID,
		SOPInstanceUID:    msg.AffectedSOPInstanceUID,
		TransferSyntaxUID: transferSyntax,
		CallingAETitle:    meta.CallingAETitle,
		CalledAETitle:     meta.CalledAETitle,
		AssociationNumber: meta.AssociationNumber,
		ReceivedAt:        time.Now(),
		DataSet:           data,
	}

	started := time.Now()
	path, err := s.store.Store(ctx, obj)
	s.metrics.ObserveStore(time.Since(started))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to store object", "error", err)
		return types.StatusOutOfResources
	}

	logger.InfoContext(ctx, "Stored object",
		"sop_class", obj.SOPClassUID,
		"transfer_syntax", transferSyntax,
		"path", path,
		"bytes", len(data))

	if s.received != nil {
		if err := s.received.OnReceived(ctx, path, transferSyntax, meta.CallingAETitle); err != nil {
			logger.ErrorContext(ctx, "Received object handler failed", "path", path, "error", err)
			return types.StatusProcessingFailure
		}
	}
	return types.StatusSuccess
}

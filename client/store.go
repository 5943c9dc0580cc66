package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/caio-sobreiro/dicomstore/association"
	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Outcome is what happened to one object of a send job.
type Outcome int

const (
	// OutcomePending means the object was not attempted.
	OutcomePending Outcome = iota
	// OutcomeSent means the SCP answered with a success or warning status.
	OutcomeSent
	// OutcomeRejectedNoContext means no accepted presentation context matched
	// the object's SOP class and transfer syntax.
	OutcomeRejectedNoContext
	// OutcomeFailed means the object could not be read or the SCP answered
	// with a failure status.
	OutcomeFailed
	// OutcomeTransportFailure means the association failed before the object
	// was confirmed.
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSent:
		return "sent"
	case OutcomeRejectedNoContext:
		return "rejected-no-context"
	case OutcomeFailed:
		return "failed"
	case OutcomeTransportFailure:
		return "transport-failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FileResult is the outcome of one object.
type FileResult struct {
	Name              string
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	ContextID         byte // 0 when no context was used
	Outcome           Outcome
	Status            uint16 // C-STORE-RSP status when a response arrived
	Err               error
}

// SendResult collects the per-object outcomes of a send job.
type SendResult struct {
	AssociationNumber uint64
	Contexts          []*types.PresentationContext // negotiated contexts, in proposal order
	Files             []FileResult
}

// EncounteredTrappedExceptions reports whether any object was skipped or
// failed without the job failing as a whole.
func (r *SendResult) EncounteredTrappedExceptions() bool {
	for _, f := range r.Files {
		if f.Outcome == OutcomeRejectedNoContext || f.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// AllSent reports whether every object was sent.
func (r *SendResult) AllSent() bool {
	for _, f := range r.Files {
		if f.Outcome != OutcomeSent {
			return false
		}
	}
	return len(r.Files) > 0
}

// Count returns the number of objects with outcome o.
func (r *SendResult) Count(o Outcome) int {
	n := 0
	for _, f := range r.Files {
		if f.Outcome == o {
			n++
		}
	}
	return n
}

// Err aggregates the per-object errors, or returns nil.
func (r *SendResult) Err() error {
	var result *multierror.Error
	for _, f := range r.Files {
		if f.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", f.Name, f.Err))
		}
	}
	return result.ErrorOrNil()
}

// StorageSCU sends objects to a storage SCP.
type StorageSCU struct {
	cfg Config
}

// NewStorageSCU creates an SCU with cfg.
func NewStorageSCU(cfg Config) *StorageSCU {
	return &StorageSCU{cfg: cfg.withDefaults()}
}

// Send sends objects to the SCP at address over one association.
//
// Objects without a matching accepted presentation context, unreadable
// objects and objects the SCP refuses are recorded in the result and the job
// continues. A returned error means the job failed as a whole: the
// association could not be established or broke during the transfer. The
// result is returned even then, with the affected objects marked
// OutcomeTransportFailure.
func (s *StorageSCU) Send(ctx context.Context, address string, objects []Object) (*SendResult, error) {
	if len(objects) == 0 {
		return nil, errors.New("no objects to send")
	}
	logger := s.cfg.Logger.With("called_ae", s.cfg.CalledAETitle, "remote_addr", address)

	items, err := resolveObjects(ctx, objects, s.cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	result := &SendResult{Files: make([]FileResult, len(items))}
	var sendable []int
	for i, item := range items {
		result.Files[i] = FileResult{
			Name:              item.Name(),
			SOPClassUID:       item.SOPClassUID,
			SOPInstanceUID:    item.SOPInstanceUID,
			TransferSyntaxUID: item.TransferSyntaxUID,
		}
		if item.err != nil {
			logger.WarnContext(ctx, "Skipping unreadable object", "object", item.Name(), "error", item.err)
			result.Files[i].Outcome = OutcomeFailed
			result.Files[i].Err = item.err
			continue
		}
		sendable = append(sendable, i)
	}
	defer s.record(result)
	if len(sendable) == 0 {
		return result, nil
	}

	contexts, err := proposeContexts(items, sendable, s.cfg.SeparateTransferSyntaxContexts)
	if err != nil {
		return nil, err
	}

	assoc, err := association.Dial(ctx, address, s.cfg.requestConfig(contexts))
	if err != nil {
		markTransportFailure(result, sendable, err)
		return result, err
	}
	result.AssociationNumber = assoc.Number()
	result.Contexts = assoc.PresentationContexts()
	logger = logger.With("association", assoc.Number())

	sess := &session{assoc: assoc}
	for n, i := range sendable {
		item, file := items[i], &result.Files[i]

		contextID, ok := assoc.AcceptedContextFor(item.SOPClassUID, item.TransferSyntaxUID)
		if !ok {
			logger.WarnContext(ctx, "No accepted presentation context for object",
				"object", file.Name,
				"sop_class", item.SOPClassUID,
				"transfer_syntax", item.TransferSyntaxUID)
			file.Outcome = OutcomeRejectedNoContext
			file.Err = fmt.Errorf("%w for %s in %s", dicomerrors.ErrNoPresentationCtx,
				item.SOPClassUID, item.TransferSyntaxUID)
			continue
		}
		file.ContextID = contextID

		rsp, err := sess.exchange(ctx, contextID, &types.Message{
			CommandField:           types.CStoreRQ,
			MessageID:              sess.nextMessageID(),
			Priority:               types.PriorityMedium,
			AffectedSOPClassUID:    item.SOPClassUID,
			AffectedSOPInstanceUID: item.SOPInstanceUID,
		}, item.DataSet)
		if err != nil {
			logger.ErrorContext(ctx, "Association failed during transfer", "object", file.Name, "error", err)
			markTransportFailure(result, sendable[n:], err)
			_ = assoc.Abort()
			return result, err
		}

		file.Status = rsp.Status
		switch types.ClassifyStatus(rsp.Status) {
		case types.StatusClassSuccess, types.StatusClassWarning:
			file.Outcome = OutcomeSent
			logger.DebugContext(ctx, "Object sent",
				"object", file.Name,
				"sop_instance", item.SOPInstanceUID,
				"status", fmt.Sprintf("0x%04X", rsp.Status))
		default:
			file.Outcome = OutcomeFailed
			file.Err = dicomerrors.NewDIMSEError("C-STORE", rsp.Status, "SCP refused object")
			logger.WarnContext(ctx, "SCP refused object",
				"object", file.Name,
				"status", fmt.Sprintf("0x%04X", rsp.Status))
		}
	}

	if err := assoc.Release(ctx); err != nil {
		return result, fmt.Errorf("release association: %w", err)
	}
	logger.InfoContext(ctx, "Send job finished",
		"sent", result.Count(OutcomeSent),
		"rejected", result.Count(OutcomeRejectedNoContext),
		"failed", result.Count(OutcomeFailed))
	return result, nil
}

func (s *StorageSCU) record(result *SendResult) {
	for _, f := range result.Files {
		s.cfg.Metrics.ObjectSent(f.Outcome.String())
	}
}

// Send sends objects with a one-off StorageSCU.
func Send(ctx context.Context, address string, cfg Config, objects ...Object) (*SendResult, error) {
	return NewStorageSCU(cfg).Send(ctx, address, objects)
}

func markTransportFailure(result *SendResult, indexes []int, err error) {
	for _, i := range indexes {
		result.Files[i].Outcome = OutcomeTransportFailure
		result.Files[i].Err = err
	}
}

// proposeContexts builds one context per SOP class offering the transfer
// syntaxes of its objects in first-seen order, or one context per
// (SOP class, transfer syntax) pair when separate is set. IDs are 1, 3, 5, ...
func proposeContexts(items []resolved, indexes []int, separate bool) ([]*types.PresentationContext, error) {
	var contexts []*types.PresentationContext
	byKey := make(map[string]*types.PresentationContext)
	for _, i := range indexes {
		item := items[i]
		key := item.SOPClassUID
		if separate {
			key += "|" + item.TransferSyntaxUID
		}
		pc, ok := byKey[key]
		if !ok {
			if len(contexts) == types.MaxPresentationContexts {
				return nil, fmt.Errorf("%w: objects need more contexts", dicomerrors.ErrTooManyContexts)
			}
			pc = types.NewProposedContext(byte(2*len(contexts)+1), item.SOPClassUID)
			byKey[key] = pc
			contexts = append(contexts, pc)
		}
		if !pc.Offers(item.TransferSyntaxUID) {
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, item.TransferSyntaxUID)
		}
	}
	return contexts, nil
}

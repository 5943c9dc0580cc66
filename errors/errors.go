// Package errors provides the DICOM network error taxonomy shared by the
// association, client and server packages.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/caio-sobreiro/dicomstore/types"
)

// Common errors
var (
	ErrConnectionClosed    = errors.New("dicom: connection closed")
	ErrAssociationRejected = errors.New("dicom: association rejected")
	ErrAssociationClosed   = errors.New("dicom: association is not established")
	ErrReleased            = errors.New("dicom: association released by peer")
	ErrInvalidPDU          = errors.New("dicom: invalid PDU")
	ErrUnsupportedTransfer = errors.New("dicom: unsupported transfer syntax")
	ErrNoPresentationCtx   = errors.New("dicom: no suitable presentation context")
	ErrInvalidMessage      = errors.New("dicom: invalid DIMSE message")
	ErrOperationCanceled   = errors.New("dicom: operation canceled")
	ErrTooManyContexts     = errors.New("dicom: more than 128 presentation contexts required")
)

// AssociationError describes an A-ASSOCIATE-RJ, sent or received.
type AssociationError struct {
	Result AssociationRejectResult
	Reason AssociationRejectReason
	Source AssociationRejectSource
	Msg    string
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected: %s (result: %s, source: %s, reason: %s)",
		e.Msg, e.Result, e.Source, e.Reason.describe(e.Source))
}

// Is lets errors.Is(err, ErrAssociationRejected) match any rejection.
func (e *AssociationError) Is(target error) bool {
	return target == ErrAssociationRejected
}

// AssociationRejectResult distinguishes permanent from transient rejections.
type AssociationRejectResult byte

const (
	RejectResultPermanent AssociationRejectResult = 0x01
	RejectResultTransient AssociationRejectResult = 0x02
)

func (r AssociationRejectResult) String() string {
	switch r {
	case RejectResultPermanent:
		return "rejected-permanent"
	case RejectResultTransient:
		return "rejected-transient"
	default:
		return "unknown"
	}
}

// AssociationRejectReason represents why an association was rejected. The
// meaning of a value depends on the source.
type AssociationRejectReason byte

const (
	RejectReasonUnknown                        AssociationRejectReason = 0x00
	RejectReasonNoReasonGiven                  AssociationRejectReason = 0x01
	RejectReasonApplicationContextNotSupported AssociationRejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    AssociationRejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     AssociationRejectReason = 0x07

	// Service-provider (ACSE) reasons.
	RejectReasonProtocolVersionNotSupported AssociationRejectReason = 0x02

	// Service-provider (presentation) reasons.
	RejectReasonTemporaryCongestion AssociationRejectReason = 0x01
	RejectReasonLocalLimitExceeded  AssociationRejectReason = 0x02
)

func (r AssociationRejectReason) String() string {
	return r.describe(RejectSourceServiceUser)
}

func (r AssociationRejectReason) describe(source AssociationRejectSource) string {
	switch source {
	case RejectSourceServiceProviderACSE:
		switch r {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonProtocolVersionNotSupported:
			return "protocol-version-not-supported"
		}
	case RejectSourceServiceProviderPresentation:
		switch r {
		case RejectReasonTemporaryCongestion:
			return "temporary-congestion"
		case RejectReasonLocalLimitExceeded:
			return "local-limit-exceeded"
		}
	default:
		switch r {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonApplicationContextNotSupported:
			return "application-context-not-supported"
		case RejectReasonCallingAETitleNotRecognized:
			return "calling-ae-title-not-recognized"
		case RejectReasonCalledAETitleNotRecognized:
			return "called-ae-title-not-recognized"
		}
	}
	return "unknown"
}

// AssociationRejectSource represents who rejected the association
type AssociationRejectSource byte

const (
	RejectSourceUnknown                     AssociationRejectSource = 0x00
	RejectSourceServiceUser                 AssociationRejectSource = 0x01
	RejectSourceServiceProviderACSE         AssociationRejectSource = 0x02
	RejectSourceServiceProviderPresentation AssociationRejectSource = 0x03

	// RejectSourceServiceProvider is kept as the short name for the ACSE provider.
	RejectSourceServiceProvider = RejectSourceServiceProviderACSE
)

func (s AssociationRejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProviderACSE:
		return "service-provider (ACSE)"
	case RejectSourceServiceProviderPresentation:
		return "service-provider (presentation)"
	default:
		return "unknown"
	}
}

// NewAssociationError creates a permanent association rejection.
func NewAssociationError(source AssociationRejectSource, reason AssociationRejectReason, msg string) *AssociationError {
	return &AssociationError{
		Result: RejectResultPermanent,
		Source: source,
		Reason: reason,
		Msg:    msg,
	}
}

// DIMSEError represents a DIMSE operation error with status code
type DIMSEError struct {
	Status    uint16
	Operation string
	Msg       string
}

func (e *DIMSEError) Error() string {
	return fmt.Sprintf("DIMSE %s failed: %s (status: 0x%04X)", e.Operation, e.Msg, e.Status)
}

// NewDIMSEError creates a new DIMSE error
func NewDIMSEError(operation string, status uint16, msg string) *DIMSEError {
	return &DIMSEError{
		Operation: operation,
		Status:    status,
		Msg:       msg,
	}
}

// IsSuccess returns true if the DIMSE status indicates success
func (e *DIMSEError) IsSuccess() bool {
	return types.ClassifyStatus(e.Status) == types.StatusClassSuccess
}

// IsPending returns true if the DIMSE status indicates pending
func (e *DIMSEError) IsPending() bool {
	return types.ClassifyStatus(e.Status) == types.StatusClassPending
}

// IsWarning returns true if the DIMSE status indicates a warning
func (e *DIMSEError) IsWarning() bool {
	return types.ClassifyStatus(e.Status) == types.StatusClassWarning
}

// IsFailure returns true if the DIMSE status indicates failure
func (e *DIMSEError) IsFailure() bool {
	return types.ClassifyStatus(e.Status) == types.StatusClassFailure
}

// TimeoutError represents a timeout error
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
	}
}

// NetworkError represents a network-level error
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{
		Op:  op,
		Err: err,
	}
}

// PDUError represents a PDU-level protocol error
type PDUError struct {
	PDUType byte
	Msg     string
}

func (e *PDUError) Error() string {
	return fmt.Sprintf("PDU error (type: 0x%02X): %s", e.PDUType, e.Msg)
}

// Is lets errors.Is(err, ErrInvalidPDU) match any PDU error.
func (e *PDUError) Is(target error) bool {
	return target == ErrInvalidPDU
}

// NewPDUError creates a new PDU error
func NewPDUError(pduType byte, msg string) *PDUError {
	return &PDUError{
		PDUType: pduType,
		Msg:     msg,
	}
}

// A-ABORT sources.
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02
)

// A-ABORT provider reasons.
const (
	AbortReasonNotSpecified          byte = 0x00
	AbortReasonUnrecognizedPDU       byte = 0x01
	AbortReasonUnexpectedPDU         byte = 0x02
	AbortReasonUnrecognizedParameter byte = 0x04
	AbortReasonUnexpectedParameter   byte = 0x05
	AbortReasonInvalidParameterValue byte = 0x06
)

// AbortError reports an association that ended in A-ABORT. Local is true when
// this side issued the abort.
type AbortError struct {
	Source byte
	Reason byte
	Local  bool
}

func (e *AbortError) Error() string {
	sourceStr := "unknown"
	switch e.Source {
	case AbortSourceServiceUser:
		sourceStr = "service-user"
	case AbortSourceServiceProvider:
		sourceStr = "service-provider"
	}
	who := "peer"
	if e.Local {
		who = "local"
	}
	return fmt.Sprintf("association aborted (%s) by %s (reason: 0x%02X)", who, sourceStr, e.Reason)
}

// NewAbortError creates a new abort error
func NewAbortError(source, reason byte) *AbortError {
	return &AbortError{
		Source: source,
		Reason: reason,
	}
}

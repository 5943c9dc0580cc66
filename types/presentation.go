package types

import (
	"fmt"
	"strings"
)

// PresentationResult is the outcome of negotiating one presentation context.
type PresentationResult byte

const (
	Acceptance                   PresentationResult = 0
	UserRejection                PresentationResult = 1
	NoReason                     PresentationResult = 2
	AbstractSyntaxNotSupported   PresentationResult = 3
	TransferSyntaxesNotSupported PresentationResult = 4
)

func (r PresentationResult) String() string {
	switch r {
	case Acceptance:
		return "acceptance"
	case UserRejection:
		return "user-rejection"
	case NoReason:
		return "no-reason (provider rejection)"
	case AbstractSyntaxNotSupported:
		return "abstract-syntax-not-supported"
	case TransferSyntaxesNotSupported:
		return "transfer-syntaxes-not-supported"
	default:
		return fmt.Sprintf("unknown(%d)", byte(r))
	}
}

// PresentationContext is a (abstract syntax, transfer syntaxes) pair identified
// by an odd ID. A proposed context carries candidate transfer syntaxes and no
// result. A negotiated context carries a result and either exactly one transfer
// syntax (accepted) or none (rejected).
type PresentationContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
	Result           PresentationResult
	Negotiated       bool
}

// NewProposedContext builds a proposed context offering the given transfer syntaxes.
func NewProposedContext(id byte, abstractSyntax string, transferSyntaxes ...string) *PresentationContext {
	return &PresentationContext{
		ID:               id,
		AbstractSyntax:   abstractSyntax,
		TransferSyntaxes: append([]string(nil), transferSyntaxes...),
	}
}

// Accept settles the context on ts.
func (pc *PresentationContext) Accept(ts string) {
	pc.Result = Acceptance
	pc.TransferSyntaxes = []string{ts}
	pc.Negotiated = true
}

// Reject settles the context with a non-acceptance result and drops every
// transfer syntax.
func (pc *PresentationContext) Reject(result PresentationResult) {
	if result == Acceptance {
		result = NoReason
	}
	pc.Result = result
	pc.TransferSyntaxes = nil
	pc.Negotiated = true
}

// Accepted reports whether the context was negotiated and accepted.
func (pc *PresentationContext) Accepted() bool {
	return pc.Negotiated && pc.Result == Acceptance && len(pc.TransferSyntaxes) == 1
}

// TransferSyntax returns the accepted transfer syntax, or "" when the context
// is not accepted.
func (pc *PresentationContext) TransferSyntax() string {
	if !pc.Accepted() {
		return ""
	}
	return pc.TransferSyntaxes[0]
}

// Offers reports whether ts is among the context's transfer syntaxes.
func (pc *PresentationContext) Offers(ts string) bool {
	for _, candidate := range pc.TransferSyntaxes {
		if candidate == ts {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (pc *PresentationContext) Clone() *PresentationContext {
	if pc == nil {
		return nil
	}
	c := *pc
	c.TransferSyntaxes = append([]string(nil), pc.TransferSyntaxes...)
	return &c
}

func (pc *PresentationContext) String() string {
	if !pc.Negotiated {
		return fmt.Sprintf("[%d] %s proposed {%s}", pc.ID, pc.AbstractSyntax, strings.Join(pc.TransferSyntaxes, ", "))
	}
	if pc.Accepted() {
		return fmt.Sprintf("[%d] %s accepted %s", pc.ID, pc.AbstractSyntax, pc.TransferSyntaxes[0])
	}
	return fmt.Sprintf("[%d] %s rejected (%s)", pc.ID, pc.AbstractSyntax, pc.Result)
}

// CloneContexts deep-copies a context list preserving order.
func CloneContexts(contexts []*PresentationContext) []*PresentationContext {
	out := make([]*PresentationContext, len(contexts))
	for i, pc := range contexts {
		out[i] = pc.Clone()
	}
	return out
}

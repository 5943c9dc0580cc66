package negotiation

import (
	"fmt"

	"github.com/caio-sobreiro/dicomstore/types"
)

// PresentationContextSelectionPolicy settles every proposed context of an
// association. The result has the same length, order and IDs as proposed.
type PresentationContextSelectionPolicy interface {
	Select(proposed []*types.PresentationContext, associationNumber uint64) []*types.PresentationContext
}

// StoragePolicy accepts storage SOP classes, optionally verification,
// query/retrieve and extra abstract syntaxes, and delegates the transfer
// syntax choice to a TransferSyntaxSelectionPolicy.
type StoragePolicy struct {
	verification   bool
	queryRetrieve  bool
	extra          map[string]struct{}
	transferSyntax TransferSyntaxSelectionPolicy
}

// StorageOption configures a StoragePolicy.
type StorageOption func(*StoragePolicy)

// WithTransferSyntaxPolicy replaces the default PreferredPolicy.
func WithTransferSyntaxPolicy(policy TransferSyntaxSelectionPolicy) StorageOption {
	return func(p *StoragePolicy) {
		if policy != nil {
			p.transferSyntax = policy
		}
	}
}

// WithoutVerification stops accepting the Verification SOP class.
func WithoutVerification() StorageOption {
	return func(p *StoragePolicy) {
		p.verification = false
	}
}

// WithQueryRetrieve accepts the query/retrieve information models.
func WithQueryRetrieve() StorageOption {
	return func(p *StoragePolicy) {
		p.queryRetrieve = true
	}
}

// WithAbstractSyntaxes accepts additional abstract syntaxes.
func WithAbstractSyntaxes(uids ...string) StorageOption {
	return func(p *StoragePolicy) {
		for _, uid := range uids {
			p.extra[uid] = struct{}{}
		}
	}
}

// NewStoragePolicy builds the default storage SCP policy.
func NewStoragePolicy(opts ...StorageOption) *StoragePolicy {
	p := &StoragePolicy{
		verification:   true,
		extra:          make(map[string]struct{}),
		transferSyntax: NewPreferredPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Supports reports whether the policy accepts the abstract syntax.
func (p *StoragePolicy) Supports(abstractSyntax string) bool {
	if _, ok := p.extra[abstractSyntax]; ok {
		return true
	}
	switch {
	case types.IsStorageSOPClass(abstractSyntax):
		return true
	case abstractSyntax == types.VerificationSOPClass:
		return p.verification
	case types.IsQueryRetrieveSOPClass(abstractSyntax):
		return p.queryRetrieve
	}
	return false
}

// Select implements PresentationContextSelectionPolicy.
func (p *StoragePolicy) Select(proposed []*types.PresentationContext, associationNumber uint64) []*types.PresentationContext {
	staged := make([]*types.PresentationContext, len(proposed))
	for i, pc := range proposed {
		staged[i] = pc.Clone()
		if !p.Supports(pc.AbstractSyntax) {
			staged[i].Reject(types.AbstractSyntaxNotSupported)
		}
	}
	return p.transferSyntax.Apply(staged, associationNumber)
}

// Verify checks that negotiated is a well-formed answer to proposed: same
// length, order and IDs, every context negotiated, accepted contexts settled
// on one syntax the proposer offered and rejected contexts carrying none.
func Verify(proposed, negotiated []*types.PresentationContext) error {
	if len(proposed) != len(negotiated) {
		return fmt.Errorf("negotiated %d presentation contexts for %d proposed", len(negotiated), len(proposed))
	}
	for i, want := range proposed {
		got := negotiated[i]
		if got == nil {
			return fmt.Errorf("presentation context %d: missing from negotiated list", want.ID)
		}
		if got.ID != want.ID {
			return fmt.Errorf("presentation context at position %d: id %d, proposed %d", i, got.ID, want.ID)
		}
		if got.AbstractSyntax != want.AbstractSyntax {
			return fmt.Errorf("presentation context %d: abstract syntax changed to %s", got.ID, got.AbstractSyntax)
		}
		if !got.Negotiated {
			return fmt.Errorf("presentation context %d: left unnegotiated", got.ID)
		}
		if got.Result == types.Acceptance {
			if len(got.TransferSyntaxes) != 1 {
				return fmt.Errorf("presentation context %d: accepted with %d transfer syntaxes", got.ID, len(got.TransferSyntaxes))
			}
			if !want.Offers(got.TransferSyntaxes[0]) {
				return fmt.Errorf("presentation context %d: accepted %s which was not proposed", got.ID, got.TransferSyntaxes[0])
			}
		} else if len(got.TransferSyntaxes) != 0 {
			return fmt.Errorf("presentation context %d: rejected but carries transfer syntaxes", got.ID)
		}
	}
	return nil
}

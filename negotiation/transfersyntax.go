// Package negotiation decides the outcome of each proposed presentation
// context during association establishment.
package negotiation

import (
	"github.com/caio-sobreiro/dicomstore/types"
)

// TransferSyntaxSelectionPolicy settles the transfer syntax of each context.
// Apply returns new negotiated contexts in the same order with the same IDs
// and never modifies its input. Contexts that are already negotiated pass
// through unchanged. An unsatisfiable context is rejected with
// TransferSyntaxesNotSupported, never reported as an error.
type TransferSyntaxSelectionPolicy interface {
	Apply(contexts []*types.PresentationContext, associationNumber uint64) []*types.PresentationContext
}

// TransferSyntaxSet is the set of transfer syntaxes a node recognizes.
type TransferSyntaxSet map[string]struct{}

// NewTransferSyntaxSet builds a set from UIDs.
func NewTransferSyntaxSet(uids ...string) TransferSyntaxSet {
	s := make(TransferSyntaxSet, len(uids))
	for _, uid := range uids {
		s[uid] = struct{}{}
	}
	return s
}

// UncompressedSet recognizes the native little and big endian syntaxes.
func UncompressedSet() TransferSyntaxSet {
	return NewTransferSyntaxSet(types.UncompressedTransferSyntaxes()...)
}

// AllKnownSet recognizes every catalogued transfer syntax.
func AllKnownSet() TransferSyntaxSet {
	return NewTransferSyntaxSet(types.KnownTransferSyntaxes()...)
}

// Contains reports whether uid is recognized.
func (s TransferSyntaxSet) Contains(uid string) bool {
	_, ok := s[uid]
	return ok
}

// PreferredPolicy picks the first entry of Preference the context offers, then
// falls back to the first offered syntax in Recognized.
type PreferredPolicy struct {
	Preference []string
	Recognized TransferSyntaxSet
}

// NewPreferredPolicy returns the default policy: Explicit VR Little Endian,
// then Implicit VR Little Endian, then any uncompressed syntax.
func NewPreferredPolicy() *PreferredPolicy {
	return &PreferredPolicy{
		Preference: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
		Recognized: UncompressedSet(),
	}
}

// Apply implements TransferSyntaxSelectionPolicy.
func (p *PreferredPolicy) Apply(contexts []*types.PresentationContext, _ uint64) []*types.PresentationContext {
	recognized := p.Recognized
	if recognized == nil {
		recognized = UncompressedSet()
	}
	return settle(contexts, func(pc *types.PresentationContext) string {
		for _, ts := range p.Preference {
			if pc.Offers(ts) && recognized.Contains(ts) {
				return ts
			}
		}
		for _, ts := range pc.TransferSyntaxes {
			if recognized.Contains(ts) {
				return ts
			}
		}
		return ""
	})
}

// FirstRecognizedPolicy accepts the first offered syntax that is recognized.
type FirstRecognizedPolicy struct {
	Recognized TransferSyntaxSet
}

// Apply implements TransferSyntaxSelectionPolicy.
func (p *FirstRecognizedPolicy) Apply(contexts []*types.PresentationContext, _ uint64) []*types.PresentationContext {
	recognized := p.Recognized
	if recognized == nil {
		recognized = UncompressedSet()
	}
	return settle(contexts, func(pc *types.PresentationContext) string {
		for _, ts := range pc.TransferSyntaxes {
			if recognized.Contains(ts) {
				return ts
			}
		}
		return ""
	})
}

// LastRecognizedPolicy accepts the last offered syntax that is recognized.
// With no set configured every catalogued syntax is recognized.
type LastRecognizedPolicy struct {
	Recognized TransferSyntaxSet
}

// Apply implements TransferSyntaxSelectionPolicy.
func (p *LastRecognizedPolicy) Apply(contexts []*types.PresentationContext, _ uint64) []*types.PresentationContext {
	recognized := p.Recognized
	if recognized == nil {
		recognized = AllKnownSet()
	}
	return settle(contexts, func(pc *types.PresentationContext) string {
		for i := len(pc.TransferSyntaxes) - 1; i >= 0; i-- {
			if recognized.Contains(pc.TransferSyntaxes[i]) {
				return pc.TransferSyntaxes[i]
			}
		}
		return ""
	})
}

// settle clones each context and accepts the syntax chosen by pick, rejecting
// the context when pick returns "".
func settle(contexts []*types.PresentationContext, pick func(*types.PresentationContext) string) []*types.PresentationContext {
	out := make([]*types.PresentationContext, len(contexts))
	for i, proposed := range contexts {
		pc := proposed.Clone()
		out[i] = pc
		if pc.Negotiated {
			continue
		}
		if ts := pick(pc); ts != "" {
			pc.Accept(ts)
		} else {
			pc.Reject(types.TransferSyntaxesNotSupported)
		}
	}
	return out
}

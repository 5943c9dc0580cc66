package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresentationContextAccept(t *testing.T) {
	pc := NewProposedContext(1, CTImageStorage, ImplicitVRLittleEndian, ExplicitVRLittleEndian)
	assert.False(t, pc.Negotiated)
	assert.False(t, pc.Accepted())
	assert.Empty(t, pc.TransferSyntax())
	assert.True(t, pc.Offers(ExplicitVRLittleEndian))

	pc.Accept(ExplicitVRLittleEndian)

	assert.True(t, pc.Negotiated)
	assert.True(t, pc.Accepted())
	assert.Equal(t, []string{ExplicitVRLittleEndian}, pc.TransferSyntaxes)
	assert.Equal(t, ExplicitVRLittleEndian, pc.TransferSyntax())
}

func TestPresentationContextRejectClearsTransferSyntaxes(t *testing.T) {
	pc := NewProposedContext(3, MRImageStorage, JPEGBaseline8Bit)

	pc.Reject(TransferSyntaxesNotSupported)

	assert.True(t, pc.Negotiated)
	assert.False(t, pc.Accepted())
	assert.Empty(t, pc.TransferSyntaxes)
	assert.Equal(t, TransferSyntaxesNotSupported, pc.Result)
	assert.Contains(t, pc.String(), "transfer-syntaxes-not-supported")
}

func TestPresentationContextRejectWithAcceptanceBecomesNoReason(t *testing.T) {
	pc := NewProposedContext(5, MRImageStorage, ImplicitVRLittleEndian)
	pc.Reject(Acceptance)
	assert.Equal(t, NoReason, pc.Result)
	assert.False(t, pc.Accepted())
}

func TestPresentationContextClone(t *testing.T) {
	original := NewProposedContext(1, CTImageStorage, ImplicitVRLittleEndian, ExplicitVRLittleEndian)
	clone := original.Clone()
	clone.TransferSyntaxes[0] = JPEGBaseline8Bit
	clone.Accept(RLELossless)

	assert.Equal(t, ImplicitVRLittleEndian, original.TransferSyntaxes[0])
	assert.False(t, original.Negotiated)

	list := CloneContexts([]*PresentationContext{original, clone})
	assert.Equal(t, byte(1), list[0].ID)
	assert.NotSame(t, original, list[0])
}

func TestPresentationResultString(t *testing.T) {
	assert.Equal(t, "acceptance", Acceptance.String())
	assert.Equal(t, "abstract-syntax-not-supported", AbstractSyntaxNotSupported.String())
	assert.Equal(t, "unknown(9)", PresentationResult(9).String())
}

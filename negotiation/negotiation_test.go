package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomstore/types"
)

func proposed() []*types.PresentationContext {
	return []*types.PresentationContext{
		types.NewProposedContext(1, types.CTImageStorage, types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian),
		types.NewProposedContext(3, "1.2.3.4.5.6.999", types.ImplicitVRLittleEndian),
		types.NewProposedContext(5, types.MRImageStorage, types.JPEGBaseline8Bit),
		types.NewProposedContext(7, types.VerificationSOPClass, types.ImplicitVRLittleEndian),
		types.NewProposedContext(9, types.SecondaryCaptureImageStorage, types.JPEGBaseline8Bit, types.ImplicitVRLittleEndian),
	}
}

func TestStoragePolicyPreservesOrderAndIDs(t *testing.T) {
	in := proposed()
	out := NewStoragePolicy().Select(in, 1)

	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].AbstractSyntax, out[i].AbstractSyntax)
		assert.True(t, out[i].Negotiated)
	}
	require.NoError(t, Verify(in, out))

	assert.Equal(t, types.ExplicitVRLittleEndian, out[0].TransferSyntax())
	assert.Equal(t, types.AbstractSyntaxNotSupported, out[1].Result)
	assert.Empty(t, out[1].TransferSyntaxes)
	assert.Equal(t, types.TransferSyntaxesNotSupported, out[2].Result)
	assert.Empty(t, out[2].TransferSyntaxes)
	assert.Equal(t, types.ImplicitVRLittleEndian, out[3].TransferSyntax())
	assert.Equal(t, types.ImplicitVRLittleEndian, out[4].TransferSyntax())

	assert.False(t, in[0].Negotiated, "input must not be modified")
}

func TestStoragePolicyOptions(t *testing.T) {
	in := []*types.PresentationContext{
		types.NewProposedContext(1, types.VerificationSOPClass, types.ImplicitVRLittleEndian),
		types.NewProposedContext(3, types.StudyRootQueryRetrieveInformationModelFind, types.ImplicitVRLittleEndian),
		types.NewProposedContext(5, "1.2.3.4.5.6.999", types.ImplicitVRLittleEndian),
	}

	out := NewStoragePolicy(WithoutVerification()).Select(in, 1)
	assert.False(t, out[0].Accepted())
	assert.False(t, out[1].Accepted())

	out = NewStoragePolicy(WithQueryRetrieve(), WithAbstractSyntaxes("1.2.3.4.5.6.999")).Select(in, 1)
	for _, pc := range out {
		assert.True(t, pc.Accepted(), pc.String())
	}
}

func TestStoragePolicyWithLastRecognized(t *testing.T) {
	in := []*types.PresentationContext{
		types.NewProposedContext(1, types.CTImageStorage,
			types.ImplicitVRLittleEndian, types.JPEG2000Lossless, "1.2.3.not.a.syntax"),
	}

	out := NewStoragePolicy(WithTransferSyntaxPolicy(&LastRecognizedPolicy{})).Select(in, 7)

	require.Len(t, out, 1)
	assert.Equal(t, types.JPEG2000Lossless, out[0].TransferSyntax())
	require.NoError(t, Verify(in, out))
}

func TestTransferSyntaxPolicies(t *testing.T) {
	offer := []*types.PresentationContext{
		types.NewProposedContext(1, types.CTImageStorage,
			types.JPEGBaseline8Bit, types.ImplicitVRLittleEndian, types.ExplicitVRBigEndian, types.ExplicitVRLittleEndian),
	}

	tests := []struct {
		name   string
		policy TransferSyntaxSelectionPolicy
		want   string
	}{
		{"preferred picks explicit LE", NewPreferredPolicy(), types.ExplicitVRLittleEndian},
		{"first recognized", &FirstRecognizedPolicy{}, types.ImplicitVRLittleEndian},
		{"first recognized custom set", &FirstRecognizedPolicy{Recognized: NewTransferSyntaxSet(types.JPEGBaseline8Bit)}, types.JPEGBaseline8Bit},
		{"last recognized", &LastRecognizedPolicy{}, types.ExplicitVRLittleEndian},
		{"last recognized uncompressed only", &LastRecognizedPolicy{Recognized: NewTransferSyntaxSet(types.ImplicitVRLittleEndian)}, types.ImplicitVRLittleEndian},
		{"preferred with empty preference", &PreferredPolicy{}, types.ImplicitVRLittleEndian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.policy.Apply(offer, 1)
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].TransferSyntax())
		})
	}
}

func TestTransferSyntaxPolicyRejectsUnrecognized(t *testing.T) {
	offer := []*types.PresentationContext{types.NewProposedContext(1, types.CTImageStorage, types.JPEGBaseline8Bit)}

	out := NewPreferredPolicy().Apply(offer, 1)
	assert.Equal(t, types.TransferSyntaxesNotSupported, out[0].Result)
	assert.Empty(t, out[0].TransferSyntaxes)
}

func TestTransferSyntaxPolicyKeepsNegotiatedContexts(t *testing.T) {
	rejected := types.NewProposedContext(3, "1.2.3", types.ImplicitVRLittleEndian)
	rejected.Reject(types.AbstractSyntaxNotSupported)

	out := (&FirstRecognizedPolicy{}).Apply([]*types.PresentationContext{rejected}, 1)
	assert.Equal(t, types.AbstractSyntaxNotSupported, out[0].Result)
	assert.NotSame(t, rejected, out[0])
}

type reorderingPolicy struct{}

func (reorderingPolicy) Select(in []*types.PresentationContext, _ uint64) []*types.PresentationContext {
	out := types.CloneContexts(in)
	out[0], out[1] = out[1], out[0]
	for _, pc := range out {
		pc.Accept(types.ImplicitVRLittleEndian)
	}
	return out
}

func TestVerifyDetectsBrokenPolicies(t *testing.T) {
	in := proposed()

	assert.Error(t, Verify(in, reorderingPolicy{}.Select(in, 1)))
	assert.Error(t, Verify(in, in[:2]))
	assert.Error(t, Verify(in, types.CloneContexts(in)), "unnegotiated contexts")

	out := NewStoragePolicy().Select(in, 1)
	out[0].TransferSyntaxes = []string{types.JPEG2000}
	assert.Error(t, Verify(in, out))
}

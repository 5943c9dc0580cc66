package types

// PDU type constants
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// MaxPresentationContexts is the number of odd context IDs (1..255) available
// on a single association.
const MaxPresentationContexts = 128

// DefaultMaxPDULength is the receive limit advertised when none is configured.
const DefaultMaxPDULength = 16384

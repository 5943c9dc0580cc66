package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CGetRQ    = 0x0010
	CGetRSP   = 0x8010
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// DIMSE Status codes
const (
	StatusSuccess = 0x0000
	StatusPending = 0xFF00
	StatusFailure = 0xC000

	StatusCancel                        = 0xFE00
	StatusOutOfResources                = 0xA700
	StatusDataSetDoesNotMatchSOPClass   = 0xA900
	StatusProcessingFailure             = 0x0110
	StatusDuplicateSOPInstance          = 0x0111
	StatusNoSuchSOPClass                = 0x0118
	StatusClassInstanceConflict         = 0x0119
	StatusUnrecognizedOperation         = 0x0211
	StatusSOPClassNotSupported          = 0x0122
	StatusCoercionOfDataElements        = 0xB000
	StatusElementsDiscarded             = 0xB007
	StatusDataSetDoesNotMatchSOPWarning = 0xB006
)

// Priority values for C-STORE, C-FIND, C-GET and C-MOVE requests.
const (
	PriorityMedium = 0x0000
	PriorityHigh   = 0x0001
	PriorityLow    = 0x0002
)

// CommandDataSetType values.
const (
	DataSetPresent = 0x0000
	NoDataSet      = 0x0101
)

// StatusClass groups DIMSE status codes by their meaning (PS3.7 annex C).
type StatusClass int

const (
	StatusClassSuccess StatusClass = iota
	StatusClassWarning
	StatusClassPending
	StatusClassCancel
	StatusClassFailure
)

// ClassifyStatus maps a status code to its class.
func ClassifyStatus(status uint16) StatusClass {
	switch {
	case status == StatusSuccess:
		return StatusClassSuccess
	case status == StatusCancel:
		return StatusClassCancel
	case status == StatusPending || status == 0xFF01:
		return StatusClassPending
	case status == 0x0001 || status&0xF000 == 0xB000 || status == 0x0107 || status == 0x0116:
		return StatusClassWarning
	default:
		return StatusClassFailure
	}
}

func (c StatusClass) String() string {
	switch c {
	case StatusClassSuccess:
		return "success"
	case StatusClassWarning:
		return "warning"
	case StatusClassPending:
		return "pending"
	case StatusClassCancel:
		return "cancel"
	default:
		return "failure"
	}
}

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	MoveDestination           string // For C-MOVE-RQ: the AE title of the move destination
	TransferSyntaxUID         string // Negotiated transfer syntax for associated dataset

	// C-MOVE and C-GET response counters
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CGetRQ:
		return CGetRSP
	case CFindRQ:
		return CFindRSP
	case CMoveRQ:
		return CMoveRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}

// HasDataSet reports whether the command announces a dataset.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSet
}

// IsResponse reports whether the command field is a response.
func (m *Message) IsResponse() bool {
	return m.CommandField&0x8000 != 0
}

// Package pdu encodes and decodes the DICOM upper layer protocol data units
// (PS3.8 section 9.3).
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/types"
)

// HeaderLength is the size of the PDU type, reserved byte and length field.
const HeaderLength = 6

// MaxControlPDULength bounds association, release and abort PDUs, which carry
// no bulk data.
const MaxControlPDULength = 1 << 20

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// New wraps an encoded body in a PDU of the given type.
func New(pduType byte, body []byte) *PDU {
	return &PDU{Type: pduType, Length: uint32(len(body)), Data: body}
}

// Encode returns the PDU header followed by the body.
func (p *PDU) Encode() []byte {
	out := make([]byte, HeaderLength+len(p.Data))
	out[0] = p.Type
	binary.BigEndian.PutUint32(out[2:6], uint32(len(p.Data)))
	copy(out[HeaderLength:], p.Data)
	return out
}

// WriteTo writes the encoded PDU in a single call so that concurrent readers
// never observe a partial header.
func (p *PDU) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Encode())
	return int64(n), err
}

// TypeName returns the PS3.8 name of a PDU type.
func TypeName(pduType byte) string {
	switch pduType {
	case types.TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case types.TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case types.TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case types.TypePDataTF:
		return "P-DATA-TF"
	case types.TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case types.TypeReleaseRP:
		return "A-RELEASE-RP"
	case types.TypeAbort:
		return "A-ABORT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", pduType)
	}
}

// ReadPDU reads one complete PDU. maxPDataLength limits P-DATA-TF bodies and
// is ignored when zero. Unknown PDU types and oversized bodies are returned as
// *errors.PDUError before the body is consumed.
func ReadPDU(r io.Reader, maxPDataLength uint32) (*PDU, error) {
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	pduLength := binary.BigEndian.Uint32(header[2:6])

	switch pduType {
	case types.TypePDataTF:
		if maxPDataLength > 0 && pduLength > maxPDataLength {
			return nil, dicomerrors.NewPDUError(pduType,
				fmt.Sprintf("length %d exceeds negotiated maximum %d", pduLength, maxPDataLength))
		}
	case types.TypeAssociateRQ, types.TypeAssociateAC, types.TypeAssociateRJ,
		types.TypeReleaseRQ, types.TypeReleaseRP, types.TypeAbort:
		if pduLength > MaxControlPDULength {
			return nil, dicomerrors.NewPDUError(pduType, fmt.Sprintf("length %d too large", pduLength))
		}
	default:
		return nil, dicomerrors.NewPDUError(pduType, "unrecognized PDU type")
	}

	data := make([]byte, pduLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read %s body: %w", TypeName(pduType), err)
	}

	return &PDU{Type: pduType, Length: pduLength, Data: data}, nil
}

// AssociateRJ is the body of an A-ASSOCIATE-RJ PDU.
type AssociateRJ struct {
	Result byte
	Source byte
	Reason byte
}

// Encode returns the 4-byte RJ body.
func (rj *AssociateRJ) Encode() []byte {
	return []byte{0x00, rj.Result, rj.Source, rj.Reason}
}

// DecodeAssociateRJ parses an A-ASSOCIATE-RJ body.
func DecodeAssociateRJ(data []byte) (*AssociateRJ, error) {
	if len(data) < 4 {
		return nil, dicomerrors.NewPDUError(types.TypeAssociateRJ, "body shorter than 4 bytes")
	}
	return &AssociateRJ{Result: data[1], Source: data[2], Reason: data[3]}, nil
}

// Abort is the body of an A-ABORT PDU.
type Abort struct {
	Source byte
	Reason byte
}

// Encode returns the 4-byte abort body.
func (a *Abort) Encode() []byte {
	return []byte{0x00, 0x00, a.Source, a.Reason}
}

// DecodeAbort parses an A-ABORT body.
func DecodeAbort(data []byte) (*Abort, error) {
	if len(data) < 4 {
		return nil, dicomerrors.NewPDUError(types.TypeAbort, "body shorter than 4 bytes")
	}
	return &Abort{Source: data[2], Reason: data[3]}, nil
}

// ReleaseRQ returns an A-RELEASE-RQ PDU.
func ReleaseRQ() *PDU {
	return New(types.TypeReleaseRQ, make([]byte, 4))
}

// ReleaseRP returns an A-RELEASE-RP PDU.
func ReleaseRP() *PDU {
	return New(types.TypeReleaseRP, make([]byte, 4))
}

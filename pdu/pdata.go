package pdu

import (
	"encoding/binary"
	"fmt"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Message control header bits.
const (
	controlCommand = 0x01
	controlLast    = 0x02
)

// pdvOverhead is the PDV item length field plus context ID and control header.
const pdvOverhead = 6

// PDV is one presentation data value item of a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// ControlHeader returns the message control header byte.
func (v PDV) ControlHeader() byte {
	var h byte
	if v.Command {
		h |= controlCommand
	}
	if v.Last {
		h |= controlLast
	}
	return h
}

// PDataTF is the body of a P-DATA-TF PDU.
type PDataTF struct {
	PDVs []PDV
}

// Encode serializes the PDV items.
func (p *PDataTF) Encode() []byte {
	size := 0
	for _, v := range p.PDVs {
		size += pdvOverhead + len(v.Data)
	}
	out := make([]byte, 0, size)
	for _, v := range p.PDVs {
		length := make([]byte, 4)
		binary.BigEndian.PutUint32(length, uint32(2+len(v.Data)))
		out = append(out, length...)
		out = append(out, v.ContextID, v.ControlHeader())
		out = append(out, v.Data...)
	}
	return out
}

// DecodePDataTF parses a P-DATA-TF body into its PDV items.
func DecodePDataTF(data []byte) (*PDataTF, error) {
	p := &PDataTF{}
	offset := 0
	for offset < len(data) {
		if offset+pdvOverhead > len(data) {
			return nil, dicomerrors.NewPDUError(types.TypePDataTF, "truncated PDV header")
		}
		itemLength := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		if itemLength < 2 || offset+4+itemLength > len(data) {
			return nil, dicomerrors.NewPDUError(types.TypePDataTF,
				fmt.Sprintf("PDV length %d invalid at offset %d", itemLength, offset))
		}
		header := data[offset+5]
		p.PDVs = append(p.PDVs, PDV{
			ContextID: data[offset+4],
			Command:   header&controlCommand != 0,
			Last:      header&controlLast != 0,
			Data:      data[offset+6 : offset+4+itemLength],
		})
		offset += 4 + itemLength
	}
	if len(p.PDVs) == 0 {
		return nil, dicomerrors.NewPDUError(types.TypePDataTF, "P-DATA-TF without PDV items")
	}
	return p, nil
}

// FragmentPDVs splits a command or dataset stream into PDVs that each fit a
// P-DATA-TF PDU no larger than maxPDULength. Zero means unlimited. Empty data
// still yields one final PDV.
func FragmentPDVs(contextID byte, command bool, data []byte, maxPDULength uint32) []PDV {
	chunk := len(data)
	if maxPDULength > pdvOverhead {
		chunk = int(maxPDULength) - pdvOverhead
	}
	if chunk <= 0 {
		chunk = len(data)
	}

	var pdvs []PDV
	for offset := 0; ; offset += chunk {
		end := offset + chunk
		if end >= len(data) {
			return append(pdvs, PDV{ContextID: contextID, Command: command, Last: true, Data: data[offset:]})
		}
		pdvs = append(pdvs, PDV{ContextID: contextID, Command: command, Data: data[offset:end]})
	}
}

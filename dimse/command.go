// Package dimse encodes DIMSE command sets and routes complete DIMSE messages
// to service handlers.
package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Command fields handled by this package.
const (
	CStoreRQ  = types.CStoreRQ
	CStoreRSP = types.CStoreRSP
	CEchoRQ   = types.CEchoRQ
	CEchoRSP  = types.CEchoRSP
	CFindRQ   = types.CFindRQ
	CFindRSP  = types.CFindRSP
	CCancelRQ = types.CCancelRQ
)

// Status codes produced by this package.
const (
	StatusSuccess           = types.StatusSuccess
	StatusPending           = types.StatusPending
	StatusOutOfResources    = types.StatusOutOfResources
	StatusProcessingFailure = types.StatusProcessingFailure
)

// Command set tags, all in group 0000.
const (
	tagGroupLength               uint16 = 0x0000
	tagAffectedSOPClassUID       uint16 = 0x0002
	tagRequestedSOPClassUID      uint16 = 0x0003
	tagCommandField              uint16 = 0x0100
	tagMessageID                 uint16 = 0x0110
	tagMessageIDBeingRespondedTo uint16 = 0x0120
	tagMoveDestination           uint16 = 0x0600
	tagPriority                  uint16 = 0x0700
	tagCommandDataSetType        uint16 = 0x0800
	tagStatus                    uint16 = 0x0900
	tagAffectedSOPInstanceUID    uint16 = 0x1000
	tagRemainingSuboperations    uint16 = 0x1020
	tagCompletedSuboperations    uint16 = 0x1021
	tagFailedSuboperations       uint16 = 0x1022
	tagWarningSuboperations      uint16 = 0x1023
)

// stringElement maps a UI or AE element onto a Message field. pad is the
// byte used to reach even length.
type stringElement struct {
	tag   uint16
	pad   byte
	field func(*types.Message) *string
}

// ushortElement maps a US element onto a Message field. present reports
// whether the element is written for msg.
type ushortElement struct {
	tag     uint16
	field   func(*types.Message) *uint16
	present func(*types.Message) bool
}

// counterElement maps an optional sub-operation counter.
type counterElement struct {
	tag   uint16
	field func(*types.Message) **uint16
}

var stringElements = []stringElement{
	{tagAffectedSOPClassUID, 0x00, func(m *types.Message) *string { return &m.AffectedSOPClassUID }},
	{tagRequestedSOPClassUID, 0x00, func(m *types.Message) *string { return &m.RequestedSOPClassUID }},
	{tagMoveDestination, ' ', func(m *types.Message) *string { return &m.MoveDestination }},
	{tagAffectedSOPInstanceUID, 0x00, func(m *types.Message) *string { return &m.AffectedSOPInstanceUID }},
}

var ushortElements = []ushortElement{
	{tagCommandField, func(m *types.Message) *uint16 { return &m.CommandField }, always},
	{tagMessageID, func(m *types.Message) *uint16 { return &m.MessageID }, func(m *types.Message) bool { return m.MessageID != 0 }},
	{tagMessageIDBeingRespondedTo, func(m *types.Message) *uint16 { return &m.MessageIDBeingRespondedTo }, func(m *types.Message) bool { return m.MessageIDBeingRespondedTo != 0 }},
	{tagPriority, func(m *types.Message) *uint16 { return &m.Priority }, func(m *types.Message) bool { return carriesPriority(m.CommandField) || m.Priority != 0 }},
	{tagCommandDataSetType, func(m *types.Message) *uint16 { return &m.CommandDataSetType }, always},
	{tagStatus, func(m *types.Message) *uint16 { return &m.Status }, func(m *types.Message) bool { return m.IsResponse() || m.Status != 0 }},
}

var counterElements = []counterElement{
	{tagRemainingSuboperations, func(m *types.Message) **uint16 { return &m.NumberOfRemainingSuboperations }},
	{tagCompletedSuboperations, func(m *types.Message) **uint16 { return &m.NumberOfCompletedSuboperations }},
	{tagFailedSuboperations, func(m *types.Message) **uint16 { return &m.NumberOfFailedSuboperations }},
	{tagWarningSuboperations, func(m *types.Message) **uint16 { return &m.NumberOfWarningSuboperations }},
}

func always(*types.Message) bool { return true }

// carriesPriority reports whether the request type requires (0000,0700).
func carriesPriority(commandField uint16) bool {
	switch commandField {
	case types.CStoreRQ, types.CFindRQ, types.CGetRQ, types.CMoveRQ:
		return true
	}
	return false
}

// EncodeCommand encodes msg as a command set in Implicit VR Little Endian,
// elements in ascending tag order behind the group length.
func EncodeCommand(msg *types.Message) ([]byte, error) {
	type element struct {
		tag   uint16
		value []byte
	}
	var elements []element

	for _, e := range stringElements {
		if v := *e.field(msg); v != "" {
			value := []byte(v)
			if len(value)%2 == 1 {
				value = append(value, e.pad)
			}
			elements = append(elements, element{e.tag, value})
		}
	}
	for _, e := range ushortElements {
		if e.present(msg) {
			elements = append(elements, element{e.tag, binary.LittleEndian.AppendUint16(nil, *e.field(msg))})
		}
	}
	for _, e := range counterElements {
		if v := *e.field(msg); v != nil {
			elements = append(elements, element{e.tag, binary.LittleEndian.AppendUint16(nil, *v)})
		}
	}

	// Tags ascend within the command set.
	for i := 1; i < len(elements); i++ {
		for j := i; j > 0 && elements[j].tag < elements[j-1].tag; j-- {
			elements[j], elements[j-1] = elements[j-1], elements[j]
		}
	}

	var body []byte
	for _, e := range elements {
		body = AppendImplicitElement(body, 0x0000, e.tag, e.value)
	}

	out := make([]byte, 0, 12+len(body))
	out = AppendImplicitElement(out, 0x0000, tagGroupLength, binary.LittleEndian.AppendUint32(nil, uint32(len(body))))
	return append(out, body...), nil
}

// AppendImplicitElement appends one Implicit VR Little Endian element.
func AppendImplicitElement(buf []byte, group, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, group)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

// DecodeCommand parses a command set. Unknown elements are skipped; a missing
// command field or an element overrunning the data is ErrInvalidMessage.
func DecodeCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{CommandDataSetType: types.NoDataSet}

	strs := make(map[uint16]stringElement, len(stringElements))
	for _, e := range stringElements {
		strs[e.tag] = e
	}
	shorts := make(map[uint16]ushortElement, len(ushortElements))
	for _, e := range ushortElements {
		shorts[e.tag] = e
	}
	counters := make(map[uint16]counterElement, len(counterElements))
	for _, e := range counterElements {
		counters[e.tag] = e
	}

	sawCommandField := false
	for offset := 0; offset+8 <= len(data); {
		group := binary.LittleEndian.Uint16(data[offset:])
		tag := binary.LittleEndian.Uint16(data[offset+2:])
		length := int(binary.LittleEndian.Uint32(data[offset+4:]))
		offset += 8
		if length < 0 || offset+length > len(data) {
			return nil, fmt.Errorf("%w: element (%04x,%04x) length %d exceeds command set", dicomerrors.ErrInvalidMessage, group, tag, length)
		}
		value := data[offset : offset+length]
		offset += length

		if group != 0x0000 {
			continue
		}
		if e, ok := strs[tag]; ok {
			*e.field(msg) = strings.TrimRight(string(value), "\x00 ")
			continue
		}
		if len(value) < 2 {
			continue
		}
		v := binary.LittleEndian.Uint16(value)
		if e, ok := shorts[tag]; ok {
			*e.field(msg) = v
			sawCommandField = sawCommandField || tag == tagCommandField
		} else if e, ok := counters[tag]; ok {
			*e.field(msg) = &v
		}
	}

	if !sawCommandField {
		return nil, fmt.Errorf("%w: command field (0000,0100) missing", dicomerrors.ErrInvalidMessage)
	}
	return msg, nil
}

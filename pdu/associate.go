package pdu

import (
	"encoding/binary"
	"fmt"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/types"
)

// Item types used in association PDUs.
const (
	ItemApplicationContext     = 0x10
	ItemPresentationContextRQ  = 0x20
	ItemPresentationContextAC  = 0x21
	ItemAbstractSyntax         = 0x30
	ItemTransferSyntax         = 0x40
	ItemUserInformation        = 0x50
	ItemMaxLength              = 0x51
	ItemImplementationClassUID = 0x52
	ItemImplementationVersion  = 0x55
)

// ProtocolVersion is the only upper layer protocol version defined by PS3.8.
const ProtocolVersion = 0x0001

// fixedAssociateLength is the size of the fixed part of an RQ or AC body.
const fixedAssociateLength = 68

// UserInformation carries the user information sub-items this package
// understands. Unknown sub-items are skipped on decode.
type UserInformation struct {
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string
}

// AssociateRQ is the body of an A-ASSOCIATE-RQ PDU.
type AssociateRQ struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []*types.PresentationContext
	UserInfo             UserInformation
}

// AssociateAC is the body of an A-ASSOCIATE-AC PDU. Decoded contexts carry a
// result and, when accepted, one transfer syntax. Their abstract syntax is
// empty because the AC does not repeat it.
type AssociateAC struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []*types.PresentationContext
	UserInfo             UserInformation

	// OmitRejected leaves rejected contexts out of the encoded AC. Some
	// peers refuse an AC that lists rejected contexts.
	OmitRejected bool
}

// Encode serializes the RQ body.
func (rq *AssociateRQ) Encode() []byte {
	body := encodeFixed(rq.ProtocolVersion, rq.CalledAETitle, rq.CallingAETitle)
	body = appendItem(body, ItemApplicationContext, []byte(applicationContextOrDefault(rq.ApplicationContext)))
	for _, pc := range rq.PresentationContexts {
		sub := appendItem(nil, ItemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			sub = appendItem(sub, ItemTransferSyntax, []byte(ts))
		}
		value := append([]byte{pc.ID, 0x00, 0x00, 0x00}, sub...)
		body = appendItem(body, ItemPresentationContextRQ, value)
	}
	return appendItem(body, ItemUserInformation, rq.UserInfo.encode())
}

// Encode serializes the AC body. Accepted contexts carry their transfer
// syntax; rejected contexts carry no sub-items.
func (ac *AssociateAC) Encode() []byte {
	body := encodeFixed(ac.ProtocolVersion, ac.CalledAETitle, ac.CallingAETitle)
	body = appendItem(body, ItemApplicationContext, []byte(applicationContextOrDefault(ac.ApplicationContext)))
	for _, pc := range ac.PresentationContexts {
		if ac.OmitRejected && !pc.Accepted() {
			continue
		}
		value := []byte{pc.ID, 0x00, byte(pc.Result), 0x00}
		if pc.Accepted() {
			value = appendItem(value, ItemTransferSyntax, []byte(pc.TransferSyntax()))
		}
		body = appendItem(body, ItemPresentationContextAC, value)
	}
	return appendItem(body, ItemUserInformation, ac.UserInfo.encode())
}

// DecodeAssociateRQ parses an A-ASSOCIATE-RQ body.
func DecodeAssociateRQ(data []byte) (*AssociateRQ, error) {
	version, called, calling, err := decodeFixed(types.TypeAssociateRQ, data)
	if err != nil {
		return nil, err
	}
	rq := &AssociateRQ{ProtocolVersion: version, CalledAETitle: called, CallingAETitle: calling}

	err = walkItems(types.TypeAssociateRQ, data[fixedAssociateLength:], func(itemType byte, value []byte) error {
		switch itemType {
		case ItemApplicationContext:
			rq.ApplicationContext = normalizeUID(value)
		case ItemPresentationContextRQ:
			pc, err := decodeProposedContext(value)
			if err != nil {
				return err
			}
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
		case ItemUserInformation:
			info, err := decodeUserInformation(value)
			if err != nil {
				return err
			}
			rq.UserInfo = info
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rq, nil
}

// DecodeAssociateAC parses an A-ASSOCIATE-AC body.
func DecodeAssociateAC(data []byte) (*AssociateAC, error) {
	version, called, calling, err := decodeFixed(types.TypeAssociateAC, data)
	if err != nil {
		return nil, err
	}
	ac := &AssociateAC{ProtocolVersion: version, CalledAETitle: called, CallingAETitle: calling}

	err = walkItems(types.TypeAssociateAC, data[fixedAssociateLength:], func(itemType byte, value []byte) error {
		switch itemType {
		case ItemApplicationContext:
			ac.ApplicationContext = normalizeUID(value)
		case ItemPresentationContextAC:
			pc, err := decodeNegotiatedContext(value)
			if err != nil {
				return err
			}
			ac.PresentationContexts = append(ac.PresentationContexts, pc)
		case ItemUserInformation:
			info, err := decodeUserInformation(value)
			if err != nil {
				return err
			}
			ac.UserInfo = info
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ac, nil
}

func applicationContextOrDefault(uid string) string {
	if uid == "" {
		return types.ApplicationContextUID
	}
	return uid
}

func encodeFixed(version uint16, called, calling string) []byte {
	if version == 0 {
		version = ProtocolVersion
	}
	fixed := make([]byte, fixedAssociateLength)
	binary.BigEndian.PutUint16(fixed[0:2], version)
	copy(fixed[4:20], PadAETitle(called))
	copy(fixed[20:36], PadAETitle(calling))
	return fixed
}

func decodeFixed(pduType byte, data []byte) (uint16, string, string, error) {
	if len(data) < fixedAssociateLength {
		return 0, "", "", dicomerrors.NewPDUError(pduType,
			fmt.Sprintf("body of %d bytes shorter than fixed part", len(data)))
	}
	version := binary.BigEndian.Uint16(data[0:2])
	return version, TrimAETitle(data[4:20]), TrimAETitle(data[20:36]), nil
}

// PadAETitle returns the 16-byte space padded form of an AE title, truncating
// longer titles.
func PadAETitle(ae string) []byte {
	if len(ae) > 16 {
		ae = ae[:16]
	}
	return []byte(fmt.Sprintf("%-16s", ae))
}

// TrimAETitle decodes a fixed-width AE title field.
func TrimAETitle(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func appendItem(dst []byte, itemType byte, value []byte) []byte {
	header := []byte{itemType, 0x00, 0x00, 0x00}
	binary.BigEndian.PutUint16(header[2:4], uint16(len(value)))
	dst = append(dst, header...)
	return append(dst, value...)
}

// walkItems visits each item of a variable field, failing on truncation.
func walkItems(pduType byte, data []byte, visit func(itemType byte, value []byte) error) error {
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return dicomerrors.NewPDUError(pduType, "truncated item header")
		}
		itemType := data[offset]
		itemLength := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		valueStart := offset + 4
		valueEnd := valueStart + itemLength
		if valueEnd > len(data) {
			return dicomerrors.NewPDUError(pduType,
				fmt.Sprintf("item 0x%02x length %d exceeds remaining %d bytes", itemType, itemLength, len(data)-valueStart))
		}
		if err := visit(itemType, data[valueStart:valueEnd]); err != nil {
			return err
		}
		offset = valueEnd
	}
	return nil
}

func decodeProposedContext(data []byte) (*types.PresentationContext, error) {
	if len(data) < 4 {
		return nil, dicomerrors.NewPDUError(types.TypeAssociateRQ, "presentation context item too short")
	}
	pc := &types.PresentationContext{ID: data[0]}
	err := walkItems(types.TypeAssociateRQ, data[4:], func(itemType byte, value []byte) error {
		switch itemType {
		case ItemAbstractSyntax:
			pc.AbstractSyntax = normalizeUID(value)
		case ItemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, normalizeUID(value))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pc.AbstractSyntax == "" {
		return nil, dicomerrors.NewPDUError(types.TypeAssociateRQ,
			fmt.Sprintf("presentation context %d missing abstract syntax", pc.ID))
	}
	return pc, nil
}

func decodeNegotiatedContext(data []byte) (*types.PresentationContext, error) {
	if len(data) < 4 {
		return nil, dicomerrors.NewPDUError(types.TypeAssociateAC, "presentation context item too short")
	}
	pc := &types.PresentationContext{ID: data[0]}
	var transferSyntax string
	err := walkItems(types.TypeAssociateAC, data[4:], func(itemType byte, value []byte) error {
		if itemType == ItemTransferSyntax {
			transferSyntax = normalizeUID(value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := types.PresentationResult(data[2])
	if result == types.Acceptance && transferSyntax != "" {
		pc.Accept(transferSyntax)
	} else {
		pc.Reject(result)
	}
	return pc, nil
}

func (u UserInformation) encode() []byte {
	maxLength := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLength, u.MaxPDULength)
	value := appendItem(nil, ItemMaxLength, maxLength)
	if u.ImplementationClassUID != "" {
		value = appendItem(value, ItemImplementationClassUID, []byte(u.ImplementationClassUID))
	}
	if u.ImplementationVersionName != "" {
		value = appendItem(value, ItemImplementationVersion, []byte(u.ImplementationVersionName))
	}
	return value
}

func decodeUserInformation(data []byte) (UserInformation, error) {
	var info UserInformation
	err := walkItems(types.TypeAssociateRQ, data, func(itemType byte, value []byte) error {
		switch itemType {
		case ItemMaxLength:
			if len(value) != 4 {
				return dicomerrors.NewPDUError(types.TypeAssociateRQ, "maximum length sub-item must be 4 bytes")
			}
			info.MaxPDULength = binary.BigEndian.Uint32(value)
		case ItemImplementationClassUID:
			info.ImplementationClassUID = normalizeUID(value)
		case ItemImplementationVersion:
			info.ImplementationVersionName = strings.TrimSpace(string(value))
		}
		return nil
	})
	return info, err
}

// Package dicom reads and writes the DICOM Part 10 file wrapper: the 128 byte
// preamble, the "DICM" prefix and the File Meta Information group (0002).
// Dataset contents are treated as opaque bytes.
package dicom

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
)

const (
	preambleLength = 128
	prefixLength   = 4
	headerLength   = preambleLength + prefixLength
	magic          = "DICM"
)

// File Meta Information element tags (group 0002).
const (
	tagGroupLength                = 0x0000
	tagFileMetaVersion            = 0x0001
	tagMediaStorageSOPClassUID    = 0x0002
	tagMediaStorageSOPInstanceUID = 0x0003
	tagTransferSyntaxUID          = 0x0010
	tagImplementationClassUID     = 0x0012
	tagImplementationVersionName  = 0x0013
	tagSourceApplicationEntity    = 0x0016
)

// FileMeta holds the File Meta Information elements this package understands.
type FileMeta struct {
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	ImplementationClassUID     string
	ImplementationVersionName  string
	SourceApplicationEntity    string
}

// File is a parsed Part 10 file.
type File struct {
	Meta    *FileMeta
	DataSet []byte
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < headerLength {
		return false
	}
	return string(data[preambleLength:headerLength]) == magic
}

// ReadFileMeta parses the preamble and File Meta Information of a Part 10
// file. It returns the meta and the offset at which the dataset starts.
func ReadFileMeta(data []byte) (*FileMeta, int, error) {
	if len(data) < headerLength {
		return nil, 0, fmt.Errorf("data too short to be DICOM Part 10 (need at least %d bytes, got %d)", headerLength, len(data))
	}
	if !HasPart10Header(data) {
		return nil, 0, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset %d)", preambleLength)
	}

	meta := &FileMeta{}
	offset := headerLength
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset:])
		element := binary.LittleEndian.Uint16(data[offset+2:])
		if group != 0x0002 {
			break
		}

		vr := string(data[offset+4 : offset+6])
		var length int
		if longLengthVR(vr) {
			if offset+12 > len(data) {
				return nil, 0, fmt.Errorf("truncated file meta element (0002,%04X)", element)
			}
			length = int(binary.LittleEndian.Uint32(data[offset+8:]))
			offset += 12
		} else {
			length = int(binary.LittleEndian.Uint16(data[offset+6:]))
			offset += 8
		}
		if length < 0 || offset+length > len(data) {
			return nil, 0, fmt.Errorf("file meta element (0002,%04X) length %d overruns data", element, length)
		}

		value := strings.TrimRight(string(data[offset:offset+length]), "\x00 ")
		switch element {
		case tagMediaStorageSOPClassUID:
			meta.MediaStorageSOPClassUID = value
		case tagMediaStorageSOPInstanceUID:
			meta.MediaStorageSOPInstanceUID = value
		case tagTransferSyntaxUID:
			meta.TransferSyntaxUID = value
		case tagImplementationClassUID:
			meta.ImplementationClassUID = value
		case tagImplementationVersionName:
			meta.ImplementationVersionName = value
		case tagSourceApplicationEntity:
			meta.SourceApplicationEntity = value
		}
		offset += length
	}

	if offset >= len(data) {
		return nil, 0, fmt.Errorf("failed to find dataset after File Meta Information")
	}
	return meta, offset, nil
}

// StripPart10Header removes the preamble and File Meta Information and
// returns the dataset, which is what C-STORE carries.
func StripPart10Header(data []byte) ([]byte, error) {
	_, offset, err := ReadFileMeta(data)
	if err != nil {
		return nil, err
	}
	return data[offset:], nil
}

// ReadFile reads and parses a Part 10 file from disk.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, offset, err := ReadFileMeta(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{Meta: meta, DataSet: data[offset:]}, nil
}

// EncodeFileMeta returns the preamble, prefix and File Meta Information group
// in Explicit VR Little Endian. Empty optional elements are omitted.
func EncodeFileMeta(meta *FileMeta) []byte {
	var group []byte
	group = appendExplicitElement(group, tagFileMetaVersion, "OB", []byte{0x00, 0x01})
	group = appendExplicitElement(group, tagMediaStorageSOPClassUID, "UI", padUID(meta.MediaStorageSOPClassUID))
	group = appendExplicitElement(group, tagMediaStorageSOPInstanceUID, "UI", padUID(meta.MediaStorageSOPInstanceUID))
	group = appendExplicitElement(group, tagTransferSyntaxUID, "UI", padUID(meta.TransferSyntaxUID))
	group = appendExplicitElement(group, tagImplementationClassUID, "UI", padUID(meta.ImplementationClassUID))
	if meta.ImplementationVersionName != "" {
		group = appendExplicitElement(group, tagImplementationVersionName, "SH", padText(meta.ImplementationVersionName))
	}
	if meta.SourceApplicationEntity != "" {
		group = appendExplicitElement(group, tagSourceApplicationEntity, "AE", padText(meta.SourceApplicationEntity))
	}

	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(len(group)))

	out := make([]byte, preambleLength, headerLength+12+len(group))
	out = append(out, magic...)
	out = appendExplicitElement(out, tagGroupLength, "UL", length)
	return append(out, group...)
}

// EncodeFile returns a complete Part 10 file for dataset.
func EncodeFile(meta *FileMeta, dataset []byte) []byte {
	header := EncodeFileMeta(meta)
	out := make([]byte, 0, len(header)+len(dataset))
	out = append(out, header...)
	return append(out, dataset...)
}

func longLengthVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "UC", "UN", "UR", "UT", "SV", "UV":
		return true
	}
	return false
}

func appendExplicitElement(buf []byte, element uint16, vr string, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, 0x0002)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = append(buf, vr...)
	if longLengthVR(vr) {
		buf = append(buf, 0x00, 0x00)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	} else {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(value)))
	}
	return append(buf, value...)
}

// padUID pads a UID to even length with NUL.
func padUID(uid string) []byte {
	b := []byte(uid)
	if len(b)%2 != 0 {
		b = append(b, 0x00)
	}
	return b
}

// padText pads a text value to even length with a space.
func padText(s string) []byte {
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, ' ')
	}
	return b
}

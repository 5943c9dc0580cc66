package types

// Transfer syntax UIDs (PS3.5 section 8, PS3.6 annex A.4).

// Uncompressed transfer syntaxes.
const (
	// ImplicitVRLittleEndian is the DICOM default transfer syntax. Every node must accept it.
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	// ExplicitVRLittleEndian is preferred when both peers offer it.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	// ExplicitVRBigEndian is retired but still seen on old modalities.
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// JPEG lossy.
const (
	JPEGBaseline8Bit                       = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit                      = "1.2.840.10008.1.2.4.51"
	JPEGSpectralSelectionNonHierarchical68 = "1.2.840.10008.1.2.4.52"
	JPEGSpectralSelectionNonHierarchical79 = "1.2.840.10008.1.2.4.53"
	JPEGFullProgressionNonHierarchical1012 = "1.2.840.10008.1.2.4.54"
	JPEGFullProgressionNonHierarchical1113 = "1.2.840.10008.1.2.4.55"
)

// JPEG lossless.
const (
	JPEGLossless                    = "1.2.840.10008.1.2.4.57"
	JPEGLosslessNonHierarchical1517 = "1.2.840.10008.1.2.4.58"
	JPEGLosslessNonHierarchical1618 = "1.2.840.10008.1.2.4.59"
	// JPEGLosslessSV1 is the lossless JPEG variant most modalities emit.
	JPEGLosslessSV1 = "1.2.840.10008.1.2.4.70"
)

// JPEG 2000, JPEG-LS, RLE and JPIP.
const (
	JPEG2000Lossless                    = "1.2.840.10008.1.2.4.90"
	JPEG2000                            = "1.2.840.10008.1.2.4.91"
	JPEG2000Part2MultiComponentLossless = "1.2.840.10008.1.2.4.92"
	JPEG2000Part2MultiComponent         = "1.2.840.10008.1.2.4.93"
	JPIPReferenced                      = "1.2.840.10008.1.2.4.94"
	JPIPReferencedDeflate               = "1.2.840.10008.1.2.4.95"
	JPEGLSLossless                      = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless                  = "1.2.840.10008.1.2.4.81"
	RLELossless                         = "1.2.840.10008.1.2.5"
)

// Video and high-throughput JPEG 2000.
const (
	MPEG2MainProfile                     = "1.2.840.10008.1.2.4.100"
	MPEG2MainProfileHighLevel            = "1.2.840.10008.1.2.4.101"
	MPEG4AVCH264HighProfile              = "1.2.840.10008.1.2.4.102"
	MPEG4AVCH264BDCompatibleHighProfile  = "1.2.840.10008.1.2.4.103"
	MPEG4AVCH264HighProfileLevel42       = "1.2.840.10008.1.2.4.104"
	MPEG4AVCH264HighProfileLevel42Stereo = "1.2.840.10008.1.2.4.105"
	MPEG4AVCH264StereoHighProfile        = "1.2.840.10008.1.2.4.106"
	HEVCH265MainProfileLevel51           = "1.2.840.10008.1.2.4.107"
	HEVCH265Main10ProfileLevel51         = "1.2.840.10008.1.2.4.108"
	HTJ2KLossless                        = "1.2.840.10008.1.2.4.201"
	HTJ2KLosslessRPCL                    = "1.2.840.10008.1.2.4.202"
	HTJ2K                                = "1.2.840.10008.1.2.4.203"
)

// TransferSyntaxInfo describes a catalog entry. Entries are immutable.
type TransferSyntaxInfo struct {
	UID                  string
	Name                 string
	IsCompressed         bool
	IsLossless           bool
	IsRetired            bool
	SupportsEncapsulated bool
}

// transfer syntax flags used to build the catalog
const (
	tsCompressed = 1 << iota
	tsLossless
	tsRetired
	tsEncapsulated
)

// transferSyntaxCatalog lists every known transfer syntax in catalog order.
var transferSyntaxCatalog = []TransferSyntaxInfo{
	newTS(ImplicitVRLittleEndian, "Implicit VR Little Endian", tsLossless),
	newTS(ExplicitVRLittleEndian, "Explicit VR Little Endian", tsLossless),
	newTS(ExplicitVRBigEndian, "Explicit VR Big Endian", tsLossless|tsRetired),
	newTS(DeflatedExplicitVRLittleEndian, "Deflated Explicit VR Little Endian", tsCompressed|tsLossless),
	newTS(JPEGBaseline8Bit, "JPEG Baseline (Process 1)", tsCompressed|tsEncapsulated),
	newTS(JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", tsCompressed|tsEncapsulated),
	newTS(JPEGSpectralSelectionNonHierarchical68, "JPEG Extended (Process 3 & 5)", tsCompressed|tsEncapsulated|tsRetired),
	newTS(JPEGSpectralSelectionNonHierarchical79, "JPEG Spectral Selection (Process 6 & 8)", tsCompressed|tsEncapsulated|tsRetired),
	newTS(JPEGFullProgressionNonHierarchical1012, "JPEG Full Progression (Process 10 & 12)", tsCompressed|tsEncapsulated|tsRetired),
	newTS(JPEGFullProgressionNonHierarchical1113, "JPEG Full Progression (Process 11 & 13)", tsCompressed|tsEncapsulated|tsRetired),
	newTS(JPEGLossless, "JPEG Lossless (Process 14)", tsCompressed|tsLossless|tsEncapsulated),
	newTS(JPEGLosslessNonHierarchical1517, "JPEG Lossless (Process 15)", tsCompressed|tsLossless|tsEncapsulated|tsRetired),
	newTS(JPEGLosslessNonHierarchical1618, "JPEG Lossless (Process 16)", tsCompressed|tsLossless|tsEncapsulated|tsRetired),
	newTS(JPEGLosslessSV1, "JPEG Lossless, Non-Hierarchical, First-Order Prediction", tsCompressed|tsLossless|tsEncapsulated),
	newTS(JPEGLSLossless, "JPEG-LS Lossless", tsCompressed|tsLossless|tsEncapsulated),
	newTS(JPEGLSNearLossless, "JPEG-LS Near-Lossless", tsCompressed|tsEncapsulated),
	newTS(JPEG2000Lossless, "JPEG 2000 Lossless Only", tsCompressed|tsLossless|tsEncapsulated),
	newTS(JPEG2000, "JPEG 2000", tsCompressed|tsEncapsulated),
	newTS(JPEG2000Part2MultiComponentLossless, "JPEG 2000 Part 2 Multi-component Lossless Only", tsCompressed|tsLossless|tsEncapsulated),
	newTS(JPEG2000Part2MultiComponent, "JPEG 2000 Part 2 Multi-component", tsCompressed|tsEncapsulated),
	newTS(JPIPReferenced, "JPIP Referenced", 0),
	newTS(JPIPReferencedDeflate, "JPIP Referenced Deflate", tsCompressed),
	newTS(RLELossless, "RLE Lossless", tsCompressed|tsLossless|tsEncapsulated),
	newTS(MPEG2MainProfile, "MPEG2 Main Profile @ Main Level", tsCompressed|tsEncapsulated),
	newTS(MPEG2MainProfileHighLevel, "MPEG2 Main Profile @ High Level", tsCompressed|tsEncapsulated),
	newTS(MPEG4AVCH264HighProfile, "MPEG-4 AVC/H.264 High Profile", tsCompressed|tsEncapsulated),
	newTS(MPEG4AVCH264BDCompatibleHighProfile, "MPEG-4 AVC/H.264 BD-compatible High Profile", tsCompressed|tsEncapsulated),
	newTS(MPEG4AVCH264HighProfileLevel42, "MPEG-4 AVC/H.264 High Profile / Level 4.2 For 2D Video", tsCompressed|tsEncapsulated),
	newTS(MPEG4AVCH264HighProfileLevel42Stereo, "MPEG-4 AVC/H.264 High Profile / Level 4.2 For 3D Video", tsCompressed|tsEncapsulated),
	newTS(MPEG4AVCH264StereoHighProfile, "MPEG-4 AVC/H.264 Stereo High Profile", tsCompressed|tsEncapsulated),
	newTS(HEVCH265MainProfileLevel51, "HEVC/H.265 Main Profile", tsCompressed|tsEncapsulated),
	newTS(HEVCH265Main10ProfileLevel51, "HEVC/H.265 Main 10 Profile", tsCompressed|tsEncapsulated),
	newTS(HTJ2KLossless, "High-Throughput JPEG 2000 Lossless", tsCompressed|tsLossless|tsEncapsulated),
	newTS(HTJ2KLosslessRPCL, "High-Throughput JPEG 2000 with RPCL Options Lossless", tsCompressed|tsLossless|tsEncapsulated),
	newTS(HTJ2K, "High-Throughput JPEG 2000", tsCompressed|tsEncapsulated),
}

var transferSyntaxIndex = func() map[string]*TransferSyntaxInfo {
	index := make(map[string]*TransferSyntaxInfo, len(transferSyntaxCatalog))
	for i := range transferSyntaxCatalog {
		index[transferSyntaxCatalog[i].UID] = &transferSyntaxCatalog[i]
	}
	return index
}()

func newTS(uid, name string, flags int) TransferSyntaxInfo {
	return TransferSyntaxInfo{
		UID:                  uid,
		Name:                 name,
		IsCompressed:         flags&tsCompressed != 0,
		IsLossless:           flags&tsLossless != 0,
		IsRetired:            flags&tsRetired != 0,
		SupportsEncapsulated: flags&tsEncapsulated != 0,
	}
}

// GetTransferSyntaxInfo returns catalog information for uid. Unknown UIDs yield a
// placeholder entry named "Unknown".
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	if info, ok := transferSyntaxIndex[uid]; ok {
		copied := *info
		return &copied
	}
	return &TransferSyntaxInfo{UID: uid, Name: "Unknown", IsLossless: true}
}

// IsKnownTransferSyntax reports whether uid is in the catalog.
func IsKnownTransferSyntax(uid string) bool {
	_, ok := transferSyntaxIndex[uid]
	return ok
}

// KnownTransferSyntaxes returns every catalogued UID in catalog order.
func KnownTransferSyntaxes() []string {
	out := make([]string, 0, len(transferSyntaxCatalog))
	for _, info := range transferSyntaxCatalog {
		out = append(out, info.UID)
	}
	return out
}

// UncompressedTransferSyntaxes returns the native (non-encapsulated) syntaxes a
// store without a codec can always accept.
func UncompressedTransferSyntaxes() []string {
	return []string{ExplicitVRLittleEndian, ImplicitVRLittleEndian, ExplicitVRBigEndian}
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsCompressed
}

// IsLossless returns true if the transfer syntax is lossless.
// Uncompressed transfer syntaxes are considered lossless.
func IsLossless(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsLossless
}

// IsRetired returns true if the transfer syntax is retired
func IsRetired(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsRetired
}

// IsImplicitVR reports whether datasets in uid omit the VR field.
func IsImplicitVR(uid string) bool {
	return uid == ImplicitVRLittleEndian
}

// GetCommonTransferSyntaxes returns commonly supported transfer syntaxes in
// proposal order: uncompressed first, then lossless, then lossy.
func GetCommonTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
		JPEG2000Lossless,
		JPEGLosslessSV1,
		RLELossless,
		JPEG2000,
		JPEGBaseline8Bit,
	}
}

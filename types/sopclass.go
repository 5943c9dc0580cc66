package types

import "strings"

// DICOM Application Context UID
// The Application Context defines the DICOM application-level message exchange rules.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// DICOM SOP Class UIDs as defined in DICOM Part 4, Annex B
// https://dicom.nema.org/medical/dicom/current/output/chtml/part04/sect_B.5.html

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Storage Service - Image Storage SOP Classes
const (
	// Computed Radiography
	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"

	// Digital Radiography
	DigitalXRayImageStorageForPresentation            = "1.2.840.10008.5.1.4.1.1.1.1"
	DigitalXRayImageStorageForProcessing              = "1.2.840.10008.5.1.4.1.1.1.1.1"
	DigitalMammographyXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.1.2"
	DigitalMammographyXRayImageStorageForProcessing   = "1.2.840.10008.5.1.4.1.1.1.2.1"
	DigitalIntraOralXRayImageStorageForPresentation   = "1.2.840.10008.5.1.4.1.1.1.3"
	DigitalIntraOralXRayImageStorageForProcessing     = "1.2.840.10008.5.1.4.1.1.1.3.1"

	// Computed Tomography
	CTImageStorage                        = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                = "1.2.840.10008.5.1.4.1.1.2.1"
	LegacyConvertedEnhancedCTImageStorage = "1.2.840.10008.5.1.4.1.1.2.2"

	// Ultrasound
	UltrasoundMultiFrameImageStorage = "1.2.840.10008.5.1.4.1.1.3.1"
	UltrasoundImageStorage           = "1.2.840.10008.5.1.4.1.1.6.1"
	EnhancedUSVolumeStorage          = "1.2.840.10008.5.1.4.1.1.6.2"

	// Magnetic Resonance
	MRImageStorage                        = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                = "1.2.840.10008.5.1.4.1.1.4.1"
	MRSpectroscopyStorage                 = "1.2.840.10008.5.1.4.1.1.4.2"
	EnhancedMRColorImageStorage           = "1.2.840.10008.5.1.4.1.1.4.3"
	LegacyConvertedEnhancedMRImageStorage = "1.2.840.10008.5.1.4.1.1.4.4"

	// Nuclear Medicine
	NuclearMedicineImageStorage = "1.2.840.10008.5.1.4.1.1.20"

	// Secondary Capture and Multi-frame
	SecondaryCaptureImageStorage                        = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.1"
	MultiFrameGrayscaleWordSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.2"
	MultiFrameTrueColorSecondaryCaptureImageStorage     = "1.2.840.10008.5.1.4.1.1.7.3"
	MultiFrameSingleBitSecondaryCaptureImageStorage     = "1.2.840.10008.5.1.4.1.1.7.4"

	// X-Ray Angiographic
	XRayAngiographicImageStorage      = "1.2.840.10008.5.1.4.1.1.12.1"
	EnhancedXAImageStorage            = "1.2.840.10008.5.1.4.1.1.12.1.1"
	XRayRadiofluoroscopicImageStorage = "1.2.840.10008.5.1.4.1.1.12.2"
	EnhancedXRFImageStorage           = "1.2.840.10008.5.1.4.1.1.12.2.1"

	// X-Ray 3D
	XRay3DAngiographicImageStorage                  = "1.2.840.10008.5.1.4.1.1.13.1.1"
	XRay3DCraniofacialImageStorage                  = "1.2.840.10008.5.1.4.1.1.13.1.2"
	BreastTomosynthesisImageStorage                 = "1.2.840.10008.5.1.4.1.1.13.1.3"
	BreastProjectionXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.13.1.4"
	BreastProjectionXRayImageStorageForProcessing   = "1.2.840.10008.5.1.4.1.1.13.1.5"

	// Intravascular Optical Coherence Tomography
	IntravascularOpticalCoherenceTomographyImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.14.1"
	IntravascularOpticalCoherenceTomographyImageStorageForProcessing   = "1.2.840.10008.5.1.4.1.1.14.2"

	// Positron Emission Tomography
	PETImageStorage                        = "1.2.840.10008.5.1.4.1.1.128"
	EnhancedPETImageStorage                = "1.2.840.10008.5.1.4.1.1.130"
	LegacyConvertedEnhancedPETImageStorage = "1.2.840.10008.5.1.4.1.1.128.1"

	// RT (Radiation Therapy)
	RTImageStorage                   = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                    = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage            = "1.2.840.10008.5.1.4.1.1.481.3"
	RTBeamsTreatmentRecordStorage    = "1.2.840.10008.5.1.4.1.1.481.4"
	RTPlanStorage                    = "1.2.840.10008.5.1.4.1.1.481.5"
	RTBrachyTreatmentRecordStorage   = "1.2.840.10008.5.1.4.1.1.481.6"
	RTTreatmentSummaryRecordStorage  = "1.2.840.10008.5.1.4.1.1.481.7"
	RTIonPlanStorage                 = "1.2.840.10008.5.1.4.1.1.481.8"
	RTIonBeamsTreatmentRecordStorage = "1.2.840.10008.5.1.4.1.1.481.9"

	// Visible Light
	VLEndoscopicImageStorage                  = "1.2.840.10008.5.1.4.1.1.77.1.1"
	VLMicroscopicImageStorage                 = "1.2.840.10008.5.1.4.1.1.77.1.2"
	VLSlideCoordinatesMicroscopicImageStorage = "1.2.840.10008.5.1.4.1.1.77.1.3"
	VLPhotographicImageStorage                = "1.2.840.10008.5.1.4.1.1.77.1.4"
	VLWholeSlideMicroscopyImageStorage        = "1.2.840.10008.5.1.4.1.1.77.1.6"

	// Ophthalmic
	OphthalmicPhotography8BitImageStorage                             = "1.2.840.10008.5.1.4.1.1.77.1.5.1"
	OphthalmicPhotography16BitImageStorage                            = "1.2.840.10008.5.1.4.1.1.77.1.5.2"
	OphthalmicTomographyImageStorage                                  = "1.2.840.10008.5.1.4.1.1.77.1.5.4"
	WideFieldOphthalmicPhotographyStereographicProjectionImageStorage = "1.2.840.10008.5.1.4.1.1.77.1.5.6"
	WideFieldOphthalmicPhotography3DCoordinatesImageStorage           = "1.2.840.10008.5.1.4.1.1.77.1.5.7"
	OphthalmicOpticalCoherenceTomographyEnFaceImageStorage            = "1.2.840.10008.5.1.4.1.1.77.1.5.8"
	OphthalmicOpticalCoherenceTomographyBscanVolumeAnalysisStorage    = "1.2.840.10008.5.1.4.1.1.77.1.5.9"

	// Encapsulated Documents
	EncapsulatedPDFStorage = "1.2.840.10008.5.1.4.1.1.104.1"
	EncapsulatedCDAStorage = "1.2.840.10008.5.1.4.1.1.104.2"
	EncapsulatedSTLStorage = "1.2.840.10008.5.1.4.1.1.104.3"
	EncapsulatedOBJStorage = "1.2.840.10008.5.1.4.1.1.104.4"
	EncapsulatedMTLStorage = "1.2.840.10008.5.1.4.1.1.104.5"

	// Structured Reporting
	BasicTextSRStorage             = "1.2.840.10008.5.1.4.1.1.88.11"
	EnhancedSRStorage              = "1.2.840.10008.5.1.4.1.1.88.22"
	ComprehensiveSRStorage         = "1.2.840.10008.5.1.4.1.1.88.33"
	Comprehensive3DSRStorage       = "1.2.840.10008.5.1.4.1.1.88.34"
	KeyObjectSelectionDocument     = "1.2.840.10008.5.1.4.1.1.88.59"
	XRayRadiationDoseSRStorage     = "1.2.840.10008.5.1.4.1.1.88.67"
	RadiopharmaceuticalDoseSR      = "1.2.840.10008.5.1.4.1.1.88.68"
	EnhancedXRayRadiationDoseSR    = "1.2.840.10008.5.1.4.1.1.88.76"
	GrayscaleSoftcopyPresentation  = "1.2.840.10008.5.1.4.1.1.11.1"
	RawDataStorage                 = "1.2.840.10008.5.1.4.1.1.66"
	SpatialRegistrationStorage     = "1.2.840.10008.5.1.4.1.1.66.1"
	SegmentationStorage            = "1.2.840.10008.5.1.4.1.1.66.4"
)

// storageArc is the UID root under which PS3.4 annex B registers storage SOP classes.
const storageArc = "1.2.840.10008.5.1.4.1.1."

// Query/Retrieve Service SOP Classes
const (
	// Study Root Query/Retrieve
	StudyRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.2.3"

	// Patient Root Query/Retrieve
	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.1.3"

	// Patient/Study Only Query/Retrieve
	PatientStudyOnlyQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.3.1"
	PatientStudyOnlyQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.3.2"
	PatientStudyOnlyQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.3.3"

	// Composite Instance Root Retrieve
	CompositeInstanceRootRetrieveMove = "1.2.840.10008.5.1.4.1.2.4.2"
	CompositeInstanceRootRetrieveGet  = "1.2.840.10008.5.1.4.1.2.4.3"

	// Composite Instance Retrieve Without Bulk Data
	CompositeInstanceRetrieveWithoutBulkDataGet = "1.2.840.10008.5.1.4.1.2.5.3"

	// Defined Procedure Protocol Query/Retrieve
	DefinedProcedureProtocolInformationModelFind = "1.2.840.10008.5.1.4.20.1"
	DefinedProcedureProtocolInformationModelMove = "1.2.840.10008.5.1.4.20.2"
	DefinedProcedureProtocolInformationModelGet  = "1.2.840.10008.5.1.4.20.3"
)

// Worklist Management Service SOP Classes
const (
	ModalityWorklistInformationModelFind         = "1.2.840.10008.5.1.4.31"
	GeneralPurposeWorklistInformationModelFind   = "1.2.840.10008.5.1.4.32.1"
	GeneralPurposeScheduledProcedureStepSOPClass = "1.2.840.10008.5.1.4.32.2"
	GeneralPurposePerformedProcedureStepSOPClass = "1.2.840.10008.5.1.4.32.3"
)

// Modality Performed Procedure Step
const (
	ModalityPerformedProcedureStepSOPClass             = "1.2.840.10008.3.1.2.3.3"
	ModalityPerformedProcedureStepRetrieveSOPClass     = "1.2.840.10008.3.1.2.3.4"
	ModalityPerformedProcedureStepNotificationSOPClass = "1.2.840.10008.3.1.2.3.5"
)

// Storage Commitment
const (
	StorageCommitmentPushModelSOPClass = "1.2.840.10008.1.20.1"
	StorageCommitmentPullModelSOPClass = "1.2.840.10008.1.20.2"
)

// Unified Procedure Step
const (
	UnifiedProcedureStepPushSOPClass  = "1.2.840.10008.5.1.4.34.6.1"
	UnifiedProcedureStepWatchSOPClass = "1.2.840.10008.5.1.4.34.6.2"
	UnifiedProcedureStepPullSOPClass  = "1.2.840.10008.5.1.4.34.6.3"
	UnifiedProcedureStepEventSOPClass = "1.2.840.10008.5.1.4.34.6.4"
	UnifiedProcedureStepQuerySOPClass = "1.2.840.10008.5.1.4.34.6.5"
)

// Hanging Protocol
const (
	HangingProtocolStorage              = "1.2.840.10008.5.1.4.38.1"
	HangingProtocolInformationModelFind = "1.2.840.10008.5.1.4.38.2"
	HangingProtocolInformationModelMove = "1.2.840.10008.5.1.4.38.3"
	HangingProtocolInformationModelGet  = "1.2.840.10008.5.1.4.38.4"
)

// Color Palette
const (
	ColorPaletteStorage              = "1.2.840.10008.5.1.4.39.1"
	ColorPaletteInformationModelFind = "1.2.840.10008.5.1.4.39.2"
	ColorPaletteInformationModelMove = "1.2.840.10008.5.1.4.39.3"
	ColorPaletteInformationModelGet  = "1.2.840.10008.5.1.4.39.4"
)

// Implant Template
const (
	GenericImplantTemplateStorage               = "1.2.840.10008.5.1.4.43.1"
	GenericImplantTemplateInformationModelFind  = "1.2.840.10008.5.1.4.43.2"
	GenericImplantTemplateInformationModelMove  = "1.2.840.10008.5.1.4.43.3"
	GenericImplantTemplateInformationModelGet   = "1.2.840.10008.5.1.4.43.4"
	ImplantAssemblyTemplateStorage              = "1.2.840.10008.5.1.4.44.1"
	ImplantAssemblyTemplateInformationModelFind = "1.2.840.10008.5.1.4.44.2"
	ImplantAssemblyTemplateInformationModelMove = "1.2.840.10008.5.1.4.44.3"
	ImplantAssemblyTemplateInformationModelGet  = "1.2.840.10008.5.1.4.44.4"
	ImplantTemplateGroupStorage                 = "1.2.840.10008.5.1.4.45.1"
	ImplantTemplateGroupInformationModelFind    = "1.2.840.10008.5.1.4.45.2"
	ImplantTemplateGroupInformationModelMove    = "1.2.840.10008.5.1.4.45.3"
	ImplantTemplateGroupInformationModelGet     = "1.2.840.10008.5.1.4.45.4"
)

// SOPCategory groups SOP classes by the service class that handles them.
type SOPCategory string

const (
	CategoryUnknown           SOPCategory = "Unknown"
	CategoryVerification      SOPCategory = "Verification"
	CategoryStorage           SOPCategory = "Storage"
	CategoryQueryRetrieve     SOPCategory = "Query/Retrieve"
	CategoryWorklist          SOPCategory = "Worklist"
	CategoryMPPS              SOPCategory = "MPPS"
	CategoryStorageCommitment SOPCategory = "Storage Commitment"
)

// SOPClassInfo provides human-readable information about a SOP Class UID
type SOPClassInfo struct {
	UID      string
	Name     string
	Category SOPCategory
}

// GetSOPClassInfo returns information about a SOP Class UID. UIDs under the
// storage arc that have no catalog entry are still reported as storage.
func GetSOPClassInfo(uid string) *SOPClassInfo {
	if info, ok := sopClassRegistry[uid]; ok {
		return &SOPClassInfo{UID: uid, Name: info.name, Category: info.category}
	}
	if strings.HasPrefix(uid, storageArc) {
		return &SOPClassInfo{UID: uid, Name: "Unknown Storage", Category: CategoryStorage}
	}
	return &SOPClassInfo{UID: uid, Name: "Unknown", Category: CategoryUnknown}
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryStorage
}

// IsQueryRetrieveSOPClass returns true if the UID is a query/retrieve SOP class
func IsQueryRetrieveSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == CategoryQueryRetrieve
}

type sopClassEntry struct {
	name     string
	category SOPCategory
}

var sopClassRegistry = map[string]sopClassEntry{
	VerificationSOPClass: {"Verification SOP Class", CategoryVerification},

	ComputedRadiographyImageStorage:        {"Computed Radiography Image Storage", CategoryStorage},
	DigitalXRayImageStorageForPresentation: {"Digital X-Ray Image Storage - For Presentation", CategoryStorage},
	CTImageStorage:                         {"CT Image Storage", CategoryStorage},
	EnhancedCTImageStorage:                 {"Enhanced CT Image Storage", CategoryStorage},
	MRImageStorage:                         {"MR Image Storage", CategoryStorage},
	EnhancedMRImageStorage:                 {"Enhanced MR Image Storage", CategoryStorage},
	UltrasoundImageStorage:                 {"Ultrasound Image Storage", CategoryStorage},
	UltrasoundMultiFrameImageStorage:       {"Ultrasound Multi-frame Image Storage", CategoryStorage},
	SecondaryCaptureImageStorage:           {"Secondary Capture Image Storage", CategoryStorage},
	NuclearMedicineImageStorage:            {"Nuclear Medicine Image Storage", CategoryStorage},
	PETImageStorage:                        {"PET Image Storage", CategoryStorage},
	EnhancedPETImageStorage:                {"Enhanced PET Image Storage", CategoryStorage},
	XRayAngiographicImageStorage:           {"X-Ray Angiographic Image Storage", CategoryStorage},
	RTImageStorage:                         {"RT Image Storage", CategoryStorage},
	RTDoseStorage:                          {"RT Dose Storage", CategoryStorage},
	RTStructureSetStorage:                  {"RT Structure Set Storage", CategoryStorage},
	RTPlanStorage:                          {"RT Plan Storage", CategoryStorage},
	EncapsulatedPDFStorage:                 {"Encapsulated PDF Storage", CategoryStorage},
	EncapsulatedCDAStorage:                 {"Encapsulated CDA Storage", CategoryStorage},
	BasicTextSRStorage:                     {"Basic Text SR Storage", CategoryStorage},
	EnhancedSRStorage:                      {"Enhanced SR Storage", CategoryStorage},
	ComprehensiveSRStorage:                 {"Comprehensive SR Storage", CategoryStorage},
	KeyObjectSelectionDocument:             {"Key Object Selection Document Storage", CategoryStorage},
	XRayRadiationDoseSRStorage:             {"X-Ray Radiation Dose SR Storage", CategoryStorage},
	GrayscaleSoftcopyPresentation:          {"Grayscale Softcopy Presentation State Storage", CategoryStorage},
	HangingProtocolStorage:                 {"Hanging Protocol Storage", CategoryStorage},
	ColorPaletteStorage:                    {"Color Palette Storage", CategoryStorage},

	StudyRootQueryRetrieveInformationModelFind:   {"Study Root Query/Retrieve - FIND", CategoryQueryRetrieve},
	StudyRootQueryRetrieveInformationModelMove:   {"Study Root Query/Retrieve - MOVE", CategoryQueryRetrieve},
	StudyRootQueryRetrieveInformationModelGet:    {"Study Root Query/Retrieve - GET", CategoryQueryRetrieve},
	PatientRootQueryRetrieveInformationModelFind: {"Patient Root Query/Retrieve - FIND", CategoryQueryRetrieve},
	PatientRootQueryRetrieveInformationModelMove: {"Patient Root Query/Retrieve - MOVE", CategoryQueryRetrieve},
	PatientRootQueryRetrieveInformationModelGet:  {"Patient Root Query/Retrieve - GET", CategoryQueryRetrieve},

	ModalityWorklistInformationModelFind:   {"Modality Worklist - FIND", CategoryWorklist},
	ModalityPerformedProcedureStepSOPClass: {"Modality Performed Procedure Step", CategoryMPPS},
	StorageCommitmentPushModelSOPClass:     {"Storage Commitment Push Model", CategoryStorageCommitment},
}

// QueryRetrieveSOPClasses lists the query/retrieve information models a
// dispatcher can offer when query/retrieve handlers are plugged in.
func QueryRetrieveSOPClasses() []string {
	return []string{
		StudyRootQueryRetrieveInformationModelFind,
		StudyRootQueryRetrieveInformationModelMove,
		StudyRootQueryRetrieveInformationModelGet,
		PatientRootQueryRetrieveInformationModelFind,
		PatientRootQueryRetrieveInformationModelMove,
		PatientRootQueryRetrieveInformationModelGet,
	}
}

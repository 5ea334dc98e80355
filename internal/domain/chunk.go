package domain

import (
	"fmt"
	"time"
)

// ChunkType enumerates the categories of cached automotive knowledge.
type ChunkType string

const (
	ChunkTypeFluidCapacity ChunkType = "fluid_capacity"
	ChunkTypeTorqueSpec    ChunkType = "torque_spec"
	ChunkTypePartLocation  ChunkType = "part_location"
	ChunkTypeKnownIssues   ChunkType = "known_issues"
	ChunkTypeRemovalSteps  ChunkType = "removal_steps"
	ChunkTypeWiringDiagram ChunkType = "wiring_diagram"
	ChunkTypeDiagFlow      ChunkType = "diag_flow"
	ChunkTypeLaborTime     ChunkType = "labor_time"
	ChunkTypeTSB           ChunkType = "tsb"
	ChunkTypePartInfo      ChunkType = "part_info"
	ChunkTypeDiagramSVG    ChunkType = "diagram_svg"
)

// QAStatus reflects the most recent QA evaluation of a chunk.
type QAStatus string

const (
	QAStatusPending QAStatus = "pending"
	QAStatusPass    QAStatus = "pass"
	QAStatusFail    QAStatus = "fail"
)

// VerifiedStatus is the trust level of a chunk. It only ever advances
// unverified -> candidate -> verified, or drops to banned.
type VerifiedStatus string

const (
	VerifiedStatusUnverified VerifiedStatus = "unverified"
	VerifiedStatusCandidate  VerifiedStatus = "candidate"
	VerifiedStatusVerified   VerifiedStatus = "verified"
	VerifiedStatusBanned     VerifiedStatus = "banned"
)

// Visibility is derived from QAStatus and VerifiedStatus. It is never stored
// as authoritative state; consumers must recompute it on every read.
type Visibility string

const (
	VisibilityQuarantined Visibility = "quarantined"
	VisibilitySafe        Visibility = "safe"
	VisibilityBanned      Visibility = "banned"
)

// Chunk is one atomic, independently cacheable fact about a specific vehicle.
// The triple (VehicleKey, ContentID, ChunkType) is unique per live chunk.
type Chunk struct {
	ID         string
	VehicleKey string
	ContentID  string
	ChunkType  ChunkType

	Title       string
	ContentText string
	Data        map[string]interface{}

	Sources          []string
	SourceConfidence float64

	QAStatus         QAStatus
	QANotes          string
	QAPassCount      int
	LastQAReviewedAt *time.Time
	LastQAPassedAt   *time.Time

	VerifiedStatus VerifiedStatus
	VerifiedAt     *time.Time
	FailedAt       *time.Time
	PromotionCount int

	RegenerationAttempts int
	RegeneratedAt        *time.Time

	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewStub creates a quarantined placeholder chunk for in-flight generation.
func NewStub(id, vehicleKey, contentID string, chunkType ChunkType, now time.Time) *Chunk {
	return &Chunk{
		ID:             id,
		VehicleKey:     vehicleKey,
		ContentID:      contentID,
		ChunkType:      chunkType,
		Title:          "",
		ContentText:    "",
		Data:           map[string]interface{}{},
		Sources:        []string{},
		QAStatus:       QAStatusPending,
		VerifiedStatus: VerifiedStatusUnverified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ComputeVisibility derives visibility from the QA and trust fields.
// A verified chunk whose latest evaluation failed is treated as banned even
// before the promoter has recorded the demotion: a regression in
// previously-trusted content must never be shown.
func ComputeVisibility(qaStatus QAStatus, verifiedStatus VerifiedStatus) Visibility {
	if verifiedStatus == VerifiedStatusBanned {
		return VisibilityBanned
	}
	if qaStatus == QAStatusFail && verifiedStatus == VerifiedStatusVerified {
		return VisibilityBanned
	}
	if qaStatus == QAStatusPass &&
		(verifiedStatus == VerifiedStatusCandidate || verifiedStatus == VerifiedStatusVerified) {
		return VisibilitySafe
	}
	return VisibilityQuarantined
}

// Visibility derives the chunk's current visibility.
func (c *Chunk) Visibility() Visibility {
	return ComputeVisibility(c.QAStatus, c.VerifiedStatus)
}

// Key returns the chunk's identity triple in a stable printable form.
func (c *Chunk) Key() ChunkKey {
	return ChunkKey{VehicleKey: c.VehicleKey, ContentID: c.ContentID, ChunkType: c.ChunkType}
}

// ChunkKey identifies at most one live chunk.
type ChunkKey struct {
	VehicleKey string
	ContentID  string
	ChunkType  ChunkType
}

func (k ChunkKey) String() string {
	return k.VehicleKey + "/" + k.ContentID + "/" + string(k.ChunkType)
}

// SafetyCritical reports whether the chunk type must never be shown without
// full verification (wrong torque or wiring data is dangerous, not just wrong).
func (t ChunkType) SafetyCritical() bool {
	switch t {
	case ChunkTypeTorqueSpec, ChunkTypeWiringDiagram, ChunkTypeDiagFlow:
		return true
	}
	return false
}

// ValidateChunk validates a Chunk instance.
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.VehicleKey == "" {
		return fmt.Errorf("chunk VehicleKey is required")
	}
	if c.ContentID == "" {
		return fmt.Errorf("chunk ContentID is required")
	}
	if !isValidChunkType(c.ChunkType) {
		return fmt.Errorf("chunk ChunkType is invalid: %s", c.ChunkType)
	}
	if !isValidQAStatus(c.QAStatus) {
		return fmt.Errorf("chunk QAStatus is invalid: %s", c.QAStatus)
	}
	if !isValidVerifiedStatus(c.VerifiedStatus) {
		return fmt.Errorf("%w: %s", ErrInvalidVerifiedStatus, c.VerifiedStatus)
	}
	if c.SourceConfidence < 0 || c.SourceConfidence > 1 {
		return fmt.Errorf("chunk SourceConfidence must be in [0,1]: %f", c.SourceConfidence)
	}
	return nil
}

func isValidChunkType(t ChunkType) bool {
	switch t {
	case ChunkTypeFluidCapacity, ChunkTypeTorqueSpec, ChunkTypePartLocation,
		ChunkTypeKnownIssues, ChunkTypeRemovalSteps, ChunkTypeWiringDiagram,
		ChunkTypeDiagFlow, ChunkTypeLaborTime, ChunkTypeTSB, ChunkTypePartInfo,
		ChunkTypeDiagramSVG:
		return true
	}
	return false
}

func isValidQAStatus(s QAStatus) bool {
	switch s {
	case QAStatusPending, QAStatusPass, QAStatusFail:
		return true
	}
	return false
}

func isValidVerifiedStatus(s VerifiedStatus) bool {
	switch s {
	case VerifiedStatusUnverified, VerifiedStatusCandidate, VerifiedStatusVerified, VerifiedStatusBanned:
		return true
	}
	return false
}

package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FileRecord is the durable processing record for one uploaded file.
// It is created only after extraction and the duplicate check both
// succeed, and is mutated exclusively by the pipeline during its run.
type FileRecord struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	OriginalName string         `gorm:"column:original_name;not null" json:"original_name"`
	Kind         string         `gorm:"column:kind;not null" json:"kind"`
	Fingerprint  string         `gorm:"column:fingerprint;not null;index" json:"fingerprint"`
	Description  *string        `gorm:"column:description" json:"description"`
	Embedding    datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding"`
	Status       string         `gorm:"column:status;not null;default:'pending'" json:"status"`
	Stage        *string        `gorm:"column:stage" json:"stage"`
	Progress     int            `gorm:"column:progress;not null;default:0" json:"progress"`
	FailureDetail *string       `gorm:"column:failure_detail" json:"failure_detail"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (FileRecord) TableName() string { return "file_record" }

const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusReady      = "ready"
	FileStatusFailed     = "failed"
)

const (
	StageExtraction   = "extraction"
	StageCompression  = "compression"
	StageEmbedding    = "embedding"
	StageFinalization = "finalization"
)

const (
	KindPDF         = "pdf"
	KindImage       = "image"
	KindText        = "text"
	KindCode        = "code"
	KindSpreadsheet = "spreadsheet"
	KindOther       = "other"
)

// Terminal reports whether the record will see no further pipeline writes.
func (fr *FileRecord) Terminal() bool {
	return fr.Status == FileStatusReady || fr.Status == FileStatusFailed
}

// EmbeddingVector decodes the stored jsonb vector. Nil when embedding has
// not completed yet.
func (fr *FileRecord) EmbeddingVector() ([]float32, error) {
	if len(fr.Embedding) == 0 {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal(fr.Embedding, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// MarshalEmbedding encodes a vector for storage.
func MarshalEmbedding(vec []float32) (datatypes.JSON, error) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// ProgressEvent is the transient per-transition report handed to the
// optional progress callback. Never persisted.
type ProgressEvent struct {
	OwnerID        uuid.UUID `json:"owner_id"`
	RecordID       uuid.UUID `json:"record_id"`
	Stage          string    `json:"stage"`
	Progress       int       `json:"progress"`
	Message        string    `json:"message,omitempty"`
	TerminalStatus string    `json:"terminal_status,omitempty"`
}

func StrPtr(s string) *string { return &s }

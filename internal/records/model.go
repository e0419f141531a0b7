package records

import (
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/lineage"
	"gorm.io/datatypes"
)

// AnnotationType enumerates the supported annotation kinds.
type AnnotationType string

const (
	AnnotationTypeHighlight AnnotationType = "highlight"
	AnnotationTypeNote      AnnotationType = "note"
	AnnotationTypeRedaction AnnotationType = "redaction"
)

// Valid reports whether the type is one of the known annotation kinds.
func (t AnnotationType) Valid() bool {
	switch t {
	case AnnotationTypeHighlight, AnnotationTypeNote, AnnotationTypeRedaction:
		return true
	default:
		return false
	}
}

// TextEditOperation enumerates the supported text edit operations.
type TextEditOperation string

const (
	TextEditInsert  TextEditOperation = "insert"
	TextEditDelete  TextEditOperation = "delete"
	TextEditReplace TextEditOperation = "replace"
)

// Valid reports whether the operation is one of the known text edit operations.
func (o TextEditOperation) Valid() bool {
	switch o {
	case TextEditInsert, TextEditDelete, TextEditReplace:
		return true
	default:
		return false
	}
}

// EditType enumerates ledger entry kinds.
type EditType string

const (
	EditTypeAdd    EditType = "add"
	EditTypeUpdate EditType = "update"
	EditTypeDelete EditType = "delete"
)

// Document models an uploaded PDF and its version pointers.
type Document struct {
	ID               string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Name             string    `gorm:"column:name;size:512;not null" json:"name"`
	FileHash         string    `gorm:"column:file_hash;size:128;not null;index" json:"file_hash"`
	PageCount        int       `gorm:"column:page_count;not null;default:0" json:"page_count"`
	CurrentVersionID string    `gorm:"column:current_version_id;size:64;not null;default:''" json:"current_version_id"`
	LatestVersionID  string    `gorm:"column:latest_version_id;size:64;not null;default:''" json:"latest_version_id"`
	Thumbnail        string    `gorm:"column:thumbnail;type:text;not null;default:''" json:"thumbnail,omitempty"`
	CreatedAt        time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null;index" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Version is one immutable step of a document's linear history.
type Version struct {
	ID            string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	DocumentID    string    `gorm:"column:document_id;size:64;not null;index:idx_versions_document;uniqueIndex:idx_versions_document_number,priority:1" json:"document_id"`
	VersionNumber int64     `gorm:"column:version_number;not null;uniqueIndex:idx_versions_document_number,priority:2" json:"version_number"`
	Message       string    `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Version) TableName() string {
	return "versions"
}

// Annotation is a highlight, note or redaction owned by exactly one version.
type Annotation struct {
	ID                 string         `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	VersionID          string         `gorm:"column:version_id;size:64;not null;index:idx_annotations_version;index:idx_annotations_version_page,priority:1" json:"version_id"`
	OriginalID         string         `gorm:"column:original_id;size:64;not null;default:''" json:"original_id,omitempty"`
	CommittedVersionID string         `gorm:"column:committed_version_id;size:64;not null;default:''" json:"committed_version_id,omitempty"`
	Type               AnnotationType `gorm:"column:type;size:32;not null" json:"type"`
	PageNumber         int            `gorm:"column:page_number;not null;index:idx_annotations_version_page,priority:2" json:"page_number"`
	X                  float64        `gorm:"column:x;not null" json:"x"`
	Y                  float64        `gorm:"column:y;not null" json:"y"`
	Width              float64        `gorm:"column:width;not null" json:"width"`
	Height             float64        `gorm:"column:height;not null" json:"height"`
	Content            string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Text               *string        `gorm:"column:text;type:text" json:"text,omitempty"`
	Color              *string        `gorm:"column:color;size:32" json:"color,omitempty"`
	FontSize           *float64       `gorm:"column:font_size" json:"font_size,omitempty"`
	CreatedAt          time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Annotation) TableName() string {
	return "annotations"
}

// RowID returns the physical row identifier.
func (a Annotation) RowID() string { return a.ID }

// OriginalRowID returns the lineage root recorded on the row, if any.
func (a Annotation) OriginalRowID() string { return a.OriginalID }

// Locked reports whether the row was frozen by a commit.
func (a Annotation) Locked() bool { return a.CommittedVersionID != "" }

// CloneInto copies the annotation into another version under a fresh id,
// preserving its lineage root and leaving the copy unlocked.
func (a Annotation) CloneInto(versionID, id string, now time.Time) Annotation {
	clone := a.Copy()
	clone.OriginalID = lineage.ResolveRoot(a)
	if clone.OriginalID == "" {
		clone.OriginalID = id
	}
	clone.ID = id
	clone.VersionID = versionID
	clone.CommittedVersionID = ""
	clone.CreatedAt = now
	clone.UpdatedAt = now
	return clone
}

// Copy returns the annotation with its optional fields detached from a.
func (a Annotation) Copy() Annotation {
	copied := a
	copied.Text = cloneString(a.Text)
	copied.Color = cloneString(a.Color)
	copied.FontSize = cloneFloat(a.FontSize)
	return copied
}

// TextEdit is an insert, delete or replace of page text owned by exactly one version.
type TextEdit struct {
	ID                 string            `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	VersionID          string            `gorm:"column:version_id;size:64;not null;index:idx_text_edits_version;index:idx_text_edits_version_page,priority:1" json:"version_id"`
	OriginalID         string            `gorm:"column:original_id;size:64;not null;default:''" json:"original_id,omitempty"`
	CommittedVersionID string            `gorm:"column:committed_version_id;size:64;not null;default:''" json:"committed_version_id,omitempty"`
	PageNumber         int               `gorm:"column:page_number;not null;index:idx_text_edits_version_page,priority:2" json:"page_number"`
	X                  float64           `gorm:"column:x;not null" json:"x"`
	Y                  float64           `gorm:"column:y;not null" json:"y"`
	Width              float64           `gorm:"column:width;not null" json:"width"`
	Height             float64           `gorm:"column:height;not null" json:"height"`
	OriginalText       string            `gorm:"column:original_text;type:text;not null;default:''" json:"original_text"`
	NewText            string            `gorm:"column:new_text;type:text;not null;default:''" json:"new_text"`
	Operation          TextEditOperation `gorm:"column:operation;size:16;not null" json:"operation"`
	FontFamily         *string           `gorm:"column:font_family;size:128" json:"font_family,omitempty"`
	FontSize           *float64          `gorm:"column:font_size" json:"font_size,omitempty"`
	FontWeight         *string           `gorm:"column:font_weight;size:32" json:"font_weight,omitempty"`
	Color              *string           `gorm:"column:color;size:32" json:"color,omitempty"`
	CreatedAt          time.Time         `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (TextEdit) TableName() string {
	return "text_edits"
}

// RowID returns the physical row identifier.
func (e TextEdit) RowID() string { return e.ID }

// OriginalRowID returns the lineage root recorded on the row, if any.
func (e TextEdit) OriginalRowID() string { return e.OriginalID }

// Locked reports whether the row was frozen by a commit.
func (e TextEdit) Locked() bool { return e.CommittedVersionID != "" }

// CloneInto copies the text edit into another version under a fresh id,
// preserving its lineage root and leaving the copy unlocked.
func (e TextEdit) CloneInto(versionID, id string, now time.Time) TextEdit {
	clone := e.Copy()
	clone.OriginalID = lineage.ResolveRoot(e)
	if clone.OriginalID == "" {
		clone.OriginalID = id
	}
	clone.ID = id
	clone.VersionID = versionID
	clone.CommittedVersionID = ""
	clone.CreatedAt = now
	clone.UpdatedAt = now
	return clone
}

// Copy returns the text edit with its optional fields detached from e.
func (e TextEdit) Copy() TextEdit {
	copied := e
	copied.FontFamily = cloneString(e.FontFamily)
	copied.FontSize = cloneFloat(e.FontSize)
	copied.FontWeight = cloneString(e.FontWeight)
	copied.Color = cloneString(e.Color)
	return copied
}

// Edit captures an append-only ledger entry for a single live mutation.
type Edit struct {
	ID           string         `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	VersionID    string         `gorm:"column:version_id;size:64;not null;index:idx_edits_version_time,priority:1" json:"version_id"`
	Type         EditType       `gorm:"column:type;size:16;not null" json:"type"`
	AnnotationID *string        `gorm:"column:annotation_id;size:64" json:"annotation_id,omitempty"`
	TextEditID   *string        `gorm:"column:text_edit_id;size:64" json:"text_edit_id,omitempty"`
	Timestamp    time.Time      `gorm:"column:timestamp;not null;index:idx_edits_version_time,priority:2" json:"timestamp"`
	Data         datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Edit) TableName() string {
	return "edits"
}

// Models lists every record family for schema migration.
func Models() []any {
	return []any{&Document{}, &Version{}, &Annotation{}, &TextEdit{}, &Edit{}}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

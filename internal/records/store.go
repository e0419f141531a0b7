// Package records defines the persisted record families of the annotation
// editor and the transactional storage contract the version engine relies on.
package records

import (
	"context"
	"errors"
)

// ErrNotFound indicates that the requested row does not exist.
var ErrNotFound = errors.New("records: not found")

// Tx exposes typed get, query-by-index, put and delete access to every record family.
// Inside Store.Transaction all calls share one all-or-nothing unit.
type Tx interface {
	Document(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	PutDocument(ctx context.Context, document *Document) error
	// DeleteDocumentCascade removes the document with its versions, items and ledger entries.
	DeleteDocumentCascade(ctx context.Context, id string) error

	Version(ctx context.Context, id string) (Version, error)
	VersionsByDocument(ctx context.Context, documentID string) ([]Version, error)
	// MaxVersionNumber returns zero when the document has no versions.
	MaxVersionNumber(ctx context.Context, documentID string) (int64, error)
	PutVersion(ctx context.Context, version *Version) error

	Annotation(ctx context.Context, id string) (Annotation, error)
	AnnotationsByVersion(ctx context.Context, versionID string) ([]Annotation, error)
	AnnotationsByPage(ctx context.Context, versionID string, pageNumber int) ([]Annotation, error)
	PutAnnotation(ctx context.Context, annotation *Annotation) error
	DeleteAnnotation(ctx context.Context, id string) error
	// LockAnnotations stamps committedVersionID on every unlocked annotation of the version.
	LockAnnotations(ctx context.Context, versionID, committedVersionID string) (int64, error)

	TextEdit(ctx context.Context, id string) (TextEdit, error)
	TextEditsByVersion(ctx context.Context, versionID string) ([]TextEdit, error)
	TextEditsByPage(ctx context.Context, versionID string, pageNumber int) ([]TextEdit, error)
	PutTextEdit(ctx context.Context, textEdit *TextEdit) error
	DeleteTextEdit(ctx context.Context, id string) error
	// LockTextEdits stamps committedVersionID on every unlocked text edit of the version.
	LockTextEdits(ctx context.Context, versionID, committedVersionID string) (int64, error)

	AppendEdit(ctx context.Context, edit *Edit) error
	EditsByVersion(ctx context.Context, versionID string) ([]Edit, error)
}

// Store is a Tx usable outside transactions that can also group writes atomically.
// Returning an error from fn rolls back every write made through the supplied Tx.
type Store interface {
	Tx
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

package records

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const (
	queryID                  = "id = ?"
	queryDocumentID          = "document_id = ?"
	queryVersionID           = "version_id = ?"
	queryVersionIDIn         = "version_id IN ?"
	queryVersionPage         = "version_id = ? AND page_number = ?"
	queryVersionUnlocked     = "version_id = ? AND committed_version_id = ''"
	columnCommittedVersionID = "committed_version_id"
	orderCreated             = "created_at ASC, id ASC"
	orderVersionNumber       = "version_number ASC"
	orderDocumentsRecent     = "updated_at DESC, id ASC"
	orderEditTimestamp       = "timestamp ASC, id ASC"
)

var errMissingDatabase = errors.New("records: database handle is required")

// GormStore implements Store on top of a GORM connection.
type GormStore struct {
	gormTx
}

// NewGormStore wraps the provided database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{gormTx{db: db}}, nil
}

// Transaction runs fn inside a single database transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(gormTx{db: transaction})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t gormTx) session(ctx context.Context) *gorm.DB {
	return t.db.WithContext(ctx)
}

func (t gormTx) Document(ctx context.Context, id string) (Document, error) {
	var document Document
	err := t.session(ctx).Where(queryID, id).Take(&document).Error
	return document, translate(err)
}

func (t gormTx) ListDocuments(ctx context.Context) ([]Document, error) {
	var documents []Document
	err := t.session(ctx).Order(orderDocumentsRecent).Find(&documents).Error
	return documents, translate(err)
}

func (t gormTx) PutDocument(ctx context.Context, document *Document) error {
	return t.session(ctx).Save(document).Error
}

func (t gormTx) DeleteDocumentCascade(ctx context.Context, id string) error {
	session := t.session(ctx)
	var versionIDs []string
	if err := session.Model(&Version{}).Where(queryDocumentID, id).Pluck("id", &versionIDs).Error; err != nil {
		return err
	}
	if len(versionIDs) > 0 {
		for _, model := range []any{&Edit{}, &Annotation{}, &TextEdit{}} {
			if err := session.Where(queryVersionIDIn, versionIDs).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := session.Where(queryDocumentID, id).Delete(&Version{}).Error; err != nil {
			return err
		}
	}
	result := session.Where(queryID, id).Delete(&Document{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

func (t gormTx) Version(ctx context.Context, id string) (Version, error) {
	var version Version
	err := t.session(ctx).Where(queryID, id).Take(&version).Error
	return version, translate(err)
}

func (t gormTx) VersionsByDocument(ctx context.Context, documentID string) ([]Version, error) {
	var versions []Version
	err := t.session(ctx).Where(queryDocumentID, documentID).Order(orderVersionNumber).Find(&versions).Error
	return versions, translate(err)
}

func (t gormTx) MaxVersionNumber(ctx context.Context, documentID string) (int64, error) {
	var maxNumber int64
	err := t.session(ctx).Model(&Version{}).
		Where(queryDocumentID, documentID).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&maxNumber).Error
	return maxNumber, err
}

func (t gormTx) PutVersion(ctx context.Context, version *Version) error {
	return t.session(ctx).Save(version).Error
}

func (t gormTx) Annotation(ctx context.Context, id string) (Annotation, error) {
	var annotation Annotation
	err := t.session(ctx).Where(queryID, id).Take(&annotation).Error
	return annotation, translate(err)
}

func (t gormTx) AnnotationsByVersion(ctx context.Context, versionID string) ([]Annotation, error) {
	var annotations []Annotation
	err := t.session(ctx).Where(queryVersionID, versionID).Order(orderCreated).Find(&annotations).Error
	return annotations, err
}

func (t gormTx) AnnotationsByPage(ctx context.Context, versionID string, pageNumber int) ([]Annotation, error) {
	var annotations []Annotation
	err := t.session(ctx).Where(queryVersionPage, versionID, pageNumber).Order(orderCreated).Find(&annotations).Error
	return annotations, err
}

func (t gormTx) PutAnnotation(ctx context.Context, annotation *Annotation) error {
	return t.session(ctx).Save(annotation).Error
}

func (t gormTx) DeleteAnnotation(ctx context.Context, id string) error {
	return deleteByID(t.session(ctx), &Annotation{}, id)
}

func (t gormTx) LockAnnotations(ctx context.Context, versionID, committedVersionID string) (int64, error) {
	result := t.session(ctx).Model(&Annotation{}).
		Where(queryVersionUnlocked, versionID).
		Update(columnCommittedVersionID, committedVersionID)
	return result.RowsAffected, result.Error
}

func (t gormTx) TextEdit(ctx context.Context, id string) (TextEdit, error) {
	var textEdit TextEdit
	err := t.session(ctx).Where(queryID, id).Take(&textEdit).Error
	return textEdit, translate(err)
}

func (t gormTx) TextEditsByVersion(ctx context.Context, versionID string) ([]TextEdit, error) {
	var textEdits []TextEdit
	err := t.session(ctx).Where(queryVersionID, versionID).Order(orderCreated).Find(&textEdits).Error
	return textEdits, err
}

func (t gormTx) TextEditsByPage(ctx context.Context, versionID string, pageNumber int) ([]TextEdit, error) {
	var textEdits []TextEdit
	err := t.session(ctx).Where(queryVersionPage, versionID, pageNumber).Order(orderCreated).Find(&textEdits).Error
	return textEdits, err
}

func (t gormTx) PutTextEdit(ctx context.Context, textEdit *TextEdit) error {
	return t.session(ctx).Save(textEdit).Error
}

func (t gormTx) DeleteTextEdit(ctx context.Context, id string) error {
	return deleteByID(t.session(ctx), &TextEdit{}, id)
}

func (t gormTx) LockTextEdits(ctx context.Context, versionID, committedVersionID string) (int64, error) {
	result := t.session(ctx).Model(&TextEdit{}).
		Where(queryVersionUnlocked, versionID).
		Update(columnCommittedVersionID, committedVersionID)
	return result.RowsAffected, result.Error
}

func (t gormTx) AppendEdit(ctx context.Context, edit *Edit) error {
	return t.session(ctx).Create(edit).Error
}

func (t gormTx) EditsByVersion(ctx context.Context, versionID string) ([]Edit, error) {
	var edits []Edit
	err := t.session(ctx).Where(queryVersionID, versionID).Order(orderEditTimestamp).Find(&edits).Error
	return edits, err
}

func deleteByID(session *gorm.DB, model any, id string) error {
	result := session.Where(queryID, id).Delete(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

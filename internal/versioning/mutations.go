package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"go.uber.org/zap"
)

// AnnotationInput carries the caller-editable fields of a new annotation.
type AnnotationInput struct {
	Type       records.AnnotationType `json:"type"`
	PageNumber int                    `json:"page_number"`
	X          float64                `json:"x"`
	Y          float64                `json:"y"`
	Width      float64                `json:"width"`
	Height     float64                `json:"height"`
	Content    string                 `json:"content"`
	Text       *string                `json:"text,omitempty"`
	Color      *string                `json:"color,omitempty"`
	FontSize   *float64               `json:"font_size,omitempty"`
}

// AnnotationPatch lists the fields to change; nil fields are left as they are.
// Clear names optional fields (text, color, font_size) to reset to empty.
type AnnotationPatch struct {
	Type       *records.AnnotationType `json:"type,omitempty"`
	PageNumber *int                    `json:"page_number,omitempty"`
	X          *float64                `json:"x,omitempty"`
	Y          *float64                `json:"y,omitempty"`
	Width      *float64                `json:"width,omitempty"`
	Height     *float64                `json:"height,omitempty"`
	Content    *string                 `json:"content,omitempty"`
	Text       *string                 `json:"text,omitempty"`
	Color      *string                 `json:"color,omitempty"`
	FontSize   *float64                `json:"font_size,omitempty"`
	Clear      []string                `json:"clear,omitempty"`
}

// TextEditInput carries the caller-editable fields of a new text edit.
type TextEditInput struct {
	PageNumber   int                       `json:"page_number"`
	X            float64                   `json:"x"`
	Y            float64                   `json:"y"`
	Width        float64                   `json:"width"`
	Height       float64                   `json:"height"`
	OriginalText string                    `json:"original_text"`
	NewText      string                    `json:"new_text"`
	Operation    records.TextEditOperation `json:"operation"`
	FontFamily   *string                   `json:"font_family,omitempty"`
	FontSize     *float64                  `json:"font_size,omitempty"`
	FontWeight   *string                   `json:"font_weight,omitempty"`
	Color        *string                   `json:"color,omitempty"`
}

// TextEditPatch lists the fields to change; nil fields are left as they are.
// Clear names optional fields (font_family, font_size, font_weight, color)
// to reset to empty.
type TextEditPatch struct {
	PageNumber   *int                       `json:"page_number,omitempty"`
	X            *float64                   `json:"x,omitempty"`
	Y            *float64                   `json:"y,omitempty"`
	Width        *float64                   `json:"width,omitempty"`
	Height       *float64                   `json:"height,omitempty"`
	OriginalText *string                    `json:"original_text,omitempty"`
	NewText      *string                    `json:"new_text,omitempty"`
	Operation    *records.TextEditOperation `json:"operation,omitempty"`
	FontFamily   *string                    `json:"font_family,omitempty"`
	FontSize     *float64                   `json:"font_size,omitempty"`
	FontWeight   *string                    `json:"font_weight,omitempty"`
	Color        *string                    `json:"color,omitempty"`
	Clear        []string                   `json:"clear,omitempty"`
}

// AddAnnotation stores a new annotation in the document's current version.
func (s *Service) AddAnnotation(ctx context.Context, documentID string, input AnnotationInput) (records.Annotation, error) {
	var created records.Annotation
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		versionID, err := s.currentVersionOf(ctx, tx, opAddAnnotation, documentID)
		if err != nil {
			return err
		}
		id, err := s.newID(opAddAnnotation)
		if err != nil {
			return err
		}
		now := s.now()
		created = records.Annotation{
			ID:         id,
			VersionID:  versionID,
			Type:       input.Type,
			PageNumber: input.PageNumber,
			X:          input.X,
			Y:          input.Y,
			Width:      input.Width,
			Height:     input.Height,
			Content:    input.Content,
			Text:       input.Text,
			Color:      input.Color,
			FontSize:   input.FontSize,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.validateAnnotation(opAddAnnotation, created); err != nil {
			return err
		}
		if err := tx.PutAnnotation(ctx, &created); err != nil {
			return s.fail(opAddAnnotation, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
		}
		return nil
	})
	if err != nil {
		return records.Annotation{}, asServiceError(opAddAnnotation, err)
	}

	s.recordEdit(ctx, records.EditTypeAdd, created.VersionID, annotationRef(created.ID), created)
	s.publishItemChanged(documentID, created.VersionID, created.ID)
	return created, nil
}

// UpdateAnnotation applies patch to an unlocked annotation of the current version.
func (s *Service) UpdateAnnotation(ctx context.Context, annotationID string, patch AnnotationPatch) (records.Annotation, error) {
	if problems := patch.clearProblems(); len(problems) > 0 {
		return records.Annotation{}, s.fail(opUpdateAnnotation, reasonInvalidItem,
			fmt.Errorf("%w: %s", ErrInvalidItem, strings.Join(problems, "; ")),
			zap.String("annotation_id", annotationID))
	}
	var (
		updated    records.Annotation
		documentID string
	)
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		existing, owner, err := s.editableAnnotation(ctx, tx, opUpdateAnnotation, annotationID)
		if err != nil {
			return err
		}
		documentID = owner
		updated = patch.applyTo(existing)
		updated.UpdatedAt = s.now()
		if err := s.validateAnnotation(opUpdateAnnotation, updated); err != nil {
			return err
		}
		if err := tx.PutAnnotation(ctx, &updated); err != nil {
			return s.fail(opUpdateAnnotation, reasonStorageFailed, storageError(err), zap.String("annotation_id", annotationID))
		}
		return nil
	})
	if err != nil {
		return records.Annotation{}, asServiceError(opUpdateAnnotation, err)
	}

	s.recordEdit(ctx, records.EditTypeUpdate, updated.VersionID, annotationRef(updated.ID), patch)
	s.publishItemChanged(documentID, updated.VersionID, updated.ID)
	return updated, nil
}

// DeleteAnnotation removes an unlocked annotation of the current version.
func (s *Service) DeleteAnnotation(ctx context.Context, annotationID string) error {
	var (
		removed    records.Annotation
		documentID string
	)
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		existing, owner, err := s.editableAnnotation(ctx, tx, opDeleteAnnotation, annotationID)
		if err != nil {
			return err
		}
		removed, documentID = existing, owner
		if err := tx.DeleteAnnotation(ctx, annotationID); err != nil {
			return s.fail(opDeleteAnnotation, reasonStorageFailed, storageError(err), zap.String("annotation_id", annotationID))
		}
		return nil
	})
	if err != nil {
		return asServiceError(opDeleteAnnotation, err)
	}

	s.recordEdit(ctx, records.EditTypeDelete, removed.VersionID, annotationRef(removed.ID), removed)
	s.publishItemChanged(documentID, removed.VersionID, removed.ID)
	return nil
}

// ListAnnotations returns the annotations of a version, optionally restricted to one page.
func (s *Service) ListAnnotations(ctx context.Context, versionID string, pageNumber *int) ([]records.Annotation, error) {
	if _, err := s.loadVersion(ctx, opListAnnotations, versionID); err != nil {
		return nil, err
	}
	var (
		annotations []records.Annotation
		err         error
	)
	if pageNumber != nil {
		annotations, err = s.store.AnnotationsByPage(ctx, versionID, *pageNumber)
	} else {
		annotations, err = s.store.AnnotationsByVersion(ctx, versionID)
	}
	if err != nil {
		return nil, s.fail(opListAnnotations, reasonStorageFailed, storageError(err), zap.String("version_id", versionID))
	}
	return annotations, nil
}

// AddTextEdit stores a new text edit in the document's current version.
func (s *Service) AddTextEdit(ctx context.Context, documentID string, input TextEditInput) (records.TextEdit, error) {
	var created records.TextEdit
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		versionID, err := s.currentVersionOf(ctx, tx, opAddTextEdit, documentID)
		if err != nil {
			return err
		}
		id, err := s.newID(opAddTextEdit)
		if err != nil {
			return err
		}
		now := s.now()
		created = records.TextEdit{
			ID:           id,
			VersionID:    versionID,
			PageNumber:   input.PageNumber,
			X:            input.X,
			Y:            input.Y,
			Width:        input.Width,
			Height:       input.Height,
			OriginalText: input.OriginalText,
			NewText:      input.NewText,
			Operation:    input.Operation,
			FontFamily:   input.FontFamily,
			FontSize:     input.FontSize,
			FontWeight:   input.FontWeight,
			Color:        input.Color,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.validateTextEdit(opAddTextEdit, created); err != nil {
			return err
		}
		if err := tx.PutTextEdit(ctx, &created); err != nil {
			return s.fail(opAddTextEdit, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
		}
		return nil
	})
	if err != nil {
		return records.TextEdit{}, asServiceError(opAddTextEdit, err)
	}

	s.recordEdit(ctx, records.EditTypeAdd, created.VersionID, textEditRef(created.ID), created)
	s.publishItemChanged(documentID, created.VersionID, created.ID)
	return created, nil
}

// UpdateTextEdit applies patch to an unlocked text edit of the current version.
func (s *Service) UpdateTextEdit(ctx context.Context, textEditID string, patch TextEditPatch) (records.TextEdit, error) {
	if problems := patch.clearProblems(); len(problems) > 0 {
		return records.TextEdit{}, s.fail(opUpdateTextEdit, reasonInvalidItem,
			fmt.Errorf("%w: %s", ErrInvalidItem, strings.Join(problems, "; ")),
			zap.String("text_edit_id", textEditID))
	}
	var (
		updated    records.TextEdit
		documentID string
	)
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		existing, owner, err := s.editableTextEdit(ctx, tx, opUpdateTextEdit, textEditID)
		if err != nil {
			return err
		}
		documentID = owner
		updated = patch.applyTo(existing)
		updated.UpdatedAt = s.now()
		if err := s.validateTextEdit(opUpdateTextEdit, updated); err != nil {
			return err
		}
		if err := tx.PutTextEdit(ctx, &updated); err != nil {
			return s.fail(opUpdateTextEdit, reasonStorageFailed, storageError(err), zap.String("text_edit_id", textEditID))
		}
		return nil
	})
	if err != nil {
		return records.TextEdit{}, asServiceError(opUpdateTextEdit, err)
	}

	s.recordEdit(ctx, records.EditTypeUpdate, updated.VersionID, textEditRef(updated.ID), patch)
	s.publishItemChanged(documentID, updated.VersionID, updated.ID)
	return updated, nil
}

// DeleteTextEdit removes an unlocked text edit of the current version.
func (s *Service) DeleteTextEdit(ctx context.Context, textEditID string) error {
	var (
		removed    records.TextEdit
		documentID string
	)
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		existing, owner, err := s.editableTextEdit(ctx, tx, opDeleteTextEdit, textEditID)
		if err != nil {
			return err
		}
		removed, documentID = existing, owner
		if err := tx.DeleteTextEdit(ctx, textEditID); err != nil {
			return s.fail(opDeleteTextEdit, reasonStorageFailed, storageError(err), zap.String("text_edit_id", textEditID))
		}
		return nil
	})
	if err != nil {
		return asServiceError(opDeleteTextEdit, err)
	}

	s.recordEdit(ctx, records.EditTypeDelete, removed.VersionID, textEditRef(removed.ID), removed)
	s.publishItemChanged(documentID, removed.VersionID, removed.ID)
	return nil
}

// ListTextEdits returns the text edits of a version, optionally restricted to one page.
func (s *Service) ListTextEdits(ctx context.Context, versionID string, pageNumber *int) ([]records.TextEdit, error) {
	if _, err := s.loadVersion(ctx, opListTextEdits, versionID); err != nil {
		return nil, err
	}
	var (
		textEdits []records.TextEdit
		err       error
	)
	if pageNumber != nil {
		textEdits, err = s.store.TextEditsByPage(ctx, versionID, *pageNumber)
	} else {
		textEdits, err = s.store.TextEditsByVersion(ctx, versionID)
	}
	if err != nil {
		return nil, s.fail(opListTextEdits, reasonStorageFailed, storageError(err), zap.String("version_id", versionID))
	}
	return textEdits, nil
}

func (s *Service) currentVersionOf(ctx context.Context, tx records.Tx, operation, documentID string) (string, error) {
	document, err := tx.Document(ctx, documentID)
	if errors.Is(err, records.ErrNotFound) {
		return "", s.fail(operation, reasonDocumentNotFound, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID))
	}
	if err != nil {
		return "", s.fail(operation, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
	}
	if document.CurrentVersionID == "" {
		return "", s.fail(operation, reasonNoCurrentVersion, ErrNoCurrentVersion, zap.String(fieldDocumentID, documentID))
	}
	return document.CurrentVersionID, nil
}

// editableAnnotation loads the annotation and returns its document id when the row
// is unlocked and owned by the document's current version.
func (s *Service) editableAnnotation(ctx context.Context, tx records.Tx, operation, annotationID string) (records.Annotation, string, error) {
	annotation, err := tx.Annotation(ctx, annotationID)
	if errors.Is(err, records.ErrNotFound) {
		return records.Annotation{}, "", s.fail(operation, reasonItemNotFound, fmt.Errorf("%w: %s", ErrAnnotationNotFound, annotationID))
	}
	if err != nil {
		return records.Annotation{}, "", s.fail(operation, reasonStorageFailed, storageError(err), zap.String("annotation_id", annotationID))
	}
	documentID, err := s.requireLive(ctx, tx, operation, annotation.VersionID, annotation.Locked(), annotationID)
	if err != nil {
		return records.Annotation{}, "", err
	}
	return annotation, documentID, nil
}

func (s *Service) editableTextEdit(ctx context.Context, tx records.Tx, operation, textEditID string) (records.TextEdit, string, error) {
	textEdit, err := tx.TextEdit(ctx, textEditID)
	if errors.Is(err, records.ErrNotFound) {
		return records.TextEdit{}, "", s.fail(operation, reasonItemNotFound, fmt.Errorf("%w: %s", ErrTextEditNotFound, textEditID))
	}
	if err != nil {
		return records.TextEdit{}, "", s.fail(operation, reasonStorageFailed, storageError(err), zap.String("text_edit_id", textEditID))
	}
	documentID, err := s.requireLive(ctx, tx, operation, textEdit.VersionID, textEdit.Locked(), textEditID)
	if err != nil {
		return records.TextEdit{}, "", err
	}
	return textEdit, documentID, nil
}

func (s *Service) requireLive(ctx context.Context, tx records.Tx, operation, versionID string, locked bool, itemID string) (string, error) {
	itemField := zap.String("item_id", itemID)
	if locked {
		return "", s.fail(operation, reasonItemLocked, fmt.Errorf("%w: %s", ErrItemLocked, itemID), itemField)
	}
	version, err := tx.Version(ctx, versionID)
	if errors.Is(err, records.ErrNotFound) {
		return "", s.fail(operation, reasonVersionNotFound, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID), itemField)
	}
	if err != nil {
		return "", s.fail(operation, reasonStorageFailed, storageError(err), itemField)
	}
	document, err := tx.Document(ctx, version.DocumentID)
	if errors.Is(err, records.ErrNotFound) {
		return "", s.fail(operation, reasonDocumentNotFound, fmt.Errorf("%w: %s", ErrDocumentNotFound, version.DocumentID), itemField)
	}
	if err != nil {
		return "", s.fail(operation, reasonStorageFailed, storageError(err), itemField)
	}
	if document.CurrentVersionID != versionID {
		return "", s.fail(operation, reasonItemLocked, fmt.Errorf("%w: %s is not in the current version", ErrItemLocked, itemID), itemField)
	}
	return document.ID, nil
}

func (s *Service) validateAnnotation(operation string, annotation records.Annotation) error {
	var problems []string
	if !annotation.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown annotation type %q", annotation.Type))
	}
	problems = append(problems, geometryProblems(annotation.PageNumber, annotation.Width, annotation.Height)...)
	if len(problems) > 0 {
		return s.fail(operation, reasonInvalidItem, fmt.Errorf("%w: %s", ErrInvalidItem, strings.Join(problems, "; ")))
	}
	return nil
}

func (s *Service) validateTextEdit(operation string, textEdit records.TextEdit) error {
	var problems []string
	if !textEdit.Operation.Valid() {
		problems = append(problems, fmt.Sprintf("unknown text edit operation %q", textEdit.Operation))
	}
	problems = append(problems, geometryProblems(textEdit.PageNumber, textEdit.Width, textEdit.Height)...)
	if len(problems) > 0 {
		return s.fail(operation, reasonInvalidItem, fmt.Errorf("%w: %s", ErrInvalidItem, strings.Join(problems, "; ")))
	}
	return nil
}

func geometryProblems(pageNumber int, width, height float64) []string {
	var problems []string
	if pageNumber < 1 {
		problems = append(problems, "page number must be at least 1")
	}
	if width < 0 || height < 0 {
		problems = append(problems, "width and height must not be negative")
	}
	return problems
}

func (p AnnotationPatch) applyTo(annotation records.Annotation) records.Annotation {
	if p.Type != nil {
		annotation.Type = *p.Type
	}
	if p.PageNumber != nil {
		annotation.PageNumber = *p.PageNumber
	}
	if p.X != nil {
		annotation.X = *p.X
	}
	if p.Y != nil {
		annotation.Y = *p.Y
	}
	if p.Width != nil {
		annotation.Width = *p.Width
	}
	if p.Height != nil {
		annotation.Height = *p.Height
	}
	if p.Content != nil {
		annotation.Content = *p.Content
	}
	if p.Text != nil {
		annotation.Text = p.Text
	}
	if p.Color != nil {
		annotation.Color = p.Color
	}
	if p.FontSize != nil {
		annotation.FontSize = p.FontSize
	}
	for _, field := range p.Clear {
		switch field {
		case fieldText:
			annotation.Text = nil
		case fieldColor:
			annotation.Color = nil
		case fieldFontSize:
			annotation.FontSize = nil
		}
	}
	return annotation
}

func (p AnnotationPatch) clearProblems() []string {
	return clearProblems(p.Clear, map[string]bool{
		fieldText:     p.Text != nil,
		fieldColor:    p.Color != nil,
		fieldFontSize: p.FontSize != nil,
	})
}

func (p TextEditPatch) applyTo(textEdit records.TextEdit) records.TextEdit {
	if p.PageNumber != nil {
		textEdit.PageNumber = *p.PageNumber
	}
	if p.X != nil {
		textEdit.X = *p.X
	}
	if p.Y != nil {
		textEdit.Y = *p.Y
	}
	if p.Width != nil {
		textEdit.Width = *p.Width
	}
	if p.Height != nil {
		textEdit.Height = *p.Height
	}
	if p.OriginalText != nil {
		textEdit.OriginalText = *p.OriginalText
	}
	if p.NewText != nil {
		textEdit.NewText = *p.NewText
	}
	if p.Operation != nil {
		textEdit.Operation = *p.Operation
	}
	if p.FontFamily != nil {
		textEdit.FontFamily = p.FontFamily
	}
	if p.FontSize != nil {
		textEdit.FontSize = p.FontSize
	}
	if p.FontWeight != nil {
		textEdit.FontWeight = p.FontWeight
	}
	if p.Color != nil {
		textEdit.Color = p.Color
	}
	for _, field := range p.Clear {
		switch field {
		case fieldFontFamily:
			textEdit.FontFamily = nil
		case fieldFontSize:
			textEdit.FontSize = nil
		case fieldFontWeight:
			textEdit.FontWeight = nil
		case fieldColor:
			textEdit.Color = nil
		}
	}
	return textEdit
}

func (p TextEditPatch) clearProblems() []string {
	return clearProblems(p.Clear, map[string]bool{
		fieldFontFamily: p.FontFamily != nil,
		fieldFontSize:   p.FontSize != nil,
		fieldFontWeight: p.FontWeight != nil,
		fieldColor:      p.Color != nil,
	})
}

// clearProblems checks fields against clearable, which maps each optional
// field name to whether the same patch also sets it.
func clearProblems(fields []string, clearable map[string]bool) []string {
	var problems []string
	for _, field := range fields {
		alsoSet, known := clearable[field]
		switch {
		case !known:
			problems = append(problems, fmt.Sprintf("field %q cannot be cleared", field))
		case alsoSet:
			problems = append(problems, fmt.Sprintf("field %q is both set and cleared", field))
		}
	}
	return problems
}

const (
	fieldText       = "text"
	fieldColor      = "color"
	fieldFontSize   = "font_size"
	fieldFontFamily = "font_family"
	fieldFontWeight = "font_weight"
)

func (s *Service) publishItemChanged(documentID, versionID, itemID string) {
	s.publish(Event{
		DocumentID: documentID,
		Type:       EventItemChanged,
		VersionID:  versionID,
		ItemIDs:    []string{itemID},
	})
}

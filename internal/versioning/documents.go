package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"go.uber.org/zap"
)

const initialVersionMessage = "Initial version"

// NewDocument describes an uploaded PDF about to be registered.
type NewDocument struct {
	Name      string `json:"name"`
	FileHash  string `json:"file_hash"`
	PageCount int    `json:"page_count"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// CreateDocument registers the document together with its first version.
func (s *Service) CreateDocument(ctx context.Context, input NewDocument) (records.Document, error) {
	name := strings.TrimSpace(input.Name)
	fileHash := strings.TrimSpace(input.FileHash)
	switch {
	case name == "":
		return records.Document{}, s.fail(opCreateDocument, reasonInvalidDocument, fmt.Errorf("%w: name is required", ErrInvalidDocument))
	case fileHash == "":
		return records.Document{}, s.fail(opCreateDocument, reasonInvalidDocument, fmt.Errorf("%w: file hash is required", ErrInvalidDocument))
	case input.PageCount < 0:
		return records.Document{}, s.fail(opCreateDocument, reasonInvalidDocument, fmt.Errorf("%w: page count must not be negative", ErrInvalidDocument))
	}

	var document records.Document
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		documentID, err := s.newID(opCreateDocument)
		if err != nil {
			return err
		}
		versionID, err := s.newID(opCreateDocument)
		if err != nil {
			return err
		}
		now := s.now()
		document = records.Document{
			ID:               documentID,
			Name:             name,
			FileHash:         fileHash,
			PageCount:        input.PageCount,
			CurrentVersionID: versionID,
			LatestVersionID:  versionID,
			Thumbnail:        input.Thumbnail,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.PutDocument(ctx, &document); err != nil {
			return s.fail(opCreateDocument, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
		}
		version := records.Version{
			ID:            versionID,
			DocumentID:    documentID,
			VersionNumber: 1,
			Message:       initialVersionMessage,
			CreatedAt:     now,
		}
		if err := tx.PutVersion(ctx, &version); err != nil {
			return s.fail(opCreateDocument, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
		}
		return nil
	})
	if err != nil {
		return records.Document{}, asServiceError(opCreateDocument, err)
	}

	s.loggerOrDefault().Info("document created",
		zap.String(fieldDocumentID, document.ID),
		zap.String("version_id", document.CurrentVersionID),
		zap.Int("page_count", document.PageCount))
	return document, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (records.Document, error) {
	return s.loadDocument(ctx, opGetDocument, documentID)
}

// ListDocuments returns every document, most recently updated first.
func (s *Service) ListDocuments(ctx context.Context) ([]records.Document, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, s.fail(opListDocuments, reasonStorageFailed, storageError(err))
	}
	return documents, nil
}

func (s *Service) RenameDocument(ctx context.Context, documentID, name string) (records.Document, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return records.Document{}, s.fail(opRenameDocument, reasonInvalidDocument,
			fmt.Errorf("%w: name is required", ErrInvalidDocument), zap.String(fieldDocumentID, documentID))
	}

	var document records.Document
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		existing, err := tx.Document(ctx, documentID)
		if errors.Is(err, records.ErrNotFound) {
			return s.fail(opRenameDocument, reasonDocumentNotFound, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID))
		}
		if err != nil {
			return s.fail(opRenameDocument, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
		}
		existing.Name = trimmed
		existing.UpdatedAt = s.now()
		if err := tx.PutDocument(ctx, &existing); err != nil {
			return s.fail(opRenameDocument, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
		}
		document = existing
		return nil
	})
	if err != nil {
		return records.Document{}, asServiceError(opRenameDocument, err)
	}

	s.publish(Event{DocumentID: documentID, Type: EventDocumentUpdated})
	return document, nil
}

// DeleteDocument removes the document with its whole history and ledger.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	err := s.store.Transaction(ctx, func(tx records.Tx) error {
		err := tx.DeleteDocumentCascade(ctx, documentID)
		if errors.Is(err, records.ErrNotFound) {
			return s.fail(opDeleteDocument, reasonDocumentNotFound, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID))
		}
		if err != nil {
			return s.fail(opDeleteDocument, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
		}
		return nil
	})
	if err != nil {
		return asServiceError(opDeleteDocument, err)
	}

	s.diffs.purgeDocument(documentID)
	s.loggerOrDefault().Info("document deleted", zap.String(fieldDocumentID, documentID))
	s.publish(Event{DocumentID: documentID, Type: EventDocumentDeleted})
	return nil
}

// ListVersions returns the document's history in ascending version number.
func (s *Service) ListVersions(ctx context.Context, documentID string) ([]records.Version, error) {
	if _, err := s.loadDocument(ctx, opListVersions, documentID); err != nil {
		return nil, err
	}
	versions, err := s.store.VersionsByDocument(ctx, documentID)
	if err != nil {
		return nil, s.fail(opListVersions, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, versionID string) (records.Version, error) {
	return s.loadVersion(ctx, opGetVersion, versionID)
}

func (s *Service) loadDocument(ctx context.Context, operation, documentID string) (records.Document, error) {
	document, err := s.store.Document(ctx, documentID)
	if errors.Is(err, records.ErrNotFound) {
		return records.Document{}, s.fail(operation, reasonDocumentNotFound, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID))
	}
	if err != nil {
		return records.Document{}, s.fail(operation, reasonStorageFailed, storageError(err), zap.String(fieldDocumentID, documentID))
	}
	return document, nil
}

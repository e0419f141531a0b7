package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/marginalia/internal/lineage"
	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"go.uber.org/zap"
)

const fieldDocumentID = "document_id"

// CommitResult identifies the version created by a commit.
type CommitResult struct {
	VersionID     string `json:"version_id"`
	VersionNumber int64  `json:"version_number"`
}

// CommitVersion snapshots the document's current version into a new one.
// liveAnnotations is the caller's working set at commit time: each entry is
// cloned into the new version under a fresh id with its lineage root preserved.
// Text edits of the prior current version are cloned forward unchanged.
// Either every step is applied or none is.
func (s *Service) CommitVersion(ctx context.Context, documentID, message string, liveAnnotations []records.Annotation) (CommitResult, error) {
	result, err := s.commit(ctx, documentID, message, liveAnnotations, false)
	s.metrics.commitOutcome(err)
	return result, err
}

// CommitWorkingSet commits the unlocked annotations stored for the current version.
func (s *Service) CommitWorkingSet(ctx context.Context, documentID, message string) (CommitResult, error) {
	result, err := s.commit(ctx, documentID, message, nil, true)
	s.metrics.commitOutcome(err)
	return result, err
}

func (s *Service) commit(ctx context.Context, documentID, message string, liveAnnotations []records.Annotation, useStoredWorkingSet bool) (CommitResult, error) {
	trimmedMessage := strings.TrimSpace(message)
	if trimmedMessage == "" {
		return CommitResult{}, s.fail(opCommit, reasonEmptyMessage, ErrEmptyMessage, zap.String(fieldDocumentID, documentID))
	}

	var (
		result        CommitResult
		clonedIDs     []string
		documentField = zap.String(fieldDocumentID, documentID)
	)
	transactionErr := s.store.Transaction(ctx, func(tx records.Tx) error {
		document, err := tx.Document(ctx, documentID)
		if errors.Is(err, records.ErrNotFound) {
			return s.fail(opCommit, reasonDocumentNotFound, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID), documentField)
		}
		if err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}

		maxNumber, err := tx.MaxVersionNumber(ctx, documentID)
		if err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}
		nextNumber := maxNumber + 1

		priorVersionID := document.CurrentVersionID
		if priorVersionID == "" {
			return s.fail(opCommit, reasonNoCurrentVersion, ErrNoCurrentVersion, documentField)
		}

		workingSet := liveAnnotations
		if useStoredWorkingSet {
			stored, err := tx.AnnotationsByVersion(ctx, priorVersionID)
			if err != nil {
				return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
			}
			workingSet = unlockedAnnotations(stored)
		}
		if err := s.validateWorkingSet(priorVersionID, workingSet); err != nil {
			return err
		}

		if _, err := tx.LockAnnotations(ctx, priorVersionID, priorVersionID); err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}
		if _, err := tx.LockTextEdits(ctx, priorVersionID, priorVersionID); err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}

		versionID, err := s.newID(opCommit)
		if err != nil {
			return err
		}
		now := s.now()
		version := records.Version{
			ID:            versionID,
			DocumentID:    documentID,
			VersionNumber: nextNumber,
			Message:       trimmedMessage,
			CreatedAt:     now,
		}
		if err := tx.PutVersion(ctx, &version); err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}
		document.CurrentVersionID = versionID
		document.UpdatedAt = now
		if err := tx.PutDocument(ctx, &document); err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}

		clonedIDs = make([]string, 0, len(workingSet))
		for _, source := range workingSet {
			cloneID, err := s.newID(opCommit)
			if err != nil {
				return err
			}
			clone := source.CloneInto(versionID, cloneID, now)
			if err := tx.PutAnnotation(ctx, &clone); err != nil {
				return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField, zap.String("annotation_id", source.ID))
			}
			clonedIDs = append(clonedIDs, cloneID)
		}

		priorTextEdits, err := tx.TextEditsByVersion(ctx, priorVersionID)
		if err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}
		for _, source := range priorTextEdits {
			cloneID, err := s.newID(opCommit)
			if err != nil {
				return err
			}
			clone := source.CloneInto(versionID, cloneID, now)
			if err := tx.PutTextEdit(ctx, &clone); err != nil {
				return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField, zap.String("text_edit_id", source.ID))
			}
			clonedIDs = append(clonedIDs, cloneID)
		}

		document.LatestVersionID = versionID
		if err := tx.PutDocument(ctx, &document); err != nil {
			return s.fail(opCommit, reasonStorageFailed, storageError(err), documentField)
		}

		result = CommitResult{VersionID: versionID, VersionNumber: nextNumber}
		return nil
	})
	if transactionErr != nil {
		return CommitResult{}, asServiceError(opCommit, transactionErr)
	}

	s.loggerOrDefault().Info("version committed",
		documentField,
		zap.String("version_id", result.VersionID),
		zap.Int64("version_number", result.VersionNumber),
		zap.Int("cloned_items", len(clonedIDs)))
	s.publish(Event{
		DocumentID: documentID,
		Type:       EventVersionCommitted,
		VersionID:  result.VersionID,
		ItemIDs:    clonedIDs,
	})
	return result, nil
}

// validateWorkingSet rejects annotations owned by another version, annotations
// the live path would refuse, and lineage roots that would appear twice among the clones.
func (s *Service) validateWorkingSet(currentVersionID string, workingSet []records.Annotation) error {
	for _, annotation := range workingSet {
		if annotation.VersionID != "" && annotation.VersionID != currentVersionID {
			return s.fail(opCommit, reasonForeignAnnotation,
				fmt.Errorf("%w: annotation %s belongs to version %s", ErrInvalidItem, annotation.ID, annotation.VersionID))
		}
		if err := s.validateAnnotation(opCommit, annotation); err != nil {
			return err
		}
	}

	rooted := make([]records.Annotation, 0, len(workingSet))
	for _, annotation := range workingSet {
		if lineage.ResolveRoot(annotation) != "" {
			rooted = append(rooted, annotation)
		}
	}
	if _, duplicates := lineage.Index(rooted); len(duplicates) > 0 {
		s.metrics.lineageDupes.Add(float64(len(duplicates)))
		return s.fail(opCommit, reasonDuplicateLineage,
			fmt.Errorf("%w: %s", ErrDuplicateLineage, duplicates[0].Root))
	}
	return nil
}

func unlockedAnnotations(annotations []records.Annotation) []records.Annotation {
	live := make([]records.Annotation, 0, len(annotations))
	for _, annotation := range annotations {
		if !annotation.Locked() {
			live = append(live, annotation)
		}
	}
	return live
}

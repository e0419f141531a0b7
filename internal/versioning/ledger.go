package versioning

import (
	"context"
	"encoding/json"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type itemRef struct {
	annotationID *string
	textEditID   *string
}

func annotationRef(id string) itemRef {
	return itemRef{annotationID: &id}
}

func textEditRef(id string) itemRef {
	return itemRef{textEditID: &id}
}

// recordEdit appends a ledger entry for a mutation that already committed.
// Failures are logged and counted but never reach the caller.
func (s *Service) recordEdit(ctx context.Context, editType records.EditType, versionID string, ref itemRef, payload any) {
	fields := []zap.Field{
		zap.String("version_id", versionID),
		zap.String("edit_type", string(editType)),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.metrics.ledgerFailure.Inc()
		s.logError(opRecordEdit, reasonEncodeFailed, err, fields...)
		return
	}
	id, err := s.newID(opRecordEdit)
	if err != nil {
		s.metrics.ledgerFailure.Inc()
		return
	}
	edit := records.Edit{
		ID:           id,
		VersionID:    versionID,
		Type:         editType,
		AnnotationID: ref.annotationID,
		TextEditID:   ref.textEditID,
		Timestamp:    s.now(),
		Data:         datatypes.JSON(data),
	}
	if err := s.store.AppendEdit(ctx, &edit); err != nil {
		s.metrics.ledgerFailure.Inc()
		s.logError(opRecordEdit, reasonStorageFailed, err, fields...)
	}
}

// ListEdits returns the ledger entries of a version in timestamp order.
func (s *Service) ListEdits(ctx context.Context, versionID string) ([]records.Edit, error) {
	if _, err := s.loadVersion(ctx, opListEdits, versionID); err != nil {
		return nil, err
	}
	edits, err := s.store.EditsByVersion(ctx, versionID)
	if err != nil {
		return nil, s.fail(opListEdits, reasonStorageFailed, storageError(err), zap.String("version_id", versionID))
	}
	return edits, nil
}

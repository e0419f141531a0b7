package versioning

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of them.
var (
	ErrNotFound           = errors.New("versioning: not found")
	ErrValidation         = errors.New("versioning: validation failed")
	ErrStorage            = errors.New("versioning: storage failure")
	ErrInvariantViolation = errors.New("versioning: invariant violation")
)

var (
	ErrDocumentNotFound   = fmt.Errorf("%w: document", ErrNotFound)
	ErrVersionNotFound    = fmt.Errorf("%w: version", ErrNotFound)
	ErrAnnotationNotFound = fmt.Errorf("%w: annotation", ErrNotFound)
	ErrTextEditNotFound   = fmt.Errorf("%w: text edit", ErrNotFound)

	ErrEmptyMessage     = fmt.Errorf("%w: commit message is empty", ErrValidation)
	ErrNoCurrentVersion = fmt.Errorf("%w: document has no current version", ErrValidation)
	ErrItemLocked       = fmt.Errorf("%w: item is locked by a committed version", ErrValidation)
	ErrVersionMismatch  = fmt.Errorf("%w: versions belong to different documents", ErrValidation)
	ErrInvalidItem      = fmt.Errorf("%w: invalid item", ErrValidation)
	ErrInvalidDocument  = fmt.Errorf("%w: invalid document", ErrValidation)

	ErrDuplicateLineage = fmt.Errorf("%w: duplicate lineage root", ErrInvariantViolation)

	errMissingStore      = errors.New("record store is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opServiceNew       = "versioning.service.new"
	opCommit           = "versioning.commit"
	opDiff             = "versioning.diff"
	opOrderPair        = "versioning.order_pair"
	opCreateDocument   = "versioning.create_document"
	opGetDocument      = "versioning.get_document"
	opListDocuments    = "versioning.list_documents"
	opRenameDocument   = "versioning.rename_document"
	opDeleteDocument   = "versioning.delete_document"
	opListVersions     = "versioning.list_versions"
	opGetVersion       = "versioning.get_version"
	opAddAnnotation    = "versioning.add_annotation"
	opUpdateAnnotation = "versioning.update_annotation"
	opDeleteAnnotation = "versioning.delete_annotation"
	opListAnnotations  = "versioning.list_annotations"
	opAddTextEdit      = "versioning.add_text_edit"
	opUpdateTextEdit   = "versioning.update_text_edit"
	opDeleteTextEdit   = "versioning.delete_text_edit"
	opListTextEdits    = "versioning.list_text_edits"
	opRecordEdit       = "versioning.record_edit"
	opListEdits        = "versioning.list_edits"
)

const (
	reasonMissingStore       = "missing_store"
	reasonMissingIDProvider  = "missing_id_provider"
	reasonEmptyMessage       = "empty_message"
	reasonDocumentNotFound   = "document_not_found"
	reasonVersionNotFound    = "version_not_found"
	reasonItemNotFound       = "item_not_found"
	reasonNoCurrentVersion   = "no_current_version"
	reasonItemLocked         = "item_locked"
	reasonVersionMismatch    = "version_mismatch"
	reasonInvalidItem        = "invalid_item"
	reasonInvalidDocument    = "invalid_document"
	reasonForeignAnnotation  = "foreign_annotation"
	reasonDuplicateLineage   = "duplicate_lineage"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonStorageFailed      = "storage_failed"
	reasonEncodeFailed       = "encode_failed"
)

// ServiceError carries a stable operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind names the error category for transport mapping.
func (e *ServiceError) Kind() string {
	return Kind(e)
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Kind names the category of err: not_found, validation, storage, invariant_violation or internal.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// storageError marks a backing-store failure as retryable while keeping the cause inspectable.
func storageError(err error) error {
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// asServiceError passes through errors that were already classified inside a transaction.
func asServiceError(operation string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	return newServiceError(operation, reasonStorageFailed, storageError(err))
}

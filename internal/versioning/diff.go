package versioning

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/lineage"
	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"go.uber.org/zap"
)

// DiffKind classifies an item between two versions.
type DiffKind string

const (
	DiffAdded     DiffKind = "added"
	DiffRemoved   DiffKind = "removed"
	DiffModified  DiffKind = "modified"
	DiffUntouched DiffKind = "untouched"
)

// DiffEntry is one classified item. Current is the newer row, or the old row
// for removed items; Previous is set only for modified items.
type DiffEntry[T any] struct {
	Kind     DiffKind `json:"kind"`
	Current  T        `json:"current"`
	Previous *T       `json:"previous,omitempty"`
}

// VersionDiff holds the classification of every annotation and text edit of two versions.
type VersionDiff struct {
	OldVersionID    string                          `json:"old_version_id"`
	NewVersionID    string                          `json:"new_version_id"`
	AnnotationDiffs []DiffEntry[records.Annotation] `json:"annotation_diffs"`
	TextEditDiffs   []DiffEntry[records.TextEdit]   `json:"text_edit_diffs"`
}

// DiffVersions classifies every item of the two versions as added, removed,
// modified or untouched by matching lineage roots. Callers pass the older
// version first. Results for superseded version pairs are memoised.
func (s *Service) DiffVersions(ctx context.Context, oldVersionID, newVersionID string) (VersionDiff, error) {
	oldVersion, newVersion, err := s.loadPair(ctx, opDiff, oldVersionID, newVersionID)
	if err != nil {
		s.metrics.diffs.WithLabelValues("error").Inc()
		return VersionDiff{}, err
	}

	cacheable := false
	document, err := s.store.Document(ctx, oldVersion.DocumentID)
	if err == nil {
		cacheable = document.CurrentVersionID != oldVersion.ID && document.CurrentVersionID != newVersion.ID
	}

	diff, source, err := s.diffs.do(oldVersion.ID, newVersion.ID, oldVersion.DocumentID, cacheable, func() (VersionDiff, error) {
		started := time.Now()
		computed, computeErr := s.computeDiff(ctx, oldVersion, newVersion)
		s.metrics.diffDuration.Observe(time.Since(started).Seconds())
		return computed, computeErr
	})
	if err != nil {
		s.metrics.diffs.WithLabelValues("error").Inc()
		return VersionDiff{}, err
	}
	s.metrics.diffs.WithLabelValues(source).Inc()
	return diff, nil
}

// OrderedPair returns the two version ids sorted by ascending version number.
func (s *Service) OrderedPair(ctx context.Context, firstVersionID, secondVersionID string) (string, string, error) {
	first, second, err := s.loadPair(ctx, opOrderPair, firstVersionID, secondVersionID)
	if err != nil {
		return "", "", err
	}
	if first.VersionNumber > second.VersionNumber {
		return second.ID, first.ID, nil
	}
	return first.ID, second.ID, nil
}

func (s *Service) loadPair(ctx context.Context, operation, firstVersionID, secondVersionID string) (records.Version, records.Version, error) {
	first, err := s.loadVersion(ctx, operation, firstVersionID)
	if err != nil {
		return records.Version{}, records.Version{}, err
	}
	second, err := s.loadVersion(ctx, operation, secondVersionID)
	if err != nil {
		return records.Version{}, records.Version{}, err
	}
	if first.DocumentID != second.DocumentID {
		return records.Version{}, records.Version{}, s.fail(operation, reasonVersionMismatch,
			fmt.Errorf("%w: %s and %s", ErrVersionMismatch, first.ID, second.ID))
	}
	return first, second, nil
}

func (s *Service) loadVersion(ctx context.Context, operation, versionID string) (records.Version, error) {
	version, err := s.store.Version(ctx, versionID)
	if errors.Is(err, records.ErrNotFound) {
		return records.Version{}, s.fail(operation, reasonVersionNotFound, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID))
	}
	if err != nil {
		return records.Version{}, s.fail(operation, reasonStorageFailed, storageError(err), zap.String("version_id", versionID))
	}
	return version, nil
}

func (s *Service) computeDiff(ctx context.Context, oldVersion, newVersion records.Version) (VersionDiff, error) {
	oldAnnotations, err := s.store.AnnotationsByVersion(ctx, oldVersion.ID)
	if err != nil {
		return VersionDiff{}, s.fail(opDiff, reasonStorageFailed, storageError(err), zap.String("version_id", oldVersion.ID))
	}
	newAnnotations, err := s.store.AnnotationsByVersion(ctx, newVersion.ID)
	if err != nil {
		return VersionDiff{}, s.fail(opDiff, reasonStorageFailed, storageError(err), zap.String("version_id", newVersion.ID))
	}
	oldTextEdits, err := s.store.TextEditsByVersion(ctx, oldVersion.ID)
	if err != nil {
		return VersionDiff{}, s.fail(opDiff, reasonStorageFailed, storageError(err), zap.String("version_id", oldVersion.ID))
	}
	newTextEdits, err := s.store.TextEditsByVersion(ctx, newVersion.ID)
	if err != nil {
		return VersionDiff{}, s.fail(opDiff, reasonStorageFailed, storageError(err), zap.String("version_id", newVersion.ID))
	}

	annotationDiffs, annotationDupes := classify(oldAnnotations, newAnnotations, annotationFieldsDiffer)
	s.warnDuplicates("annotation", oldVersion.ID, newVersion.ID, annotationDupes)
	sortEntries(annotationDiffs, func(a records.Annotation) position {
		return position{page: a.PageNumber, y: a.Y, x: a.X, root: lineage.ResolveRoot(a), id: a.ID}
	})

	textEditDiffs, textEditDupes := classify(oldTextEdits, newTextEdits, textEditFieldsDiffer)
	s.warnDuplicates("text_edit", oldVersion.ID, newVersion.ID, textEditDupes)
	sortEntries(textEditDiffs, func(e records.TextEdit) position {
		return position{page: e.PageNumber, y: e.Y, x: e.X, root: lineage.ResolveRoot(e), id: e.ID}
	})

	return VersionDiff{
		OldVersionID:    oldVersion.ID,
		NewVersionID:    newVersion.ID,
		AnnotationDiffs: annotationDiffs,
		TextEditDiffs:   textEditDiffs,
	}, nil
}

func (s *Service) warnDuplicates(family, oldVersionID, newVersionID string, duplicates []lineage.Duplicate) {
	if len(duplicates) == 0 {
		return
	}
	s.metrics.lineageDupes.Add(float64(len(duplicates)))
	for _, duplicate := range duplicates {
		s.loggerOrDefault().Warn("duplicate lineage root within version",
			zap.String("operation", opDiff),
			zap.String("family", family),
			zap.String("old_version_id", oldVersionID),
			zap.String("new_version_id", newVersionID),
			zap.String("lineage_root", duplicate.Root),
			zap.String("kept_id", duplicate.KeptRowID),
			zap.Strings("ignored_ids", duplicate.DroppedIDs))
	}
}

// classify matches rows by lineage root. Duplicate roots on either side are
// reported; on the old side the first row wins.
func classify[T lineage.Item](oldRows, newRows []T, fieldsDiffer func(previous, current T) bool) ([]DiffEntry[T], []lineage.Duplicate) {
	oldByRoot, duplicates := lineage.Index(oldRows)
	newByRoot, newDuplicates := lineage.Index(newRows)
	duplicates = append(duplicates, newDuplicates...)

	entries := make([]DiffEntry[T], 0, len(newRows)+len(oldRows))
	for _, current := range newRows {
		previous, found := oldByRoot[lineage.ResolveRoot(current)]
		switch {
		case !found:
			entries = append(entries, DiffEntry[T]{Kind: DiffAdded, Current: current})
		case fieldsDiffer(previous, current):
			previousCopy := previous
			entries = append(entries, DiffEntry[T]{Kind: DiffModified, Current: current, Previous: &previousCopy})
		default:
			entries = append(entries, DiffEntry[T]{Kind: DiffUntouched, Current: current})
		}
	}
	for _, previous := range oldRows {
		root := lineage.ResolveRoot(previous)
		if oldByRoot[root].RowID() != previous.RowID() {
			continue
		}
		if _, kept := newByRoot[root]; !kept {
			entries = append(entries, DiffEntry[T]{Kind: DiffRemoved, Current: previous})
		}
	}
	return entries, duplicates
}

func annotationFieldsDiffer(previous, current records.Annotation) bool {
	return previous.X != current.X ||
		previous.Y != current.Y ||
		previous.Width != current.Width ||
		previous.Height != current.Height ||
		previous.PageNumber != current.PageNumber ||
		previous.Type != current.Type ||
		previous.Content != current.Content ||
		!equalPointers(previous.Text, current.Text) ||
		!equalPointers(previous.Color, current.Color) ||
		!equalPointers(previous.FontSize, current.FontSize)
}

func textEditFieldsDiffer(previous, current records.TextEdit) bool {
	return previous.X != current.X ||
		previous.Y != current.Y ||
		previous.Width != current.Width ||
		previous.Height != current.Height ||
		previous.PageNumber != current.PageNumber ||
		previous.NewText != current.NewText ||
		previous.OriginalText != current.OriginalText ||
		previous.Operation != current.Operation
}

func equalPointers[T comparable](left, right *T) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}

type position struct {
	page int
	y    float64
	x    float64
	root string
	id   string
}

var kindRank = map[DiffKind]int{DiffRemoved: 0, DiffModified: 1, DiffAdded: 2, DiffUntouched: 3}

// sortEntries orders entries by page, then position, then lineage root so that
// identical inputs always serialize identically.
func sortEntries[T any](entries []DiffEntry[T], locate func(T) position) {
	slices.SortStableFunc(entries, func(left, right DiffEntry[T]) int {
		a, b := locate(left.Current), locate(right.Current)
		return cmp.Or(
			cmp.Compare(a.page, b.page),
			cmp.Compare(a.y, b.y),
			cmp.Compare(a.x, b.x),
			cmp.Compare(a.root, b.root),
			cmp.Compare(kindRank[left.Kind], kindRank[right.Kind]),
			cmp.Compare(a.id, b.id),
		)
	})
}

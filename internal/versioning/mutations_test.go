package versioning

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLockedAnnotationsRejectMutations(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	document := harness.createDocument(t)
	annotation := harness.addAnnotation(t, document.ID, 1, 10, 10)
	harness.commit(t, document.ID, "freeze")

	moved := 42.0
	_, err := harness.service.UpdateAnnotation(ctx, annotation.ID, AnnotationPatch{X: &moved})
	if !errors.Is(err, ErrItemLocked) {
		t.Fatalf("expected ErrItemLocked on update, got %v", err)
	}
	requireCode(t, err, "versioning.update_annotation.item_locked")

	if err := harness.service.DeleteAnnotation(ctx, annotation.ID); !errors.Is(err, ErrItemLocked) {
		t.Fatalf("expected ErrItemLocked on delete, got %v", err)
	}

	stored, err := harness.store.Annotation(ctx, annotation.ID)
	if err != nil {
		t.Fatalf("locked annotation must survive: %v", err)
	}
	if stored.X != 10 || !stored.UpdatedAt.Equal(annotation.UpdatedAt) {
		t.Fatalf("locked annotation changed: %+v", stored)
	}
}

func TestAnnotationsOutsideCurrentVersionAreReadOnly(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	document := harness.createDocument(t)

	stale := records.Annotation{
		ID:         "stale",
		VersionID:  "detached-version",
		Type:       records.AnnotationTypeNote,
		PageNumber: 1,
		CreatedAt:  harness.clock.Now(),
		UpdatedAt:  harness.clock.Now(),
	}
	if err := harness.store.PutVersion(ctx, &records.Version{ID: "detached-version", DocumentID: document.ID, VersionNumber: 7, Message: "detached", CreatedAt: harness.clock.Now()}); err != nil {
		t.Fatalf("failed to seed version: %v", err)
	}
	if err := harness.store.PutAnnotation(ctx, &stale); err != nil {
		t.Fatalf("failed to seed annotation: %v", err)
	}

	if err := harness.service.DeleteAnnotation(ctx, stale.ID); !errors.Is(err, ErrItemLocked) {
		t.Fatalf("expected ErrItemLocked, got %v", err)
	}
}

func TestAnnotationMutationLifecycle(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	document := harness.createDocument(t)
	annotation := harness.addAnnotation(t, document.ID, 2, 10, 10)

	if annotation.VersionID != document.CurrentVersionID {
		t.Fatalf("expected annotation in current version %s, got %s", document.CurrentVersionID, annotation.VersionID)
	}

	content := "revised"
	updated, err := harness.service.UpdateAnnotation(ctx, annotation.ID, AnnotationPatch{Content: &content})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Content != "revised" || updated.X != 10 {
		t.Fatalf("unexpected patched annotation %+v", updated)
	}
	if !updated.UpdatedAt.After(annotation.UpdatedAt) {
		t.Fatalf("expected updated_at to advance")
	}

	page := 2
	onPage, err := harness.service.ListAnnotations(ctx, document.CurrentVersionID, &page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(onPage) != 1 {
		t.Fatalf("expected one annotation on page 2, got %d", len(onPage))
	}
	otherPage := 1
	empty, err := harness.service.ListAnnotations(ctx, document.CurrentVersionID, &otherPage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no annotations on page 1, got %d", len(empty))
	}

	if err := harness.service.DeleteAnnotation(ctx, annotation.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := harness.service.DeleteAnnotation(ctx, annotation.ID); !errors.Is(err, ErrAnnotationNotFound) {
		t.Fatalf("expected ErrAnnotationNotFound on second delete, got %v", err)
	}

	edits, err := harness.service.ListEdits(ctx, document.CurrentVersionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantTypes := []records.EditType{records.EditTypeAdd, records.EditTypeUpdate, records.EditTypeDelete}
	if len(edits) != len(wantTypes) {
		t.Fatalf("expected %d ledger entries, got %d", len(wantTypes), len(edits))
	}
	for index, edit := range edits {
		if edit.Type != wantTypes[index] {
			t.Fatalf("entry %d: expected %s, got %s", index, wantTypes[index], edit.Type)
		}
		if edit.AnnotationID == nil || *edit.AnnotationID != annotation.ID || edit.TextEditID != nil {
			t.Fatalf("entry %d references the wrong item: %+v", index, edit)
		}
	}
	var payload map[string]any
	if err := json.Unmarshal(edits[1].Data, &payload); err != nil {
		t.Fatalf("ledger data is not json: %v", err)
	}
	if payload["content"] != "revised" {
		t.Fatalf("expected update payload to carry the patch, got %v", payload)
	}

	types := harness.events.types()
	itemEvents := 0
	for _, eventType := range types {
		if eventType == EventItemChanged {
			itemEvents++
		}
	}
	if itemEvents != 3 {
		t.Fatalf("expected 3 item events, got %d (%v)", itemEvents, types)
	}
}

func TestAnnotationInputValidation(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	document := harness.createDocument(t)

	testCases := []struct {
		name  string
		input AnnotationInput
	}{
		{name: "unknown type", input: AnnotationInput{Type: "stamp", PageNumber: 1}},
		{name: "page zero", input: AnnotationInput{Type: records.AnnotationTypeHighlight, PageNumber: 0}},
		{name: "negative width", input: AnnotationInput{Type: records.AnnotationTypeHighlight, PageNumber: 1, Width: -1}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := harness.service.AddAnnotation(ctx, document.ID, testCase.input)
			if !errors.Is(err, ErrInvalidItem) {
				t.Fatalf("expected ErrInvalidItem, got %v", err)
			}
			requireCode(t, err, "versioning.add_annotation.invalid_item")
		})
	}

	if _, err := harness.service.AddAnnotation(ctx, "missing", AnnotationInput{Type: records.AnnotationTypeNote, PageNumber: 1}); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if annotations := harness.annotationsOf(t, document.CurrentVersionID); len(annotations) != 0 {
		t.Fatalf("rejected input must not be stored, got %d rows", len(annotations))
	}
}

func TestTextEditMutationLifecycle(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	document := harness.createDocument(t)

	_, err := harness.service.AddTextEdit(ctx, document.ID, TextEditInput{PageNumber: 1, Operation: "rewrite"})
	if !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem for unknown operation, got %v", err)
	}

	textEdit, err := harness.service.AddTextEdit(ctx, document.ID, TextEditInput{
		PageNumber: 1,
		Width:      50,
		Height:     10,
		NewText:    "Hello",
		Operation:  records.TextEditInsert,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	replaced := records.TextEditReplace
	original := "Hi"
	updated, err := harness.service.UpdateTextEdit(ctx, textEdit.ID, TextEditPatch{Operation: &replaced, OriginalText: &original})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Operation != records.TextEditReplace || updated.OriginalText != "Hi" || updated.NewText != "Hello" {
		t.Fatalf("unexpected patched text edit %+v", updated)
	}

	harness.commit(t, document.ID, "freeze")
	if _, err := harness.service.UpdateTextEdit(ctx, textEdit.ID, TextEditPatch{Operation: &replaced}); !errors.Is(err, ErrItemLocked) {
		t.Fatalf("expected ErrItemLocked, got %v", err)
	}
	if err := harness.service.DeleteTextEdit(ctx, textEdit.ID); !errors.Is(err, ErrItemLocked) {
		t.Fatalf("expected ErrItemLocked on delete, got %v", err)
	}
	if err := harness.service.DeleteTextEdit(ctx, "missing"); !errors.Is(err, ErrTextEditNotFound) {
		t.Fatalf("expected ErrTextEditNotFound, got %v", err)
	}

	edits, err := harness.service.ListEdits(ctx, document.CurrentVersionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("expected add and update ledger entries, got %d", len(edits))
	}
	if edits[0].TextEditID == nil || *edits[0].TextEditID != textEdit.ID {
		t.Fatalf("expected ledger entry to reference the text edit, got %+v", edits[0])
	}
}

func TestPatchClearsOptionalFields(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	document := harness.createDocument(t)

	text, color, size := "margin note", "#ff0000", 12.0
	annotation, err := harness.service.AddAnnotation(ctx, document.ID, AnnotationInput{
		Type:       records.AnnotationTypeNote,
		PageNumber: 1,
		Width:      20,
		Height:     20,
		Text:       &text,
		Color:      &color,
		FontSize:   &size,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cleared, err := harness.service.UpdateAnnotation(ctx, annotation.ID, AnnotationPatch{Clear: []string{"color", "font_size"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleared.Color != nil || cleared.FontSize != nil {
		t.Fatalf("expected color and font size cleared, got %+v", cleared)
	}
	if cleared.Text == nil || *cleared.Text != text {
		t.Fatalf("expected text untouched, got %+v", cleared.Text)
	}
	stored := harness.annotationsOf(t, document.CurrentVersionID)
	if len(stored) != 1 || stored[0].Color != nil || stored[0].FontSize != nil {
		t.Fatalf("expected cleared fields persisted, got %+v", stored)
	}

	var decoded AnnotationPatch
	if err := json.Unmarshal([]byte(`{"clear":["text"]}`), &decoded); err != nil {
		t.Fatalf("failed to decode patch: %v", err)
	}
	cleared, err = harness.service.UpdateAnnotation(ctx, annotation.ID, decoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleared.Text != nil {
		t.Fatalf("expected text cleared, got %q", *cleared.Text)
	}

	_, err = harness.service.UpdateAnnotation(ctx, annotation.ID, AnnotationPatch{Clear: []string{"content"}})
	if !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem for non-optional field, got %v", err)
	}
	requireCode(t, err, "versioning.update_annotation.invalid_item")
	_, err = harness.service.UpdateAnnotation(ctx, annotation.ID, AnnotationPatch{Color: &color, Clear: []string{"color"}})
	if !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem for field both set and cleared, got %v", err)
	}

	family, weight := "Helvetica", "bold"
	textEdit, err := harness.service.AddTextEdit(ctx, document.ID, TextEditInput{
		PageNumber: 1,
		Width:      50,
		Height:     10,
		NewText:    "Hello",
		Operation:  records.TextEditInsert,
		FontFamily: &family,
		FontSize:   &size,
		FontWeight: &weight,
		Color:      &color,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	updated, err := harness.service.UpdateTextEdit(ctx, textEdit.ID, TextEditPatch{Clear: []string{"font_family", "font_weight", "color"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.FontFamily != nil || updated.FontWeight != nil || updated.Color != nil {
		t.Fatalf("expected font family, weight and color cleared, got %+v", updated)
	}
	if updated.FontSize == nil || *updated.FontSize != size {
		t.Fatalf("expected font size untouched, got %+v", updated.FontSize)
	}
	_, err = harness.service.UpdateTextEdit(ctx, textEdit.ID, TextEditPatch{Clear: []string{"new_text"}})
	if !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem for non-optional field, got %v", err)
	}
	requireCode(t, err, "versioning.update_text_edit.invalid_item")
}

func TestLedgerFailureDoesNotFailMutation(t *testing.T) {
	harness := newTestHarness(t)
	ctx := context.Background()
	document := harness.createDocument(t)

	faulty := &faultyStore{Store: harness.store, failLedger: true}
	service := harness.newService(t, faulty)

	annotation, err := service.AddAnnotation(ctx, document.ID, AnnotationInput{Type: records.AnnotationTypeNote, PageNumber: 1})
	if err != nil {
		t.Fatalf("ledger failure leaked into mutation: %v", err)
	}
	if _, err := harness.store.Annotation(ctx, annotation.ID); err != nil {
		t.Fatalf("annotation must be stored: %v", err)
	}
	edits, err := harness.service.ListEdits(ctx, document.CurrentVersionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 0 {
		t.Fatalf("expected no ledger entries, got %d", len(edits))
	}
	if got := testutil.ToFloat64(harness.metrics.ledgerFailure); got != 1 {
		t.Fatalf("expected one ledger failure recorded, got %v", got)
	}
}

package pdfintake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// minimalPDF renders a valid PDF with the requested number of blank pages.
func minimalPDF(pages int) []byte {
	var (
		builder strings.Builder
		offsets []int
	)
	builder.WriteString("%PDF-1.4\n")
	writeObject := func(body string) {
		offsets = append(offsets, builder.Len())
		fmt.Fprintf(&builder, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	kids := make([]string, 0, pages)
	for page := 0; page < pages; page++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", page+3))
	}
	writeObject("<< /Type /Catalog /Pages 2 0 R >>")
	writeObject(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for page := 0; page < pages; page++ {
		writeObject("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xrefOffset := builder.Len()
	fmt.Fprintf(&builder, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, offset := range offsets {
		fmt.Fprintf(&builder, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&builder, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefOffset)
	return []byte(builder.String())
}

func TestInspectCountsPages(t *testing.T) {
	inspector := NewInspector(nil)
	payload := minimalPDF(3)

	inspection, err := inspector.Inspect(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspection.PageCount != 3 {
		t.Fatalf("expected 3 pages, got %d", inspection.PageCount)
	}
	if inspection.SizeBytes != int64(len(payload)) {
		t.Fatalf("expected size %d, got %d", len(payload), inspection.SizeBytes)
	}
	if !strings.HasPrefix(inspection.FileHash, "sha256:") || len(inspection.FileHash) != len("sha256:")+64 {
		t.Fatalf("unexpected file hash %q", inspection.FileHash)
	}

	path := filepath.Join(t.TempDir(), "upload.pdf")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	fromFile, err := inspector.InspectFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromFile != inspection {
		t.Fatalf("file and byte inspection differ: %+v vs %+v", fromFile, inspection)
	}
}

func TestInspectRejectsBadInput(t *testing.T) {
	inspector := NewInspector(nil)

	if _, err := inspector.Inspect(context.Background(), nil); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if _, err := inspector.Inspect(context.Background(), []byte("plain text, not a pdf")); !errors.Is(err, ErrUnreadablePDF) {
		t.Fatalf("expected ErrUnreadablePDF, got %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := inspector.Inspect(cancelled, minimalPDF(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestHashIsStable(t *testing.T) {
	first, size, err := Hash(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 3 {
		t.Fatalf("expected 3 bytes, got %d", size)
	}
	if first != "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %s", first)
	}
}

// Package pdfintake fingerprints uploaded PDFs and reads their page count
// before a document is registered.
package pdfintake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

const hashPrefix = "sha256:"

var (
	// ErrUnreadablePDF indicates that the payload could not be parsed as a PDF.
	ErrUnreadablePDF = errors.New("pdfintake: unreadable pdf")
	// ErrEmptyPayload indicates a zero-length upload.
	ErrEmptyPayload = errors.New("pdfintake: empty payload")
)

// Inspection summarizes an uploaded PDF.
type Inspection struct {
	FileHash  string `json:"file_hash"`
	PageCount int    `json:"page_count"`
	SizeBytes int64  `json:"size_bytes"`
}

// Inspector reads PDFs with relaxed validation so that slightly malformed
// files from real-world producers are still accepted.
type Inspector struct {
	logger *zap.Logger
}

func NewInspector(logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{logger: logger}
}

// Inspect hashes the payload and counts its pages.
func (i *Inspector) Inspect(ctx context.Context, payload []byte) (Inspection, error) {
	if err := ctx.Err(); err != nil {
		return Inspection{}, err
	}
	if len(payload) == 0 {
		return Inspection{}, ErrEmptyPayload
	}

	fileHash, size, err := Hash(bytes.NewReader(payload))
	if err != nil {
		return Inspection{}, err
	}

	pageCount, err := api.PageCount(bytes.NewReader(payload), relaxedConfiguration())
	if err != nil {
		i.logger.Warn("pdf page count failed", zap.String("file_hash", fileHash), zap.Error(err))
		return Inspection{}, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}

	return Inspection{FileHash: fileHash, PageCount: pageCount, SizeBytes: size}, nil
}

// InspectFile reads the file at path and inspects it.
func (i *Inspector) InspectFile(ctx context.Context, path string) (Inspection, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Inspection{}, err
	}
	return i.Inspect(ctx, payload)
}

// Hash returns the content fingerprint of r and the number of bytes read.
func Hash(r io.Reader) (string, int64, error) {
	digest := sha256.New()
	size, err := io.Copy(digest, r)
	if err != nil {
		return "", 0, err
	}
	return hashPrefix + hex.EncodeToString(digest.Sum(nil)), size, nil
}

func relaxedConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

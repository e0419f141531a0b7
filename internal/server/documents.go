package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/marginalia/internal/pdfintake"
	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"github.com/MarcoPoloResearchLab/marginalia/internal/versioning"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	uploadFormField    = "file"
	uploadNameField    = "name"
	maxUploadSizeBytes = 64 << 20
)

type renameRequestPayload struct {
	Name string `json:"name"`
}

type commitRequestPayload struct {
	Message     string               `json:"message"`
	Annotations []records.Annotation `json:"annotations"`
}

// handleCreateDocument accepts either a multipart PDF upload or a JSON
// description of an already fingerprinted file.
func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	var input versioning.NewDocument
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		inspected, ok := h.inspectUpload(c)
		if !ok {
			return
		}
		input = inspected
	} else if err := c.ShouldBindJSON(&input); err != nil {
		respondInvalidRequest(c)
		return
	}

	document, err := h.service.CreateDocument(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, document)
}

func (h *httpHandler) inspectUpload(c *gin.Context) (versioning.NewDocument, bool) {
	header, err := c.FormFile(uploadFormField)
	if err != nil {
		respondInvalidRequest(c)
		return versioning.NewDocument{}, false
	}
	if header.Size > maxUploadSizeBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		return versioning.NewDocument{}, false
	}
	file, err := header.Open()
	if err != nil {
		respondInvalidRequest(c)
		return versioning.NewDocument{}, false
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		respondInvalidRequest(c)
		return versioning.NewDocument{}, false
	}

	inspection, err := h.inspector.Inspect(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, pdfintake.ErrUnreadablePDF) || errors.Is(err, pdfintake.ErrEmptyPayload) {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "validation", "code": "pdfintake.unreadable_pdf"})
			return versioning.NewDocument{}, false
		}
		h.logger.Error("pdf inspection failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return versioning.NewDocument{}, false
	}

	name := strings.TrimSpace(c.PostForm(uploadNameField))
	if name == "" {
		name = header.Filename
	}
	return versioning.NewDocument{
		Name:      name,
		FileHash:  inspection.FileHash,
		PageCount: inspection.PageCount,
	}, true
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	documents, err := h.service.ListDocuments(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": documents})
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	document, err := h.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleRenameDocument(c *gin.Context) {
	var request renameRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}
	document, err := h.service.RenameDocument(c.Request.Context(), c.Param("id"), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	if err := h.service.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	versions, err := h.service.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *httpHandler) handleGetVersion(c *gin.Context) {
	version, err := h.service.GetVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

// handleCommit commits the supplied working set, or the stored unlocked
// annotations when the request carries no annotation list.
func (h *httpHandler) handleCommit(c *gin.Context) {
	var request commitRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondInvalidRequest(c)
		return
	}

	var (
		result versioning.CommitResult
		err    error
	)
	if request.Annotations != nil {
		result, err = h.service.CommitVersion(c.Request.Context(), c.Param("id"), request.Message, request.Annotations)
	} else {
		result, err = h.service.CommitWorkingSet(c.Request.Context(), c.Param("id"), request.Message)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// handleDiff accepts the two versions in either order.
func (h *httpHandler) handleDiff(c *gin.Context) {
	first := strings.TrimSpace(c.Query("old"))
	second := strings.TrimSpace(c.Query("new"))
	if first == "" || second == "" {
		respondInvalidRequest(c)
		return
	}
	oldVersionID, newVersionID, err := h.service.OrderedPair(c.Request.Context(), first, second)
	if err != nil {
		h.respondError(c, err)
		return
	}
	diff, err := h.service.DiffVersions(c.Request.Context(), oldVersionID, newVersionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

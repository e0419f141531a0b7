package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/marginalia/internal/versioning"
	"github.com/gin-gonic/gin"
)

const pageQueryKey = "page"

func (h *httpHandler) handleAddAnnotation(c *gin.Context) {
	var input versioning.AnnotationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondInvalidRequest(c)
		return
	}
	annotation, err := h.service.AddAnnotation(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, annotation)
}

func (h *httpHandler) handleUpdateAnnotation(c *gin.Context) {
	var patch versioning.AnnotationPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondInvalidRequest(c)
		return
	}
	annotation, err := h.service.UpdateAnnotation(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, annotation)
}

func (h *httpHandler) handleDeleteAnnotation(c *gin.Context) {
	if err := h.service.DeleteAnnotation(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListAnnotations(c *gin.Context) {
	page, ok := pageFilter(c)
	if !ok {
		return
	}
	annotations, err := h.service.ListAnnotations(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"annotations": annotations})
}

func (h *httpHandler) handleAddTextEdit(c *gin.Context) {
	var input versioning.TextEditInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondInvalidRequest(c)
		return
	}
	textEdit, err := h.service.AddTextEdit(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, textEdit)
}

func (h *httpHandler) handleUpdateTextEdit(c *gin.Context) {
	var patch versioning.TextEditPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondInvalidRequest(c)
		return
	}
	textEdit, err := h.service.UpdateTextEdit(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, textEdit)
}

func (h *httpHandler) handleDeleteTextEdit(c *gin.Context) {
	if err := h.service.DeleteTextEdit(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListTextEdits(c *gin.Context) {
	page, ok := pageFilter(c)
	if !ok {
		return
	}
	textEdits, err := h.service.ListTextEdits(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text_edits": textEdits})
}

func (h *httpHandler) handleListEdits(c *gin.Context) {
	edits, err := h.service.ListEdits(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"edits": edits})
}

// pageFilter parses the optional page query parameter; it writes a 400 and
// returns false when the value is present but not a positive integer.
func pageFilter(c *gin.Context) (*int, bool) {
	raw, present := c.GetQuery(pageQueryKey)
	if !present {
		return nil, true
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		respondInvalidRequest(c)
		return nil, false
	}
	return &page, true
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/docguard/internal/authz"
	"github.com/vyrodovalexey/docguard/internal/docstore"
	"github.com/vyrodovalexey/docguard/internal/observability"
	"github.com/vyrodovalexey/docguard/internal/server/middleware"
)

// DocumentRequest is the create/update payload.
type DocumentRequest struct {
	Title      string                      `json:"title" binding:"required"`
	Body       string                      `json:"body"`
	Attributes docstore.DocumentAttributes `json:"attributes"`
}

// DocumentHandler serves the document routes. Every route runs behind the
// authentication middleware; the handler only deals with verified
// subjects and delegates the authorization decision to the guard.
type DocumentHandler struct {
	guard  *authz.Guard
	store  docstore.Store
	logger observability.Logger
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(guard *authz.Guard, store docstore.Store, logger observability.Logger) *DocumentHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &DocumentHandler{guard: guard, store: store, logger: logger}
}

// Get handles GET /api/documents/:id.
func (h *DocumentHandler) Get(c *gin.Context) {
	user, ok := middleware.GetUserAttributes(c)
	if !ok {
		respondDecision(c, authz.DenyUnauthenticated(nil))
		return
	}

	doc, decision := h.guard.AuthorizeRead(c.Request.Context(), user, c.Param("id"))
	if !decision.Allow {
		respondDecision(c, decision)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// List handles GET /api/documents. The result is filtered to the
// documents the subject may read; inaccessible documents are omitted,
// never errored on.
func (h *DocumentHandler) List(c *gin.Context) {
	user, ok := middleware.GetUserAttributes(c)
	if !ok {
		respondDecision(c, authz.DenyUnauthenticated(nil))
		return
	}

	docs, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("document list failed", observability.Error(err))
		respondDecision(c, authz.DenyInternal(authz.StageHandler))
		return
	}

	readable := h.guard.FilterReadable(c.Request.Context(), user, docs)
	c.JSON(http.StatusOK, gin.H{
		"documents": readable,
		"count":     len(readable),
	})
}

// Create handles POST /api/documents.
func (h *DocumentHandler) Create(c *gin.Context) {
	user, ok := middleware.GetUserAttributes(c)
	if !ok {
		respondDecision(c, authz.DenyUnauthenticated(nil))
		return
	}

	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondDecision(c, authz.DenyValidation(authz.CodeInvalidField, "invalid request body"))
		return
	}

	decision := h.guard.AuthorizeCreate(c.Request.Context(), user, &req.Attributes)
	if !decision.Allow {
		respondDecision(c, decision)
		return
	}

	doc := &docstore.Document{
		Title:      req.Title,
		Body:       req.Body,
		Creator:    user.UniqueIdentifier,
		Attributes: req.Attributes,
	}
	created, err := h.store.Create(c.Request.Context(), doc)
	if err != nil {
		h.logger.Error("document create failed", observability.Error(err))
		respondDecision(c, authz.DenyInternal(authz.StageHandler))
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Update handles PUT /api/documents/:id.
func (h *DocumentHandler) Update(c *gin.Context) {
	user, ok := middleware.GetUserAttributes(c)
	if !ok {
		respondDecision(c, authz.DenyUnauthenticated(nil))
		return
	}

	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondDecision(c, authz.DenyValidation(authz.CodeInvalidField, "invalid request body"))
		return
	}

	id := c.Param("id")
	existing, decision := h.guard.AuthorizeUpdate(c.Request.Context(), user, id, &req.Attributes)
	if !decision.Allow {
		respondDecision(c, decision)
		return
	}

	doc := &docstore.Document{
		Title:      req.Title,
		Body:       req.Body,
		Creator:    existing.Creator,
		Attributes: req.Attributes,
	}
	updated, err := h.store.Update(c.Request.Context(), id, doc)
	if err != nil {
		h.handleStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /api/documents/:id.
func (h *DocumentHandler) Delete(c *gin.Context) {
	user, ok := middleware.GetUserAttributes(c)
	if !ok {
		respondDecision(c, authz.DenyUnauthenticated(nil))
		return
	}

	id := c.Param("id")
	_, decision := h.guard.AuthorizeDelete(c.Request.Context(), user, id)
	if !decision.Allow {
		respondDecision(c, decision)
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		h.handleStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) handleStoreError(c *gin.Context, err error) {
	if errors.Is(err, docstore.ErrNotFound) {
		respondDecision(c, authz.DenyNotFound())
		return
	}
	h.logger.Error("document store operation failed", observability.Error(err))
	respondDecision(c, authz.DenyInternal(authz.StageHandler))
}

// respondDecision translates a deny decision into the JSON error body.
func respondDecision(c *gin.Context, decision *authz.Decision) {
	c.AbortWithStatusJSON(decision.Status, gin.H{
		"error": decision.Reason,
		"code":  decision.Code,
	})
}

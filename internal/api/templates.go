package api

import (
	"context"
	"net/http"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TemplateFetcher lists the templates registered with Meta.
type TemplateFetcher interface {
	GetTemplates(ctx context.Context) ([]models.Template, error)
}

type TemplateHandler struct {
	templates *store.TemplateStore
	fetcher   TemplateFetcher
	log       logrus.FieldLogger
}

func NewTemplateHandler(templates *store.TemplateStore, fetcher TemplateFetcher, log logrus.FieldLogger) *TemplateHandler {
	return &TemplateHandler{templates: templates, fetcher: fetcher, log: log}
}

// GetTemplates returns stored templates from local database
func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	templates, err := h.templates.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, templates)
}

// SyncTemplates fetches templates from Meta and stores them locally
func (h *TemplateHandler) SyncTemplates(c *gin.Context) {
	fetched, err := h.fetcher.GetTemplates(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Warn("Failed to fetch templates from Meta")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch templates from Meta: " + err.Error()})
		return
	}
	count, err := h.templates.UpsertTemplates(c.Request.Context(), fetched)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.log.WithField("count", count).Info("Templates synced")
	c.JSON(http.StatusOK, gin.H{"status": "Templates synced", "count": count})
}

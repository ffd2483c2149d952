package knowledge

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"secondbrain_back/authorization"
	"secondbrain_back/storage"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// enrichmentDelay decouples the creation response from AI processing;
	// a freshly created item is briefly readable with aiProcessed=false.
	enrichmentDelay   = time.Second
	enrichmentTimeout = 2 * time.Minute

	attachmentURLExpiry = 15 * time.Minute
)

// Enricher triggers AI processing for a stored item.
type Enricher interface {
	ProcessItem(ctx context.Context, id uint64) (*Item, error)
}

// Module wires the knowledge endpoints to the persistence service, the AI
// enrichment pipeline and attachment storage.
type Module struct {
	service     *Service
	enricher    Enricher
	attachments *storage.AttachmentStorage
}

// RegisterRoutes mounts the knowledge endpoints under /api/knowledge.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, service *Service, enricher Enricher, attachments *storage.AttachmentStorage) (*Module, error) {
	if service == nil {
		return nil, errors.New("knowledge: service is required")
	}

	module := &Module{service: service, enricher: enricher, attachments: attachments}

	group := router.Group("/api/knowledge")
	group.GET("/public", module.handlePublicList)
	group.GET("/public/stats", module.handleStats)
	group.GET("/public/tags/popular", module.handlePopularTags)
	group.GET("/public/:id", module.handleGetItem)

	secured := group.Group("")
	if guard != nil {
		secured.Use(guard.RequireAuthenticated())
	}
	secured.GET("", module.handleList)
	secured.GET("/stats", module.handleStats)
	secured.GET("/search", module.handleSearch)
	secured.GET("/tags/popular", module.handlePopularTags)
	secured.GET("/:id", module.handleGetItem)
	secured.POST("", module.handleCreate)
	secured.PUT("/:id", module.handleUpdate)
	secured.DELETE("/:id", module.handleDelete)
	secured.GET("/:id/attachments", module.handleListAttachments)
	secured.POST("/:id/attachments", module.handleUploadAttachment)
	secured.DELETE("/:id/attachments/:attachmentID", module.handleDeleteAttachment)

	return module, nil
}

// scheduleEnrichment fires the AI pipeline in the background after a short
// delay, detached from the request context.
func (m *Module) scheduleEnrichment(id uint64) {
	if m.enricher == nil {
		return
	}
	go func() {
		time.Sleep(enrichmentDelay)
		ctx, cancel := context.WithTimeout(context.Background(), enrichmentTimeout)
		defer cancel()
		if _, err := m.enricher.ProcessItem(ctx, id); err != nil {
			log.Printf("knowledge: background enrichment for item %d failed: %v", id, err)
		}
	}()
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func parseItemID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "Invalid item id")
		return 0, false
	}
	return id, true
}

type createItemRequest struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Type      string   `json:"type"`
	SourceURL string   `json:"sourceUrl"`
	Tags      []string `json:"tags"`
	IsPublic  bool     `json:"isPublic"`
}

func (r createItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Content, validation.Required),
		validation.Field(&r.Type, validation.Required, validation.In(TypeNote, TypeLink, TypeInsight)),
	)
}

type updateItemRequest struct {
	Title     *string   `json:"title"`
	Content   *string   `json:"content"`
	Type      *string   `json:"type"`
	SourceURL *string   `json:"sourceUrl"`
	Tags      *[]string `json:"tags"`
	IsPublic  *bool     `json:"isPublic"`
}

func (r updateItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.NilOrNotEmpty, validation.Length(0, 200)),
		validation.Field(&r.Content, validation.NilOrNotEmpty),
		validation.Field(&r.Type, validation.When(r.Type != nil, validation.In(TypeNote, TypeLink, TypeInsight))),
	)
}

func (m *Module) handleCreate(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Title, content, and type are required")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	record, err := m.service.Create(c.Request.Context(), ItemInput{
		Title:     req.Title,
		Content:   req.Content,
		Type:      req.Type,
		SourceURL: req.SourceURL,
		Tags:      req.Tags,
		IsPublic:  req.IsPublic,
	})
	if err != nil {
		log.Printf("knowledge: create item failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to create knowledge item")
		return
	}

	m.scheduleEnrichment(record.ID)

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": record})
}

func (m *Module) handleUpdate(c *gin.Context) {
	id, ok := parseItemID(c, "id")
	if !ok {
		return
	}

	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	record, contentChanged, err := m.service.Update(c.Request.Context(), id, ItemUpdate{
		Title:     req.Title,
		Content:   req.Content,
		Type:      req.Type,
		SourceURL: req.SourceURL,
		Tags:      req.Tags,
		IsPublic:  req.IsPublic,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "Knowledge item not found")
			return
		}
		log.Printf("knowledge: update item %d failed: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to update knowledge item")
		return
	}

	if contentChanged {
		m.scheduleEnrichment(id)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": record})
}

func (m *Module) handleDelete(c *gin.Context) {
	id, ok := parseItemID(c, "id")
	if !ok {
		return
	}

	if err := m.service.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "Knowledge item not found")
			return
		}
		log.Printf("knowledge: delete item %d failed: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to delete knowledge item")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Knowledge item deleted successfully"})
}

func (m *Module) handleGetItem(c *gin.Context) {
	id, ok := parseItemID(c, "id")
	if !ok {
		return
	}

	record, err := m.service.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "Knowledge item not found")
			return
		}
		log.Printf("knowledge: load item %d failed: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to fetch knowledge item")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": record})
}

func (m *Module) handleList(c *gin.Context) {
	m.listItems(c, false)
}

func (m *Module) handlePublicList(c *gin.Context) {
	m.listItems(c, true)
}

func (m *Module) listItems(c *gin.Context, publicOnly bool) {
	filters := ListFilters{
		Page:       intQuery(c, "page", 1),
		Limit:      intQuery(c, "limit", defaultPageSize),
		SortBy:     c.DefaultQuery("sortBy", "createdAt"),
		SortOrder:  c.DefaultQuery("sortOrder", "desc"),
		Type:       strings.TrimSpace(c.Query("type")),
		Search:     c.Query("search"),
		PublicOnly: publicOnly,
	}
	if rawTags := strings.TrimSpace(c.Query("tags")); rawTags != "" {
		filters.Tags = strings.Split(rawTags, ",")
	}

	records, pagination, err := m.service.List(c.Request.Context(), filters)
	if err != nil {
		log.Printf("knowledge: list items failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to fetch knowledge items")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": records, "pagination": pagination})
}

func (m *Module) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondError(c, http.StatusBadRequest, "Search query is required")
		return
	}

	records, err := m.service.Search(c.Request.Context(), query, SearchOptions{
		Limit: intQuery(c, "limit", 50),
		Type:  strings.TrimSpace(c.Query("type")),
	})
	if err != nil {
		log.Printf("knowledge: search failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Search failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": records})
}

func (m *Module) handleStats(c *gin.Context) {
	stats, err := m.service.Stats(c.Request.Context())
	if err != nil {
		log.Printf("knowledge: stats failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to fetch statistics")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (m *Module) handlePopularTags(c *gin.Context) {
	tags, err := m.service.PopularTags(c.Request.Context(), intQuery(c, "limit", 20))
	if err != nil {
		log.Printf("knowledge: popular tags failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to fetch popular tags")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": tags})
}

type attachmentPayload struct {
	Attachment
	DownloadURL string `json:"downloadUrl,omitempty"`
}

func (m *Module) handleUploadAttachment(c *gin.Context) {
	id, ok := parseItemID(c, "id")
	if !ok {
		return
	}
	if m.attachments == nil {
		respondError(c, http.StatusInternalServerError, "Attachment storage is not configured")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "Attachment file is required")
		return
	}

	objectURL, contentType, size, err := m.attachments.Upload(c.Request.Context(), fileHeader, id)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	attachment := &Attachment{
		ItemID:      id,
		FileName:    fileHeader.Filename,
		ObjectURL:   objectURL,
		ContentType: contentType,
		Size:        size,
	}
	if err := m.service.AddAttachment(c.Request.Context(), attachment); err != nil {
		if removeErr := m.attachments.Remove(c.Request.Context(), objectURL); removeErr != nil {
			log.Printf("knowledge: cleanup attachment object failed: %v", removeErr)
		}
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "Knowledge item not found")
			return
		}
		log.Printf("knowledge: store attachment failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to store attachment")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": attachment})
}

func (m *Module) handleListAttachments(c *gin.Context) {
	id, ok := parseItemID(c, "id")
	if !ok {
		return
	}

	attachments, err := m.service.ListAttachments(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "Knowledge item not found")
			return
		}
		log.Printf("knowledge: list attachments failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to fetch attachments")
		return
	}

	payloads := make([]attachmentPayload, 0, len(attachments))
	for _, attachment := range attachments {
		payload := attachmentPayload{Attachment: attachment}
		if m.attachments != nil {
			signed, signErr := m.attachments.PresignedURL(c.Request.Context(), attachment.ObjectURL, attachmentURLExpiry)
			if signErr != nil {
				log.Printf("knowledge: presign attachment url failed: %v", signErr)
			} else {
				payload.DownloadURL = signed
			}
		}
		payloads = append(payloads, payload)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": payloads})
}

func (m *Module) handleDeleteAttachment(c *gin.Context) {
	id, ok := parseItemID(c, "id")
	if !ok {
		return
	}
	attachmentID, err := strconv.ParseUint(strings.TrimSpace(c.Param("attachmentID")), 10, 64)
	if err != nil || attachmentID == 0 {
		respondError(c, http.StatusBadRequest, "Invalid attachment id")
		return
	}

	attachment, err := m.service.DeleteAttachment(c.Request.Context(), id, attachmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "Attachment not found")
			return
		}
		log.Printf("knowledge: delete attachment failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to delete attachment")
		return
	}

	if m.attachments != nil {
		if removeErr := m.attachments.Remove(c.Request.Context(), attachment.ObjectURL); removeErr != nil {
			log.Printf("knowledge: remove attachment object failed: %v", removeErr)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Attachment deleted successfully"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

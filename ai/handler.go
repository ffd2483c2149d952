package ai

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"secondbrain_back/authorization"
	"secondbrain_back/knowledge"
	"secondbrain_back/llm"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	publicAPIVersion   = "1.0"
	maxQueryCandidates = 10
)

// Searcher retrieves answer candidates from the knowledge store.
type Searcher interface {
	Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]knowledge.ItemRecord, error)
}

// Module wires the AI endpoints to the pipeline, the candidate search, the
// answer cache and the event hub.
type Module struct {
	service  *Service
	searcher Searcher
	cache    *answerCache
	events   *EventHub
}

// RegisterRoutes mounts the AI endpoints under /api/ai plus the public query
// endpoint under /api/public/brain.
func RegisterRoutes(router *gin.Engine, guard *authorization.Guard, store Store, searcher Searcher, generator TextGenerator, redisClient *redis.Client) (*Module, error) {
	if searcher == nil {
		return nil, errors.New("ai: searcher is required")
	}

	events := NewEventHub()
	service, err := NewService(store, generator, events)
	if err != nil {
		return nil, err
	}

	module := &Module{
		service:  service,
		searcher: searcher,
		cache:    newAnswerCache(redisClient),
		events:   events,
	}

	group := router.Group("/api/ai")
	if guard != nil {
		group.Use(guard.RequireAuthenticated())
	}
	group.POST("/process/:id", module.handleProcess)
	group.POST("/batch-process", module.handleBatchProcess)
	group.POST("/summarize", module.handleSummarize)
	group.POST("/auto-tag", module.handleAutoTag)
	group.POST("/tag", module.handleAutoTag)
	group.POST("/categorize", module.handleCategorize)
	group.POST("/key-points", module.handleKeyPoints)
	group.POST("/query", module.handleQuery)
	group.GET("/stats", module.handleStats)
	group.GET("/events", module.events.HandleSubscribe)

	router.GET("/api/public/brain/query", module.handlePublicQuery)

	return module, nil
}

// Service exposes the pipeline so the knowledge module can trigger
// background enrichment.
func (m *Module) Service() *Service {
	return m.service
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func (m *Module) handleProcess(c *gin.Context) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "Invalid item id")
		return
	}

	item, err := m.service.ProcessItem(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			respondError(c, http.StatusNotFound, "Knowledge item not found")
			return
		}
		log.Printf("ai: process item %d failed: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to process knowledge item")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
		"id":          item.ID,
		"title":       item.Title,
		"summary":     item.Summary,
		"aiTags":      item.AITagList(),
		"aiProcessed": item.AIProcessed,
	}})
}

type batchRequest struct {
	Limit int `json:"limit"`
}

func (m *Module) handleBatchProcess(c *gin.Context) {
	var req batchRequest
	// An empty body means the default limit.
	_ = c.ShouldBindJSON(&req)

	results, err := m.service.BatchProcess(c.Request.Context(), req.Limit)
	if err != nil {
		log.Printf("ai: batch process failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Batch processing failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": results})
}

type contentRequest struct {
	Content string `json:"content"`
}

func bindContent(c *gin.Context) (string, bool) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		respondError(c, http.StatusBadRequest, "Content is required")
		return "", false
	}
	return req.Content, true
}

func (m *Module) handleSummarize(c *gin.Context) {
	content, ok := bindContent(c)
	if !ok {
		return
	}

	summary, err := m.service.Summarize(c.Request.Context(), content)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"summary": summary}})
}

func (m *Module) handleAutoTag(c *gin.Context) {
	content, ok := bindContent(c)
	if !ok {
		return
	}

	tags, err := m.service.AutoTag(c.Request.Context(), content)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"tags": tags}})
}

func (m *Module) handleCategorize(c *gin.Context) {
	content, ok := bindContent(c)
	if !ok {
		return
	}

	category, err := m.service.Categorize(c.Request.Context(), content)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"category": category}})
}

func (m *Module) handleKeyPoints(c *gin.Context) {
	content, ok := bindContent(c)
	if !ok {
		return
	}

	points, err := m.service.KeyPoints(c.Request.Context(), content)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"keyPoints": points}})
}

type queryRequest struct {
	Question string `json:"question"`
}

func (m *Module) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		respondError(c, http.StatusBadRequest, "Question is required")
		return
	}
	question := strings.TrimSpace(req.Question)

	candidates, err := m.searcher.Search(c.Request.Context(), question, knowledge.SearchOptions{
		Limit: maxQueryCandidates,
	})
	if err != nil {
		log.Printf("ai: candidate search failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to query knowledge base")
		return
	}

	result := m.service.Answer(c.Request.Context(), question, candidates, llm.VariantDashboard)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// publicSource is the reduced source shape exposed on the public endpoint.
type publicSource struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

type publicAnswer struct {
	Answer     string         `json:"answer"`
	Sources    []publicSource `json:"sources"`
	APIVersion string         `json:"api_version"`
	Timestamp  string         `json:"timestamp"`
}

func (m *Module) handlePublicQuery(c *gin.Context) {
	question := strings.TrimSpace(c.Query("q"))
	if question == "" {
		respondError(c, http.StatusBadRequest, "Query parameter q is required")
		return
	}

	if payload, ok := m.cache.Get(c.Request.Context(), question); ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": json.RawMessage(payload)})
		return
	}

	// Only published items feed the public answer path.
	candidates, err := m.searcher.Search(c.Request.Context(), question, knowledge.SearchOptions{
		Limit:      maxQueryCandidates,
		PublicOnly: true,
	})
	if err != nil {
		log.Printf("ai: public candidate search failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to query knowledge base")
		return
	}

	result := m.service.Answer(c.Request.Context(), question, candidates, llm.VariantPublic)

	sources := make([]publicSource, 0, len(result.Sources))
	for _, source := range result.Sources {
		sources = append(sources, publicSource{Title: source.Title, Type: source.Type})
	}
	data := publicAnswer{
		Answer:     result.Answer,
		Sources:    sources,
		APIVersion: publicAPIVersion,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	if payload, err := json.Marshal(data); err == nil {
		m.cache.Set(c.Request.Context(), question, string(payload))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (m *Module) handleStats(c *gin.Context) {
	stats, err := m.service.Stats(c.Request.Context())
	if err != nil {
		log.Printf("ai: stats failed: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to fetch processing stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

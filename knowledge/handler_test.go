package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type recordingEnricher struct {
	mu  sync.Mutex
	ids []uint64
}

func (r *recordingEnricher) ProcessItem(_ context.Context, id uint64) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return &Item{ID: id, AIProcessed: true}, nil
}

func (r *recordingEnricher) processed() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.ids...)
}

func newTestModule(t *testing.T) (*gin.Engine, *Service, *recordingEnricher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service := newTestService(t)
	enricher := &recordingEnricher{}
	router := gin.New()
	if _, err := RegisterRoutes(router, nil, service, enricher, nil); err != nil {
		t.Fatalf("RegisterRoutes: %v", err)
	}
	return router, service, enricher
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, router *gin.Engine, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return rec, env
}

func TestCreateItemTriggersEnrichment(t *testing.T) {
	router, _, enricher := newTestModule(t)

	rec, env := doJSON(t, router, http.MethodPost, "/api/knowledge",
		`{"title":"Go notes","content":"channels and goroutines","type":"note","tags":["Go","GO"]}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("envelope = %+v", env)
	}

	var record ItemRecord
	if err := json.Unmarshal(env.Data, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.AIProcessed {
		t.Fatal("fresh item must not be marked processed")
	}
	if len(record.Tags) != 1 || record.Tags[0] != "go" {
		t.Fatalf("Tags = %v", record.Tags)
	}

	// Enrichment fires on a delayed goroutine.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ids := enricher.processed(); len(ids) == 1 && ids[0] == record.ID {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("background enrichment was never triggered")
}

func TestCreateItemValidation(t *testing.T) {
	router, _, _ := newTestModule(t)

	rec, env := doJSON(t, router, http.MethodPost, "/api/knowledge", `{"title":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Success || env.Error == "" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestGetMissingItemReturns404Envelope(t *testing.T) {
	router, _, _ := newTestModule(t)

	rec, env := doJSON(t, router, http.MethodGet, "/api/knowledge/12345", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env.Success || env.Error != "Knowledge item not found" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestUpdateContentSchedulesReprocessing(t *testing.T) {
	router, service, enricher := newTestModule(t)
	created := mustCreate(t, service, ItemInput{Title: "t", Content: "original", Type: TypeNote})

	rec, env := doJSON(t, router, http.MethodPut, "/api/knowledge/1", `{"content":"rewritten"}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d envelope = %+v", rec.Code, env)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range enricher.processed() {
			if id == created.ID {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("content update did not schedule enrichment")
}

func TestUpdateWithoutContentChangeDoesNotSchedule(t *testing.T) {
	router, service, enricher := newTestModule(t)
	mustCreate(t, service, ItemInput{Title: "t", Content: "stable", Type: TypeNote})

	rec, env := doJSON(t, router, http.MethodPut, "/api/knowledge/1", `{"title":"renamed"}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d envelope = %+v", rec.Code, env)
	}

	// Wait past the scheduling delay to be sure nothing fires.
	time.Sleep(enrichmentDelay + 300*time.Millisecond)
	if ids := enricher.processed(); len(ids) != 0 {
		t.Fatalf("metadata-only update scheduled enrichment: %v", ids)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	router, _, _ := newTestModule(t)

	rec, env := doJSON(t, router, http.MethodGet, "/api/knowledge/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Error != "Search query is required" {
		t.Fatalf("error = %q", env.Error)
	}
}

func TestPublicListOnlyShowsPublishedItems(t *testing.T) {
	router, service, _ := newTestModule(t)
	mustCreate(t, service, ItemInput{Title: "private", Content: "c", Type: TypeNote})
	mustCreate(t, service, ItemInput{Title: "published", Content: "c", Type: TypeNote, IsPublic: true})

	rec, env := doJSON(t, router, http.MethodGet, "/api/knowledge/public", "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d envelope = %+v", rec.Code, env)
	}

	var records []ItemRecord
	if err := json.Unmarshal(env.Data, &records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 1 || records[0].Title != "published" {
		t.Fatalf("records = %+v", records)
	}
}

func TestUploadAttachmentWithoutStorage(t *testing.T) {
	router, service, _ := newTestModule(t)
	mustCreate(t, service, ItemInput{Title: "t", Content: "c", Type: TypeNote})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/knowledge/1/attachments", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when storage is not configured", rec.Code)
	}
}

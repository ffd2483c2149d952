package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"secondbrain_back/knowledge"
	"secondbrain_back/llm"
)

const (
	fallbackSummaryLength = 150
	contextExcerptLength  = 300
	maxAnswerSources      = 3
	defaultBatchLimit     = 5

	unavailableAnswer = "AI capabilities are currently unavailable. Please try again later."
	apologyAnswer     = "I encountered an error while processing your query. Please try again."
)

// defaultAutoTags is returned when tag generation is unavailable or fails.
var defaultAutoTags = []string{"knowledge", "information", "notes"}

// Store is the persistence surface the pipeline needs.
type Store interface {
	FindByID(ctx context.Context, id uint64) (*knowledge.Item, error)
	FindUnprocessed(ctx context.Context, limit int) ([]knowledge.Item, error)
	CompleteEnrichment(ctx context.Context, id uint64, update knowledge.EnrichmentUpdate) (*knowledge.Item, bool, error)
	CountByProcessed(ctx context.Context) (processed int64, unprocessed int64, err error)
}

// TextGenerator is the language model surface the pipeline needs.
type TextGenerator interface {
	Available() bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service runs the enrichment pipeline and the question answering
// orchestrator on top of a Store and a TextGenerator.
type Service struct {
	store     Store
	generator TextGenerator
	events    *EventHub

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func NewService(store Store, generator TextGenerator, events *EventHub) (*Service, error) {
	if store == nil {
		return nil, errors.New("ai: store is required")
	}
	if generator == nil {
		return nil, errors.New("ai: text generator is required")
	}
	return &Service{
		store:     store,
		generator: generator,
		events:    events,
		locks:     make(map[uint64]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serialising enrichment of one item.
func (s *Service) lockFor(id uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// FallbackSummary is the deterministic summary used when the language model
// cannot be reached: the first 150 characters of content plus an ellipsis.
func FallbackSummary(content string) string {
	runes := []rune(content)
	if len(runes) > fallbackSummaryLength {
		runes = runes[:fallbackSummaryLength]
	}
	return string(runes) + "..."
}

// ProcessItem enriches one item with a summary and AI tags. Already-processed
// items are returned unchanged without touching the model. Concurrent calls
// for the same id are serialised by a per-id mutex, and the persist step is a
// compare-and-set on ai_processed, so at most one invocation's values stick.
func (s *Service) ProcessItem(ctx context.Context, id uint64) (*knowledge.Item, error) {
	item, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.AIProcessed {
		return item, nil
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock; another invocation may have finished first.
	item, err = s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.AIProcessed {
		return item, nil
	}

	update, status := s.enrich(ctx, item.Content)

	updated, won, err := s.store.CompleteEnrichment(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("ai: persist enrichment for item %d: %w", id, err)
	}
	if won {
		s.events.PublishProcessed(id, status)
		log.Printf("ai: item %d processed (%s)", id, status)
	}
	return updated, nil
}

// enrich computes the summary and tags for the given content. It never fails:
// every model error degrades to the deterministic fallback for that field.
func (s *Service) enrich(ctx context.Context, content string) (knowledge.EnrichmentUpdate, string) {
	if !s.generator.Available() {
		return knowledge.EnrichmentUpdate{
			Summary: FallbackSummary(content),
			AITags:  []string{},
		}, StatusFallback
	}

	update := knowledge.EnrichmentUpdate{AITags: []string{}}
	status := StatusEnriched

	summary, err := s.generator.Generate(ctx, llm.SummaryPrompt(content))
	if err != nil {
		log.Printf("ai: summary generation failed, using fallback: %v", err)
		update.Summary = FallbackSummary(content)
		status = StatusFallback
	} else {
		update.Summary = summary
	}

	rawTags, err := s.generator.Generate(ctx, llm.TagsPrompt(content))
	if err != nil {
		log.Printf("ai: tag generation failed: %v", err)
	} else {
		update.AITags = llm.ParseTags(rawTags)
	}

	return update, status
}

// BatchResult reports the outcome of one item inside a batch run.
type BatchResult struct {
	ID      uint64   `json:"id"`
	Title   string   `json:"title"`
	Status  string   `json:"status"`
	Summary string   `json:"summary,omitempty"`
	AITags  []string `json:"aiTags,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// BatchProcess enriches up to limit unprocessed items sequentially. One
// item's failure does not abort the rest.
func (s *Service) BatchProcess(ctx context.Context, limit int) ([]BatchResult, error) {
	if limit < 1 {
		limit = defaultBatchLimit
	}

	pending, err := s.store.FindUnprocessed(ctx, limit)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, 0, len(pending))
	for _, item := range pending {
		result := BatchResult{ID: item.ID, Title: item.Title}
		processed, err := s.ProcessItem(ctx, item.ID)
		if err != nil {
			result.Status = "failed"
			result.Error = err.Error()
		} else {
			result.Status = "processed"
			result.Summary = processed.Summary
			result.AITags = processed.AITagList()
		}
		results = append(results, result)
	}
	return results, nil
}

// Summarize produces a short summary of arbitrary content, degrading to the
// truncation fallback when the model is unavailable or errors.
func (s *Service) Summarize(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("ai: content is required")
	}
	if !s.generator.Available() {
		return FallbackSummary(content), nil
	}
	summary, err := s.generator.Generate(ctx, llm.SummaryPrompt(content))
	if err != nil {
		log.Printf("ai: summarize failed, using fallback: %v", err)
		return FallbackSummary(content), nil
	}
	return summary, nil
}

// AutoTag suggests tags for arbitrary content, returning a fixed default set
// when the model is unavailable, errors or yields nothing parseable.
func (s *Service) AutoTag(ctx context.Context, content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("ai: content is required")
	}
	if !s.generator.Available() {
		return append([]string(nil), defaultAutoTags...), nil
	}
	raw, err := s.generator.Generate(ctx, llm.TagsPrompt(content))
	if err != nil {
		log.Printf("ai: auto-tag failed, using defaults: %v", err)
		return append([]string(nil), defaultAutoTags...), nil
	}
	tags := llm.ParseTags(raw)
	if len(tags) == 0 {
		return append([]string(nil), defaultAutoTags...), nil
	}
	return tags, nil
}

// Categorize assigns content one label from the closed category set. Model
// output that is not in the set maps to Other, as does any failure.
func (s *Service) Categorize(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("ai: content is required")
	}
	if !s.generator.Available() {
		return llm.CategoryOther, nil
	}
	raw, err := s.generator.Generate(ctx, llm.CategoryPrompt(content))
	if err != nil {
		log.Printf("ai: categorize failed, using fallback: %v", err)
		return llm.CategoryOther, nil
	}
	return llm.NormalizeCategory(raw), nil
}

// KeyPoints extracts a bulleted key-point list from content. Failures yield
// an empty list rather than an error.
func (s *Service) KeyPoints(ctx context.Context, content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("ai: content is required")
	}
	if !s.generator.Available() {
		return []string{}, nil
	}
	raw, err := s.generator.Generate(ctx, llm.KeyPointsPrompt(content))
	if err != nil {
		log.Printf("ai: key points failed: %v", err)
		return []string{}, nil
	}
	return llm.ParseKeyPoints(raw), nil
}

// SourceRef points at a knowledge item backing an answer.
type SourceRef struct {
	ID        uint64  `json:"id"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Relevance float64 `json:"relevance"`
}

// AnswerResult is the outcome of a question answering call.
type AnswerResult struct {
	Answer  string      `json:"answer"`
	Sources []SourceRef `json:"sources"`
}

// Answer builds a context window from the candidates, asks the model the
// question and reduces the candidates to the top ranked sources. It never
// fails: model unavailability and errors both degrade to fixed messages with
// empty sources.
func (s *Service) Answer(ctx context.Context, question string, candidates []knowledge.ItemRecord, variant llm.AnswerVariant) AnswerResult {
	if !s.generator.Available() {
		return AnswerResult{Answer: unavailableAnswer, Sources: []SourceRef{}}
	}

	contextText := buildContextWindow(candidates)
	answer, err := s.generator.Generate(ctx, llm.AnswerPrompt(question, contextText, variant))
	if err != nil {
		log.Printf("ai: answer generation failed: %v", err)
		return AnswerResult{Answer: apologyAnswer, Sources: []SourceRef{}}
	}

	return AnswerResult{Answer: answer, Sources: rankSources(question, candidates)}
}

// buildContextWindow concatenates each candidate's title and a bounded
// content excerpt, separated by blank lines.
func buildContextWindow(candidates []knowledge.ItemRecord) string {
	sections := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		excerpt := candidate.Content
		if runes := []rune(excerpt); len(runes) > contextExcerptLength {
			excerpt = string(runes[:contextExcerptLength]) + "..."
		}
		sections = append(sections, fmt.Sprintf("Title: %s\nContent: %s", candidate.Title, excerpt))
	}
	return strings.Join(sections, "\n\n")
}

// rankSources scores the candidates against the question and keeps the top
// three with a positive score. The sort is stable so ties keep the original
// candidate order.
func rankSources(question string, candidates []knowledge.ItemRecord) []SourceRef {
	scored := make([]SourceRef, 0, len(candidates))
	for _, candidate := range candidates {
		score := Score(question, candidate)
		if score <= 0 {
			continue
		}
		scored = append(scored, SourceRef{
			ID:        candidate.ID,
			Title:     candidate.Title,
			Type:      candidate.Type,
			Relevance: score,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})
	if len(scored) > maxAnswerSources {
		scored = scored[:maxAnswerSources]
	}
	return scored
}

// ProcessingStats summarises pipeline progress across the store.
type ProcessingStats struct {
	Processed   int64   `json:"processed"`
	Unprocessed int64   `json:"unprocessed"`
	Total       int64   `json:"total"`
	Percentage  float64 `json:"percentage"`
}

// Stats reports how much of the store has been enriched.
func (s *Service) Stats(ctx context.Context) (*ProcessingStats, error) {
	processed, unprocessed, err := s.store.CountByProcessed(ctx)
	if err != nil {
		return nil, err
	}
	stats := &ProcessingStats{
		Processed:   processed,
		Unprocessed: unprocessed,
		Total:       processed + unprocessed,
	}
	if stats.Total > 0 {
		stats.Percentage = float64(processed) / float64(stats.Total) * 100
	}
	return stats, nil
}

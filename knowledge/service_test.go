package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	service, err := NewService(db)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func mustCreate(t *testing.T, service *Service, input ItemInput) *ItemRecord {
	t.Helper()
	record, err := service.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return record
}

func TestCreateNormalizesTagsAndStartsUnprocessed(t *testing.T) {
	service := newTestService(t)

	record := mustCreate(t, service, ItemInput{
		Title:   "Go concurrency",
		Content: "Channels and goroutines.",
		Type:    TypeNote,
		Tags:    []string{" Go ", "go", "CONCURRENCY", ""},
	})

	if record.AIProcessed {
		t.Fatal("new item must start with aiProcessed=false")
	}
	want := []string{"go", "concurrency"}
	if len(record.Tags) != len(want) {
		t.Fatalf("Tags = %v, want %v", record.Tags, want)
	}
	for i, tag := range want {
		if record.Tags[i] != tag {
			t.Fatalf("Tags = %v, want %v", record.Tags, want)
		}
	}
	if record.AITags == nil || len(record.AITags) != 0 {
		t.Fatalf("AITags = %v, want empty list", record.AITags)
	}
}

func TestCreateDropsSourceURLForNonLinks(t *testing.T) {
	service := newTestService(t)

	note := mustCreate(t, service, ItemInput{
		Title:     "A note",
		Content:   "body",
		Type:      TypeNote,
		SourceURL: "https://example.com",
	})
	if note.SourceURL != "" {
		t.Fatalf("note SourceURL = %q, want empty", note.SourceURL)
	}

	link := mustCreate(t, service, ItemInput{
		Title:     "A link",
		Content:   "body",
		Type:      TypeLink,
		SourceURL: "https://example.com",
	})
	if link.SourceURL != "https://example.com" {
		t.Fatalf("link SourceURL = %q", link.SourceURL)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	cases := []ItemInput{
		{Title: "", Content: "body", Type: TypeNote},
		{Title: "t", Content: "   ", Type: TypeNote},
		{Title: "t", Content: "body", Type: "poem"},
	}
	for _, input := range cases {
		if _, err := service.Create(ctx, input); err == nil {
			t.Fatalf("Create(%+v) succeeded, want error", input)
		}
	}
}

func TestGetByIDIncrementsViews(t *testing.T) {
	service := newTestService(t)
	created := mustCreate(t, service, ItemInput{Title: "t", Content: "c", Type: TypeNote})

	first, err := service.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	second, err := service.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if first.Views != 1 || second.Views != 2 {
		t.Fatalf("views = %d then %d, want 1 then 2", first.Views, second.Views)
	}
}

func TestGetByIDMissing(t *testing.T) {
	service := newTestService(t)

	if _, err := service.GetByID(context.Background(), 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID = %v, want ErrNotFound", err)
	}
}

func TestUpdateContentResetsProcessedFlag(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := mustCreate(t, service, ItemInput{Title: "t", Content: "original", Type: TypeNote})

	if _, _, err := service.CompleteEnrichment(ctx, created.ID, EnrichmentUpdate{
		Summary: "done",
		AITags:  []string{"a"},
	}); err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}

	newContent := "rewritten"
	record, contentChanged, err := service.Update(ctx, created.ID, ItemUpdate{Content: &newContent})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !contentChanged {
		t.Fatal("content change not reported")
	}
	if record.AIProcessed {
		t.Fatal("content change must reset aiProcessed")
	}

	// Same content again is not a change.
	_, contentChanged, err = service.Update(ctx, created.ID, ItemUpdate{Content: &newContent})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if contentChanged {
		t.Fatal("identical content reported as changed")
	}
}

func TestUpdateNeverTouchesEnrichmentFields(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := mustCreate(t, service, ItemInput{Title: "t", Content: "c", Type: TypeNote})

	if _, _, err := service.CompleteEnrichment(ctx, created.ID, EnrichmentUpdate{
		Summary: "pipeline summary",
		AITags:  []string{"pipeline"},
	}); err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}

	title := "new title"
	record, _, err := service.Update(ctx, created.ID, ItemUpdate{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if record.Summary != "pipeline summary" {
		t.Fatalf("Summary = %q, want pipeline value preserved", record.Summary)
	}
	if len(record.AITags) != 1 || record.AITags[0] != "pipeline" {
		t.Fatalf("AITags = %v, want pipeline value preserved", record.AITags)
	}
	if !record.AIProcessed {
		t.Fatal("metadata-only update must not reset aiProcessed")
	}
}

func TestCompleteEnrichmentWinnerAndLoser(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := mustCreate(t, service, ItemInput{Title: "t", Content: "c", Type: TypeNote})

	item, won, err := service.CompleteEnrichment(ctx, created.ID, EnrichmentUpdate{
		Summary: "first",
		AITags:  []string{"x"},
	})
	if err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}
	if !won {
		t.Fatal("first enrichment must win")
	}
	if item.Summary != "first" || !item.AIProcessed {
		t.Fatalf("item after win = %+v", item)
	}

	item, won, err = service.CompleteEnrichment(ctx, created.ID, EnrichmentUpdate{
		Summary: "second",
		AITags:  []string{"y"},
	})
	if err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}
	if won {
		t.Fatal("second enrichment must lose the compare-and-set")
	}
	if item.Summary != "first" {
		t.Fatalf("losing write overwrote summary: %q", item.Summary)
	}
}

func TestDeleteRemovesItemAndAttachments(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	created := mustCreate(t, service, ItemInput{Title: "t", Content: "c", Type: TypeNote})

	if err := service.AddAttachment(ctx, &Attachment{
		ItemID:    created.ID,
		FileName:  "notes.pdf",
		ObjectURL: "attachments/1/a.pdf",
	}); err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}

	if err := service.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := service.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	if _, err := service.ListAttachments(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ListAttachments after delete = %v, want ErrNotFound", err)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustCreate(t, service, ItemInput{
			Title:   fmt.Sprintf("note %d", i),
			Content: "body",
			Type:    TypeNote,
			Tags:    []string{"go"},
		})
	}
	mustCreate(t, service, ItemInput{
		Title:    "public link",
		Content:  "body",
		Type:     TypeLink,
		IsPublic: true,
	})

	records, pagination, err := service.List(ctx, ListFilters{Page: 1, Limit: 2, Type: TypeNote})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || pagination.Total != 3 || pagination.Pages != 2 {
		t.Fatalf("page=%d records, total=%d pages=%d", len(records), pagination.Total, pagination.Pages)
	}

	records, _, err = service.List(ctx, ListFilters{PublicOnly: true})
	if err != nil {
		t.Fatalf("List public: %v", err)
	}
	if len(records) != 1 || records[0].Title != "public link" {
		t.Fatalf("public list = %+v", records)
	}

	records, _, err = service.List(ctx, ListFilters{Tags: []string{"go"}})
	if err != nil {
		t.Fatalf("List by tag: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("tag filter returned %d records, want 3", len(records))
	}
}

func TestSearchMatchesAcrossFields(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mustCreate(t, service, ItemInput{Title: "Kubernetes operators", Content: "controllers", Type: TypeNote})
	mustCreate(t, service, ItemInput{Title: "Unrelated", Content: "nothing here", Type: TypeNote, Tags: []string{"kubernetes"}})
	mustCreate(t, service, ItemInput{Title: "Other", Content: "plain", Type: TypeNote})

	records, err := service.Search(ctx, "KUBERNETES", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Search returned %d records, want 2", len(records))
	}
}

func TestFindUnprocessedSkipsEnrichedItems(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	first := mustCreate(t, service, ItemInput{Title: "a", Content: "c", Type: TypeNote})
	mustCreate(t, service, ItemInput{Title: "b", Content: "c", Type: TypeNote})

	if _, _, err := service.CompleteEnrichment(ctx, first.ID, EnrichmentUpdate{Summary: "s"}); err != nil {
		t.Fatalf("CompleteEnrichment: %v", err)
	}

	pending, err := service.FindUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("FindUnprocessed: %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "b" {
		t.Fatalf("pending = %+v, want only item b", pending)
	}

	processed, unprocessed, err := service.CountByProcessed(ctx)
	if err != nil {
		t.Fatalf("CountByProcessed: %v", err)
	}
	if processed != 1 || unprocessed != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", processed, unprocessed)
	}
}

func TestPopularTagsCountsAcrossItems(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mustCreate(t, service, ItemInput{Title: "a", Content: "c", Type: TypeNote, Tags: []string{"go", "web"}})
	mustCreate(t, service, ItemInput{Title: "b", Content: "c", Type: TypeNote, Tags: []string{"go"}})
	mustCreate(t, service, ItemInput{Title: "c", Content: "c", Type: TypeNote, Tags: []string{"db"}})

	tags, err := service.PopularTags(ctx, 2)
	if err != nil {
		t.Fatalf("PopularTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("PopularTags returned %d entries, want 2", len(tags))
	}
	if tags[0].Name != "go" || tags[0].Count != 2 {
		t.Fatalf("top tag = %+v, want go x2", tags[0])
	}
}

func TestStatsAggregatesByType(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	mustCreate(t, service, ItemInput{Title: "a", Content: "c", Type: TypeNote})
	mustCreate(t, service, ItemInput{Title: "b", Content: "c", Type: TypeNote})
	created := mustCreate(t, service, ItemInput{Title: "c", Content: "c", Type: TypeInsight})
	if _, err := service.GetByID(ctx, created.ID); err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("Total = %d, want 3", stats.Total)
	}
	byType := map[string]TypeStat{}
	for _, entry := range stats.ByType {
		byType[entry.Type] = entry
	}
	if byType[TypeNote].Count != 2 || byType[TypeInsight].Count != 1 {
		t.Fatalf("ByType = %v", byType)
	}
	if byType[TypeInsight].TotalViews != 1 {
		t.Fatalf("insight views = %d, want 1", byType[TypeInsight].TotalViews)
	}
	if len(stats.Recent) != 3 {
		t.Fatalf("Recent = %d entries, want 3", len(stats.Recent))
	}
}

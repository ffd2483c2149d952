package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when an item does not exist.
var ErrNotFound = errors.New("knowledge: item not found")

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultSortBy   = "created_at"
)

// sortColumns whitelists user-supplied sort keys.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"views":     "views",
	"title":     "title",
}

// Service is the persistence layer for knowledge items. The AI pipeline only
// touches it through FindByID, FindUnprocessed and CompleteEnrichment.
type Service struct {
	db *gorm.DB
}

// NewService wraps an existing database connection and runs migrations.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: database connection is required")
	}
	if err := db.AutoMigrate(&Item{}, &Attachment{}); err != nil {
		return nil, fmt.Errorf("knowledge: migrate models: %w", err)
	}
	return &Service{db: db}, nil
}

// NewServiceFromEnv opens the database from DATABASE_DSN/DATABASE_DRIVER.
func NewServiceFromEnv() (*Service, error) {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if dsn == "" {
		return nil, errors.New("knowledge: DATABASE_DSN environment variable is required")
	}
	driver, err := resolveDriver(os.Getenv("DATABASE_DRIVER"), dsn)
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewService(db)
}

// Ping reports whether the underlying database connection is usable.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ItemInput is the payload for creating an item.
type ItemInput struct {
	Title     string
	Content   string
	Type      string
	SourceURL string
	Tags      []string
	IsPublic  bool
}

// ItemUpdate carries optional changes; nil fields are left untouched.
// Summary and AITags are deliberately absent: only the pipeline writes them.
type ItemUpdate struct {
	Title     *string
	Content   *string
	Type      *string
	SourceURL *string
	Tags      *[]string
	IsPublic  *bool
}

// ListFilters controls pagination and filtering for List.
type ListFilters struct {
	Page       int
	Limit      int
	SortBy     string
	SortOrder  string
	Type       string
	Tags       []string
	Search     string
	PublicOnly bool
}

// Pagination describes the page window returned by List.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// SearchOptions narrows Search results.
type SearchOptions struct {
	Limit      int
	Type       string
	PublicOnly bool
}

// Create stores a new item with normalized tags and aiProcessed=false.
func (s *Service) Create(ctx context.Context, input ItemInput) (*ItemRecord, error) {
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" {
		return nil, errors.New("knowledge: title is required")
	}
	if content == "" {
		return nil, errors.New("knowledge: content is required")
	}
	itemType := strings.ToLower(strings.TrimSpace(input.Type))
	if !isValidType(itemType) {
		return nil, fmt.Errorf("knowledge: invalid item type %q", input.Type)
	}

	sourceURL := ""
	if itemType == TypeLink {
		sourceURL = strings.TrimSpace(input.SourceURL)
	}

	item := Item{
		Title:       title,
		Content:     content,
		Type:        itemType,
		SourceURL:   sourceURL,
		Tags:        tagsToJSON(input.Tags),
		AITags:      tagsToJSON(nil),
		AIProcessed: false,
		IsPublic:    input.IsPublic,
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}

	record := buildItemRecord(item, true)
	return &record, nil
}

// GetByID loads an item and increments its view counter.
func (s *Service) GetByID(ctx context.Context, id uint64) (*ItemRecord, error) {
	var item Item
	if err := s.db.WithContext(ctx).Take(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ?", id).
		UpdateColumn("views", gorm.Expr("views + 1")).Error; err != nil {
		return nil, err
	}
	item.Views++

	record := buildItemRecord(item, true)
	return &record, nil
}

// FindByID loads the raw item without touching the view counter.
func (s *Service) FindByID(ctx context.Context, id uint64) (*Item, error) {
	var item Item
	if err := s.db.WithContext(ctx).Take(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// Update applies the given changes. Any content change resets aiProcessed so
// the item is re-enriched. The second return value reports whether content
// changed.
func (s *Service) Update(ctx context.Context, id uint64, changes ItemUpdate) (*ItemRecord, bool, error) {
	var existing Item
	if err := s.db.WithContext(ctx).Take(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}

	updates := map[string]interface{}{}

	if changes.Title != nil {
		title := strings.TrimSpace(*changes.Title)
		if title == "" {
			return nil, false, errors.New("knowledge: title cannot be empty")
		}
		updates["title"] = title
	}
	if changes.Type != nil {
		itemType := strings.ToLower(strings.TrimSpace(*changes.Type))
		if !isValidType(itemType) {
			return nil, false, fmt.Errorf("knowledge: invalid item type %q", *changes.Type)
		}
		updates["type"] = itemType
	}
	if changes.SourceURL != nil {
		updates["source_url"] = strings.TrimSpace(*changes.SourceURL)
	}
	if changes.Tags != nil {
		updates["tags"] = tagsToJSON(*changes.Tags)
	}
	if changes.IsPublic != nil {
		updates["is_public"] = *changes.IsPublic
	}

	contentChanged := false
	if changes.Content != nil {
		content := strings.TrimSpace(*changes.Content)
		if content == "" {
			return nil, false, errors.New("knowledge: content cannot be empty")
		}
		if content != existing.Content {
			contentChanged = true
			updates["content"] = content
			updates["ai_processed"] = false
		}
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Item{}).
			Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return nil, false, err
		}
	}

	updated, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	record := buildItemRecord(*updated, true)
	return &record, contentChanged, nil
}

// Delete removes an item and its attachment rows.
func (s *Service) Delete(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Item{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("item_id = ?", id).Delete(&Attachment{}).Error
	})
}

// List returns a filtered, paginated page of items plus pagination metadata.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]ItemRecord, *Pagination, error) {
	page := filters.Page
	if page < 1 {
		page = 1
	}
	limit := filters.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	query := s.db.WithContext(ctx).Model(&Item{})
	query = applyListFilters(query, filters)

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, nil, err
	}

	column, ok := sortColumns[filters.SortBy]
	if !ok {
		column = defaultSortBy
	}
	direction := "DESC"
	if strings.EqualFold(filters.SortOrder, "asc") {
		direction = "ASC"
	}

	var items []Item
	if err := query.
		Order(column + " " + direction).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, nil, err
	}

	records := make([]ItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, buildItemRecord(item, false))
	}

	pages := int((total + int64(limit) - 1) / int64(limit))
	return records, &Pagination{Page: page, Limit: limit, Total: total, Pages: pages}, nil
}

func applyListFilters(query *gorm.DB, filters ListFilters) *gorm.DB {
	if filters.Type != "" && filters.Type != "all" {
		query = query.Where("type = ?", filters.Type)
	}
	if filters.PublicOnly {
		query = query.Where("is_public = ?", true)
	}
	for _, tag := range normalizeTags(filters.Tags) {
		query = query.Where("LOWER(tags) LIKE ?", "%"+jsonStringPattern(tag)+"%")
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(title) LIKE ? OR LOWER(content) LIKE ? OR LOWER(summary) LIKE ?",
			like, like, like,
		)
	}
	return query
}

// Search performs a case-insensitive substring match across title, content,
// summary and both tag sets, newest first.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]ItemRecord, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return []ItemRecord{}, nil
	}
	limit := opts.Limit
	if limit < 1 {
		limit = 50
	}

	like := "%" + strings.ToLower(trimmed) + "%"
	tx := s.db.WithContext(ctx).Model(&Item{}).
		Where(
			"LOWER(title) LIKE ? OR LOWER(content) LIKE ? OR LOWER(summary) LIKE ? OR LOWER(tags) LIKE ? OR LOWER(ai_tags) LIKE ?",
			like, like, like, like, like,
		)
	if opts.Type != "" && opts.Type != "all" {
		tx = tx.Where("type = ?", opts.Type)
	}
	if opts.PublicOnly {
		tx = tx.Where("is_public = ?", true)
	}

	var items []Item
	if err := tx.Order("created_at DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}

	records := make([]ItemRecord, 0, len(items))
	for _, item := range items {
		records = append(records, buildItemRecord(item, true))
	}
	return records, nil
}

// FindUnprocessed returns up to limit items pending enrichment.
func (s *Service) FindUnprocessed(ctx context.Context, limit int) ([]Item, error) {
	if limit < 1 {
		limit = 5
	}
	var items []Item
	if err := s.db.WithContext(ctx).
		Where("ai_processed = ? AND content <> ''", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CompleteEnrichment persists the pipeline output in a single conditional
// update: it only applies while ai_processed is still false, so concurrent
// processing of the same item has at most one effective winner. The bool
// reports whether this call won; either way the current row is returned.
func (s *Service) CompleteEnrichment(ctx context.Context, id uint64, update EnrichmentUpdate) (*Item, bool, error) {
	res := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ? AND ai_processed = ?", id, false).
		Updates(map[string]interface{}{
			"summary":      update.Summary,
			"ai_tags":      tagsToJSON(update.AITags),
			"ai_processed": true,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	item, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return item, res.RowsAffected > 0, nil
}

// CountByProcessed returns how many items have and have not been enriched.
func (s *Service) CountByProcessed(ctx context.Context) (processed int64, unprocessed int64, err error) {
	if err = s.db.WithContext(ctx).Model(&Item{}).
		Where("ai_processed = ?", true).Count(&processed).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&Item{}).
		Where("ai_processed = ?", false).Count(&unprocessed).Error; err != nil {
		return 0, 0, err
	}
	return processed, unprocessed, nil
}

// TypeStat aggregates counts and views per item type.
type TypeStat struct {
	Type       string `json:"type"`
	Count      int64  `json:"count"`
	TotalViews int64  `json:"totalViews"`
}

// StatsReport summarises the knowledge store.
type StatsReport struct {
	Total  int64        `json:"total"`
	ByType []TypeStat   `json:"byType"`
	Recent []ItemRecord `json:"recent"`
}

// Stats aggregates totals by type plus the five most recent items.
func (s *Service) Stats(ctx context.Context) (*StatsReport, error) {
	var byType []TypeStat
	if err := s.db.WithContext(ctx).Model(&Item{}).
		Select("type, COUNT(*) as count, COALESCE(SUM(views), 0) as total_views").
		Group("type").
		Find(&byType).Error; err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Item{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var recent []Item
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(5).
		Find(&recent).Error; err != nil {
		return nil, err
	}

	recentRecords := make([]ItemRecord, 0, len(recent))
	for _, item := range recent {
		recentRecords = append(recentRecords, buildItemRecord(item, false))
	}

	return &StatsReport{Total: total, ByType: byType, Recent: recentRecords}, nil
}

// TagCount pairs a tag with its usage count.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// PopularTags folds the user tag columns in memory and returns the most used
// tags. JSON array aggregation differs across the three supported drivers, so
// the fold happens here rather than in SQL.
func (s *Service) PopularTags(ctx context.Context, limit int) ([]TagCount, error) {
	if limit < 1 {
		limit = 20
	}

	var raws []datatypes.JSON
	if err := s.db.WithContext(ctx).Model(&Item{}).Pluck("tags", &raws).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	for _, raw := range raws {
		for _, tag := range parseTags(raw) {
			if counts[tag] == 0 {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}

	result := make([]TagCount, 0, len(order))
	for _, tag := range order {
		result = append(result, TagCount{Name: tag, Count: counts[tag]})
	}
	return result, nil
}

// AddAttachment records an uploaded attachment for an existing item.
func (s *Service) AddAttachment(ctx context.Context, attachment *Attachment) error {
	if attachment == nil {
		return errors.New("knowledge: attachment is required")
	}
	if _, err := s.FindByID(ctx, attachment.ItemID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(attachment).Error
}

// ListAttachments returns the attachments of an item, newest first.
func (s *Service) ListAttachments(ctx context.Context, itemID uint64) ([]Attachment, error) {
	if _, err := s.FindByID(ctx, itemID); err != nil {
		return nil, err
	}
	var attachments []Attachment
	if err := s.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("created_at DESC").
		Find(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}

// DeleteAttachment removes the attachment row and returns it so the caller
// can delete the stored object.
func (s *Service) DeleteAttachment(ctx context.Context, itemID, attachmentID uint64) (*Attachment, error) {
	var attachment Attachment
	if err := s.db.WithContext(ctx).
		Where("id = ? AND item_id = ?", attachmentID, itemID).
		Take(&attachment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&Attachment{}, attachment.ID).Error; err != nil {
		return nil, err
	}
	return &attachment, nil
}

func isValidType(itemType string) bool {
	switch itemType {
	case TypeNote, TypeLink, TypeInsight:
		return true
	default:
		return false
	}
}

// normalizeTags lowercases, trims and dedupes tags preserving insertion order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}
	return result
}

func tagsToJSON(tags []string) datatypes.JSON {
	normalized := normalizeTags(tags)
	if len(normalized) == 0 {
		return datatypes.JSON([]byte("[]"))
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}

func parseTags(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return []string{}
	}
	if tags == nil {
		return []string{}
	}
	return tags
}

// jsonStringPattern is the fragment a tag occupies inside a JSON array column.
func jsonStringPattern(tag string) string {
	return `"` + tag + `"`
}

func buildItemRecord(item Item, includeContent bool) ItemRecord {
	record := ItemRecord{
		ID:          item.ID,
		Title:       item.Title,
		Summary:     item.Summary,
		Type:        item.Type,
		SourceURL:   item.SourceURL,
		Tags:        parseTags(item.Tags),
		AITags:      parseTags(item.AITags),
		Views:       item.Views,
		AIProcessed: item.AIProcessed,
		IsPublic:    item.IsPublic,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
	if includeContent {
		record.Content = item.Content
	}
	return record
}

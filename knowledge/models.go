package knowledge

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeNote    = "note"
	TypeLink    = "link"
	TypeInsight = "insight"
)

// Item is a stored knowledge record. Tags and AITags are JSON string arrays;
// Summary and AITags are only ever written by the enrichment pipeline (or its
// fallback), never by direct user input.
type Item struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"size:200;not null" json:"title"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	Summary     string         `gorm:"type:text" json:"summary"`
	Type        string         `gorm:"size:16;not null;default:'note';index:idx_type_created" json:"type"`
	SourceURL   string         `gorm:"size:512" json:"source_url"`
	Tags        datatypes.JSON `gorm:"type:json" json:"-"`
	AITags      datatypes.JSON `gorm:"type:json;column:ai_tags" json:"-"`
	Views       uint64         `gorm:"not null;default:0" json:"views"`
	AIProcessed bool           `gorm:"not null;default:false;index;column:ai_processed" json:"ai_processed"`
	IsPublic    bool           `gorm:"not null;default:false" json:"is_public"`
	CreatedAt   time.Time      `gorm:"index:idx_type_created" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Item) TableName() string {
	return "knowledge_items"
}

// TagList decodes the user tag column into a string slice.
func (i Item) TagList() []string {
	return parseTags(i.Tags)
}

// AITagList decodes the AI tag column into a string slice.
func (i Item) AITagList() []string {
	return parseTags(i.AITags)
}

// Attachment is a file stored alongside a knowledge item in object storage.
type Attachment struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	ItemID      uint64    `gorm:"not null;index" json:"item_id"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	ObjectURL   string    `gorm:"size:1024;not null" json:"object_url"`
	ContentType string    `gorm:"size:128" json:"content_type"`
	Size        int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Attachment) TableName() string {
	return "knowledge_attachments"
}

// ItemRecord is the API representation of an Item with decoded tag lists.
type ItemRecord struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Summary     string    `json:"summary"`
	Type        string    `json:"type"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	Tags        []string  `json:"tags"`
	AITags      []string  `json:"aiTags"`
	Views       uint64    `json:"views"`
	AIProcessed bool      `json:"aiProcessed"`
	IsPublic    bool      `json:"isPublic"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EnrichmentUpdate carries the fields the processing pipeline writes back in
// a single update.
type EnrichmentUpdate struct {
	Summary string
	AITags  []string
}

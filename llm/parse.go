package llm

import "strings"

const (
	maxTagLength = 50
	maxTagCount  = 7
)

// CategoryOther is the fallback label for unrecognized category output.
const CategoryOther = "Other"

// categories is the closed set of labels the category prompt allows.
var categories = []string{
	"Technology",
	"Science",
	"Business",
	"Health",
	"Education",
	"Entertainment",
	CategoryOther,
}

// Categories returns the closed set of category labels.
func Categories() []string {
	out := make([]string, len(categories))
	copy(out, categories)
	return out
}

// ParseTags extracts a tag list from raw model output. Entries are split on
// commas, trimmed and lowercased; empty entries and entries longer than 50
// characters are dropped (not truncated), and the result is capped at 7 tags
// in insertion order.
func ParseTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" || len(tag) > maxTagLength {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == maxTagCount {
			break
		}
	}
	return tags
}

// NormalizeCategory validates raw model output against the closed category
// set. Unrecognized output maps to Other rather than being trusted as-is.
func NormalizeCategory(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for _, category := range categories {
		if strings.EqualFold(trimmed, category) {
			return category
		}
	}
	return CategoryOther
}

// ParseKeyPoints extracts the entries of a bulleted or numbered list from raw
// model output. Lines without content after stripping list markers are
// dropped.
func ParseKeyPoints(raw string) []string {
	lines := strings.Split(raw, "\n")
	points := make([]string, 0, len(lines))
	for _, line := range lines {
		point := strings.TrimSpace(line)
		point = strings.TrimLeft(point, "-*•")
		if idx := strings.IndexAny(point, ".)"); idx > 0 && idx <= 2 && isDigits(point[:idx]) {
			point = point[idx+1:]
		}
		point = strings.TrimSpace(point)
		if point == "" {
			continue
		}
		points = append(points, point)
	}
	return points
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

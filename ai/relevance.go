package ai

import (
	"strings"

	"secondbrain_back/knowledge"
)

// Score rates how relevant an item is to a query as the fraction of query
// words that appear as a substring anywhere in the item's title, content or
// tag lists. The result is in [0, 1]; an empty query scores zero. Substring
// containment is deliberate: "learn" matches inside "learning".
func Score(query string, record knowledge.ItemRecord) float64 {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0
	}

	var haystack strings.Builder
	haystack.WriteString(record.Title)
	haystack.WriteByte(' ')
	haystack.WriteString(record.Content)
	for _, tag := range record.Tags {
		haystack.WriteByte(' ')
		haystack.WriteString(tag)
	}
	for _, tag := range record.AITags {
		haystack.WriteByte(' ')
		haystack.WriteString(tag)
	}
	corpus := strings.ToLower(haystack.String())

	matched := 0
	for _, word := range words {
		if strings.Contains(corpus, word) {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

package ai

import (
	"testing"

	"secondbrain_back/knowledge"
)

func TestScoreFullAndZeroOverlap(t *testing.T) {
	item := knowledge.ItemRecord{
		Title:   "Intro to Machine Intelligence",
		Content: "Notes on learning systems and model training.",
	}

	if got := Score("machine learning", item); got != 1.0 {
		t.Fatalf("Score = %v, want 1.0 when every query word appears", got)
	}
	if got := Score("quantum chemistry", item); got != 0.0 {
		t.Fatalf("Score = %v, want 0.0 when no query word appears", got)
	}
}

func TestScorePartialOverlap(t *testing.T) {
	item := knowledge.ItemRecord{Title: "Databases", Content: "Postgres tuning notes"}

	if got := Score("postgres sharding", item); got != 0.5 {
		t.Fatalf("Score = %v, want 0.5 for one of two words", got)
	}
}

func TestScoreMatchesTagsAndSubstrings(t *testing.T) {
	item := knowledge.ItemRecord{
		Title:   "Misc",
		Content: "nothing relevant",
		Tags:    []string{"golang"},
		AITags:  []string{"distributed-systems"},
	}

	// Substring containment: "go" matches inside "golang".
	if got := Score("go", item); got != 1.0 {
		t.Fatalf("Score = %v, want substring match inside tag", got)
	}
	if got := Score("distributed", item); got != 1.0 {
		t.Fatalf("Score = %v, want match inside AI tag", got)
	}
}

func TestScoreEmptyQuery(t *testing.T) {
	if got := Score("   ", knowledge.ItemRecord{Title: "x"}); got != 0 {
		t.Fatalf("Score = %v, want 0 for blank query", got)
	}
}

package llm

import (
	"strings"
	"testing"
)

func TestPromptsEmbedContent(t *testing.T) {
	content := "the quantum computing notes"

	for name, prompt := range map[string]string{
		"summary":    SummaryPrompt(content),
		"tags":       TagsPrompt(content),
		"category":   CategoryPrompt(content),
		"key points": KeyPointsPrompt(content),
	} {
		if !strings.Contains(prompt, content) {
			t.Errorf("%s prompt does not embed the content", name)
		}
	}
}

func TestCategoryPromptListsClosedSet(t *testing.T) {
	prompt := CategoryPrompt("anything")
	for _, category := range Categories() {
		if !strings.Contains(prompt, category) {
			t.Errorf("category prompt missing label %q", category)
		}
	}
}

func TestAnswerPromptVariants(t *testing.T) {
	question := "what did I write about Go?"
	contextText := "Title: Go notes\nContent: concurrency patterns"

	dashboard := AnswerPrompt(question, contextText, VariantDashboard)
	public := AnswerPrompt(question, contextText, VariantPublic)

	if dashboard == public {
		t.Fatal("dashboard and public prompts must differ")
	}
	for _, prompt := range []string{dashboard, public} {
		if !strings.Contains(prompt, question) || !strings.Contains(prompt, contextText) {
			t.Fatal("answer prompt must embed question and context")
		}
	}
	if !strings.Contains(dashboard, "follow-up question") {
		t.Error("dashboard variant should ask for a follow-up question")
	}
	if !strings.Contains(public, "I don't have enough information about that.") {
		t.Error("public variant should instruct an insufficient-information reply")
	}
}

package llm

import "fmt"

// AnswerVariant selects the instruction template used for question answering.
// The dashboard variant ends with a follow-up question for the user; the
// public variant states when the context is insufficient instead.
type AnswerVariant int

const (
	VariantDashboard AnswerVariant = iota
	VariantPublic
)

// SummaryPrompt asks for a short summary of the content.
func SummaryPrompt(content string) string {
	return fmt.Sprintf("Please provide a concise 2-3 sentence summary of the following content. Focus on the main ideas and key points:\n\n%s\n\nSummary:", content)
}

// TagsPrompt asks for a comma-separated lowercase tag list.
func TagsPrompt(content string) string {
	return fmt.Sprintf("Analyze the following content and generate 5-7 relevant tags. Return ONLY a comma-separated list of tags in lowercase, no explanations:\n\n%s\n\nTags:", content)
}

// CategoryPrompt asks for exactly one label from the closed category set.
func CategoryPrompt(content string) string {
	return fmt.Sprintf("Categorize the following content into one of these categories: Technology, Science, Business, Health, Education, Entertainment, Other. Return ONLY the category name:\n\n%s\n\nCategory:", content)
}

// KeyPointsPrompt asks for a bulleted list of key points.
func KeyPointsPrompt(content string) string {
	return fmt.Sprintf("Extract 3-5 key points from the following content. Return as a bulleted list:\n\n%s\n\nKey Points:", content)
}

// AnswerPrompt embeds the assembled knowledge base context and the user's
// question into the instruction template for the given variant.
func AnswerPrompt(question, contextText string, variant AnswerVariant) string {
	if variant == VariantDashboard {
		return fmt.Sprintf("Based on the following knowledge base context, answer the user's question.\nAnswer only from the context when it is relevant. End your answer with a short follow-up question for the user.\n\nQuestion: %s\n\nKnowledge Base Context:\n%s\n\nAnswer:", question, contextText)
	}
	return fmt.Sprintf("Based on the following knowledge base context, answer the user's question.\nIf the answer isn't in the context, say \"I don't have enough information about that.\"\n\nQuestion: %s\n\nKnowledge Base Context:\n%s\n\nAnswer:", question, contextText)
}

// Package prompt assembles the summarize, chat and quiz prompts. Every
// function here is pure: no network, no file access.
package prompt

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/xhad/studyroom/internal/models"
)

const (
	// DefaultSummaryBudget caps the summary context, in characters.
	DefaultSummaryBudget = 20000
	// DefaultQuizSample is how many retrieved chunks feed a quiz prompt.
	DefaultQuizSample = 5
	// FallbackAnswer is the phrase the chat prompt asks the model to use
	// when the context does not contain the answer.
	FallbackAnswer = "I couldn't find that in this document."
)

const summarizeTemplate = `You are a strict academic summarizer.
Summarize the following document in exactly 3 concise sentences.
Focus on the main topic, the key concepts and the intended audience.

Rules:
1. Return ONLY the 3 sentences.
2. Do not open with a preamble such as "Here is a summary" or "This document".
3. Do not close with an offer of further help.
4. Plain text only, no markdown.

Document text:
%s
`

const chatTemplate = `You are a study assistant answering questions about a single document.
Use the conversation so far and the document excerpts below.
If the excerpts do not contain the answer, reply exactly: "%s"

Document excerpts:
%s

Conversation so far:
%sUser: %s
AI:`

const quizTemplate = `You are writing a multiple-choice quiz from the study material below.

Rules:
1. Write at most 5 questions about the concepts in the material.
2. Every question has exactly 4 options labeled "A", "B", "C" and "D", and one correct answer.
3. Ignore incidental identifiers such as course codes, section numbers, page numbers and dates.
4. Output ONLY a JSON array, no markdown fences and no commentary, in this shape:
[{"question": "...", "options": [{"id": "A", "text": "..."}, {"id": "B", "text": "..."}, {"id": "C", "text": "..."}, {"id": "D", "text": "..."}], "answer": "A"}]

Material:
%s
`

// Summarize builds the summary prompt over at most budget characters of
// context. A non-positive budget means DefaultSummaryBudget.
func Summarize(context string, budget int) string {
	if budget <= 0 {
		budget = DefaultSummaryBudget
	}
	return fmt.Sprintf(summarizeTemplate, Truncate(context, budget))
}

// Chat builds the retrieval-augmented answer prompt. History is rendered as
// alternating "User:" and "AI:" lines in the order given.
func Chat(context string, history []models.ConversationTurn, question string) string {
	return fmt.Sprintf(chatTemplate, FallbackAnswer, context, RenderHistory(history), strings.TrimSpace(question))
}

// Quiz builds the quiz prompt over already sampled, de-whitespaced context.
func Quiz(context string) string {
	return fmt.Sprintf(quizTemplate, context)
}

// RenderHistory writes one line per turn. Unknown roles are treated as user
// turns.
func RenderHistory(history []models.ConversationTurn) string {
	if len(history) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, turn := range history {
		label := "User"
		if turn.Role == models.RoleAssistant {
			label = "AI"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", label, Dewhitespace(turn.Content)))
	}
	return sb.String()
}

// ChatContext joins retrieved chunks, most similar first.
func ChatContext(results []models.SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("[%d] %s", i+1, strings.TrimSpace(r.Text)))
	}
	return sb.String()
}

// QuizContext concatenates the chunk texts with all whitespace runs
// collapsed to single spaces.
func QuizContext(results []models.SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if text := Dewhitespace(r.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// SampleChunks draws min(n, len(results)) results without replacement. The
// input slice is not modified.
func SampleChunks(rng *rand.Rand, results []models.SearchResult, n int) []models.SearchResult {
	if n <= 0 || len(results) == 0 {
		return nil
	}
	if n > len(results) {
		n = len(results)
	}
	picked := make([]models.SearchResult, 0, n)
	for _, idx := range rng.Perm(len(results))[:n] {
		picked = append(picked, results[idx])
	}
	return picked
}

// Dewhitespace collapses every whitespace run into a single space and trims
// the ends.
func Dewhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate returns at most limit runes of s.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

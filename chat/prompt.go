package chat

import (
	"fmt"

	"videoRAG/core"
	"videoRAG/processors"
)

const systemPrompt = "You are a helpful assistant answering questions about a single video. " +
	"Use the provided transcript excerpts with timestamps as the source of truth. " +
	"Cite timestamps inline like [mm:ss] where relevant. If unsure, say you don't know."

const noExcerpts = "(No transcript segments available)"

// userPrompt embeds the question and the ranked excerpts.
func userPrompt(question string, hits []core.ScoredEntry) string {
	excerpts := processors.ChatContext(hits)
	if excerpts == "" {
		excerpts = noExcerpts
	}
	return fmt.Sprintf("Question: %s\n\nRelevant excerpts (with timestamps):\n%s\n\n"+
		"Answer succinctly and include timestamps like [mm:ss] where applicable.", question, excerpts)
}

// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"fmt"
	"strings"
)

// AnswerSystemPrompt instructs API-backed providers to emit the strict JSON
// shape ParseAnswerResult accepts. Providers must not reach the contract
// evaluator with anything that fails that parse.
const AnswerSystemPrompt = `You are an internal knowledge assistant. Answer the user's question using ONLY the provided context chunks. If the context does not contain the answer, say so instead of speculating.

Respond with a single JSON object and nothing else:
{
  "answer": "<the answer text>",
  "citations": [
    {"chunkId": "<id of a context chunk>", "docVersionId": "<its docVersionId>", "sourceUrl": "<its sourceUrl>", "startOffset": <int>, "endOffset": <int>}
  ],
  "confidence": <0..1>,
  "sourceScore": <0..100>
}

Every claim in the answer must be supported by at least one citation into the provided chunks. Offsets index into the cited chunk's text.`

// SummarizeSystemPrompt instructs providers to produce the short document
// summary used by retrieval's zero-result fallback.
const SummarizeSystemPrompt = `Summarize the following internal document in at most three sentences. Preserve concrete names, commands, and numbers; drop boilerplate. Respond with the summary text only.`

// BuildAnswerPrompt renders the question and its context chunks into the user
// message all providers share.
func BuildAnswerPrompt(req AnswerRequest) string {
	var sb strings.Builder

	sb.WriteString("Context chunks:\n\n")
	for _, chunk := range req.Chunks {
		fmt.Fprintf(&sb, "[chunkId: %s | docVersionId: %s | sourceUrl: %s | title: %s | updatedAt: %s | sourceScore: %d]\n%s\n\n",
			chunk.ChunkID, chunk.DocVersionID, chunk.SourceURL, chunk.DocumentTitle, chunk.UpdatedAt, chunk.SourceScore, chunk.Text)
	}

	sb.WriteString("Question: ")
	sb.WriteString(req.Question)

	return sb.String()
}

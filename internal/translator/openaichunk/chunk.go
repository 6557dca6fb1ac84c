// Package openaichunk builds OpenAI-compatible chat.completion.chunk and
// chat.completion payloads from transcoded Grok frames, sharing one
// buildBaseChunk-plus-state shape across every chunk in a response.
package openaichunk

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State tracks the identity fields shared by every chunk in one response.
type State struct {
	ResponseID string
	Created    int64
	Model      string
}

// NewState creates a fresh per-response State. streamIDBase is the
// caller-computed response id (so it matches what the caller already
// logged before the first chunk was built); if empty, a fresh id is
// generated here instead.
func NewState(streamIDBase, model string) *State {
	id := streamIDBase
	if id == "" {
		id = "chatcmpl-" + uuid.New().String()[:24]
	}
	return &State{
		ResponseID: id,
		Created:    time.Now().Unix(),
		Model:      model,
	}
}

func (s *State) buildBaseChunk(delta map[string]interface{}, finishReason *string) map[string]interface{} {
	choice := map[string]interface{}{
		"index": 0,
		"delta": delta,
	}
	if finishReason != nil {
		choice["finish_reason"] = *finishReason
	} else {
		choice["finish_reason"] = nil
	}
	return map[string]interface{}{
		"id":      s.ResponseID,
		"object":  "chat.completion.chunk",
		"created": s.Created,
		"model":   s.Model,
		"choices": []map[string]interface{}{choice},
	}
}

func marshal(v map[string]interface{}) []byte {
	out, _ := json.Marshal(v)
	return out
}

// Delta builds a content-delta chunk. role is included only on the first
// chunk of the response (callers track that themselves and pass
// includeRole accordingly).
func Delta(s *State, content string, includeRole bool) []byte {
	delta := map[string]interface{}{"content": content}
	if includeRole {
		delta["role"] = "assistant"
	}
	return marshal(s.buildBaseChunk(delta, nil))
}

// DeltaFinish builds the mandatory terminal chunk: a content delta (role
// included only on the response's first chunk) carrying a non-null
// finish_reason, the shape every transcode run emits exactly once before
// the [DONE] sentinel.
func DeltaFinish(s *State, content string, includeRole bool, finishReason string) []byte {
	delta := map[string]interface{}{"content": content}
	if includeRole {
		delta["role"] = "assistant"
	}
	return marshal(s.buildBaseChunk(delta, &finishReason))
}

// Done returns the SSE terminal sentinel payload (without "data: " prefix
// or the trailing blank line; the caller owns SSE framing).
func Done() []byte {
	return []byte("[DONE]")
}

// NonStreamResponse builds a complete (non-streaming) chat.completion
// response from accumulated content, for the non-stream output path.
func NonStreamResponse(model, content string) []byte {
	response := map[string]interface{}{
		"id":      "chatcmpl-" + uuid.New().String()[:24],
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{
			{
				"index": 0,
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": nil,
	}
	out, _ := json.Marshal(response)
	return out
}

// SSELine frames a raw JSON payload as one SSE "data:" record.
func SSELine(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, "\n\n"...)
	return out
}

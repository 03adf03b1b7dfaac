package stream

import (
	"encoding/json"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// DecodeChat decodes chat-completions SSE chunks (openai dialect and the
// OpenAI-compatible upstreams that reuse it).
func DecodeChat(evt *Event) ([]types.Chunk, error) {
	var chunk types.ChatChunk
	if err := json.Unmarshal(evt.Raw, &chunk); err != nil {
		return nil, nil
	}

	var out []types.Chunk
	var usage *types.Usage
	if chunk.Usage != nil {
		usage = chunk.Usage
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			out = append(out, types.Chunk{Type: types.ChunkText, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			out = append(out, types.Chunk{Type: types.ChunkToolCall, ToolCall: &types.ToolCallDelta{
				Index: tc.Index,
				ID:    tc.ID,
				Name:  tc.Function.Name,
				Args:  tc.Function.Arguments,
			}})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			out = append(out, types.Chunk{Type: types.ChunkDone, StopReason: *choice.FinishReason})
		}
	}
	if usage != nil {
		if len(out) == 0 {
			out = append(out, types.Chunk{Type: types.ChunkDone})
		}
		out[len(out)-1].Usage = usage
	}
	return out, nil
}

// claudeStreamEvent covers the Messages API SSE event shapes this decoder
// reads; everything else is skipped.
type claudeStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		Thinking    string `json:"thinking"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Usage   *types.ClaudeUsage `json:"usage"`
	Message struct {
		Usage types.ClaudeUsage `json:"usage"`
	} `json:"message"`
}

// DecodeClaude decodes Messages API SSE events.
func DecodeClaude(evt *Event) ([]types.Chunk, error) {
	var e claudeStreamEvent
	if err := json.Unmarshal(evt.Raw, &e); err != nil {
		return nil, nil
	}

	switch e.Type {
	case "content_block_start":
		if e.ContentBlock.Type == "tool_use" {
			return []types.Chunk{{Type: types.ChunkToolCall, ToolCall: &types.ToolCallDelta{
				Index: e.Index,
				ID:    e.ContentBlock.ID,
				Name:  e.ContentBlock.Name,
			}}}, nil
		}
	case "content_block_delta":
		switch e.Delta.Type {
		case "text_delta":
			if e.Delta.Text != "" {
				return []types.Chunk{{Type: types.ChunkText, Text: e.Delta.Text}}, nil
			}
		case "input_json_delta":
			if e.Delta.PartialJSON != "" {
				return []types.Chunk{{Type: types.ChunkToolCall, ToolCall: &types.ToolCallDelta{
					Index: e.Index,
					Args:  e.Delta.PartialJSON,
				}}}, nil
			}
		case "thinking_delta":
			if e.Delta.Thinking != "" {
				return []types.Chunk{{Type: types.ChunkReasoning, Text: e.Delta.Thinking}}, nil
			}
		}
	case "message_delta":
		chunk := types.Chunk{Type: types.ChunkDone, StopReason: e.Delta.StopReason}
		if e.Usage != nil {
			chunk.Usage = &types.Usage{
				PromptTokens:     e.Usage.InputTokens,
				CompletionTokens: e.Usage.OutputTokens,
				TotalTokens:      e.Usage.InputTokens + e.Usage.OutputTokens,
			}
		}
		return []types.Chunk{chunk}, nil
	}
	return nil, nil
}

// DecodeGemini decodes streamGenerateContent?alt=sse events.
func DecodeGemini(evt *Event) ([]types.Chunk, error) {
	var resp types.GeminiResponse
	if err := json.Unmarshal(evt.Raw, &resp); err != nil {
		return nil, nil
	}

	var out []types.Chunk
	toolIndex := 0
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				out = append(out, types.Chunk{Type: types.ChunkToolCall, ToolCall: &types.ToolCallDelta{
					Index: toolIndex,
					ID:    part.FunctionCall.Name,
					Name:  part.FunctionCall.Name,
					Args:  string(part.FunctionCall.Args),
				}})
				toolIndex++
			case part.Text != "":
				out = append(out, types.Chunk{Type: types.ChunkText, Text: part.Text})
			}
		}
		if cand.FinishReason != "" {
			out = append(out, types.Chunk{Type: types.ChunkDone, StopReason: cand.FinishReason})
		}
	}
	if resp.UsageMetadata != nil && len(out) > 0 {
		out[len(out)-1].Usage = &types.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

package stream

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestReaderParsesDataLines(t *testing.T) {
	body := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start"}`,
		``,
		`: keepalive comment`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`,
		``,
		`data: not-json`,
		`data: [DONE]`,
		`data: {"type":"never_reached"}`,
	}, "\n")

	r := NewReader(strings.NewReader(body))
	evt, err := r.Next()
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if evt.Type != "message_start" {
		t.Errorf("type: got %q", evt.Type)
	}
	evt, err = r.Next()
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if evt.Type != "content_block_delta" {
		t.Errorf("type: got %q", evt.Type)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("after DONE: got %v want io.EOF", err)
	}
}

func TestDecodeChat(t *testing.T) {
	evt := &Event{Raw: []byte(`{
		"choices": [{
			"delta": {
				"content": "hello",
				"tool_calls": [{"index": 0, "id": "call_1", "function": {"name": "f", "arguments": "{\"a\""}}]
			},
			"finish_reason": null
		}]
	}`)}
	chunks, err := DecodeChat(evt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks: got %d", len(chunks))
	}
	if chunks[0].Type != types.ChunkText || chunks[0].Text != "hello" {
		t.Errorf("text chunk: %+v", chunks[0])
	}
	if chunks[1].Type != types.ChunkToolCall || chunks[1].ToolCall.ID != "call_1" {
		t.Errorf("tool chunk: %+v", chunks[1])
	}
}

func TestDecodeChatUsageOnly(t *testing.T) {
	evt := &Event{Raw: []byte(`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`)}
	chunks, err := DecodeChat(evt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Type != types.ChunkDone {
		t.Fatalf("chunks: %+v", chunks)
	}
	if chunks[0].Usage == nil || chunks[0].Usage.TotalTokens != 8 {
		t.Errorf("usage: %+v", chunks[0].Usage)
	}
}

func TestDecodeClaude(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want types.ChunkType
	}{
		{"text delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"x"}}`, types.ChunkText},
		{"tool start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"calc"}}`, types.ChunkToolCall},
		{"args delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"x\":"}}`, types.ChunkToolCall},
		{"thinking", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`, types.ChunkReasoning},
		{"done", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":1,"output_tokens":2}}`, types.ChunkDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := DecodeClaude(&Event{Raw: []byte(tt.raw)})
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(chunks) != 1 || chunks[0].Type != tt.want {
				t.Fatalf("chunks: %+v want type %q", chunks, tt.want)
			}
		})
	}

	skipped, err := DecodeClaude(&Event{Raw: []byte(`{"type":"ping"}`)})
	if err != nil || skipped != nil {
		t.Errorf("ping: %v %v", skipped, err)
	}
}

func TestCollectMergesToolCallArgs(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Sure. "}}`,
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"calc"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"expr\":"}}`,
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"2+2\"}"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":10,"output_tokens":20}}`,
		`data: [DONE]`,
	}, "\n\n")

	tracker := &closeTracker{Reader: strings.NewReader(body)}
	s := New(tracker, DecodeClaude)
	text, calls, usage, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if text != "Sure. " {
		t.Errorf("text: %q", text)
	}
	if len(calls) != 1 {
		t.Fatalf("calls: %+v", calls)
	}
	if calls[0].ID != "toolu_1" || calls[0].Name != "calc" || calls[0].Args != `{"expr":"2+2"}` {
		t.Errorf("call: %+v", calls[0])
	}
	if usage == nil || usage.TotalTokens != 30 {
		t.Errorf("usage: %+v", usage)
	}
	if !tracker.closed {
		t.Error("body not closed")
	}
}

func TestNextObservesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(io.NopCloser(strings.NewReader("data: {}\n")), DecodeChat)
	if _, err := s.Next(ctx); err != context.Canceled {
		t.Fatalf("got %v want context.Canceled", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	tracker := &closeTracker{Reader: strings.NewReader("")}
	s := New(tracker, DecodeChat)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.Next(context.Background()); err != io.EOF {
		t.Fatalf("next after close: got %v want io.EOF", err)
	}
}

func TestDecodeGemini(t *testing.T) {
	raw := `{
		"candidates": [{
			"content": {"role": "model", "parts": [
				{"text": "The weather is "},
				{"functionCall": {"name": "get_weather", "args": {"city": "Paris"}}}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 7, "totalTokenCount": 12}
	}`
	chunks, err := DecodeGemini(&Event{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks: %+v", chunks)
	}
	if chunks[0].Type != types.ChunkText {
		t.Errorf("first: %+v", chunks[0])
	}
	if chunks[1].Type != types.ChunkToolCall || chunks[1].ToolCall.Name != "get_weather" {
		t.Errorf("second: %+v", chunks[1])
	}
	if chunks[2].Type != types.ChunkDone || chunks[2].StopReason != "STOP" {
		t.Errorf("third: %+v", chunks[2])
	}
	if chunks[2].Usage == nil || chunks[2].Usage.TotalTokens != 12 {
		t.Errorf("usage: %+v", chunks[2].Usage)
	}
}

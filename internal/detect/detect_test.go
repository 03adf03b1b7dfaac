package detect

import (
	"testing"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

func TestDetectWrapper(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want types.WrapperKind
	}{
		{
			"claude code by system marker",
			`{"model":"m","system":"` + codec.ClaudeCodeIdentity + ` Extra.","messages":[]}`,
			types.WrapperClaudeCode,
		},
		{
			"claude code by system array",
			`{"model":"m","system":[{"type":"text","text":"` + codec.ClaudeCodeIdentity + `"}],"messages":[]}`,
			types.WrapperClaudeCode,
		},
		{
			"claude code by builtin tool",
			`{"model":"m","messages":[],"tools":[{"name":"TodoWrite"}]}`,
			types.WrapperClaudeCode,
		},
		{
			"codex by instructions and previous_response_id",
			`{"model":"m","instructions":"anything","previous_response_id":"resp_1","input":[]}`,
			types.WrapperCodexCLI,
		},
		{
			"codex by instructions prefix",
			`{"model":"m","instructions":"` + codec.CodexIdentity + `","input":[]}`,
			types.WrapperCodexCLI,
		},
		{
			"gemini cli by systemInstruction",
			`{"contents":[],"systemInstruction":{"parts":[{"text":"` + codec.GeminiCLIIdentity + `"}]}}`,
			types.WrapperGeminiCLI,
		},
		{
			"plain openai",
			`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`,
			types.WrapperNone,
		},
		{
			"plain instructions without marker or id",
			`{"model":"m","instructions":"be brief","input":[]}`,
			types.WrapperNone,
		},
		{
			"invalid json",
			`{not json`,
			types.WrapperNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectWrapper([]byte(tt.raw)); got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

// Claude Code detection runs before Codex detection; a payload matching
// both resolves to the earlier check.
func TestDetectPriorityOrder(t *testing.T) {
	raw := `{
		"model": "m",
		"system": "` + codec.ClaudeCodeIdentity + `",
		"instructions": "x",
		"previous_response_id": "resp_1",
		"messages": []
	}`
	if got := DetectWrapper([]byte(raw)); got != types.WrapperClaudeCode {
		t.Errorf("got %q want %q", got, types.WrapperClaudeCode)
	}
}

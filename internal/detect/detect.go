// Package detect classifies the client wrapper embedded in a raw request
// body by structural fingerprint, without a full decode.
package detect

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/codec"
	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// DetectWrapper returns the WrapperKind for a raw request body. It is pure
// and total: unparseable or unmarked bodies yield WrapperNone.
//
// Checks run in a fixed priority order and the first match wins:
//
//  1. Claude Code: the first system text segment starts with the Claude
//     Code identity line, or any tool name is in the Claude Code
//     built-in table.
//  2. Codex CLI: an "instructions" field co-occurring with
//     "previous_response_id", or instructions carrying the Codex
//     identity line.
//  3. Gemini CLI: a systemInstruction object whose first part carries
//     the CLI-agent identity line.
//
// The order is part of the contract; callers must not depend on any other
// disambiguation when two signatures co-occur.
func DetectWrapper(body []byte) types.WrapperKind {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return types.WrapperNone
	}

	if isClaudeCode(body) {
		return types.WrapperClaudeCode
	}
	if isCodexCLI(body) {
		return types.WrapperCodexCLI
	}
	if isGeminiCLI(body) {
		return types.WrapperGeminiCLI
	}
	return types.WrapperNone
}

func isClaudeCode(body []byte) bool {
	if first := firstSystemText(gjson.GetBytes(body, "system")); strings.HasPrefix(first, codec.ClaudeCodeIdentity) {
		return true
	}
	match := false
	gjson.GetBytes(body, "tools.#.name").ForEach(func(_, name gjson.Result) bool {
		if codec.IsBuiltinTool(types.DialectClaude, name.String()) {
			match = true
			return false
		}
		return true
	})
	return match
}

func isCodexCLI(body []byte) bool {
	instructions := gjson.GetBytes(body, "instructions")
	if !instructions.Exists() {
		return false
	}
	if gjson.GetBytes(body, "previous_response_id").Exists() {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(instructions.String()), codec.CodexIdentity)
}

func isGeminiCLI(body []byte) bool {
	first := gjson.GetBytes(body, "systemInstruction.parts.0.text")
	if !first.Exists() {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(first.String()), codec.GeminiCLIIdentity)
}

// firstSystemText returns the first text segment of a system field that may
// be a bare string or an array of text blocks.
func firstSystemText(system gjson.Result) string {
	switch {
	case system.Type == gjson.String:
		return strings.TrimSpace(system.String())
	case system.IsArray():
		arr := system.Array()
		if len(arr) == 0 {
			return ""
		}
		return strings.TrimSpace(arr[0].Get("text").String())
	default:
		return ""
	}
}

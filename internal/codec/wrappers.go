package codec

import (
	"encoding/json"
	"strings"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// Identity markers injected by known clients into the system prompt. The
// detector matches on the leading sentence; wrappers inject the full line.
const (
	ClaudeCodeIdentity = "You are Claude Code, Anthropic's official CLI for Claude."
	CodexIdentity      = "You are Codex, a coding agent running in the Codex CLI."
	GeminiCLIIdentity  = "You are an interactive CLI agent specializing in software engineering tasks."
)

// CanonicalWrapper returns the wrapper kind native clients of the dialect
// produce. Passthrough is legal only for this wrapper or none.
func CanonicalWrapper(d types.Dialect) types.WrapperKind {
	switch d {
	case types.DialectClaude:
		return types.WrapperClaudeCode
	case types.DialectResponses:
		return types.WrapperCodexCLI
	case types.DialectGemini:
		return types.WrapperGeminiCLI
	default:
		return types.WrapperNone
	}
}

// IdentityPreamble returns the identity line the dialect's native client
// prepends to the system prompt, or "" when the dialect has none.
func IdentityPreamble(d types.Dialect) string {
	switch d {
	case types.DialectClaude:
		return ClaudeCodeIdentity
	case types.DialectResponses:
		return CodexIdentity
	case types.DialectGemini:
		return GeminiCLIIdentity
	default:
		return ""
	}
}

type builtinTool struct {
	name        string
	description string
	schema      string
}

// Built-in tool tables per dialect. These are tools the native client of
// the dialect injects automatically; they are never user-authored and are
// stripped before canonicalization.
var claudeCodeBuiltins = []builtinTool{
	{"Bash", "Executes a shell command in a persistent session", `{"type":"object","properties":{"command":{"type":"string"},"timeout":{"type":"number"}},"required":["command"]}`},
	{"Read", "Reads a file from the local filesystem", `{"type":"object","properties":{"file_path":{"type":"string"}},"required":["file_path"]}`},
	{"Write", "Writes a file to the local filesystem", `{"type":"object","properties":{"file_path":{"type":"string"},"content":{"type":"string"}},"required":["file_path","content"]}`},
	{"Edit", "Performs an exact string replacement in a file", `{"type":"object","properties":{"file_path":{"type":"string"},"old_string":{"type":"string"},"new_string":{"type":"string"}},"required":["file_path","old_string","new_string"]}`},
	{"Glob", "Fast file pattern matching", `{"type":"object","properties":{"pattern":{"type":"string"},"path":{"type":"string"}},"required":["pattern"]}`},
	{"Grep", "Content search built on ripgrep", `{"type":"object","properties":{"pattern":{"type":"string"},"path":{"type":"string"}},"required":["pattern"]}`},
	{"WebFetch", "Fetches content from a URL", `{"type":"object","properties":{"url":{"type":"string"},"prompt":{"type":"string"}},"required":["url"]}`},
	{"WebSearch", "Searches the web", `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`},
	{"Task", "Launches a sub-agent for a multi-step task", `{"type":"object","properties":{"description":{"type":"string"},"prompt":{"type":"string"}},"required":["description","prompt"]}`},
	{"TodoWrite", "Updates the task list", `{"type":"object","properties":{"todos":{"type":"array"}},"required":["todos"]}`},
}

var codexCLIBuiltins = []builtinTool{
	{"shell", "Runs a shell command and returns its output", `{"type":"object","properties":{"command":{"type":"array","items":{"type":"string"}},"timeout_ms":{"type":"number"}},"required":["command"]}`},
	{"apply_patch", "Applies a patch to files in the workspace", `{"type":"object","properties":{"input":{"type":"string"}},"required":["input"]}`},
	{"update_plan", "Updates the current task plan", `{"type":"object","properties":{"plan":{"type":"array"}},"required":["plan"]}`},
	{"view_image", "Loads a local image into context", `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`},
}

var geminiCLIBuiltins = []builtinTool{
	{"run_shell_command", "Executes a shell command", `{"type":"object","properties":{"command":{"type":"string"},"description":{"type":"string"}},"required":["command"]}`},
	{"read_file", "Reads a file from the local filesystem", `{"type":"object","properties":{"absolute_path":{"type":"string"}},"required":["absolute_path"]}`},
	{"write_file", "Writes content to a file", `{"type":"object","properties":{"file_path":{"type":"string"},"content":{"type":"string"}},"required":["file_path","content"]}`},
	{"list_directory", "Lists directory contents", `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`},
	{"search_file_content", "Searches file contents for a pattern", `{"type":"object","properties":{"pattern":{"type":"string"},"path":{"type":"string"}},"required":["pattern"]}`},
	{"replace", "Replaces text within a file", `{"type":"object","properties":{"file_path":{"type":"string"},"old_string":{"type":"string"},"new_string":{"type":"string"}},"required":["file_path","old_string","new_string"]}`},
	{"google_web_search", "Performs a web search", `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`},
	{"web_fetch", "Fetches content from URLs", `{"type":"object","properties":{"prompt":{"type":"string"}},"required":["prompt"]}`},
}

func builtinsFor(d types.Dialect) []builtinTool {
	switch d {
	case types.DialectClaude:
		return claudeCodeBuiltins
	case types.DialectResponses:
		return codexCLIBuiltins
	case types.DialectGemini:
		return geminiCLIBuiltins
	default:
		return nil
	}
}

// IsBuiltinTool reports whether name is in the dialect's built-in tool table.
func IsBuiltinTool(d types.Dialect, name string) bool {
	for _, t := range builtinsFor(d) {
		if t.name == name {
			return true
		}
	}
	return false
}

// BuiltinToolNames returns the dialect's built-in tool name set.
func BuiltinToolNames(d types.Dialect) []string {
	defs := builtinsFor(d)
	out := make([]string, 0, len(defs))
	for _, t := range defs {
		out = append(out, t.name)
	}
	return out
}

// filterBuiltinTools removes built-in tools of the dialect from the list.
// Idempotent: filtering an already-filtered list is a no-op.
func filterBuiltinTools(d types.Dialect, tools []types.Tool) []types.Tool {
	if len(tools) == 0 {
		return tools
	}
	out := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		if IsBuiltinTool(d, t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// addBuiltinTools prepends the dialect's built-in tool definitions, skipping
// names already present so the operation stays idempotent.
func addBuiltinTools(d types.Dialect, tools []types.Tool) []types.Tool {
	defs := builtinsFor(d)
	if len(defs) == 0 {
		return tools
	}
	present := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		present[t.Name] = struct{}{}
	}
	out := make([]types.Tool, 0, len(defs)+len(tools))
	for _, def := range defs {
		if _, ok := present[def.name]; ok {
			continue
		}
		out = append(out, types.Tool{
			Name:        def.name,
			Description: def.description,
			InputSchema: json.RawMessage(def.schema),
		})
	}
	return append(out, tools...)
}

// stripIdentity removes the dialect's identity preamble from the front of
// the system prompt, returning only user-authored content.
func stripIdentity(d types.Dialect, system string) string {
	marker := IdentityPreamble(d)
	if marker == "" {
		return system
	}
	trimmed := strings.TrimSpace(system)
	if !strings.HasPrefix(trimmed, marker) {
		return system
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
}

// injectIdentity prepends the dialect's identity preamble when absent.
func injectIdentity(d types.Dialect, system string) string {
	marker := IdentityPreamble(d)
	if marker == "" {
		return system
	}
	trimmed := strings.TrimSpace(system)
	if strings.HasPrefix(trimmed, marker) {
		return system
	}
	if trimmed == "" {
		return marker
	}
	return marker + "\n\n" + trimmed
}

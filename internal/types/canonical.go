package types

import "encoding/json"

// Dialect identifies a supported wire-level request format.
type Dialect string

const (
	DialectClaude    Dialect = "claude"
	DialectOpenAI    Dialect = "openai"
	DialectResponses Dialect = "responses"
	DialectGemini    Dialect = "gemini"
)

// Known returns true for dialects this gateway can translate.
func (d Dialect) Known() bool {
	switch d {
	case DialectClaude, DialectOpenAI, DialectResponses, DialectGemini:
		return true
	}
	return false
}

// WrapperKind identifies a recognized client-identity wrapping convention
// embedded in an otherwise standard dialect payload.
type WrapperKind string

const (
	WrapperNone       WrapperKind = "none"
	WrapperClaudeCode WrapperKind = "claude-code"
	WrapperCodexCLI   WrapperKind = "codex-cli"
	WrapperGeminiCLI  WrapperKind = "gemini-cli"
)

// Role is a canonical message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags a ContentBlock variant.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message's content. Only the fields for
// its Type are populated; translators match exhaustively on Type.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64

	// BlockToolCall
	CallID string          `json:"call_id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`

	// BlockToolResult (CallID shared with BlockToolCall)
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolCallBlock builds a tool-call content block.
func ToolCallBlock(callID, name string, args json.RawMessage) ContentBlock {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ContentBlock{Type: BlockToolCall, CallID: callID, Name: name, Args: args}
}

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(callID, result string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, CallID: callID, Result: result, IsError: isError}
}

// Message is one turn of the conversation.
type Message struct {
	Role   Role           `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// Tool is a user-defined tool the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Params holds generation parameters common to all dialects.
type Params struct {
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	Stop           []string `json:"stop,omitempty"`
	ThinkingBudget *int     `json:"thinking_budget,omitempty"`
}

// Meta records where a request came from and what was stripped on the way in.
// SourceDialect always reflects the original inbound dialect, no matter how
// many times the request is re-wrapped. Client fields are carried opaquely
// and never interpreted.
type Meta struct {
	SourceDialect Dialect                    `json:"source_dialect"`
	Wrapper       WrapperKind                `json:"wrapper"`
	Unwrapped     bool                       `json:"unwrapped"`
	Client        map[string]json.RawMessage `json:"client,omitempty"`
}

// CanonicalRequest is the dialect-neutral representation every translation
// converges on. Instances are immutable after construction; translators
// produce new values rather than mutating in place.
type CanonicalRequest struct {
	Model    string    `json:"model"`
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
	Stream   bool      `json:"stream,omitempty"`
	Params   Params    `json:"params"`
	Meta     Meta      `json:"meta"`
}

// FirstUserText returns the text of the first user message, used for
// deterministic session identifiers.
func (r *CanonicalRequest) FirstUserText() string {
	for _, msg := range r.Messages {
		if msg.Role != RoleUser {
			continue
		}
		for _, b := range msg.Blocks {
			if b.Type == BlockText && b.Text != "" {
				return b.Text
			}
		}
	}
	return ""
}

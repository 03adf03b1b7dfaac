package types

// ChunkType tags a streaming Chunk variant.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkToolCall  ChunkType = "tool_call"
	ChunkReasoning ChunkType = "reasoning"
	ChunkDone      ChunkType = "done"
)

// Chunk is one element of a streamed response. Only the fields for its
// Type are populated; Usage may accompany any chunk with the totals seen
// so far.
type Chunk struct {
	Type ChunkType `json:"type"`

	// ChunkText / ChunkReasoning
	Text string `json:"text,omitempty"`

	// ChunkToolCall
	ToolCall *ToolCallDelta `json:"tool_call,omitempty"`

	// ChunkDone
	StopReason string `json:"stop_reason,omitempty"`

	Usage *Usage `json:"usage,omitempty"`
}

// ToolCallDelta is an incremental fragment of a tool call. ID and Name
// arrive on the first fragment; Args accumulates across fragments.
type ToolCallDelta struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Args  string `json:"args,omitempty"`
}

// Usage holds token usage totals.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

package types

import (
	"encoding/json"
	"strings"
)

// ResponsesRequest is a Responses API request body (the responses dialect).
type ResponsesRequest struct {
	Model              string          `json:"model"`
	Instructions       string          `json:"instructions,omitempty"`
	Input              json.RawMessage `json:"input,omitempty"`
	Tools              []ResponsesTool `json:"tools,omitempty"`
	ToolChoice         any             `json:"tool_choice,omitempty"`
	Stream             bool            `json:"stream,omitempty"`
	MaxOutputTokens    int             `json:"max_output_tokens,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"top_p,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
	Reasoning          json.RawMessage `json:"reasoning,omitempty"`
}

// ResponsesInputItem is one item of the Responses input array. Flat
// discriminated union: Type determines which fields are relevant.
type ResponsesInputItem struct {
	Type      string             `json:"type"`
	Role      string             `json:"role,omitempty"`
	Content   []ResponsesContent `json:"content,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Output    string             `json:"output,omitempty"`
}

// ResponsesContent is a content item inside an input message.
type ResponsesContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ResponsesTool is a tool definition in the responses dialect.
type ResponsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ParseInput parses the input field, which may be a bare string (a single
// user message) or an array of input items.
func (r *ResponsesRequest) ParseInput() ([]ResponsesInputItem, error) {
	if len(r.Input) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(r.Input, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return []ResponsesInputItem{{
			Type:    "message",
			Role:    "user",
			Content: []ResponsesContent{{Type: "input_text", Text: s}},
		}}, nil
	}
	var items []ResponsesInputItem
	if err := json.Unmarshal(r.Input, &items); err != nil {
		return nil, err
	}
	return items, nil
}

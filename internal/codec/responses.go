package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// ResponsesCodec translates between the Responses API wire format and the
// canonical form. Its canonical wrapper is the Codex CLI.
type ResponsesCodec struct{}

func (c *ResponsesCodec) Dialect() types.Dialect { return types.DialectResponses }

func (c *ResponsesCodec) Unwrap(raw []byte) (*types.CanonicalRequest, error) {
	var req types.ResponsesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, translateErrorf(types.DialectResponses, "malformed JSON: %v", err)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, translateErrorf(types.DialectResponses, "missing required field %q", "model")
	}

	items, err := req.ParseInput()
	if err != nil {
		return nil, translateErrorf(types.DialectResponses, "invalid input: %v", err)
	}
	if len(items) == 0 {
		return nil, translateErrorf(types.DialectResponses, "missing required field %q", "input")
	}

	var messages []types.Message
	for _, item := range items {
		switch item.Type {
		case "", "message":
			role := strings.TrimSpace(strings.ToLower(item.Role))
			var canonicalRole types.Role
			switch role {
			case "user", "system", "developer":
				canonicalRole = types.RoleUser
			case "assistant":
				canonicalRole = types.RoleAssistant
			default:
				return nil, translateErrorf(types.DialectResponses, "unrecognized role %q", item.Role)
			}
			var blocks []types.ContentBlock
			for _, content := range item.Content {
				switch content.Type {
				case "input_text", "output_text", "text":
					if content.Text != "" {
						blocks = append(blocks, types.TextBlock(content.Text))
					}
				case "input_image":
					if mime, data, ok := parseDataURI(content.ImageURL); ok {
						blocks = append(blocks, types.ContentBlock{Type: types.BlockImage, MimeType: mime, Data: data})
					} else if content.ImageURL != "" {
						blocks = append(blocks, types.TextBlock(content.ImageURL))
					}
				default:
					return nil, translateErrorf(types.DialectResponses, "unrecognized content type %q", content.Type)
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, types.Message{Role: canonicalRole, Blocks: blocks})
			}

		case "function_call":
			messages = append(messages, types.Message{
				Role:   types.RoleAssistant,
				Blocks: []types.ContentBlock{types.ToolCallBlock(item.CallID, item.Name, json.RawMessage(item.Arguments))},
			})

		case "function_call_output":
			messages = append(messages, types.Message{
				Role:   types.RoleUser,
				Blocks: []types.ContentBlock{types.ToolResultBlock(item.CallID, item.Output, false)},
			})

		case "reasoning":
			// Replayed reasoning items carry no canonical content.

		default:
			return nil, translateErrorf(types.DialectResponses, "unrecognized input item type %q", item.Type)
		}
	}

	client := map[string]json.RawMessage{}
	var tools []types.Tool
	var extraTools []types.ResponsesTool
	for _, t := range req.Tools {
		if t.Type == "function" {
			if strings.TrimSpace(t.Name) == "" {
				return nil, translateErrorf(types.DialectResponses, "function tool without name")
			}
			tools = append(tools, types.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.Parameters,
			})
			continue
		}
		// Non-function tool kinds (web_search etc.) are dialect-specific;
		// carry them opaquely for same-dialect round trips.
		extraTools = append(extraTools, t)
	}
	if len(extraTools) > 0 {
		if b, err := json.Marshal(extraTools); err == nil {
			client["responses.extra_tools"] = b
		}
	}
	if req.PreviousResponseID != "" {
		if b, err := json.Marshal(req.PreviousResponseID); err == nil {
			client["responses.previous_response_id"] = b
		}
	}
	if len(req.Reasoning) > 0 {
		client["responses.reasoning"] = req.Reasoning
	}
	if len(client) == 0 {
		client = nil
	}

	return &types.CanonicalRequest{
		Model:    req.Model,
		System:   c.ExtractUserSystem(req.Instructions),
		Messages: messages,
		Tools:    c.FilterBuiltinTools(tools),
		Stream:   req.Stream,
		Params: types.Params{
			MaxTokens:   req.MaxOutputTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		},
		Meta: types.Meta{
			SourceDialect: types.DialectResponses,
			Wrapper:       types.WrapperNone,
			Client:        client,
		},
	}, nil
}

func (c *ResponsesCodec) FilterBuiltinTools(tools []types.Tool) []types.Tool {
	return filterBuiltinTools(types.DialectResponses, tools)
}

func (c *ResponsesCodec) ExtractUserSystem(system string) string {
	return stripIdentity(types.DialectResponses, system)
}

func (c *ResponsesCodec) InjectIdentity(system string) string {
	return injectIdentity(types.DialectResponses, system)
}

func (c *ResponsesCodec) AddBuiltinTools(tools []types.Tool) []types.Tool {
	return addBuiltinTools(types.DialectResponses, tools)
}

func (c *ResponsesCodec) Wrap(req *types.CanonicalRequest) ([]byte, error) {
	out := types.ResponsesRequest{
		Model:           req.Model,
		Instructions:    c.InjectIdentity(req.System),
		Stream:          req.Stream,
		MaxOutputTokens: req.Params.MaxTokens,
		Temperature:     req.Params.Temperature,
		TopP:            req.Params.TopP,
	}

	var items []types.ResponsesInputItem
	nextCallID := 1
	for _, msg := range req.Messages {
		role := "user"
		textKind := "input_text"
		if msg.Role == types.RoleAssistant {
			role = "assistant"
			textKind = "output_text"
		}

		var pending []types.ResponsesContent
		flushPending := func() {
			if len(pending) == 0 {
				return
			}
			contentCopy := make([]types.ResponsesContent, len(pending))
			copy(contentCopy, pending)
			items = append(items, types.ResponsesInputItem{
				Type:    "message",
				Role:    role,
				Content: contentCopy,
			})
			pending = pending[:0]
		}

		for _, b := range msg.Blocks {
			switch b.Type {
			case types.BlockText:
				pending = append(pending, types.ResponsesContent{Type: textKind, Text: b.Text})
			case types.BlockImage:
				pending = append(pending, types.ResponsesContent{Type: "input_image", ImageURL: dataURI(b.MimeType, b.Data)})
			case types.BlockToolCall:
				flushPending()
				callID := strings.TrimSpace(b.CallID)
				if callID == "" {
					callID = fmt.Sprintf("call_%d", nextCallID)
					nextCallID++
				}
				args := string(b.Args)
				if args == "" {
					args = "{}"
				}
				items = append(items, types.ResponsesInputItem{
					Type:      "function_call",
					Name:      b.Name,
					Arguments: args,
					CallID:    callID,
				})
			case types.BlockToolResult:
				flushPending()
				items = append(items, types.ResponsesInputItem{
					Type:   "function_call_output",
					CallID: b.CallID,
					Output: b.Result,
				})
			default:
				return nil, translateErrorf(types.DialectResponses, "unrecognized content block type %q", b.Type)
			}
		}
		flushPending()
	}

	input, err := json.Marshal(items)
	if err != nil {
		return nil, translateErrorf(types.DialectResponses, "encode input: %v", err)
	}
	out.Input = input

	for _, t := range c.AddBuiltinTools(req.Tools) {
		out.Tools = append(out.Tools, types.ResponsesTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	if req.Meta.SourceDialect == types.DialectResponses {
		if raw, ok := req.Meta.Client["responses.extra_tools"]; ok {
			var extra []types.ResponsesTool
			if err := json.Unmarshal(raw, &extra); err == nil {
				out.Tools = append(out.Tools, extra...)
			}
		}
		if raw, ok := req.Meta.Client["responses.previous_response_id"]; ok {
			var id string
			if err := json.Unmarshal(raw, &id); err == nil {
				out.PreviousResponseID = id
			}
		}
		if raw, ok := req.Meta.Client["responses.reasoning"]; ok {
			out.Reasoning = raw
		}
	}

	return json.Marshal(out)
}

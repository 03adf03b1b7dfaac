package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// OpenAICodec translates between the chat-completions wire format and the
// canonical form. The dialect has no client wrapper of its own, so the
// identity and built-in tool hooks are no-ops.
type OpenAICodec struct{}

func (c *OpenAICodec) Dialect() types.Dialect { return types.DialectOpenAI }

func (c *OpenAICodec) Unwrap(raw []byte) (*types.CanonicalRequest, error) {
	var req types.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, translateErrorf(types.DialectOpenAI, "malformed JSON: %v", err)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, translateErrorf(types.DialectOpenAI, "missing required field %q", "model")
	}
	if len(req.Messages) == 0 {
		return nil, translateErrorf(types.DialectOpenAI, "missing required field %q", "messages")
	}

	var systemParts []string
	var messages []types.Message
	for _, msg := range req.Messages {
		role := strings.TrimSpace(strings.ToLower(msg.Role))
		switch role {
		case "system", "developer":
			if txt := msg.ParseContentText(); txt != "" {
				systemParts = append(systemParts, txt)
			}

		case "user":
			parts, err := msg.ParseContentParts()
			if err != nil {
				return nil, translateErrorf(types.DialectOpenAI, "invalid user content: %v", err)
			}
			var blocks []types.ContentBlock
			for _, p := range parts {
				switch p.Type {
				case "", "text":
					if p.Text != "" {
						blocks = append(blocks, types.TextBlock(p.Text))
					}
				case "image_url":
					if p.ImageURL == nil || p.ImageURL.URL == "" {
						return nil, translateErrorf(types.DialectOpenAI, "image_url part without url")
					}
					if mime, data, ok := parseDataURI(p.ImageURL.URL); ok {
						blocks = append(blocks, types.ContentBlock{Type: types.BlockImage, MimeType: mime, Data: data})
					} else {
						blocks = append(blocks, types.TextBlock(p.ImageURL.URL))
					}
				default:
					return nil, translateErrorf(types.DialectOpenAI, "unrecognized content part type %q", p.Type)
				}
			}
			if len(blocks) > 0 {
				messages = append(messages, types.Message{Role: types.RoleUser, Blocks: blocks})
			}

		case "assistant":
			var blocks []types.ContentBlock
			if txt := msg.ParseContentText(); txt != "" {
				blocks = append(blocks, types.TextBlock(txt))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, types.ToolCallBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
			}
			if len(blocks) > 0 {
				messages = append(messages, types.Message{Role: types.RoleAssistant, Blocks: blocks})
			}

		case "tool":
			if msg.ToolCallID == "" {
				return nil, translateErrorf(types.DialectOpenAI, "tool message without tool_call_id")
			}
			messages = append(messages, types.Message{
				Role:   types.RoleUser,
				Blocks: []types.ContentBlock{types.ToolResultBlock(msg.ToolCallID, msg.ParseContentText(), false)},
			})

		default:
			return nil, translateErrorf(types.DialectOpenAI, "unrecognized role %q", msg.Role)
		}
	}

	var tools []types.Tool
	for _, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			return nil, translateErrorf(types.DialectOpenAI, "unsupported tool type %q", t.Type)
		}
		if t.Function == nil || strings.TrimSpace(t.Function.Name) == "" {
			return nil, translateErrorf(types.DialectOpenAI, "tool without function definition")
		}
		tools = append(tools, types.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	var client map[string]json.RawMessage
	if req.ToolChoice != nil {
		if b, err := json.Marshal(req.ToolChoice); err == nil {
			client = map[string]json.RawMessage{"openai.tool_choice": b}
		}
	}

	return &types.CanonicalRequest{
		Model:    req.Model,
		System:   strings.Join(systemParts, "\n\n"),
		Messages: messages,
		Tools:    tools,
		Stream:   req.Stream,
		Params: types.Params{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.ParseStop(),
		},
		Meta: types.Meta{
			SourceDialect: types.DialectOpenAI,
			Wrapper:       types.WrapperNone,
			Client:        client,
		},
	}, nil
}

func (c *OpenAICodec) FilterBuiltinTools(tools []types.Tool) []types.Tool { return tools }

func (c *OpenAICodec) ExtractUserSystem(system string) string { return system }

func (c *OpenAICodec) InjectIdentity(system string) string { return system }

func (c *OpenAICodec) AddBuiltinTools(tools []types.Tool) []types.Tool { return tools }

func (c *OpenAICodec) Wrap(req *types.CanonicalRequest) ([]byte, error) {
	out := types.ChatRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
	}
	if len(req.Params.Stop) > 0 {
		b, err := json.Marshal(req.Params.Stop)
		if err != nil {
			return nil, translateErrorf(types.DialectOpenAI, "encode stop: %v", err)
		}
		out.Stop = b
	}

	if system := req.System; system != "" {
		content, err := json.Marshal(system)
		if err != nil {
			return nil, translateErrorf(types.DialectOpenAI, "encode system: %v", err)
		}
		out.Messages = append(out.Messages, types.ChatMessage{Role: "system", Content: content})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleUser, types.RoleSystem:
			var parts []types.ChatContentPart
			for _, b := range msg.Blocks {
				switch b.Type {
				case types.BlockText:
					parts = append(parts, types.ChatContentPart{Type: "text", Text: b.Text})
				case types.BlockImage:
					parts = append(parts, types.ChatContentPart{
						Type:     "image_url",
						ImageURL: &types.ChatImageURL{URL: dataURI(b.MimeType, b.Data)},
					})
				case types.BlockToolResult:
					content, err := json.Marshal(b.Result)
					if err != nil {
						return nil, translateErrorf(types.DialectOpenAI, "encode tool result: %v", err)
					}
					out.Messages = append(out.Messages, types.ChatMessage{
						Role:       "tool",
						ToolCallID: b.CallID,
						Content:    content,
					})
				case types.BlockToolCall:
					return nil, translateErrorf(types.DialectOpenAI, "tool call in user message")
				default:
					return nil, translateErrorf(types.DialectOpenAI, "unrecognized content block type %q", b.Type)
				}
			}
			if len(parts) > 0 {
				content, err := marshalChatParts(parts)
				if err != nil {
					return nil, err
				}
				out.Messages = append(out.Messages, types.ChatMessage{Role: "user", Content: content})
			}

		case types.RoleAssistant:
			var text strings.Builder
			var calls []types.ChatToolCall
			for _, b := range msg.Blocks {
				switch b.Type {
				case types.BlockText:
					text.WriteString(b.Text)
				case types.BlockToolCall:
					calls = append(calls, types.ChatToolCall{
						ID:   b.CallID,
						Type: "function",
						Function: types.ChatFunctionCall{
							Name:      b.Name,
							Arguments: string(b.Args),
						},
					})
				default:
					return nil, translateErrorf(types.DialectOpenAI, "unrecognized assistant block type %q", b.Type)
				}
			}
			am := types.ChatMessage{Role: "assistant", ToolCalls: calls}
			if text.Len() > 0 {
				content, err := json.Marshal(text.String())
				if err != nil {
					return nil, translateErrorf(types.DialectOpenAI, "encode assistant content: %v", err)
				}
				am.Content = content
			}
			out.Messages = append(out.Messages, am)

		default:
			return nil, translateErrorf(types.DialectOpenAI, "unrecognized role %q", msg.Role)
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, types.ChatTool{
			Type: "function",
			Function: &types.ChatFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	if req.Meta.SourceDialect == types.DialectOpenAI {
		if raw, ok := req.Meta.Client["openai.tool_choice"]; ok {
			var choice any
			if err := json.Unmarshal(raw, &choice); err == nil {
				out.ToolChoice = choice
			}
		}
	}

	return json.Marshal(out)
}

func marshalChatParts(parts []types.ChatContentPart) (json.RawMessage, error) {
	// A single text part collapses to a bare string, matching native clients.
	if len(parts) == 1 && parts[0].Type == "text" {
		b, err := json.Marshal(parts[0].Text)
		if err != nil {
			return nil, translateErrorf(types.DialectOpenAI, "encode content: %v", err)
		}
		return b, nil
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return nil, translateErrorf(types.DialectOpenAI, "encode content: %v", err)
	}
	return b, nil
}

func parseDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}

func dataURI(mime, data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, data)
}

package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// ClaudeCodec translates between the Messages API wire format and the
// canonical form. Its canonical wrapper is Claude Code.
type ClaudeCodec struct{}

func (c *ClaudeCodec) Dialect() types.Dialect { return types.DialectClaude }

func (c *ClaudeCodec) Unwrap(raw []byte) (*types.CanonicalRequest, error) {
	var req types.ClaudeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, translateErrorf(types.DialectClaude, "malformed JSON: %v", err)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, translateErrorf(types.DialectClaude, "missing required field %q", "model")
	}
	if len(req.Messages) == 0 {
		return nil, translateErrorf(types.DialectClaude, "missing required field %q", "messages")
	}

	systemTexts, err := types.ClaudeSystemTexts(req.System)
	if err != nil {
		return nil, translateErrorf(types.DialectClaude, "%v", err)
	}
	system := c.ExtractUserSystem(strings.Join(systemTexts, "\n\n"))

	messages := make([]types.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := strings.TrimSpace(strings.ToLower(msg.Role))
		var canonicalRole types.Role
		switch role {
		case "user":
			canonicalRole = types.RoleUser
		case "assistant":
			canonicalRole = types.RoleAssistant
		default:
			return nil, translateErrorf(types.DialectClaude, "unrecognized role %q", msg.Role)
		}

		blocks, err := msg.ParseContent()
		if err != nil {
			return nil, translateErrorf(types.DialectClaude, "%v", err)
		}

		var out []types.ContentBlock
		for _, block := range blocks {
			switch strings.TrimSpace(strings.ToLower(block.Type)) {
			case "", "text":
				if block.Text != "" {
					out = append(out, types.TextBlock(block.Text))
				}
			case "image":
				if block.Source == nil {
					return nil, translateErrorf(types.DialectClaude, "image block without source")
				}
				out = append(out, types.ContentBlock{
					Type:     types.BlockImage,
					MimeType: block.Source.MediaType,
					Data:     block.Source.Data,
				})
			case "tool_use":
				out = append(out, types.ToolCallBlock(block.ID, block.Name, block.Input))
			case "tool_result":
				out = append(out, types.ToolResultBlock(block.ToolUseID, types.ClaudeToolResultText(block.Content), block.IsError))
			case "thinking", "redacted_thinking":
				// Model-produced reasoning is not replayed upstream.
			default:
				return nil, translateErrorf(types.DialectClaude, "unrecognized content block type %q", block.Type)
			}
		}
		if len(out) == 0 {
			continue
		}
		messages = append(messages, types.Message{Role: canonicalRole, Blocks: out})
	}

	tools := make([]types.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return nil, translateErrorf(types.DialectClaude, "tool without name")
		}
		tools = append(tools, types.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	params := types.Params{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}
	if req.Thinking != nil && req.Thinking.BudgetTokens > 0 {
		params.ThinkingBudget = types.IntPtr(req.Thinking.BudgetTokens)
	}

	client := map[string]json.RawMessage{}
	if len(req.Metadata) > 0 {
		client["claude.metadata"] = req.Metadata
	}
	if req.ToolChoice != nil {
		if b, err := json.Marshal(req.ToolChoice); err == nil {
			client["claude.tool_choice"] = b
		}
	}
	if len(client) == 0 {
		client = nil
	}

	return &types.CanonicalRequest{
		Model:    req.Model,
		System:   system,
		Messages: messages,
		Tools:    c.FilterBuiltinTools(tools),
		Stream:   req.Stream,
		Params:   params,
		Meta: types.Meta{
			SourceDialect: types.DialectClaude,
			Wrapper:       types.WrapperNone,
		},
	}, nil
}

func (c *ClaudeCodec) FilterBuiltinTools(tools []types.Tool) []types.Tool {
	return filterBuiltinTools(types.DialectClaude, tools)
}

func (c *ClaudeCodec) ExtractUserSystem(system string) string {
	return stripIdentity(types.DialectClaude, system)
}

func (c *ClaudeCodec) InjectIdentity(system string) string {
	return injectIdentity(types.DialectClaude, system)
}

func (c *ClaudeCodec) AddBuiltinTools(tools []types.Tool) []types.Tool {
	return addBuiltinTools(types.DialectClaude, tools)
}

func (c *ClaudeCodec) Wrap(req *types.CanonicalRequest) ([]byte, error) {
	out := types.ClaudeRequest{
		Model:         req.Model,
		Stream:        req.Stream,
		MaxTokens:     req.Params.MaxTokens,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		StopSequences: req.Params.Stop,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if req.Params.ThinkingBudget != nil {
		out.Thinking = &types.ClaudeThinking{Type: "enabled", BudgetTokens: *req.Params.ThinkingBudget}
	}

	if system := c.InjectIdentity(req.System); system != "" {
		b, err := json.Marshal(system)
		if err != nil {
			return nil, translateErrorf(types.DialectClaude, "encode system: %v", err)
		}
		out.System = b
	}

	for _, msg := range req.Messages {
		var role string
		switch msg.Role {
		case types.RoleUser, types.RoleSystem:
			role = "user"
		case types.RoleAssistant:
			role = "assistant"
		default:
			return nil, translateErrorf(types.DialectClaude, "unrecognized role %q", msg.Role)
		}

		blocks := make([]types.ClaudeContentBlock, 0, len(msg.Blocks))
		toolCallSeq := 0
		for _, b := range msg.Blocks {
			switch b.Type {
			case types.BlockText:
				blocks = append(blocks, types.ClaudeContentBlock{Type: "text", Text: b.Text})
			case types.BlockImage:
				blocks = append(blocks, types.ClaudeContentBlock{
					Type: "image",
					Source: &types.ClaudeImageSrc{
						Type:      "base64",
						MediaType: b.MimeType,
						Data:      b.Data,
					},
				})
			case types.BlockToolCall:
				id := b.CallID
				if id == "" {
					toolCallSeq++
					id = fmt.Sprintf("toolu_%d", toolCallSeq)
				}
				input := b.Args
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, types.ClaudeContentBlock{
					Type:  "tool_use",
					ID:    id,
					Name:  b.Name,
					Input: input,
				})
			case types.BlockToolResult:
				content, err := json.Marshal(b.Result)
				if err != nil {
					return nil, translateErrorf(types.DialectClaude, "encode tool result: %v", err)
				}
				blocks = append(blocks, types.ClaudeContentBlock{
					Type:      "tool_result",
					ToolUseID: b.CallID,
					Content:   content,
					IsError:   b.IsError,
				})
			default:
				return nil, translateErrorf(types.DialectClaude, "unrecognized content block type %q", b.Type)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		content, err := json.Marshal(blocks)
		if err != nil {
			return nil, translateErrorf(types.DialectClaude, "encode content: %v", err)
		}
		out.Messages = append(out.Messages, types.ClaudeMessage{Role: role, Content: content})
	}

	for _, t := range c.AddBuiltinTools(req.Tools) {
		out.Tools = append(out.Tools, types.ClaudeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	if req.Meta.SourceDialect == types.DialectClaude {
		if raw, ok := req.Meta.Client["claude.metadata"]; ok {
			out.Metadata = raw
		}
		if raw, ok := req.Meta.Client["claude.tool_choice"]; ok {
			var choice any
			if err := json.Unmarshal(raw, &choice); err == nil {
				out.ToolChoice = choice
			}
		}
	}

	return json.Marshal(out)
}

package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiaimimi0920/neuroloom-gateway/internal/types"
)

// GeminiCodec translates between the generateContent wire format and the
// canonical form. Its canonical wrapper is the Gemini CLI.
//
// The wire format has no tool-call identifiers; unwrap synthesizes call ids
// in encounter order and pairs functionResponse parts with the most recent
// call of the same name.
type GeminiCodec struct{}

func (c *GeminiCodec) Dialect() types.Dialect { return types.DialectGemini }

func (c *GeminiCodec) Unwrap(raw []byte) (*types.CanonicalRequest, error) {
	var req types.GeminiRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, translateErrorf(types.DialectGemini, "malformed JSON: %v", err)
	}
	if len(req.Contents) == 0 {
		return nil, translateErrorf(types.DialectGemini, "missing required field %q", "contents")
	}

	var system string
	if req.SystemInstruction != nil {
		var parts []string
		for _, p := range req.SystemInstruction.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		system = c.ExtractUserSystem(strings.Join(parts, "\n\n"))
	}

	var messages []types.Message
	nextCallID := 1
	lastCallByName := map[string]string{}
	for _, content := range req.Contents {
		role := strings.TrimSpace(strings.ToLower(content.Role))
		var canonicalRole types.Role
		switch role {
		case "", "user":
			canonicalRole = types.RoleUser
		case "model":
			canonicalRole = types.RoleAssistant
		default:
			return nil, translateErrorf(types.DialectGemini, "unrecognized role %q", content.Role)
		}

		var blocks []types.ContentBlock
		for _, p := range content.Parts {
			switch {
			case p.FunctionCall != nil:
				callID := fmt.Sprintf("call_%d", nextCallID)
				nextCallID++
				lastCallByName[p.FunctionCall.Name] = callID
				blocks = append(blocks, types.ToolCallBlock(callID, p.FunctionCall.Name, p.FunctionCall.Args))
			case p.FunctionResponse != nil:
				callID := lastCallByName[p.FunctionResponse.Name]
				if callID == "" {
					callID = p.FunctionResponse.Name
				}
				blocks = append(blocks, types.ToolResultBlock(callID, flattenFunctionResponse(p.FunctionResponse.Response), false))
			case p.InlineData != nil:
				blocks = append(blocks, types.ContentBlock{
					Type:     types.BlockImage,
					MimeType: p.InlineData.MimeType,
					Data:     p.InlineData.Data,
				})
			case p.Text != "":
				blocks = append(blocks, types.TextBlock(p.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		messages = append(messages, types.Message{Role: canonicalRole, Blocks: blocks})
	}

	var tools []types.Tool
	for _, group := range req.Tools {
		for _, decl := range group.FunctionDeclarations {
			if strings.TrimSpace(decl.Name) == "" {
				return nil, translateErrorf(types.DialectGemini, "function declaration without name")
			}
			tools = append(tools, types.Tool{
				Name:        decl.Name,
				Description: decl.Description,
				InputSchema: decl.Parameters,
			})
		}
	}

	params := types.Params{}
	if gc := req.GenerationConfig; gc != nil {
		params.MaxTokens = gc.MaxOutputTokens
		params.Temperature = gc.Temperature
		params.TopP = gc.TopP
		params.Stop = gc.StopSequences
		if gc.ThinkingConfig != nil && gc.ThinkingConfig.ThinkingBudget > 0 {
			params.ThinkingBudget = types.IntPtr(gc.ThinkingConfig.ThinkingBudget)
		}
	}

	var client map[string]json.RawMessage
	if len(req.SafetySettings) > 0 {
		client = map[string]json.RawMessage{"gemini.safety_settings": req.SafetySettings}
	}

	return &types.CanonicalRequest{
		Model:    req.Model,
		System:   system,
		Messages: messages,
		Tools:    c.FilterBuiltinTools(tools),
		Params:   params,
		Meta: types.Meta{
			SourceDialect: types.DialectGemini,
			Wrapper:       types.WrapperNone,
			Client:        client,
		},
	}, nil
}

func (c *GeminiCodec) FilterBuiltinTools(tools []types.Tool) []types.Tool {
	return filterBuiltinTools(types.DialectGemini, tools)
}

func (c *GeminiCodec) ExtractUserSystem(system string) string {
	return stripIdentity(types.DialectGemini, system)
}

func (c *GeminiCodec) InjectIdentity(system string) string {
	return injectIdentity(types.DialectGemini, system)
}

func (c *GeminiCodec) AddBuiltinTools(tools []types.Tool) []types.Tool {
	return addBuiltinTools(types.DialectGemini, tools)
}

func (c *GeminiCodec) Wrap(req *types.CanonicalRequest) ([]byte, error) {
	out := types.GeminiRequest{Model: req.Model}

	if system := c.InjectIdentity(req.System); system != "" {
		out.SystemInstruction = &types.GeminiContent{
			Parts: []types.GeminiPart{{Text: system}},
		}
	}

	nameByCallID := map[string]string{}
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == types.RoleAssistant {
			role = "model"
		}
		var parts []types.GeminiPart
		for _, b := range msg.Blocks {
			switch b.Type {
			case types.BlockText:
				parts = append(parts, types.GeminiPart{Text: b.Text})
			case types.BlockImage:
				parts = append(parts, types.GeminiPart{InlineData: &types.GeminiInlineData{
					MimeType: b.MimeType,
					Data:     b.Data,
				}})
			case types.BlockToolCall:
				nameByCallID[b.CallID] = b.Name
				parts = append(parts, types.GeminiPart{FunctionCall: &types.GeminiFunctionCall{
					Name: b.Name,
					Args: b.Args,
				}})
			case types.BlockToolResult:
				name := nameByCallID[b.CallID]
				if name == "" {
					name = b.CallID
				}
				response, err := json.Marshal(map[string]string{"output": b.Result})
				if err != nil {
					return nil, translateErrorf(types.DialectGemini, "encode function response: %v", err)
				}
				parts = append(parts, types.GeminiPart{FunctionResponse: &types.GeminiFunctionResp{
					Name:     name,
					Response: response,
				}})
			default:
				return nil, translateErrorf(types.DialectGemini, "unrecognized content block type %q", b.Type)
			}
		}
		if len(parts) == 0 {
			continue
		}
		out.Contents = append(out.Contents, types.GeminiContent{Role: role, Parts: parts})
	}

	tools := c.AddBuiltinTools(req.Tools)
	if len(tools) > 0 {
		group := types.GeminiTool{}
		for _, t := range tools {
			group.FunctionDeclarations = append(group.FunctionDeclarations, types.GeminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		out.Tools = []types.GeminiTool{group}
	}

	gc := &types.GeminiGenConfig{
		MaxOutputTokens: req.Params.MaxTokens,
		Temperature:     req.Params.Temperature,
		TopP:            req.Params.TopP,
		StopSequences:   req.Params.Stop,
	}
	if req.Params.ThinkingBudget != nil {
		gc.ThinkingConfig = &types.GeminiThinkingConfig{ThinkingBudget: *req.Params.ThinkingBudget}
	}
	if gc.MaxOutputTokens != 0 || gc.Temperature != nil || gc.TopP != nil || len(gc.StopSequences) > 0 || gc.ThinkingConfig != nil {
		out.GenerationConfig = gc
	}

	if req.Meta.SourceDialect == types.DialectGemini {
		if raw, ok := req.Meta.Client["gemini.safety_settings"]; ok {
			out.SafetySettings = raw
		}
	}

	return json.Marshal(out)
}

func flattenFunctionResponse(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err == nil {
		for _, key := range []string{"output", "result", "content"} {
			if v, ok := m[key]; ok {
				var s string
				if err := json.Unmarshal(v, &s); err == nil {
					return s
				}
				return string(v)
			}
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

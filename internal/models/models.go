// Package models is the static catalog of model names each provider is
// known to serve, used when a provider has no listing endpoint or no live
// credential.
package models

import "strings"

// Catalog maps provider names to their known model identifiers. The lists
// are advisory; providers accept anything their upstream accepts.
var catalog = map[string][]string{
	"anthropic": {
		"claude-opus-4-1",
		"claude-sonnet-4-5",
		"claude-haiku-4-5",
		"claude-3-7-sonnet-latest",
		"claude-3-5-haiku-latest",
	},
	"openai": {
		"gpt-5",
		"gpt-5-mini",
		"gpt-5-codex",
		"gpt-4.1",
		"gpt-4o",
		"o4-mini",
	},
	"googleai": {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.0-flash",
	},
	"vertex": {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
	},
	"antigravity": {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-3-pro-preview",
	},
	"ollama": {
		"llama3",
		"llama3.1",
		"mistral",
		"qwen2.5-coder",
	},
	"vertex-compat": {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
	},
	"iflow": {
		"qwen3-max",
		"qwen3-max-preview",
		"glm-4.6",
		"deepseek-v3.2",
		"deepseek-r1",
		"minimax-m2",
		"kimi-k2",
	},
}

// Known returns the catalog entries for a provider.
func Known(provider string) []string {
	ids := catalog[provider]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Serves reports whether the provider is known to serve the model. An
// unknown provider or empty model reports false; prefix matching covers
// dated variants like claude-sonnet-4-5-20250929.
func Serves(provider, model string) bool {
	if model == "" {
		return false
	}
	for _, id := range catalog[provider] {
		if model == id || strings.HasPrefix(model, id+"-") {
			return true
		}
	}
	return false
}

// Providers returns the providers that are known to serve the model.
func Providers(model string) []string {
	var out []string
	for provider := range catalog {
		if Serves(provider, model) {
			out = append(out, provider)
		}
	}
	return out
}

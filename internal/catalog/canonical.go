package catalog

import "strings"

// canonicalNames maps catalog provider display names to upstream protocol
// family identifiers. Display names not in the table fall through to
// their lowercased form.
var canonicalNames = map[string]string{
	"OpenAI":         "openai",
	"Anthropic":      "anthropic",
	"Google AI":      "gemini",
	"Groq":           "groq",
	"Mistral AI":     "mistral",
	"Perplexity":     "perplexity",
	"xAI":            "xai",
	"DeepSeek":       "deepseek",
	"Amazon Bedrock": "bedrock",
	"Vertex AI":      "vertex",
	"Ollama":         "ollama",
}

// Canonical returns the upstream protocol identifier for a catalog
// provider display name.
func Canonical(displayName string) string {
	if c, ok := canonicalNames[displayName]; ok {
		return c
	}
	return strings.ToLower(displayName)
}

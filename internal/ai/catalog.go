package ai

// Endpoints holds the base URL per provider.
type Endpoints struct {
	OpenAI     string
	Anthropic  string
	Gemini     string
	OpenRouter string
	Ollama     string

	OpenRouterSiteURL string
	OpenRouterAppName string
}

func DefaultProviders(e Endpoints) []Provider {
	orHeaders := map[string]string{}
	if e.OpenRouterSiteURL != "" {
		orHeaders["HTTP-Referer"] = e.OpenRouterSiteURL
	}
	if e.OpenRouterAppName != "" {
		orHeaders["X-Title"] = e.OpenRouterAppName
	}

	providers := []Provider{
		{Name: "openai", Transport: TransportSDK, BaseURL: e.OpenAI},
		{Name: "anthropic", Transport: TransportSDK, BaseURL: e.Anthropic},
		{Name: "google", Transport: TransportSDK, BaseURL: e.Gemini},
		{Name: "openrouter", Transport: TransportSSE, BaseURL: e.OpenRouter, Headers: orHeaders},
	}
	if e.Ollama != "" {
		providers = append(providers, Provider{Name: "ollama", Transport: TransportSSE, BaseURL: e.Ollama})
	}
	return providers
}

func DefaultModels(withOllama bool) []ModelConfig {
	openRouterReasoning := map[string]any{"reasoning": map[string]any{"exclude": false}}
	sdkReasoning := map[string]any{"reasoning_effort": "medium"}

	models := []ModelConfig{
		{ID: "gpt-4.1", Name: "GPT-4.1", Provider: "openai", HasVision: true, HasFileUpload: true, HasPDF: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai", HasVision: true, HasFileUpload: true},
		{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai", HasVision: true, HasFileUpload: true},
		{ID: "claude-3-7-sonnet-latest", Name: "Claude 3.7 Sonnet", Provider: "anthropic", HasThinking: true, HasVision: true, HasFileUpload: true, HasPDF: true, Options: sdkReasoning},
		{ID: "anthropic/claude-sonnet-4", Name: "Claude 4 Sonnet", Provider: "openrouter", HasThinking: true, HasVision: true, HasFileUpload: true, Options: openRouterReasoning},
		{ID: "deepseek/deepseek-r1-0528:free", Name: "DeepSeek R1", Provider: "openrouter", HasThinking: true, Options: openRouterReasoning},
		{ID: "deepseek/deepseek-chat-v3-0324", Name: "DeepSeek V3", Provider: "openrouter"},
		{ID: "qwen/qwen3-8b", Name: "Qwen3 8B", Provider: "openrouter", HasThinking: true, Options: openRouterReasoning},
		{ID: "gemini-2.5-flash-preview-05-20", Name: "Gemini 2.5 Flash", Provider: "google", HasThinking: true, HasVision: true, HasFileUpload: true, HasPDF: true, HasSearch: true, Options: sdkReasoning},
		{ID: "gemini-2.5-pro-preview-06-05", Name: "Gemini 2.5 Pro", Provider: "google", HasThinking: true, HasVision: true, HasFileUpload: true, HasPDF: true, HasSearch: true, Options: sdkReasoning},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: "google", HasVision: true, HasFileUpload: true, HasPDF: true, HasSearch: true},
	}
	if withOllama {
		models = append(models, ModelConfig{ID: "llama3:latest", Name: "Llama 3 (local)", Provider: "ollama"})
	}
	return models
}

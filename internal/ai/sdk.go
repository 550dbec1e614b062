package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// SDKStreamer streams through go-openai against the provider's
// OpenAI-compatible base URL.
type SDKStreamer struct {
	HTTPClient *http.Client
}

func NewSDKStreamer(client *http.Client) *SDKStreamer {
	if client == nil {
		client = &http.Client{}
	}
	return &SDKStreamer{HTTPClient: client}
}

func (s *SDKStreamer) Stream(ctx context.Context, req StreamRequest) <-chan Event {
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		out <- Terminal(s.run(ctx, req, out))
	}()

	return out
}

func (s *SDKStreamer) client(req StreamRequest) *openai.Client {
	cfg := openai.DefaultConfig(req.APIKey)
	if req.Provider.BaseURL != "" {
		cfg.BaseURL = req.Provider.BaseURL
	}
	cfg.HTTPClient = s.HTTPClient
	return openai.NewClientWithConfig(cfg)
}

func chatRequest(req StreamRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	cr := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
	}
	if effort, ok := req.Options["reasoning_effort"].(string); ok {
		cr.ReasoningEffort = effort
	}
	if kw, ok := req.Options["chat_template_kwargs"].(map[string]any); ok {
		cr.ChatTemplateKwargs = kw
	}
	return cr
}

// SDKOptionKeys are the request fields the SDK transport can carry. The
// registry rejects any other option on an SDK model.
var SDKOptionKeys = map[string]bool{
	"reasoning_effort":     true,
	"chat_template_kwargs": true,
}

func (s *SDKStreamer) run(ctx context.Context, req StreamRequest, out chan<- Event) error {
	stream, err := s.client(req).CreateChatCompletionStream(ctx, chatRequest(req))
	if err != nil {
		return upstreamErr(req.Provider.Name, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return upstreamErr(req.Provider.Name, err)
		}
		for _, c := range resp.Choices {
			if c.Delta.ReasoningContent != "" {
				out <- ReasoningDelta(c.Delta.ReasoningContent)
			}
			if c.Delta.Content != "" {
				out <- ContentDelta(c.Delta.Content)
			}
		}
	}
}

func upstreamErr(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: provider, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := string(reqErr.Body)
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &UpstreamError{Provider: provider, StatusCode: reqErr.HTTPStatusCode, Body: body}
	}
	return &UpstreamError{Provider: provider, Body: fmt.Sprint(err)}
}

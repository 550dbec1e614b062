package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const maxErrorBodyBytes = 4 * 1024

// SSEStreamer talks to any OpenAI-compatible chat/completions endpoint
// (OpenRouter, Ollama's /v1) and reads the event stream itself.
type SSEStreamer struct {
	Client *http.Client
	Log    *zap.SugaredLogger
}

func NewSSEStreamer(client *http.Client, log *zap.SugaredLogger) *SSEStreamer {
	if client == nil {
		// no client timeout; the caller's ctx bounds the stream
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SSEStreamer{Client: client, Log: log}
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *SSEStreamer) Stream(ctx context.Context, req StreamRequest) <-chan Event {
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		out <- Terminal(s.run(ctx, req, out))
	}()

	return out
}

func (s *SSEStreamer) buildBody(req StreamRequest) ([]byte, error) {
	body := make(map[string]any, len(req.Options)+3)
	for k, v := range req.Options {
		body[k] = v
	}
	body["model"] = req.Model
	body["messages"] = req.Messages
	body["stream"] = true
	return json.Marshal(body)
}

func (s *SSEStreamer) run(ctx context.Context, req StreamRequest, out chan<- Event) error {
	p := req.Provider
	if strings.TrimSpace(req.Model) == "" {
		return fmt.Errorf("%s: model is required", p.Name)
	}

	b, err := s.buildBody(req)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}
	for k, v := range p.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return &UpstreamError{Provider: p.Name, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &UpstreamError{Provider: p.Name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// ReadString keeps a line that spans two network reads buffered until its newline arrives.
	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			done, err := s.handleLine(p.Name, line, out)
			if err != nil || done {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return &UpstreamError{Provider: p.Name, StatusCode: resp.StatusCode, Body: readErr.Error()}
		}
	}
}

// handleLine processes one SSE line. It reports done when the [DONE] sentinel is seen.
func (s *SSEStreamer) handleLine(provider, line string, out chan<- Event) (bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		// comments (": OPENROUTER PROCESSING"), event names, blank separators
		return false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return false, nil
	}
	if payload == "[DONE]" {
		return true, nil
	}

	var chunk sseChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		s.Log.Warnw("skip malformed stream chunk", "provider", provider, "error", err)
		return false, nil
	}
	if chunk.Error != nil && chunk.Error.Message != "" {
		return false, &UpstreamError{Provider: provider, Body: chunk.Error.Message}
	}

	for _, c := range chunk.Choices {
		reasoning := c.Delta.Reasoning
		if reasoning == "" {
			reasoning = c.Delta.ReasoningContent
		}
		if reasoning != "" {
			out <- ReasoningDelta(reasoning)
		}
		if c.Delta.Content != "" {
			out <- ContentDelta(c.Delta.Content)
		}
	}
	return false, nil
}

package ai

import (
	"errors"
	"fmt"
	"strings"
)

type Transport string

const (
	// TransportSSE posts to an OpenAI-compatible chat/completions endpoint and reads SSE directly.
	TransportSSE Transport = "sse"
	// TransportSDK streams through the go-openai client.
	TransportSDK Transport = "sdk"
)

type Provider struct {
	Name      string
	Transport Transport
	BaseURL   string
	Headers   map[string]string
}

type ModelConfig struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Provider      string         `json:"provider"`
	HasThinking   bool           `json:"has_thinking"`
	HasVision     bool           `json:"has_vision"`
	HasFileUpload bool           `json:"has_file_upload"`
	HasPDF        bool           `json:"has_pdf"`
	HasSearch     bool           `json:"has_search"`
	Options       map[string]any `json:"-"`
}

var ErrUnknownModel = errors.New("unknown model")

// Registry is the immutable model catalog. Build it once at startup and share it.
type Registry struct {
	providers map[string]Provider
	models    map[string]ModelConfig
	order     []string
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func NewRegistry(providers []Provider, models []ModelConfig) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		models:    make(map[string]ModelConfig, len(models)),
	}
	for _, p := range providers {
		p.Name = normalize(p.Name)
		if p.Transport != TransportSSE && p.Transport != TransportSDK {
			return nil, fmt.Errorf("provider %s: unsupported transport %q", p.Name, p.Transport)
		}
		r.providers[p.Name] = p
	}
	for _, m := range models {
		id := normalize(m.ID)
		m.Provider = normalize(m.Provider)
		p, ok := r.providers[m.Provider]
		if !ok {
			return nil, fmt.Errorf("model %s: unknown provider %q", m.ID, m.Provider)
		}
		if p.Transport == TransportSDK {
			for k := range m.Options {
				if !SDKOptionKeys[k] {
					return nil, fmt.Errorf("model %s: option %q cannot be sent over the sdk transport", m.ID, k)
				}
			}
		}
		if _, dup := r.models[id]; dup {
			return nil, fmt.Errorf("model %s registered twice", m.ID)
		}
		r.models[id] = m
		r.order = append(r.order, id)
	}
	return r, nil
}

// Resolve returns the model and the provider that serves it.
func (r *Registry) Resolve(modelID string) (ModelConfig, Provider, error) {
	m, ok := r.models[normalize(modelID)]
	if !ok {
		return ModelConfig{}, Provider{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return m, r.providers[m.Provider], nil
}

func (r *Registry) Provider(name string) (Provider, bool) {
	p, ok := r.providers[normalize(name)]
	return p, ok
}

// Models lists the catalog in registration order.
func (r *Registry) Models() []ModelConfig {
	out := make([]ModelConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

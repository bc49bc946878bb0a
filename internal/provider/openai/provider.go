// Package openai adapts the OpenAI chat completions API to the engine's
// Provider interface.
package openai

import (
	"context"
	"net/http"
	"time"

	openaiapi "github.com/vedprakash-m/vigor-llm-engine/internal/api/openai"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// Provider implements domain.Provider over the OpenAI API.
type Provider struct {
	descriptor domain.ProviderDescriptor
	client     *openaiapi.Client
	baseURL    string
	httpClient *http.Client
}

// New creates an OpenAI provider for the given descriptor.
func New(descriptor domain.ProviderDescriptor, apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{descriptor: descriptor}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []openaiapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, openaiapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, openaiapi.WithHTTPClient(p.httpClient))
	}

	p.client = openaiapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) ID() string {
	return p.descriptor.ID
}

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return p.descriptor
}

func (p *Provider) Complete(ctx context.Context, req *domain.GenerationRequest) (*domain.ProviderResult, error) {
	apiReq := &openaiapi.ChatCompletionRequest{
		Model: p.descriptor.Model,
		Messages: []openaiapi.Message{
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens: p.maxTokens(req),
	}
	if !p.descriptor.Deterministic {
		apiReq.Temperature = pick32(req.Temperature, p.descriptor.Temperature)
		apiReq.TopP = p.descriptor.TopP
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return &domain.ProviderResult{
		Content: resp.Choices[0].Message.Content,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

func (p *Provider) Probe(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	return err
}

func (p *Provider) maxTokens(req *domain.GenerationRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return p.descriptor.MaxTokens
}

func pick32(v, fallback float32) float32 {
	if v != 0 {
		return v
	}
	return fallback
}

var _ domain.Provider = (*Provider)(nil)

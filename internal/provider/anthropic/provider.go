// Package anthropic adapts the Anthropic messages API to the engine's
// Provider interface.
package anthropic

import (
	"context"
	"net/http"
	"strings"
	"time"

	anthropicapi "github.com/vedprakash-m/vigor-llm-engine/internal/api/anthropic"
	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

const defaultMaxTokens = 1024

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

// Provider implements domain.Provider over the Anthropic API.
type Provider struct {
	descriptor domain.ProviderDescriptor
	client     *anthropicapi.Client
	baseURL    string
	httpClient *http.Client
}

// New creates an Anthropic provider for the given descriptor.
func New(descriptor domain.ProviderDescriptor, apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{descriptor: descriptor}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []anthropicapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, anthropicapi.WithHTTPClient(p.httpClient))
	}

	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) ID() string {
	return p.descriptor.ID
}

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return p.descriptor
}

func (p *Provider) Complete(ctx context.Context, req *domain.GenerationRequest) (*domain.ProviderResult, error) {
	apiReq := &anthropicapi.MessagesRequest{
		Model: p.descriptor.Model,
		Messages: []anthropicapi.Message{
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens: p.maxTokens(req),
	}
	if !p.descriptor.Deterministic {
		if req.Temperature != 0 {
			apiReq.Temperature = req.Temperature
		} else {
			apiReq.Temperature = p.descriptor.Temperature
		}
		apiReq.TopP = p.descriptor.TopP
	}

	start := time.Now()
	resp, err := p.client.CreateMessage(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &domain.ProviderResult{
		Content: sb.String(),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

func (p *Provider) Probe(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	return err
}

// maxTokens is required by the messages API, so fall back to a sane
// default when neither the request nor the descriptor sets one.
func (p *Provider) maxTokens(req *domain.GenerationRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if p.descriptor.MaxTokens > 0 {
		return p.descriptor.MaxTokens
	}
	return defaultMaxTokens
}

var _ domain.Provider = (*Provider)(nil)

// Package anthropic is a minimal HTTP client for the Anthropic messages
// API, covering the non-streaming completion and model-list calls the
// engine needs.
package anthropic

// Message is a chat message in Anthropic wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesRequest is the request body for /v1/messages.
type MessagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
	TopP        float32   `json:"top_p,omitempty"`
	System      string    `json:"system,omitempty"`
}

// ContentBlock is one block of response content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessagesResponse is the response body for /v1/messages.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage reports token accounting for the completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelList is the response body for /v1/models.
type ModelList struct {
	Data []Model `json:"data"`
}

// Model is one entry in a model listing.
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ErrorResponse is the error envelope the API returns on non-2xx status.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

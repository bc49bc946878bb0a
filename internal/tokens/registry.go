// Package tokens provides prompt token counting for pre-dispatch cost
// estimation. Accurate counts come from tiktoken for OpenAI-family models;
// everything else falls back to a character-based estimator.
package tokens

// Counter counts the tokens a prompt will consume for a given model.
type Counter interface {
	CountPrompt(model, prompt string) (int, error)
	SupportsModel(model string) bool
}

// Registry manages counters and picks the right one per model.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the estimator as fallback.
func NewRegistry() *Registry {
	return &Registry{fallback: NewEstimator()}
}

// Register adds a counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// Count returns the token count for the prompt. It never fails: a counter
// error degrades to the fallback estimate, which is good enough for a
// budget reservation (commit uses the provider-reported actuals anyway).
func (r *Registry) Count(model, prompt string) int {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			if n, err := counter.CountPrompt(model, prompt); err == nil {
				return n
			}
			break
		}
	}
	n, _ := r.fallback.CountPrompt(model, prompt)
	return n
}

// Estimator approximates token counts from character length. Fallback for
// models without a native tokenizer.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4).
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// CountPrompt estimates the token count.
func (e *Estimator) CountPrompt(model, prompt string) (int, error) {
	return int(float64(len(prompt)) / e.CharsPerToken), nil
}

// SupportsModel returns true; the estimator covers all models as fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

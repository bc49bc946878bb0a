package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// OpenAICounter provides accurate token counts for OpenAI models using
// tiktoken.
type OpenAICounter struct {
	cacheMu    sync.RWMutex
	codecCache map[tokenizer.Encoding]tokenizer.Codec
}

// NewOpenAICounter creates a new OpenAI token counter.
func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{codecCache: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// SupportsModel returns true for OpenAI-family model names.
func (c *OpenAICounter) SupportsModel(model string) bool {
	model = strings.ToLower(model)
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "text-embedding"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// CountPrompt counts the tokens of a single user prompt, including the
// per-message chat overhead (3 per message + 1 for the role + 3 for
// assistant priming, per OpenAI's accounting).
func (c *OpenAICounter) CountPrompt(model, prompt string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}

	ids, _, err := codec.Encode(prompt)
	if err != nil {
		return 0, err
	}

	return len(ids) + 3 + 1 + 3, nil
}

func (c *OpenAICounter) getCodec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model))); err == nil {
		return codec, nil
	}

	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()

	return codec, nil
}

// modelToEncoding maps model names to encodings for the fallback path.
// Newer families (gpt-4o, gpt-5, o-series) use o200k_base; gpt-4 and
// gpt-3.5 use cl100k_base.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"),
		strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

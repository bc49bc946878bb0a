package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// fingerprintFields is the canonical projection of a request for content
// addressing. Only fields that affect the generated output belong here;
// request ids, scope ids, and timestamps must never appear, so that
// semantically identical requests collide.
type fingerprintFields struct {
	Prompt      string          `json:"prompt"`
	TaskType    domain.TaskType `json:"task_type"`
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float32         `json:"temperature"`
}

// Fingerprint derives the deterministic cache key for a request.
func Fingerprint(req *domain.GenerationRequest) string {
	fields := fingerprintFields{
		Prompt:      normalizePrompt(req.Prompt),
		TaskType:    req.TaskType,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	// Struct field order fixes the JSON key order, so encoding is stable.
	payload, _ := json.Marshal(fields)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// normalizePrompt collapses runs of whitespace so formatting-only
// differences still hit the same entry.
func normalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

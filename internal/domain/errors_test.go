package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestEngineErrorHTTPStatusCode(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{KindBudgetExhausted, http.StatusPaymentRequired},
		{KindAllProvidersUnavailable, http.StatusServiceUnavailable},
		{KindProviderError, http.StatusBadGateway},
		{KindInvalidRequest, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &EngineError{Kind: tt.kind, Message: "test"}
			if got := e.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	budgetErr := ErrBudgetExhausted("user-42", "hard limit reached")
	if got := KindOf(budgetErr); got != KindBudgetExhausted {
		t.Errorf("KindOf(budget error) = %s, want %s", got, KindBudgetExhausted)
	}

	wrapped := fmt.Errorf("while routing: %w", budgetErr)
	if got := KindOf(wrapped); got != KindBudgetExhausted {
		t.Errorf("KindOf(wrapped budget error) = %s, want %s", got, KindBudgetExhausted)
	}

	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain error) = %s, want %s", got, KindInternal)
	}
}

func TestErrProviderUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrProvider("openai-gpt4", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Provider != "openai-gpt4" {
		t.Errorf("Provider = %q, want openai-gpt4", err.Provider)
	}
}

func TestDescriptorCost(t *testing.T) {
	d := ProviderDescriptor{InputCostPer1K: 0.01, OutputCostPer1K: 0.03}
	got := d.Cost(Usage{PromptTokens: 1000, CompletionTokens: 2000, TotalTokens: 3000})
	if got != 0.07 {
		t.Errorf("Cost() = %f, want 0.07", got)
	}
}

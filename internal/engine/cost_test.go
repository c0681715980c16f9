package engine

import (
	"math"
	"testing"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name         string
		inputTokens  int
		outputTokens int
		model        string
		want         float64
	}{
		{
			name:         "unknown model uses default rate",
			inputTokens:  100,
			outputTokens: 200,
			model:        "some-unknown-model",
			want:         0.005,
		},
		{
			name:         "empty model uses default rate",
			inputTokens:  100,
			outputTokens: 200,
			model:        "",
			want:         0.005,
		},
		{
			name:         "gpt-4",
			inputTokens:  100,
			outputTokens: 200,
			model:        "gpt-4",
			want:         0.015,
		},
		{
			name:         "cerebras llama",
			inputTokens:  100,
			outputTokens: 200,
			model:        "cerebras::llama-3.3-70b",
			want:         0.00096,
		},
		{
			name:         "hyperbolic llama",
			inputTokens:  100,
			outputTokens: 200,
			model:        "hyperbolic::meta-llama/llama-3.3-70b-instruct",
			want:         0.00096,
		},
		{
			name:         "model lookup is case-insensitive",
			inputTokens:  100,
			outputTokens: 200,
			model:        "GPT-4",
			want:         0.015,
		},
		{
			name:  "zero usage costs nothing",
			model: "gpt-4",
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.inputTokens, tt.outputTokens, tt.model)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cost(%d, %d, %q) = %v, want %v",
					tt.inputTokens, tt.outputTokens, tt.model, got, tt.want)
			}
		})
	}
}

package observer

import (
	"math"
	"testing"
)

func TestCostCalculatorDefaults(t *testing.T) {
	calc := NewCostCalculator(nil)

	tests := []struct {
		model  string
		input  int
		output int
		want   float64
	}{
		{"claude-sonnet-4-5", 1_000_000, 1_000_000, 18.00},
		{"claude-opus-4-1", 1_000_000, 0, 15.00},
		{"gpt-5-mini", 2_000_000, 500_000, 1.50},
		{"gpt-4o-mini", 100_000, 100_000, 0.075},
		{"o3", 0, 0, 0},
	}

	for _, tt := range tests {
		got := calc.Calculate(tt.model, tt.input, tt.output)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Calculate(%s, %d, %d) = %f, want %f", tt.model, tt.input, tt.output, got, tt.want)
		}
	}
}

func TestCostCalculatorUnknownModel(t *testing.T) {
	calc := NewCostCalculator(nil)
	if got := calc.Calculate("mystery-model", 1_000_000, 1_000_000); got != 0 {
		t.Errorf("unknown model cost = %f, want 0", got)
	}
}

func TestCostCalculatorOverrides(t *testing.T) {
	calc := NewCostCalculator(map[string]ModelPricing{
		"claude-sonnet-4-5": {1.00, 2.00},
		"local-llama":       {0, 0},
	})

	if got := calc.Calculate("claude-sonnet-4-5", 1_000_000, 1_000_000); math.Abs(got-3.00) > 1e-9 {
		t.Errorf("override cost = %f, want 3.00", got)
	}
	if got := calc.Calculate("local-llama", 5_000_000, 5_000_000); got != 0 {
		t.Errorf("free model cost = %f, want 0", got)
	}
	// Non-overridden defaults survive the merge.
	if got := calc.Calculate("gpt-5", 1_000_000, 0); math.Abs(got-1.25) > 1e-9 {
		t.Errorf("default cost = %f, want 1.25", got)
	}
}

package drover

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimitNoLimitsPassthrough(t *testing.T) {
	m := &flakyLLM{}
	llm := WithRateLimit(m)

	for i := 0; i < 5; i++ {
		if _, err := llm.Generate(context.Background(), ChatRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if m.callCount() != 5 {
		t.Errorf("got %d calls", m.callCount())
	}
}

func TestRateLimitRPMBlocks(t *testing.T) {
	m := &flakyLLM{}
	llm := WithRateLimit(m, RPM(1))

	if _, err := llm.Generate(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}

	// The window is full for a minute; the second request must block until
	// the context gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := llm.Generate(ctx, ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if m.callCount() != 1 {
		t.Errorf("blocked request must not reach the backend, got %d calls", m.callCount())
	}
}

func TestRateLimitTPMSoftLimit(t *testing.T) {
	m := &flakyLLM{stats: GenerationStats{InputTokens: 80, OutputTokens: 40}}
	llm := WithRateLimit(m, TPM(100))

	// First request proceeds and overshoots the budget (soft limit).
	if _, err := llm.Generate(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := llm.Generate(ctx, ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPruneWindows(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	times := []time.Time{now.Add(-2 * time.Minute), now.Add(-90 * time.Second), now.Add(-time.Second)}
	if got := pruneTime(times, cutoff); len(got) != 1 {
		t.Errorf("got %d entries, want 1", len(got))
	}

	entries := []tpmEntry{
		{at: now.Add(-2 * time.Minute), tokens: 10},
		{at: now.Add(-time.Second), tokens: 20},
	}
	got := pruneTpm(entries, cutoff)
	if len(got) != 1 || got[0].tokens != 20 {
		t.Errorf("got %v", got)
	}
}

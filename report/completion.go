package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/evrane/drover"
)

// CompletionID identifies the report-writing completion handler.
const CompletionID = "report"

// Completion writes an HTML report when an agent completes. Register it in
// the runtime's completion registry and select it per-agent via
// CompletedHandlerID.
type Completion struct {
	store  drover.Store
	dir    string
	gen    *Generator
	logger *slog.Logger
}

// CompletionOption configures a Completion.
type CompletionOption func(*Completion)

// WithLogger sets the logger used to announce written reports.
func WithLogger(l *slog.Logger) CompletionOption {
	return func(c *Completion) { c.logger = l }
}

// NewCompletion creates a handler that writes reports into dir, loading the
// iteration history from store.
func NewCompletion(store drover.Store, dir string, opts ...CompletionOption) *Completion {
	c := &Completion{store: store, dir: dir, gen: New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ drover.CompletionHandler = (*Completion)(nil)

func (c *Completion) ID() string { return CompletionID }

func (c *Completion) Completed(ctx context.Context, ac *drover.AgentContext) error {
	iterations, err := c.store.LoadIterations(ctx, ac.AgentID)
	if err != nil {
		return fmt.Errorf("report: load iterations: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("report: create dir: %w", err)
	}
	path := filepath.Join(c.dir, ac.AgentID+".html")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create file: %w", err)
	}
	defer f.Close()

	if err := c.gen.Render(f, Run{Context: ac, Iterations: iterations}); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}

	if c.logger != nil {
		c.logger.Info("report written", "agent_id", ac.AgentID, "path", path)
	}
	return nil
}

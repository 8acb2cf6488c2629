// Package report renders HTML run reports for completed agents: the final
// output plus the full iteration audit trail. Markdown in model output is
// rendered with goldmark.
package report

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/evrane/drover"
)

// Run bundles everything a report needs.
type Run struct {
	Context    *drover.AgentContext
	Iterations []*drover.AutonomousIteration
}

// Generator renders runs to standalone HTML documents.
type Generator struct {
	md goldmark.Markdown
}

// New creates a generator with GFM extensions enabled (tables,
// strikethrough, autolinks).
func New() *Generator {
	return &Generator{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Render writes a standalone HTML report for the run.
func (g *Generator) Render(w io.Writer, run Run) error {
	ac := run.Context
	if ac == nil {
		return fmt.Errorf("report: nil context")
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>Agent %s</title>\n", html.EscapeString(shortID(ac.AgentID)))
	b.WriteString("<style>\n" + styleSheet + "</style>\n</head>\n<body>\n")

	g.writeHeader(&b, ac)
	g.writeOutput(&b, ac)
	g.writeIterations(&b, run.Iterations)

	b.WriteString("</body>\n</html>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func (g *Generator) writeHeader(b *strings.Builder, ac *drover.AgentContext) {
	fmt.Fprintf(b, "<h1>Agent run %s</h1>\n", html.EscapeString(shortID(ac.AgentID)))
	b.WriteString("<table class=\"meta\">\n")
	row := func(k, v string) {
		fmt.Fprintf(b, "<tr><th>%s</th><td>%s</td></tr>\n", html.EscapeString(k), html.EscapeString(v))
	}
	row("Agent ID", ac.AgentID)
	row("State", string(ac.State))
	if ac.Subtype != "" {
		row("Subtype", ac.Subtype)
	}
	row("Iterations", fmt.Sprintf("%d", ac.Iterations))
	row("Cost", fmt.Sprintf("$%.4f", ac.Cost))
	if ac.HILBudget > 0 {
		row("Budget", fmt.Sprintf("$%.2f", ac.HILBudget))
	}
	if ac.User.ID != "" {
		row("User", ac.User.ID)
	}
	if !ac.LastUpdate.IsZero() {
		row("Last update", ac.LastUpdate.UTC().Format(time.RFC3339))
	}
	if ac.Error != "" {
		row("Error", ac.Error)
	}
	b.WriteString("</table>\n")

	fmt.Fprintf(b, "<h2>Task</h2>\n<blockquote>%s</blockquote>\n", html.EscapeString(ac.UserPrompt))
}

func (g *Generator) writeOutput(b *strings.Builder, ac *drover.AgentContext) {
	if ac.Output == "" {
		return
	}
	b.WriteString("<h2>Result</h2>\n<div class=\"output\">\n")
	b.WriteString(g.markdown(ac.Output))
	b.WriteString("</div>\n")
}

func (g *Generator) writeIterations(b *strings.Builder, iterations []*drover.AutonomousIteration) {
	if len(iterations) == 0 {
		return
	}
	b.WriteString("<h2>Iterations</h2>\n")
	for _, it := range iterations {
		fmt.Fprintf(b, "<details class=\"iteration\">\n<summary>Iteration %d — $%.4f", it.Iteration, it.Cost)
		if it.Summary != "" {
			fmt.Fprintf(b, " — %s", html.EscapeString(truncate(it.Summary, 120)))
		}
		b.WriteString("</summary>\n")

		if it.AgentPlan != "" {
			b.WriteString("<h3>Plan</h3>\n" + g.markdown(it.AgentPlan))
		}
		if it.ObservationsReasoning != "" {
			b.WriteString("<h3>Observations</h3>\n" + g.markdown(it.ObservationsReasoning))
		}
		if it.Code != "" {
			fmt.Fprintf(b, "<h3>Code</h3>\n<pre><code>%s</code></pre>\n", html.EscapeString(it.Code))
		}
		for _, fc := range it.FunctionCalls {
			fmt.Fprintf(b, "<h3>Call: %s</h3>\n", html.EscapeString(fc.Name))
			if len(fc.Args) > 0 {
				fmt.Fprintf(b, "<pre><code>%s</code></pre>\n", html.EscapeString(string(fc.Args)))
			}
			if fc.Stdout != "" {
				fmt.Fprintf(b, "<pre class=\"stdout\">%s</pre>\n", html.EscapeString(truncate(fc.Stdout, 2000)))
			}
			if fc.Stderr != "" {
				fmt.Fprintf(b, "<pre class=\"stderr\">%s</pre>\n", html.EscapeString(truncate(fc.Stderr, 2000)))
			}
		}
		if it.Error != "" {
			fmt.Fprintf(b, "<p class=\"error\">%s</p>\n", html.EscapeString(it.Error))
		}
		fmt.Fprintf(b, "<p class=\"stats\">model %s, %d in / %d out tokens</p>\n",
			html.EscapeString(it.Stats.Model), it.Stats.InputTokens, it.Stats.OutputTokens)
		b.WriteString("</details>\n")
	}
}

// markdown converts model-produced markdown to HTML, falling back to
// escaped text on parse failure.
func (g *Generator) markdown(src string) string {
	var buf bytes.Buffer
	if err := g.md.Convert([]byte(src), &buf); err != nil {
		return "<pre>" + html.EscapeString(src) + "</pre>\n"
	}
	return buf.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const styleSheet = `body { font-family: system-ui, sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a2e; }
table.meta th { text-align: left; padding-right: 1rem; color: #555; font-weight: 600; }
blockquote { border-left: 3px solid #888; margin-left: 0; padding-left: 1rem; color: #444; }
details.iteration { border: 1px solid #ddd; border-radius: 6px; padding: 0.5rem 1rem; margin: 0.5rem 0; }
details.iteration summary { cursor: pointer; font-weight: 600; }
pre { background: #f6f6f6; padding: 0.75rem; border-radius: 4px; overflow-x: auto; }
pre.stderr { background: #fdf0f0; }
p.error { color: #b00020; }
p.stats { color: #777; font-size: 0.85rem; }
`

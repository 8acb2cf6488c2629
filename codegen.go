package drover

import (
	"context"
	"fmt"
	"strings"
)

// Agent subtypes with loop-level behavior. Subtype is otherwise free-form.
const (
	// SubtypeXML agents structure their reasoning in tagged sections; the
	// default prompt already requests this, so it needs no extra handling.
	SubtypeXML = "xml"
	// SubtypeCodegen agents express each step as code: the loop drafts,
	// reviews, and executes it through the configured CodeRunner.
	SubtypeCodegen = "codegen"
)

// runCodegen performs the draft-review-execute flow of a codegen iteration.
// The hard model drafts, the medium model reviews, the hard model finalizes,
// then the CodeRunner executes with tool dispatch routed through the agent's
// registry. Execution failures are recoverable: they land in the
// conversation and the record, never abort the loop. The returned stats
// cover the extra model calls.
func (rt *Runtime) runCodegen(ctx context.Context, ac *AgentContext, content string, rec *AutonomousIteration) (GenerationStats, error) {
	var stats GenerationStats

	draft := extractTagged(content, "draft_code")
	if draft == "" {
		resp, err := ac.LLMs.ForLevel(LevelHard).Generate(ctx, ChatRequest{
			SystemPrompt: "Write Python code that performs the next step of the task. Output only code inside a <draft_code> tag.",
			Messages:     ac.Messages,
		})
		if err != nil {
			return stats, fmt.Errorf("codegen draft: %w", err)
		}
		stats.Add(resp.Stats)
		if draft = extractTagged(resp.Content, "draft_code"); draft == "" {
			draft = resp.Content
		}
	}
	rec.DraftCode = draft

	review, err := ac.LLMs.ForLevel(LevelMedium).Generate(ctx, ChatRequest{
		SystemPrompt: "Review the following code for correctness and safety. List concrete problems, or reply OK if there are none.",
		Messages:     []ChatMessage{UserMessage(draft)},
	})
	if err != nil {
		return stats, fmt.Errorf("codegen review: %w", err)
	}
	stats.Add(review.Stats)
	rec.CodeReview = review.Content

	final := draft
	if !reviewPassed(review.Content) {
		resp, err := ac.LLMs.ForLevel(LevelHard).Generate(ctx, ChatRequest{
			SystemPrompt: "Revise the code to address the review. Output only the final code inside a <code> tag.",
			Messages: []ChatMessage{
				UserMessage("Code:\n" + draft + "\n\nReview:\n" + review.Content),
			},
		})
		if err != nil {
			return stats, fmt.Errorf("codegen revise: %w", err)
		}
		stats.Add(resp.Stats)
		if revised := extractTagged(resp.Content, "code"); revised != "" {
			final = revised
		} else {
			final = resp.Content
		}
	}
	rec.Code = final

	req := CodeRequest{Code: final, Runtime: "python"}
	if ac.FileSystem != nil {
		req.WorkingDirectory = ac.FileSystem.WorkingDirectory
	}
	dispatch := func(ctx context.Context, call FunctionCall) FunctionCallResult {
		res, err := ac.Functions.Call(ctx, call)
		if err != nil {
			// Approval pauses are not supported from inside running code.
			res.Stderr = err.Error()
		}
		ac.FunctionCallHistory = append(ac.FunctionCallHistory, res)
		return res
	}

	result, err := rt.runner.Run(ctx, req, dispatch)
	if err != nil {
		return stats, fmt.Errorf("code runner: %w", err)
	}
	rec.ExecutedCode = final

	feedback := "Code execution succeeded.\nOutput:\n" + result.Output
	if result.Error != "" || result.ExitCode != 0 {
		feedback = fmt.Sprintf("Code execution failed (exit %d): %s\nLogs:\n%s",
			result.ExitCode, result.Error, result.Logs)
	} else if result.Logs != "" {
		feedback += "\nLogs:\n" + result.Logs
	}
	ac.Messages = append(ac.Messages, UserMessage(feedback))

	return stats, nil
}

// reviewPassed reports whether a code review raised no problems.
func reviewPassed(review string) bool {
	s := strings.TrimSpace(review)
	return len(s) < 40 && strings.HasPrefix(strings.ToUpper(s), "OK")
}

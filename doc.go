// Package drover is an autonomous agent execution runtime for Go.
//
// It drives long-running, resumable, budget-constrained control loops: each
// iteration calls a language model, executes the function calls the model
// requested, appends an immutable iteration record, and decides whether to
// continue, pause for a human decision, delegate to child agents, or
// terminate. All durable state lives behind a storage contract so an agent
// survives process death and can be resumed with a fresh execution identity.
//
// # Quick Start
//
// Assemble a runtime from a store, a model set, and a function factory:
//
//	st := memory.New(hydrator)
//	models := drover.ModelSet{Easy: fast, Medium: mid, Hard: strong}
//
//	rt := drover.NewRuntime(st,
//		drover.WithModels(models),
//		drover.WithFunctionFactory(factory),
//	)
//
//	ac, err := rt.Start(ctx, drover.StartRequest{
//		Prompt:    "Summarize open incidents and file a report.",
//		Functions: []string{"Web", "FileStore"},
//		HILBudget: 2.0,
//		HILCount:  5,
//	})
//	err = rt.Wait(ctx, ac.AgentID)
//
// # Core Interfaces
//
// The root package defines the contracts all components implement:
//
//   - [LLM] — model backend (text, tool calling, structured JSON) with
//     per-call cost and token statistics
//   - [Store] — persistence contract for agent contexts and the append-only
//     iteration history log
//   - [Tool] — pluggable capability resolvable by class name through a
//     [FunctionFactory]
//   - [CompletionHandler] — callback resolved by id when an agent completes
//   - [ContentGuard] — prompt/output inspection hook
//
// # Included Implementations
//
// Providers: provider/anthropic, provider/openai (plus provider/resolve for
// config-driven construction). Storage: store/memory, store/sqlite,
// store/postgres, store/badger. Tools: tools/shell, tools/web, tools/file,
// tools/document, tools/jsondata. Code execution for the codegen subtype:
// code (subprocess, HTTP sandbox, docker).
//
// See cmd/drover for the command-line interface over a shared store.
package drover

// Package advisor provides the LLM-backed implementation of
// flow.Advisor, with provider adapters for Anthropic, OpenAI and
// Google Gemini in subpackages.
//
// The advisor is strictly best-effort: every error it returns is
// wrapped in *flow.AdvisorUnavailableError and the engine degrades to
// the deterministic fallback, so a provider outage never fails a run.
//
// Example usage:
//
//	chat := anthropic.NewChat(os.Getenv("ANTHROPIC_API_KEY"), "")
//	adv := advisor.NewLLM(chat)
//	engine := flow.New(registry, st, bus, flow.Options{Advisor: adv})
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corallum/flowengine/flow"
)

// Chat is the minimal LLM capability the advisor needs: one prompt in,
// one completion out. The provider subpackages implement it over their
// SDKs; tests implement it with a canned function.
type Chat interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatFunc adapts a plain function to the Chat interface.
type ChatFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Chat.
func (f ChatFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// LLM implements flow.Advisor by prompting a Chat model and parsing
// its JSON replies.
type LLM struct {
	chat Chat
}

// NewLLM creates an advisor over the given chat model.
func NewLLM(chat Chat) *LLM {
	return &LLM{chat: chat}
}

const analyzePrompt = `You are a workflow analysis assistant. Analyze the workflow graph
below for structural problems and improvement opportunities.

Workflow JSON:
%s

Respond with ONLY a JSON object of this exact shape:
{"needsOptimization": bool, "issues": ["..."], "suggestions": ["..."]}`

// Analyze implements flow.Advisor.
func (l *LLM) Analyze(ctx context.Context, wf *flow.Workflow) (flow.Analysis, error) {
	wfJSON, err := json.Marshal(wf)
	if err != nil {
		return flow.Analysis{}, &flow.AdvisorUnavailableError{Op: "analyze", Cause: err}
	}

	reply, err := l.chat.Complete(ctx, fmt.Sprintf(analyzePrompt, wfJSON))
	if err != nil {
		return flow.Analysis{}, &flow.AdvisorUnavailableError{Op: "analyze", Cause: err}
	}

	var analysis flow.Analysis
	if err := json.Unmarshal([]byte(extractJSON(reply)), &analysis); err != nil {
		return flow.Analysis{}, &flow.AdvisorUnavailableError{
			Op:    "analyze",
			Cause: fmt.Errorf("failed to parse analysis reply: %w", err),
		}
	}
	return analysis, nil
}

const optimizePrompt = `You are a workflow optimization assistant. Improve the workflow
graph below: remove redundant nodes, fix misrouted edges, and simplify
where possible. Keep node types and IDs stable unless a change is
required. Do not invent new node types.

Workflow JSON:
%s

Respond with ONLY the complete improved workflow as a JSON object with
the same schema as the input.`

// Optimize implements flow.Advisor. The returned workflow is parsed
// from the model reply; the engine re-validates it before use.
func (l *LLM) Optimize(ctx context.Context, wf *flow.Workflow) (*flow.Workflow, error) {
	wfJSON, err := json.Marshal(wf)
	if err != nil {
		return nil, &flow.AdvisorUnavailableError{Op: "optimize", Cause: err}
	}

	reply, err := l.chat.Complete(ctx, fmt.Sprintf(optimizePrompt, wfJSON))
	if err != nil {
		return nil, &flow.AdvisorUnavailableError{Op: "optimize", Cause: err}
	}

	var optimized flow.Workflow
	if err := json.Unmarshal([]byte(extractJSON(reply)), &optimized); err != nil {
		return nil, &flow.AdvisorUnavailableError{
			Op:    "optimize",
			Cause: fmt.Errorf("failed to parse optimized workflow: %w", err),
		}
	}
	return &optimized, nil
}

const helpPrompt = `You are a workflow debugging assistant. A node failed during
execution. Diagnose the failure and propose a fix.

Node JSON:
%s

Error:
%s

Respond with ONLY a JSON object of this exact shape:
{"cause": "...", "solution": "...", "alternative": "..."}`

// HelpWithError implements flow.Advisor.
func (l *LLM) HelpWithError(ctx context.Context, node flow.Node, execErr error) (flow.Remediation, error) {
	nodeJSON, err := json.Marshal(node)
	if err != nil {
		return flow.Remediation{}, &flow.AdvisorUnavailableError{Op: "help", Cause: err}
	}

	reply, err := l.chat.Complete(ctx, fmt.Sprintf(helpPrompt, nodeJSON, execErr))
	if err != nil {
		return flow.Remediation{}, &flow.AdvisorUnavailableError{Op: "help", Cause: err}
	}

	var rem flow.Remediation
	if err := json.Unmarshal([]byte(extractJSON(reply)), &rem); err != nil {
		return flow.Remediation{}, &flow.AdvisorUnavailableError{
			Op:    "help",
			Cause: fmt.Errorf("failed to parse remediation reply: %w", err),
		}
	}
	return rem, nil
}

// extractJSON strips markdown code fences and surrounding prose, since
// models often wrap JSON replies despite instructions.
func extractJSON(reply string) string {
	reply = strings.TrimSpace(reply)

	if idx := strings.Index(reply, "```"); idx >= 0 {
		reply = reply[idx+3:]
		reply = strings.TrimPrefix(reply, "json")
		if end := strings.Index(reply, "```"); end >= 0 {
			reply = reply[:end]
		}
		return strings.TrimSpace(reply)
	}

	// Fall back to the outermost braces.
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start >= 0 && end > start {
		return reply[start : end+1]
	}
	return reply
}

// Package strategy implements the tool-dispatch protocols: OpenAI JSON
// function calling, ReAct, and the Harmony tag DSL. Each strategy runs
// one Reason→Act→Observe iteration per step; the orchestrator loops.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/llm"
	"github.com/agenttic/agenttic/pkg/log"
	"github.com/agenttic/agenttic/pkg/tools"
)

// Strategy drives one step of a tool-using run.
type Strategy interface {
	Name() string

	// ExecuteStep runs one iteration. remaining is the number of steps
	// left including this one; strategies use it to warn the model when
	// it must wrap up.
	ExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int) (*domain.Step, error)

	// StreamExecuteStep is ExecuteStep with reasoning deltas streamed.
	StreamExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int, onReasoning func(string)) (*domain.Step, error)

	// ForceFinalAnswer synthesizes a best-effort answer from the
	// accumulated observations when the step budget ran out.
	ForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig) (string, error)

	StreamForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, onDelta func(string)) (string, error)
}

// Select picks the strategy for a run's tool mode. auto resolves to
// JSON function calling; harmony is for GPT-OSS style models.
func Select(mode domain.ToolMode, client *llm.Client, executor *tools.Executor, registry *tools.Registry) (Strategy, error) {
	base := base{llm: client, executor: executor, registry: registry, logger: log.WithModule("strategy")}
	switch mode {
	case domain.ToolModeAuto, domain.ToolModeJSON:
		return &JSONFC{base: base}, nil
	case domain.ToolModeReact:
		return &ReAct{base: base}, nil
	case domain.ToolModeHarmony:
		return &Harmony{base: base}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tool mode %q", domain.ErrInvalidInput, mode)
	}
}

type base struct {
	llm      *llm.Client
	executor *tools.Executor
	registry *tools.Registry
	logger   *log.Logger
}

// runTool executes a call and renders its result as observation text.
func (b *base) runTool(ctx context.Context, run domain.RunConfig, call domain.ToolCall) (*domain.ToolResult, string) {
	result := b.executor.Execute(ctx, run, call)
	return result, renderResult(call.Name, result)
}

func renderResult(name string, result *domain.ToolResult) string {
	if !result.Success {
		return fmt.Sprintf("tool %s failed: %s", name, result.Error)
	}
	return fmt.Sprintf("tool %s returned: %s", name, compactJSON(result.Result))
}

func compactJSON(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case nil:
		return "(empty)"
	}
	raw, err := jsonMarshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return raw
}

// forcePrompt builds the budget-exhausted synthesis prompt from the
// question and every observation gathered so far.
func forcePrompt(ec *domain.ExecutionContext) string {
	var sb strings.Builder
	sb.WriteString("Answer the question directly using what was gathered below. ")
	sb.WriteString("Do not request any more tools. If the information is incomplete, say what is known and what is missing.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(ec.Question)
	sb.WriteString("\n")
	if len(ec.Passages) > 0 {
		sb.WriteString("\nContext passages:\n")
		for _, p := range ec.Passages {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}
	obs := ec.Observations()
	if len(obs) > 0 {
		sb.WriteString("\nGathered observations:\n")
		for _, o := range obs {
			sb.WriteString("- ")
			sb.WriteString(o)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (b *base) forceFinal(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig) (string, error) {
	return b.llm.Generate(ctx, forcePrompt(ec), genOpts(run))
}

func (b *base) streamForceFinal(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, onDelta func(string)) (string, error) {
	return b.llm.Stream(ctx, []domain.Message{{Role: "user", Content: forcePrompt(ec)}}, genOpts(run), onDelta)
}

func genOpts(run domain.RunConfig) *llm.GenOptions {
	return &llm.GenOptions{Temperature: -1, Model: run.Model}
}

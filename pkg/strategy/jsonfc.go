package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agenttic/agenttic/pkg/domain"
)

// JSONFC dispatches tools through OpenAI-style function calling. The
// default strategy for API models.
type JSONFC struct {
	base
}

func (s *JSONFC) Name() string { return "json_function_calling" }

const jsonfcSystemPrompt = "You are a research assistant. Use the provided tools when you " +
	"need external information; answer directly when the context already suffices. " +
	"Do not repeat a search you have already run."

// ExecuteStep sends the conversation with tool schemas attached. A
// tool_calls reply dispatches the first call and records the result as
// an observation; a content reply is the final answer.
func (s *JSONFC) ExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int) (*domain.Step, error) {
	messages := s.conversation(ec, remaining)

	resp, err := s.llm.ChatWithTools(ctx, messages, s.registry.Schemas(run.Tools), genOpts(run))
	if err != nil {
		return nil, err
	}

	if len(resp.ToolCalls) == 0 {
		step := &domain.Step{Kind: domain.StepFinalAnswer, Content: resp.Content}
		ec.AddStep(*step)
		return step, nil
	}

	call := resp.ToolCalls[0]
	ec.AddStep(domain.Step{Kind: domain.StepAction, Content: resp.Content, ToolCall: &call})

	result, observation := s.runTool(ctx, run, call)
	step := &domain.Step{
		Kind:       domain.StepObservation,
		Content:    observation,
		ToolCall:   &call,
		ToolResult: result,
	}
	ec.AddStep(*step)
	return step, nil
}

func (s *JSONFC) StreamExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int, onReasoning func(string)) (*domain.Step, error) {
	// Tool-call turns are not streamed; surface the model's visible
	// reasoning once the step resolves.
	step, err := s.ExecuteStep(ctx, ec, run, remaining)
	if err != nil {
		return nil, err
	}
	if onReasoning != nil && step.Kind == domain.StepObservation && step.Content != "" {
		onReasoning(step.Content)
	}
	return step, nil
}

func (s *JSONFC) ForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig) (string, error) {
	return s.forceFinal(ctx, ec, run)
}

func (s *JSONFC) StreamForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, onDelta func(string)) (string, error) {
	return s.streamForceFinal(ctx, ec, run, onDelta)
}

// conversation rebuilds the message history from the execution log:
// action steps become assistant tool-call turns, observations become
// tool-role replies.
func (s *JSONFC) conversation(ec *domain.ExecutionContext, remaining int) []domain.Message {
	messages := []domain.Message{{Role: "system", Content: jsonfcSystemPrompt}}

	var user strings.Builder
	user.WriteString(ec.Question)
	if len(ec.Passages) > 0 {
		user.WriteString("\n\nContext:\n")
		for _, p := range ec.Passages {
			user.WriteString("- ")
			user.WriteString(p)
			user.WriteString("\n")
		}
	}
	messages = append(messages, domain.Message{Role: "user", Content: user.String()})

	for _, step := range ec.Steps {
		switch step.Kind {
		case domain.StepAction:
			call := *step.ToolCall
			if call.ID == "" {
				call.ID = syntheticCallID(len(messages))
			}
			messages = append(messages, domain.Message{
				Role:      "assistant",
				Content:   step.Content,
				ToolCalls: []domain.ToolCall{call},
			})
		case domain.StepObservation:
			callID := ""
			if step.ToolCall != nil {
				callID = step.ToolCall.ID
			}
			if callID == "" {
				callID = syntheticCallID(len(messages) - 1)
			}
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    observationContent(step),
				ToolCallID: callID,
			})
		}
	}

	if remaining == 1 {
		messages = append(messages, domain.Message{
			Role:    "system",
			Content: "This is your last step. Answer now from what you have; do not call any more tools.",
		})
	}
	return messages
}

func observationContent(step domain.Step) string {
	if step.ToolResult != nil && step.ToolResult.Success {
		if raw, err := json.Marshal(step.ToolResult.Result); err == nil {
			return string(raw)
		}
	}
	return step.Content
}

func syntheticCallID(n int) string { return fmt.Sprintf("call_%d", n) }

// jsonMarshal is the strategy-local compact marshal helper.
func jsonMarshal(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

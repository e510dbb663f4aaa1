package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agenttic/agenttic/pkg/domain"
)

// ReAct prompts the model through a strict Thought/Action/Action Input/
// Final Answer text protocol, for models without native tool calling.
type ReAct struct {
	base
}

func (s *ReAct) Name() string { return "react" }

var (
	reThought     = regexp.MustCompile(`(?m)^Thought:\s*(.+)$`)
	reAction      = regexp.MustCompile(`(?m)^Action:\s*(\S+)\s*$`)
	reActionInput = regexp.MustCompile(`(?m)^Action Input:\s*(.+)$`)
	reFinalAnswer = regexp.MustCompile(`(?ms)^Final Answer:\s*(.+)\z`)
	reKeyValue    = regexp.MustCompile(`(\w+)\s*=\s*"?([^",]+)"?`)
)

func (s *ReAct) ExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int) (*domain.Step, error) {
	return s.step(ctx, ec, run, remaining, nil)
}

func (s *ReAct) StreamExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int, onReasoning func(string)) (*domain.Step, error) {
	return s.step(ctx, ec, run, remaining, onReasoning)
}

func (s *ReAct) step(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int, onReasoning func(string)) (*domain.Step, error) {
	prompt := s.prompt(ec, run, remaining)

	var text string
	var err error
	if onReasoning != nil {
		text, err = s.llm.Stream(ctx, []domain.Message{{Role: "user", Content: prompt}}, genOpts(run), onReasoning)
	} else {
		text, err = s.llm.Generate(ctx, prompt, genOpts(run))
	}
	if err != nil {
		return nil, err
	}

	if m := reFinalAnswer.FindStringSubmatch(text); m != nil {
		step := &domain.Step{Kind: domain.StepFinalAnswer, Content: strings.TrimSpace(m[1])}
		ec.AddStep(*step)
		return step, nil
	}

	thought := ""
	if m := reThought.FindStringSubmatch(text); m != nil {
		thought = strings.TrimSpace(m[1])
	}

	action := reAction.FindStringSubmatch(text)
	if action == nil {
		// No parseable action and no final answer: treat the whole
		// reply as the answer rather than looping on garbage.
		step := &domain.Step{Kind: domain.StepFinalAnswer, Content: strings.TrimSpace(text)}
		ec.AddStep(*step)
		return step, nil
	}

	call := domain.ToolCall{
		Name:      strings.TrimSpace(action[1]),
		Arguments: parseActionInput(text),
	}
	ec.AddStep(domain.Step{Kind: domain.StepReasoning, Content: thought})
	ec.AddStep(domain.Step{Kind: domain.StepAction, Content: thought, ToolCall: &call})

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

func (s *ReAct) ForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig) (string, error) {
	return s.forceFinal(ctx, ec, run)
}

func (s *ReAct) StreamForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, onDelta func(string)) (string, error) {
	return s.streamForceFinal(ctx, ec, run, onDelta)
}

// parseActionInput decodes the Action Input line: JSON when it parses,
// then key=value pairs, then a raw {input: …} fallback.
func parseActionInput(text string) map[string]any {
	m := reActionInput.FindStringSubmatch(text)
	if m == nil {
		return map[string]any{}
	}
	raw := strings.TrimSpace(m[1])

	var args map[string]any
	if err := domain.DecodeLLMJSON(raw, &args); err == nil {
		return args
	}

	if pairs := reKeyValue.FindAllStringSubmatch(raw, -1); len(pairs) > 0 && strings.Contains(raw, "=") {
		args = make(map[string]any, len(pairs))
		for _, pair := range pairs {
			args[pair[1]] = strings.TrimSpace(pair[2])
		}
		return args
	}

	return map[string]any{"input": raw}
}

func (s *ReAct) prompt(ec *domain.ExecutionContext, run domain.RunConfig, remaining int) string {
	var sb strings.Builder
	sb.WriteString("Answer the question below. You may use tools, one per step, with this exact format:\n\n")
	sb.WriteString("Thought: what you are considering\n")
	sb.WriteString("Action: tool_name\n")
	sb.WriteString("Action Input: {\"arg\": \"value\"}\n\n")
	sb.WriteString("After each action you will be given an Observation. ")
	sb.WriteString("When you can answer, reply with:\n\nFinal Answer: your answer\n\n")
	sb.WriteString("Never repeat a search equivalent to one you already ran.\n\n")

	sb.WriteString("Available tools:\n")
	for _, schema := range s.registry.Schemas(run.Tools) {
		fmt.Fprintf(&sb, "- %s: %s\n", schema.Name, schema.Description)
	}

	sb.WriteString("\nQuestion: ")
	sb.WriteString(ec.Question)
	sb.WriteString("\n")

	if len(ec.Passages) > 0 {
		sb.WriteString("\nContext:\n")
		for _, p := range ec.Passages {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}

	for _, step := range ec.Steps {
		switch step.Kind {
		case domain.StepAction:
			if step.ToolCall != nil {
				args, _ := jsonMarshal(step.ToolCall.Arguments)
				fmt.Fprintf(&sb, "\nThought: %s\nAction: %s\nAction Input: %s\n",
					step.Content, step.ToolCall.Name, args)
			}
		case domain.StepObservation:
			fmt.Fprintf(&sb, "Observation: %s\n", step.Content)
		}
	}

	if remaining == 1 {
		sb.WriteString("\nThis is your last step: you must reply with Final Answer now.\n")
	}
	return sb.String()
}

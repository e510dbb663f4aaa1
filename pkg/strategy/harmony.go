package strategy

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agenttic/agenttic/pkg/domain"
)

// Harmony accepts <tool name="…">{json}</tool> blocks and the GPT-OSS
// channel-commentary form for models trained on that DSL.
type Harmony struct {
	base
}

func (s *Harmony) Name() string { return "harmony" }

var (
	reHarmonyTool = regexp.MustCompile(`(?s)<tool\s+name="([^"]+)"\s*>\s*(\{.*?\})\s*</tool>`)
	// <|channel|>commentary to=web_search <|constrain|>json<|message|>{...}
	reHarmonyChannel = regexp.MustCompile(`<\|channel\|>commentary\s+to=(\S+)\s+<\|constrain\|>json<\|message\|>(\{[^<]*\})`)
)

func (s *Harmony) ExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int) (*domain.Step, error) {
	return s.step(ctx, ec, run, remaining, nil)
}

func (s *Harmony) StreamExecuteStep(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int, onReasoning func(string)) (*domain.Step, error) {
	return s.step(ctx, ec, run, remaining, onReasoning)
}

func (s *Harmony) step(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, remaining int, onReasoning func(string)) (*domain.Step, error) {
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

	call, prose := ParseHarmony(text)
	if call == nil {
		step := &domain.Step{Kind: domain.StepFinalAnswer, Content: strings.TrimSpace(prose)}
		ec.AddStep(*step)
		return step, nil
	}

	// Equivalent web_search calls within one run reuse the earlier
	// observation instead of hitting the tool again.
	if prior := s.duplicateObservation(ec, *call); prior != nil {
		ec.AddStep(domain.Step{Kind: domain.StepAction, Content: prose, ToolCall: call})
		step := &domain.Step{
			Kind:       domain.StepObservation,
			Content:    prior.Content,
			ToolCall:   call,
			ToolResult: prior.ToolResult,
		}
		ec.AddStep(*step)
		return step, nil
	}

	ec.AddStep(domain.Step{Kind: domain.StepAction, Content: prose, ToolCall: call})
	result, observation := s.runTool(ctx, run, *call)
	step := &domain.Step{
		Kind:       domain.StepObservation,
		Content:    observation,
		ToolCall:   call,
		ToolResult: result,
	}
	ec.AddStep(*step)
	return step, nil
}

func (s *Harmony) ForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig) (string, error) {
	return s.forceFinal(ctx, ec, run)
}

func (s *Harmony) StreamForceFinalAnswer(ctx context.Context, ec *domain.ExecutionContext, run domain.RunConfig, onDelta func(string)) (string, error) {
	return s.streamForceFinal(ctx, ec, run, onDelta)
}

// ParseHarmony extracts the first tool call from a model reply, trying
// the tag form first (structured XML decode, regex when the block is
// not well-formed) and the channel-commentary form second. The
// returned prose is the text with tool blocks removed.
func ParseHarmony(text string) (*domain.ToolCall, string) {
	if call, prose := parseToolTag(text); call != nil {
		return call, prose
	}
	if m := reHarmonyTool.FindStringSubmatch(text); m != nil {
		if args := decodeArgs(m[2]); args != nil {
			prose := strings.TrimSpace(reHarmonyTool.ReplaceAllString(text, ""))
			return &domain.ToolCall{Name: m[1], Arguments: args}, prose
		}
	}
	if m := reHarmonyChannel.FindStringSubmatch(text); m != nil {
		if args := decodeArgs(m[2]); args != nil {
			prose := strings.TrimSpace(reHarmonyChannel.ReplaceAllString(text, ""))
			return &domain.ToolCall{Name: m[1], Arguments: args}, prose
		}
	}
	return nil, text
}

// parseToolTag decodes the first <tool name="…">{json}</tool> block as
// XML. Blocks whose JSON body is not valid XML character data (bare
// "<" or "&") fail here and fall through to the regex form.
func parseToolTag(text string) (*domain.ToolCall, string) {
	start := strings.Index(text, "<tool")
	if start < 0 {
		return nil, ""
	}
	rel := strings.Index(text[start:], "</tool>")
	if rel < 0 {
		return nil, ""
	}
	end := start + rel + len("</tool>")

	var tag struct {
		XMLName xml.Name `xml:"tool"`
		Name    string   `xml:"name,attr"`
		Body    string   `xml:",chardata"`
	}
	if err := xml.Unmarshal([]byte(text[start:end]), &tag); err != nil || tag.Name == "" {
		return nil, ""
	}
	args := decodeArgs(strings.TrimSpace(tag.Body))
	if args == nil {
		return nil, ""
	}
	prose := strings.TrimSpace(text[:start] + text[end:])
	return &domain.ToolCall{Name: tag.Name, Arguments: args}, prose
}

func decodeArgs(raw string) map[string]any {
	var args map[string]any
	if err := domain.DecodeLLMJSON(raw, &args); err != nil {
		return nil
	}
	return args
}

// duplicateObservation returns an earlier observation whose web_search
// call is equivalent to this one, or nil.
func (s *Harmony) duplicateObservation(ec *domain.ExecutionContext, call domain.ToolCall) *domain.Step {
	if call.Name != "web_search" {
		return nil
	}
	want := SearchFingerprint(call)
	for i := range ec.Steps {
		step := ec.Steps[i]
		if step.Kind != domain.StepObservation || step.ToolCall == nil || step.ToolCall.Name != "web_search" {
			continue
		}
		if SearchFingerprint(*step.ToolCall) == want {
			return &step
		}
	}
	return nil
}

// SearchFingerprint canonicalizes a web_search call as
// (normalized queries, sorted filters, model) for dedupe.
func SearchFingerprint(call domain.ToolCall) string {
	queries := normalizedQueries(call.Arguments)

	var filters []string
	if raw, ok := call.Arguments["filters"].([]any); ok {
		for _, f := range raw {
			filters = append(filters, strings.ToLower(fmt.Sprint(f)))
		}
	}
	sort.Strings(filters)

	model, _ := call.Arguments["model"].(string)
	return strings.Join(queries, "\x1f") + "\x1e" + strings.Join(filters, "\x1f") + "\x1e" + model
}

func normalizedQueries(args map[string]any) []string {
	var queries []string
	switch q := args["queries"].(type) {
	case []any:
		for _, item := range q {
			if str, ok := item.(string); ok {
				queries = append(queries, normalizeQuery(str))
			}
		}
	case []string:
		for _, str := range q {
			queries = append(queries, normalizeQuery(str))
		}
	}
	if q, ok := args["query"].(string); ok && q != "" {
		queries = append(queries, normalizeQuery(q))
	}
	sort.Strings(queries)
	return queries
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func (s *Harmony) prompt(ec *domain.ExecutionContext, run domain.RunConfig, remaining int) string {
	var sb strings.Builder
	sb.WriteString("Answer the question below. To call a tool, emit exactly one block of the form:\n\n")
	sb.WriteString("<tool name=\"tool_name\">{\"arg\": \"value\"}</tool>\n\n")
	sb.WriteString("Otherwise reply with the final answer as plain text. One tool call per step.\n\n")

	sb.WriteString("Available tools:\n")
	for _, schema := range s.registry.Schemas(run.Tools) {
		params, _ := json.Marshal(schema.Parameters)
		fmt.Fprintf(&sb, "- %s: %s %s\n", schema.Name, schema.Description, params)
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
				fmt.Fprintf(&sb, "\n<tool name=%q>%s</tool>\n", step.ToolCall.Name, args)
			}
		case domain.StepObservation:
			fmt.Fprintf(&sb, "Result: %s\n", step.Content)
		}
	}

	if remaining == 1 {
		sb.WriteString("\nThis is your last step: reply with the final answer, no tool calls.\n")
	}
	return sb.String()
}

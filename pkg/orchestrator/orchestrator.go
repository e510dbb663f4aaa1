// Package orchestrator answers a question by routing between a fast
// single-shot path and a deliberate decompose→think→search→synthesize
// pipeline, streaming progress events along the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/llm"
	"github.com/agenttic/agenttic/pkg/log"
	"github.com/agenttic/agenttic/pkg/retrieval"
	"github.com/agenttic/agenttic/pkg/strategy"
	"github.com/agenttic/agenttic/pkg/tools"
	"github.com/agenttic/agenttic/pkg/tools/builtin"
)

type Service struct {
	llm           *llm.Client
	executor      *tools.Executor
	registry      *tools.Registry
	retriever     *retrieval.Service
	gapRecallTopK int
	language      string
	logger        *log.Logger

	mu          sync.RWMutex
	defaultMode domain.ToolMode
	maxSteps    int
	stepTimeout time.Duration
	runTimeout  time.Duration
}

type Options struct {
	LLM           *llm.Client
	Executor      *tools.Executor
	Registry      *tools.Registry
	Retriever     *retrieval.Service
	GapRecallTopK int
	Language      string
	DefaultMode   domain.ToolMode
	MaxSteps      int
	StepTimeout   time.Duration
	RunTimeout    time.Duration
}

func New(opts Options) *Service {
	if opts.GapRecallTopK <= 0 {
		opts.GapRecallTopK = 5
	}
	if opts.Language == "" {
		opts.Language = "zh"
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = domain.ToolModeAuto
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 6
	}
	return &Service{
		llm:           opts.LLM,
		executor:      opts.Executor,
		registry:      opts.Registry,
		retriever:     opts.Retriever,
		gapRecallTopK: opts.GapRecallTopK,
		language:      opts.Language,
		defaultMode:   opts.DefaultMode,
		maxSteps:      opts.MaxSteps,
		stepTimeout:   opts.StepTimeout,
		runTimeout:    opts.RunTimeout,
		logger:        log.WithModule("orchestrator"),
	}
}

// Events carries the streaming callbacks. Nil callbacks are skipped;
// an all-nil Events runs the pipeline non-streaming.
type Events struct {
	OnStatus        func(stage string)
	OnReasoning     func(text string)
	OnDelta         func(text string)
	OnToolCall      func(call domain.ToolCall)
	OnToolResult    func(name string, result *domain.ToolResult)
	OnSearchResults func(resp *builtin.SearchResponse)
	OnLLMStart      func()
	OnFinalAnswer   func(answer string)
}

func (e Events) status(stage string) {
	if e.OnStatus != nil {
		e.OnStatus(stage)
	}
}

func (e Events) reasoning(text string) {
	if e.OnReasoning != nil && text != "" {
		e.OnReasoning(text)
	}
}

func (e Events) toolCall(call domain.ToolCall) {
	if e.OnToolCall != nil {
		e.OnToolCall(call)
	}
}

func (e Events) toolResult(name string, result *domain.ToolResult) {
	if e.OnToolResult != nil && result != nil {
		e.OnToolResult(name, result)
	}
}

func (e Events) searchResults(resp *builtin.SearchResponse) {
	if e.OnSearchResults != nil && resp != nil {
		e.OnSearchResults(resp)
	}
}

func (e Events) llmStart() {
	if e.OnLLMStart != nil {
		e.OnLLMStart()
	}
}

func (e Events) finalAnswer(answer string) {
	if e.OnFinalAnswer != nil {
		e.OnFinalAnswer(answer)
	}
}

// Result is one orchestrated answer plus the execution trace.
type Result struct {
	Answer string        `json:"answer"`
	Steps  []domain.Step `json:"steps,omitempty"`
}

// Run answers the question. Panics anywhere in the pipeline degrade to
// an apology answer rather than a dropped request.
func (s *Service) Run(ctx context.Context, question string, passages []string, run domain.RunConfig, ev Events) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run panicked", "panic", r, "question", question)
			answer := apologyAnswer(s.language)
			ev.finalAnswer(answer)
			res, err = &Result{Answer: answer}, nil
		}
	}()

	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	run = s.withDefaults(run)

	if run.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.RunTimeout)
		defer cancel()
	}

	if run.ToolMode == domain.ToolModeOff {
		return s.directAnswer(ctx, question, passages, ev)
	}

	ev.status("routing")
	routing := s.route(ctx, question)
	toolsUsable := s.registry.Has("web_search") && run.ToolAllowed("web_search")

	if routing.UseFastRoute {
		if routing.NeedsTools && toolsUsable {
			return s.runStrategy(ctx, question, passages, run, ev)
		}
		return s.directAnswer(ctx, question, passages, ev)
	}

	ev.status("decomposing")
	dec := s.decompose(ctx, question)

	ev.status("thinking")
	thoughts := s.think(ctx, question, dec, ev)

	if !needTools(thoughts) {
		return s.synthesize(ctx, question, thoughts, nil, passages, ev)
	}
	if !toolsUsable {
		return s.gapAnswer(ctx, question, thoughts, passages, ev)
	}

	ev.status("searching")
	queries := planQueries(question, thoughts, dec.Complexity == complexitySimple)
	resp, session := s.executeSearch(ctx, run, queries, ev)
	if resp == nil || len(resp.SourceIDs) == 0 {
		return s.synthesize(ctx, question, thoughts, nil, passages, ev)
	}

	ev.status("recalling")
	recalls := s.gapRecall(ctx, thoughts, session, resp.SourceIDs)

	return s.synthesize(ctx, question, thoughts, recalls, passages, ev)
}

// SetToolDefaults swaps the fallback tool mode and step budget.
// Applied live on config reload; zero values keep current settings.
func (s *Service) SetToolDefaults(mode domain.ToolMode, maxSteps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode != "" {
		s.defaultMode = mode
	}
	if maxSteps > 0 {
		s.maxSteps = maxSteps
	}
}

func (s *Service) withDefaults(run domain.RunConfig) domain.RunConfig {
	s.mu.RLock()
	defaultMode, maxSteps := s.defaultMode, s.maxSteps
	stepTimeout, runTimeout := s.stepTimeout, s.runTimeout
	s.mu.RUnlock()
	if run.ToolMode == "" {
		run.ToolMode = defaultMode
	}
	if run.MaxSteps <= 0 {
		run.MaxSteps = maxSteps
	}
	if run.StepTimeout <= 0 {
		run.StepTimeout = stepTimeout
	}
	if run.RunTimeout <= 0 {
		run.RunTimeout = runTimeout
	}
	if len(run.Tools) == 0 {
		run.Tools = []string{"web_search", "recall"}
	}
	return run
}

// runStrategy is the fast tool path: loop Reason→Act→Observe until a
// final answer or the step budget runs out.
func (s *Service) runStrategy(ctx context.Context, question string, passages []string, run domain.RunConfig, ev Events) (*Result, error) {
	strat, err := strategy.Select(run.ToolMode, s.llm, s.executor, s.registry)
	if err != nil {
		return nil, err
	}

	ec := &domain.ExecutionContext{Question: question, Passages: passages}
	for remaining := run.MaxSteps; remaining > 0; remaining-- {
		var step *domain.Step
		if ev.OnReasoning != nil {
			step, err = strat.StreamExecuteStep(ctx, ec, run, remaining, ev.OnReasoning)
		} else {
			step, err = strat.ExecuteStep(ctx, ec, run, remaining)
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}

		switch step.Kind {
		case domain.StepFinalAnswer:
			ev.finalAnswer(step.Content)
			return &Result{Answer: step.Content, Steps: ec.Steps}, nil
		case domain.StepObservation:
			if step.ToolCall != nil {
				ev.toolCall(*step.ToolCall)
				ev.toolResult(step.ToolCall.Name, step.ToolResult)
			}
		}
	}

	// Budget or run deadline exhausted: synthesize from what we have.
	ev.llmStart()
	var answer string
	if ev.OnDelta != nil {
		answer, err = strat.StreamForceFinalAnswer(ctx, ec, run, ev.OnDelta)
	} else {
		answer, err = strat.ForceFinalAnswer(ctx, ec, run)
	}
	if err != nil {
		return nil, err
	}
	ev.finalAnswer(answer)
	return &Result{Answer: answer, Steps: ec.Steps}, nil
}

// generate streams when a delta callback is present, otherwise does a
// single completion.
func (s *Service) generate(ctx context.Context, prompt string, ev Events) (string, error) {
	ev.llmStart()
	if ev.OnDelta != nil {
		return s.llm.Stream(ctx, []domain.Message{{Role: "user", Content: prompt}}, nil, ev.OnDelta)
	}
	return s.llm.Generate(ctx, prompt, nil)
}

func (s *Service) directAnswer(ctx context.Context, question string, passages []string, ev Events) (*Result, error) {
	answer, err := s.generate(ctx, directPrompt(question, passages, s.language), ev)
	if err != nil {
		return nil, err
	}
	ev.finalAnswer(answer)
	return &Result{Answer: answer}, nil
}

func directPrompt(question string, passages []string, language string) string {
	var sb strings.Builder
	sb.WriteString("Answer the question directly and naturally. ")
	sb.WriteString(languageInstruction(language))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	if len(passages) > 0 {
		sb.WriteString("\nContext:\n")
		for _, p := range passages {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func languageInstruction(language string) string {
	if strings.HasPrefix(strings.ToLower(language), "zh") {
		return "用中文回答。"
	}
	return "Answer in " + language + "."
}

func apologyAnswer(language string) string {
	if strings.HasPrefix(strings.ToLower(language), "zh") {
		return "抱歉，处理您的问题时发生了内部错误，请稍后重试。"
	}
	return "Sorry, an internal error occurred while answering your question. Please try again."
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
)

type Executor struct {
	registry *Registry
	logger   *log.Logger
}

func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry, logger: log.WithModule("tools")}
}

// Execute runs one tool call under the full policy chain: allow-list,
// argument validation, cache, circuit breaker, semaphore, and bounded
// retries with exponential backoff. It always returns a ToolResult;
// failures are carried in the result rather than an error so strategy
// loops can feed them back to the model as observations.
func (e *Executor) Execute(ctx context.Context, run domain.RunConfig, call domain.ToolCall) *domain.ToolResult {
	if !run.ToolAllowed(call.Name) {
		return failure(fmt.Sprintf("tool %s is not allowed for this run", call.Name))
	}
	reg, ok := e.registry.get(call.Name)
	if !ok {
		return failure(fmt.Sprintf("tool %s is not registered", call.Name))
	}

	if err := validateArgs(reg.tool.Schema(), call.Arguments); err != nil {
		return failure(domain.Categorize(err).UserMessage())
	}

	meta := e.effectiveMetadata(reg, run, call.Name)

	cacheKey := ""
	if reg.cache != nil {
		cacheKey = argsKey(call.Arguments)
		if cached, hit := reg.cache.Get(cacheKey); hit {
			if result, ok := cached.(*domain.ToolResult); ok {
				out := *result
				out.LatencyMS = 0
				out.Retries = 0
				out.Cached = true
				return &out
			}
		}
	}

	if !reg.breaker.Allow() {
		e.logger.Warn("circuit open", "tool", call.Name)
		return &domain.ToolResult{Success: false, Error: domain.ErrCircuitOpen.Error()}
	}

	select {
	case reg.sem <- struct{}{}:
		defer func() { <-reg.sem }()
	case <-ctx.Done():
		return failure(ctx.Err().Error())
	}

	start := time.Now()
	var (
		result  any
		lastErr error
	)
	attempts := meta.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				lastErr = err
				break
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if meta.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, meta.Timeout)
		}
		result, lastErr = reg.tool.Execute(attemptCtx, call.Arguments)
		if cancel != nil {
			cancel()
		}

		if lastErr == nil {
			reg.breaker.Success()
			out := &domain.ToolResult{
				Success:   true,
				Result:    result,
				LatencyMS: time.Since(start).Milliseconds(),
				Retries:   attempt,
			}
			if reg.cache != nil {
				reg.cache.Set(cacheKey, out)
			}
			return out
		}

		if cat := domain.Categorize(lastErr); !cat.Category.Retryable() {
			break
		}
		e.logger.Warn("tool attempt failed", "tool", call.Name, "attempt", attempt, "error", lastErr)
	}

	reg.breaker.Failure()
	de := domain.Categorize(lastErr)
	e.logger.Error("tool execution failed", "tool", call.Name, "error", lastErr)
	return &domain.ToolResult{
		Success:   false,
		Error:     de.UserMessage(),
		LatencyMS: time.Since(start).Milliseconds(),
		Retries:   attempts - 1,
	}
}

// effectiveMetadata overlays per-run tool policy on the registered
// defaults.
func (e *Executor) effectiveMetadata(reg *registration, run domain.RunConfig, name string) domain.ToolMetadata {
	meta := reg.tool.Metadata()
	if override, ok := run.PerTool[name]; ok {
		if override.Timeout > 0 {
			meta.Timeout = override.Timeout
		}
		if override.MaxRetries > 0 {
			meta.MaxRetries = override.MaxRetries
		}
	}
	if meta.Timeout <= 0 && run.StepTimeout > 0 {
		meta.Timeout = run.StepTimeout
	}
	return meta
}

func failure(msg string) *domain.ToolResult {
	return &domain.ToolResult{Success: false, Error: msg}
}

// sleepBackoff waits min(1.5^attempt, 10) * (0.5 + rand) seconds, or
// returns early when ctx is cancelled.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := math.Min(math.Pow(1.5, float64(attempt)), 10)
	delay := time.Duration(base * (0.5 + rand.Float64()) * float64(time.Second))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// argsKey builds the cache key from normalized arguments; Go's JSON
// encoder sorts map keys, so equivalent argument maps collide.
func argsKey(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}

// validateArgs checks required keys and primitive types against the
// tool's JSON schema.
func validateArgs(schema domain.ToolSchema, args map[string]any) error {
	params := schema.Parameters
	if params == nil {
		return nil
	}

	if required, ok := params["required"].([]any); ok {
		for _, key := range required {
			name, _ := key.(string)
			if _, present := args[name]; !present {
				return fmt.Errorf("%w: missing required argument %q", domain.ErrInvalidInput, name)
			}
		}
	} else if required, ok := params["required"].([]string); ok {
		for _, name := range required {
			if _, present := args[name]; !present {
				return fmt.Errorf("%w: missing required argument %q", domain.ErrInvalidInput, name)
			}
		}
	}

	properties, _ := params["properties"].(map[string]any)
	for name, value := range args {
		propAny, declared := properties[name]
		if !declared {
			continue
		}
		prop, _ := propAny.(map[string]any)
		wantType, _ := prop["type"].(string)
		if wantType == "" || value == nil {
			continue
		}
		if !typeMatches(wantType, value) {
			return fmt.Errorf("%w: argument %q must be %s", domain.ErrInvalidInput, name, wantType)
		}
	}
	return nil
}

func typeMatches(wantType string, value any) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}

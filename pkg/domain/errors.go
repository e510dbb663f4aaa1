package domain

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoChunks           = errors.New("extraction produced no chunks")
	ErrFetchFailed        = errors.New("page fetch failed")
	ErrContentTooLarge    = errors.New("content exceeds size limit")
	ErrEmbeddingFailed    = errors.New("embedding generation failed")
	ErrGenerationFailed   = errors.New("text generation failed")
	ErrVectorStoreFailed  = errors.New("vector store operation failed")
	ErrMetaStoreFailed    = errors.New("metadata store operation failed")
	ErrConfigurationError = errors.New("configuration error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrCircuitOpen        = errors.New("circuit_open")
)

// Category classifies an error for retry and messaging policy. These
// are categories, not types: any underlying error maps into exactly one.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryValidation    Category = "validation"
	CategoryPermission    Category = "permission"
	CategoryTimeout       Category = "timeout"
	CategoryRateLimit     Category = "rate_limit"
	CategoryToolExecution Category = "tool_execution"
	CategoryParsing       Category = "parsing"
	CategoryResource      Category = "resource"
	CategoryConfiguration Category = "configuration"
	CategoryUnknown       Category = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the categorized wrapper used at tool and orchestrator
// boundaries, where the category decides retries and the user-visible
// message.
type Error struct {
	Category    Category
	Severity    Severity
	Recoverable bool
	Message     string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the short text safe to show a caller.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return userMessageFor(e.Category)
}

func userMessageFor(c Category) string {
	switch c {
	case CategoryValidation:
		return "输入参数有误"
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit:
		return "服务暂时不可用，请稍后重试"
	case CategoryPermission:
		return "没有执行该操作的权限"
	default:
		return "操作失败，请稍后重试"
	}
}

// Retryable reports whether errors of this category may be retried.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit:
		return true
	}
	return false
}

// Categorize maps an arbitrary error into the taxonomy.
func Categorize(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}

	cat := CategoryUnknown
	sev := SeverityMedium
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		cat = CategoryTimeout
	case errors.Is(err, ErrInvalidInput):
		cat = CategoryValidation
		sev = SeverityLow
	case errors.Is(err, ErrConfigurationError):
		cat = CategoryConfiguration
		sev = SeverityHigh
	case isNetError(err):
		cat = CategoryNetwork
	case strings.Contains(err.Error(), "rate limit"), strings.Contains(err.Error(), "429"):
		cat = CategoryRateLimit
	case strings.Contains(err.Error(), "unauthorized"), strings.Contains(err.Error(), "forbidden"):
		cat = CategoryPermission
		sev = SeverityHigh
	}
	return &Error{
		Category:    cat,
		Severity:    sev,
		Recoverable: cat.Retryable(),
		Err:         err,
	}
}

func isNetError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset")
}

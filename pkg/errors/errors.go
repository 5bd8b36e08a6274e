// SPDX-License-Identifier: Apache-2.0
// Package errors provides the unified error taxonomy for Telos. Every
// provider-specific failure is translated into one of these kinds before it
// leaves the adapter boundary; callers never see provider-native error shapes.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode classifies Telos errors for routing, retry, and monitoring.
type ErrorCode string

const (
	// CodeConfiguration indicates invalid or missing runtime configuration.
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeAuthentication indicates invalid provider credentials.
	CodeAuthentication ErrorCode = "AUTHENTICATION_ERROR"

	// CodeRateLimit indicates provider throttling; retried with backoff.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeModelNotFound indicates the requested model does not exist.
	CodeModelNotFound ErrorCode = "MODEL_NOT_FOUND"

	// CodeInvalidRequest indicates malformed input or context-length overflow.
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// CodeStreaming indicates a failure inside a streaming sequence.
	CodeStreaming ErrorCode = "STREAMING_ERROR"

	// CodeToolExecution indicates a tool dispatch failure of some ToolErrorKind.
	CodeToolExecution ErrorCode = "TOOL_EXECUTION_ERROR"

	// CodeStructuredOutput indicates schema-constrained output could not be produced.
	CodeStructuredOutput ErrorCode = "STRUCTURED_OUTPUT_ERROR"

	// CodeProvider wraps any provider failure not covered by a specific kind.
	CodeProvider ErrorCode = "PROVIDER_ERROR"

	// CodeBudgetExceeded indicates a run exhausted max_iterations or its deadline.
	CodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"

	// CodeTimeout indicates a bounded operation exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ToolErrorKind refines CodeToolExecution failures.
type ToolErrorKind string

const (
	// ToolUnknown means the requested tool is not in the agent's allowlist.
	ToolUnknown ToolErrorKind = "unknown_tool"

	// ToolInvalidArguments means the arguments failed JSON Schema validation.
	ToolInvalidArguments ToolErrorKind = "invalid_arguments"

	// ToolTimeout means execution exceeded its bounded timeout.
	ToolTimeout ToolErrorKind = "timeout"

	// ToolSandboxViolation means a path escaped the agent's workspace root.
	ToolSandboxViolation ToolErrorKind = "sandbox_violation"

	// ToolHandlerFailure means the handler returned an error or panicked.
	ToolHandlerFailure ToolErrorKind = "handler_failure"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int // Upstream HTTP status, when known.

	// RetryAfter is the provider-suggested wait before retrying.
	// Meaningful only for CodeRateLimit; zero means none supplied.
	RetryAfter time.Duration

	// ToolKind refines CodeToolExecution errors; empty otherwise.
	ToolKind ToolErrorKind
}

// Error implements the error interface.
func (e *Error) Error() string {
	code := string(e.Code)
	if e.Code == CodeToolExecution && e.ToolKind != "" {
		code = fmt.Sprintf("%s/%s", e.Code, e.ToolKind)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new Error with the given code, message, and cause.
// Recoverability defaults per code: rate limits and generic provider
// failures are recoverable, everything else is not.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: code == CodeRateLimit || code == CodeProvider || code == CodeTimeout,
		StatusCode:  codeToStatusCode(code),
	}
}

// Tool creates a CodeToolExecution error of the given kind for a named tool.
func Tool(kind ToolErrorKind, toolName, msg string, cause error) *Error {
	e := New(CodeToolExecution, msg, cause)
	e.ToolKind = kind
	e.Attributes["tool.name"] = toolName
	return e
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// WithRetryAfter records the provider-suggested retry delay.
// Returns the error for method chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithStatusCode overrides the upstream HTTP status.
// Returns the error for method chaining.
func (e *Error) WithStatusCode(status int) *Error {
	e.StatusCode = status
	return e
}

// AsError attempts to convert any error to a *Error.
// Returns the error unchanged if it is one, or wraps it as CodeInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsRecoverable reports whether err may succeed on retry.
// Foreign errors are treated as non-recoverable.
func IsRecoverable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Recoverable
	}
	return false
}

// RetryAfterOf extracts a provider-suggested retry delay, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var te *Error
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}

// ToolKindOf extracts the tool error kind from a CodeToolExecution error.
func ToolKindOf(err error) (ToolErrorKind, bool) {
	var te *Error
	if errors.As(err, &te) && te.Code == CodeToolExecution && te.ToolKind != "" {
		return te.ToolKind, true
	}
	return "", false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// FromStatusCode maps an upstream HTTP status to the unified taxonomy.
// Used by adapters whose SDK exposes the raw status of a failed call.
func FromStatusCode(status int, provider, msg string, cause error) *Error {
	var e *Error
	switch {
	case status == 401 || status == 403:
		e = New(CodeAuthentication, msg, cause)
	case status == 404:
		e = New(CodeModelNotFound, msg, cause)
	case status == 400 || status == 422:
		e = New(CodeInvalidRequest, msg, cause)
	case status == 429:
		e = New(CodeRateLimit, msg, cause)
	case status >= 500:
		e = New(CodeProvider, msg, cause)
	default:
		e = New(CodeProvider, msg, cause)
	}
	e.StatusCode = status
	e.Attributes["provider"] = provider
	return e
}

// Classify maps an opaque provider error to the unified taxonomy using
// message heuristics. Adapters prefer FromStatusCode when a status is
// available and fall back to this for transport-level failures.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	msg := strings.ToLower(err.Error())
	var e *Error
	switch {
	case strings.Contains(msg, "api key") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "invalid token") ||
		strings.Contains(msg, "401"):
		e = New(CodeAuthentication, "authentication failed", err)
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429"):
		e = New(CodeRateLimit, "rate limited", err)
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"),
		strings.Contains(msg, "404"):
		e = New(CodeModelNotFound, "model not found", err)
	case strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "bad request") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "400"):
		e = New(CodeInvalidRequest, "invalid request", err)
	default:
		e = New(CodeProvider, "provider error", err)
	}
	e.Attributes["provider"] = provider
	return e
}

// codeToStatusCode maps error codes to HTTP status codes for surfaces that
// need one (event payloads, the archive store).
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeModelNotFound:
		return 404
	case CodeAuthentication:
		return 401
	case CodeInvalidRequest:
		return 400
	case CodeRateLimit:
		return 429
	case CodeConfiguration:
		return 500
	case CodeProvider, CodeStreaming, CodeStructuredOutput:
		return 502
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

// Package faults classifies failures into a fixed taxonomy and applies
// the retry policy around external calls.
package faults

import (
	"strings"
	"time"
)

// Category is the failure class assigned to an error.
type Category string

const (
	CategoryNetwork            Category = "network"
	CategoryTimeout            Category = "timeout"
	CategoryValidation         Category = "validation"
	CategoryPermission         Category = "permission"
	CategoryNotFound           Category = "not_found"
	CategoryRateLimit          Category = "rate_limit"
	CategoryServiceUnavailable Category = "service_unavailable"
	CategoryInternal           Category = "internal"
	CategoryUnknown            Category = "unknown"
)

// Severity ranks how serious a classified failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Record is one classified failure. Immutable after creation; records are
// appended to the Store and expired, never mutated.
type Record struct {
	Category         Category  `json:"category"`
	Severity         Severity  `json:"severity"`
	Message          string    `json:"message"`
	ServiceName      string    `json:"service_name"`
	Operation        string    `json:"operation"`
	Retryable        bool      `json:"retryable"`
	RecoveryStrategy string    `json:"recovery_strategy"`
	Timestamp        time.Time `json:"timestamp"`
}

// categoryProfile is the fixed policy attached to each category.
type categoryProfile struct {
	severity  Severity
	retryable bool
	recovery  string
	keywords  []string
}

// classificationOrder is the precedence for keyword matching. First match
// wins, so e.g. "no such host" lands on network before not_found can see it.
var classificationOrder = []Category{
	CategoryNetwork,
	CategoryTimeout,
	CategoryValidation,
	CategoryPermission,
	CategoryNotFound,
	CategoryRateLimit,
	CategoryServiceUnavailable,
	CategoryInternal,
}

var profiles = map[Category]categoryProfile{
	CategoryNetwork: {
		severity:  SeverityHigh,
		retryable: true,
		recovery:  "retry_with_backoff",
		keywords: []string{
			"econnrefused", "econnreset", "connection refused", "connection reset",
			"no such host", "broken pipe", "network is unreachable", "dial tcp",
			"connection closed", "transport is closing",
		},
	},
	CategoryTimeout: {
		severity:  SeverityMedium,
		retryable: true,
		recovery:  "retry_with_backoff",
		keywords: []string{
			"timeout", "timed out", "deadline exceeded", "etimedout",
			"context canceled", "context cancelled",
		},
	},
	CategoryValidation: {
		severity:  SeverityLow,
		retryable: false,
		recovery:  "fix_input",
		keywords: []string{
			"validation", "invalid", "malformed", "bad request",
			"missing required", "unmarshal", "cannot parse",
		},
	},
	CategoryPermission: {
		severity:  SeverityHigh,
		retryable: false,
		recovery:  "escalate_permissions",
		keywords: []string{
			"permission", "forbidden", "unauthorized", "access denied", "not allowed",
		},
	},
	CategoryNotFound: {
		severity:  SeverityLow,
		retryable: false,
		recovery:  "check_resource",
		keywords: []string{
			"not found", "does not exist", "no rows", "unknown tool", "404",
		},
	},
	CategoryRateLimit: {
		severity:  SeverityMedium,
		retryable: true,
		recovery:  "wait_and_retry",
		keywords: []string{
			"rate limit", "too many requests", "quota exceeded", "429", "throttled",
		},
	},
	CategoryServiceUnavailable: {
		severity:  SeverityHigh,
		retryable: true,
		recovery:  "retry_with_backoff",
		keywords: []string{
			"unavailable", "bad gateway", "502", "503", "overloaded", "try again later",
		},
	},
	CategoryInternal: {
		severity:  SeverityCritical,
		retryable: false,
		recovery:  "report_to_admin",
		keywords: []string{
			"internal", "panic", "nil pointer", "500", "assertion failed",
		},
	},
	CategoryUnknown: {
		severity:  SeverityMedium,
		retryable: false,
		recovery:  "manual_review",
	},
}

// Classify maps an error to a Record by keyword matching against the
// lower-cased message. Deterministic: the same message, service, and
// operation always produce the same category, severity, and retryable flag.
// A nil error classifies as unknown with an empty message.
func Classify(err error, serviceName, operation string) Record {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	category := CategoryUnknown
	for _, cat := range classificationOrder {
		if matchesAny(lower, profiles[cat].keywords) {
			category = cat
			break
		}
	}

	p := profiles[category]
	return Record{
		Category:         category,
		Severity:         p.severity,
		Message:          msg,
		ServiceName:      serviceName,
		Operation:        operation,
		Retryable:        p.retryable,
		RecoveryStrategy: p.recovery,
		Timestamp:        time.Now().UTC(),
	}
}

func matchesAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Error carries a classified record alongside the original error so callers
// receive a category/severity/retryable triple instead of a raw message.
type Error struct {
	Record Record
	Err    error
}

func (e *Error) Error() string {
	return string(e.Record.Category) + ": " + e.Record.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err and returns it as a *Error. Returns nil for nil input.
func Wrap(err error, serviceName, operation string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Record: Classify(err, serviceName, operation), Err: err}
}

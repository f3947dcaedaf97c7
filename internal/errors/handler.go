// Package errors provides the ErrorHandler implementations a pipeline
// plugs in to classify a stage failure before the run halts. Handlers
// annotate and observe; they never resurrect a failed run.
package errors

import (
	"context"
	"log"
	"reflect"
	"sync"
	"time"
)

// ErrorHandler classifies a failure surfaced by a pipeline run.
type ErrorHandler interface {
	// HandleError observes the failure. Returning nil marks the error
	// as absorbed for diagnostics; the pipeline still halts.
	HandleError(ctx context.Context, errCtx *ErrorContext) error

	// Name identifies the handler in diagnostics.
	Name() string

	// CanHandle reports whether the handler wants this error.
	CanHandle(err error) bool
}

// ErrorContext carries the failure and where in the run it happened.
type ErrorContext struct {
	// Err is the failure being classified.
	Err error

	// Op names the operation that failed, e.g. "stage-2".
	Op string

	// Input is the value being processed when the failure occurred,
	// when the caller has one.
	Input any

	// Timestamp records when the failure was observed.
	Timestamp time.Time

	// Meta holds handler-specific annotations.
	Meta map[string]any
}

// NewErrorContext builds a context for a failure in the named operation.
func NewErrorContext(err error, op string, input any) *ErrorContext {
	return &ErrorContext{
		Err:       err,
		Op:        op,
		Input:     input,
		Timestamp: time.Now(),
		Meta:      make(map[string]any),
	}
}

// FailFastHandler passes every failure straight through.
type FailFastHandler struct{}

// NewFailFastHandler returns the pass-through handler.
func NewFailFastHandler() *FailFastHandler { return &FailFastHandler{} }

func (h *FailFastHandler) HandleError(_ context.Context, errCtx *ErrorContext) error {
	return errCtx.Err
}

func (h *FailFastHandler) Name() string { return "FailFast" }

func (h *FailFastHandler) CanHandle(error) bool { return true }

// ContinueOnErrorHandler absorbs failures for diagnostics, optionally
// restricted to a set of error types. With no types configured it
// absorbs everything.
type ContinueOnErrorHandler struct {
	mu           sync.RWMutex
	ignoredTypes map[reflect.Type]struct{}
	logErrors    bool
}

// ContinueOnErrorConfig configures which failures get absorbed.
type ContinueOnErrorConfig struct {
	// IgnoredErrorTypes restricts absorption to these error types.
	// Empty means absorb every error.
	IgnoredErrorTypes []error

	// LogErrors logs each absorbed failure.
	LogErrors bool
}

// NewContinueOnErrorHandler builds the absorbing handler; nil config
// means absorb everything and log it.
func NewContinueOnErrorHandler(config *ContinueOnErrorConfig) *ContinueOnErrorHandler {
	h := &ContinueOnErrorHandler{
		ignoredTypes: make(map[reflect.Type]struct{}),
		logErrors:    true,
	}
	if config != nil {
		h.logErrors = config.LogErrors
		for _, err := range config.IgnoredErrorTypes {
			if err != nil {
				h.ignoredTypes[reflect.TypeOf(err)] = struct{}{}
			}
		}
	}
	return h
}

func (h *ContinueOnErrorHandler) HandleError(_ context.Context, errCtx *ErrorContext) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.ignoredTypes) > 0 {
		if _, ok := h.ignoredTypes[reflect.TypeOf(errCtx.Err)]; !ok {
			return errCtx.Err
		}
	}

	if h.logErrors {
		log.Printf("flowpipe: absorbed error in %s: %v", errCtx.Op, errCtx.Err)
	}
	return nil
}

func (h *ContinueOnErrorHandler) Name() string { return "ContinueOnError" }

func (h *ContinueOnErrorHandler) CanHandle(err error) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.ignoredTypes) == 0 {
		return true
	}
	_, ok := h.ignoredTypes[reflect.TypeOf(err)]
	return ok
}

// AddIgnoredErrorType widens the absorbed set to err's type.
func (h *ContinueOnErrorHandler) AddIgnoredErrorType(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ignoredTypes[reflect.TypeOf(err)] = struct{}{}
}

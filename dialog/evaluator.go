package dialog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/BaSui01/botflow/internal/metrics"
	"github.com/BaSui01/botflow/types"
)

// defaultGuardTimeout bounds a single sandboxed guard evaluation.
const defaultGuardTimeout = 500 * time.Millisecond

// Evaluator evaluates transition guard expressions against the
// conversation state. Compiled programs are cached per expression
// source, so re-entering a node never recompiles its guards.
//
// Guards that call functions or carry template backticks are treated as
// unsafe and run inside a time-boxed goroutine; plain comparisons run
// inline. A guard that errors or times out is a non-match, never a
// turn-level failure.
type Evaluator struct {
	timeout time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger

	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEvaluator creates a guard evaluator. A zero timeout falls back to
// the default.
func NewEvaluator(timeout time.Duration, collector *metrics.Collector, logger *zap.Logger) *Evaluator {
	if timeout <= 0 {
		timeout = defaultGuardTimeout
	}
	return &Evaluator{
		timeout:  timeout,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "guard_evaluator")),
		programs: map[string]*vm.Program{},
	}
}

// guardEnv builds the variable environment a guard sees: the event
// payload, the session and temp state, and lastNode (the node visited
// before the current one in this turn's trace).
func guardEnv(event *types.IncomingEvent) map[string]any {
	lastNode := ""
	if n := len(event.State.Trace); n >= 2 {
		lastNode = event.State.Trace[n-2].Node
	}

	return map[string]any{
		"event": map[string]any{
			"type":    string(event.Type),
			"preview": event.Preview,
			"payload": event.Payload,
			"ndu":     event.NDU,
		},
		"session":  event.State.Session,
		"temp":     event.State.Temp,
		"lastNode": lastNode,
	}
}

// Evaluate reports whether the guard matches. The literal "true" always
// matches without compilation.
func (e *Evaluator) Evaluate(ctx context.Context, condition string, event *types.IncomingEvent) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" || condition == "true" {
		return true
	}

	program, err := e.compile(condition)
	if err != nil {
		e.logger.Warn("guard does not compile, treating as non-match",
			zap.String("condition", condition), zap.Error(err))
		return false
	}

	sandboxed := isUnsafe(condition)
	start := time.Now()
	defer func() {
		e.metrics.RecordGuardEval(sandboxed, time.Since(start))
	}()

	env := guardEnv(event)
	if !sandboxed {
		return e.run(program, env, condition)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// The expr VM cannot be interrupted mid-run: on timeout the
	// goroutine is abandoned and finishes on its own, its late result
	// dropped through the buffered channel. The parser's node budget
	// caps program size but not iteration counts, so a pathological
	// guard holds its goroutine until the VM returns.
	done := make(chan bool, 1)
	go func() {
		done <- e.run(program, env, condition)
	}()

	select {
	case matched := <-done:
		return matched
	case <-runCtx.Done():
		e.logger.Warn("guard evaluation timed out, treating as non-match",
			zap.String("condition", condition), zap.Duration("timeout", e.timeout))
		return false
	}
}

func (e *Evaluator) run(program *vm.Program, env map[string]any, condition string) bool {
	out, err := expr.Run(program, env)
	if err != nil {
		e.logger.Debug("guard evaluation failed, treating as non-match",
			zap.String("condition", condition), zap.Error(err))
		return false
	}
	return truthy(out)
}

func (e *Evaluator) compile(condition string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[condition]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling guard: %w", err)
	}

	e.mu.Lock()
	e.programs[condition] = program
	e.mu.Unlock()
	return program, nil
}

// isUnsafe reports whether a guard needs the time-boxed sandbox: any
// function call or template backtick qualifies.
func isUnsafe(condition string) bool {
	return strings.ContainsAny(condition, "(`")
}

// truthy coerces a guard result to bool the way the expression language
// of the flow editor does: nil, false, zero and "" are non-matches.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

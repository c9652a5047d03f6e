// Package hostengine implements the engine-side interpreter that runs
// inside cmd/engine: a goja-backed JavaScript evaluator served over the
// same local transport the python bootstrap speaks.
package hostengine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/oriys/evalgw/internal/engine"
)

// JSEngine hosts one goja runtime for the lifetime of a child process.
// Calls are serialized by the transport server (one HTTP request in
// flight at a time), so the mutex here only guards the evaluating flag
// (read by the signal handler's goroutine), the index and the output
// buffer.
type JSEngine struct {
	mu         sync.Mutex
	vm         *goja.Runtime
	index      int64
	evaluating bool
	out        *bytes.Buffer
}

// NewJSEngine constructs a runtime with the original engine's two
// native extensions, `print` and `sleep`.
func NewJSEngine() *JSEngine {
	e := &JSEngine{vm: goja.New(), out: &bytes.Buffer{}}

	e.vm.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		e.out.WriteString(strings.Join(parts, " ") + "\n")
		return goja.Undefined()
	})

	e.vm.Set("sleep", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		time.Sleep(time.Duration(call.Arguments[0].ToFloat() * float64(time.Second)))
		return goja.Undefined()
	})

	return e
}

// Preface runs a one-shot startup source before the listener accepts
// requests, the JS analogue of PythonInterpreter.execute.
func (e *JSEngine) Preface(source string) error {
	if source == "" {
		return nil
	}
	_, err := e.vm.RunString(source)
	return err
}

// Interrupt asks the currently running script to stop at its next
// interruptible point. Best-effort: goja checks for interruption
// between statements, not mid-expression, so long-running native calls
// (like the sleep extension above) are not preempted.
func (e *JSEngine) Interrupt() {
	e.vm.Interrupt("interrupted")
}

// IsEvaluating reports whether a call is currently in flight, used by
// the signal handler to decide whether SIGINT means "interrupt the
// running call" or "exit the process".
func (e *JSEngine) IsEvaluating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluating
}

// Evaluate implements transport.Handler for the `evaluate` method.
func (e *JSEngine) Evaluate(ctx context.Context, source string) engine.Result {
	e.mu.Lock()
	e.evaluating = true
	e.out.Reset()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.evaluating = false
		e.mu.Unlock()
	}()

	trimmed := strings.TrimRight(source, "\r\n\t ")

	var tb any = engine.NoTraceback
	interrupted := false

	start := time.Now()
	value, err := e.vm.RunString(trimmed)
	elapsed := time.Since(start)

	switch exc := err.(type) {
	case nil:
		if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) && !strings.HasSuffix(trimmed, ";") {
			e.out.WriteString(value.String() + "\n")
		}
	case *goja.InterruptedError:
		tb = "Interrupted"
		interrupted = true
	case *goja.Exception:
		tb = exc.Value().String()
	default:
		tb = err.Error()
	}

	e.mu.Lock()
	e.index++
	idx := e.index
	out := e.out.String()
	e.mu.Unlock()

	return engine.Result{
		Source:      source,
		Index:       idx,
		Time:        elapsed.Seconds(),
		Traceback:   tb,
		Interrupted: interrupted,
		Out:         out,
		Err:         "",
	}
}

// Complete implements transport.Handler for the `complete` method; the
// JavaScript engine does not support completion, matching the original
// JavaScriptInterpreter.complete.
func (e *JSEngine) Complete(ctx context.Context, source string) engine.Result {
	return engine.Result{Source: source, Traceback: engine.NoTraceback, Completions: []engine.Completion{}}
}

package hostengine

import (
	"context"
	"strings"
	"testing"

	"github.com/oriys/evalgw/internal/engine"
)

func TestEvaluateReturnsExpressionValue(t *testing.T) {
	e := NewJSEngine()
	res := e.Evaluate(context.Background(), "1 + 2")
	if strings.TrimSpace(res.Out) != "3" {
		t.Fatalf("expected printed value 3, got %q", res.Out)
	}
	if res.Traceback != engine.NoTraceback {
		t.Fatalf("unexpected traceback: %v", res.Traceback)
	}
	if res.Index != 1 {
		t.Fatalf("expected index 1, got %d", res.Index)
	}
}

func TestEvaluateSemicolonSuppressesValuePrint(t *testing.T) {
	e := NewJSEngine()
	res := e.Evaluate(context.Background(), "1 + 2;")
	if res.Out != "" {
		t.Fatalf("expected no output for semicolon-terminated statement, got %q", res.Out)
	}
}

func TestEvaluatePrintExtension(t *testing.T) {
	e := NewJSEngine()
	res := e.Evaluate(context.Background(), `print("hello", 42)`)
	if strings.TrimSpace(res.Out) != "hello 42" {
		t.Fatalf("expected print output, got %q", res.Out)
	}
}

func TestEvaluateThrownErrorBecomesTraceback(t *testing.T) {
	e := NewJSEngine()
	res := e.Evaluate(context.Background(), `throw new Error("boom")`)
	tb, ok := res.Traceback.(string)
	if !ok || !strings.Contains(tb, "boom") {
		t.Fatalf("expected traceback to mention the error, got %v", res.Traceback)
	}
}

func TestEvaluateIndexIncrementsAcrossCalls(t *testing.T) {
	e := NewJSEngine()
	e.Evaluate(context.Background(), "1")
	res := e.Evaluate(context.Background(), "2")
	if res.Index != 2 {
		t.Fatalf("expected index 2, got %d", res.Index)
	}
}

func TestCompleteReturnsEmptyCompletions(t *testing.T) {
	e := NewJSEngine()
	res := e.Complete(context.Background(), "Math.fl")
	if len(res.Completions) != 0 {
		t.Fatalf("expected no completions for javascript, got %v", res.Completions)
	}
}

func TestInterruptMarksResultInterrupted(t *testing.T) {
	e := NewJSEngine()
	// Interrupt before Evaluate runs: goja checks the interrupt flag at
	// the first opportunity, so a long-running loop started immediately
	// after should stop right away.
	done := make(chan struct{})
	go func() {
		<-done
		e.Interrupt()
	}()
	close(done)
	res := e.Evaluate(context.Background(), "while (true) {}")
	if !res.Interrupted {
		t.Fatalf("expected interrupted result, got %+v", res)
	}
}

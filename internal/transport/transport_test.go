package transport

import (
	"context"
	"testing"

	"github.com/oriys/evalgw/internal/engine"
)

func TestServerClientRoundTrip(t *testing.T) {
	evaluate := func(ctx context.Context, source string) engine.Result {
		return engine.Result{Source: source, Out: "echo:" + source}
	}
	complete := func(ctx context.Context, source string) engine.Result {
		return engine.Result{Source: source, Completions: []engine.Completion{{Match: source + "x"}}}
	}

	srv, err := NewServer(0, evaluate, complete)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	go srv.Serve()

	client := NewClient(srv.Port())

	result, err := client.Call(context.Background(), "evaluate", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if result.Out != "echo:hello" {
		t.Fatalf("unexpected result: %+v", result)
	}

	result, err = client.Call(context.Background(), "complete", "im")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Completions) != 1 || result.Completions[0].Match != "imx" {
		t.Fatalf("unexpected completions: %+v", result.Completions)
	}
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port <= 0 {
		t.Fatalf("expected positive port, got %d", port)
	}
}

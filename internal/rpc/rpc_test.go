package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/evalgw/internal/builder"
	"github.com/oriys/evalgw/internal/config"
	"github.com/oriys/evalgw/internal/engine"
	"github.com/oriys/evalgw/internal/metrics"
	"github.com/oriys/evalgw/internal/procmanager"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := builder.NewRegistry("./evalgw-engine")
	reg.Register(engine.KindPython, func(port int, code string) ([]string, error) {
		return []string{"sh", "-c", "printf 'OK (pid=%d)\\n' $$; sleep 30"}, nil
	})

	cfg := config.DefaultSettings()
	cfg.DataPath = t.TempDir()
	cfg.EngineTimeout = 2 * time.Second

	m := procmanager.New(cfg, reg, metrics.Init("evalgw_rpc_test_"+t.Name()), nil)
	return NewServer(m)
}

func call(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "1", "method": method, "params": params,
	})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestUnknownMethodIsJSONRPCError(t *testing.T) {
	s := newTestServer(t)
	out := call(t, s, "Engine.bogus", map[string]any{})
	errObj, ok := out["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", out)
	}
	if int(errObj["code"].(float64)) != codeMethodNotFound {
		t.Fatalf("expected method-not-found code, got %v", errObj["code"])
	}
}

func TestBadEngineReturnsOkFalse(t *testing.T) {
	s := newTestServer(t)
	out := call(t, s, "Engine.init", map[string]any{"engine": "nope"})
	result, ok := out["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %v", out)
	}
	if result["ok"] != false || result["reason"] != engine.ReasonBadEngine {
		t.Fatalf("expected bad-engine failure, got %v", result)
	}
}

func TestSystemDescribeListsEngineMethods(t *testing.T) {
	s := newTestServer(t)
	out := call(t, s, "system.describe", map[string]any{})
	result := out["result"].(map[string]any)
	procs, ok := result["procs"].([]any)
	if !ok || len(procs) != 6 {
		t.Fatalf("expected 6 described methods, got %v", result["procs"])
	}
}

func TestUnknownEngineOperationDoesNotExist(t *testing.T) {
	s := newTestServer(t)
	out := call(t, s, "Engine.stat", map[string]any{"uuid": "ghost"})
	result := out["result"].(map[string]any)
	if result["ok"] != false || result["reason"] != engine.ReasonDoesNotExist {
		t.Fatalf("expected does-not-exist, got %v", result)
	}
}

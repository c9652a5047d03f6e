// Package rpc implements the client-facing JSON-RPC 2.0 façade: one
// HTTP POST endpoint, six Engine.* methods plus the supplemented
// system.describe introspection method.
package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/oriys/evalgw/internal/engine"
	"github.com/oriys/evalgw/internal/logging"
	"github.com/oriys/evalgw/internal/observability"
	"github.com/oriys/evalgw/internal/procmanager"
	"github.com/oriys/evalgw/internal/runner"
)

// Standard JSON-RPC 2.0 error codes, plus the domain code for
// authentication reserved by the original protocol (unused here since
// authentication is out of scope, kept for wire compatibility).
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAuthRequired   = -31001
)

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type methodFunc func(ctx context.Context, params json.RawMessage) any

// Server hosts the client-facing JSON-RPC endpoint over a single
// registry of engines.
type Server struct {
	manager *procmanager.Manager
	methods map[string]methodFunc
}

// NewServer wires the six Engine.* operations plus system.describe
// against the given process manager.
func NewServer(m *procmanager.Manager) *Server {
	s := &Server{manager: m, methods: make(map[string]methodFunc)}

	s.methods["Engine.init"] = s.engineInit
	s.methods["Engine.kill"] = s.engineKill
	s.methods["Engine.stat"] = s.engineStat
	s.methods["Engine.complete"] = s.engineComplete
	s.methods["Engine.evaluate"] = s.engineEvaluate
	s.methods["Engine.interrupt"] = s.engineInterrupt
	s.methods["system.describe"] = s.systemDescribe

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !isJSONContentType(ct) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, nil, codeParseError, "Parse error")
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, nil, codeParseError, "Parse error")
		return
	}
	if env.Method == "" {
		writeError(w, env.ID, codeInvalidRequest, "Invalid request")
		return
	}

	fn, ok := s.methods[env.Method]
	if !ok {
		writeError(w, env.ID, codeMethodNotFound, "Method not found")
		return
	}

	logging.Op().Debug("rpc call", "method", env.Method)
	result := fn(r.Context(), env.Params)
	writeResult(w, env.ID, result)
}

func isJSONContentType(ct string) bool {
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			ct = ct[:i]
			break
		}
	}
	return ct == "application/json"
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(reply{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

// okResult / failResult are the wire shapes for method-level outcomes,
// distinct from JSON-RPC protocol errors: a well-formed call that the
// domain refuses (e.g. "busy") is still a 200 envelope with
// {ok:false, reason}.
type okResult struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	UUID   string `json:"uuid,omitempty"`
	Memory uint64 `json:"memory,omitempty"`
}

type failResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

type initParams struct {
	UUID   string          `json:"uuid"`
	Engine json.RawMessage `json:"engine"`
}

func (s *Server) engineInit(_ context.Context, raw json.RawMessage) any {
	var p initParams
	json.Unmarshal(raw, &p)

	args, ok := parseEngineArg(p.Engine)
	if !ok {
		return failResult{Reason: engine.ReasonBadEngine}
	}

	res, err := s.manager.Start(p.UUID, args)
	if err != nil {
		return failResult{Reason: err.Error()}
	}
	return okResult{OK: true, Status: "started", UUID: res.Identifier, Memory: res.Memory}
}

type uuidParams struct {
	UUID string `json:"uuid"`
}

func (s *Server) engineKill(_ context.Context, raw json.RawMessage) any {
	var p uuidParams
	json.Unmarshal(raw, &p)

	status, err := s.manager.Stop(p.UUID)
	if err != nil {
		return failResult{Reason: err.Error()}
	}
	return okResult{OK: true, Status: status}
}

func (s *Server) engineStat(_ context.Context, raw json.RawMessage) any {
	var p uuidParams
	json.Unmarshal(raw, &p)

	stat, err := s.manager.Stat(p.UUID)
	if err != nil {
		return failResult{Reason: err.Error()}
	}
	return struct {
		OK bool `json:"ok"`
		engine.Stat
	}{OK: true, Stat: stat}
}

type sourceParams struct {
	UUID   string `json:"uuid"`
	Source string `json:"source"`
	CellID string `json:"cellid"`
}

func (s *Server) engineComplete(ctx context.Context, raw json.RawMessage) any {
	var p sourceParams
	json.Unmarshal(raw, &p)

	_, span := observability.StartServerSpan(ctx, "evalgw.complete",
		observability.AttrEngineUUID.String(p.UUID),
		observability.AttrCallMethod.String("complete"),
	)
	defer span.End()

	result, err := s.manager.Complete(p.UUID, p.Source)
	if err != nil {
		observability.SetSpanError(span, err)
		return failResult{Reason: err.Error()}
	}
	span.SetAttributes(
		observability.AttrCallDurationMs.Float64(result.Time*1000),
		observability.AttrCallInterrupted.Bool(result.Interrupted),
	)
	observability.SetSpanOK(span)
	return struct {
		OK bool `json:"ok"`
		engine.Result
	}{OK: true, Result: result}
}

func (s *Server) engineEvaluate(ctx context.Context, raw json.RawMessage) any {
	var p sourceParams
	json.Unmarshal(raw, &p)

	_, span := observability.StartServerSpan(ctx, "evalgw.evaluate",
		observability.AttrEngineUUID.String(p.UUID),
		observability.AttrCallMethod.String("evaluate"),
		observability.AttrCellID.String(p.CellID),
	)
	defer span.End()

	result, err := s.manager.Evaluate(p.UUID, p.Source, p.CellID)
	if err != nil {
		observability.SetSpanError(span, err)
		return failResult{Reason: err.Error()}
	}
	span.SetAttributes(
		observability.AttrCallDurationMs.Float64(result.Time*1000),
		observability.AttrCallInterrupted.Bool(result.Interrupted),
		observability.AttrCallTimeout.Bool(result.Timeout),
	)
	observability.SetSpanOK(span)
	return struct {
		OK bool `json:"ok"`
		engine.Result
	}{OK: true, Result: result}
}

type interruptParams struct {
	UUID   string `json:"uuid"`
	CellID string `json:"cellid"`
}

func (s *Server) engineInterrupt(_ context.Context, raw json.RawMessage) any {
	var p interruptParams
	json.Unmarshal(raw, &p)

	status, err := s.manager.Interrupt(p.UUID, p.CellID)
	if err != nil {
		return failResult{Reason: err.Error()}
	}
	return okResult{OK: true, Status: status}
}

type procDescription struct {
	Name          string `json:"name"`
	Summary       string `json:"summary"`
	Authenticated bool   `json:"authenticated"`
}

func (s *Server) systemDescribe(_ context.Context, raw json.RawMessage) any {
	procs := []procDescription{
		{Name: "Engine.init", Summary: "Start a new engine instance."},
		{Name: "Engine.kill", Summary: "Terminate an engine instance."},
		{Name: "Engine.stat", Summary: "Return CPU/memory statistics for an engine."},
		{Name: "Engine.complete", Summary: "Complete a piece of source code."},
		{Name: "Engine.evaluate", Summary: "Evaluate a piece of source code."},
		{Name: "Engine.interrupt", Summary: "Interrupt a queued or in-flight evaluation."},
	}
	return struct {
		OK    bool              `json:"ok"`
		Procs []procDescription `json:"procs"`
	}{OK: true, Procs: procs}
}

// parseEngineArg decodes the `engine` parameter, which may be absent, a
// bare kind name, or {name, code}. Defaulting to "python" and rejecting
// malformed shapes mirrors EngineRunner._get_engine.
func parseEngineArg(raw json.RawMessage) (runner.EngineArgs, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return runner.EngineArgs{Name: "python"}, true
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return runner.EngineArgs{Name: name}, true
	}

	var obj struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return runner.EngineArgs{}, false
	}
	if obj.Name == "" {
		obj.Name = "python"
	}
	return runner.EngineArgs{Name: obj.Name, Code: obj.Code}, true
}

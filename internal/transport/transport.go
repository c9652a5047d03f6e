// Package transport implements the engine-facing local HTTP channel: one
// operation and one source string per request, one structured result per
// reply, no streaming.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oriys/evalgw/internal/engine"
)

// Request is the body POSTed to the engine's local listener.
type Request struct {
	Method string `json:"method"`
	Source string `json:"source"`
}

// Client speaks to one engine's local HTTP listener on loopback.
type Client struct {
	addr string
	http *http.Client
}

// NewClient returns a client bound to the engine listening on port.
func NewClient(port int) *Client {
	return &Client{
		addr: fmt.Sprintf("http://127.0.0.1:%d", port),
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
			},
		},
	}
}

// Call sends one request and decodes the structured reply. Errors are
// classified the way the dispatcher's pump expects: a transport-level
// failure is a "fault", a non-200 status is a "response-code".
func (c *Client) Call(ctx context.Context, method, source string) (engine.Result, error) {
	body, err := json.Marshal(Request{Method: method, Source: source})
	if err != nil {
		return engine.Result{}, fmt.Errorf("fault: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+"/"+method, bytes.NewReader(body))
	if err != nil {
		return engine.Result{}, fmt.Errorf("fault: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.Result{}, fmt.Errorf("fault: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return engine.Result{}, fmt.Errorf("response-code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.Result{}, fmt.Errorf("fault: %w", err)
	}

	var result engine.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return engine.Result{}, fmt.Errorf("fault: %w", err)
	}
	return result, nil
}

// Handler is the signature an engine-side interpreter host implements
// for one method (evaluate or complete).
type Handler func(ctx context.Context, source string) engine.Result

// Server hosts the engine-facing transport inside the child process:
// one HTTP listener and one handler per method. It does not write the
// readiness line; the hosting command prints that once NewServer has
// bound the port.
type Server struct {
	mux      *http.ServeMux
	listener net.Listener
}

// NewServer binds to the given port (0 lets the OS choose) and
// registers the evaluate/complete handlers.
func NewServer(port int, evaluate, complete Handler) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	register := func(path string, h Handler) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			var req Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			result := h(r.Context(), req.Source)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(result)
		})
	}
	register("/evaluate", evaluate)
	register("/complete", complete)

	return &Server{mux: mux, listener: ln}, nil
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Serve blocks, serving requests until the listener is closed.
func (s *Server) Serve() error {
	return http.Serve(s.listener, s.mux)
}

// Close shuts the listener down.
func (s *Server) Close() error {
	return s.listener.Close()
}

// FreePort binds to port 0 on loopback and releases it immediately, the
// same allocate-then-release dance the runner uses before spawning a
// child so the chosen port can be passed on the command line.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

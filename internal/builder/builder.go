// Package builder holds the per-engine-kind command-vector factories the
// runner uses to assemble a child's argv from its assigned port and
// optional preface source.
package builder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oriys/evalgw/internal/engine"
)

// Func builds a command-line argument vector for one engine kind given
// the port it must bind and the optional one-shot preface source.
type Func func(port int, code string) ([]string, error)

// Registry maps engine kind to its command-vector factory, the Go
// analogue of the original per-engine `builder(port, code)` modules.
type Registry struct {
	builders map[engine.Kind]Func
}

// NewRegistry returns a registry pre-populated with the built-in kinds.
// enginePath is the path to this project's own engine binary, used by
// the javascript builder.
func NewRegistry(enginePath string) *Registry {
	r := &Registry{builders: make(map[engine.Kind]Func)}
	r.Register(engine.KindPython, pythonBuilder)
	r.Register(engine.KindPython3, pythonBuilder)
	r.Register(engine.KindJavaScript, javascriptBuilder(enginePath))
	return r
}

// Register installs or overrides the factory for a kind.
func (r *Registry) Register(kind engine.Kind, fn Func) {
	r.builders[kind] = fn
}

// Unregister removes a kind's factory, so a subsequent Build/Known call
// reports it as unknown. Used to honor a config-disabled engine kind:
// the registry, not just the config struct, must refuse it.
func (r *Registry) Unregister(kind engine.Kind) {
	delete(r.builders, kind)
}

// Build resolves a kind's factory and invokes it, returning bad-engine
// when the kind is unknown.
func (r *Registry) Build(kind engine.Kind, port int, code string) ([]string, error) {
	fn, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %s", engine.ReasonBadEngine, kind)
	}
	return fn(port, code)
}

// Known reports whether kind has a registered factory.
func (r *Registry) Known(kind engine.Kind) bool {
	_, ok := r.builders[kind]
	return ok
}

// pythonBuilder launches a real python3 subprocess running the embedded
// bootstrap script, the same shape as the original `python3 -c boot %
// {port, code}` builder, except the bootstrap now speaks the local JSON
// transport instead of XML-RPC.
func pythonBuilder(port int, code string) ([]string, error) {
	script := fmt.Sprintf(pythonBootstrap, port, pyRepr(code))
	return []string{"python3", "-c", script}, nil
}

// javascriptBuilder execs this project's own engine binary, which hosts
// a goja VM behind the same local HTTP transport the python children
// use.
func javascriptBuilder(enginePath string) Func {
	return func(port int, code string) ([]string, error) {
		return []string{
			enginePath,
			"--kind", "javascript",
			"--port", strconv.Itoa(port),
			"--code", code,
		}, nil
	}
}

// pyRepr renders a Go string as a single-quoted Python string literal,
// escaping backslashes, quotes and newlines so arbitrary preface source
// can be embedded into the bootstrap script template.
func pyRepr(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

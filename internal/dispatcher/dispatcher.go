// Package dispatcher implements the per-engine request broker: a FIFO
// queue, one in-flight slot, stdio drainage, per-call timeouts and
// cooperative interruption.
package dispatcher

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oriys/evalgw/internal/engine"
	"github.com/oriys/evalgw/internal/logging"
	"github.com/oriys/evalgw/internal/metrics"
	"github.com/oriys/evalgw/internal/transport"
)

// Options configures a Dispatcher's timing and observability.
type Options struct {
	EvaluateTimeout time.Duration
	Metrics         *metrics.Metrics
	RequestLog      *logging.Logger
}

// Callbacks lets the process manager observe terminal events without
// the dispatcher holding a back-reference to the registry.
type Callbacks struct {
	// OnRemove is invoked exactly once, after a graceful stop has
	// reaped the child and removed its working directory. Unexpected
	// deaths do NOT call this; the registry entry is left DEAD until
	// the next client call observes and evicts it.
	OnRemove func()
}

// stopRequest remembers the continuations of a pending `stop` so the
// death watcher can reply once the child is reaped.
type stopRequest struct {
	okay func(string)
	fail func(string)
}

// Dispatcher owns exactly one child process and its in-flight slot.
type Dispatcher struct {
	mu sync.Mutex

	desc   *engine.Descriptor
	client *transport.Client
	out    *stdioBuffer
	err    *stdioBuffer

	state    engine.State
	queue    []*engine.Call
	inFlight *engine.Call
	index    int64

	timer      *time.Timer
	timerFired atomic.Bool

	stop *stopRequest

	opts Options
	cb   Callbacks
}

// New wraps a freshly-started child descriptor in a Dispatcher, taking
// over the stdout/stderr readers the runner used to scan for the
// readiness token so no bytes are lost in the handover.
func New(desc *engine.Descriptor, stdout, stderr io.Reader, opts Options, cb Callbacks) *Dispatcher {
	d := &Dispatcher{
		desc:   desc,
		client: transport.NewClient(desc.Port),
		out:    newStdioBuffer(),
		err:    newStdioBuffer(),
		state:  engine.StateReady,
		opts:   opts,
		cb:     cb,
	}

	go d.out.pump(stdout, d.onStdoutClosed)
	go d.err.pump(stderr, func() {})
	go d.waitExit()

	return d
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() engine.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stat returns a CPU/memory snapshot for the child process.
func (d *Dispatcher) Stat() (engine.Stat, error) {
	return statOf(d.desc.Cmd.Process.Pid)
}

// Complete enqueues a completion request, refusing with "busy" while an
// evaluation is in flight so completion never reorders around it.
func (d *Dispatcher) Complete(source string, onResult func(engine.Result), onError func(string)) {
	d.mu.Lock()
	if d.state == engine.StateEvaluating {
		d.mu.Unlock()
		onError(engine.ReasonBusy)
		return
	}
	d.enqueueLocked(&engine.Call{Method: "complete", Source: source, OnResult: onResult, OnError: onError})
	d.mu.Unlock()
	d.pump()
}

// Evaluate enqueues an evaluation request; multiple evaluations may
// queue behind one another.
func (d *Dispatcher) Evaluate(source, cellID string, onResult func(engine.Result), onError func(string)) {
	d.mu.Lock()
	d.enqueueLocked(&engine.Call{Method: "evaluate", Source: source, CellID: cellID, OnResult: onResult, OnError: onError})
	d.mu.Unlock()
	d.pump()
}

func (d *Dispatcher) enqueueLocked(c *engine.Call) {
	c.MarkEnqueued(time.Now())
	d.queue = append(d.queue, c)
	if d.opts.Metrics != nil {
		d.opts.Metrics.SetQueueDepth(d.desc.Identifier, float64(len(d.queue)))
	}
}

// Interrupt cancels a queued call by cell id, or signals the child to
// interrupt whatever is in flight.
func (d *Dispatcher) Interrupt(cellID string) string {
	d.mu.Lock()

	if d.inFlight == nil {
		d.mu.Unlock()
		return engine.ReasonNotEvaluating
	}

	if cellID != "" && cellID != d.inFlight.CellID {
		for i, c := range d.queue {
			if c.CellID == cellID {
				d.queue = append(d.queue[:i], d.queue[i+1:]...)
				d.mu.Unlock()

				if d.opts.Metrics != nil {
					d.opts.Metrics.RecordInterrupt(string(d.desc.Kind), "queued")
				}

				c.OnResult(engine.Result{
					Source:      c.Source,
					Time:        0,
					Out:         "",
					Err:         "",
					Plots:       []engine.Plot{},
					Traceback:   engine.NoTraceback,
					Interrupted: true,
				})
				return engine.ReasonInterrupted
			}
		}
	}

	d.mu.Unlock()

	if d.opts.Metrics != nil {
		d.opts.Metrics.RecordInterrupt(string(d.desc.Kind), "in_flight")
	}
	d.sendSignal(syscall.SIGINT)
	return engine.ReasonInterrupted
}

// Stop transitions the dispatcher to TERMINATING and asks the child to
// exit; the death watcher replies once the child is reaped.
func (d *Dispatcher) Stop(okay func(string), fail func(string)) {
	d.mu.Lock()
	if d.state == engine.StateTerminating {
		d.mu.Unlock()
		fail(engine.ReasonTerminating)
		return
	}
	d.state = engine.StateTerminating
	d.stop = &stopRequest{okay: okay, fail: fail}
	d.mu.Unlock()

	d.sendSignal(syscall.SIGTERM)
}

// Kill force-kills the child, but only while READY (used by killall).
func (d *Dispatcher) Kill() {
	d.mu.Lock()
	ready := d.state == engine.StateReady
	d.mu.Unlock()
	if ready {
		d.desc.Cmd.Process.Kill()
	}
}

func (d *Dispatcher) sendSignal(sig syscall.Signal) {
	proc := d.desc.Cmd.Process
	if proc != nil {
		proc.Signal(sig)
	}
}

// pump dispatches the next queued call if nothing is in flight.
func (d *Dispatcher) pump() {
	d.mu.Lock()
	if d.inFlight != nil || len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}

	call := d.queue[0]
	d.queue = d.queue[1:]
	d.inFlight = call
	d.state = engine.StateEvaluating

	if d.opts.Metrics != nil {
		d.opts.Metrics.SetQueueDepth(d.desc.Identifier, float64(len(d.queue)))
	}

	if d.opts.EvaluateTimeout > 0 {
		d.timerFired.Store(false)
		d.timer = time.AfterFunc(d.opts.EvaluateTimeout, func() {
			d.timerFired.Store(true)
			if d.opts.Metrics != nil {
				d.opts.Metrics.RecordTimeout(string(d.desc.Kind))
			}
			d.sendSignal(syscall.SIGINT)
		})
	}
	d.mu.Unlock()

	go d.dispatch(call)
}

// dispatch sends one call over the transport and processes its reply;
// it is the body of the "pump" algorithm described for evaluate/reply.
func (d *Dispatcher) dispatch(call *engine.Call) {
	started := time.Now()
	result, err := d.client.Call(context.Background(), call.Method, call.Source)

	d.mu.Lock()
	timedOut := false
	if d.timer != nil {
		if !d.timer.Stop() && d.timerFired.Load() {
			timedOut = true
		}
	}
	d.inFlight = nil
	if d.state == engine.StateEvaluating {
		d.state = engine.StateReady
	}
	d.mu.Unlock()

	// Re-arm before invoking the continuation so the next call
	// dispatches even if the continuation itself panics or blocks.
	d.pump()

	if err != nil {
		if d.opts.Metrics != nil {
			d.opts.Metrics.RecordCall(string(d.desc.Kind), call.Method, "fault", 0)
		}
		call.OnError(err.Error())
		return
	}

	// index advances once per evaluation or inspection, never per
	// completion: _examples/original_source/onlinelab's complete() never
	// touches the engine's index counter.
	if call.Method == "evaluate" {
		d.index++
		result.Index = d.index
	}
	if timedOut {
		result.Timeout = true
	}
	if result.Traceback == nil {
		result.Traceback = engine.NoTraceback
	}

	result.Out = d.out.drain()
	result.Err = d.err.drain()
	result.Memory = rssBytes(d.desc.Cmd.Process.Pid)

	outcome := "ok"
	if result.Interrupted {
		outcome = "interrupted"
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.RecordCall(string(d.desc.Kind), call.Method, outcome, float64(time.Since(started).Milliseconds()))
	}
	if d.opts.RequestLog != nil {
		d.opts.RequestLog.Log(&logging.EvalLog{
			Identifier:  d.desc.Identifier,
			Kind:        string(d.desc.Kind),
			Method:      call.Method,
			Index:       d.index,
			DurationMs:  time.Since(started).Milliseconds(),
			Success:     err == nil,
			Interrupted: result.Interrupted,
			Timeout:     result.Timeout,
			InputSize:   len(call.Source),
		})
	}

	call.OnResult(result)
}

// waitExit blocks for the child's exit and reconciles dispatcher state,
// the one place an unexpected death is detected and handled.
func (d *Dispatcher) waitExit() {
	d.desc.Cmd.Wait()

	d.mu.Lock()
	terminating := d.state == engine.StateTerminating
	pending := d.inFlight
	stopReq := d.stop
	d.state = engine.StateDead
	d.inFlight = nil
	d.mu.Unlock()

	os.RemoveAll(d.desc.WorkDir)

	if pending != nil {
		pending.OnError(engine.ReasonDied)
	}

	if d.opts.Metrics != nil {
		reason := "crashed"
		if terminating {
			reason = "stopped"
		}
		d.opts.Metrics.RecordEngineDeath(string(d.desc.Kind), reason)
	}

	if terminating && stopReq != nil {
		stopReq.okay(engine.ReasonTerminated)
		if d.cb.OnRemove != nil {
			d.cb.OnRemove()
		}
	}
}

// onStdoutClosed is invoked by the stdout pump goroutine when the pipe
// reaches EOF or errors. Death is detected by waitExit, which performs
// the state transition; this only logs.
func (d *Dispatcher) onStdoutClosed() {
	logging.Op().Debug("engine stdout closed", "identifier", d.desc.Identifier)
}

// stdioBuffer accumulates bytes read from a child's stream so the
// dispatcher can drain and reset it once per reply.
type stdioBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func newStdioBuffer() *stdioBuffer { return &stdioBuffer{} }

func (s *stdioBuffer) pump(r io.Reader, onEOF func()) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(chunk[:n])
			s.mu.Unlock()
		}
		if err != nil {
			onEOF()
			return
		}
	}
}

func (s *stdioBuffer) drain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf.String()
	s.buf.Reset()
	return out
}

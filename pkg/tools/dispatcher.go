package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// FailureText is the result sent to the model when a tool cannot be
// executed. The model must always receive a response to avoid stalling the
// conversation turn, so failures are reported as text, never as errors.
const FailureText = "Tool execution failed."

// DefaultMaxConcurrent bounds in-flight tool calls.
const DefaultMaxConcurrent = 8

// ResultSender delivers a tool result back over the transport.
type ResultSender interface {
	SendToolResult(id, result string) error
}

// Dispatcher routes tool calls to registered handlers and sends each
// result back exactly once, correlated by call id. Handlers run
// concurrently, bounded by a semaphore; each call is independent and its
// failure is contained to a textual failure result.
type Dispatcher struct {
	logger *slog.Logger
	sender ResultSender
	sem    chan struct{}

	mu     sync.RWMutex
	tools  map[string]Tool
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatched atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
}

// NewDispatcher creates a Dispatcher that sends results through sender.
// maxConcurrent <= 0 selects DefaultMaxConcurrent.
func NewDispatcher(sender ResultSender, maxConcurrent int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger: logger,
		sender: sender,
		sem:    make(chan struct{}, maxConcurrent),
		tools:  make(map[string]Tool),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a tool to the registry. Later registrations with the same
// name replace earlier ones.
func (d *Dispatcher) Register(tool Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[tool.Name] = tool
}

// Declared returns the registered tools, for building the session's tool
// declarations.
func (d *Dispatcher) Declared() []Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	return out
}

// Dispatch runs the call on its own goroutine and returns immediately.
// It never blocks the caller: execution slots are acquired inside the
// spawned goroutine.
func (d *Dispatcher) Dispatch(call ToolCall) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.dropped.Add(1)
		return
	}
	d.mu.RUnlock()

	d.dispatched.Add(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-d.ctx.Done():
			d.dropped.Add(1)
			return
		}

		result := d.invoke(call)
		d.deliver(call.ID, result)
	}()
}

// invoke runs the handler, containing every failure mode (unknown tool,
// handler error, handler panic) to a textual failure result.
func (d *Dispatcher) invoke(call ToolCall) (result string) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("tool handler panicked",
				"tool", call.Name,
				"call_id", call.ID,
				"panic", fmt.Sprint(r),
			)
			result = FailureText
		}
	}()

	d.mu.RLock()
	tool, ok := d.tools[call.Name]
	d.mu.RUnlock()

	if !ok || tool.Handler == nil {
		d.failed.Add(1)
		d.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return FailureText
	}

	text, err := tool.Handler(d.ctx, call.Arguments)
	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("tool handler failed",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
		)
		return FailureText
	}
	return text
}

// deliver sends the result, echoing the call id verbatim. Late completions
// after Close are dropped silently; they are never retried and never
// escalate.
func (d *Dispatcher) deliver(id, result string) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()

	if closed {
		d.dropped.Add(1)
		return
	}

	if err := d.sender.SendToolResult(id, result); err != nil {
		d.dropped.Add(1)
		d.logger.Debug("dropping tool result, transport unavailable",
			"call_id", id,
			"error", err,
		)
	}
}

// Close stops accepting calls and drops results from handlers that finish
// later. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
}

// Wait blocks until all in-flight handlers have finished. Intended for
// tests and orderly shutdown; results of late handlers are still dropped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Failed:     d.failed.Load(),
		Dropped:    d.dropped.Load(),
	}
}

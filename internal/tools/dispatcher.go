package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mindwell-ai/conductor/internal/logger"
)

// Dispatcher detects tool calls in model output, executes them behind
// per-tool guards and shapes the feedback that drives the bounded tool
// loop in the streaming pipelines.
type Dispatcher struct {
	registry *Registry
	log      *logger.Logger

	execTimeout time.Duration
	maxRounds   int
	wallBudget  time.Duration

	// onExecution is invoked once per Execute with the tool name and a
	// "success", "error" or "cached" outcome; may be nil.
	onExecution func(tool, outcome string)

	guardsMu sync.Mutex
	guards   map[string]*guard
}

// Outcome is the result of one dispatch pass over model output.
type Outcome struct {
	HasToolCall    bool
	ToolCall       *Call
	Record         *Record
	ResultText     string // feedback fed back to the model
	ShouldContinue bool
	Err            error
}

// Options tune a dispatcher.
type Options struct {
	ExecTimeout time.Duration
	MaxRounds   int
	WallBudget  time.Duration
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *Registry, opts Options, log *logger.Logger) *Dispatcher {
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 30 * time.Second
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 5
	}
	if opts.WallBudget <= 0 {
		opts.WallBudget = 120 * time.Second
	}
	return &Dispatcher{
		registry:    registry,
		log:         log.WithComponent("tool-dispatcher"),
		execTimeout: opts.ExecTimeout,
		maxRounds:   opts.MaxRounds,
		wallBudget:  opts.WallBudget,
		guards:      make(map[string]*guard),
	}
}

// SetExecutionCallback registers a counter hook for tool executions.
func (d *Dispatcher) SetExecutionCallback(fn func(tool, outcome string)) {
	d.onExecution = fn
}

func (d *Dispatcher) recordExecution(tool, outcome string) {
	if d.onExecution != nil {
		d.onExecution(tool, outcome)
	}
}

// NewLoop returns a loop controller bound to this dispatcher's caps.
func (d *Dispatcher) NewLoop() *Loop {
	return &Loop{
		maxRounds: d.maxRounds,
		deadline:  time.Now().Add(d.wallBudget),
	}
}

// Loop enforces the tool-round iteration cap and wall-clock budget.
type Loop struct {
	maxRounds int
	deadline  time.Time
	round     int
}

// Next claims the next round. Returns false when either limit trips.
func (l *Loop) Next() bool {
	if l.round >= l.maxRounds {
		return false
	}
	if time.Now().After(l.deadline) {
		return false
	}
	l.round++
	return true
}

// Round returns the current 1-indexed round.
func (l *Loop) Round() int { return l.round }

// Detect finds a tool call in model output. Native function calls take
// priority; otherwise the text is scanned for an embedded JSON payload.
// Extraction failure is not an error: the output is treated as plain text.
func (d *Dispatcher) Detect(text string, native []Call) (*Call, bool) {
	if len(native) > 0 {
		call := native[0]
		return &call, true
	}
	return ExtractEmbeddedCall(text)
}

// Dispatch executes one detected call and builds the model feedback.
// userMessage is the user's original request; its multi-step cue words
// decide whether the feedback tells the model to proceed or to finish.
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call, round int, userMessage string) Outcome {
	record := d.Execute(ctx, call, round)

	outcome := Outcome{
		HasToolCall:    true,
		ToolCall:       call,
		Record:         &record,
		ShouldContinue: true,
	}

	if record.Success {
		outcome.ResultText = d.successFeedback(call, record, userMessage)
	} else {
		// Handler errors are not surfaced as SSE errors; the model gets one
		// retry opportunity within the bounded loop.
		outcome.ResultText = fmt.Sprintf(
			"Tool %s failed: %s\nYou may retry the tool once with corrected input, or answer without it.",
			call.Tool, record.Output)
	}
	return outcome
}

// Execute runs one call behind its guard with the per-tool timeout.
func (d *Dispatcher) Execute(ctx context.Context, call *Call, round int) Record {
	start := time.Now()
	record := Record{Round: round, Tool: call.Tool, Input: call.Input}

	tool, exists := d.registry.Get(call.Tool)
	if !exists {
		record.Output = fmt.Sprintf("unknown tool %q", call.Tool)
		d.recordExecution(call.Tool, "error")
		return record
	}

	g := d.guardFor(call.Tool)

	if output, ok := g.cachedOutput(call.Input); ok {
		d.log.Debug("tool cache hit", slog.String("tool", call.Tool))
		record.Output = output
		record.Success = true
		record.ElapsedMs = time.Since(start).Milliseconds()
		d.recordExecution(call.Tool, "cached")
		return record
	}

	if err := g.allow(); err != nil {
		record.Output = err.Error()
		d.recordExecution(call.Tool, "error")
		return record
	}

	execCtx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()

	output, err := tool.Execute(execCtx, call.Input)
	record.ElapsedMs = time.Since(start).Milliseconds()

	if err != nil {
		g.recordFailure()
		record.Output = err.Error()
		d.recordExecution(call.Tool, "error")
		d.log.Warn("tool execution failed",
			slog.String("tool", call.Tool),
			slog.Int("round", round),
			slog.String("error", err.Error()))
		return record
	}

	g.recordSuccess()
	g.storeOutput(call.Input, output)
	record.Output = output
	record.Success = true
	d.recordExecution(call.Tool, "success")

	d.log.Info("tool executed",
		slog.String("tool", call.Tool),
		slog.Int("round", round),
		slog.Int64("elapsed_ms", record.ElapsedMs))
	return record
}

// multiStepCues are the words in a user message that indicate a multi-step
// request, e.g. "search X then summarize".
var multiStepCues = []string{"then", "next", "after", "also"}

// HasMultiStepCues reports whether the user's message phrases a multi-step
// request.
func HasMultiStepCues(userMessage string) bool {
	lower := " " + strings.ToLower(userMessage) + " "
	for _, cue := range multiStepCues {
		if strings.Contains(lower, " "+cue+" ") {
			return true
		}
	}
	return false
}

// successFeedback formats a successful result for the model, steering it to
// the next step for multi-step requests and to a final answer otherwise.
func (d *Dispatcher) successFeedback(call *Call, record Record, userMessage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %s result:\n%s\n\n", call.Tool, record.Output)
	if HasMultiStepCues(userMessage) {
		b.WriteString("The user's request has further steps. Proceed to the next step, calling another tool if needed.")
	} else {
		b.WriteString("Use this result to answer the user's request. Do not call the tool again unless strictly necessary.")
	}
	return b.String()
}

func (d *Dispatcher) guardFor(name string) *guard {
	d.guardsMu.Lock()
	defer d.guardsMu.Unlock()
	g, ok := d.guards[name]
	if !ok {
		g = newGuard(30, 3, 30*time.Second, 5*time.Minute)
		d.guards[name] = g
	}
	return g
}

package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finmesh/finmesh/config"
	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/internal/util"
	"github.com/finmesh/finmesh/logging"
)

// Sandbox owns the tool registry, per-tool metrics and the capped execution
// history. All public methods are safe for concurrent use; returned maps and
// slices are copies.
type Sandbox struct {
	mu      sync.RWMutex
	tools   map[string]Definition
	metrics map[string]*Metrics
	history []ExecutionResult // ring buffer, oldest first
	cfg     config.SandboxConfig
	logger  logging.Logger
}

// Options configures a Sandbox.
type Options struct {
	Config config.SandboxConfig
	Logger logging.Logger
}

// NewSandbox constructs a sandbox with optional overrides.
func NewSandbox(optFns ...func(o *Options)) *Sandbox {
	opts := Options{
		Config: config.Default().Sandbox,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Sandbox{
		tools:   make(map[string]Definition),
		metrics: make(map[string]*Metrics),
		history: make([]ExecutionResult, 0, opts.Config.HistorySize),
		cfg:     opts.Config,
		logger:  opts.Logger,
	}
}

// Register adds a capability to the sandbox. A missing execute function is a
// Validation error. Re-registering an existing name overwrites the previous
// definition; the overwrite is logged so it is always an explicit event.
func (s *Sandbox) Register(def Definition) error {
	if def.Name == "" {
		return core.NewError(core.KindValidation, "tool name must not be empty")
	}
	if def.Execute == nil {
		return core.NewError(core.KindValidation, "tool %q has no execute function", def.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[def.Name]; exists {
		s.logger.Warn("Overwriting existing tool registration", "tool", def.Name)
	}
	s.tools[def.Name] = def
	if _, ok := s.metrics[def.Name]; !ok {
		s.metrics[def.Name] = &Metrics{}
	}
	s.logger.Info("Tool registered", "tool", def.Name, "category", def.Category, "risk_level", string(def.RiskLevel))
	return nil
}

// Execute runs a registered tool through the full sandbox pipeline:
// lookup, schema validation, auth check, timeout-raced invocation, then
// metrics and history recording. It never returns an error; every failure
// mode is encoded in the ExecutionResult.
func (s *Sandbox) Execute(ctx context.Context, name string, params map[string]any, execCtx ExecutionContext) ExecutionResult {
	start := time.Now()
	if execCtx.Timestamp.IsZero() {
		execCtx.Timestamp = start.UTC()
	}

	s.mu.RLock()
	def, ok := s.tools[name]
	s.mu.RUnlock()

	if !ok {
		return s.record(failure(name, core.KindNotFound, fmt.Sprintf("tool %q is not registered", name), start))
	}

	if def.Parameters != nil {
		if err := util.ValidateParameters(params, def.Parameters); err != nil {
			return s.record(failure(name, core.KindValidation, err.Error(), start))
		}
	}

	if def.RequiresAuth && execCtx.UserID == "" {
		return s.record(failure(name, core.KindAuthRequired, fmt.Sprintf("tool %q requires an authenticated user", name), start))
	}

	result, err := s.invoke(ctx, def, params, execCtx)
	if err != nil {
		res := failure(name, core.KindOf(err), err.Error(), start)
		if te, okErr := err.(*core.Error); okErr {
			res.Error = te.Message
		}
		return s.record(res)
	}

	return s.record(ExecutionResult{
		Tool:      name,
		Success:   true,
		Result:    result,
		Duration:  time.Since(start),
		Timestamp: start.UTC(),
	})
}

// invoke runs the execute function, racing it against the context timeout
// when one is set. The underlying call is not cancelled on timeout; its
// eventual result is discarded.
func (s *Sandbox) invoke(ctx context.Context, def Definition, params map[string]any, execCtx ExecutionContext) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	run := func() (res outcome) {
		defer func() {
			if r := recover(); r != nil {
				res = outcome{err: core.NewError(core.KindTransitionFailure, "tool %q panicked: %v", def.Name, r)}
			}
		}()
		v, err := def.Execute(ctx, params, execCtx)
		return outcome{result: v, err: err}
	}

	if execCtx.Timeout <= 0 {
		out := run()
		return out.result, out.err
	}

	done := make(chan outcome, 1)
	go func() { done <- run() }()

	timer := time.NewTimer(execCtx.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return nil, core.NewError(core.KindTimeout, "tool %q timed out after %s", def.Name, execCtx.Timeout)
	case <-ctx.Done():
		return nil, core.WrapError(core.KindTimeout, ctx.Err(), "tool %q cancelled", def.Name)
	}
}

// record appends the result to the history ring and folds it into the
// per-tool rolling metrics (incremental mean duration).
func (s *Sandbox) record(res ExecutionResult) ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) >= s.cfg.HistorySize {
		s.history = s.history[1:]
	}
	s.history = append(s.history, res)

	m, ok := s.metrics[res.Tool]
	if !ok {
		m = &Metrics{}
		s.metrics[res.Tool] = m
	}
	m.Executions++
	if !res.Success {
		m.Errors++
	}
	m.AvgDuration += (res.Duration - m.AvgDuration) / time.Duration(m.Executions)
	m.SuccessRate = float64(m.Executions-m.Errors) / float64(m.Executions)
	m.LastExecuted = res.Timestamp

	s.logger.Debug("Tool execution recorded",
		"tool", res.Tool, "success", res.Success, "duration", res.Duration, "error_kind", string(res.ErrorKind))
	return res
}

func failure(name string, kind core.ErrorKind, msg string, start time.Time) ExecutionResult {
	return ExecutionResult{
		Tool:      name,
		Success:   false,
		ErrorKind: kind,
		Error:     msg,
		Duration:  time.Since(start),
		Timestamp: start.UTC(),
	}
}

// Has reports whether a tool is registered under name.
func (s *Sandbox) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[name]
	return ok
}

// Definitions returns a snapshot of all registered definitions sorted by name.
// Execute functions are omitted from the copies.
func (s *Sandbox) Definitions() []Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]Definition, 0, len(s.tools))
	for _, def := range s.tools {
		def.Execute = nil
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ListByCategory returns the names of tools in the given category, sorted.
func (s *Sandbox) ListByCategory(category string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, def := range s.tools {
		if def.Category == category {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ToolMetrics returns a copy of the rolling metrics map keyed by tool name.
func (s *Sandbox) ToolMetrics() map[string]Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Metrics, len(s.metrics))
	for name, m := range s.metrics {
		out[name] = *m
	}
	return out
}

// History returns a copy of the execution history, oldest first.
func (s *Sandbox) History() []ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ExecutionResult, len(s.history))
	copy(out, s.history)
	return out
}

// Health reports whether every tool with at least the configured minimum
// number of executions maintains the minimum success rate. Issues name the
// offending tools.
func (s *Sandbox) Health() (bool, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var issues []string
	for name, m := range s.metrics {
		if m.Executions >= s.cfg.HealthMinExecutions && m.SuccessRate < s.cfg.HealthMinSuccessRate {
			issues = append(issues, fmt.Sprintf("tool %q success rate %.0f%% below %.0f%%",
				name, m.SuccessRate*100, s.cfg.HealthMinSuccessRate*100))
		}
	}
	sort.Strings(issues)
	return len(issues) == 0, issues
}

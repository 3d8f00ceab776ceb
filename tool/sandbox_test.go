package tool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmesh/finmesh/config"
	"github.com/finmesh/finmesh/core"
)

func intSchema(field string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "integer"},
		},
		"required": []string{field},
	}
}

func countingTool(name string, calls *int64) Definition {
	return Definition{
		Name:        name,
		Description: "counts invocations",
		Category:    "test",
		RiskLevel:   RiskLow,
		Parameters:  intSchema("amount"),
		Execute: func(_ context.Context, args map[string]any, _ ExecutionContext) (any, error) {
			atomic.AddInt64(calls, 1)
			return args["amount"], nil
		},
	}
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	s := NewSandbox()

	err := s.Register(Definition{Name: "", Execute: func(context.Context, map[string]any, ExecutionContext) (any, error) { return nil, nil }})
	assert.True(t, core.IsKind(err, core.KindValidation))

	err = s.Register(Definition{Name: "no_execute"})
	assert.True(t, core.IsKind(err, core.KindValidation))
}

func TestExecuteUnknownToolIsNotFound(t *testing.T) {
	s := NewSandbox()
	res := s.Execute(context.Background(), "missing", nil, ExecutionContext{})
	assert.False(t, res.Success)
	assert.Equal(t, core.KindNotFound, res.ErrorKind)
}

func TestValidationFailureNeverInvokesTool(t *testing.T) {
	var calls int64
	s := NewSandbox()
	require.NoError(t, s.Register(countingTool("add_expense", &calls)))

	res := s.Execute(context.Background(), "add_expense", map[string]any{"amount": "not a number"}, ExecutionContext{})
	assert.False(t, res.Success)
	assert.Equal(t, core.KindValidation, res.ErrorKind)
	assert.EqualValues(t, 0, atomic.LoadInt64(&calls))

	res = s.Execute(context.Background(), "add_expense", map[string]any{}, ExecutionContext{})
	assert.False(t, res.Success)
	assert.Equal(t, core.KindValidation, res.ErrorKind)
	assert.EqualValues(t, 0, atomic.LoadInt64(&calls))

	res = s.Execute(context.Background(), "add_expense", map[string]any{"amount": 42}, ExecutionContext{})
	assert.True(t, res.Success)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestAuthRequiredWithoutUser(t *testing.T) {
	s := NewSandbox()
	require.NoError(t, s.Register(Definition{
		Name:         "link_account",
		Category:     "banking",
		RiskLevel:    RiskHigh,
		RequiresAuth: true,
		Execute: func(context.Context, map[string]any, ExecutionContext) (any, error) {
			return "linked", nil
		},
	}))

	res := s.Execute(context.Background(), "link_account", nil, ExecutionContext{})
	assert.False(t, res.Success)
	assert.Equal(t, core.KindAuthRequired, res.ErrorKind)

	res = s.Execute(context.Background(), "link_account", nil, ExecutionContext{UserID: "u1"})
	assert.True(t, res.Success)
	assert.Equal(t, "linked", res.Result)
}

func TestTimeoutRace(t *testing.T) {
	s := NewSandbox()
	require.NoError(t, s.Register(Definition{
		Name: "slow",
		Execute: func(context.Context, map[string]any, ExecutionContext) (any, error) {
			time.Sleep(5 * time.Second)
			return "late", nil
		},
	}))

	start := time.Now()
	res := s.Execute(context.Background(), "slow", nil, ExecutionContext{Timeout: 100 * time.Millisecond})
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, core.KindTimeout, res.ErrorKind)
	assert.Less(t, elapsed, time.Second, "timeout should win the race well before the tool finishes")
}

func TestPanicIsConvertedToFailureResult(t *testing.T) {
	s := NewSandbox()
	require.NoError(t, s.Register(Definition{
		Name: "explode",
		Execute: func(context.Context, map[string]any, ExecutionContext) (any, error) {
			panic("boom")
		},
	}))

	res := s.Execute(context.Background(), "explode", nil, ExecutionContext{})
	assert.False(t, res.Success)
	assert.Equal(t, core.KindTransitionFailure, res.ErrorKind)
	assert.Contains(t, res.Error, "boom")
}

func TestMetricsAccumulate(t *testing.T) {
	s := NewSandbox()
	fail := errors.New("downstream unavailable")
	shouldFail := false
	require.NoError(t, s.Register(Definition{
		Name: "flaky",
		Execute: func(context.Context, map[string]any, ExecutionContext) (any, error) {
			if shouldFail {
				return nil, fail
			}
			return "ok", nil
		},
	}))

	for i := 0; i < 3; i++ {
		s.Execute(context.Background(), "flaky", nil, ExecutionContext{})
	}
	shouldFail = true
	s.Execute(context.Background(), "flaky", nil, ExecutionContext{})

	m := s.ToolMetrics()["flaky"]
	assert.Equal(t, 4, m.Executions)
	assert.Equal(t, 1, m.Errors)
	assert.InDelta(t, 0.75, m.SuccessRate, 1e-9)
	assert.False(t, m.LastExecuted.IsZero())
}

func TestHistoryRingBufferCap(t *testing.T) {
	s := NewSandbox(func(o *Options) {
		o.Config = config.SandboxConfig{HistorySize: 5, HealthMinExecutions: 5, HealthMinSuccessRate: 0.8}
	})
	var calls int64
	require.NoError(t, s.Register(countingTool("echo", &calls)))

	for i := 0; i < 8; i++ {
		s.Execute(context.Background(), "echo", map[string]any{"amount": i}, ExecutionContext{})
	}

	hist := s.History()
	require.Len(t, hist, 5)
	// Oldest entries were dropped; the survivors are the last five.
	assert.Equal(t, 3, hist[0].Result)
	assert.Equal(t, 7, hist[4].Result)
}

func TestHealthFlagsFailingTools(t *testing.T) {
	s := NewSandbox()
	require.NoError(t, s.Register(Definition{
		Name: "broken",
		Execute: func(context.Context, map[string]any, ExecutionContext) (any, error) {
			return nil, errors.New("always fails")
		},
	}))

	healthy, issues := s.Health()
	assert.True(t, healthy, "fewer than the minimum executions should not flag health")
	assert.Empty(t, issues)

	for i := 0; i < 5; i++ {
		s.Execute(context.Background(), "broken", nil, ExecutionContext{})
	}
	healthy, issues = s.Health()
	assert.False(t, healthy)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "broken")
}

func TestDefinitionsAndCategories(t *testing.T) {
	var calls int64
	s := NewSandbox()
	require.NoError(t, s.Register(countingTool("b_tool", &calls)))
	require.NoError(t, s.Register(Definition{
		Name:     "a_tool",
		Category: "budgeting",
		Execute:  func(context.Context, map[string]any, ExecutionContext) (any, error) { return nil, nil },
	}))

	defs := s.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "a_tool", defs[0].Name)
	assert.Nil(t, defs[0].Execute)

	assert.Equal(t, []string{"a_tool"}, s.ListByCategory("budgeting"))
	assert.True(t, s.Has("b_tool"))
	assert.False(t, s.Has("c_tool"))
}

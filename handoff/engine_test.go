package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmesh/finmesh/config"
	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/memory"
)

type stubAgent struct {
	name  string
	typ   string
	ready bool
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Type() string        { return s.typ }
func (s *stubAgent) Description() string { return "stub " + s.name }
func (s *stubAgent) Ready() bool         { return s.ready }
func (s *stubAgent) Run(context.Context, string, *core.Invocation) (*core.AgentResponse, error) {
	return &core.AgentResponse{Success: true, Response: "stub reply from " + s.name}, nil
}

func okInvoker() Invoker {
	return InvokerFunc(func(_ context.Context, agentName, _ string, _ *core.Invocation) (*core.AgentResponse, error) {
		return &core.AgentResponse{Success: true, Response: "handled by " + agentName}, nil
	})
}

func newTestEngine(t *testing.T, optFns ...func(o *Options)) (*Engine, *memory.InMemoryStore) {
	t.Helper()
	registry := core.NewRegistry()
	for _, name := range []string{"budget_coach", "transaction_analyst", "goal_planner", "advisor"} {
		registry.Register(&stubAgent{name: name, typ: name, ready: true})
	}
	registry.Register(&stubAgent{name: "sleepy", typ: "advisor", ready: false})

	store := memory.NewInMemoryStore()
	assembler := memory.NewAssembler(store)
	engine := NewEngine(registry, assembler, optFns...)
	engine.SetInvoker(okInvoker())
	return engine, store
}

func medium(from, to, userID string) Request {
	return Request{
		FromAgent: from, ToAgent: to, UserID: userID, SessionID: "s1",
		Message: "please take over", Reason: "specialist needed", Priority: PriorityMedium,
	}
}

func TestHandoffToUnknownAgentFailsBeforeWrites(t *testing.T) {
	engine, store := newTestEngine(t)

	res := engine.ExecuteHandoff(context.Background(), medium("budget_coach", "ghost", "u1"))

	assert.False(t, res.Success)
	assert.Equal(t, core.KindNotFound, res.FailureKind)
	assert.NotEmpty(t, res.HandoffID)
	assert.Equal(t, 0, store.Len(), "validation failures must not write memory entries")
	assert.Empty(t, engine.UserHistory("u1"), "validation failures are not recorded")
}

func TestHandoffToNotReadyAgentIsRejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	res := engine.ExecuteHandoff(context.Background(), medium("budget_coach", "sleepy", "u1"))
	assert.False(t, res.Success)
	assert.Equal(t, core.KindNotReady, res.FailureKind)
}

func TestRuleMismatchWithoutFallback(t *testing.T) {
	engine, _ := newTestEngine(t, func(o *Options) {
		o.Rules = []Rule{{
			Name:       "analyst_only",
			FromAgents: []string{"budget_coach"},
			ToAgents:   []string{"transaction_analyst"},
			Priority:   10,
		}}
	})

	res := engine.ExecuteHandoff(context.Background(), medium("goal_planner", "advisor", "u1"))
	assert.False(t, res.Success)
	assert.Equal(t, core.KindRuleMismatch, res.FailureKind)
}

func TestSuccessfulHandoffPreservesContext(t *testing.T) {
	engine, store := newTestEngine(t)

	req := medium("budget_coach", "advisor", "u1")
	req.PreserveHistory = true
	res := engine.ExecuteHandoff(context.Background(), req)

	require.True(t, res.Success, res.FailureReason)
	assert.Equal(t, "handled by advisor", res.Response)
	assert.True(t, res.ContextPreserved)
	assert.Equal(t, 3, res.PreservedItems)
	// Two synthetic turns, one preservation insight, one handoff summary insight.
	assert.Equal(t, 4, store.Len())

	history := engine.UserHistory("u1")
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
}

func TestCircularHandoffRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first := engine.ExecuteHandoff(ctx, medium("budget_coach", "advisor", "u1"))
	require.True(t, first.Success)

	reversed := engine.ExecuteHandoff(ctx, medium("advisor", "budget_coach", "u1"))
	assert.False(t, reversed.Success)
	assert.Equal(t, core.KindCircularHandoff, reversed.FailureKind)

	// A different user is unaffected.
	other := engine.ExecuteHandoff(ctx, medium("advisor", "budget_coach", "u2"))
	assert.True(t, other.Success)
}

func TestCircularHandoffDetectedAcrossWindow(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// The reversal target sits one handoff back, still inside the window.
	require.True(t, engine.ExecuteHandoff(ctx, medium("budget_coach", "advisor", "u1")).Success)
	require.True(t, engine.ExecuteHandoff(ctx, medium("goal_planner", "advisor", "u1")).Success)

	reversed := engine.ExecuteHandoff(ctx, medium("advisor", "budget_coach", "u1"))
	assert.False(t, reversed.Success)
	assert.Equal(t, core.KindCircularHandoff, reversed.FailureKind)
}

func TestCircularHandoffOutsideWindowIsAllowed(t *testing.T) {
	engine, _ := newTestEngine(t, func(o *Options) {
		cfg := config.Default().Handoff
		cfg.CircularWindow = 2
		o.Config = cfg
	})
	ctx := context.Background()

	require.True(t, engine.ExecuteHandoff(ctx, medium("budget_coach", "advisor", "u1")).Success)
	require.True(t, engine.ExecuteHandoff(ctx, medium("goal_planner", "advisor", "u1")).Success)
	require.True(t, engine.ExecuteHandoff(ctx, medium("transaction_analyst", "advisor", "u1")).Success)

	// The budget_coach -> advisor transition has aged out of the window.
	res := engine.ExecuteHandoff(ctx, medium("advisor", "budget_coach", "u1"))
	assert.True(t, res.Success, res.FailureReason)
}

func TestThreeHandoffsTriggerEscalationOnFourth(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// Alternate sources so no request reverses the previous transition.
	sources := []string{"budget_coach", "goal_planner", "budget_coach"}
	for _, from := range sources {
		res := engine.ExecuteHandoff(ctx, medium(from, "advisor", "u1"))
		require.True(t, res.Success, res.FailureReason)
		assert.False(t, res.EscalationTriggered)
		assert.Equal(t, 0, res.EscalationLevel)
	}

	fourth := engine.ExecuteHandoff(ctx, medium("transaction_analyst", "advisor", "u1"))
	require.True(t, fourth.Success, fourth.FailureReason)
	assert.True(t, fourth.EscalationTriggered)
	assert.Equal(t, "Multiple recent handoffs detected", fourth.EscalationReason)
	assert.Equal(t, 1, fourth.EscalationLevel)
	assert.Equal(t, "1", fourth.Metadata["new_level"])
}

func TestEscalationLevelIsMonotonicAndCapped(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	level := 0
	var levels []int
	sources := []string{"budget_coach", "goal_planner"}
	for i := 0; i < 6; i++ {
		req := medium(sources[i%2], "advisor", "u1")
		req.EscalationLevel = level
		res := engine.ExecuteHandoff(ctx, req)
		require.True(t, res.Success, res.FailureReason)
		levels = append(levels, res.EscalationLevel)
		level = res.EscalationLevel
	}

	for i := 1; i < len(levels); i++ {
		assert.GreaterOrEqual(t, levels[i], levels[i-1], "levels never decrease")
	}
	assert.Equal(t, 3, levels[len(levels)-1], "level climbs to the cap")

	// At the ceiling the next request is rejected outright.
	req := medium("budget_coach", "advisor", "u1")
	req.EscalationLevel = 3
	res := engine.ExecuteHandoff(ctx, req)
	assert.False(t, res.Success)
	assert.Equal(t, core.KindEscalationLimit, res.FailureKind)
}

func TestUrgentPriorityEscalatesFromLevelZero(t *testing.T) {
	engine, _ := newTestEngine(t)

	req := medium("budget_coach", "advisor", "u1")
	req.Priority = PriorityUrgent
	res := engine.ExecuteHandoff(context.Background(), req)

	require.True(t, res.Success, res.FailureReason)
	assert.True(t, res.EscalationTriggered)
	assert.Equal(t, "Urgent priority handoff", res.EscalationReason)
	assert.Equal(t, 1, res.EscalationLevel)
}

func TestRepeatedFailuresTriggerEscalation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	engine.SetInvoker(InvokerFunc(func(context.Context, string, string, *core.Invocation) (*core.AgentResponse, error) {
		return nil, errors.New("model unavailable")
	}))
	for i := 0; i < 2; i++ {
		res := engine.ExecuteHandoff(ctx, medium("budget_coach", "advisor", "u1"))
		require.False(t, res.Success)
		assert.False(t, res.EscalationTriggered)
	}

	engine.SetInvoker(okInvoker())
	res := engine.ExecuteHandoff(ctx, medium("goal_planner", "advisor", "u1"))
	require.True(t, res.Success, res.FailureReason)
	assert.True(t, res.EscalationTriggered)
	assert.Equal(t, "Multiple recent handoff failures", res.EscalationReason)
	assert.Equal(t, 1, res.EscalationLevel)
	assert.Equal(t, "1", res.Metadata["new_level"])
}

func TestInvokerFailureIsRecorded(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetInvoker(InvokerFunc(func(context.Context, string, string, *core.Invocation) (*core.AgentResponse, error) {
		return nil, errors.New("model unavailable")
	}))

	res := engine.ExecuteHandoff(context.Background(), medium("budget_coach", "advisor", "u1"))
	assert.False(t, res.Success)
	assert.Equal(t, core.KindTransitionFailure, res.FailureKind)

	history := engine.UserHistory("u1")
	require.Len(t, history, 1, "post-validation failures are recorded")
	assert.False(t, history[0].Success)
}

func TestUserHistoryIsCappedNewestFirst(t *testing.T) {
	engine, _ := newTestEngine(t, func(o *Options) {
		cfg := config.Default().Handoff
		cfg.UserHistorySize = 3
		// Widen thresholds so escalation limits never block this volume.
		cfg.RecentHandoffThreshold = 100
		cfg.RecentFailureThreshold = 100
		o.Config = cfg
	})
	ctx := context.Background()

	sources := []string{"budget_coach", "goal_planner"}
	for i := 0; i < 5; i++ {
		res := engine.ExecuteHandoff(ctx, medium(sources[i%2], "advisor", "u1"))
		require.True(t, res.Success, res.FailureReason)
	}

	history := engine.UserHistory("u1")
	require.Len(t, history, 3)
	assert.True(t, history[0].Timestamp.After(history[2].Timestamp) || history[0].Timestamp.Equal(history[2].Timestamp))
}

func TestCheckHealthFlagsStaleHandoffs(t *testing.T) {
	engine, _ := newTestEngine(t, func(o *Options) {
		cfg := config.Default().Handoff
		cfg.StaleTimeout = config.Duration(10 * time.Millisecond)
		o.Config = cfg
	})

	release := make(chan struct{})
	engine.SetInvoker(InvokerFunc(func(context.Context, string, string, *core.Invocation) (*core.AgentResponse, error) {
		<-release
		return &core.AgentResponse{Success: true, Response: "done"}, nil
	}))

	done := make(chan Result, 1)
	go func() {
		done <- engine.ExecuteHandoff(context.Background(), medium("budget_coach", "advisor", "u1"))
	}()

	assert.Eventually(t, func() bool {
		h := engine.CheckHealth()
		return !h.IsHealthy && len(h.Issues) == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	res := <-done
	assert.True(t, res.Success)

	h := engine.CheckHealth()
	assert.True(t, h.IsHealthy)
	assert.Zero(t, h.ActiveHandoffs)
}

func TestStatisticsAggregates(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	require.True(t, engine.ExecuteHandoff(ctx, medium("budget_coach", "advisor", "u1")).Success)
	require.True(t, engine.ExecuteHandoff(ctx, medium("goal_planner", "advisor", "u1")).Success)
	require.True(t, engine.ExecuteHandoff(ctx, medium("budget_coach", "advisor", "u2")).Success)

	engine.SetInvoker(InvokerFunc(func(context.Context, string, string, *core.Invocation) (*core.AgentResponse, error) {
		return nil, errors.New("down")
	}))
	failing := engine.ExecuteHandoff(ctx, medium("goal_planner", "advisor", "u2"))
	require.False(t, failing.Success)

	global := engine.Statistics("")
	assert.Equal(t, 4, global.Total)
	assert.Equal(t, 3, global.Successes)
	assert.InDelta(t, 0.75, global.SuccessRate, 1e-9)
	require.NotEmpty(t, global.TopRoutes)
	assert.Equal(t, "budget_coach", global.TopRoutes[0].FromAgent)
	assert.Equal(t, 2, global.TopRoutes[0].Count)

	u1 := engine.Statistics("u1")
	assert.Equal(t, 2, u1.Total)
	assert.InDelta(t, 1.0, u1.SuccessRate, 1e-9)

	empty := engine.Statistics("nobody")
	assert.Zero(t, empty.Total)
}

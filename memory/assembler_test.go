package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmesh/finmesh/config"
)

func newTestAssembler(t *testing.T, optFns ...func(o *AssemblerOptions)) (*Assembler, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	return NewAssembler(store, optFns...), store
}

func TestNewUserContextScenario(t *testing.T) {
	a, _ := newTestAssembler(t)

	mc, err := a.BuildAgentMemoryContext(context.Background(), "u1", "budget_coach", "budget_coach", "s1", true)
	require.NoError(t, err)

	assert.Equal(t, "getting_started", mc.UserProfile.Context.CurrentFocus)
	assert.Equal(t, "new", mc.UserProfile.Context.FinancialSituation)
	assert.Empty(t, mc.ConversationHistory)
	assert.Empty(t, mc.RelevantInsights)
	assert.Contains(t, mc.Summary, "New user")
	assert.Equal(t, "supportive", mc.Personalization["communication_style"])
}

func TestProfileDeterminism(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx := context.Background()

	require.NoError(t, a.StorePreference(ctx, "u1", "advisor", "s1", CategoryCommunication, "direct"))
	require.NoError(t, a.StoreInsight(ctx, "u1", "advisor", "s1", CategoryBudgeting, "tends to overspend on dining"))
	require.NoError(t, a.StoreInteraction(ctx, "u1", "advisor", "s1", "I need to pay down my credit card debt", "Let's make a plan.", nil))

	first, err := a.GetUserMemoryProfile(ctx, "u1")
	require.NoError(t, err)

	a.InvalidateProfile("u1")
	second, err := a.GetUserMemoryProfile(ctx, "u1")
	require.NoError(t, err)

	// Rebuild timestamps differ; everything derived must not.
	first.RebuiltAt = second.RebuiltAt
	assert.Equal(t, first, second)
}

func TestPreferenceOverrides(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx := context.Background()

	require.NoError(t, a.StorePreference(ctx, "u1", "advisor", "s1", CategoryCommunication, "direct"))
	require.NoError(t, a.StorePreference(ctx, "u1", "advisor", "s1", CategoryRiskManagement, "aggressive"))
	require.NoError(t, a.StorePreference(ctx, "u1", "advisor", "s1", CategoryBudgeting, "zero_based"))
	require.NoError(t, a.StorePreference(ctx, "u1", "advisor", "s1", "lifestyle", "travel"))

	p, err := a.GetUserMemoryProfile(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, "direct", p.Preferences.CommunicationStyle)
	assert.Equal(t, "aggressive", p.Preferences.RiskTolerance)
	assert.Equal(t, "zero_based", p.Preferences.BudgetingStyle)
	assert.Equal(t, []string{"travel"}, p.Preferences.Priorities)
}

func TestSituationInference(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx := context.Background()

	require.NoError(t, a.StoreInteraction(ctx, "u1", "advisor", "s1",
		"I still owe a lot on my credit card", "Let's look at your debt together.", nil))

	p, err := a.GetUserMemoryProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "managing_debt", p.Context.FinancialSituation)
	assert.Equal(t, "debt_reduction", p.Context.CurrentFocus)
	assert.False(t, p.Context.LastInteraction.IsZero())
}

func TestInsightRelevanceFiltering(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx := context.Background()

	require.NoError(t, a.StoreInsight(ctx, "u1", "advisor", "s1", CategoryBudgeting, "overspends on subscriptions"))
	require.NoError(t, a.StoreInsight(ctx, "u1", "advisor", "s1", CategoryCommunication, "responds well to direct feedback"))
	require.NoError(t, a.StoreInsight(ctx, "u1", "advisor", "s1", CategoryGoals, "saving for a house deposit"))

	coach, err := a.BuildAgentMemoryContext(ctx, "u1", "budget_coach", "budget_coach", "s1", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"overspends on subscriptions", "saving for a house deposit"}, coach.RelevantInsights)

	planner, err := a.BuildAgentMemoryContext(ctx, "u1", "goal_planner", "goal_planner", "s1", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"responds well to direct feedback", "saving for a house deposit"}, planner.RelevantInsights)

	// Types without a relevance mapping receive everything.
	advisor, err := a.BuildAgentMemoryContext(ctx, "u1", "advisor", "advisor", "s1", false)
	require.NoError(t, err)
	assert.Len(t, advisor.RelevantInsights, 3)
}

func TestHistoryIsBoundedToMostRecent(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, a.StoreInteraction(ctx, "u1", "budget_coach", "s1",
			fmt.Sprintf("message %d", i), fmt.Sprintf("reply %d", i), nil))
	}

	mc, err := a.BuildAgentMemoryContext(ctx, "u1", "budget_coach", "budget_coach", "s1", true)
	require.NoError(t, err)

	// 16 turns stored, default limit is 10, newest kept.
	require.Len(t, mc.ConversationHistory, 10)
	assert.Equal(t, "message 3", mc.ConversationHistory[0].Text)
	assert.Equal(t, "reply 7", mc.ConversationHistory[9].Text)
	assert.Equal(t, "user", mc.ConversationHistory[0].Role)
	assert.Equal(t, "assistant", mc.ConversationHistory[9].Role)
}

func TestPerUserCacheCap(t *testing.T) {
	a, _ := newTestAssembler(t, func(o *AssemblerOptions) {
		cfg := config.Default().Memory
		cfg.UserCacheSize = 3
		o.Config = cfg
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.StoreTurn(ctx, "u1", "advisor", "s1", "user", fmt.Sprintf("m%d", i), nil))
	}
	assert.Equal(t, 3, a.CachedEntries("u1"))
}

func TestGlobalCacheEvictsOldestUserWholesale(t *testing.T) {
	a, _ := newTestAssembler(t, func(o *AssemblerOptions) {
		cfg := config.Default().Memory
		cfg.MaxCachedUsers = 2
		o.Config = cfg
	})
	ctx := context.Background()

	require.NoError(t, a.StoreTurn(ctx, "u1", "advisor", "s1", "user", "hello", nil))
	_, err := a.GetUserMemoryProfile(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, a.StoreTurn(ctx, "u2", "advisor", "s1", "user", "hello", nil))
	require.NoError(t, a.StoreTurn(ctx, "u3", "advisor", "s1", "user", "hello", nil))

	assert.Equal(t, 2, a.CachedUsers())
	assert.Equal(t, 0, a.CachedEntries("u1"), "oldest user evicted wholesale")
	assert.Equal(t, 1, a.CachedEntries("u3"))

	a.mu.Lock()
	_, cached := a.profiles["u1"]
	a.mu.Unlock()
	assert.False(t, cached, "eviction drops the cached profile too")
}

func TestSummaryRespectsTokenBudget(t *testing.T) {
	a, _ := newTestAssembler(t, func(o *AssemblerOptions) {
		cfg := config.Default().Memory
		cfg.SummaryTokenBudget = 10
		o.Config = cfg
	})
	ctx := context.Background()

	require.NoError(t, a.StoreInteraction(ctx, "u1", "advisor", "s1",
		"I want to save for an emergency fund and a house and a car", "Great goals.", nil))

	mc, err := a.BuildAgentMemoryContext(ctx, "u1", "advisor", "advisor", "s1", true)
	require.NoError(t, err)
	assert.NotEmpty(t, mc.Summary)
	// 10 tokens is far below the untruncated summary either way the budget
	// is enforced (tokenizer or rune fallback).
	assert.Less(t, len([]rune(mc.Summary)), 120)
}

func TestStoreInteractionWritesTwoEntries(t *testing.T) {
	a, store := newTestAssembler(t)
	ctx := context.Background()

	require.NoError(t, a.StoreInteraction(ctx, "u1", "advisor", "s1", "hi", "hello", nil))
	assert.Equal(t, 2, store.Len())

	entries, err := store.Query(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role())
	assert.Equal(t, "assistant", entries[1].Role())
	assert.Equal(t, TypeInteraction, entries[0].Type)
}

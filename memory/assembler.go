package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/finmesh/finmesh/config"
	"github.com/finmesh/finmesh/core"
	"github.com/finmesh/finmesh/internal/util"
	"github.com/finmesh/finmesh/logging"
)

// AgentContext is the per-invocation memory bundle handed to an agent:
// profile snapshot, bounded conversation history, insights filtered by agent
// relevance, a generated one-paragraph summary and a personalization map.
type AgentContext struct {
	UserProfile         *UserProfile      `json:"user_profile"`
	ConversationHistory []core.Turn       `json:"conversation_history"`
	RelevantInsights    []string          `json:"relevant_insights"`
	Summary             string            `json:"summary"`
	Personalization     map[string]string `json:"personalization"`
}

// Assembler owns the memory entry log access path, the per-user recent-entry
// cache and the derived-profile cache. It is the single component other parts
// of the substrate call for memory; all returned structures are copies.
type Assembler struct {
	store  RecordStore
	cfg    config.MemoryConfig
	logger logging.Logger

	mu         sync.Mutex
	recent     map[string][]Entry // userID -> most recent entries, oldest first
	cacheOrder []string           // user insertion order, for wholesale eviction
	profiles   map[string]*UserProfile

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// AssemblerOptions configures an Assembler.
type AssemblerOptions struct {
	Config config.MemoryConfig
	Logger logging.Logger
}

// NewAssembler constructs an assembler over the given record store.
func NewAssembler(store RecordStore, optFns ...func(o *AssemblerOptions)) *Assembler {
	opts := AssemblerOptions{
		Config: config.Default().Memory,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Assembler{
		store:    store,
		cfg:      opts.Config,
		logger:   opts.Logger,
		recent:   make(map[string][]Entry),
		profiles: make(map[string]*UserProfile),
	}
}

// StoreInteraction appends the user turn and the assistant turn as two
// immutable entries to the durable log and the per-user cache.
func (a *Assembler) StoreInteraction(ctx context.Context, userID, agentName, sessionID, userMessage, agentResponse string, metadata map[string]string) error {
	if err := a.StoreTurn(ctx, userID, agentName, sessionID, "user", userMessage, metadata); err != nil {
		return err
	}
	if err := a.StoreTurn(ctx, userID, agentName, sessionID, "assistant", agentResponse, metadata); err != nil {
		return err
	}
	a.logger.Debug("Interaction stored", "user_id", userID, "agent", agentName, "session_id", sessionID)
	return nil
}

// StoreTurn appends a single interaction entry with the given conversational
// role. Used directly by the handoff engine for synthetic transition records.
func (a *Assembler) StoreTurn(ctx context.Context, userID, agentName, sessionID, role, content string, metadata map[string]string) error {
	e := Entry{
		ID: newEntryID(), UserID: userID, AgentName: agentName, SessionID: sessionID,
		Type: TypeInteraction, Content: content,
		Metadata: mergeMeta(metadata, metaRole, role), CreatedAt: time.Now().UTC(),
	}
	if err := a.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	a.cache(e)
	return nil
}

// StorePreference appends a preference record under a free-form category and
// invalidates the cached profile so the override becomes visible.
func (a *Assembler) StorePreference(ctx context.Context, userID, agentName, sessionID, category, value string) error {
	return a.storeTagged(ctx, TypePreference, userID, agentName, sessionID, category, value)
}

// StoreInsight appends an insight record under a free-form category and
// invalidates the cached profile.
func (a *Assembler) StoreInsight(ctx context.Context, userID, agentName, sessionID, category, text string) error {
	return a.storeTagged(ctx, TypeInsight, userID, agentName, sessionID, category, text)
}

func (a *Assembler) storeTagged(ctx context.Context, typ EntryType, userID, agentName, sessionID, category, content string) error {
	e := Entry{
		ID: newEntryID(), UserID: userID, AgentName: agentName, SessionID: sessionID,
		Type: typ, Content: content,
		Metadata:  map[string]string{metaCategory: category},
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append %s: %w", typ, err)
	}
	a.cache(e)
	a.InvalidateProfile(userID)
	return nil
}

// GetUserMemoryProfile returns the cached profile when present, otherwise
// rebuilds it deterministically from the durable log. Callers must tolerate
// eventually-stale profiles; InvalidateProfile forces a rebuild on next read.
func (a *Assembler) GetUserMemoryProfile(ctx context.Context, userID string) (*UserProfile, error) {
	a.mu.Lock()
	if p, ok := a.profiles[userID]; ok {
		cp := p.Clone()
		a.mu.Unlock()
		return cp, nil
	}
	a.mu.Unlock()

	entries, err := a.store.Query(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("load entries for profile: %w", err)
	}
	p := buildProfile(userID, entries)
	p.RebuiltAt = time.Now().UTC()

	a.mu.Lock()
	a.profiles[userID] = p.Clone()
	a.mu.Unlock()
	return p, nil
}

// InvalidateProfile drops the cached profile for a user.
func (a *Assembler) InvalidateProfile(userID string) {
	a.mu.Lock()
	delete(a.profiles, userID)
	a.mu.Unlock()
}

// BuildAgentMemoryContext composes the bounded memory bundle for one agent
// invocation. It never fails for a user with no history; such users receive
// the static "new user" profile with empty collections.
func (a *Assembler) BuildAgentMemoryContext(ctx context.Context, userID, agentName, agentType, sessionID string, includeHistory bool) (*AgentContext, error) {
	profile, err := a.GetUserMemoryProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	var history []core.Turn
	if includeHistory {
		entries, err := a.recentInteractions(ctx, userID, agentName, sessionID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			history = append(history, core.Turn{
				Role:      e.Role(),
				AgentName: e.AgentName,
				SessionID: e.SessionID,
				Text:      e.Content,
				Timestamp: e.CreatedAt,
			})
		}
	}

	insights, err := a.relevantInsights(ctx, userID, agentType)
	if err != nil {
		return nil, err
	}

	mc := &AgentContext{
		UserProfile:         profile,
		ConversationHistory: history,
		RelevantInsights:    insights,
		Personalization:     personalization(profile, agentType),
	}
	mc.Summary = a.summarize(profile, len(history), len(insights))
	return mc, nil
}

// recentInteractions returns the last HistoryLimit interaction entries for
// the user/agent/session, served from the per-user cache when warm.
func (a *Assembler) recentInteractions(ctx context.Context, userID, agentName, sessionID string) ([]Entry, error) {
	f := Filter{
		UserID:    userID,
		AgentName: agentName,
		SessionID: sessionID,
		Types:     []EntryType{TypeInteraction},
		Limit:     a.cfg.HistoryLimit,
	}

	a.mu.Lock()
	var cached []Entry
	for _, e := range a.recent[userID] {
		if f.matches(e) {
			cached = append(cached, e)
		}
	}
	a.mu.Unlock()

	if len(cached) >= a.cfg.HistoryLimit {
		return tail(cached, a.cfg.HistoryLimit), nil
	}
	return a.store.Query(ctx, f)
}

// relevantInsights returns insight contents filtered by the agent type's
// category prefixes; types without a relevance mapping (the default advisor)
// receive all insights.
func (a *Assembler) relevantInsights(ctx context.Context, userID, agentType string) ([]string, error) {
	entries, err := a.store.Query(ctx, Filter{UserID: userID, Types: []EntryType{TypeInsight}})
	if err != nil {
		return nil, err
	}
	cats := relevantCategories(agentType)
	var out []string
	for _, e := range entries {
		if cats == nil || hasCategoryPrefix(e.Category(), cats) {
			out = append(out, e.Content)
		}
	}
	return out, nil
}

func hasCategoryPrefix(category string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(category, p) {
			return true
		}
	}
	return false
}

// cache appends an entry to the per-user recent cache, evicting the oldest
// entry past the per-user cap and the oldest-inserted user wholesale past the
// global cap. Eviction drops the user's cached profile too so no per-user
// state outlives the cache slot.
func (a *Assembler) cache(e Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.recent[e.UserID]; !ok {
		a.cacheOrder = append(a.cacheOrder, e.UserID)
		if len(a.cacheOrder) > a.cfg.MaxCachedUsers {
			evicted := a.cacheOrder[0]
			a.cacheOrder = a.cacheOrder[1:]
			delete(a.recent, evicted)
			delete(a.profiles, evicted)
			a.logger.Debug("Evicted user from memory cache", "user_id", evicted)
		}
	}

	entries := append(a.recent[e.UserID], e)
	if len(entries) > a.cfg.UserCacheSize {
		entries = entries[len(entries)-a.cfg.UserCacheSize:]
	}
	a.recent[e.UserID] = entries
}

// CachedUsers returns the number of users currently held in the recent cache.
func (a *Assembler) CachedUsers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recent)
}

// CachedEntries returns the number of cached entries for one user.
func (a *Assembler) CachedEntries(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recent[userID])
}

// summarize produces the one-paragraph free-text summary bounded by the
// configured token budget.
func (a *Assembler) summarize(p *UserProfile, historyLen, insightLen int) string {
	var b strings.Builder
	if p.Context.LastInteraction.IsZero() {
		b.WriteString("New user with no prior history. ")
	} else {
		fmt.Fprintf(&b, "Returning user currently focused on %s. ", p.Context.CurrentFocus)
	}
	fmt.Fprintf(&b, "Financial situation: %s. Prefers %s communication, %s budgeting and %s risk tolerance. ",
		p.Context.FinancialSituation, p.Preferences.CommunicationStyle,
		p.Preferences.BudgetingStyle, p.Preferences.RiskTolerance)
	if len(p.Context.Goals) > 0 {
		fmt.Fprintf(&b, "Active goals: %s. ", strings.Join(p.Context.Goals, "; "))
	}
	if len(p.Learnings.Strengths) > 0 {
		fmt.Fprintf(&b, "Strengths: %s. ", strings.Join(p.Learnings.Strengths, "; "))
	}
	if len(p.Learnings.Challenges) > 0 {
		fmt.Fprintf(&b, "Challenges: %s. ", strings.Join(p.Learnings.Challenges, "; "))
	}
	fmt.Fprintf(&b, "Context includes %d recent exchanges and %d relevant insights.", historyLen, insightLen)

	return a.fitToBudget(b.String())
}

// fitToBudget truncates text so it stays within the summary token budget.
// Token counts use the cl100k_base encoding; when the encoding is unavailable
// (offline environments) a rune-based approximation is used instead.
func (a *Assembler) fitToBudget(text string) string {
	budget := a.cfg.SummaryTokenBudget
	if budget <= 0 {
		return text
	}

	a.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			a.logger.Warn("Tokenizer unavailable, falling back to rune estimate", "error", err.Error())
			return
		}
		a.enc = enc
	})

	if a.enc != nil {
		tokens := a.enc.Encode(text, nil, nil)
		if len(tokens) <= budget {
			return text
		}
		return a.enc.Decode(tokens[:budget-1]) + "…"
	}

	// Rough heuristic: one token per four runes.
	return util.Truncate(text, budget*4)
}

func mergeMeta(metadata map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[key] = value
	return out
}

// personalization builds the agent-type-keyed personalization map from the
// profile snapshot.
func personalization(p *UserProfile, agentType string) map[string]string {
	m := map[string]string{
		"communication_style": p.Preferences.CommunicationStyle,
		"risk_tolerance":      p.Preferences.RiskTolerance,
		"budgeting_style":     p.Preferences.BudgetingStyle,
		"current_focus":       p.Context.CurrentFocus,
	}
	switch agentType {
	case "budget_coach":
		m["emphasis"] = "envelope discipline and realistic spending plans"
	case "transaction_analyst":
		m["emphasis"] = "spending patterns and unusual transactions"
	case "goal_planner":
		m["emphasis"] = "milestones and steady progress toward goals"
	default:
		m["emphasis"] = "overall financial wellbeing"
	}
	return m
}

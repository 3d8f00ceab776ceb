package handoff

import (
	"fmt"
	"sort"
	"time"
)

// RouteCount is one (from, to) transition frequency entry.
type RouteCount struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Count     int    `json:"count"`
}

// Stats aggregates recorded handoff outcomes for one user or globally.
type Stats struct {
	Total          int           `json:"total"`
	Successes      int           `json:"successes"`
	SuccessRate    float64       `json:"success_rate"`
	AvgDuration    time.Duration `json:"avg_duration"`
	EscalationRate float64       `json:"escalation_rate"`
	// TopRoutes holds the five most frequent (from, to) routes by count.
	TopRoutes []RouteCount `json:"top_routes,omitempty"`
}

// Statistics computes aggregate handoff statistics. An empty userID
// aggregates across all users.
func (e *Engine) Statistics(userID string) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var results []Result
	if userID != "" {
		results = e.history[userID]
	} else {
		for _, rs := range e.history {
			results = append(results, rs...)
		}
	}

	s := Stats{Total: len(results)}
	if s.Total == 0 {
		return s
	}

	var totalDur time.Duration
	escalations := 0
	routes := map[string]*RouteCount{}
	for _, r := range results {
		if r.Success {
			s.Successes++
		}
		if r.EscalationTriggered {
			escalations++
		}
		totalDur += r.Duration
		key := fmt.Sprintf("%s->%s", r.FromAgent, r.ToAgent)
		if rc, ok := routes[key]; ok {
			rc.Count++
		} else {
			routes[key] = &RouteCount{FromAgent: r.FromAgent, ToAgent: r.ToAgent, Count: 1}
		}
	}

	s.SuccessRate = float64(s.Successes) / float64(s.Total)
	s.AvgDuration = totalDur / time.Duration(s.Total)
	s.EscalationRate = float64(escalations) / float64(s.Total)

	for _, rc := range routes {
		s.TopRoutes = append(s.TopRoutes, *rc)
	}
	sort.Slice(s.TopRoutes, func(i, j int) bool {
		if s.TopRoutes[i].Count != s.TopRoutes[j].Count {
			return s.TopRoutes[i].Count > s.TopRoutes[j].Count
		}
		if s.TopRoutes[i].FromAgent != s.TopRoutes[j].FromAgent {
			return s.TopRoutes[i].FromAgent < s.TopRoutes[j].FromAgent
		}
		return s.TopRoutes[i].ToAgent < s.TopRoutes[j].ToAgent
	})
	if len(s.TopRoutes) > 5 {
		s.TopRoutes = s.TopRoutes[:5]
	}
	return s
}

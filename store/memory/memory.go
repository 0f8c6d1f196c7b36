// Package memory provides an in-memory book.Repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/policy-engine/book"
	"github.com/warp/policy-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	policies   map[string]*book.StoredPolicy
	indicators map[indicatorKey]engine.Indicator
	runs       []book.Run
	settings   map[string]string

	now func() time.Time
}

type indicatorKey struct {
	Period       string
	PolicyNumber string
}

func New() *Memory {
	return &Memory{
		policies:   make(map[string]*book.StoredPolicy),
		indicators: make(map[indicatorKey]engine.Indicator),
		settings:   make(map[string]string),
		now:        time.Now,
	}
}

var _ book.Repository = (*Memory)(nil)

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) SavePolicies(_ context.Context, records []engine.PolicyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for _, r := range records {
		key := strings.TrimSpace(r.PolicyNumber)
		if key == "" {
			continue
		}
		if p, ok := m.policies[key]; ok {
			p.Record = r
			p.UpdatedAt = now
			continue
		}
		m.policies[key] = &book.StoredPolicy{Record: r, UpdatedAt: now}
	}
	return nil
}

func (m *Memory) ListPolicies(_ context.Context, filter book.Filter) ([]book.StoredPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]book.StoredPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		if filter.Matches(*p) {
			result = append(result, copyPolicy(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number() < result[j].Number() })
	return result, nil
}

func (m *Memory) GetPolicy(_ context.Context, number string) (*book.StoredPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[strings.TrimSpace(number)]
	if !ok {
		return nil, nil
	}
	cp := copyPolicy(p)
	return &cp, nil
}

func (m *Memory) SaveDerived(_ context.Context, facts []engine.DerivedFacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	for _, f := range facts {
		p, ok := m.policies[strings.TrimSpace(f.PolicyNumber)]
		if !ok {
			continue
		}
		f := f
		p.Facts = &f
		p.UpdatedAt = now
	}
	return nil
}

func (m *Memory) SaveLinks(_ context.Context, links engine.Links) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, p := range m.policies {
		p.ParentNumber = links.Parents[key]
		p.ReissueCount = links.ReissueCounts[key]
	}
	return nil
}

func copyPolicy(p *book.StoredPolicy) book.StoredPolicy {
	cp := *p
	if p.Facts != nil {
		f := *p.Facts
		cp.Facts = &f
	}
	return cp
}

// =============================================================================
// INDICATORS
// =============================================================================

func (m *Memory) SaveIndicators(_ context.Context, indicators []engine.Indicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ind := range indicators {
		k := indicatorKey{Period: strings.TrimSpace(ind.Period), PolicyNumber: strings.TrimSpace(ind.PolicyNumber)}
		m.indicators[k] = ind
	}
	return nil
}

func (m *Memory) ListIndicators(_ context.Context, period string) ([]engine.Indicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]indicatorKey, 0, len(m.indicators))
	for k := range m.indicators {
		if period == "" || k.Period == period {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Period != keys[j].Period {
			return keys[i].Period < keys[j].Period
		}
		return keys[i].PolicyNumber < keys[j].PolicyNumber
	})

	result := make([]engine.Indicator, len(keys))
	for i, k := range keys {
		result[i] = m.indicators[k]
	}
	return result, nil
}

func (m *Memory) ListPeriods(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var periods []string
	for k := range m.indicators {
		if !seen[k.Period] {
			seen[k.Period] = true
			periods = append(periods, k.Period)
		}
	}
	sort.Strings(periods)
	return periods, nil
}

// =============================================================================
// RUNS & SETTINGS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run book.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]book.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]book.Run, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) Settings(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		result[k] = v
	}
	return result, nil
}

func (m *Memory) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

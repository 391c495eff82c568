// Package memory provides an in-memory indemnity.Store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/indemnity-engine/claims"
	"github.com/warp/indemnity-engine/generic"
	"github.com/warp/indemnity-engine/indemnity"
	"github.com/warp/indemnity-engine/quittance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	claims     map[string]claims.Claim
	quittances map[string]quittance.Quittance
	history    []indemnity.TransitionRecord
}

func New() *Memory {
	return &Memory{
		claims:     make(map[string]claims.Claim),
		quittances: make(map[string]quittance.Quittance),
	}
}

func (m *Memory) CreateClaim(_ context.Context, c claims.Claim, record indemnity.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.claims[c.ID]; exists {
		return generic.InvalidField("id", "claim %s already exists", c.ID)
	}
	m.claims[c.ID] = cloneClaim(c)
	m.history = append(m.history, record)
	return nil
}

// Commit checks every version first, then writes everything.
func (m *Memory) Commit(_ context.Context, cs indemnity.Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all versions first (atomic check)
	if cs.Claim != nil {
		cur, ok := m.claims[cs.Claim.Claim.ID]
		if !ok {
			return &generic.NotFoundError{Entity: "claim", ID: cs.Claim.Claim.ID}
		}
		if cur.Version != cs.Claim.PrevVersion {
			return &generic.AlreadyTransitionedError{
				Entity: "claim", ID: cur.ID, ExpectedVersion: cs.Claim.PrevVersion, ActualVersion: cur.Version,
			}
		}
	}
	for _, u := range cs.Quittances {
		cur, ok := m.quittances[u.Quittance.ID]
		if !ok {
			return &generic.NotFoundError{Entity: "quittance", ID: u.Quittance.ID}
		}
		if cur.Version != u.PrevVersion {
			return &generic.AlreadyTransitionedError{
				Entity: "quittance", ID: cur.ID, ExpectedVersion: u.PrevVersion, ActualVersion: cur.Version,
			}
		}
	}
	for _, q := range cs.NewQuittances {
		if _, exists := m.quittances[q.ID]; exists {
			return generic.InvalidField("id", "quittance %s already exists", q.ID)
		}
	}

	// Apply all (atomic write)
	if cs.Claim != nil {
		m.claims[cs.Claim.Claim.ID] = cloneClaim(cs.Claim.Claim)
	}
	for _, u := range cs.Quittances {
		m.quittances[u.Quittance.ID] = u.Quittance
	}
	for _, q := range cs.NewQuittances {
		m.quittances[q.ID] = q
	}
	m.history = append(m.history, cs.Records...)
	return nil
}

func (m *Memory) GetClaim(_ context.Context, id string) (claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.claims[id]
	if !ok {
		return claims.Claim{}, &generic.NotFoundError{Entity: "claim", ID: id}
	}
	return cloneClaim(c), nil
}

func (m *Memory) ListClaims(_ context.Context, filter indemnity.ClaimFilter) ([]claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []claims.Claim
	for _, c := range m.claims {
		if filter.Matches(c) {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetQuittance(_ context.Context, id string) (quittance.Quittance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quittances[id]
	if !ok {
		return quittance.Quittance{}, &generic.NotFoundError{Entity: "quittance", ID: id}
	}
	return q, nil
}

func (m *Memory) ListQuittances(_ context.Context, filter indemnity.QuittanceFilter) ([]quittance.Quittance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []quittance.Quittance
	for _, q := range m.quittances {
		if filter.Matches(q) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) History(_ context.Context, entity, id string) ([]indemnity.TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []indemnity.TransitionRecord
	for _, r := range m.history {
		if r.Entity == entity && r.EntityID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// cloneClaim copies the slices so callers never share backing arrays with
// the store.
func cloneClaim(c claims.Claim) claims.Claim {
	c.RequiredDocuments = append([]claims.DocumentKind(nil), c.RequiredDocuments...)
	c.AttachedDocuments = append([]claims.DocumentKind(nil), c.AttachedDocuments...)
	return c
}

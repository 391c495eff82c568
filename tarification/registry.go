package tarification

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/warp/indemnity-engine/generic"
)

// =============================================================================
// REGISTRY - Read-only partner schedule lookup
// =============================================================================

// Registry maps partner ids to schedules. The engine only reads it; an
// external configuration mechanism may swap the whole table set with Replace.
// Readers see either the old set or the new one, never a mix.
type Registry struct {
	schedules atomic.Pointer[map[string]*RateSchedule]
}

// NewRegistry validates and registers the given schedules.
func NewRegistry(schedules ...RateSchedule) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(schedules); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace atomically swaps the registered schedules. Nothing changes when any
// schedule is invalid or a partner id appears twice.
func (r *Registry) Replace(schedules []RateSchedule) error {
	next := make(map[string]*RateSchedule, len(schedules))
	for i := range schedules {
		s := schedules[i]
		if err := s.Validate(); err != nil {
			return err
		}
		key := NormalizePartnerID(s.PartnerID)
		if _, dup := next[key]; dup {
			return generic.InvalidField("partner_id", "duplicate schedule for %s", s.PartnerID)
		}
		next[key] = &s
	}
	r.schedules.Store(&next)
	return nil
}

// Lookup returns the schedule for a partner. The returned schedule must be
// treated as read-only.
func (r *Registry) Lookup(partnerID string) (*RateSchedule, error) {
	m := r.schedules.Load()
	if m == nil {
		return nil, &generic.UnknownPartnerError{PartnerID: partnerID}
	}
	s, ok := (*m)[NormalizePartnerID(partnerID)]
	if !ok {
		return nil, &generic.UnknownPartnerError{PartnerID: partnerID}
	}
	return s, nil
}

// Partners lists registered partner ids in sorted order.
func (r *Registry) Partners() []string {
	m := r.schedules.Load()
	if m == nil {
		return nil
	}
	ids := make([]string, 0, len(*m))
	for _, s := range *m {
		ids = append(ids, s.PartnerID)
	}
	sort.Strings(ids)
	return ids
}

// NormalizePartnerID is the case-insensitive form partner ids are keyed by.
func NormalizePartnerID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

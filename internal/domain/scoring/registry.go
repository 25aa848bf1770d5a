package scoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry stores published ruleset versions. Published versions never change.
type Registry struct {
	mu      sync.RWMutex
	sets    map[string]map[int]*RuleSet
	digests map[string]map[int]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sets:    make(map[string]map[int]*RuleSet),
		digests: make(map[string]map[int]string),
	}
}

// Publish validates rs and makes it available. Re-publishing identical
// content is a no-op; different content under the same version fails.
func (r *Registry) Publish(rs RuleSet) error {
	cp := rs
	cp.Rules = append([]Rule(nil), rs.Rules...)
	for i := range cp.Rules {
		cp.Rules[i].Bonuses = append([]BonusThreshold(nil), cp.Rules[i].Bonuses...)
		if w := cp.Rules[i].Weight; w != nil {
			wc := *w
			wc.Steps = append([]Step(nil), w.Steps...)
			cp.Rules[i].Weight = &wc
		}
	}
	if err := cp.compile(); err != nil {
		return err
	}
	digest := cp.Digest()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.digests[cp.SportID][cp.Version]; ok {
		if existing == digest {
			return nil
		}
		return fmt.Errorf("%w: %s v%d", ErrRulesetImmutable, cp.SportID, cp.Version)
	}
	if r.sets[cp.SportID] == nil {
		r.sets[cp.SportID] = make(map[int]*RuleSet)
		r.digests[cp.SportID] = make(map[int]string)
	}
	r.sets[cp.SportID][cp.Version] = &cp
	r.digests[cp.SportID][cp.Version] = digest
	return nil
}

// Get returns a specific version.
func (r *Registry) Get(sportID string, version int) (*RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.sets[strings.ToLower(sportID)][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrRulesetNotFound, sportID, version)
	}
	return rs, nil
}

// Latest returns the highest published version for a sport.
func (r *Registry) Latest(sportID string) (*RuleSet, error) {
	versions := r.Versions(sportID)
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRulesetNotFound, sportID)
	}
	return r.Get(sportID, versions[len(versions)-1])
}

// Versions lists published versions for a sport in ascending order.
func (r *Registry) Versions(sportID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.sets[strings.ToLower(sportID)]))
	for v := range r.sets[strings.ToLower(sportID)] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Sports lists sports with at least one published ruleset.
func (r *Registry) Sports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sets))
	for s := range r.sets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

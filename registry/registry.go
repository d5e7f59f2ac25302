// Package registry is the run-wide index of rule-sets being compiled, keyed by
// their first target path. It owns the lock that serialises every rule-set and
// test state change in the orchestrator.
package registry

import (
	"sort"
	"sync"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

// Entry is one rule-set, the test that compiles it and every test waiting on it.
type Entry struct {
	Owner   testmodel.Test
	Ruleset *ruleset.Descriptor
	Waiters []testmodel.Test
}

func (e *Entry) hasWaiter(t testmodel.Test) bool {
	for _, w := range e.Waiters {
		if w.ID() == t.ID() {
			return true
		}
	}
	return false
}

// Registry maps target paths to entries. Methods ending in Locked require the
// caller to hold the registry lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	stat    stats.StatsReceiver
}

func New(stat stats.StatsReceiver) *Registry {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Registry{entries: map[string]*Entry{}, stat: stat}
}

func (r *Registry) Lock()   { r.mu.Lock() }
func (r *Registry) Unlock() { r.mu.Unlock() }

// ClaimLocked registers d for t unless its key is already taken. It returns the
// descriptor now registered under the key and whether t owns it. t is added to
// the waiters either way.
func (r *Registry) ClaimLocked(t testmodel.Test, d *ruleset.Descriptor) (*ruleset.Descriptor, bool) {
	key := d.Key()
	entry, ok := r.entries[key]
	if !ok {
		entry = &Entry{Owner: t, Ruleset: d}
		r.entries[key] = entry
		r.stat.Gauge(stats.RuleRegistrySizeGauge).Update(int64(len(r.entries)))
	}
	if !entry.hasWaiter(t) {
		entry.Waiters = append(entry.Waiters, t)
	}
	return entry.Ruleset, entry.Owner.ID() == t.ID()
}

// LookupLocked returns the entry registered under key.
func (r *Registry) LookupLocked(key string) (*Entry, bool) {
	entry, ok := r.entries[key]
	return entry, ok
}

// WaitersLocked returns a copy of the tests waiting on key, in arrival order.
func (r *Registry) WaitersLocked(key string) []testmodel.Test {
	entry, ok := r.entries[key]
	if !ok {
		return nil
	}
	return append([]testmodel.Test(nil), entry.Waiters...)
}

// Keys returns every registered key in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

package counters

import (
	"sort"
	"strings"
)

// Counter is a named integer tally, e.g. pending attacks or bonus points.
type Counter struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Counters is a set of named non-negative tallies. Keys are namespaced as
// "<namespace>.<name>" so plugins cannot clobber each other's scratch data.
type Counters map[string]int

// Key builds a namespaced counter key.
func Key(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// Namespace returns the namespace part of a key, empty if none.
func Namespace(key string) string {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i]
	}
	return ""
}

// Add adds the specified amount to the counter. Non-positive amounts are ignored.
func (cs *Counters) Add(name string, amount int) int {
	if amount <= 0 {
		return cs.Get(name)
	}
	if *cs == nil {
		*cs = make(Counters)
	}
	(*cs)[name] += amount
	return (*cs)[name]
}

// Remove removes the specified amount from the counter.
// Will not allow count to go below 0; an emptied counter is deleted.
func (cs *Counters) Remove(name string, amount int) int {
	if *cs == nil || amount <= 0 {
		return cs.Get(name)
	}
	current := (*cs)[name]
	if current <= amount {
		delete(*cs, name)
		return 0
	}
	(*cs)[name] = current - amount
	return (*cs)[name]
}

// Set overwrites the counter. Values of 0 or less clear it.
func (cs *Counters) Set(name string, value int) {
	if value <= 0 {
		if *cs != nil {
			delete(*cs, name)
		}
		return
	}
	if *cs == nil {
		*cs = make(Counters)
	}
	(*cs)[name] = value
}

// Get returns the current count, 0 when absent.
func (cs Counters) Get(name string) int {
	return cs[name]
}

// Has reports whether the counter is present.
func (cs Counters) Has(name string) bool {
	_, ok := cs[name]
	return ok
}

// ClearNamespace removes every counter under the namespace.
func (cs Counters) ClearNamespace(namespace string) {
	for key := range cs {
		if Namespace(key) == namespace {
			delete(cs, key)
		}
	}
}

// Copy creates a deep copy of the counter set.
func (cs Counters) Copy() Counters {
	if cs == nil {
		return nil
	}
	cp := make(Counters, len(cs))
	for k, v := range cs {
		cp[k] = v
	}
	return cp
}

// ToView returns the counters sorted by name.
func (cs Counters) ToView() []Counter {
	view := make([]Counter, 0, len(cs))
	for name, count := range cs {
		view = append(view, Counter{Name: name, Count: count})
	}
	sort.Slice(view, func(i, j int) bool {
		return view[i].Name < view[j].Name
	})
	return view
}

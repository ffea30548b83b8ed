package snapshot

import (
	"maps"
	"slices"

	"github.com/google/go-cmp/cmp"
)

// State maps entity ids to their serialized fields.
type State map[string]map[string]any

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for id, fields := range s {
		out[id] = cloneFields(fields)
	}
	return out
}

// IDs returns the entity ids in sorted order.
func (s State) IDs() []string {
	return slices.Sorted(maps.Keys(s))
}

// Diff is the difference between two snapshots. Changed holds only the
// fields whose value differs, Unset the fields that disappeared from an
// entity present in both snapshots.
type Diff struct {
	From    uint64                    `json:"from"`
	To      uint64                    `json:"to"`
	Changed map[string]map[string]any `json:"changed,omitempty"`
	Unset   map[string][]string       `json:"unset,omitempty"`
	Added   map[string]map[string]any `json:"added,omitempty"`
	Removed []string                  `json:"removed,omitempty"`
	Events  []map[string]any          `json:"events,omitempty"`
}

// Empty reports whether the diff carries no state change.
func (d *Diff) Empty() bool {
	return len(d.Changed) == 0 && len(d.Unset) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffStates computes the field-level difference from one state to another.
func DiffStates(from, to State) *Diff {
	d := &Diff{}
	for _, id := range to.IDs() {
		fields := to[id]
		prev, ok := from[id]
		if !ok {
			if d.Added == nil {
				d.Added = make(map[string]map[string]any)
			}
			d.Added[id] = cloneFields(fields)
			continue
		}

		for key, value := range fields {
			if old, ok := prev[key]; ok && cmp.Equal(old, value) {
				continue
			}
			if d.Changed == nil {
				d.Changed = make(map[string]map[string]any)
			}
			if d.Changed[id] == nil {
				d.Changed[id] = make(map[string]any)
			}
			d.Changed[id][key] = cloneValue(value)
		}

		for _, key := range slices.Sorted(maps.Keys(prev)) {
			if _, ok := fields[key]; ok {
				continue
			}
			if d.Unset == nil {
				d.Unset = make(map[string][]string)
			}
			d.Unset[id] = append(d.Unset[id], key)
		}
	}

	for _, id := range from.IDs() {
		if _, ok := to[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

// Apply returns a copy of state with diff applied. Applying the diff of
// two snapshots to the first one's state reconstructs the second.
func Apply(state State, diff *Diff) State {
	out := state.Clone()
	if out == nil {
		out = make(State)
	}
	for _, id := range diff.Removed {
		delete(out, id)
	}
	for id, fields := range diff.Added {
		out[id] = cloneFields(fields)
	}
	for id, fields := range diff.Changed {
		entity := out[id]
		if entity == nil {
			entity = make(map[string]any, len(fields))
			out[id] = entity
		}
		for key, value := range fields {
			entity[key] = cloneValue(value)
		}
	}
	for id, keys := range diff.Unset {
		for _, key := range keys {
			delete(out[id], key)
		}
	}
	return out
}

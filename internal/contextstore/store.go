// ABOUTME: Store interface and path helpers for the shared context tree.
// ABOUTME: Defines the contract both the file and SQLite implementations meet.

package contextstore

import (
	"encoding/json"
	"strings"
)

// WatchFunc is invoked with the new value whenever Set writes the watched
// path. It fires only for writes to exactly that path, not parents or
// children. Invocation order across watchers of the same path is not
// guaranteed.
type WatchFunc func(value any)

// Store is the shared context tree every component receives at construction.
//
// Get, Set, Update and Delete address values by dot-separated path. The
// convenience operations (AppendToList, RemoveFromList, Increment) return
// false instead of erroring when the existing value is not the expected
// container type; that is an expected control-flow outcome, not a fault.
type Store interface {
	// Get returns the value at path, or def when the path does not resolve.
	Get(path string, def any) any

	// Set writes value at path, creating intermediate mapping nodes as
	// needed, and notifies watchers registered for exactly this path.
	Set(path string, value any) bool

	// Update shallow-merges partial into the mapping at path. Returns false
	// if a value exists at path and is not a mapping.
	Update(path string, partial map[string]any) bool

	// Delete removes the value at path. Returns false if path is absent.
	Delete(path string) bool

	// Snapshot returns a deep, isolated copy of the entire tree.
	Snapshot() map[string]any

	// Watch registers callback for writes to exactly path.
	Watch(path string, callback WatchFunc)

	// AppendToList appends item to the list at path (empty list if absent).
	AppendToList(path string, item any) bool

	// RemoveFromList removes the first element equal to item from the list
	// at path. Returns false when the list or the item is absent.
	RemoveFromList(path string, item any) bool

	// Increment adds amount to the numeric value at path (0 if absent).
	Increment(path string, amount float64) bool

	// Close releases any resources held by the store.
	Close() error
}

// splitPath breaks a dot-separated path into its segments.
func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// getPath walks tree along the path segments. The second return is false
// when any segment fails to resolve to a mapping node holding the next key.
func getPath(tree map[string]any, path string) (any, bool) {
	keys := splitPath(path)
	var current any = tree
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes value into tree, creating intermediate maps. Existing
// non-map intermediates are overwritten with maps, matching last-write-wins
// leaf semantics.
func setPath(tree map[string]any, path string, value any) {
	keys := splitPath(path)
	current := tree
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[keys[len(keys)-1]] = value
}

// deletePath removes the leaf at path. Returns false when the path does not
// resolve.
func deletePath(tree map[string]any, path string) bool {
	keys := splitPath(path)
	current := tree
	for _, key := range keys[:len(keys)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	leaf := keys[len(keys)-1]
	if _, ok := current[leaf]; !ok {
		return false
	}
	delete(current, leaf)
	return true
}

// deepCopy clones a JSON-shaped value by round-tripping it through
// encoding/json. Values held in the store are JSON-shaped by construction.
func deepCopy(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// asNumber coerces the numeric types JSON decoding produces into float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

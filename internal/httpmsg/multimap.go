package httpmsg

import "strings"

// MultiMap is an ordered, case-insensitive-keyed multimap. Keys preserve the
// case of their first insertion; values preserve insertion order within a
// key. It backs header and query-parameter storage on RequestMessage.
type MultiMap struct {
	order []string            // canonical (lowercased) keys, first-seen order
	orig  map[string]string   // canonical -> original-case key
	data  map[string][]string // canonical -> values, insertion order
}

// NewMultiMap returns an empty MultiMap.
func NewMultiMap() *MultiMap {
	return &MultiMap{
		orig: make(map[string]string),
		data: make(map[string][]string),
	}
}

// Add appends a value under key, preserving the first-seen casing of key.
func (m *MultiMap) Add(key, value string) {
	canon := strings.ToLower(key)
	if _, ok := m.orig[canon]; !ok {
		m.orig[canon] = key
		m.order = append(m.order, canon)
	}
	m.data[canon] = append(m.data[canon], value)
}

// Get returns the first value for key, and whether it was present.
func (m *MultiMap) Get(key string) (string, bool) {
	vals := m.data[strings.ToLower(key)]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Values returns all values for key in insertion order.
func (m *MultiMap) Values(key string) []string {
	return m.data[strings.ToLower(key)]
}

// Has reports whether key has at least one value.
func (m *MultiMap) Has(key string) bool {
	_, ok := m.data[strings.ToLower(key)]
	return ok
}

// Keys returns the keys in first-seen order, using their original casing.
func (m *MultiMap) Keys() []string {
	keys := make([]string, len(m.order))
	for i, c := range m.order {
		keys[i] = m.orig[c]
	}
	return keys
}

// Clone returns a deep copy.
func (m *MultiMap) Clone() *MultiMap {
	out := NewMultiMap()
	for _, canon := range m.order {
		key := m.orig[canon]
		for _, v := range m.data[canon] {
			out.Add(key, v)
		}
	}
	return out
}

// Del removes all values for key.
func (m *MultiMap) Del(key string) {
	canon := strings.ToLower(key)
	if _, ok := m.orig[canon]; !ok {
		return
	}
	delete(m.orig, canon)
	delete(m.data, canon)
	for i, c := range m.order {
		if c == canon {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

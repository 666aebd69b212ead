// Package domain contains core domain types for the agent desktop simulator.
package domain

// Value types for attached-data entries.
const (
	TypeStr    = "str"
	TypeInt    = "int"
	TypeKVList = "kvlist"
)

// KeyValue is one attached-data entry. Value holds a string for TypeStr, an
// int for TypeInt, or a nested KVList for TypeKVList.
type KeyValue struct {
	Key   string `json:"key" yaml:"key"`
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value" yaml:"value"`
}

// KVList is an ordered attached-data collection. Duplicate keys are allowed;
// operations that "update" are expected to consolidate duplicates first.
type KVList []KeyValue

// CreateOrUpdate replaces the first entry matching kv.Key, or appends kv if
// no entry matches.
func (l KVList) CreateOrUpdate(kv KeyValue) KVList {
	for i := range l {
		if l[i].Key == kv.Key {
			l[i] = kv
			return l
		}
	}
	return append(l, kv)
}

// ConsolidateKey removes all but the first entry carrying the given key,
// preserving the order of everything else.
func (l KVList) ConsolidateKey(key string) KVList {
	out := l[:0]
	seen := false
	for _, kv := range l {
		if kv.Key == key {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, kv)
	}
	return out
}

// DeletePair removes the first entry with the given key. The second return
// reports whether an entry was removed.
func (l KVList) DeletePair(key string) (KVList, bool) {
	for i := range l {
		if l[i].Key == key {
			return append(l[:i], l[i+1:]...), true
		}
	}
	return l, false
}

// Get returns the value of the first entry with the given key.
func (l KVList) Get(key string) (any, bool) {
	for _, kv := range l {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// GetString returns the value of the first entry with the given key when it
// is a string.
func (l KVList) GetString(key string) string {
	if v, ok := l.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Clone returns a shallow copy of the list. Nested kvlist values are shared;
// callers that mutate nested lists must clone them separately.
func (l KVList) Clone() KVList {
	if l == nil {
		return nil
	}
	out := make(KVList, len(l))
	copy(out, l)
	return out
}

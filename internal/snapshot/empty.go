package snapshot

import "strings"

// IsDeepEmpty reports whether v carries no real data.
//
// Null, blank strings, booleans and numbers are empty: a bare counter or a
// timestamp is not user content. Arrays are empty only when they have no
// elements; objects are empty when every member is deep empty.
func IsDeepEmpty(v Value) bool {
	switch v.kind {
	case KindNull, KindBool, KindNumber:
		return true
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindArray:
		return len(v.arr) == 0
	case KindObject:
		for _, field := range v.obj {
			if !IsDeepEmpty(field) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsToolEmpty reports whether one tool payload is empty. A payload without a
// data member, or with data set to null, is treated as non-empty.
func IsToolEmpty(tool Value) bool {
	data, ok := tool.Get("data")
	if !ok || data.IsNull() {
		return false
	}
	return IsDeepEmpty(data)
}

// IsAllToolsEmpty reports whether the whole snapshot is empty. An empty
// snapshot is empty; payloads that are not objects are ignored.
func IsAllToolsEmpty(s Snapshot) bool {
	for _, tool := range s {
		if tool.Kind() != KindObject {
			continue
		}
		if !IsToolEmpty(tool) {
			return false
		}
	}
	return true
}

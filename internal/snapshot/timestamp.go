package snapshot

import (
	"math"
	"strconv"
	"strings"
)

// timestampKeys перечисляет имена полей, в которых инструменты хранят время
// изменения записи (epoch ms).
var timestampKeys = map[string]struct{}{
	"updated_at":    {},
	"updatedAt":     {},
	"updated_at_ms": {},
	"updatedAtMs":   {},
}

// LatestTimestamp returns the largest modification timestamp found at any
// depth of the snapshot, or 0 when there is none. It is the logical clock of
// the snapshot, not the receive time.
func LatestTimestamp(s Snapshot) int64 {
	return LatestTimestampOf(s.Value())
}

// LatestTimestampOf is LatestTimestamp for an arbitrary value.
func LatestTimestampOf(root Value) int64 {
	var maxMs int64
	stack := []Value{root}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch current.kind {
		case KindObject:
			for key, field := range current.obj {
				if _, ok := timestampKeys[key]; ok {
					if ms, ok := readMillis(field); ok && ms > maxMs {
						maxMs = ms
					}
				}
				stack = append(stack, field)
			}
		case KindArray:
			stack = append(stack, current.arr...)
		}
	}

	return maxMs
}

// readMillis parses a timestamp field value as a non-negative millisecond
// count.
func readMillis(v Value) (int64, bool) {
	switch v.kind {
	case KindNumber:
		return numberMillis(string(v.num))
	case KindString:
		text := strings.TrimSpace(v.str)
		if text == "" || !isASCIIDigits(text) {
			return 0, false
		}
		ms, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, false
		}
		return ms, true
	default:
		return 0, false
	}
}

func numberMillis(lit string) (int64, bool) {
	if !strings.ContainsAny(lit, ".eE") {
		ms, err := strconv.ParseInt(lit, 10, 64)
		if err != nil || ms < 0 {
			return 0, false
		}
		return ms, true
	}

	f, err := strconv.ParseFloat(lit, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	// усечение к нулю: -0.5 даёт 0 и принимается
	truncated := math.Trunc(f)
	if truncated < 0 || truncated >= math.MaxInt64 {
		return 0, false
	}
	return int64(truncated), true
}

func isASCIIDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

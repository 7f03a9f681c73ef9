package attrs

import "fmt"

// ExtractString extracts a string value from a key-value attribute slice.
// The slice should be formatted as [key1, value1, key2, value2, ...].
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
			if s, ok := attrs[i+1].(fmt.Stringer); ok {
				return s.String()
			}
		}
	}
	return ""
}

// StringMap renders the pairs whose key is not in skip as strings.
func StringMap(attrs []any, skip ...string) map[string]string {
	out := make(map[string]string)
outer:
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		out[k] = fmt.Sprint(attrs[i+1])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

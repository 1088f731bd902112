// Package cachekey derives stable cache keys from a logical data set name and
// its request parameters.
package cachekey

import "encoding/json"

// Build returns the cache key for name and params. Keys depend only on the
// contents of params, never on insertion or iteration order: encoding/json
// writes map keys in sorted order. A nil or empty params map yields name.
func Build(name string, params map[string]string) string {
	if len(params) == 0 {
		return name
	}
	// Marshalling a map[string]string cannot fail.
	data, _ := json.Marshal(params)
	return name + ":" + string(data)
}

// Merge returns a new map holding base overlaid with override.
// Neither input is modified.
func Merge(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Package cache holds the key layout and value codec shared by the
// redis-backed caches.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key joins prefix and parts with ":", e.g. "categories:<tenant>".
func Key(prefix string, parts ...any) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

func Encode[T any](v T) ([]byte, error) {
	res, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache.Encode: %w", err)
	}
	return res, nil
}

func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("cache.Decode: %w", err)
	}
	return v, nil
}

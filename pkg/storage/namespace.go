package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// namespaceSeparator joins encoded namespace segments.
const namespaceSeparator = "/"

// EncodeNamespace turns namespace segments into a single path string.
// Each segment is path-escaped so the separator never appears inside one.
func EncodeNamespace(namespace []string) string {
	parts := make([]string, len(namespace))
	for i, seg := range namespace {
		parts[i] = url.PathEscape(seg)
	}
	return strings.Join(parts, namespaceSeparator)
}

// DecodeNamespace reverses EncodeNamespace.
func DecodeNamespace(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, namespaceSeparator)
	out := make([]string, len(parts))
	for i, p := range parts {
		seg, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("decode namespace %q: %w", path, err)
		}
		out[i] = seg
	}
	return out, nil
}

// NamespaceMatches reports whether namespace equals target, or lies below it
// when prefix is set.
func NamespaceMatches(namespace, target []string, prefix bool) bool {
	if !prefix && len(namespace) != len(target) {
		return false
	}
	if len(namespace) < len(target) {
		return false
	}
	for i := range target {
		if namespace[i] != target[i] {
			return false
		}
	}
	return true
}

// LikePattern returns a SQL LIKE pattern matching every namespace strictly
// below the encoded path. Wildcards in path are escaped with '!', so queries
// must declare ESCAPE '!'.
func LikePattern(encoded string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(encoded) + namespaceSeparator + "%"
}

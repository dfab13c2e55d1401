package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Placeholder renders the nth (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

// QuestionMark renders "?" placeholders (SQLite, MySQL, OceanBase).
func QuestionMark(int) string { return "?" }

// Dollar renders "$n" placeholders (PostgreSQL).
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// NamespaceClause builds the condition selecting a namespace, or a namespace
// subtree when prefix is set, against the given column. Placeholders start at
// index start. An empty condition means every namespace matches.
func NamespaceClause(column string, namespace []string, prefix bool, ph Placeholder, start int) (string, []interface{}) {
	encoded := EncodeNamespace(namespace)
	if !prefix {
		return fmt.Sprintf("%s = %s", column, ph(start)), []interface{}{encoded}
	}
	if len(namespace) == 0 {
		return "", nil
	}
	cond := fmt.Sprintf(`(%s = %s OR %s LIKE %s ESCAPE '!')`, column, ph(start), column, ph(start+1))
	return cond, []interface{}{encoded, LikePattern(encoded)}
}

// MarshalFields encodes structured content for a TEXT/JSON column.
func MarshalFields(fields map[string]interface{}) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// UnmarshalFields decodes a column written by MarshalFields.
func UnmarshalFields(raw string) (map[string]interface{}, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}

// FormatVector renders a vector literal accepted by pgvector and OceanBase:
// "[0.1,0.2,0.3]".
func FormatVector(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseVector parses a literal produced by FormatVector.
func ParseVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		out[i] = v
	}
	return out, nil
}

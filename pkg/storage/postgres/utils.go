package postgres

import (
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// buildWhereClause builds a WHERE clause starting from $1.
func buildWhereClause(namespace []string, prefix bool) (string, []interface{}) {
	return buildWhereClauseWithOffset(namespace, prefix, 1)
}

// buildWhereClauseWithOffset builds a WHERE clause starting from a specific parameter index.
func buildWhereClauseWithOffset(namespace []string, prefix bool, startIndex int) (string, []interface{}) {
	cond, args := storage.NamespaceClause("namespace", namespace, prefix, storage.Dollar, startIndex)
	if cond == "" {
		return "", nil
	}
	return "WHERE " + cond, args
}

package sqlite

import (
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// buildWhereClause builds the namespace WHERE clause.
func buildWhereClause(namespace []string, prefix bool) (string, []interface{}) {
	cond, args := storage.NamespaceClause("namespace", namespace, prefix, storage.QuestionMark, 1)
	if cond == "" {
		return "", nil
	}
	return "WHERE " + cond, args
}

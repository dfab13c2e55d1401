package oceanbase

import (
	"crypto/md5"
	"encoding/hex"

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

// generateHash generates an MD5 hash for content.
func generateHash(content string) string {
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}

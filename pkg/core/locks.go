package core

import (
	"hash/fnv"
	"sync"
)

const defaultLockStripes = 256

// keyLocks serializes writers on the same (namespace, key). Distinct keys
// may share a stripe; that only costs parallelism.
type keyLocks struct {
	stripes []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = defaultLockStripes
	}
	return &keyLocks{stripes: make([]sync.Mutex, n)}
}

func (l *keyLocks) lock(ns Namespace, key string) func() {
	h := fnv.New32a()
	for _, seg := range ns {
		_, _ = h.Write([]byte(seg))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte(key))

	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}

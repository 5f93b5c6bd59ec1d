package session

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 64

// Locker serialises work per session id using a fixed set of mutexes. Two ids
// may share a stripe; that only costs concurrency, never correctness.
type Locker struct {
	stripes []sync.Mutex
}

func NewLocker(stripes int) *Locker {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	return &Locker{stripes: make([]sync.Mutex, stripes)}
}

// Lock blocks until the session's stripe is free and returns its unlock func.
func (l *Locker) Lock(id string) func() {
	m := &l.stripes[xxhash.Sum64String(id)%uint64(len(l.stripes))]
	m.Lock()
	return m.Unlock
}

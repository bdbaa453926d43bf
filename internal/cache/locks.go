package cache

import (
	"sort"
	"sync"
)

// LockRegistry 记录 key → holder 集合。只要集合非空，Evictor 就不会删除该 key。
// 持有者以 ID 集合而非计数表示，同一 holder 重复 Acquire/Release 都是幂等的。
//
// 多个 Engine 共享同一个 CacheRoot 时必须显式共享同一个 LockRegistry 实例。
type LockRegistry struct {
	mu      sync.Mutex
	holders map[string]map[string]struct{}
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{holders: make(map[string]map[string]struct{})}
}

// Acquire adds holderID to the key's holder set.
func (r *LockRegistry) Acquire(key, holderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.holders[key]
	if set == nil {
		set = make(map[string]struct{})
		r.holders[key] = set
	}
	set[holderID] = struct{}{}
}

// Release removes holderID; the key entry disappears once no holder remains.
func (r *LockRegistry) Release(key, holderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.holders[key]
	if !ok {
		return
	}
	delete(set, holderID)
	if len(set) == 0 {
		delete(r.holders, key)
	}
}

// IsLocked reports whether any holder references key.
func (r *LockRegistry) IsLocked(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders[key]) > 0
}

// Holders 返回 key 当前的持有者（已排序），用于诊断接口。
func (r *LockRegistry) Holders(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.holders[key]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of locked keys.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}

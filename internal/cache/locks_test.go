package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockRegistryAcquireRelease(t *testing.T) {
	locks := NewLockRegistry()
	key := testKey("a", "png")

	locks.Acquire(key, "holder-1")
	assert.True(t, locks.IsLocked(key))

	locks.Release(key, "holder-1")
	assert.False(t, locks.IsLocked(key))
	assert.Equal(t, 0, locks.Len(), "empty holder sets must be removed")
	assert.Nil(t, locks.Holders(key))
}

func TestLockRegistryIsIdempotentPerHolder(t *testing.T) {
	locks := NewLockRegistry()
	key := testKey("a", "png")

	locks.Acquire(key, "holder-1")
	locks.Acquire(key, "holder-1")
	locks.Acquire(key, "holder-2")
	assert.Equal(t, []string{"holder-1", "holder-2"}, locks.Holders(key))

	locks.Release(key, "holder-1")
	assert.True(t, locks.IsLocked(key), "holder-2 still references the key")

	locks.Release(key, "holder-1")
	locks.Release(key, "unknown")
	assert.True(t, locks.IsLocked(key))

	locks.Release(key, "holder-2")
	assert.False(t, locks.IsLocked(key))
	assert.Equal(t, 0, locks.Len())
}

func TestLockRegistryConcurrentHolders(t *testing.T) {
	locks := NewLockRegistry()
	key := testKey("shared", "gif")

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			locks.Acquire(key, id)
			_ = locks.IsLocked(key)
			locks.Release(key, id)
		}(fmt.Sprintf("holder-%d", i))
	}
	wg.Wait()

	assert.False(t, locks.IsLocked(key))
	assert.Equal(t, 0, locks.Len())
}

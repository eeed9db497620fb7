package task

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := uuid.New()
	entry := &runningJob{ownerID: uuid.New(), token: NewCancellationToken(), done: make(chan struct{})}

	assert.NoError(t, r.register(id, entry))
	assert.ErrorIs(t, r.register(id, entry), ErrAlreadyRegistered)
	assert.True(t, r.Contains(id))
	assert.Equal(t, 1, r.Len())

	got, ok := r.get(id)
	assert.True(t, ok)
	assert.Same(t, entry, got)

	snap := r.snapshot()
	r.remove(id)
	assert.False(t, r.Contains(id))
	assert.Len(t, snap, 1)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			_ = r.register(id, &runningJob{token: NewCancellationToken()})
			_ = r.Contains(id)
			_ = r.snapshot()
			r.remove(id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

package idempotency

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextFormat(t *testing.T) {
	p := NewProvider()
	key := p.Next()
	assert.True(t, strings.HasPrefix(key, "idem_"))
	assert.Len(t, key, len("idem_")+36)
}

func TestNextUniqueAcrossConcurrentCallers(t *testing.T) {
	p := NewProvider()

	const callers = 50
	const perCaller = 100

	var mu sync.Mutex
	seen := make(map[string]bool, callers*perCaller)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := make([]string, 0, perCaller)
			for j := 0; j < perCaller; j++ {
				keys = append(keys, p.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, k := range keys {
				assert.False(t, seen[k], "duplicate key %s", k)
				seen[k] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, callers*perCaller)
}

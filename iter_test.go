package shardmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func seeded(n int) *Map[string, int] {
	m := New[string, int]()
	for i := 0; i < n; i++ {
		m.Insert(fmt.Sprintf("key-%03d", i), i)
	}
	return m
}

func TestRangeVisitsEveryEntryOnce(t *testing.T) {
	m := seeded(200)

	seen := make(map[string]int)
	m.Range(func(k string, v int) bool {
		seen[k]++
		if seen[k] > 1 {
			t.Fatalf("key %q visited twice", k)
		}
		require.Equal(t, k, fmt.Sprintf("key-%03d", v))
		return true
	})
	require.Len(t, seen, 200)
}

func TestRangeEarlyStop(t *testing.T) {
	m := seeded(100)

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return visited < 10
	})
	require.Equal(t, 10, visited)

	// The early return must not leave any shard locked.
	m.Insert("after", 1)
	require.True(t, m.ContainsKey("after"))
}

func TestRangeMut(t *testing.T) {
	m := seeded(50)

	m.RangeMut(func(_ string, v *int) bool {
		*v *= 2
		return true
	})

	v, _ := m.Load("key-007")
	require.Equal(t, 14, v)
}

func TestAllIterator(t *testing.T) {
	m := seeded(64)

	seen := 0
	for k, v := range m.All() {
		require.Equal(t, k, fmt.Sprintf("key-%03d", v))
		seen++
	}
	require.Equal(t, 64, seen)

	// Break mid-iteration, then verify no shard stayed locked.
	for range m.All() {
		break
	}
	m.Insert("after", 1)
	require.True(t, m.ContainsKey("after"))
}

func TestKeysAndValues(t *testing.T) {
	m := seeded(30)

	keys := m.Keys()
	values := m.Values()
	require.Len(t, keys, 30)
	require.Len(t, values, 30)

	require.ElementsMatch(t, keys, func() []string {
		want := make([]string, 30)
		for i := range want {
			want[i] = fmt.Sprintf("key-%03d", i)
		}
		return want
	}())
}

func TestRetain(t *testing.T) {
	m := seeded(100)

	m.Retain(func(_ string, v *int) bool {
		return *v%2 == 0
	})

	require.Equal(t, 50, m.Len())
	require.True(t, m.ContainsKey("key-042"))
	require.False(t, m.ContainsKey("key-043"))
}

func TestRetainMayRewriteSurvivors(t *testing.T) {
	m := seeded(10)

	m.Retain(func(_ string, v *int) bool {
		if *v < 5 {
			*v += 100
			return true
		}
		return false
	})

	require.Equal(t, 5, m.Len())
	v, _ := m.Load("key-003")
	require.Equal(t, 103, v)
}

func TestAlterAll(t *testing.T) {
	m := seeded(20)

	m.AlterAll(func(_ string, v int) int { return -v })

	v, _ := m.Load("key-011")
	require.Equal(t, -11, v)
	require.Equal(t, 20, m.Len())
}

func TestRangeDuringConcurrentWrites(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 128; i++ {
		m.Insert(i, i)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 128; ; i++ {
			select {
			case <-stop:
				return
			default:
				m.Insert(i%1024, i)
				m.Remove((i + 512) % 1024)
			}
		}
	}()

	// The traversal must never crash or tear; entries present before
	// the call and never deleted must all appear.
	for pass := 0; pass < 20; pass++ {
		seen := 0
		m.Range(func(int, int) bool {
			seen++
			return true
		})
		require.LessOrEqual(t, seen, 1024)
	}

	close(stop)
	wg.Wait()
}

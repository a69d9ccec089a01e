package shardmap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewDefaults(t *testing.T) {
	m := New[string, int]()
	n := m.ShardCount()
	require.Greater(t, n, 0)
	require.Zero(t, n&(n-1), "shard count %d is not a power of two", n)
	require.True(t, m.IsEmpty())
	require.Zero(t, m.Len())
}

func TestNewWithValidation(t *testing.T) {
	m := NewWith[string, int](Config[string]{Shards: 8, Capacity: 1024})
	require.Equal(t, 8, m.ShardCount())

	assert.Panics(t, func() { NewWith[string, int](Config[string]{Shards: 12}) })
	assert.Panics(t, func() { NewWith[string, int](Config[string]{Shards: -4}) })
}

func TestNewWithSingleShard(t *testing.T) {
	m := NewWith[string, int](Config[string]{Shards: 1})
	m.Insert("a", 1)
	m.Insert("b", 2)
	require.Equal(t, 2, m.Len())
	v, ok := m.Load("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestInsertReturnsPrevious(t *testing.T) {
	m := New[string, int]()

	prev, replaced := m.Insert("k", 1)
	require.False(t, replaced)
	require.Zero(t, prev)

	prev, replaced = m.Insert("k", 2)
	require.True(t, replaced)
	require.Equal(t, 1, prev)

	v, ok := m.Load("k")
	require.True(t, ok)
	require.Equal(t, 2, v)
	require.Equal(t, 1, m.Len(), "reinserting a key must not grow the map")
}

func TestLoadMiss(t *testing.T) {
	m := New[string, int]()
	v, ok := m.Load("absent")
	require.False(t, ok)
	require.Zero(t, v)
}

func TestRemove(t *testing.T) {
	m := New[string, int]()
	m.Insert("k", 7)

	k, v, ok := m.Remove("k")
	require.True(t, ok)
	require.Equal(t, "k", k)
	require.Equal(t, 7, v)
	require.False(t, m.ContainsKey("k"))

	// Removing an absent key is a no-op, not an error.
	k, v, ok = m.Remove("k")
	require.False(t, ok)
	require.Zero(t, k)
	require.Zero(t, v)
}

func TestRemoveIf(t *testing.T) {
	m := New[string, int]()
	m.Insert("k", 3)

	_, _, ok := m.RemoveIf("k", func(_ string, v int) bool { return v > 10 })
	require.False(t, ok)
	require.True(t, m.ContainsKey("k"))

	k, v, ok := m.RemoveIf("k", func(_ string, v int) bool { return v == 3 })
	require.True(t, ok)
	require.Equal(t, "k", k)
	require.Equal(t, 3, v)
	require.False(t, m.ContainsKey("k"))

	_, _, ok = m.RemoveIf("absent", func(string, int) bool { return true })
	require.False(t, ok)
}

func TestAlter(t *testing.T) {
	m := New[string, int]()
	m.Insert("k", 2)

	m.Alter("k", func(_ string, v int) int { return v * 10 })
	v, _ := m.Load("k")
	require.Equal(t, 20, v)

	m.Alter("absent", func(_ string, v int) int { return v + 1 })
	require.False(t, m.ContainsKey("absent"), "Alter must not create entries")
}

func TestLenAndClear(t *testing.T) {
	m := New[int, string]()
	for i := 0; i < 100; i++ {
		m.Insert(i, "v")
	}
	require.Equal(t, 100, m.Len())
	require.False(t, m.IsEmpty())

	total := 0
	for _, n := range m.ShardSizes() {
		total += n
	}
	require.Equal(t, 100, total)

	m.Clear()
	require.Zero(t, m.Len())
	require.True(t, m.IsEmpty())
}

func TestShardDeterminism(t *testing.T) {
	m := New[string, int]()
	keys := []string{"", "a", "alpha", "beta", "some/longer/key/with/path", "日本語"}
	for _, k := range keys {
		first := m.shardFor(k)
		for i := 0; i < 10; i++ {
			require.Same(t, first, m.shardFor(k), "key %q moved shards", k)
		}
	}
}

func TestCrossShardIndependence(t *testing.T) {
	m := NewWith[int, int](Config[int]{Shards: 16})

	// Hold one key's shard exclusively; keys in other shards must
	// remain freely writable.
	g, ok := m.GetOrInsert(1, 1)
	require.False(t, ok)
	defer g.Release()

	locked := m.shardFor(1)
	wrote := 0
	for k := 2; k < 200 && wrote < 10; k++ {
		if m.shardFor(k) == locked {
			continue
		}
		m.Insert(k, k)
		wrote++
	}
	require.Equal(t, 10, wrote)
}

func TestTryGet(t *testing.T) {
	m := New[string, int]()
	m.Insert("k", 1)

	// Free lock, present key.
	r, ok := m.TryGet("k")
	require.True(t, ok)
	require.NotNil(t, r)
	r.Release()

	// Free lock, absent key.
	r, ok = m.TryGet("absent")
	require.True(t, ok)
	require.Nil(t, r)

	// Busy shard.
	w, found := m.GetMut("k")
	require.True(t, found)
	r, ok = m.TryGet("k")
	require.False(t, ok)
	require.Nil(t, r)
	w.Release()
}

func TestTryGetMutAndTryEntry(t *testing.T) {
	m := New[string, int]()
	m.Insert("k", 1)

	r, found := m.Get("k")
	require.True(t, found)

	// A read hold blocks exclusive attempts but not shared ones.
	w, ok := m.TryGetMut("k")
	require.False(t, ok)
	require.Nil(t, w)
	e, ok := m.TryEntry("k")
	require.False(t, ok)
	require.Nil(t, e)

	r2, ok := m.TryGet("k")
	require.True(t, ok)
	r2.Release()
	r.Release()

	w, ok = m.TryGetMut("k")
	require.True(t, ok)
	w.Release()

	e, ok = m.TryEntry("k")
	require.True(t, ok)
	e.Release()
}

func TestGetOrInsertSingleWinner(t *testing.T) {
	m := New[string, int]()
	const goroutines = 32

	var built atomic.Int32
	var wg sync.WaitGroup
	values := make([]int, goroutines)
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			<-start
			g, _ := m.GetOrInsertWith("once", func() int {
				return int(built.Add(1))
			})
			values[slot] = g.Value()
			g.Release()
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), built.Load(), "constructor ran more than once")
	for i, v := range values {
		require.Equal(t, 1, v, "goroutine %d saw a losing value", i)
	}
	require.Equal(t, 1, m.Len())
}

func TestGetOrInsertLoaded(t *testing.T) {
	m := New[string, int]()

	g, loaded := m.GetOrInsert("k", 5)
	require.False(t, loaded)
	require.Equal(t, 5, g.Value())
	g.Release()

	g, loaded = m.GetOrInsert("k", 99)
	require.True(t, loaded)
	require.Equal(t, 5, g.Value(), "existing value must win")
	g.Release()
}

func TestConcurrentInsertDistinctKeys(t *testing.T) {
	m := New[int, int]()
	const (
		goroutines = 8
		perG       = 1000
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				m.Insert(base*perG+i, i)
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, goroutines*perG, m.Len())
}

func TestConcurrentSameKey(t *testing.T) {
	m := New[string, int]()
	const goroutines = 16

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.Insert("contended", v)
				m.Load("contended")
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, 1, m.Len(), "one key must occupy one slot")
	_, ok := m.Load("contended")
	require.True(t, ok)
}

func TestConcurrentStoreAndDelete(t *testing.T) {
	m := New[int, int]()
	const keys = 256

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
					m.Insert(i%keys, i)
				}
			}
		}()
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
					m.Remove(i % keys)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if n := m.Len(); n < 0 || n > keys {
				t.Errorf("Len = %d, want 0..%d", n, keys)
				return
			}
		}
	}()
	<-done
	close(stop)
	wg.Wait()
}

func TestMixedOpsStress(t *testing.T) {
	m := New[int, int]()
	const (
		keys  = 128
		iters = 5000
	)

	// Writers only ever store k*2, so any other observed value is a
	// torn read.
	var g errgroup.Group
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < iters; i++ {
				k := i % keys
				m.Insert(k, k*2)
			}
			return nil
		})
		g.Go(func() error {
			for i := 0; i < iters; i++ {
				k := i % keys
				if v, ok := m.Load(k); ok && v != k*2 {
					return fmt.Errorf("key %d holds %d, want %d", k, v, k*2)
				}
			}
			return nil
		})
		g.Go(func() error {
			for i := 0; i < iters; i++ {
				k := i % keys
				if rk, v, ok := m.Remove(k); ok && (rk != k || v != k*2) {
					return fmt.Errorf("removed pair (%d, %d) from key %d", rk, v, k)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	if n := m.Len(); n < 0 || n > keys {
		t.Fatalf("Len = %d, want 0..%d", n, keys)
	}
}

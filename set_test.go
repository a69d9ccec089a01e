package shardmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetBasics(t *testing.T) {
	s := NewSet[string]()

	require.True(t, s.Insert("a"))
	require.False(t, s.Insert("a"), "second insert of the same item")
	require.True(t, s.Contains("a"))
	require.False(t, s.Contains("b"))
	require.Equal(t, 1, s.Len())

	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	require.True(t, s.IsEmpty())
}

func TestSetRangeAndItems(t *testing.T) {
	s := NewSetWith[int](Config[int]{Shards: 8})
	for i := 0; i < 50; i++ {
		s.Insert(i)
	}

	seen := 0
	for range s.All() {
		seen++
	}
	require.Equal(t, 50, seen)
	require.Len(t, s.Items(), 50)

	s.Clear()
	require.True(t, s.IsEmpty())
}

func TestSetConcurrentInsert(t *testing.T) {
	s := NewSet[string]()
	const goroutines = 8

	var wg sync.WaitGroup
	winners := make([]int, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if s.Insert(fmt.Sprintf("item-%d", i)) {
					winners[slot]++
				}
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, 200, s.Len())
	total := 0
	for _, w := range winners {
		total += w
	}
	require.Equal(t, 200, total, "each item must have exactly one winning insert")
}

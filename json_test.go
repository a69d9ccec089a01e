package shardmap

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
)

func TestMapJSONRoundTrip(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1)
	m.Insert("b", 2)
	m.Insert("c", 3)

	data, err := sonnet.Marshal(m)
	require.NoError(t, err)

	back := New[string, int]()
	require.NoError(t, sonnet.Unmarshal(data, back))

	require.Equal(t, 3, back.Len())
	for _, k := range []string{"a", "b", "c"} {
		want, _ := m.Load(k)
		got, ok := back.Load(k)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestMapJSONStructValues(t *testing.T) {
	type user struct {
		Name  string `json:"name"`
		Admin bool   `json:"admin"`
	}
	m := New[string, user]()
	m.Insert("root", user{Name: "root", Admin: true})

	data, err := m.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"root":{"name":"root","admin":true}}`, string(data))
}

func TestMapJSONMergesIntoExisting(t *testing.T) {
	m := New[string, int]()
	m.Insert("kept", 1)
	m.Insert("replaced", 1)

	err := m.UnmarshalJSON([]byte(`{"replaced": 2, "added": 3}`))
	require.NoError(t, err)

	require.Equal(t, 3, m.Len())
	v, _ := m.Load("kept")
	require.Equal(t, 1, v)
	v, _ = m.Load("replaced")
	require.Equal(t, 2, v)
	v, _ = m.Load("added")
	require.Equal(t, 3, v)
}

func TestMapJSONInvalid(t *testing.T) {
	m := New[string, int]()
	require.Error(t, m.UnmarshalJSON([]byte(`[1,2,3]`)))
	require.Error(t, m.UnmarshalJSON([]byte(`{"k": "not an int"}`)))
	require.Zero(t, m.Len())
}

func TestSetJSONRoundTrip(t *testing.T) {
	s := NewSet[string]()
	s.Insert("x")
	s.Insert("y")

	data, err := sonnet.Marshal(s)
	require.NoError(t, err)

	back := NewSet[string]()
	require.NoError(t, sonnet.Unmarshal(data, back))
	require.Equal(t, 2, back.Len())
	require.True(t, back.Contains("x"))
	require.True(t, back.Contains("y"))
}

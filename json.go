package shardmap

import "github.com/sugawarayuuta/sonnet"

// MarshalJSON encodes the map as a JSON object. The snapshot is
// weakly consistent, like Range. K must be usable as a JSON object
// key: a string, an integer type, or a TextMarshaler.
func (m *Map[K, V]) MarshalJSON() ([]byte, error) {
	plain := make(map[K]V, m.Len())
	m.Range(func(k K, v V) bool {
		plain[k] = v
		return true
	})
	return sonnet.Marshal(plain)
}

// UnmarshalJSON decodes a JSON object and inserts every pair. The map
// must have been created with New or NewWith; entries already present
// under other keys are kept.
func (m *Map[K, V]) UnmarshalJSON(data []byte) error {
	var plain map[K]V
	if err := sonnet.Unmarshal(data, &plain); err != nil {
		return err
	}
	for k, v := range plain {
		m.Insert(k, v)
	}
	return nil
}

// MarshalJSON encodes the set as a JSON array, in no particular
// order.
func (s *Set[K]) MarshalJSON() ([]byte, error) {
	return sonnet.Marshal(s.Items())
}

// UnmarshalJSON decodes a JSON array and inserts every item. The set
// must have been created with NewSet or NewSetWith.
func (s *Set[K]) UnmarshalJSON(data []byte) error {
	var items []K
	if err := sonnet.Unmarshal(data, &items); err != nil {
		return err
	}
	for _, it := range items {
		s.m.Insert(it, struct{}{})
	}
	return nil
}

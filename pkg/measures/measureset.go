// Package measures provides the MeasureSet value type that identifies a node in the targeting lattice.
package measures

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

const idWidth = 8

var (
	// ErrInvalidMeasureSet is returned when a textual measure set cannot be parsed
	ErrInvalidMeasureSet = errors.New("invalid measure set")
)

// MeasureSet is an immutable set of measure IDs.
//
// The zero value is the empty set (the persona node). MeasureSet is
// comparable, so two sets holding the same IDs are == regardless of the
// order they were built in, and it can be used directly as a map key.
type MeasureSet struct {
	// key holds the sorted, deduplicated IDs as fixed-width big-endian words
	key string
}

// New builds a MeasureSet from the given IDs. Duplicates are ignored.
func New(ids ...int64) MeasureSet {
	if len(ids) == 0 {
		return MeasureSet{}
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	buf := make([]byte, len(sorted)*idWidth)
	for i, id := range sorted {
		binary.BigEndian.PutUint64(buf[i*idWidth:], uint64(id)) //nolint:gosec // two's complement round-trips
	}

	return MeasureSet{key: string(buf)}
}

// Persona returns the empty MeasureSet.
func Persona() MeasureSet {
	return MeasureSet{}
}

// Measures returns the IDs in ascending order.
func (m MeasureSet) Measures() []int64 {
	ids := make([]int64, m.Count())
	for i := range ids {
		ids[i] = m.at(i)
	}

	return ids
}

func (m MeasureSet) at(i int) int64 {
	return int64(binary.BigEndian.Uint64([]byte(m.key[i*idWidth : (i+1)*idWidth]))) //nolint:gosec // see New
}

// Count returns the number of measures, which is the node's tier.
func (m MeasureSet) Count() int {
	return len(m.key) / idWidth
}

// IsPersona reports whether the set is empty.
func (m MeasureSet) IsPersona() bool {
	return m.key == ""
}

// Contains reports whether id is a member of the set.
func (m MeasureSet) Contains(id int64) bool {
	n := m.Count()
	i := sort.Search(n, func(i int) bool { return m.at(i) >= id })

	return i < n && m.at(i) == id
}

// IsSubsetOf reports whether every measure of m is in other.
func (m MeasureSet) IsSubsetOf(other MeasureSet) bool {
	if m.Count() > other.Count() {
		return false
	}

	// Both sides are sorted so a single merge pass suffices.
	j := 0
	for i := 0; i < m.Count(); i++ {
		id := m.at(i)
		for j < other.Count() && other.at(j) < id {
			j++
		}

		if j == other.Count() || other.at(j) != id {
			return false
		}
		j++
	}

	return true
}

// IsProperSubsetOf reports whether m is a subset of other and smaller than it.
func (m MeasureSet) IsProperSubsetOf(other MeasureSet) bool {
	return m.Count() < other.Count() && m.IsSubsetOf(other)
}

// Union returns the set holding the measures of both sets.
func (m MeasureSet) Union(other MeasureSet) MeasureSet {
	return New(append(m.Measures(), other.Measures()...)...)
}

// Without returns a copy of m with id removed.
func (m MeasureSet) Without(id int64) MeasureSet {
	ids := m.Measures()

	return New(slices.DeleteFunc(ids, func(v int64) bool { return v == id })...)
}

// Compare orders sets by tier first and then lexicographically by ID.
// It returns -1, 0 or +1.
func (m MeasureSet) Compare(other MeasureSet) int {
	if c := cmp.Compare(m.Count(), other.Count()); c != 0 {
		return c
	}

	for i := 0; i < m.Count(); i++ {
		if c := cmp.Compare(m.at(i), other.at(i)); c != 0 {
			return c
		}
	}

	return 0
}

// Less reports whether m sorts before other.
func (m MeasureSet) Less(other MeasureSet) bool {
	return m.Compare(other) < 0
}

// String renders the set as "{1,2,3}"; the persona node renders as "{}".
func (m MeasureSet) String() string {
	var sb strings.Builder

	sb.WriteByte('{')
	for i := 0; i < m.Count(); i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(m.at(i), 10))
	}
	sb.WriteByte('}')

	return sb.String()
}

// MarshalText implements encoding.TextMarshaler so sets can key JSON objects.
func (m MeasureSet) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MeasureSet) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

// Parse reads a set written as "{1,2,3}" or "1,2,3". Both "{}" and "" yield the persona node.
func Parse(s string) (MeasureSet, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	if strings.TrimSpace(s) == "" {
		return MeasureSet{}, nil
	}

	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return MeasureSet{}, fmt.Errorf("%w: %q: %w", ErrInvalidMeasureSet, s, err)
		}
		ids = append(ids, id)
	}

	return New(ids...), nil
}

// Sort orders sets in place using Compare.
func Sort(sets []MeasureSet) {
	slices.SortFunc(sets, MeasureSet.Compare)
}

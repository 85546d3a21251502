package measures

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsOrderIndependent(t *testing.T) {
	a := New(3, 1, 2)
	b := New(2, 3, 1, 1)

	assert.Equal(t, a, b)
	assert.Equal(t, []int64{1, 2, 3}, a.Measures())
	assert.Equal(t, 3, a.Count())

	seen := map[MeasureSet]int{a: 1}
	seen[b]++
	assert.Len(t, seen, 1)
	assert.Equal(t, 2, seen[a])
}

func TestPersona(t *testing.T) {
	p := Persona()

	assert.True(t, p.IsPersona())
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, New(), p)
	assert.Equal(t, "{}", p.String())
	assert.Empty(t, p.Measures())
}

func TestMeasureSet_NegativeIDs(t *testing.T) {
	m := New(5, -2, 0)

	assert.Equal(t, []int64{-2, 0, 5}, m.Measures())
	assert.True(t, m.Contains(-2))
	assert.False(t, m.Contains(-1))
}

func TestMeasureSet_Subset(t *testing.T) {
	tests := []struct {
		name   string
		a, b   MeasureSet
		subset bool
		proper bool
	}{
		{name: "persona of anything", a: Persona(), b: New(1), subset: true, proper: true},
		{name: "persona of persona", a: Persona(), b: Persona(), subset: true, proper: false},
		{name: "equal sets", a: New(1, 2), b: New(2, 1), subset: true, proper: false},
		{name: "strict subset", a: New(1, 3), b: New(1, 2, 3), subset: true, proper: true},
		{name: "disjoint", a: New(4), b: New(1, 2, 3), subset: false, proper: false},
		{name: "larger set", a: New(1, 2, 3), b: New(1, 2), subset: false, proper: false},
		{name: "overlap only", a: New(1, 4), b: New(1, 2, 3), subset: false, proper: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.subset, tt.a.IsSubsetOf(tt.b))
			assert.Equal(t, tt.proper, tt.a.IsProperSubsetOf(tt.b))
		})
	}
}

func TestMeasureSet_Compare(t *testing.T) {
	sets := []MeasureSet{New(2, 3), New(1, 2, 3), Persona(), New(3), New(1, 3), New(1)}
	Sort(sets)

	assert.Equal(t, []MeasureSet{Persona(), New(1), New(3), New(1, 3), New(2, 3), New(1, 2, 3)}, sets)
	assert.True(t, New(1, 2).Less(New(1, 3)))
	assert.False(t, New(1, 3).Less(New(1, 3)))
}

func TestMeasureSet_UnionWithout(t *testing.T) {
	assert.Equal(t, New(1, 2, 3), New(1, 2).Union(New(2, 3)))
	assert.Equal(t, New(1, 3), New(1, 2, 3).Without(2))
	assert.Equal(t, New(1, 2), New(1, 2).Without(9))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    MeasureSet
		wantErr bool
	}{
		{in: "{1,2,3}", want: New(1, 2, 3)},
		{in: "3, 2 ,1", want: New(1, 2, 3)},
		{in: "{}", want: Persona()},
		{in: "", want: Persona()},
		{in: "{1,x}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMeasureSet)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMeasureSet_JSONMapKey(t *testing.T) {
	in := map[MeasureSet]float64{
		New(1, 2): 1.5,
		Persona(): 0.5,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"{1,2}":1.5,"{}":0.5}`, string(data))

	var out map[MeasureSet]float64
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestPowerSet(t *testing.T) {
	for n := 0; n <= 6; n++ {
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = int64(i + 10)
		}

		sets := PowerSet(ids)
		require.Len(t, sets, 1<<n)
		assert.Equal(t, Persona(), sets[0], "persona sorts first")

		distinct := make(map[MeasureSet]struct{}, len(sets))
		for _, s := range sets {
			distinct[s] = struct{}{}
			assert.True(t, s.IsSubsetOf(New(ids...)))
			assert.LessOrEqual(t, s.Count(), n)
		}
		assert.Len(t, distinct, len(sets))
	}
}

func TestPowerSet_EmptyAndDuplicates(t *testing.T) {
	assert.Equal(t, []MeasureSet{Persona()}, PowerSet(nil))
	assert.Len(t, PowerSet([]int64{1, 1, 2}), 4)
}

func TestPowerSetMaxTier(t *testing.T) {
	sets := PowerSetMaxTier([]int64{1, 2, 3, 4}, 2)

	// 1 persona + 4 singles + 6 pairs
	assert.Len(t, sets, 11)
	for _, s := range sets {
		assert.LessOrEqual(t, s.Count(), 2)
	}
}

func TestProperSubsets(t *testing.T) {
	assert.Equal(t,
		[]MeasureSet{New(1), New(2), New(3), New(1, 2), New(1, 3), New(2, 3)},
		New(1, 2, 3).ProperSubsets(false),
	)
	assert.Len(t, New(1, 2).ProperSubsets(true), 3)
	assert.Empty(t, Persona().ProperSubsets(true))
}

func TestUniverse(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 5}, Universe([]MeasureSet{New(2, 1), New(5), Persona()}))
}

package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

func TestLattice_FullPowerSet(t *testing.T) {
	lattice, err := NewLattice(measures.PowerSet([]int64{1, 2, 3}))
	require.NoError(t, err)

	assert.Equal(t, []measures.MeasureSet{
		measures.Persona(),
		measures.New(1),
		measures.New(2),
	}, lattice.Ancestors(measures.New(1, 2)))

	assert.Equal(t, []measures.MeasureSet{
		measures.New(1, 2),
		measures.New(1, 3),
		measures.New(1, 2, 3),
	}, lattice.Descendants(measures.New(1)))

	assert.Equal(t, []measures.MeasureSet{
		measures.New(1, 2),
		measures.New(1, 3),
		measures.New(2, 3),
	}, lattice.Parents(measures.New(1, 2, 3)))

	assert.Len(t, lattice.Descendants(measures.Persona()), 7)
	assert.Empty(t, lattice.Ancestors(measures.Persona()))
	assert.Empty(t, lattice.Descendants(measures.New(1, 2, 3)))
}

func TestLattice_SparseNodes(t *testing.T) {
	lattice, err := NewLattice([]measures.MeasureSet{
		measures.New(1),
		measures.New(2),
		measures.New(1, 2),
		measures.New(1, 2, 3),
		measures.New(1, 2, 3, 4),
	})
	require.NoError(t, err)

	// {1,2,3} skips the missing pairs and links straight to {1,2}.
	assert.Equal(t, []measures.MeasureSet{measures.New(1, 2)}, lattice.Parents(measures.New(1, 2, 3)))
	assert.Equal(t, []measures.MeasureSet{
		measures.New(1),
		measures.New(2),
		measures.New(1, 2),
		measures.New(1, 2, 3),
	}, lattice.Ancestors(measures.New(1, 2, 3, 4)))

	assert.True(t, lattice.Contains(measures.New(1, 2)))
	assert.False(t, lattice.Contains(measures.New(3)))
	assert.Empty(t, lattice.Ancestors(measures.New(3)))
	assert.Empty(t, lattice.Descendants(measures.New(3)))
}

func TestLattice_DuplicateNodes(t *testing.T) {
	lattice, err := NewLattice([]measures.MeasureSet{
		measures.New(1),
		measures.New(1),
		measures.New(2, 1),
		measures.New(1, 2),
	})
	require.NoError(t, err)

	assert.Equal(t, []measures.MeasureSet{measures.New(1, 2)}, lattice.Descendants(measures.New(1)))
}

package sweep

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerate(t *testing.T) {
	t.Run("single integer axis", func(t *testing.T) {
		space := Space{{Slot: 1, Min: 1, Max: 3, Step: 1, Kind: KindInteger}}
		assert.Equal(t, []Combination{{1}, {2}, {3}}, Enumerate(space))
	})

	t.Run("fixed axis yields one empty combination", func(t *testing.T) {
		space := Space{{Slot: 1, Name: "len", Min: 5, Max: 5, Step: 0, Kind: KindInteger}}
		combos := Enumerate(space)
		require.Equal(t, []Combination{{}}, combos)

		assignment, err := space.Assign(combos[0])
		require.NoError(t, err)
		require.Len(t, assignment, 1)
		assert.Equal(t, 5.0, assignment[0].Value)
	})

	t.Run("odometer order", func(t *testing.T) {
		space := Space{
			{Slot: 1, Min: 1, Max: 2, Step: 1, Kind: KindInteger},
			{Slot: 2, Min: 10, Max: 11, Step: 1, Kind: KindInteger},
		}
		assert.Equal(t, []Combination{{1, 10}, {1, 11}, {2, 10}, {2, 11}}, Enumerate(space))
	})

	t.Run("empty space", func(t *testing.T) {
		assert.Empty(t, Enumerate(nil))
		assert.Equal(t, 0, Cardinality(nil))
	})

	t.Run("fixed axes do not appear in the vector", func(t *testing.T) {
		space := Space{
			{Slot: 1, Min: 7, Max: 9, Step: 0, Kind: KindInteger},
			{Slot: 2, Min: 0, Max: 1, Step: 1, Kind: KindBool},
		}
		combos := Enumerate(space)
		assert.Equal(t, []Combination{{0}, {1}}, combos)
		for _, c := range combos {
			assignment, err := space.Assign(c)
			require.NoError(t, err)
			require.Len(t, assignment, 2)
			assert.Equal(t, 7.0, assignment[0].Value)
		}
	})

	t.Run("degenerate fixed axis is dropped", func(t *testing.T) {
		space := Space{
			{Slot: 1, Name: "broken", Min: 9, Max: 3, Step: 0, Kind: KindFloat},
			{Slot: 2, Name: "period", Min: 1, Max: 2, Step: 1, Kind: KindInteger},
		}
		assert.Len(t, space.Degraded(), 1)
		combos := Enumerate(space)
		require.Len(t, combos, 2)
		assignment, err := space.Assign(combos[1])
		require.NoError(t, err)
		require.Len(t, assignment, 1)
		assert.Equal(t, "period", assignment[0].Name)
	})

	t.Run("negative step descends", func(t *testing.T) {
		space := Space{{Slot: 1, Min: 3, Max: 1, Step: -1, Kind: KindInteger}}
		assert.Equal(t, []Combination{{3}, {2}, {1}}, Enumerate(space))
	})

	t.Run("step pointing away yields nothing", func(t *testing.T) {
		space := Space{
			{Slot: 1, Min: 1, Max: 3, Step: 1, Kind: KindInteger},
			{Slot: 2, Min: 5, Max: 1, Step: 1, Kind: KindInteger},
		}
		assert.Empty(t, Enumerate(space))
		assert.Equal(t, 0, Cardinality(space))
	})

	t.Run("float step absorbs accumulation error", func(t *testing.T) {
		space := Space{{Slot: 1, Min: 0, Max: 1, Step: 0.1, Kind: KindFloat}}
		combos := Enumerate(space)
		require.Len(t, combos, 11)
		assert.InDelta(t, 1.0, combos[10][0], 1e-12)
	})

	t.Run("deterministic", func(t *testing.T) {
		space := Space{
			{Slot: 1, Min: 0.5, Max: 2.5, Step: 0.25, Kind: KindFloat},
			{Slot: 2, Min: 10, Max: 1, Step: -3, Kind: KindInteger},
			{Slot: 3, Min: 4, Max: 4, Step: 0, Kind: KindInteger},
		}
		assert.Equal(t, Enumerate(space), Enumerate(space))
	})
}

func TestCardinalityMatchesEnumeration(t *testing.T) {
	cases := map[string]Space{
		"two varying": {
			{Slot: 1, Min: 1, Max: 10, Step: 3, Kind: KindInteger},
			{Slot: 2, Min: 0, Max: 0.5, Step: 0.1, Kind: KindFloat},
		},
		"only fixed": {
			{Slot: 1, Min: 1, Max: 1, Step: 0, Kind: KindInteger},
			{Slot: 2, Min: 2, Max: 2, Step: 0, Kind: KindInteger},
		},
		"mixed with degenerate": {
			{Slot: 1, Min: 2, Max: 1, Step: 0, Kind: KindInteger},
			{Slot: 2, Min: -1, Max: 1, Step: 0.5, Kind: KindFloat},
		},
	}
	for name, space := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, Cardinality(space), len(Enumerate(space)))
		})
	}
}

func TestEnumerateLargeGrid(t *testing.T) {
	space := Space{
		{Slot: 1, Min: 1, Max: 100, Step: 1, Kind: KindInteger},
		{Slot: 2, Min: 1, Max: 100, Step: 1, Kind: KindInteger},
		{Slot: 3, Min: 0, Max: 9, Step: 1, Kind: KindInteger},
	}
	combos := Enumerate(space)
	require.Len(t, combos, 100000)
	assert.Equal(t, Combination{1, 1, 0}, combos[0])
	assert.Equal(t, Combination{1, 1, 9}, combos[9])
	assert.Equal(t, Combination{1, 2, 0}, combos[10])
	assert.Equal(t, Combination{100, 100, 9}, combos[len(combos)-1])
}

func TestSpaceValidate(t *testing.T) {
	assert.ErrorIs(t, Space{}.Validate(), ErrConfiguration)
	dup := Space{{Slot: 1, Step: 1, Max: 2}, {Slot: 1, Step: 1, Max: 3}}
	assert.ErrorIs(t, dup.Validate(), ErrConfiguration)
	badKind := Space{{Slot: 1, Step: 1, Max: 2, Kind: "string"}}
	assert.ErrorIs(t, badKind.Validate(), ErrConfiguration)
	assert.NoError(t, Space{{Slot: 0, Min: 1, Max: 2, Step: 1, Kind: KindInteger}}.Validate())

	sameName := Space{
		{Slot: 1, Name: "period", Min: 1, Max: 2, Step: 1, Kind: KindInteger},
		{Slot: 2, Name: " period ", Min: 3, Max: 4, Step: 1, Kind: KindInteger},
	}
	err := sameName.Validate()
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), `"period"`)

	// an explicit name may not shadow the generated label of another slot
	shadow := Space{
		{Slot: 1, Name: "input_2", Min: 1, Max: 2, Step: 1, Kind: KindInteger},
		{Slot: 2, Min: 3, Max: 4, Step: 1, Kind: KindInteger},
	}
	assert.ErrorIs(t, shadow.Validate(), ErrConfiguration)
}

func TestCardinalityOverflow(t *testing.T) {
	huge := Axis{Slot: 1, Min: 0, Max: 1e19, Step: 1, Kind: KindFloat}
	assert.Equal(t, math.MaxInt, huge.Count())
	assert.Equal(t, math.MaxInt, Cardinality(Space{huge}))

	wide := Space{
		{Slot: 1, Min: 0, Max: 4e9 - 1, Step: 1, Kind: KindInteger},
		{Slot: 2, Min: 0, Max: 4e9 - 1, Step: 1, Kind: KindInteger},
		{Slot: 3, Min: 0, Max: 4e9 - 1, Step: 1, Kind: KindInteger},
	}
	assert.Equal(t, 4000000000, wide[0].Count())
	assert.Equal(t, math.MaxInt, Cardinality(wide))

	// an empty axis still wins over an overflowing product
	empty := append(Space{}, wide...)
	empty = append(empty, Axis{Slot: 4, Min: 5, Max: 1, Step: 1, Kind: KindInteger})
	assert.Equal(t, 0, Cardinality(empty))
}

func TestSpaceCheckSize(t *testing.T) {
	grid := Space{
		{Slot: 1, Min: 1, Max: 10, Step: 1, Kind: KindInteger},
		{Slot: 2, Min: 1, Max: 10, Step: 1, Kind: KindInteger},
	}
	assert.NoError(t, grid.CheckSize(100))
	err := grid.CheckSize(99)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "100 combinations")

	assert.NoError(t, grid.CheckSize(0))
	big := Space{
		{Slot: 1, Min: 0, Max: 1000, Step: 1, Kind: KindInteger},
		{Slot: 2, Min: 0, Max: 1000, Step: 1, Kind: KindInteger},
	}
	assert.ErrorIs(t, big.CheckSize(0), ErrConfiguration)
	assert.NoError(t, big.CheckSize(2000000))

	overflow := Space{{Slot: 1, Min: 0, Max: 1e19, Step: 1, Kind: KindFloat}}
	err = overflow.CheckSize(math.MaxInt)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "overflows")
}

func TestVerifyPlanRejectsOversizedSpace(t *testing.T) {
	plans := map[string]Plan{
		"single huge axis": {Identity: "x", Space: Space{{Slot: 1, Min: 0, Max: 1e19, Step: 1, Kind: KindFloat}}},
		"overflowing product": {Identity: "x", Space: Space{
			{Slot: 1, Min: 0, Max: 4e9 - 1, Step: 1, Kind: KindInteger},
			{Slot: 2, Min: 0, Max: 4e9 - 1, Step: 1, Kind: KindInteger},
			{Slot: 3, Min: 0, Max: 4e9 - 1, Step: 1, Kind: KindInteger},
		}},
		"above configured cap": {Identity: "x", MaxCombinations: 5, Space: Space{{Slot: 1, Min: 1, Max: 6, Step: 1, Kind: KindInteger}}},
	}
	for name, plan := range plans {
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, err := VerifyPlan(plan)
				assert.ErrorIs(t, err, ErrConfiguration)
			})
		})
	}
}

func TestVerifyPlanPreview(t *testing.T) {
	plan := Plan{Identity: "x", Space: Space{{Slot: 1, Min: 0, Max: 999, Step: 1, Kind: KindInteger}}}
	rep, err := VerifyPlan(plan)
	require.NoError(t, err)
	require.Len(t, rep.Axes, 1)
	assert.Equal(t, 1000, rep.Axes[0].Count)
	require.Len(t, rep.Axes[0].Values, maxPreviewValues)
	assert.Equal(t, 19.0, rep.Axes[0].Values[19])

	plan.Space = Space{{Slot: 1, Min: 5, Max: 1, Step: 1, Kind: KindInteger}}
	rep, err = VerifyPlan(plan)
	require.NoError(t, err)
	assert.Empty(t, rep.Axes[0].Values)
	assert.Len(t, rep.Warnings, 1)
}

func TestAssignmentJSON(t *testing.T) {
	space := Space{
		{Slot: 3, Name: "zeta", Min: 14, Max: 14, Step: 0, Kind: KindInteger},
		{Slot: 1, Name: "alpha", Min: 0.5, Max: 1, Step: 0.5, Kind: KindFloat},
		{Slot: 2, Name: "short", Min: 0, Max: 1, Step: 1, Kind: KindBool},
	}
	assignment, err := space.Assign(Combination{1, 1})
	require.NoError(t, err)

	raw, err := json.Marshal(assignment)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":14,"alpha":1,"short":true}`, string(raw))
	assert.Equal(t, "zeta: 14 | alpha: 1 | short: true", assignment.String())

	_, err = space.Assign(Combination{1})
	assert.ErrorIs(t, err, ErrConfiguration)
}

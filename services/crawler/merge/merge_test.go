package merge

import (
	"testing"

	"github.com/AleutianAI/hypickle/services/crawler/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func e(id string, ms int64) graph.Edge {
	return graph.Edge{ID: id, Time: graph.FromMillis(ms)}
}

func ids(edges []graph.Edge) []string {
	return graph.EdgeIDs(edges)
}

func TestEvaluate_SortAndDedupe(t *testing.T) {
	res, err := Evaluate([]Source{
		{Op: Union, Edges: []graph.Edge{e("F1", 100), e("F2", 50), e("F1", 200)}},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []graph.Edge{e("F1", 200), e("F2", 50)}, res.Edges)
}

func TestEvaluate_AssociativeWithTrailingSubtract(t *testing.T) {
	a := []graph.Edge{e("a", 10), e("shared", 20), e("gone", 30)}
	b := []graph.Edge{e("b", 40), e("shared", 50)}
	c := []graph.Edge{e("c", 60), e("gone", 70)}
	d := []graph.Edge{e("gone", 1)}

	eval := func(t *testing.T, sources ...Source) []graph.Edge {
		t.Helper()
		res, err := Evaluate(sources, Options{})
		require.NoError(t, err)
		return res.Edges
	}

	flat := eval(t,
		Source{Op: Union, Edges: a},
		Source{Op: Union, Edges: b},
		Source{Op: Union, Edges: c},
		Source{Op: Subtract, Edges: d},
	)
	left := eval(t,
		Source{Op: Union, Edges: eval(t, Source{Op: Union, Edges: a}, Source{Op: Union, Edges: b})},
		Source{Op: Union, Edges: c},
		Source{Op: Subtract, Edges: d},
	)
	right := eval(t,
		Source{Op: Union, Edges: a},
		Source{Op: Union, Edges: eval(t, Source{Op: Union, Edges: b}, Source{Op: Union, Edges: c})},
		Source{Op: Subtract, Edges: d},
	)
	subtractFirst := eval(t,
		Source{Op: Subtract, Edges: d},
		Source{Op: Union, Edges: a},
		Source{Op: Union, Edges: b},
		Source{Op: Union, Edges: c},
	)

	assert.Equal(t, []string{"c", "shared", "b", "a"}, ids(flat))
	assert.Equal(t, flat, left)
	assert.Equal(t, flat, right)
	assert.Equal(t, flat, subtractFirst)
}

func TestEvaluate_Intersect(t *testing.T) {
	a := []graph.Edge{e("x", 10), e("y", 20), e("z", 30)}
	b := []graph.Edge{e("y", 99), e("z", 98), e("w", 97)}

	res, err := Evaluate([]Source{
		{Op: Union, Edges: a},
		{Op: Intersect, Edges: b},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []graph.Edge{e("z", 30), e("y", 20)}, res.Edges)

	res, err = Evaluate([]Source{
		{Op: Intersect, Edges: a},
		{Op: Intersect, Edges: b},
		{Op: Subtract, Edges: []graph.Edge{e("z", 0)}},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, ids(res.Edges))
	assert.True(t, res.Excluded.Has("z"))
}

func TestEvaluate_Cutoff(t *testing.T) {
	undated := graph.Edge{ID: "u"}
	res, err := Evaluate([]Source{
		{Op: Union, Edges: []graph.Edge{e("old", 10), e("new", 500), undated}},
	}, Options{Cutoff: graph.FromMillis(100)})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, ids(res.Edges))
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate([]Source{{Op: Subtract, Edges: []graph.Edge{e("a", 1)}}}, Options{})
	assert.ErrorIs(t, err, ErrNoInclude)

	_, err = Evaluate(nil, Options{})
	assert.ErrorIs(t, err, ErrNoInclude)

	_, err = Evaluate([]Source{{Label: "bad", Op: Op(7)}}, Options{})
	assert.ErrorIs(t, err, ErrUnknownOp)
}

func TestIntersectEdges_KeepsLeftOrderAndTimes(t *testing.T) {
	a := []graph.Edge{e("p", 1), e("q", 2), e("r", 3)}
	b := []graph.Edge{e("r", 30), e("p", 10)}
	assert.Equal(t, []graph.Edge{e("p", 1), e("r", 3)}, IntersectEdges(a, b))
	assert.Empty(t, IntersectEdges(a, nil))
}

func TestPolish_DoesNotModifyInput(t *testing.T) {
	in := []graph.Edge{e("a", 1), e("b", 2), e("a", 3)}
	out := Polish(in, graph.EdgeTime{}, graph.NewIDSet("b"))

	assert.Equal(t, []graph.Edge{e("a", 3)}, out)
	assert.Equal(t, []graph.Edge{e("a", 1), e("b", 2), e("a", 3)}, in)
}

func TestParseOp(t *testing.T) {
	tests := map[string]Op{"": Union, "UNION": Union, "intersect": Intersect, "subtract": Subtract, "minus": Subtract}
	for in, want := range tests {
		got, err := ParseOp(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOp("xor")
	assert.ErrorIs(t, err, ErrUnknownOp)
	assert.Equal(t, "subtract", Subtract.String())
}

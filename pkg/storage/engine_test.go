package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// engines returns one fresh instance of every Engine implementation.
func engines(t *testing.T) map[string]Engine {
	t.Helper()

	exec, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	sqlEngine := NewSQLEngine(exec)

	badgerEngine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlEngine.Close()
		badgerEngine.Close()
	})
	return map[string]Engine{
		"sqlite": sqlEngine,
		"badger": badgerEngine,
	}
}

func forEachEngine(t *testing.T, fn func(t *testing.T, e Engine)) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, e.Initialize(context.Background()))
			fn(t, e)
		})
	}
}

func TestEngine_CreateAndGetNode(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		id, err := e.CreateNode(ctx, []string{"Person", "Person", "Admin"}, value.Map{
			"name": value.String("Alice"),
			"age":  value.Int(30),
			"gone": value.Null(),
		})
		require.NoError(t, err)
		assert.Greater(t, int64(id), int64(0))

		n, err := e.GetNode(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, n.ID)
		assert.Equal(t, []string{"Person", "Admin"}, n.Labels)
		assert.True(t, n.Properties.Equal(value.Map{
			"name": value.String("Alice"),
			"age":  value.Int(30),
		}), "got %s", n.Properties)
		assert.False(t, n.CreatedAt.IsZero())
		assert.Equal(t, n.CreatedAt.UnixMilli(), n.UpdatedAt.UnixMilli())
	})
}

func TestEngine_EmptyLabelsAndProperties(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		id, err := e.CreateNode(ctx, nil, nil)
		require.NoError(t, err)

		n, err := e.GetNode(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, n.Labels)
		assert.Empty(t, n.Labels)
		assert.NotNil(t, n.Properties)
		assert.Empty(t, n.Properties)
	})
}

func TestEngine_IDsAreNeverReused(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		first, err := e.CreateNode(ctx, nil, nil)
		require.NoError(t, err)
		second, err := e.CreateNode(ctx, nil, nil)
		require.NoError(t, err)
		assert.Greater(t, second, first)

		require.NoError(t, e.DeleteNode(ctx, second))
		third, err := e.CreateNode(ctx, nil, nil)
		require.NoError(t, err)
		assert.Greater(t, third, second)
	})
}

func TestEngine_GetMissing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		_, err := e.GetNode(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = e.GetEdge(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = e.GetNode(ctx, 0)
		assert.ErrorIs(t, err, ErrInvalidID)
	})
}

func TestEngine_UpdateNodeMerges(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		id, err := e.CreateNode(ctx, []string{"Person"}, value.Map{
			"name": value.String("Alice"),
			"city": value.String("Paris"),
		})
		require.NoError(t, err)
		before, err := e.GetNode(ctx, id)
		require.NoError(t, err)

		require.NoError(t, e.UpdateNode(ctx, id, value.Map{
			"age":  value.Int(31),
			"city": value.Null(),
		}))

		after, err := e.GetNode(ctx, id)
		require.NoError(t, err)
		assert.True(t, after.Properties.Equal(value.Map{
			"name": value.String("Alice"),
			"age":  value.Int(31),
		}), "got %s", after.Properties)
		assert.True(t, after.UpdatedAt.After(before.UpdatedAt))

		// Missing ids are ignored.
		assert.NoError(t, e.UpdateNode(ctx, 12345, value.Map{"x": value.Int(1)}))
	})
}

func TestEngine_SetLabelsUpdatesLabelScan(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		id, err := e.CreateNode(ctx, []string{"Person"}, nil)
		require.NoError(t, err)
		_, err = e.CreateNode(ctx, []string{"Company"}, nil)
		require.NoError(t, err)

		require.NoError(t, e.SetLabels(ctx, id, []string{"Person", "Employee"}))

		employees, err := e.GetNodesByLabel(ctx, "Employee")
		require.NoError(t, err)
		require.Len(t, employees, 1)
		assert.Equal(t, id, employees[0].ID)

		require.NoError(t, e.SetLabels(ctx, id, []string{"Employee"}))
		people, err := e.GetNodesByLabel(ctx, "Person")
		require.NoError(t, err)
		assert.Empty(t, people)

		// Label matching is case sensitive.
		lower, err := e.GetNodesByLabel(ctx, "employee")
		require.NoError(t, err)
		assert.Empty(t, lower)
	})
}

func TestEngine_ScansAreOrderedByID(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		var ids []NodeID
		for i := 0; i < 5; i++ {
			id, err := e.CreateNode(ctx, []string{"N"}, value.Map{"i": value.Int(int64(i))})
			require.NoError(t, err)
			ids = append(ids, id)
		}

		all, err := e.AllNodes(ctx)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, n := range all {
			assert.Equal(t, ids[i], n.ID)
		}

		count, err := e.NodeCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)
	})
}

func TestEngine_Edges(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		a, err := e.CreateNode(ctx, []string{"Person"}, nil)
		require.NoError(t, err)
		b, err := e.CreateNode(ctx, []string{"Person"}, nil)
		require.NoError(t, err)
		c, err := e.CreateNode(ctx, []string{"Person"}, nil)
		require.NoError(t, err)

		ab, err := e.CreateEdge(ctx, "KNOWS", a, b, value.Map{"since": value.Int(2020)})
		require.NoError(t, err)
		bc, err := e.CreateEdge(ctx, "KNOWS", b, c, nil)
		require.NoError(t, err)
		loop, err := e.CreateEdge(ctx, "SELF", b, b, nil)
		require.NoError(t, err)

		edge, err := e.GetEdge(ctx, ab)
		require.NoError(t, err)
		assert.Equal(t, "KNOWS", edge.Type)
		assert.Equal(t, a, edge.StartNode)
		assert.Equal(t, b, edge.EndNode)
		assert.True(t, edge.Properties.Equal(value.Map{"since": value.Int(2020)}))

		touching, err := e.GetEdgesForNode(ctx, b)
		require.NoError(t, err)
		require.Len(t, touching, 3)
		assert.Equal(t, []EdgeID{ab, bc, loop}, []EdgeID{touching[0].ID, touching[1].ID, touching[2].ID})

		require.NoError(t, e.DeleteEdge(ctx, ab))
		require.NoError(t, e.DeleteEdge(ctx, ab))
		touching, err = e.GetEdgesForNode(ctx, a)
		require.NoError(t, err)
		assert.Empty(t, touching)

		count, err := e.EdgeCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		_, err = e.CreateEdge(ctx, "", a, b, nil)
		assert.ErrorIs(t, err, ErrInvalidType)
	})
}

func TestEngine_EdgeIDsIndependentOfNodeIDs(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := e.CreateNode(ctx, nil, nil)
			require.NoError(t, err)
		}
		id, err := e.CreateEdge(ctx, "R", 1, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, EdgeID(1), id)
	})
}

func TestEngine_RestoreKeepsID(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		id, err := e.CreateNode(ctx, []string{"Person"}, value.Map{"name": value.String("Alice")})
		require.NoError(t, err)
		n, err := e.GetNode(ctx, id)
		require.NoError(t, err)

		require.NoError(t, e.DeleteNode(ctx, id))
		require.NoError(t, e.RestoreNode(ctx, n))

		restored, err := e.GetNode(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, n.Labels, restored.Labels)
		assert.True(t, n.Properties.Equal(restored.Properties))

		people, err := e.GetNodesByLabel(ctx, "Person")
		require.NoError(t, err)
		assert.Len(t, people, 1)
	})
}

func TestEngine_ClosedEngineRejectsWork(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())
		_, err := e.CreateNode(ctx, nil, nil)
		assert.ErrorIs(t, err, ErrStorageClosed)
	})
}

// flakyExecutor fails the first failures statements, then delegates.
type flakyExecutor struct {
	inner    Executor
	failures int
	calls    int
}

func (f *flakyExecutor) Exec(ctx context.Context, statement string, args ...any) (*StatementResult, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("backend unavailable")
	}
	return f.inner.Exec(ctx, statement, args...)
}

func TestSQLEngine_InitializeRetriesAfterFailure(t *testing.T) {
	exec, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer exec.Close()

	flaky := &flakyExecutor{inner: exec, failures: 1}
	engine := NewSQLEngine(flaky)
	ctx := context.Background()

	err = engine.Initialize(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")

	require.NoError(t, engine.Initialize(ctx))
	calls := flaky.calls
	require.NoError(t, engine.Initialize(ctx))
	assert.Equal(t, calls, flaky.calls, "schema must only be created once")

	_, err = engine.CreateNode(ctx, []string{"X"}, nil)
	assert.NoError(t, err)
}

func TestSQLEngine_PersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/graph.db"
	ctx := context.Background()

	exec, err := OpenSQLite(path)
	require.NoError(t, err)
	engine := NewSQLEngine(exec)
	id, err := engine.CreateNode(ctx, []string{"Person"}, value.Map{"score": value.Float(2)})
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	exec, err = OpenSQLite(path)
	require.NoError(t, err)
	engine = NewSQLEngine(exec)
	defer engine.Close()

	n, err := engine.GetNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, value.KindFloat, n.Properties["score"].Kind())
}

func TestBadgerEngine_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	first, err := engine.CreateNode(ctx, []string{"Person"}, value.Map{"n": value.Int(1)})
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	engine, err = NewBadgerEngine(dir)
	require.NoError(t, err)
	defer engine.Close()

	n, err := engine.GetNode(ctx, first)
	require.NoError(t, err)
	assert.True(t, n.Properties.Equal(value.Map{"n": value.Int(1)}))

	second, err := engine.CreateNode(ctx, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicgraph/pkg/value"
)

func TestTransaction_RollbackRestoresEverything(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		alice, err := e.CreateNode(ctx, []string{"Person"}, value.Map{"name": value.String("Alice")})
		require.NoError(t, err)
		bob, err := e.CreateNode(ctx, []string{"Person"}, value.Map{"name": value.String("Bob")})
		require.NoError(t, err)
		knows, err := e.CreateEdge(ctx, "KNOWS", alice, bob, nil)
		require.NoError(t, err)

		tx := NewTransaction(e)
		carol, err := tx.CreateNode(ctx, []string{"Person"}, value.Map{"name": value.String("Carol")})
		require.NoError(t, err)
		_, err = tx.CreateEdge(ctx, "KNOWS", carol, alice, nil)
		require.NoError(t, err)
		require.NoError(t, tx.UpdateNode(ctx, alice, value.Map{"name": value.String("Alicia")}))
		require.NoError(t, tx.SetLabels(ctx, bob, []string{"Robot"}))
		require.NoError(t, tx.DeleteEdge(ctx, knows))
		require.NoError(t, tx.DeleteNode(ctx, bob))
		assert.Equal(t, 6, tx.OperationCount())

		// Writes are visible before commit.
		count, err := e.NodeCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		require.NoError(t, tx.Rollback(ctx))
		assert.False(t, tx.IsActive())

		nodes, err := e.AllNodes(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, value.String("Alice"), nodes[0].Properties["name"])
		assert.Equal(t, []string{"Person"}, nodes[1].Labels)

		edges, err := e.GetEdgesForNode(ctx, alice)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, knows, edges[0].ID)
		edgeCount, err := e.EdgeCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), edgeCount)

		people, err := e.GetNodesByLabel(ctx, "Person")
		require.NoError(t, err)
		assert.Len(t, people, 2)
	})
}

func TestTransaction_CommitKeepsWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		tx := NewTransaction(e)
		_, err := tx.CreateNode(ctx, []string{"Person"}, nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.ErrorIs(t, tx.Commit(), ErrTransactionClosed)
		assert.ErrorIs(t, tx.Rollback(ctx), ErrTransactionClosed)
		_, err = tx.CreateNode(ctx, nil, nil)
		assert.ErrorIs(t, err, ErrTransactionClosed)

		count, err := e.NodeCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestTransaction_NoOpWritesAreNotJournaled(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		tx := NewTransaction(e)
		require.NoError(t, tx.UpdateNode(ctx, 77, value.Map{"x": value.Int(1)}))
		require.NoError(t, tx.DeleteNode(ctx, 77))
		require.NoError(t, tx.DeleteEdge(ctx, 77))
		assert.Equal(t, 0, tx.OperationCount())
		assert.NoError(t, tx.Close())
		assert.NoError(t, tx.Close())
	})
}

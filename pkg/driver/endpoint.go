package driver

import (
	"context"

	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/result"
)

// Endpoint carries driver requests to a server. HTTPEndpoint speaks the
// HTTP wire contract; LocalEndpoint calls a graphdb.Service in process.
//
// Every server rejection is returned as *ServerError or
// *AuthenticationError, and transport failures as *NetworkError.
type Endpoint interface {
	Run(ctx context.Context, req graphdb.RunRequest) (*result.QueryResult, error)
	Begin(ctx context.Context, req graphdb.BeginRequest) (*graphdb.BeginResponse, error)
	RunInTransaction(ctx context.Context, txID string, req graphdb.TxRunRequest) (*result.QueryResult, error)
	Commit(ctx context.Context, txID string) (*graphdb.CommitResponse, error)
	Rollback(ctx context.Context, txID string) error
	Health(ctx context.Context) (*graphdb.HealthStatus, error)
	Close(ctx context.Context) error
}

package driver

import (
	"context"
	"errors"

	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/result"
)

// LocalEndpoint runs driver requests against a graphdb.Service in the same
// process. Service errors become ServerErrors with the codes the HTTP server
// would have sent.
type LocalEndpoint struct {
	svc *graphdb.Service
}

// NewLocalEndpoint wraps svc. Closing the endpoint does not close svc.
func NewLocalEndpoint(svc *graphdb.Service) *LocalEndpoint {
	return &LocalEndpoint{svc: svc}
}

func (e *LocalEndpoint) Run(ctx context.Context, req graphdb.RunRequest) (*result.QueryResult, error) {
	res, err := e.svc.Run(ctx, req)
	return res, localError(err)
}

func (e *LocalEndpoint) Begin(ctx context.Context, req graphdb.BeginRequest) (*graphdb.BeginResponse, error) {
	res, err := e.svc.Begin(ctx, req)
	return res, localError(err)
}

func (e *LocalEndpoint) RunInTransaction(ctx context.Context, txID string, req graphdb.TxRunRequest) (*result.QueryResult, error) {
	res, err := e.svc.RunInTransaction(ctx, txID, req)
	return res, localError(err)
}

func (e *LocalEndpoint) Commit(ctx context.Context, txID string) (*graphdb.CommitResponse, error) {
	res, err := e.svc.Commit(ctx, txID)
	return res, localError(err)
}

func (e *LocalEndpoint) Rollback(ctx context.Context, txID string) error {
	return localError(e.svc.Rollback(ctx, txID))
}

func (e *LocalEndpoint) Health(context.Context) (*graphdb.HealthStatus, error) {
	status := e.svc.Health()
	return &status, nil
}

func (e *LocalEndpoint) Close(context.Context) error { return nil }

func localError(err error) error {
	if err == nil {
		return nil
	}
	var coded *graphdb.Error
	if errors.As(err, &coded) {
		return newServerError(coded.Status, coded.Code, coded.Message)
	}
	return err
}

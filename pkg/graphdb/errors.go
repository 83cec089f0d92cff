package graphdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/orneryd/nornicgraph/pkg/cypher"
	"github.com/orneryd/nornicgraph/pkg/storage"
	"github.com/orneryd/nornicgraph/pkg/txsession"
)

// Neo4j status codes used in error responses.
const (
	CodeSyntaxError         = "Neo.ClientError.Statement.SyntaxError"
	CodeSemanticError       = "Neo.ClientError.Statement.SemanticError"
	CodeParameterMissing    = "Neo.ClientError.Statement.ParameterMissing"
	CodeTransactionNotFound = "Neo.ClientError.Transaction.TransactionNotFound"
	CodeDatabaseNotFound    = "Neo.ClientError.Database.DatabaseNotFound"
	CodeInvalidBookmark     = "Neo.ClientError.Transaction.InvalidBookmark"
	CodeBookmarkTimeout     = "Neo.TransientError.Transaction.BookmarkTimeout"
	CodeUnauthorized        = "Neo.ClientError.Security.Unauthorized"
	CodeForbidden           = "Neo.ClientError.Security.Forbidden"
	CodeDatabaseUnavailable = "Neo.TransientError.General.DatabaseUnavailable"
	CodeInvalidRequest      = "Neo.ClientError.Request.Invalid"
	CodeUnknownError        = "Neo.DatabaseError.General.UnknownError"
)

var (
	ErrClosed           = errors.New("database is closed")
	ErrDatabaseNotFound = errors.New("database not found")
	ErrInvalidBookmark  = errors.New("invalid bookmark")
	ErrBookmarkTimeout  = errors.New("bookmark not reached")
)

// Error is a failure with a Neo4j status code and the HTTP status it maps
// to. Every error leaving Service is an *Error.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps err to an *Error. Errors that are already classified are
// returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}

	var syntaxErr *cypher.SyntaxError
	var evalErr *cypher.EvaluationError
	switch {
	case errors.As(err, &syntaxErr):
		return &Error{Code: CodeSyntaxError, Message: syntaxErr.Error(), Status: http.StatusBadRequest, Err: err}
	case errors.As(err, &evalErr):
		code := CodeSemanticError
		if strings.HasPrefix(evalErr.Key, "$") {
			code = CodeParameterMissing
		}
		return &Error{Code: code, Message: evalErr.Error(), Status: http.StatusBadRequest, Err: err}
	case errors.Is(err, txsession.ErrNotFound):
		return &Error{Code: CodeTransactionNotFound, Message: err.Error(), Status: http.StatusNotFound, Err: err}
	case errors.Is(err, txsession.ErrInvalidAccessMode):
		return &Error{Code: CodeInvalidRequest, Message: err.Error(), Status: http.StatusBadRequest, Err: err}
	case errors.Is(err, ErrDatabaseNotFound):
		return &Error{Code: CodeDatabaseNotFound, Message: err.Error(), Status: http.StatusNotFound, Err: err}
	case errors.Is(err, ErrInvalidBookmark):
		return &Error{Code: CodeInvalidBookmark, Message: err.Error(), Status: http.StatusBadRequest, Err: err}
	case errors.Is(err, ErrBookmarkTimeout):
		return &Error{Code: CodeBookmarkTimeout, Message: err.Error(), Status: http.StatusServiceUnavailable, Err: err}
	case errors.Is(err, ErrClosed), errors.Is(err, storage.ErrStorageClosed):
		return &Error{Code: CodeDatabaseUnavailable, Message: err.Error(), Status: http.StatusServiceUnavailable, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeDatabaseUnavailable, Message: err.Error(), Status: http.StatusServiceUnavailable, Err: err}
	}
	return &Error{Code: CodeUnknownError, Message: err.Error(), Status: http.StatusInternalServerError, Err: err}
}

// NewError builds a classified error directly, for failures detected
// outside the engine such as malformed requests or bad credentials.
func NewError(code string, status int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Status: status}
}

package driver

import (
	"fmt"
	"net/http"
	"strings"
)

// Reasons carried by TransactionStateError.
const (
	ReasonAlreadyOpen = "transaction already open"
	ReasonClosed      = "closed transaction"
)

const securityCodePrefix = "Neo.ClientError.Security."

// DriverClosedError is returned by any operation attempted after
// Driver.Close.
type DriverClosedError struct{}

func (e *DriverClosedError) Error() string { return "driver is closed" }

// SessionClosedError is returned by any operation on a closed Session.
type SessionClosedError struct{}

func (e *SessionClosedError) Error() string { return "session is closed" }

// TransactionStateError reports an operation that the transaction or
// session state does not allow: beginning while a transaction is open, or
// running and committing after the transaction finished.
type TransactionStateError struct {
	Reason string
}

func (e *TransactionStateError) Error() string { return e.Reason }

// NetworkError is a transport failure where no server response arrived.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a request the server rejected. Code is the server's status
// code, passed through verbatim.
type ServerError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// AuthenticationError is a ServerError caused by missing or rejected
// credentials. errors.As matches it as both *AuthenticationError and
// *ServerError.
type AuthenticationError struct {
	*ServerError
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed %s: %s", e.Code, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.ServerError }

// newServerError builds the error for a rejected request. HTTP 401 and 403
// and security status codes become AuthenticationError.
func newServerError(status int, code, message string) error {
	se := &ServerError{Code: code, Message: message, StatusCode: status}
	if status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.HasPrefix(code, securityCodePrefix) {
		return &AuthenticationError{ServerError: se}
	}
	return se
}

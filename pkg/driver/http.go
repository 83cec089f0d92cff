package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/result"
)

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// HTTPEndpoint sends driver requests to a nornicgraph server.
//
// Example:
//
//	ep, err := driver.NewHTTPEndpoint("http://localhost:7474",
//		driver.BasicAuth("admin", "password"), driver.WithTimeout(10*time.Second))
type HTTPEndpoint struct {
	baseURL string
	auth    string
	client  *http.Client
}

// HTTPOption configures an HTTPEndpoint.
type HTTPOption func(*HTTPEndpoint)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(e *HTTPEndpoint) { e.client = client }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPEndpoint) { e.client.Timeout = d }
}

// NewHTTPEndpoint creates an endpoint for the server at baseURL, which must
// be an http or https URL.
func NewHTTPEndpoint(baseURL string, token AuthToken, opts ...HTTPOption) (*HTTPEndpoint, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid target %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid target %q: missing host", baseURL)
	}

	e := &HTTPEndpoint{
		baseURL: strings.TrimRight(u.String(), "/"),
		auth:    token.header(),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// BaseURL returns the server address requests are sent to.
func (e *HTTPEndpoint) BaseURL() string { return e.baseURL }

func (e *HTTPEndpoint) Run(ctx context.Context, req graphdb.RunRequest) (*result.QueryResult, error) {
	var res result.QueryResult
	if err := e.do(ctx, http.MethodPost, "/cypher", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *HTTPEndpoint) Begin(ctx context.Context, req graphdb.BeginRequest) (*graphdb.BeginResponse, error) {
	var res graphdb.BeginResponse
	if err := e.do(ctx, http.MethodPost, "/tx/begin", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *HTTPEndpoint) RunInTransaction(ctx context.Context, txID string, req graphdb.TxRunRequest) (*result.QueryResult, error) {
	var res result.QueryResult
	if err := e.do(ctx, http.MethodPost, "/tx/"+url.PathEscape(txID), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *HTTPEndpoint) Commit(ctx context.Context, txID string) (*graphdb.CommitResponse, error) {
	var res graphdb.CommitResponse
	if err := e.do(ctx, http.MethodPost, "/tx/"+url.PathEscape(txID)+"/commit", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *HTTPEndpoint) Rollback(ctx context.Context, txID string) error {
	return e.do(ctx, http.MethodPost, "/tx/"+url.PathEscape(txID)+"/rollback", nil, nil)
}

func (e *HTTPEndpoint) Health(ctx context.Context) (*graphdb.HealthStatus, error) {
	var res graphdb.HealthStatus
	if err := e.do(ctx, http.MethodGet, "/health", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close releases idle connections.
func (e *HTTPEndpoint) Close(context.Context) error {
	e.client.CloseIdleConnections()
	return nil
}

// errorBody is the {error:{code,message}} body of a failed response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do sends one request. in is encoded as the JSON body when non-nil; out
// receives the decoded response when non-nil.
func (e *HTTPEndpoint) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.auth != "" {
		req.Header.Set("Authorization", e.auth)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeServerError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// decodeServerError turns a failed response into a ServerError. Bodies that
// are not in the error format keep the HTTP status and use the raw text as
// the message.
func decodeServerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error.Code != "" {
		return newServerError(resp.StatusCode, eb.Error.Code, eb.Error.Message)
	}

	message := strings.TrimSpace(string(raw))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return newServerError(resp.StatusCode, fallbackCode(resp.StatusCode), message)
}

func fallbackCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return graphdb.CodeUnauthorized
	case http.StatusForbidden:
		return graphdb.CodeForbidden
	case http.StatusNotFound:
		return graphdb.CodeTransactionNotFound
	case http.StatusServiceUnavailable:
		return graphdb.CodeDatabaseUnavailable
	}
	if status < http.StatusInternalServerError {
		return graphdb.CodeInvalidRequest
	}
	return graphdb.CodeUnknownError
}

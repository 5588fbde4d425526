package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/relief-ops/fieldsync/internal/app/domain/syncqueue"
	"github.com/relief-ops/fieldsync/pkg/logger"
)

// RemoteError is a classified failure from the remote API. Network and
// server failures are retryable; validation failures are not.
type RemoteError struct {
	Kind    syncqueue.ErrorKind
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s error: %s", e.Kind, e.Message)
}

// ClassifyError extracts the error kind from a sync failure. Anything that
// is not a RemoteError is treated as a network failure.
func ClassifyError(err error) syncqueue.ErrorKind {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	return syncqueue.ErrorNetwork
}

// RemoteClient pushes one queue item mutation to the remote API.
type RemoteClient interface {
	Push(ctx context.Context, item syncqueue.Item) error
}

// HTTPClient implements RemoteClient against the REST API of the disaster
// response backend. Each queue item action maps to exactly one HTTP call.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

var _ RemoteClient = (*HTTPClient)(nil)

// NewHTTPClient validates the endpoint and constructs a remote client.
func NewHTTPClient(httpClient *http.Client, baseURL string, log *logger.Logger) (*HTTPClient, error) {
	if log == nil {
		log = logger.NewDefault("remote-client")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", baseURL)
	}

	return &HTTPClient{httpClient: httpClient, baseURL: baseURL, log: log}, nil
}

// Push performs the HTTP call for the item. A nil return means the server
// accepted the mutation; everything else comes back as a classified
// RemoteError.
func (c *HTTPClient) Push(ctx context.Context, item syncqueue.Item) error {
	method, path, err := routeFor(item)
	if err != nil {
		return &RemoteError{Kind: syncqueue.ErrorValidation, Message: err.Error()}
	}

	var body io.Reader
	if method != http.MethodDelete && len(item.Payload) > 0 {
		body = bytes.NewReader(item.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &RemoteError{Kind: syncqueue.ErrorNetwork, Message: err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Kind: syncqueue.ErrorNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	kind := syncqueue.ErrorValidation
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		kind = syncqueue.ErrorServer
	}
	return &RemoteError{Kind: kind, Status: resp.StatusCode, Message: msg}
}

// routeFor maps an item to its REST endpoint.
func routeFor(item syncqueue.Item) (method, path string, err error) {
	var collection string
	switch item.EntityType {
	case syncqueue.EntityAssessment:
		collection = "assessments"
	case syncqueue.EntityResponse:
		collection = "responses"
	case syncqueue.EntityEntity:
		collection = "entities"
	default:
		return "", "", fmt.Errorf("unsupported entity type %q", item.EntityType)
	}

	switch item.Action {
	case syncqueue.ActionCreate:
		return http.MethodPost, "/api/v1/" + collection, nil
	case syncqueue.ActionUpdate:
		return http.MethodPut, "/api/v1/" + collection + "/" + url.PathEscape(item.EntityUUID), nil
	case syncqueue.ActionDelete:
		return http.MethodDelete, "/api/v1/" + collection + "/" + url.PathEscape(item.EntityUUID), nil
	default:
		return "", "", fmt.Errorf("unsupported action %q", item.Action)
	}
}

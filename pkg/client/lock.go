package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"reslock/pkg/model"
)

const (
	holderHeader      = "X-Holder-ID"
	idempotencyHeader = "Idempotency-Key"
)

// LockClient talks to the lock service on behalf of a single holder.
type LockClient struct {
	httpClient *HttpClient
	holderID   string
}

func NewLockClient(baseURL, holderID string) *LockClient {
	c := NewHttpClient(baseURL)
	c.Headers[holderHeader] = holderID
	return &LockClient{
		httpClient: c,
		holderID:   holderID,
	}
}

// NewLockClientWith reuses an existing HttpClient, for example one pointed at an httptest server.
func NewLockClientWith(httpClient *HttpClient, holderID string) *LockClient {
	if httpClient.Headers == nil {
		httpClient.Headers = map[string]string{}
	}
	httpClient.Headers[holderHeader] = holderID
	return &LockClient{
		httpClient: httpClient,
		holderID:   holderID,
	}
}

func (c *LockClient) HolderID() string {
	return c.holderID
}

// APIError is a non-2xx answer from the lock service.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"error"`
	Details    map[string]any `json:"details"`
}

func (e *APIError) Error() string {
	if kind := e.ErrorKind(); kind != "" {
		return fmt.Sprintf("lock service returned %d: %s (%s)", e.StatusCode, e.Message, kind)
	}
	return fmt.Sprintf("lock service returned %d: %s", e.StatusCode, e.Message)
}

// ErrorKind is the lock refusal kind, or "" for transport-level failures.
func (e *APIError) ErrorKind() string {
	kind, _ := e.Details["errorKind"].(string)
	return kind
}

// ConflictingResource is the resource named by a HolderAlreadyHasActiveLock refusal.
func (e *APIError) ConflictingResource() string {
	id, _ := e.Details["resourceId"].(string)
	return id
}

func (c *LockClient) Acquire(ctx context.Context, resourceID string, window model.Window) (*model.LockView, error) {
	return c.AcquireIdempotent(ctx, resourceID, window, "")
}

// AcquireIdempotent lets a retried acquire replay the original answer when key is set.
func (c *LockClient) AcquireIdempotent(ctx context.Context, resourceID string, window model.Window, key string) (*model.LockView, error) {
	body := model.AcquireLockRequest{
		ResourceID: resourceID,
		CheckIn:    window.CheckIn.Format(model.DateLayout),
		CheckOut:   window.CheckOut.Format(model.DateLayout),
	}

	headers := map[string]string{}
	if key != "" {
		headers[idempotencyHeader] = key
	}

	resp, err := c.httpClient.POSTWithHeaders(ctx, "/api/v1/locks", body, headers)
	if err != nil {
		return nil, err
	}
	var view *model.LockView
	if err := decodeData(resp, http.StatusCreated, &view); err != nil {
		return nil, err
	}
	return view, nil
}

func (c *LockClient) Release(ctx context.Context, resourceID string) error {
	resp, err := c.httpClient.DELETE(ctx, "/api/v1/locks/"+url.PathEscape(resourceID))
	if err != nil {
		return err
	}
	var out struct {
		Released bool `json:"released"`
	}
	return decodeData(resp, http.StatusOK, &out)
}

// Convert hands the hold over to booking. A nil payload sends no body.
func (c *LockClient) Convert(ctx context.Context, resourceID string, payload any) (*model.ConversionHandle, error) {
	path := "/api/v1/locks/" + url.PathEscape(resourceID) + "/convert"

	var body any
	if payload != nil {
		body = map[string]any{"payload": payload}
	}

	resp, err := c.httpClient.POST(ctx, path, body)
	if err != nil {
		return nil, err
	}
	var handle model.ConversionHandle
	if err := decodeData(resp, http.StatusOK, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// Mine returns the caller's active hold, or nil when nothing is held.
func (c *LockClient) Mine(ctx context.Context) (*model.LockView, error) {
	resp, err := c.httpClient.GET(ctx, "/api/v1/locks/mine")
	if err != nil {
		return nil, err
	}
	var view *model.LockView
	if err := decodeData(resp, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return view, nil
}

func (c *LockClient) GetByResource(ctx context.Context, resourceID string) (*model.LockView, error) {
	resp, err := c.httpClient.GET(ctx, "/api/v1/locks/resource/"+url.PathEscape(resourceID))
	if err != nil {
		return nil, err
	}
	var view *model.LockView
	if err := decodeData(resp, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return view, nil
}

func decodeData(resp *Response, wantStatus int, target any) error {
	if resp.StatusCode != wantStatus {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := resp.DecodeJSON(apiErr); err != nil {
			apiErr.Message = string(resp.Body)
		}
		return apiErr
	}

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := resp.DecodeJSON(&wrapper); err != nil {
		return fmt.Errorf("could not decode response wrapper: %s: %w", resp, err)
	}
	if err := json.Unmarshal(wrapper.Data, target); err != nil {
		return fmt.Errorf("could not decode response data: %s: %w", resp, err)
	}
	return nil
}

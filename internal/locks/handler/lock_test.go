package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reslock/internal/locks/repository"
	"reslock/internal/locks/service"
	"reslock/internal/locks/sweeper"
	"reslock/internal/locks/validator"
	"reslock/pkg/config"
	"reslock/pkg/logger"
	"reslock/pkg/middleware"
	"reslock/pkg/model"

	"github.com/benbjohnson/clock"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Error   string          `json:"error"`
	Details map[string]any  `json:"details"`
}

type testServer struct {
	handler http.Handler
	clock   *clock.Mock
	repo    *repository.MemoryLockRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	clk := clock.NewMock()
	clk.Set(start)
	repo := repository.NewMemoryLockRepository()
	cfg := &config.Config{Log: log, LockTTL: 15 * time.Minute}
	manager := service.NewLockManager(repo, clk, cfg)
	v := validator.NewLockValidator(log)

	router := httprouter.New()
	NewLockHandler(manager, v, log).RegisterRoutes(router)
	NewHealthHandler(repo, nil, log).RegisterRoutes(router)

	holderCheck := func(id string) error { return v.ValidateIdentifier("holder_id", id) }
	return &testServer{
		handler: middleware.HolderIdentity(log, holderCheck, "/health", "/ready")(router),
		clock:   clk,
		repo:    repo,
	}
}

func (s *testServer) do(t *testing.T, method, path, holder string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if holder != "" {
		req.Header.Set(middleware.HolderIDHeader, holder)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func acquireBody(resource, in, out string) map[string]string {
	return map[string]string{"resource_id": resource, "check_in": in, "check_out": out}
}

func decodeView(t *testing.T, raw json.RawMessage) *model.LockView {
	t.Helper()
	if string(raw) == "null" {
		return nil
	}
	view := &model.LockView{Lock: &model.Lock{}}
	require.NoError(t, json.Unmarshal(raw, view))
	return view
}

func TestAcquire_Created(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/locks", "user-1", acquireBody("villa-12", "2024-06-01", "2024-06-04"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, env.Data)
	require.NotNil(t, view)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "villa-12", view.ResourceID)
	assert.Equal(t, "user-1", view.HolderID)
	assert.Equal(t, model.LockStatusActive, view.Status)
	assert.Equal(t, start.Add(15*time.Minute), view.ExpiresAt)
	assert.Equal(t, int64(900), view.SecondsRemaining)
}

func TestAcquire_Refusals(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, http.MethodPost, "/api/v1/locks", "user-1", acquireBody("villa-12", "2024-06-01", "2024-06-04"))
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name         string
		holder       string
		body         any
		wantStatus   int
		wantKind     string
		wantResource string
	}{
		{
			name:         "resource held by someone else",
			holder:       "user-2",
			body:         acquireBody("villa-12", "2024-06-01", "2024-06-04"),
			wantStatus:   http.StatusConflict,
			wantKind:     "ResourceAlreadyHeld",
			wantResource: "villa-12",
		},
		{
			name:         "holder already has a hold",
			holder:       "user-1",
			body:         acquireBody("villa-99", "2024-06-01", "2024-06-04"),
			wantStatus:   http.StatusConflict,
			wantKind:     "HolderAlreadyHasActiveLock",
			wantResource: "villa-12",
		},
		{
			name:       "check-out before check-in",
			holder:     "user-3",
			body:       acquireBody("villa-50", "2024-06-04", "2024-06-01"),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "InvalidWindow",
		},
		{
			name:       "check-in in the past",
			holder:     "user-3",
			body:       acquireBody("villa-50", "2024-05-01", "2024-05-03"),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "InvalidWindow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(t, http.MethodPost, "/api/v1/locks", tt.holder, tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantKind, env.Details["errorKind"])
			if tt.wantResource != "" {
				assert.Equal(t, tt.wantResource, env.Details["resourceId"])
			}
		})
	}
}

func TestAcquire_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		holder     string
		body       any
		wantStatus int
	}{
		{"missing holder", "", acquireBody("villa-12", "2024-06-01", "2024-06-04"), http.StatusUnauthorized},
		{"invalid holder", "user 1", acquireBody("villa-12", "2024-06-01", "2024-06-04"), http.StatusBadRequest},
		{"bad date", "user-1", acquireBody("villa-12", "01/06/2024", "2024-06-04"), http.StatusBadRequest},
		{"missing resource", "user-1", acquireBody("", "2024-06-01", "2024-06-04"), http.StatusBadRequest},
		{"invalid resource", "user-1", acquireBody("villa/12", "2024-06-01", "2024-06-04"), http.StatusBadRequest},
		{"unknown field", "user-1", map[string]string{"resource_id": "villa-12", "check_in": "2024-06-01", "check_out": "2024-06-04", "holder_id": "user-9"}, http.StatusBadRequest},
		{"no body", "user-1", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := s.do(t, http.MethodPost, "/api/v1/locks", tt.holder, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(t, s.repo.Locks())
}

func TestRelease(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/locks", "user-1", acquireBody("villa-12", "2024-06-01", "2024-06-04"))

	rec, env := s.do(t, http.MethodDelete, "/api/v1/locks/villa-12", "user-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NotOwner", env.Details["errorKind"])

	rec, env = s.do(t, http.MethodDelete, "/api/v1/locks/villa-12", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"released":true}`, string(env.Data))

	rec, env = s.do(t, http.MethodDelete, "/api/v1/locks/villa-12", "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "release is idempotent")
	assert.JSONEq(t, `{"released":true}`, string(env.Data))

	rec, _ = s.do(t, http.MethodPost, "/api/v1/locks", "user-2", acquireBody("villa-12", "2024-06-01", "2024-06-04"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestConvert(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/locks", "user-1", acquireBody("villa-12", "2024-06-01", "2024-06-04"))

	rec, env := s.do(t, http.MethodPost, "/api/v1/locks/villa-12/convert", "user-1",
		map[string]any{"payload": map[string]any{"guests": 2}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var handle model.ConversionHandle
	require.NoError(t, json.Unmarshal(env.Data, &handle))
	assert.Equal(t, "villa-12", handle.ResourceID)
	assert.Equal(t, "user-1", handle.HolderID)
	assert.Equal(t, model.NewWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)), handle.Window)
	assert.JSONEq(t, `{"guests":2}`, string(handle.Payload))

	rec, env = s.do(t, http.MethodPost, "/api/v1/locks/villa-12/convert", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "LockNotActive", env.Details["errorKind"])
}

func TestConvert_AfterExpiry(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/locks", "user-1", acquireBody("villa-12", "2024-06-01", "2024-06-04"))

	s.clock.Add(15 * time.Minute)

	rec, env := s.do(t, http.MethodPost, "/api/v1/locks/villa-12/convert", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "LockNotActive", env.Details["errorKind"])

	locks := s.repo.Locks()
	require.Len(t, locks, 1)
	assert.Equal(t, model.LockStatusExpired, locks[0].Status)
}

func TestMine(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/locks/mine", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(env.Data))

	s.do(t, http.MethodPost, "/api/v1/locks", "user-1", acquireBody("villa-12", "2024-06-01", "2024-06-04"))
	s.clock.Add(5 * time.Minute)

	_, env = s.do(t, http.MethodGet, "/api/v1/locks/mine", "user-1", nil)
	view := decodeView(t, env.Data)
	require.NotNil(t, view)
	assert.Equal(t, "villa-12", view.ResourceID)
	assert.Equal(t, int64(600), view.SecondsRemaining)

	s.clock.Add(10 * time.Minute)
	_, env = s.do(t, http.MethodGet, "/api/v1/locks/mine", "user-1", nil)
	assert.Equal(t, "null", string(env.Data))
}

func TestGetByResource_RedactsOtherHolder(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/locks", "user-1", acquireBody("villa-12", "2024-06-01", "2024-06-04"))

	_, env := s.do(t, http.MethodGet, "/api/v1/locks/resource/villa-12", "user-1", nil)
	own := decodeView(t, env.Data)
	require.NotNil(t, own)
	assert.Equal(t, "user-1", own.HolderID)

	_, env = s.do(t, http.MethodGet, "/api/v1/locks/resource/villa-12", "user-2", nil)
	other := decodeView(t, env.Data)
	require.NotNil(t, other)
	assert.Empty(t, other.HolderID)
	assert.Equal(t, model.LockStatusActive, other.Status)

	_, env = s.do(t, http.MethodGet, "/api/v1/locks/resource/villa-99", "user-2", nil)
	assert.Equal(t, "null", string(env.Data))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestReady_StoreDown(t *testing.T) {
	router := httprouter.New()
	sw := sweeper.New(nil, clock.NewMock(), time.Second, 0, logger.Nop())
	NewHealthHandler(downStore{}, sw, logger.Nop()).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Database)
	assert.Equal(t, "stopped", body.Sweeper)
	require.NotNil(t, body.Sweeps)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/catalog"
	"github.com/dealhound/catalog-crawler/internal/engine"
)

type fakeController struct {
	status   catalog.Status
	startErr error

	startedOpts *engine.RunOptions
	stopped     bool
}

func (c *fakeController) Status() catalog.Status {
	return c.status
}

func (c *fakeController) Start(_ context.Context, opts engine.RunOptions) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.startedOpts = &opts
	return nil
}

func (c *fakeController) RequestStop() {
	c.stopped = true
}

type fakeDelays struct {
	delay  time.Duration
	setErr error
	lastD  *time.Duration
}

func (d *fakeDelays) SetDelay(v time.Duration) error {
	if d.setErr != nil {
		return d.setErr
	}
	d.lastD = &v
	d.delay = v
	return nil
}

func (d *fakeDelays) Delay() time.Duration {
	return d.delay
}

func newTestServer(controller *fakeController, delays *fakeDelays) *Server {
	return NewServer(context.Background(), controller, delays, Config{}, zap.NewNop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeController{}, &fakeDelays{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	controller := &fakeController{status: catalog.Status{
		Running:       true,
		Mode:          "Fresh - All domains",
		CurrentDomain: "a.com",
		StoresSaved:   7,
	}}
	s := newTestServer(controller, &fakeDelays{delay: 1500 * time.Millisecond})

	rec := do(t, s, http.MethodGet, "/api/crawler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status catalog.Status `json:"status"`
		Delay  float64        `json:"delay"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Status.Running)
	require.Equal(t, "a.com", body.Status.CurrentDomain)
	require.Equal(t, 7, body.Status.StoresSaved)
	require.InDelta(t, 1.5, body.Delay, 0.001)
}

func TestServer_Start(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	s := newTestServer(controller, &fakeDelays{})

	rec := do(t, s, http.MethodPost, "/api/crawler/start", `{"max_domains": 50, "resume": false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, controller.startedOpts)
	require.Equal(t, 50, controller.startedOpts.MaxDomains)
	require.False(t, controller.startedOpts.Resume)
}

func TestServer_Start_DefaultsToResume(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	s := newTestServer(controller, &fakeDelays{})

	rec := do(t, s, http.MethodPost, "/api/crawler/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, controller.startedOpts)
	require.True(t, controller.startedOpts.Resume)
	require.Zero(t, controller.startedOpts.MaxDomains)
}

func TestServer_Start_Conflict(t *testing.T) {
	t.Parallel()

	controller := &fakeController{startErr: engine.ErrAlreadyRunning}
	s := newTestServer(controller, &fakeDelays{})

	rec := do(t, s, http.MethodPost, "/api/crawler/start", "{}")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Start_RejectsBadInput(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	s := newTestServer(controller, &fakeDelays{})

	rec := do(t, s, http.MethodPost, "/api/crawler/start", `{"max_domains": -1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/crawler/start", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, controller.startedOpts)
}

func TestServer_Stop(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	s := newTestServer(controller, &fakeDelays{})

	rec := do(t, s, http.MethodPost, "/api/crawler/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, controller.stopped)
}

func TestServer_SetDelay(t *testing.T) {
	t.Parallel()

	delays := &fakeDelays{}
	s := newTestServer(&fakeController{}, delays)

	rec := do(t, s, http.MethodPost, "/api/crawler/delay", `{"delay": 2.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, delays.lastD)
	require.Equal(t, 2500*time.Millisecond, *delays.lastD)
}

func TestServer_SetDelay_Invalid(t *testing.T) {
	t.Parallel()

	delays := &fakeDelays{setErr: errors.New("delay out of range")}
	s := newTestServer(&fakeController{}, delays)

	rec := do(t, s, http.MethodPost, "/api/crawler/delay", `{"delay": -3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/crawler/delay", `garbage`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

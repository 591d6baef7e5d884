package project

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/matcher"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/protocol"
	"github.com/Ramsey-B/clover/pkg/selection"
	"github.com/Ramsey-B/clover/pkg/statemachine"
	"github.com/Ramsey-B/clover/pkg/store/memory"
)

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	stores := memory.New().Stores()
	manager := lifecycle.NewManager(stores.Pairs, logger, lifecycle.DefaultConfig())
	selector := selection.NewSelector(stores.Pairs, manager, logger, selection.DefaultConfig(), selection.WithRand(rand.New(rand.NewSource(1))))
	registry := matcher.NewRegistry(stores.Matchings, logger)
	_, err := registry.Save(context.Background(), "test", json.RawMessage(`{"type":"pairwise","attributes":["name"],"classifier":{"type":"threshold"}}`))
	require.NoError(t, err)

	wishes := protocol.NewWishService(stores.Wishes, logger, protocol.DefaultConfig())
	sm := statemachine.NewService(logger, stores, manager, selector, registry, wishes, nil, nil)
	svc := protocol.NewService(logger, sm, stores, manager, selector, wishes, nil, nil, protocol.DefaultConfig())

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	NewHandler(sm, stores.Pairs, svc).Register(e.Group("/api/v1/project"))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createProject(t *testing.T, e *echo.Echo, id string) {
	t.Helper()
	rec := do(e, http.MethodPost, "/api/v1/project", `{"id":"`+id+`","dataset_id":"d1","method":"test","interactive":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateAndGetProject(t *testing.T) {
	e := newServer(t)
	createProject(t, e, "p1")

	rec := do(e, http.MethodGet, "/api/v1/project/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	project := decode[models.LinkageProject](t, rec)
	assert.Equal(t, "p1", project.ID)
	assert.Equal(t, models.PhaseCollecting, project.State)

	rec = do(e, http.MethodGet, "/api/v1/project", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.LinkageProject](t, rec), 1)

	rec = do(e, http.MethodGet, "/api/v1/project/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequests(t *testing.T) {
	e := newServer(t)
	createProject(t, e, "p1")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "create without dataset", method: http.MethodPost, path: "/api/v1/project", body: `{"method":"test"}`},
		{name: "malformed body", method: http.MethodPost, path: "/api/v1/project", body: `{`},
		{name: "run without target", method: http.MethodPost, path: "/api/v1/project/run", body: `{"project_id":"p1"}`},
		{name: "run to unknown phase", method: http.MethodPost, path: "/api/v1/project/run", body: `{"project_id":"p1","to_state":"DONE"}`},
		{name: "reset without target", method: http.MethodPost, path: "/api/v1/project/reset", body: `{"project_id":"p1"}`},
		{name: "invalid deleteParents", method: http.MethodDelete, path: "/api/v1/project/p1?deleteParents=maybe"},
		{name: "unknown grade", method: http.MethodGet, path: "/api/v1/project/p1/pairs?grades=SOMETIMES"},
		{name: "pairs of two projects", method: http.MethodPost, path: "/api/v1/project/pairs", body: `[
			{"project_id":"p1","left_record_id":{"local_id":"a"},"right_record_id":{"local_id":"b"}},
			{"project_id":"p2","left_record_id":{"local_id":"a"},"right_record_id":{"local_id":"c"}}
		]`},
		{name: "pair without record id", method: http.MethodPost, path: "/api/v1/project/pairs", body: `[{"project_id":"p1","left_record_id":{"local_id":"a"}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestReceiveAndListPairs(t *testing.T) {
	e := newServer(t)
	createProject(t, e, "p1")

	rec := do(e, http.MethodPost, "/api/v1/project/pairs", `[
		{"project_id":"p1","left_record_id":{"local_id":"a"},"right_record_id":{"local_id":"b"},"similarity":0.9,"classification":"CERTAIN_MATCH"},
		{"project_id":"p1","left_record_id":{"local_id":"a"},"right_record_id":{"local_id":"c"},"similarity":0.1,"classification":"NON_MATCH"}
	]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]models.RecordPair](t, rec), 2)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "all current", query: "", want: 2},
		{name: "by grade", query: "?grades=CERTAIN_MATCH", want: 1},
		{name: "by grades repeated", query: "?grades=CERTAIN_MATCH&grades=NON_MATCH", want: 2},
		{name: "by missing property", query: "?properties=IMPROVED_LINK", want: 0},
		{name: "by negated property", query: "?properties=!IMPROVED_LINK", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodGet, "/api/v1/project/p1/pairs"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, decode[[]models.RecordPair](t, rec), tt.want)
		})
	}

	rec = do(e, http.MethodGet, "/api/v1/project/missing/pairs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteProject(t *testing.T) {
	e := newServer(t)
	createProject(t, e, "p1")

	rec := do(e, http.MethodDelete, "/api/v1/project/p1?deleteParents=false", "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/v1/project/p1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

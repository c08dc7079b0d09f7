package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobs-etl/internal/model"
)

func doRequest(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeRun(t *testing.T, rr *httptest.ResponseRecorder) runResponse {
	t.Helper()
	var resp runResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	h := newRouter(testApp(t))

	rr := doRequest(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMergeEndpoint_JSON(t *testing.T) {
	h := newRouter(testApp(t))

	rr := doRequest(t, h, http.MethodPost, "/v1/merge", "application/json", testBatch)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeRun(t, rr)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 2, resp.Summary.Inserted)
	assert.Equal(t, 1, resp.Summary.Rejected)
	assert.Equal(t, model.RunStatusComplete, resp.Summary.Status)
}

func TestMergeEndpoint_CSVByContentType(t *testing.T) {
	h := newRouter(testApp(t))

	body := "company,job_title,location\nAcme,Analyst,Berlin\n"
	rr := doRequest(t, h, http.MethodPost, "/v1/merge?dry_run=true", "text/csv", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeRun(t, rr)
	assert.True(t, resp.Summary.DryRun)
	assert.Equal(t, 1, resp.Summary.Inserted)
}

func TestMergeEndpoint_BadInput(t *testing.T) {
	h := newRouter(testApp(t))

	rr := doRequest(t, h, http.MethodPost, "/v1/merge?format=xml", "", "[]")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/v1/merge", "application/json", `{"company":"Acme"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEnrichAndRankEndpoints(t *testing.T) {
	h := newRouter(testApp(t))

	rr := doRequest(t, h, http.MethodPost, "/v1/merge", "application/json", testBatch)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/v1/enrich", "application/json", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeRun(t, rr)
	assert.Equal(t, 2, resp.Summary.EnrichmentAttempted)
	assert.Equal(t, 1, resp.Summary.CompaniesMatched)

	rr = doRequest(t, h, http.MethodPost, "/v1/rank", "application/json", `{"top":1}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp = decodeRun(t, rr)
	assert.Equal(t, 2, resp.Summary.Ranked)
	require.Len(t, resp.Top, 1)

	rr = doRequest(t, h, http.MethodGet, "/v1/runs?operation=rank", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.RunSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Ranked)
}

func TestEnrichEndpoint_InvalidBody(t *testing.T) {
	h := newRouter(testApp(t))
	rr := doRequest(t, h, http.MethodPost, "/v1/enrich", "application/json", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRankEndpoint_ConfigError(t *testing.T) {
	a := testApp(t)
	a.cfg.Ranking.Path = ""
	h := newRouter(a)

	rr := doRequest(t, h, http.MethodPost, "/v1/rank", "application/json", "{}")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.NotEmpty(t, decodeRun(t, rr).Error)
}

func TestRunsEndpoint_Empty(t *testing.T) {
	h := newRouter(testApp(t))
	rr := doRequest(t, h, http.MethodGet, "/v1/runs", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestBusyOperationConflicts(t *testing.T) {
	s := &server{app: testApp(t), busy: map[model.Operation]*sync.Mutex{model.OpMerge: {}}}

	release, ok := s.acquire(httptest.NewRecorder(), model.OpMerge)
	require.True(t, ok)
	rr := httptest.NewRecorder()
	_, ok = s.acquire(rr, model.OpMerge)
	assert.False(t, ok)
	assert.Equal(t, http.StatusConflict, rr.Code)
	release()

	_, ok = s.acquire(httptest.NewRecorder(), model.OpMerge)
	assert.True(t, ok)
}

func TestCORSPreflight(t *testing.T) {
	h := newRouter(testApp(t))
	req := httptest.NewRequest(http.MethodOptions, "/v1/runs", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

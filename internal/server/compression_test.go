package server

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csv-file-drop/internal/files"
)

func gunzip(t *testing.T, rr *httptest.ResponseRecorder) []byte {
	t.Helper()
	zr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	return b
}

func TestCompression(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(clientName, clientPass)
	require.Equal(t, http.StatusOK, env.upload(token, filePart{"people.csv", peopleCSV}).Code)

	req := httptest.NewRequest(http.MethodGet, "/uploadfiles/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rr := env.serve(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var listing map[string]files.Fieldnames
	require.NoError(t, json.Unmarshal(gunzip(t, rr), &listing))
	assert.Contains(t, listing, "people.csv")

	// errors are compressed too
	req = httptest.NewRequest(http.MethodGet, "/uploadfiles/nope.csv", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Encoding", "gzip")
	rr = env.serve(req)
	require.Equal(t, http.StatusNotFound, rr.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(gunzip(t, rr), &body))
	assert.Equal(t, "Filename not found", body.Detail)
}

func TestCompressionSkipped(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(clientName, clientPass)
	require.Equal(t, http.StatusOK, env.upload(token, filePart{"people.csv", peopleCSV}).Code)

	// no Accept-Encoding
	rr := env.do(http.MethodGet, "/uploadfiles/", token, nil, "")
	assert.Empty(t, rr.Header().Get("Content-Encoding"))
	assert.Contains(t, rr.Body.String(), "people.csv")

	// 204 carries no body, compressed or not
	req := httptest.NewRequest(http.MethodDelete, "/uploadfiles/people.csv", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Encoding", "gzip")
	rr = env.serve(req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Header().Get("Content-Encoding"))
	assert.Zero(t, rr.Body.Len())

	// /metrics is encoded once, by promhttp
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr = env.serve(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(gunzip(t, rr)), "cfd_info")
}

func TestBaseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	lrw := &loggingResponseWriter{ResponseWriter: rec, status: http.StatusOK}
	gw := &gzipResponseWriter{ResponseWriter: lrw}

	assert.Same(t, rec, baseWriter(gw))
	assert.Same(t, rec, baseWriter(lrw))
	assert.Same(t, rec, baseWriter(rec))
}

package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mscwaf/testutils"
	"mscwaf/waf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bb, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Seen-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("echo:"))
		w.Write(bb)
	})
}

func TestServeHTTPPassThrough(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	conn := &testutils.FakeConnector{}
	m, _ := newTestMiddleware(t, conn, Origin(echoHandler(t)), Config{})
	r := httptest.NewRequest("POST", "/submit?x=1", strings.NewReader("a=1"))
	r.Host = "example.com:8080"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	// Act
	m.ServeHTTP(w, r)

	// Assert
	assert.Equal(http.StatusAccepted, w.Code)
	assert.Equal("echo:a=1", w.Body.String())
	assert.Equal("203.0.113.7", w.Header().Get("X-Seen-Forwarded-For"))

	ft := conn.LastTransaction()
	assert.Equal([]string{"/submit?x=1", "POST", "1.1"}, ft.URI)
	assert.Equal([]interface{}{"192.0.2.1", 1234, "example.com:8080", 8080}, ft.Connection)
	assert.Contains(ft.RequestHeaders, waf.HeaderPair{Key: "X-Forwarded-For", Value: "203.0.113.7"})
	assert.Contains(ft.RequestHeaders, waf.HeaderPair{Key: "Content-Type", Value: "application/x-www-form-urlencoded"})
	assert.Contains(ft.RequestHeaders, waf.HeaderPair{Key: "Host", Value: "example.com:8080"})
	assert.Equal([][]byte{[]byte("a=1")}, ft.RequestBody)
	assert.Equal(http.StatusAccepted, ft.ResponseStatus)
	assert.Equal([][]byte{[]byte("echo:a=1")}, ft.ResponseBody)
}

func TestServeHTTPIntervention(t *testing.T) {
	// Arrange
	called := false
	conn := &testutils.FakeConnector{InterveneAt: waf.PhaseRequestHeaders, Intervention: waf.Intervention{Status: 892}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	m, _ := newTestMiddleware(t, conn, Origin(next), Config{})
	w := httptest.NewRecorder()

	// Act
	m.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	// Assert
	assert.False(t, called)
	assert.Equal(t, 892, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, "Forbidden\n", w.Body.String())
}

func TestServeHTTPInterventionStatusOutOfRange(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{InterveneAt: waf.PhaseURI, Intervention: waf.Intervention{Status: 1234}}
	m, _ := newTestMiddleware(t, conn, Origin(http.NotFoundHandler()), Config{})
	w := httptest.NewRecorder()

	// Act
	m.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	// Assert
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden\n", w.Body.String())
}

func TestServeHTTPBodyTooLarge(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{}
	m, _ := newTestMiddleware(t, conn, Origin(http.NotFoundHandler()), Config{MaxRequestBodyBytes: 4})
	w := httptest.NewRecorder()

	// Act
	m.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader("0123456789")))

	// Assert
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, conn.Count("msc_new_transaction"))
}

func TestServeHTTPEngineError(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{FailCalls: map[string]bool{"msc_process_request_body": true}}
	m, _ := newTestMiddleware(t, conn, Origin(http.NotFoundHandler()), Config{})
	w := httptest.NewRecorder()

	// Act
	m.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	// Assert
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServeHTTPAfterClose(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{}
	m, _ := newTestMiddleware(t, conn, Origin(http.NotFoundHandler()), Config{})
	m.Close()
	w := httptest.NewRecorder()

	// Act
	m.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	// Assert
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestEnv(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	r := httptest.NewRequest("PUT", "/a/b?c=d", strings.NewReader("xyz"))
	r.Header.Add("X-Forwarded-For", "203.0.113.7")
	r.Header.Add("Accept", "text/html")
	r.Header.Add("Accept", "application/json")
	r.Header.Set("Content-Type", "text/plain")
	r.Header.Set("Version", "spoofed")

	// Act
	env := RequestEnv(r)

	// Assert
	assert.Equal("PUT", env.Get(EnvRequestMethod))
	assert.Equal("/a/b?c=d", env.Get(EnvRequestURI))
	assert.Equal("HTTP/1.1", env.Get(EnvHTTPVersion))
	assert.Equal("192.0.2.1", env.Get(EnvRemoteAddr))
	assert.Equal("1234", env.Get(EnvRemotePort))
	assert.Equal("example.com", env.Get(EnvServerName))
	assert.Equal("80", env.Get(EnvServerPort))
	assert.Equal("example.com", env.Get(EnvHTTPHost))
	assert.Equal("203.0.113.7", env.Get("HTTP_X_FORWARDED_FOR"))
	assert.Equal("text/html, application/json", env.Get("HTTP_ACCEPT"))
	assert.Equal("text/plain", env.Get("CONTENT_TYPE"))
	assert.Equal("3", env.Get("CONTENT_LENGTH"))
}

func TestOriginFromEnv(t *testing.T) {
	// Arrange
	var seen *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		io.WriteString(w, "ok")
	})
	env := waf.Env{
		EnvRequestMethod:      "DELETE",
		EnvRequestURI:         "/items/7",
		EnvHTTPHost:           "api.example.com",
		"HTTP_X_REQUEST_ID":   "r-1",
		"HTTP_ACCEPT_ENCODING": "gzip",
	}

	// Act
	resp, err := Origin(next).ServeWAF(waf.NewRequest(env, nil))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "DELETE", seen.Method)
	assert.Equal(t, "/items/7", seen.URL.Path)
	assert.Equal(t, "api.example.com", seen.Host)
	assert.Equal(t, "r-1", seen.Header.Get("X-Request-Id"))
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []waf.HeaderPair{
		{Key: "Set-Cookie", Value: "a=1"},
		{Key: "Set-Cookie", Value: "b=2"},
	}, resp.Headers)
	bb, _ := waf.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(bb))
}

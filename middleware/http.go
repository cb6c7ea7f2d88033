package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"mscwaf/waf"
)

// httpRequest is a waf.HTTPRequest built from a *http.Request by ServeHTTP.
type httpRequest struct {
	r    *http.Request
	env  waf.Env
	body *bytes.Reader
}

func (h *httpRequest) Env() waf.Env { return h.env }

func (h *httpRequest) Body() io.ReadSeeker {
	if h.body == nil {
		return nil
	}
	return h.body
}

// ServeHTTP buffers the request body, runs the cycle through Call and writes the result. The origin must have been
// created with Origin for the net/http request to reach it unchanged.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body io.ReadCloser = http.NoBody
	if r.Body != nil {
		body = r.Body
	}
	if m.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, body, m.maxBodyBytes)
	}

	bb, err := io.ReadAll(body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			m.logger.Info().Int64("limit", mbe.Limit).Str("uri", r.RequestURI).Msg("Request body too large")
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		m.logger.Warn().Err(err).Str("uri", r.RequestURI).Msg("Failed to read request body")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req := &httpRequest{r: r, env: RequestEnv(r), body: bytes.NewReader(bb)}

	resp, err := m.Call(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		m.logger.Error().Err(err).Str("uri", r.RequestURI).Msg("WAF cycle failed")
		http.Error(w, http.StatusText(status), status)
		return
	}

	m.writeResponse(w, resp)
}

func (m *Middleware) writeResponse(w http.ResponseWriter, resp *waf.Response) {
	if c, ok := resp.Body.(io.Closer); ok {
		defer c.Close()
	}

	for _, h := range resp.Headers {
		w.Header().Add(h.Key, h.Value)
	}

	// net/http only writes three digit codes.
	status := resp.Status
	if status < 100 || status > 999 {
		status = http.StatusForbidden
	}
	w.WriteHeader(status)

	err := waf.EachChunk(resp.Body, func(chunk []byte) (err error) {
		_, err = w.Write(chunk)
		return
	})
	if err != nil {
		m.logger.Debug().Err(err).Msg("Failed to write response body")
	}
}

// RequestEnv derives the CGI style variables of r.
func RequestEnv(r *http.Request) waf.Env {
	env := waf.Env{
		EnvRequestMethod: r.Method,
		EnvRequestURI:    r.RequestURI,
		EnvHTTPVersion:   r.Proto,
	}
	if env[EnvRequestURI] == "" && r.URL != nil {
		env[EnvRequestURI] = r.URL.RequestURI()
	}

	if host, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		env[EnvRemoteAddr] = host
		env[EnvRemotePort] = port
	} else {
		env[EnvRemoteAddr] = r.RemoteAddr
	}

	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if host, port, err := net.SplitHostPort(addr.String()); err == nil {
			env[EnvServerName] = host
			env[EnvServerPort] = port
		}
	}
	if _, ok := env[EnvServerName]; !ok {
		host, port, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
			port = "80"
			if r.TLS != nil {
				port = "443"
			}
		}
		env[EnvServerName] = host
		env[EnvServerPort] = port
	}

	for k, vv := range r.Header {
		if name := variableName(k); name != EnvHTTPVersion {
			env[name] = strings.Join(vv, ", ")
		}
	}
	if r.Host != "" {
		env[EnvHTTPHost] = r.Host
	}
	if _, ok := env["CONTENT_LENGTH"]; !ok && r.ContentLength > 0 {
		env["CONTENT_LENGTH"] = strconv.FormatInt(r.ContentLength, 10)
	}

	return env
}

// variableName turns X-Forwarded-For into HTTP_X_FORWARDED_FOR. Content-Type and Content-Length lose the prefix.
func variableName(header string) string {
	name := strings.ToUpper(strings.ReplaceAll(header, "-", "_"))
	if name == "CONTENT_TYPE" || name == "CONTENT_LENGTH" {
		return name
	}
	return headerPrefix + name
}

// Origin adapts a net/http handler to an origin for the middleware. The handler's response is buffered.
func Origin(next http.Handler) waf.Handler {
	return waf.HandlerFunc(func(req waf.HTTPRequest) (resp *waf.Response, err error) {
		r, err := originRequest(req)
		if err != nil {
			return
		}

		rw := newBufferedResponseWriter()
		next.ServeHTTP(rw, r)
		resp = rw.response()
		return
	})
}

func originRequest(req waf.HTTPRequest) (r *http.Request, err error) {
	var body io.Reader = http.NoBody
	if b := req.Body(); b != nil {
		body = b
	}

	if hr, ok := req.(*httpRequest); ok {
		r = hr.r.Clone(hr.r.Context())
		r.Body = io.NopCloser(body)
		return
	}

	env := req.Env()
	method := env.Get(EnvRequestMethod)
	if method == "" {
		method = http.MethodGet
	}
	target := env.Get(EnvRequestURI)
	if target == "" {
		target = "/"
	}

	r, err = http.NewRequest(method, target, body)
	if err != nil {
		err = fmt.Errorf("failed to create origin request: %w", err)
		return
	}
	for _, h := range RequestHeaders(env) {
		r.Header.Add(h.Key, h.Value)
	}
	r.Host, _ = first(env, EnvHTTPHost, EnvServerName)
	r.RemoteAddr = env.Get(EnvRemoteAddr)
	return
}

type bufferedResponseWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newBufferedResponseWriter() *bufferedResponseWriter {
	return &bufferedResponseWriter{header: make(http.Header), status: http.StatusOK}
}

func (w *bufferedResponseWriter) Header() http.Header { return w.header }

func (w *bufferedResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
}

func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(b)
}

func (w *bufferedResponseWriter) response() *waf.Response {
	keys := make([]string, 0, len(w.header))
	for k := range w.header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var headers []waf.HeaderPair
	for _, k := range keys {
		for _, v := range w.header[k] {
			headers = append(headers, waf.HeaderPair{Key: k, Value: v})
		}
	}

	return &waf.Response{
		Status:  w.status,
		Headers: headers,
		Body:    waf.Buffer(w.body.Bytes()),
	}
}

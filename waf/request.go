package waf

import (
	"io"
)

// HeaderPair represents a header line in an HTTP message.
type HeaderPair struct {
	Key   string
	Value string
}

// Env holds the CGI style variables a host server derives from a request: REQUEST_METHOD, REQUEST_URI, HTTP_VERSION,
// REMOTE_ADDR, SERVER_NAME, SERVER_PORT, and one HTTP_<NAME> variable per request header.
type Env map[string]string

// Get returns the variable, or the empty string if it is absent.
func (e Env) Get(name string) string {
	return e[name]
}

// Lookup returns the variable and whether it was present and non-empty.
func (e Env) Lookup(name string) (v string, ok bool) {
	v, ok = e[name]
	return v, ok && v != ""
}

// HTTPRequest represents an HTTP request to be inspected by the WAF.
type HTTPRequest interface {
	Env() Env

	// Body returns the request body, or nil if there is none. The host guarantees it is fully buffered.
	Body() io.ReadSeeker
}

// Response is the status, headers and body produced for a request.
type Response struct {
	Status  int
	Headers []HeaderPair
	Body    Body
}

// Handler is an origin application.
type Handler interface {
	ServeWAF(req HTTPRequest) (*Response, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(req HTTPRequest) (*Response, error)

// ServeWAF calls f(req).
func (f HandlerFunc) ServeWAF(req HTTPRequest) (*Response, error) { return f(req) }

// NewRequest creates an HTTPRequest from an Env and an optional body.
func NewRequest(env Env, body io.ReadSeeker) HTTPRequest {
	if env == nil {
		env = Env{}
	}
	return &request{env: env, body: body}
}

type request struct {
	env  Env
	body io.ReadSeeker
}

func (r *request) Env() Env            { return r.env }
func (r *request) Body() io.ReadSeeker { return r.body }

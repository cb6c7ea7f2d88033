package middleware

import (
	"sort"
	"strings"

	"mscwaf/waf"
)

// Env variables read by the middleware.
const (
	EnvRequestURI    = "REQUEST_URI"
	EnvRequestMethod = "REQUEST_METHOD"
	EnvHTTPVersion   = "HTTP_VERSION"
	EnvRemoteHost    = "REMOTE_HOST"
	EnvRemoteAddr    = "REMOTE_ADDR"
	EnvRemotePort    = "REMOTE_PORT"
	EnvHTTPHost      = "HTTP_HOST"
	EnvServerName    = "SERVER_NAME"
	EnvServerPort    = "SERVER_PORT"
)

const (
	headerPrefix  = "HTTP_"
	contentPrefix = "CONTENT_"
)

// RequestHeaders collects the request headers carried in env, sorted by name. HTTP_FOO_BAR becomes Foo-Bar and
// CONTENT_TYPE becomes Content-Type. Every other variable is dropped.
func RequestHeaders(env waf.Env) (headers []waf.HeaderPair) {
	for k, v := range env {
		name, ok := headerName(k)
		if !ok {
			continue
		}
		headers = append(headers, waf.HeaderPair{Key: name, Value: v})
	}

	sort.Slice(headers, func(i, j int) bool { return headers[i].Key < headers[j].Key })
	return
}

func headerName(variable string) (name string, ok bool) {
	switch {
	case variable == EnvHTTPVersion:
		// The protocol of the request line, not a header.
		return
	case strings.HasPrefix(variable, headerPrefix):
		name = strings.TrimPrefix(variable, headerPrefix)
	case strings.HasPrefix(variable, contentPrefix):
		name = variable
	default:
		return
	}

	if name == "" {
		return
	}
	return dashify(name), true
}

// dashify turns FOO_BAR into Foo-Bar.
func dashify(s string) string {
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

package middleware

import (
	"net/http"

	"mscwaf/waf"
)

const fallbackStatusText = "Forbidden"

// StatusLine is the body sent for an intervention with the given status.
func StatusLine(status int) string {
	text := http.StatusText(status)
	if text == "" {
		text = fallbackStatusText
	}
	return text + "\n"
}

func interventionResponse(it waf.Intervention) *waf.Response {
	return &waf.Response{
		Status:  it.Status,
		Headers: []waf.HeaderPair{{Key: "Content-Type", Value: "text/plain"}},
		Body:    waf.Buffer(StatusLine(it.Status)),
	}
}

package crstests

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"mscwaf/middleware"
	"mscwaf/waf"
)

var logRuleIDRegex = regexp.MustCompile(`\[id "(\d+)"\]`)

// RuleMatches collects the ids of rules reported in engine log lines. Log is meant to be the middleware's LogFunc.
type RuleMatches struct {
	mu  sync.Mutex
	ids map[int]bool
}

// NewRuleMatches creates an empty RuleMatches.
func NewRuleMatches() *RuleMatches {
	return &RuleMatches{ids: make(map[int]bool)}
}

// Log records every rule id found in msg.
func (m *RuleMatches) Log(tag string, msg string) {
	mm := logRuleIDRegex.FindAllStringSubmatch(msg, -1)
	if len(mm) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, match := range mm {
		if id, err := strconv.Atoi(match[1]); err == nil {
			m.ids[id] = true
		}
	}
}

// Matched reports whether rule id was seen since the last Reset.
func (m *RuleMatches) Matched(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[id]
}

// Reset forgets all recorded ids.
func (m *RuleMatches) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = make(map[int]bool)
}

// WebServerWouldReject reports whether a front web server would refuse req before it reaches the WAF.
func WebServerWouldReject(req waf.HTTPRequest) bool {
	env := req.Env()

	// If the request line is invalid, the web server would block the request even before it reaches the WAF.
	if strings.Contains(env.Get(middleware.EnvRequestURI), " ") {
		return true
	}

	for _, h := range middleware.RequestHeaders(env) {
		if strings.ContainsAny(h.Value, "\r\n") {
			return true
		}
	}
	return false
}

// Run sends every request of tc through m and reports whether the expected rule matched or stayed silent.
// matches must be the log callback m was created with.
func Run(m *middleware.Middleware, matches *RuleMatches, tc TestCase) (pass bool, err error) {
	matches.Reset()

	for _, req := range tc.Requests {
		if WebServerWouldReject(req) {
			continue
		}

		var resp *waf.Response
		if resp, err = m.Call(req); err != nil {
			return
		}
		if c, ok := resp.Body.(io.Closer); ok {
			c.Close()
		}
	}

	pass = matches.Matched(tc.ExpectedRuleID) == tc.MatchExpected
	return
}

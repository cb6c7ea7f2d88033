package crstests

import (
	"testing"

	"mscwaf/middleware"
	"mscwaf/modsec"
	"mscwaf/testutils"
	"mscwaf/waf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(t *testing.T, conn *testutils.FakeConnector, matches *RuleMatches) *middleware.Middleware {
	origin := waf.HandlerFunc(func(req waf.HTTPRequest) (*waf.Response, error) {
		return &waf.Response{Status: 200, Body: waf.Buffer("ok")}, nil
	})
	rules := middleware.PrebuiltRules{Build: func(e *modsec.Engine) (rs *modsec.RuleSet, err error) {
		rs, err = e.NewRuleSet("crs")
		if err != nil {
			return
		}
		err = rs.Add(`SecRule ARGS "@rx attack" "id:942100,phase:2,deny"`)
		return
	}}

	m, err := middleware.New(testutils.NewTestLogger(t), conn, origin, middleware.Config{Rules: rules, LogFunc: matches.Log})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestRuleMatches(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	m := NewRuleMatches()

	// Act
	m.Log("txn", `ModSecurity: Warning. [file "REQUEST-942.conf"] [line "45"] [id "942100"] [msg "SQL Injection"]`)
	m.Log("txn", `[id "949110"] [id "980130"]`)
	m.Log("txn", `no ids here, id 12345`)

	// Assert
	assert.True(m.Matched(942100))
	assert.True(m.Matched(949110))
	assert.True(m.Matched(980130))
	assert.False(m.Matched(12345))

	m.Reset()
	assert.False(m.Matched(942100))
}

func TestWebServerWouldReject(t *testing.T) {
	cases := []struct {
		name     string
		env      waf.Env
		expected bool
	}{
		{"valid", waf.Env{middleware.EnvRequestURI: "/?a=1", "HTTP_ACCEPT": "*/*"}, false},
		{"space in request line", waf.Env{middleware.EnvRequestURI: "/a b"}, true},
		{"line break in header", waf.Env{middleware.EnvRequestURI: "/", "HTTP_X_A": "a\r\nb"}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, WebServerWouldReject(waf.NewRequest(c.env, nil)))
		})
	}
}

func TestRun(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	conn := &testutils.FakeConnector{
		InterveneAt:  waf.PhaseRequestBody,
		Intervention: waf.Intervention{Status: 403, Log: `ModSecurity: Access denied with code 403 (phase 2). [id "942100"]`, Disruptive: true},
	}
	matches := NewRuleMatches()
	m := newTestMiddleware(t, conn, matches)
	expectMatch := TestCase{TestTitle: "942100-1", MatchExpected: true, ExpectedRuleID: 942100,
		Requests: []waf.HTTPRequest{waf.NewRequest(waf.Env{middleware.EnvRequestURI: "/?q=attack"}, nil)}}
	expectSilence := TestCase{TestTitle: "942100-2", MatchExpected: false, ExpectedRuleID: 942100,
		Requests: []waf.HTTPRequest{waf.NewRequest(waf.Env{middleware.EnvRequestURI: "/?q=attack"}, nil)}}
	skipped := TestCase{TestTitle: "942100-3", MatchExpected: false, ExpectedRuleID: 942100,
		Requests: []waf.HTTPRequest{waf.NewRequest(waf.Env{middleware.EnvRequestURI: "/a b"}, nil)}}

	// Act
	passMatch, errMatch := Run(m, matches, expectMatch)
	passSilence, errSilence := Run(m, matches, expectSilence)
	passSkipped, errSkipped := Run(m, matches, skipped)

	// Assert
	assert.NoError(errMatch)
	assert.True(passMatch)
	assert.NoError(errSilence)
	assert.False(passSilence)
	assert.NoError(errSkipped)
	assert.True(passSkipped)
	assert.Equal(2, conn.Count("msc_new_transaction"))
}

func TestRunEngineError(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{FailCalls: map[string]bool{"msc_process_uri": true}}
	matches := NewRuleMatches()
	m := newTestMiddleware(t, conn, matches)
	tc := TestCase{TestTitle: "1-1", Requests: []waf.HTTPRequest{waf.NewRequest(waf.Env{middleware.EnvRequestURI: "/"}, nil)}}

	// Act
	_, err := Run(m, matches, tc)

	// Assert
	var ece *waf.EngineCallError
	assert.ErrorAs(t, err, &ece)
}

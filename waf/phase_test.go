package waf

import (
	"testing"
)

func TestPhaseStringsInSync(t *testing.T) {
	if int(PhaseLogging)+1 != len(PhaseStrings) {
		t.Fatalf("int(PhaseLogging)+1 != len(PhaseStrings)")
	}
}

func TestPhaseString(t *testing.T) {
	cases := []struct {
		phase    Phase
		expected string
	}{
		{PhaseConnection, "connection"},
		{PhaseRequestHeaders, "request_headers"},
		{PhaseLogging, "logging"},
		{Phase(0), "unknown"},
		{Phase(42), "unknown"},
	}

	for _, c := range cases {
		if c.phase.String() != c.expected {
			t.Fatalf("Unexpected string for phase %d: %s", int(c.phase), c.phase.String())
		}
	}
}

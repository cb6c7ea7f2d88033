package waf

// Phase is one of the ordered inspection steps of a transaction.
type Phase int

// Phases, in the order the engine requires them.
const (
	_ Phase = iota
	PhaseConnection
	PhaseURI
	PhaseRequestHeaders
	PhaseRequestBody
	PhaseResponseHeaders
	PhaseResponseBody
	PhaseLogging
)

// PhaseStrings must be kept in sync with the Phase constants.
var PhaseStrings = []string{
	"unknown",
	"connection",
	"uri",
	"request_headers",
	"request_body",
	"response_headers",
	"response_body",
	"logging",
}

func (p Phase) String() string {
	if p <= 0 || int(p) >= len(PhaseStrings) {
		return PhaseStrings[0]
	}
	return PhaseStrings[p]
}

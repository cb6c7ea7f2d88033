package waf

// LogCallback receives engine log lines. The tag identifies the source of the line, for transactions it is the log
// tag the transaction was created with.
type LogCallback = func(tag string, msg string)

// Connector opens sessions with an inspection engine. This makes mocking possible when testing.
type Connector interface {
	NewSession() (EngineSession, error)
}

// EngineSession is a connector-level session with the inspection engine.
type EngineSession interface {
	SetConnectorInfo(info string)

	// SetLogCallback registers cb for the whole lifetime of the session. The session must keep cb reachable until Cleanup.
	SetLogCallback(cb LogCallback)

	WhoAmI() string
	NewRuleSet() (RuleSetHandle, error)
	NewTransaction(rules RuleSetHandle, logTag string) (TransactionHandle, error)
	Cleanup() error
}

// RuleSetHandle is an engine-side compiled rule set. Calls return the number of rules added.
type RuleSetHandle interface {
	AddFile(path string) (n int, err error)
	Add(rules string) (n int, err error)
	AddRemote(key string, url string) (n int, err error)
	Merge(from RuleSetHandle) (n int, err error)
	Dump()
	Cleanup() error
}

// TransactionHandle is the engine-side state of a single request/response cycle. The bool results report whether the
// engine call succeeded.
type TransactionHandle interface {
	ProcessConnection(client string, clientPort int, server string, serverPort int) bool
	ProcessURI(uri string, method string, httpVersion string) bool
	AddRequestHeader(key []byte, value []byte) bool
	ProcessRequestHeaders() bool
	AppendRequestBody(body []byte) bool
	ProcessRequestBody() bool
	AddResponseHeader(key []byte, value []byte) bool
	ProcessResponseHeaders(status int, protocol string) bool
	UpdateStatusCode(status int) bool
	AppendResponseBody(body []byte) bool
	ProcessResponseBody() bool
	ProcessLogging() bool

	// Intervention returns the populated intervention record, if any. The engine-side record is released before returning.
	Intervention() (it Intervention, populated bool)

	Cleanup() error
}

package testutils

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"mscwaf/waf"
)

// FakeConnector is an in-memory waf.Connector that records and counts every engine call. Fields configure its
// behavior and must be set before the first session is opened.
type FakeConnector struct {
	// InterveneAt makes the intervention check after this phase report Intervention. Zero never intervenes.
	InterveneAt  waf.Phase
	Intervention waf.Intervention

	// FailCalls makes the named engine calls report failure, e.g. "msc_process_uri".
	FailCalls map[string]bool

	// RejectHeaderKeys makes header adds fail for these keys.
	RejectHeaderKeys map[string]bool

	// RuleErrors makes AddFile fail for these paths, or Add for rule texts containing the key.
	RuleErrors map[string]string

	// RulesPerSource is the count returned by successful rule additions. Defaults to 1.
	RulesPerSource int

	// CleanupErrors makes the named cleanup call return an error, e.g. "msc_transaction_cleanup".
	CleanupErrors map[string]bool

	SessionErr error

	mu           sync.Mutex
	calls        map[string]int
	Sessions     []*FakeSession
	RuleSets     []*FakeRuleSet
	Transactions []*FakeTransaction
}

// Count returns how many times the named engine call ran.
func (c *FakeConnector) Count(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[call]
}

// LastTransaction returns the most recently created transaction, or nil.
func (c *FakeConnector) LastTransaction() *FakeTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Transactions) == 0 {
		return nil
	}
	return c.Transactions[len(c.Transactions)-1]
}

func (c *FakeConnector) record(call string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[call]++
	return !c.FailCalls[call]
}

func (c *FakeConnector) cleanup(call string) error {
	c.record(call)
	if c.CleanupErrors[call] {
		return fmt.Errorf("%s failed", call)
	}
	return nil
}

// NewSession implements waf.Connector.
func (c *FakeConnector) NewSession() (waf.EngineSession, error) {
	c.record("msc_init")
	if c.SessionErr != nil {
		return nil, c.SessionErr
	}

	s := &FakeSession{conn: c}
	c.mu.Lock()
	c.Sessions = append(c.Sessions, s)
	c.mu.Unlock()
	return s, nil
}

// FakeSession is the session of a FakeConnector.
type FakeSession struct {
	conn          *FakeConnector
	ConnectorInfo string
	logCb         waf.LogCallback
}

// Log emits a line through the registered log callback, as the engine would.
func (s *FakeSession) Log(tag string, msg string) {
	if s.logCb != nil {
		s.logCb(tag, msg)
	}
}

func (s *FakeSession) SetConnectorInfo(info string) {
	s.conn.record("msc_set_connector_info")
	s.ConnectorInfo = info
}

func (s *FakeSession) SetLogCallback(cb waf.LogCallback) {
	s.conn.record("msc_set_log_cb")
	s.logCb = cb
}

func (s *FakeSession) WhoAmI() string {
	s.conn.record("msc_who_am_i")
	return "FakeSecurity v3.0.0 (testing)"
}

func (s *FakeSession) NewRuleSet() (waf.RuleSetHandle, error) {
	s.conn.record("msc_create_rules_set")
	r := &FakeRuleSet{conn: s.conn}
	s.conn.mu.Lock()
	s.conn.RuleSets = append(s.conn.RuleSets, r)
	s.conn.mu.Unlock()
	return r, nil
}

func (s *FakeSession) NewTransaction(rules waf.RuleSetHandle, logTag string) (waf.TransactionHandle, error) {
	if !s.conn.record("msc_new_transaction") {
		return nil, errors.New("msc_new_transaction failed")
	}

	t := &FakeTransaction{conn: s.conn, session: s, Rules: rules.(*FakeRuleSet), LogTag: logTag}
	s.conn.mu.Lock()
	s.conn.Transactions = append(s.conn.Transactions, t)
	s.conn.mu.Unlock()
	return t, nil
}

func (s *FakeSession) Cleanup() error { return s.conn.cleanup("msc_cleanup") }

// FakeRuleSet is a rule set of a FakeConnector. Sources lists every file, text or url that was added, in order.
type FakeRuleSet struct {
	conn    *FakeConnector
	Sources []string
	Closed  bool
}

func (r *FakeRuleSet) count() int {
	if r.conn.RulesPerSource == 0 {
		return 1
	}
	return r.conn.RulesPerSource
}

func (r *FakeRuleSet) AddFile(path string) (int, error) {
	r.conn.record("msc_rules_add_file")
	if msg, ok := r.conn.RuleErrors[path]; ok {
		return -1, errors.New(msg)
	}
	r.Sources = append(r.Sources, path)
	return r.count(), nil
}

func (r *FakeRuleSet) Add(rules string) (int, error) {
	r.conn.record("msc_rules_add")
	for k, msg := range r.conn.RuleErrors {
		if strings.Contains(rules, k) {
			return -1, errors.New(msg)
		}
	}
	r.Sources = append(r.Sources, rules)
	return r.count(), nil
}

func (r *FakeRuleSet) AddRemote(key string, url string) (int, error) {
	r.conn.record("msc_rules_add_remote")
	if msg, ok := r.conn.RuleErrors[url]; ok {
		return -1, errors.New(msg)
	}
	r.Sources = append(r.Sources, url)
	return r.count(), nil
}

func (r *FakeRuleSet) Merge(from waf.RuleSetHandle) (int, error) {
	r.conn.record("msc_rules_merge")
	f := from.(*FakeRuleSet)
	r.Sources = append(r.Sources, f.Sources...)
	return len(f.Sources) * r.count(), nil
}

func (r *FakeRuleSet) Dump() { r.conn.record("msc_rules_dump") }

func (r *FakeRuleSet) Cleanup() error {
	r.Closed = true
	return r.conn.cleanup("msc_rules_cleanup")
}

// FakeTransaction records every input handed to the engine for one transaction.
type FakeTransaction struct {
	conn    *FakeConnector
	session *FakeSession
	Rules   *FakeRuleSet
	LogTag  string

	Phases          []waf.Phase
	Connection      []interface{}
	URI             []string
	RequestHeaders  []waf.HeaderPair
	RequestBody     [][]byte
	ResponseStatus  int
	ResponseProto   string
	ResponseHeaders []waf.HeaderPair
	ResponseBody    [][]byte
	Closed          bool
}

func (t *FakeTransaction) process(p waf.Phase, call string) bool {
	t.Phases = append(t.Phases, p)
	return t.conn.record(call)
}

func (t *FakeTransaction) ProcessConnection(client string, clientPort int, server string, serverPort int) bool {
	t.Connection = []interface{}{client, clientPort, server, serverPort}
	return t.process(waf.PhaseConnection, "msc_process_connection")
}

func (t *FakeTransaction) ProcessURI(uri string, method string, httpVersion string) bool {
	t.URI = []string{uri, method, httpVersion}
	return t.process(waf.PhaseURI, "msc_process_uri")
}

func (t *FakeTransaction) AddRequestHeader(key []byte, value []byte) bool {
	ok := t.conn.record("msc_add_n_request_header")
	if !ok || t.conn.RejectHeaderKeys[string(key)] {
		return false
	}
	t.RequestHeaders = append(t.RequestHeaders, waf.HeaderPair{Key: string(key), Value: string(value)})
	return true
}

func (t *FakeTransaction) ProcessRequestHeaders() bool {
	return t.process(waf.PhaseRequestHeaders, "msc_process_request_headers")
}

func (t *FakeTransaction) AppendRequestBody(body []byte) bool {
	t.RequestBody = append(t.RequestBody, append([]byte{}, body...))
	return t.conn.record("msc_append_request_body")
}

func (t *FakeTransaction) ProcessRequestBody() bool {
	return t.process(waf.PhaseRequestBody, "msc_process_request_body")
}

func (t *FakeTransaction) AddResponseHeader(key []byte, value []byte) bool {
	ok := t.conn.record("msc_add_n_response_header")
	if !ok || t.conn.RejectHeaderKeys[string(key)] {
		return false
	}
	t.ResponseHeaders = append(t.ResponseHeaders, waf.HeaderPair{Key: string(key), Value: string(value)})
	return true
}

func (t *FakeTransaction) ProcessResponseHeaders(status int, protocol string) bool {
	t.ResponseStatus = status
	t.ResponseProto = protocol
	return t.process(waf.PhaseResponseHeaders, "msc_process_response_headers")
}

func (t *FakeTransaction) UpdateStatusCode(status int) bool {
	t.ResponseStatus = status
	return t.conn.record("msc_update_status_code")
}

func (t *FakeTransaction) AppendResponseBody(body []byte) bool {
	t.ResponseBody = append(t.ResponseBody, append([]byte{}, body...))
	return t.conn.record("msc_append_response_body")
}

func (t *FakeTransaction) ProcessResponseBody() bool {
	return t.process(waf.PhaseResponseBody, "msc_process_response_body")
}

func (t *FakeTransaction) ProcessLogging() bool {
	ok := t.process(waf.PhaseLogging, "msc_process_logging")
	t.session.Log(t.LogTag, fmt.Sprintf("audit record for %s", t.LogTag))
	return ok
}

func (t *FakeTransaction) Intervention() (it waf.Intervention, populated bool) {
	t.conn.record("msc_intervention")
	if t.conn.InterveneAt == 0 || len(t.Phases) == 0 {
		return
	}
	if t.Phases[len(t.Phases)-1] != t.conn.InterveneAt {
		return
	}
	return t.conn.Intervention, true
}

func (t *FakeTransaction) Cleanup() error {
	t.Closed = true
	return t.conn.cleanup("msc_transaction_cleanup")
}

package modsec

import (
	"fmt"
	"sync"

	"mscwaf/waf"

	"github.com/rs/zerolog"
)

// DefaultResponseProtocol is given to the engine when the response protocol is unknown.
const DefaultResponseProtocol = "HTTP 1.1"

// Transaction drives the inspection phases of one request/response cycle. It is not safe for concurrent use and is
// never reused across cycles.
type Transaction struct {
	logger zerolog.Logger
	engine *Engine
	rules  *RuleSet
	handle waf.TransactionHandle

	phase     waf.Phase
	aborted   bool
	connected bool
	logged    bool

	closeOnce sync.Once
	closeErr  error
}

// NewTransaction creates a transaction against the given rule set. logTag is handed back with every engine log line
// the transaction produces.
func (e *Engine) NewTransaction(logger zerolog.Logger, rules *RuleSet, logTag string) (t *Transaction, err error) {
	if rules == nil {
		err = fmt.Errorf("a rule set is required to create a transaction")
		return
	}

	h, err := e.session.NewTransaction(rules.handle, logTag)
	if err != nil {
		err = fmt.Errorf("failed to create transaction: %w", err)
		return
	}

	t = &Transaction{
		logger: logger,
		engine: e,
		rules:  rules,
		handle: h,
	}
	return
}

// Phase is the latest phase that was started.
func (t *Transaction) Phase() waf.Phase { return t.phase }

// Connected reports whether the connection phase succeeded, which obliges the logging phase.
func (t *Transaction) Connected() bool { return t.connected }

// Connection runs the connection phase.
func (t *Transaction) Connection(clientAddr string, clientPort int, serverAddr string, serverPort int) (err error) {
	if err = t.begin(waf.PhaseConnection); err != nil {
		return
	}

	if !t.handle.ProcessConnection(clientAddr, clientPort, serverAddr, serverPort) {
		return t.fail(waf.PhaseConnection, "msc_process_connection", clientAddr, clientPort, serverAddr, serverPort)
	}
	t.connected = true

	return t.checkIntervention()
}

// URI runs the URI phase. method is GET, POST etc. httpVersion is "1.1", "2" etc.
func (t *Transaction) URI(uri string, method string, httpVersion string) (err error) {
	if err = t.begin(waf.PhaseURI); err != nil {
		return
	}

	if !t.handle.ProcessURI(uri, method, httpVersion) {
		return t.fail(waf.PhaseURI, "msc_process_uri", uri, method, httpVersion)
	}

	return t.checkIntervention()
}

// RequestHeaders adds every header, then runs the request headers phase. All headers are attempted before a
// *waf.HeaderAggregationError is returned for the ones the engine refused.
func (t *Transaction) RequestHeaders(headers []waf.HeaderPair) (err error) {
	if err = t.begin(waf.PhaseRequestHeaders); err != nil {
		return
	}

	if err = t.addHeaders(waf.PhaseRequestHeaders, "msc_add_n_request_header", t.handle.AddRequestHeader, headers); err != nil {
		return
	}

	if !t.handle.ProcessRequestHeaders() {
		return t.fail(waf.PhaseRequestHeaders, "msc_process_request_headers")
	}

	return t.checkIntervention()
}

// RequestBody appends every chunk of body, then runs the request body phase. The phase runs even for a nil or empty
// body, since the engine only evaluates body rules when it does.
func (t *Transaction) RequestBody(body waf.Body) (err error) {
	if err = t.begin(waf.PhaseRequestBody); err != nil {
		return
	}

	err = waf.EachChunk(body, func(chunk []byte) error {
		if !t.handle.AppendRequestBody(chunk) {
			return t.fail(waf.PhaseRequestBody, "msc_append_request_body", len(chunk))
		}
		return nil
	})
	if err != nil {
		return
	}

	if !t.handle.ProcessRequestBody() {
		return t.fail(waf.PhaseRequestBody, "msc_process_request_body")
	}

	return t.checkIntervention()
}

// ResponseHeaders adds every header, then runs the response headers phase with the given status and protocol.
func (t *Transaction) ResponseHeaders(status int, protocol string, headers []waf.HeaderPair) (err error) {
	if err = t.begin(waf.PhaseResponseHeaders); err != nil {
		return
	}

	if protocol == "" {
		protocol = DefaultResponseProtocol
	}

	if err = t.addHeaders(waf.PhaseResponseHeaders, "msc_add_n_response_header", t.handle.AddResponseHeader, headers); err != nil {
		return
	}

	if !t.handle.ProcessResponseHeaders(status, protocol) {
		return t.fail(waf.PhaseResponseHeaders, "msc_process_response_headers", status, protocol)
	}

	return t.checkIntervention()
}

// UpdateStatusCode informs the engine of a new response status after the response headers phase.
func (t *Transaction) UpdateStatusCode(status int) (err error) {
	if t.aborted || t.phase < waf.PhaseResponseHeaders || t.logged {
		return &waf.PhaseOrderError{Phase: waf.PhaseResponseHeaders, Current: t.phase, Aborted: t.aborted}
	}

	if !t.handle.UpdateStatusCode(status) {
		return &waf.EngineCallError{Phase: t.phase, Call: "msc_update_status_code", Args: []interface{}{status}}
	}
	return
}

// ResponseBody appends every chunk of body, then runs the response body phase. Like RequestBody it runs even when
// the body is empty.
func (t *Transaction) ResponseBody(body waf.Body) (err error) {
	if err = t.begin(waf.PhaseResponseBody); err != nil {
		return
	}

	err = waf.EachChunk(body, func(chunk []byte) error {
		if !t.handle.AppendResponseBody(chunk) {
			return t.fail(waf.PhaseResponseBody, "msc_append_response_body", len(chunk))
		}
		return nil
	})
	if err != nil {
		return
	}

	if !t.handle.ProcessResponseBody() {
		return t.fail(waf.PhaseResponseBody, "msc_process_response_body")
	}

	return t.checkIntervention()
}

// Logging runs the terminal phase, in which the engine emits its audit record. It may run once per transaction whose
// connection phase succeeded, whether or not the transaction was aborted. No intervention is checked for.
func (t *Transaction) Logging() (err error) {
	if !t.connected || t.logged {
		return &waf.PhaseOrderError{Phase: waf.PhaseLogging, Current: t.phase}
	}
	t.logged = true

	if !t.handle.ProcessLogging() {
		return &waf.EngineCallError{Phase: waf.PhaseLogging, Call: "msc_process_logging"}
	}

	t.logger.Debug().Str("phase", waf.PhaseLogging.String()).Msg("Transaction logged")
	return
}

// Close releases the engine-side transaction. It is safe to call more than once.
func (t *Transaction) Close() error {
	t.closeOnce.Do(func() {
		if err := t.handle.Cleanup(); err != nil {
			t.closeErr = &waf.ResourceReleaseError{Resource: "transaction", Err: err}
		}
	})
	return t.closeErr
}

// begin moves the transaction into phase p. Phases may be skipped, but never repeated or run out of order.
func (t *Transaction) begin(p waf.Phase) error {
	if t.aborted {
		return &waf.PhaseOrderError{Phase: p, Current: t.phase, Aborted: true}
	}
	if p <= t.phase || t.logged {
		return &waf.PhaseOrderError{Phase: p, Current: t.phase}
	}

	t.phase = p
	return nil
}

func (t *Transaction) fail(p waf.Phase, call string, args ...interface{}) error {
	t.aborted = true
	err := &waf.EngineCallError{Phase: p, Call: call, Args: args}
	t.logger.Warn().Err(err).Str("phase", p.String()).Msg("Engine call failed")
	return err
}

func (t *Transaction) addHeaders(p waf.Phase, call string, add func(key []byte, value []byte) bool, headers []waf.HeaderPair) error {
	var failed []waf.HeaderPair
	for _, h := range headers {
		if !add([]byte(h.Key), []byte(h.Value)) {
			failed = append(failed, h)
		}
	}

	if len(failed) > 0 {
		t.aborted = true
		err := &waf.HeaderAggregationError{Phase: p, Call: call, Failed: failed}
		t.logger.Warn().Err(err).Str("phase", p.String()).Int("failed", len(failed)).Msg("Engine refused headers")
		return err
	}
	return nil
}

func (t *Transaction) checkIntervention() error {
	it, populated := t.handle.Intervention()
	if !populated {
		t.logger.Debug().Str("phase", t.phase.String()).Msg("Phase completed")
		return nil
	}

	t.aborted = true
	t.logger.Info().Str("phase", t.phase.String()).Int("status", it.Status).Bool("disruptive", it.Disruptive).Msg("Engine intervened")
	return &waf.InterventionError{Phase: t.phase, Intervention: it}
}

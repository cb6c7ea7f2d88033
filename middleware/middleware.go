package middleware

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"mscwaf/logging"
	"mscwaf/modsec"
	"mscwaf/rulesource"
	"mscwaf/waf"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Log tags of the lines the middleware itself emits through the log callback.
const (
	LogTag             = "mscwaf.middleware"
	InterventionLogTag = "intervention"
)

// ErrClosed is returned by Call after Close.
var ErrClosed = errors.New("middleware is closed")

// URIMode selects what is inspected as the request URI.
type URIMode int

const (
	// FullTarget inspects the request target including the query string.
	FullTarget URIMode = iota

	// PathOnly inspects the request target without the query string.
	PathOnly
)

// RuleSource says where the rules come from. It is either RulesDirectory or PrebuiltRules.
type RuleSource interface {
	isRuleSource()
}

// RulesDirectory loads the rules with a rulesource loader.
type RulesDirectory struct {
	// ConfigDir holds modsecurity.conf and crs-setup.conf.
	ConfigDir string

	// RulesDir defaults to ConfigDir/rules.
	RulesDir string

	// Combined uses the combined loader, which adds all files as one rule set instead of merging them.
	Combined bool

	// FileSystem defaults to the OS file system.
	FileSystem rulesource.FileSystem
}

// PrebuiltRules builds the rule set with a caller supplied function. The middleware owns the returned rule set.
type PrebuiltRules struct {
	Build func(e *modsec.Engine) (*modsec.RuleSet, error)
}

func (RulesDirectory) isRuleSource() {}
func (PrebuiltRules) isRuleSource()  {}

// Config configures a Middleware. Rules is required.
type Config struct {
	Rules RuleSource

	// LogFunc receives every log line. If nil, lines go to LogSink, and if that is nil too, to the zerolog logger.
	LogFunc waf.LogCallback

	// LogSink receives the message of every log line if LogFunc is nil.
	LogSink io.Writer

	URIMode URIMode

	ResultsLogger waf.ResultsLogger
	Metrics       *Metrics

	// MaxRequestBodyBytes limits the request bodies ServeHTTP buffers. Zero means no limit.
	MaxRequestBodyBytes int64
}

// Middleware inspects every request/response cycle that passes through it. It is safe for concurrent use.
type Middleware struct {
	logger        zerolog.Logger
	engine        *modsec.Engine
	rules         *modsec.RuleSet
	next          waf.Handler
	logFn         waf.LogCallback
	uriMode       URIMode
	resultsLogger waf.ResultsLogger
	metrics       *Metrics
	maxBodyBytes  int64

	mu     sync.RWMutex
	closed bool
}

// New opens an engine session through conn, loads the rules and wraps next.
func New(logger zerolog.Logger, conn waf.Connector, next waf.Handler, c Config) (m *Middleware, err error) {
	if next == nil {
		err = fmt.Errorf("an origin handler is required")
		return
	}
	if c.Rules == nil {
		err = fmt.Errorf("a rule source is required")
		return
	}

	logFn := c.LogFunc
	if logFn == nil {
		if c.LogSink != nil {
			logFn = logging.NewWriterSink(c.LogSink)
		} else {
			logFn = logging.NewZerologSink(logger)
		}
	}

	engine, err := modsec.NewEngine(logger, conn, logFn)
	if err != nil {
		return
	}

	logFn(LogTag, fmt.Sprintf("%s starting with %s", engine.ConnectorInfo(), engine.VersionInfo()))

	rules, err := loadRules(engine, c.Rules, logFn)
	if err != nil {
		engine.Close()
		return
	}

	logger.Info().Str("tag", rules.Tag()).Int("rules", rules.RuleCount()).Msg("Rules loaded")

	m = &Middleware{
		logger:        logger,
		engine:        engine,
		rules:         rules,
		next:          next,
		logFn:         logFn,
		uriMode:       c.URIMode,
		resultsLogger: c.ResultsLogger,
		metrics:       c.Metrics,
		maxBodyBytes:  c.MaxRequestBodyBytes,
	}
	return
}

func loadRules(engine *modsec.Engine, src RuleSource, logFn waf.LogCallback) (rules *modsec.RuleSet, err error) {
	switch src := src.(type) {
	case RulesDirectory:
		fs := src.FileSystem
		if fs == nil {
			fs = rulesource.NewFileSystem()
		}

		var l rulesource.Loader
		if src.Combined {
			l = rulesource.NewCombinedLoader(fs, src.ConfigDir, src.RulesDir, logFn)
		} else {
			l = rulesource.NewDirectoryLoader(fs, src.ConfigDir, src.RulesDir, logFn)
		}
		rules, err = l.RuleSet(engine)

	case PrebuiltRules:
		if src.Build == nil {
			err = fmt.Errorf("prebuilt rules need a Build function")
			return
		}
		rules, err = src.Build(engine)
		if err == nil && rules == nil {
			err = fmt.Errorf("prebuilt rules Build returned no rule set")
		}
		if err != nil && rules != nil {
			rules.Close()
			rules = nil
		}

	default:
		err = fmt.Errorf("unsupported rule source %T", src)
	}

	if err != nil {
		err = fmt.Errorf("failed to load rules: %w", err)
	}
	return
}

// Engine is the engine session shared by all cycles.
func (m *Middleware) Engine() *modsec.Engine { return m.engine }

// Rules is the rule set shared by all cycles.
func (m *Middleware) Rules() *modsec.RuleSet { return m.rules }

// Call runs one request/response cycle through the inspection phases and the origin handler. An intervention is
// returned as a plain text response with the status the engine chose, never as an error.
func (m *Middleware) Call(req waf.HTTPRequest) (resp *waf.Response, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		err = ErrClosed
		return
	}

	env := req.Env()
	uri := env.Get(EnvRequestURI)
	txid := uuid.NewString()

	// Create a sub-logger with a transaction ID
	logger := m.logger.With().Str("txid", txid).Logger()

	var intervened bool
	logger.Info().Str("uri", uri).Msg("WAF got request")
	startTime := time.Now()
	defer func() {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		timeTaken := time.Since(startTime)
		logger.Info().Dur("timeTaken", timeTaken).Str("uri", uri).Int("status", status).Bool("intervened", intervened).Msg("WAF completed request")

		switch {
		case err != nil:
			m.metrics.RecordTransaction(OutcomeFailed, timeTaken)
		case intervened:
			m.metrics.RecordTransaction(OutcomeIntervened, timeTaken)
		default:
			m.metrics.RecordTransaction(OutcomePassed, timeTaken)
		}
	}()

	txn, err := m.engine.NewTransaction(logger, m.rules, uri)
	if err != nil {
		return
	}
	defer func() {
		if cerr := txn.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to release transaction")
		}
	}()

	origin, err := m.phases(logger, txn, req)

	if txn.Connected() {
		if lerr := txn.Logging(); lerr != nil {
			logger.Warn().Err(lerr).Msg("Logging phase failed")
		}
	}

	if it, phase, ok := waf.AsIntervention(err); ok {
		intervened = true
		m.intervene(logger, req, txid, origin, phase, it)
		resp, err = interventionResponse(it), nil
		return
	}

	if err != nil {
		closeBody(logger, origin)
		return
	}

	resp = origin
	return
}

// phases runs the inspection phases around the origin handler. origin is returned whenever the handler ran, so that
// its body can be released.
func (m *Middleware) phases(logger zerolog.Logger, txn *modsec.Transaction, req waf.HTTPRequest) (origin *waf.Response, err error) {
	env := req.Env()

	clientAddr, _ := first(env, EnvRemoteHost, EnvRemoteAddr)
	serverAddr, _ := first(env, EnvHTTPHost, EnvServerName)
	if err = txn.Connection(clientAddr, port(logger, env, EnvRemotePort), serverAddr, port(logger, env, EnvServerPort)); err != nil {
		return
	}

	if err = txn.URI(m.requestTarget(env), env.Get(EnvRequestMethod), httpVersion(env.Get(EnvHTTPVersion))); err != nil {
		return
	}

	if err = txn.RequestHeaders(RequestHeaders(env)); err != nil {
		return
	}

	if err = requestBody(logger, txn, req.Body()); err != nil {
		return
	}

	origin, err = m.next.ServeWAF(req)
	if err != nil {
		err = fmt.Errorf("origin handler failed: %w", err)
		return
	}
	if origin == nil {
		err = fmt.Errorf("origin handler returned no response")
		return
	}

	if err = txn.ResponseHeaders(origin.Status, env.Get(EnvHTTPVersion), origin.Headers); err != nil {
		return
	}

	origin.Body, err = responseBody(txn, origin.Body)
	return
}

func (m *Middleware) intervene(logger zerolog.Logger, req waf.HTTPRequest, txid string, origin *waf.Response, phase waf.Phase, it waf.Intervention) {
	m.logFn(InterventionLogTag, it.Log)

	if m.resultsLogger != nil {
		m.resultsLogger.InterventionTriggered(&resultsRequest{env: req.Env(), txid: txid}, phase, it)
	}
	m.metrics.RecordIntervention(phase)

	closeBody(logger, origin)
}

// Close waits for in-flight cycles to finish, then releases the rule set and the engine session.
func (m *Middleware) Close() (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true

	if rerr := m.rules.Close(); rerr != nil {
		m.logger.Warn().Err(rerr).Msg("Failed to release rule set")
		err = rerr
	}
	if eerr := m.engine.Close(); eerr != nil {
		m.logger.Warn().Err(eerr).Msg("Failed to release engine session")
		if err == nil {
			err = eerr
		}
	}
	return
}

func (m *Middleware) requestTarget(env waf.Env) string {
	target := env.Get(EnvRequestURI)
	if m.uriMode == PathOnly {
		target, _, _ = strings.Cut(target, "?")
	}
	return target
}

// requestBody hands the whole request body to the engine, then puts the read position back where it was.
func requestBody(logger zerolog.Logger, txn *modsec.Transaction, body io.ReadSeeker) (err error) {
	if body == nil {
		return txn.RequestBody(nil)
	}

	start, err := body.Seek(0, io.SeekCurrent)
	if err != nil {
		err = fmt.Errorf("failed to get request body position: %w", err)
		return
	}
	defer func() {
		if _, serr := body.Seek(start, io.SeekStart); serr != nil {
			if err == nil {
				err = fmt.Errorf("failed to rewind request body: %w", serr)
				return
			}
			logger.Warn().Err(serr).Msg("Failed to rewind request body")
		}
	}()

	bb, err := io.ReadAll(body)
	if err != nil {
		err = fmt.Errorf("failed to read request body: %w", err)
		return
	}

	return txn.RequestBody(waf.Buffer(bb))
}

var errStopIteration = errors.New("stop iteration")

// responseBody hands the origin body to the engine. One-shot bodies are recorded on the way through and replayed
// afterwards, so the returned body still has all its content.
func responseBody(txn *modsec.Transaction, body waf.Body) (replayed waf.Body, err error) {
	if _, ok := body.(waf.Buffer); ok || body == nil {
		return body, txn.ResponseBody(body)
	}

	var recorded [][]byte
	tee := waf.Chunks(func(yield func([]byte) bool) {
		waf.EachChunk(body, func(chunk []byte) error {
			recorded = append(recorded, chunk)
			if !yield(chunk) {
				return errStopIteration
			}
			return nil
		})
	})

	err = txn.ResponseBody(tee)
	return waf.Replay(body, recorded), err
}

func closeBody(logger zerolog.Logger, origin *waf.Response) {
	if origin == nil {
		return
	}
	if c, ok := origin.Body.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close origin response body")
		}
	}
}

// httpVersion takes "1.1" out of "HTTP/1.1".
func httpVersion(protocol string) string {
	_, version, _ := strings.Cut(protocol, "/")
	return version
}

func first(env waf.Env, names ...string) (v string, ok bool) {
	for _, n := range names {
		if v, ok = env.Lookup(n); ok {
			return
		}
	}
	return
}

// port parses a port variable. Absent or malformed values become 0.
func port(logger zerolog.Logger, env waf.Env, name string) int {
	s, ok := env.Lookup(name)
	if !ok {
		return 0
	}

	p, err := strconv.Atoi(s)
	if err != nil || p < 0 {
		logger.Debug().Str("variable", name).Str("value", s).Msg("Ignoring malformed port")
		return 0
	}
	return p
}

type resultsRequest struct {
	env  waf.Env
	txid string
}

func (r *resultsRequest) URI() string { return r.env.Get(EnvRequestURI) }

func (r *resultsRequest) ClientIP() string {
	ip, _ := first(r.env, EnvRemoteAddr, EnvRemoteHost)
	return ip
}

func (r *resultsRequest) TransactionID() string { return r.txid }

package modsec

import (
	"fmt"
	"sync"

	"mscwaf/waf"

	"github.com/rs/zerolog"
)

// Version of this connector, reported to the engine.
const Version = "0.3.0"

// ConnectorName is the name this connector identifies itself with.
const ConnectorName = "mscwaf"

// Engine owns a session with the inspection engine. It is shared by all transactions created against it.
type Engine struct {
	logger  zerolog.Logger
	session waf.EngineSession

	logMu sync.RWMutex
	logFn waf.LogCallback

	closeOnce sync.Once
	closeErr  error
}

// NewEngine opens a session through the given connector. logFn may be nil.
func NewEngine(logger zerolog.Logger, conn waf.Connector, logFn waf.LogCallback) (e *Engine, err error) {
	session, err := conn.NewSession()
	if err != nil {
		err = fmt.Errorf("failed to initialize engine session: %w", err)
		return
	}

	e = &Engine{
		logger:  logger,
		session: session,
		logFn:   logFn,
	}

	session.SetConnectorInfo(e.ConnectorInfo())

	// The session holds on to this method value until Cleanup. Replacing the callback only swaps e.logFn.
	session.SetLogCallback(e.dispatchLog)

	return
}

// SetLogCallback replaces the function engine log lines are delivered to.
func (e *Engine) SetLogCallback(fn waf.LogCallback) {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	e.logFn = fn
}

func (e *Engine) dispatchLog(tag string, msg string) {
	e.logMu.RLock()
	fn := e.logFn
	e.logMu.RUnlock()

	if fn == nil {
		e.logger.Info().Str("tag", tag).Msg(msg)
		return
	}
	fn(tag, msg)
}

// ConnectorInfo is the identity given to the engine, in the form "ConnectorName vX.Y.Z".
func (e *Engine) ConnectorInfo() string {
	return ConnectorName + " v" + Version
}

// VersionInfo describes the engine library.
func (e *Engine) VersionInfo() string {
	return e.session.WhoAmI()
}

// NewRuleSet creates an empty rule set. The tag is used to attribute errors.
func (e *Engine) NewRuleSet(tag string) (rs *RuleSet, err error) {
	h, err := e.session.NewRuleSet()
	if err != nil {
		err = fmt.Errorf("failed to create rule set: %w", err)
		return
	}

	rs = &RuleSet{handle: h, tag: tag}
	return
}

// Close releases the engine session. Transactions and rule sets created from this engine must be closed first.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if err := e.session.Cleanup(); err != nil {
			e.closeErr = &waf.ResourceReleaseError{Resource: "engine session", Err: err}
		}
	})
	return e.closeErr
}

package main

import (
	"net/http"
	"sync"
	"sync/atomic"

	"mscwaf/middleware"

	"github.com/rs/zerolog"
)

// generation is one middleware instance and the requests still using it.
type generation struct {
	mu      sync.RWMutex
	retired bool
	m       *middleware.Middleware
}

func (g *generation) serve(w http.ResponseWriter, r *http.Request) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.retired {
		return false
	}
	g.m.ServeHTTP(w, r)
	return true
}

// retire waits for the requests using g, then closes its middleware.
func (g *generation) retire() error {
	g.mu.Lock()
	g.retired = true
	g.mu.Unlock()
	return g.m.Close()
}

// reloadingHandler serves every request with the most recently built middleware. Reload swaps in a new one without
// failing requests that are in flight.
type reloadingHandler struct {
	logger  zerolog.Logger
	build   func() (*middleware.Middleware, error)
	current atomic.Pointer[generation]
	closed  atomic.Bool

	reloadMu sync.Mutex
}

func newReloadingHandler(logger zerolog.Logger, build func() (*middleware.Middleware, error)) (h *reloadingHandler, err error) {
	m, err := build()
	if err != nil {
		return
	}

	h = &reloadingHandler{logger: logger, build: build}
	h.current.Store(&generation{m: m})
	return
}

// ServeHTTP retries with the newer generation when a reload retired the one it picked. After Close it answers 503.
func (h *reloadingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for {
		g := h.current.Load()
		if g.serve(w, r) {
			return
		}
		if h.closed.Load() && h.current.Load() == g {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
}

// Reload builds a new middleware. If that fails the current one keeps serving.
func (h *reloadingHandler) Reload() (err error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	if h.closed.Load() {
		err = middleware.ErrClosed
		return
	}

	m, err := h.build()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to reload rules, keeping the current rule set")
		return
	}

	old := h.current.Swap(&generation{m: m})
	h.logger.Info().Int("ruleCount", m.Rules().RuleCount()).Msg("Rules reloaded")

	if cerr := old.retire(); cerr != nil {
		h.logger.Warn().Err(cerr).Msg("Failed to release previous middleware")
	}
	return
}

func (h *reloadingHandler) Close() error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	if h.closed.Swap(true) {
		return nil
	}
	return h.current.Load().retire()
}

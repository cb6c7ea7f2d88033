package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mscwaf/config"
	"mscwaf/libmodsecurity"
	"mscwaf/logging"
	"mscwaf/middleware"
	"mscwaf/rulesource"
	"mscwaf/waf"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Dependency injection composition root
func main() {
	logLevel := flag.String("loglevel", "info", "sets log level. Can be one of: debug, info, warn, error, fatal, panic.")
	profiling := flag.Bool("profiling", false, "whether to enable the :6060/debug/pprof/ endpoint")
	configPath := flag.String("config", "/etc/mscwaf/mscwaf.yaml", "path of the yaml config file")
	flag.Parse()

	if *profiling {
		go func() {
			http.ListenAndServe(":6060", nil)
		}()
	}

	loglevel, _ := zerolog.ParseLevel(*logLevel)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(loglevel).With().Timestamp().Caller().Logger()

	c, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error while loading config")
	}

	upstream, err := url.Parse(c.Upstream)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error while parsing upstream URL")
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)

	var resLog waf.ResultsLogger = logging.NewZerologResultsLogger(logger)
	if c.AuditLogPath != "" {
		fileResLog, err := logging.NewFileResultsLogger(logging.NewLogFileSystem(), logger, c.AuditLogPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Error while opening audit log")
		}
		defer fileResLog.Close()
		resLog = fileResLog
	}

	uriMode := middleware.FullTarget
	if c.URIMode == "path" {
		uriMode = middleware.PathOnly
	}

	mc := middleware.Config{
		Rules: middleware.RulesDirectory{
			ConfigDir: c.ConfigDir,
			RulesDir:  c.RulesDir,
			Combined:  c.CombinedRules,
		},
		URIMode:             uriMode,
		ResultsLogger:       resLog,
		Metrics:             middleware.NewMetrics(prometheus.DefaultRegisterer),
		MaxRequestBodyBytes: c.MaxRequestBodyBytes,
	}
	conn := libmodsecurity.NewConnector()
	build := func() (*middleware.Middleware, error) {
		return middleware.New(logger, conn, middleware.Origin(proxy), mc)
	}

	h, err := newReloadingHandler(logger, build)
	if err != nil {
		logger.Fatal().Err(err).Msg("Error while creating WAF middleware")
	}
	defer h.Close()

	var handler http.Handler = h
	if c.H2C {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{{Addr: c.Listen, Handler: handler}}
	if c.MetricsEnabled() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: c.MetricsListen, Handler: mux})
	}

	for _, s := range servers {
		s := s
		g.Go(func() error {
			logger.Info().Str("addr", s.Addr).Msg("Starting server")
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Str("addr", s.Addr).Msg("Error while shutting down server")
			}
		}
		return nil
	})

	if c.WatchRules {
		dirs := []string{c.ConfigDir}
		rulesDir := c.RulesDir
		if rulesDir == "" {
			rulesDir = filepath.Join(c.ConfigDir, "rules")
		}
		if rulesDir != c.ConfigDir {
			dirs = append(dirs, rulesDir)
		}

		w, err := rulesource.NewWatcher(logger, rulesource.DefaultDebounceInterval, dirs...)
		if err != nil {
			logger.Fatal().Err(err).Msg("Error while watching rule directories")
		}
		defer w.Close()

		g.Go(func() error {
			return w.Watch(ctx, h.Reload)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Error while running WAF server")
		return
	}
	logger.Info().Msg("WAF server stopped")
}

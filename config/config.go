package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultListen        = ":8080"
	DefaultMetricsListen = ":9090"
	DefaultConfigDir     = "/etc/mscwaf"
	DefaultURIMode       = "full"
)

// Main is the top level configuration of the server binary.
type Main struct {
	// Listen is the address the protected proxy listens on.
	Listen string `yaml:"listen"`

	// Upstream is the origin URL requests are proxied to after inspection.
	Upstream string `yaml:"upstream"`

	ConfigDir     string `yaml:"configDir"`
	RulesDir      string `yaml:"rulesDir"`
	CombinedRules bool   `yaml:"combinedRules"`

	// URIMode is "full" to inspect the whole request target, or "path" for the path only.
	URIMode string `yaml:"uriMode"`

	// MetricsListen serves /metrics. Set to "-" to disable.
	MetricsListen string `yaml:"metricsListen"`

	WatchRules bool `yaml:"watchRules"`
	H2C        bool `yaml:"h2c"`

	// AuditLogPath enables the JSON intervention log.
	AuditLogPath string `yaml:"auditLogPath"`

	MaxRequestBodyBytes int64 `yaml:"maxRequestBodyBytes"`
}

// Load reads and validates the yaml file at path.
func Load(path string) (c *Main, err error) {
	bb, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read config file: %w", err)
		return
	}

	c, err = Parse(bb)
	if err != nil {
		err = fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return
}

// Parse decodes yaml, applies defaults and validates the result.
func Parse(bb []byte) (c *Main, err error) {
	c = &Main{}
	if err = yaml.Unmarshal(bb, c); err != nil {
		c = nil
		return
	}

	c.applyDefaults()
	if err = c.validate(); err != nil {
		c = nil
	}
	return
}

func (c *Main) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MetricsListen == "" {
		c.MetricsListen = DefaultMetricsListen
	}
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir
	}
	if c.URIMode == "" {
		c.URIMode = DefaultURIMode
	}
}

func (c *Main) validate() error {
	if c.Upstream == "" {
		return errors.New("upstream is required")
	}
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream must be an http or https URL, got %q", c.Upstream)
	}

	if c.URIMode != "full" && c.URIMode != "path" {
		return fmt.Errorf("uriMode must be full or path, got %q", c.URIMode)
	}

	if c.MaxRequestBodyBytes < 0 {
		return fmt.Errorf("maxRequestBodyBytes must not be negative, got %d", c.MaxRequestBodyBytes)
	}

	return nil
}

// MetricsEnabled reports whether the metrics endpoint should be served.
func (c *Main) MetricsEnabled() bool {
	return c.MetricsListen != "-"
}

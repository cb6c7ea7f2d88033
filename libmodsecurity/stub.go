//go:build !libmodsecurity

package libmodsecurity

import "mscwaf/waf"

type connectorImpl struct{}

// NewConnector creates a waf.Connector that is not backed by an engine. See the package documentation.
func NewConnector() waf.Connector {
	return &connectorImpl{}
}

func (c *connectorImpl) NewSession() (waf.EngineSession, error) {
	return nil, waf.ErrConnectorUnavailable
}

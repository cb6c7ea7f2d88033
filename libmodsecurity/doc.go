// Package libmodsecurity connects the WAF to libmodsecurity (ModSecurity v3) through cgo.
//
// The connector is only compiled in with the libmodsecurity build tag, it needs the library and its headers:
//
//	go build -tags libmodsecurity ./cmd/server
//
// Without the tag NewConnector returns a connector whose sessions fail with waf.ErrConnectorUnavailable.
package libmodsecurity

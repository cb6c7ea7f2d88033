package waf

// ResultsLogger is where the WAF writes high level customer facing results.
type ResultsLogger interface {
	InterventionTriggered(request ResultsLoggerHTTPRequest, phase Phase, it Intervention)
}

// ResultsLoggerHTTPRequest represents an HTTP request to be logged by ResultsLogger.
type ResultsLoggerHTTPRequest interface {
	URI() string
	ClientIP() string
	TransactionID() string
}

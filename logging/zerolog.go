package logging

import (
	"encoding/json"

	"mscwaf/waf"

	"github.com/rs/zerolog"
)

// NewZerologResultsLogger creates a results logger that creates the same entries as the file results logger, but just outputs them to Zerolog.
func NewZerologResultsLogger(logger zerolog.Logger) waf.ResultsLogger {
	return &zerologResultsLogger{logger: logger}
}

type zerologResultsLogger struct {
	logger zerolog.Logger
}

func (l *zerologResultsLogger) InterventionTriggered(request waf.ResultsLoggerHTTPRequest, phase waf.Phase, it waf.Intervention) {
	c := newInterventionLogEntryProperty(request, phase, it)

	bb, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		l.logger.Error().Err(err).Msg("Error while marshaling JSON results log")
	}

	l.logger.Info().Msgf("Intervention log:\n%s\n", bb)
}

func newInterventionLogEntryProperty(request waf.ResultsLoggerHTTPRequest, phase waf.Phase, it waf.Intervention) interventionLogEntryProperty {
	action := "Detected"
	if it.Disruptive {
		action = "Blocked"
	}

	return interventionLogEntryProperty{
		ClientIP:   request.ClientIP(),
		RequestURI: request.URI(),
		Phase:      phase.String(),
		Status:     it.Status,
		Action:     action,
		Details: interventionLogDetailsEntry{
			Message:     it.Log,
			RedirectURL: it.URL,
			Pause:       it.Pause,
		},
		TransactionID: request.TransactionID(),
	}
}

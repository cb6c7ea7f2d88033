package logging

import (
	"io"
	"strings"
	"sync"

	"mscwaf/waf"

	"github.com/rs/zerolog"
)

// NewZerologSink creates a log callback that sends engine log lines to logger at info level, with the tag as a field.
func NewZerologSink(logger zerolog.Logger) waf.LogCallback {
	return func(tag string, msg string) {
		logger.Info().Str("tag", tag).Msg(msg)
	}
}

// NewWriterSink creates a log callback that writes only the message of every engine log line to w, one per line.
func NewWriterSink(w io.Writer) waf.LogCallback {
	var mu sync.Mutex
	return func(tag string, msg string) {
		mu.Lock()
		defer mu.Unlock()

		io.WriteString(w, msg)
		if !strings.HasSuffix(msg, "\n") {
			io.WriteString(w, "\n")
		}
	}
}

package logging

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"mscwaf/waf"

	"github.com/rs/zerolog"
)

// DefaultPath is the default results log file.
const DefaultPath = "/var/log/mscwaf/waf_json.log"

// FileResultsLogger writes one JSON document per intervention to a file.
type FileResultsLogger struct {
	file         LogFile
	logger       zerolog.Logger
	writelogline chan []byte
	writeDone    chan bool

	closeOnce sync.Once
	closeErr  error
}

// NewFileResultsLogger creates a results logger that write log messages to the file at path, creating its directory if needed.
func NewFileResultsLogger(fileSystem LogFileSystem, logger zerolog.Logger, path string) (r *FileResultsLogger, err error) {
	if path == "" {
		path = DefaultPath
	}

	err = fileSystem.MkDir(filepath.Dir(path))
	if err != nil {
		logger.Error().Err(err).Str("path", filepath.Dir(path)).Msg("Failed to create the directory while initializing")
		return
	}

	file, err := fileSystem.Open(path)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("Failed to open the file at initiation")
		return
	}

	r = &FileResultsLogger{
		file:         file,
		logger:       logger,
		writelogline: make(chan []byte),
		writeDone:    make(chan bool),
	}

	go func() {
		for v := range r.writelogline {
			if err := r.file.Append(append(v, '\n')); err != nil {
				r.logger.Error().Err(err).Msg("Failed to append to the results log")
			}
			r.writeDone <- true
		}
	}()

	return
}

// InterventionTriggered implements waf.ResultsLogger.
func (l *FileResultsLogger) InterventionTriggered(request waf.ResultsLoggerHTTPRequest, phase waf.Phase, it waf.Intervention) {
	lg := &interventionLogEntry{
		OperationName: "ModSecurityIntervention",
		Category:      "WebApplicationFirewallLog",
		Properties:    newInterventionLogEntryProperty(request, phase, it),
	}

	bb, err := json.Marshal(lg)
	if err != nil {
		l.logger.Error().Err(err).Msg("Error while marshaling JSON results log")
		return
	}

	l.writelogline <- bb
	<-l.writeDone
}

// Close stops the writer and closes the file. No intervention may be logged after Close.
func (l *FileResultsLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.writelogline)
		if err := l.file.Close(); err != nil {
			l.closeErr = fmt.Errorf("failed to close results log: %w", err)
		}
	})
	return l.closeErr
}

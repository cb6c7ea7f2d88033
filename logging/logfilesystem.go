package logging

import (
	"os"
)

// LogFile is the interface to handle log file append
type LogFile interface {
	Append(content []byte) (err error)
	Close() error
}

// LogFileSystem is the interface to handle log file directory creation and file open/append
type LogFileSystem interface {
	MkDir(dirname string) error
	Open(name string) (f LogFile, err error)
}

// NewLogFileSystem creates a LogFileSystem backed by the OS.
func NewLogFileSystem() LogFileSystem {
	return &logFileSystemImpl{}
}

type logFileImpl struct {
	f *os.File
}

func (lf *logFileImpl) Append(content []byte) (err error) {
	_, err = lf.f.Write(content)
	return
}

func (lf *logFileImpl) Close() error {
	return lf.f.Close()
}

type logFileSystemImpl struct{}

// MkDir creates a directory named path, along with any necessary parents. If path is already a directory, MkDir does nothing.
func (fs *logFileSystemImpl) MkDir(name string) error {
	return os.MkdirAll(name, 0755)
}

// Open gets the file handle of the file based on the file path, will create the file if file not exist.
func (fs *logFileSystemImpl) Open(name string) (ff LogFile, err error) {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	ff = &logFileImpl{f: f}
	return
}

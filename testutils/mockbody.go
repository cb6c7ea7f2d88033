package testutils

import (
	"bytes"
	"io"
)

// MockBody is a rewindable request body that remembers how it was used.
type MockBody struct {
	r       *bytes.Reader
	Seeks   int
	ReadErr error
}

// NewMockBody creates a MockBody holding content.
func NewMockBody(content string) *MockBody {
	return &MockBody{r: bytes.NewReader([]byte(content))}
}

// Read reads from the body, or fails with ReadErr if set.
func (m *MockBody) Read(p []byte) (n int, err error) {
	if m.ReadErr != nil {
		err = m.ReadErr
		return
	}
	return m.r.Read(p)
}

// Seek moves the read position.
func (m *MockBody) Seek(offset int64, whence int) (int64, error) {
	m.Seeks++
	return m.r.Seek(offset, whence)
}

// Pos is the current read position.
func (m *MockBody) Pos() int64 {
	return m.r.Size() - int64(m.r.Len())
}

var _ io.ReadSeeker = (*MockBody)(nil)

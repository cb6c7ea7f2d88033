package testutils

import (
	"io"
	"testing"
)

// Tests that the MockBody works, which itself is just used for other tests.
func TestMockBodyRewind(t *testing.T) {
	// Arrange
	m := NewMockBody("hello, world")

	// Act
	bb, err := io.ReadAll(m)
	posAfterRead := m.Pos()
	m.Seek(0, io.SeekStart)

	// Assert
	if err != nil {
		t.Fatalf("Unexpected err %T: %v", err, err)
	}

	if string(bb) != "hello, world" {
		t.Fatalf("Unexpected content: %v", string(bb))
	}

	if posAfterRead != 12 || m.Pos() != 0 {
		t.Fatalf("Unexpected positions: %v %v", posAfterRead, m.Pos())
	}

	if m.Seeks != 1 {
		t.Fatalf("Unexpected seek count: %v", m.Seeks)
	}
}

package waf

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateInspect(t *testing.T) {
	assert := assert.New(t)

	long := strings.Repeat("=", 400)
	assert.Equal(`"`+strings.Repeat("=", MaxInspectLength)+`"`, TruncateInspect(long))
	assert.Equal(`"short"`, TruncateInspect("short"))
	assert.Equal(`"bytes"`, TruncateInspect([]byte("bytes")))
	assert.Equal("80", TruncateInspect(80))
	assert.Equal(`"\x00"`, TruncateInspect("\x00"))
}

func TestEngineCallErrorMessage(t *testing.T) {
	// Arrange
	long := strings.Repeat("=", 400)
	err := &EngineCallError{Phase: PhaseURI, Call: "msc_process_uri", Args: []interface{}{long, "GET", "1.1"}}

	// Act
	msg := err.Error()

	// Assert
	assert.True(t, strings.HasPrefix(msg, "msc_process_uri failed in phase uri for ["))
	assert.Equal(t, MaxInspectLength, strings.Count(msg, "="))
	assert.Contains(t, msg, `"GET", "1.1"]`)
}

func TestHeaderAggregationErrorMessage(t *testing.T) {
	// Arrange
	err := &HeaderAggregationError{
		Phase:  PhaseRequestHeaders,
		Call:   "msc_add_n_request_header",
		Failed: []HeaderPair{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}},
	}

	// Act
	msg := err.Error()

	// Assert
	assert.Equal(t, `msc_add_n_request_header failed adding ["A", "1"]; msc_add_n_request_header failed adding ["B", "2"]`, msg)
}

func TestResourceReleaseErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &ResourceReleaseError{Resource: "transaction", Err: cause}

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "failed to release transaction: boom", err.Error())
}

func TestAsIntervention(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	var err error = &InterventionError{Phase: PhaseResponseHeaders, Intervention: Intervention{Status: 892}}

	// Act
	it, phase, ok := AsIntervention(err)
	_, _, okOther := AsIntervention(errors.New("other"))

	// Assert
	assert.True(ok)
	assert.Equal(892, it.Status)
	assert.Equal(PhaseResponseHeaders, phase)
	assert.False(okOther)
}

package waf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxInspectLength is how many characters of a string argument are kept when it is rendered into an error message.
const MaxInspectLength = 120

// ErrConnectorUnavailable is returned by connectors that were not compiled into the binary.
var ErrConnectorUnavailable = errors.New("engine connector unavailable in this build")

// EngineCallError means the engine returned a non-success status from a phase call for a reason other than an intervention.
type EngineCallError struct {
	Phase Phase
	Call  string
	Args  []interface{}
}

func (e *EngineCallError) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("%s failed in phase %v", e.Call, e.Phase)
	}

	aa := make([]string, len(e.Args))
	for i, a := range e.Args {
		aa[i] = TruncateInspect(a)
	}
	return fmt.Sprintf("%s failed in phase %v for [%s]", e.Call, e.Phase, strings.Join(aa, ", "))
}

// HeaderAggregationError lists every header that the engine refused during a headers phase.
type HeaderAggregationError struct {
	Phase  Phase
	Call   string
	Failed []HeaderPair
}

func (e *HeaderAggregationError) Error() string {
	ff := make([]string, len(e.Failed))
	for i, h := range e.Failed {
		ff[i] = fmt.Sprintf("%s failed adding [%s, %s]", e.Call, TruncateInspect(h.Key), TruncateInspect(h.Value))
	}
	return strings.Join(ff, "; ")
}

// ResourceReleaseError is a failure while releasing an engine-side handle.
type ResourceReleaseError struct {
	Resource string
	Err      error
}

func (e *ResourceReleaseError) Error() string {
	return fmt.Sprintf("failed to release %s: %v", e.Resource, e.Err)
}

func (e *ResourceReleaseError) Unwrap() error { return e.Err }

// InterventionError aborts the remaining phases of a transaction. It is the engine's verdict, not a defect.
type InterventionError struct {
	Phase        Phase
	Intervention Intervention
}

func (e *InterventionError) Error() string {
	return fmt.Sprintf("intervention with status %d in phase %v", e.Intervention.Status, e.Phase)
}

// PhaseOrderError is returned when a phase is requested that the transaction cannot run anymore.
type PhaseOrderError struct {
	Phase   Phase
	Current Phase
	Aborted bool
}

func (e *PhaseOrderError) Error() string {
	if e.Aborted {
		return fmt.Sprintf("phase %v requested after the transaction was aborted in phase %v", e.Phase, e.Current)
	}
	return fmt.Sprintf("phase %v requested after phase %v already ran", e.Phase, e.Current)
}

// RuleLoadError is the engine rejecting a rule source.
type RuleLoadError struct {
	Source string
	Msg    string
}

func (e *RuleLoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("error loading rules: %s", e.Msg)
	}
	return fmt.Sprintf("error loading rules from %s: %s", e.Source, e.Msg)
}

// TruncateInspect renders v for an error message. Strings are quoted and cut to MaxInspectLength characters.
func TruncateInspect(v interface{}) string {
	switch v := v.(type) {
	case string:
		r := []rune(v)
		if len(r) > MaxInspectLength {
			r = r[:MaxInspectLength]
		}
		return strconv.Quote(string(r))
	case []byte:
		return TruncateInspect(string(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

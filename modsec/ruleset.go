package modsec

import (
	"sync"

	"mscwaf/waf"
)

// RuleSet is a compiled collection of rules. Once built it is only read, and may be shared by concurrent transactions.
type RuleSet struct {
	handle    waf.RuleSetHandle
	tag       string
	ruleCount int

	closeOnce sync.Once
	closeErr  error
}

// Tag is the label used for error attribution, often the file the rules came from.
func (rs *RuleSet) Tag() string { return rs.tag }

// RuleCount is the number of rules successfully added so far.
func (rs *RuleSet) RuleCount() int { return rs.ruleCount }

// AddFile adds the rules in the given file.
func (rs *RuleSet) AddFile(path string) (err error) {
	n, err := rs.handle.AddFile(path)
	if err != nil {
		return &waf.RuleLoadError{Source: path, Msg: err.Error()}
	}
	rs.ruleCount += n
	return
}

// Add adds rules given as text.
func (rs *RuleSet) Add(rules string) (err error) {
	n, err := rs.handle.Add(rules)
	if err != nil {
		return &waf.RuleLoadError{Source: rs.tag, Msg: err.Error()}
	}
	rs.ruleCount += n
	return
}

// AddRemote adds rules downloaded by the engine from url, authenticated with key.
func (rs *RuleSet) AddRemote(key string, url string) (err error) {
	n, err := rs.handle.AddRemote(key, url)
	if err != nil {
		return &waf.RuleLoadError{Source: url, Msg: err.Error()}
	}
	rs.ruleCount += n
	return
}

// Merge adds the rules of other into rs. other remains owned by the caller.
func (rs *RuleSet) Merge(other *RuleSet) (err error) {
	n, err := rs.handle.Merge(other.handle)
	if err != nil {
		source := other.tag
		if source == "" {
			source = rs.tag
		}
		return &waf.RuleLoadError{Source: source, Msg: err.Error()}
	}
	rs.ruleCount += n
	return
}

// Dump asks the engine to print the rules to its standard output.
func (rs *RuleSet) Dump() { rs.handle.Dump() }

// Close releases the engine-side rule set.
func (rs *RuleSet) Close() error {
	rs.closeOnce.Do(func() {
		if err := rs.handle.Cleanup(); err != nil {
			rs.closeErr = &waf.ResourceReleaseError{Resource: "rule set " + rs.tag, Err: err}
		}
	})
	return rs.closeErr
}

package rulesource

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"testing"

	"mscwaf/modsec"
	"mscwaf/testutils"
	"mscwaf/waf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFileSystem struct {
	files map[string]string
}

func (fs *mockFileSystem) ReadFile(name string) ([]byte, error) {
	if s, ok := fs.files[name]; ok {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("open %s: no such file or directory", name)
}

func (fs *mockFileSystem) ReadDir(dir string) (names []string, err error) {
	found := false
	for k := range fs.files {
		if path.Dir(k) == dir {
			names = append(names, path.Base(k))
			found = true
		} else if strings.HasPrefix(k, dir+"/") {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("open %s: no such file or directory", dir)
	}

	// Map iteration order is random, the loader must sort.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return
}

func (fs *mockFileSystem) Abs(p string) (string, error) { return p, nil }

func (fs *mockFileSystem) EvalSymlinks(p string) (string, error) {
	if _, ok := fs.files[p]; !ok {
		return "", fmt.Errorf("lstat %s: no such file or directory", p)
	}
	return p, nil
}

func newTestEngine(t *testing.T, conn *testutils.FakeConnector) *modsec.Engine {
	e, err := modsec.NewEngine(testutils.NewTestLogger(t), conn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func newCrsFileSystem() *mockFileSystem {
	return &mockFileSystem{files: map[string]string{
		"/etc/waf/modsecurity.conf":                      "SecRuleEngine On",
		"/etc/waf/crs-setup.conf":                        "SecDefaultAction \"phase:1,log,auditlog,pass\"",
		"/etc/waf/rules/REQUEST-942-SQLI.conf":           "SecRule ARGS \"@detectSQLi\" \"id:942100\"",
		"/etc/waf/rules/REQUEST-920-PROTOCOL.conf":       "SecRule REQUEST_LINE \"@rx x\" \"id:920100\"",
		"/etc/waf/rules/REQUEST-941-XSS.conf":            "SecRule ARGS \"@detectXSS\" \"id:941100\"",
		"/etc/waf/rules/sql-errors.data":                 "syntax error",
		"/etc/waf/rules/RESPONSE-950-DATA-LEAKAGES.conf": "SecRule RESPONSE_BODY \"@rx y\" \"id:950100\"",
	}}
}

func TestDirectoryLoaderOrder(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{}
	e := newTestEngine(t, conn)
	var lines []string
	l := NewDirectoryLoader(newCrsFileSystem(), "/etc/waf", "", func(tag string, msg string) {
		lines = append(lines, tag+": "+msg)
	})

	// Act
	rs, err := l.RuleSet(e)

	// Assert
	require.NoError(t, err)
	defer rs.Close()

	expected := []string{
		"rulesource: loading rules file: /etc/waf/rules/REQUEST-920-PROTOCOL.conf",
		"rulesource: loading rules file: /etc/waf/rules/REQUEST-941-XSS.conf",
		"rulesource: loading rules file: /etc/waf/rules/REQUEST-942-SQLI.conf",
		"rulesource: loading rules file: /etc/waf/rules/RESPONSE-950-DATA-LEAKAGES.conf",
	}
	assert.Equal(t, expected, lines)
	assert.Equal(t, 6, rs.RuleCount())
	assert.Equal(t, 2+4, conn.Count("msc_rules_add_file"))
	assert.Equal(t, 4, conn.Count("msc_rules_merge"))

	// Every per-file rule set is released after merging, only the result is kept.
	assert.Equal(t, 4, conn.Count("msc_rules_cleanup"))
}

func TestDirectoryLoaderSkipsBrokenFiles(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	conn := &testutils.FakeConnector{RuleErrors: map[string]string{
		"/etc/waf/rules/REQUEST-941-XSS.conf": "Rules error. File: REQUEST-941-XSS.conf. Line: 3",
	}}
	e := newTestEngine(t, conn)
	var errLines []string
	l := NewDirectoryLoader(newCrsFileSystem(), "/etc/waf", "", func(tag string, msg string) {
		if tag == ErrorLogTag {
			errLines = append(errLines, msg)
		}
	})

	// Act
	rs, err := l.RuleSet(e)

	// Assert
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(5, rs.RuleCount())
	assert.Equal(3, conn.Count("msc_rules_merge"))
	if assert.Len(errLines, 1) {
		assert.Contains(errLines[0], "REQUEST-941-XSS.conf")
		assert.Contains(errLines[0], "Line: 3")
	}
}

func TestDirectoryLoaderRulesDirOverride(t *testing.T) {
	// Arrange
	fs := newCrsFileSystem()
	fs.files["/opt/extra/custom.conf"] = "SecRule ARGS \"@rx z\" \"id:1\""
	conn := &testutils.FakeConnector{}
	e := newTestEngine(t, conn)
	l := NewDirectoryLoader(fs, "/etc/waf", "/opt/extra", nil)

	// Act
	rs, err := l.RuleSet(e)

	// Assert
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, 3, rs.RuleCount())
}

func TestDirectoryLoaderMissingConfig(t *testing.T) {
	cases := []struct {
		name      string
		configDir string
		remove    string
	}{
		{"config directory not found", "/tmp/not_a_real_directory_hopefully", ""},
		{"base config not found", "/etc/waf", "/etc/waf/modsecurity.conf"},
		{"setup config not found", "/etc/waf", "/etc/waf/crs-setup.conf"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			// Arrange
			fs := newCrsFileSystem()
			delete(fs.files, c.remove)
			conn := &testutils.FakeConnector{}
			e := newTestEngine(t, conn)

			// Act
			rs, err := NewDirectoryLoader(fs, c.configDir, "", nil).RuleSet(e)

			// Assert
			assert.Nil(t, rs)
			if assert.NotNil(t, err) {
				assert.Contains(t, err.Error(), "no such file or directory")
			}
			assert.Equal(t, 1, conn.Count("msc_rules_cleanup"))
		})
	}
}

func TestDirectoryLoaderMissingRulesDir(t *testing.T) {
	// Arrange
	fs := newCrsFileSystem()
	conn := &testutils.FakeConnector{}
	e := newTestEngine(t, conn)

	// Act
	_, err := NewDirectoryLoader(fs, "/etc/waf", "/nowhere", nil).RuleSet(e)

	// Assert
	assert.NotNil(t, err)
}

func TestCombinedLoader(t *testing.T) {
	assert := assert.New(t)

	// Arrange
	conn := &testutils.FakeConnector{RuleErrors: map[string]string{
		"/etc/waf/rules/REQUEST-942-SQLI.conf": "Rules error",
	}}
	e := newTestEngine(t, conn)

	// Act
	rs, err := NewCombinedLoader(newCrsFileSystem(), "/etc/waf", "", nil).RuleSet(e)

	// Assert
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(0, conn.Count("msc_rules_merge"))
	assert.Equal(1, conn.Count("msc_rules_add"))
	assert.Equal(1, rs.RuleCount())
	assert.Equal("combined", rs.Tag())
}

func TestCombinedLoaderRejectedText(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{RuleErrors: map[string]string{"SecRuleEngine On": "Rules error"}}
	e := newTestEngine(t, conn)

	// Act
	rs, err := NewCombinedLoader(newCrsFileSystem(), "/etc/waf", "", nil).RuleSet(e)

	// Assert
	assert.Nil(t, rs)
	assert.NotNil(t, err)
}

func TestRuleLoadErrorIsAttributed(t *testing.T) {
	// Arrange
	conn := &testutils.FakeConnector{RuleErrors: map[string]string{"/etc/waf/modsecurity.conf": "bad"}}
	e := newTestEngine(t, conn)

	// Act
	_, err := NewDirectoryLoader(newCrsFileSystem(), "/etc/waf", "", nil).RuleSet(e)

	// Assert
	var rle *waf.RuleLoadError
	if assert.True(t, errors.As(err, &rle)) {
		assert.Equal(t, "/etc/waf/modsecurity.conf", rle.Source)
		assert.Equal(t, "bad", rle.Msg)
	}
}

func TestCombinedLoaderDataFilesAbsolute(t *testing.T) {
	// Arrange
	fs := newCrsFileSystem()
	fs.files["/etc/waf/rules/REQUEST-951-SQL-ERRORS.conf"] = `SecRule RESPONSE_BODY "@pmFromFile sql-errors.data" "id:951100"`
	conn := &testutils.FakeConnector{}
	e := newTestEngine(t, conn)

	// Act
	rs, err := NewCombinedLoader(fs, "/etc/waf", "", nil).RuleSet(e)

	// Assert
	require.NoError(t, err)
	defer rs.Close()
	var combined string
	for _, r := range conn.RuleSets {
		if len(r.Sources) == 1 && strings.Contains(r.Sources[0], "SecRuleEngine On") {
			combined = r.Sources[0]
		}
	}
	assert.Contains(t, combined, `"@pmFromFile /etc/waf/rules/sql-errors.data"`)
}

func TestAbsDataFiles(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{`SecRule ARGS "@pmFromFile a.data" "id:1"`, `SecRule ARGS "@pmFromFile /r/a.data" "id:1"`},
		{`SecRule ARGS "@pmf a.data sub/b.data" "id:1"`, `SecRule ARGS "@pmf /r/a.data /r/sub/b.data" "id:1"`},
		{`SecRule REMOTE_ADDR "@ipMatchFromFile /abs/ips.txt" "id:1"`, `SecRule REMOTE_ADDR "@ipMatchFromFile /abs/ips.txt" "id:1"`},
		{`SecRule REMOTE_ADDR "@ipMatchF https://example.com/ips.txt" "id:1"`, `SecRule REMOTE_ADDR "@ipMatchF https://example.com/ips.txt" "id:1"`},
		{`SecRule ARGS "@rx pmFromFile a.data" "id:1"`, `SecRule ARGS "@rx pmFromFile a.data" "id:1"`},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, absDataFiles(c.in, "/r"))
	}
}

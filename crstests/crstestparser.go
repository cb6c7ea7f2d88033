package crstests

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"mscwaf/middleware"
	"mscwaf/waf"

	yaml "gopkg.in/yaml.v3"
)

// TestCase for CRS regression test
type TestCase struct {
	TestTitle string
	Requests  []waf.HTTPRequest
	// Expected Output
	MatchExpected  bool
	ExpectedRuleID int
}

// YAML parsing requires exporting of struct fields
type input struct {
	DestAddr string            `yaml:"dest_addr"`
	Method   string            `yaml:"method"`
	Port     string            `yaml:"port"`
	URI      string            `yaml:"uri"`
	Version  string            `yaml:"version"`
	Headers  map[string]string `yaml:"headers"`
	Data     interface{}       `yaml:"data"`
}

type stage struct {
	Input  input             `yaml:"input"`
	Output map[string]string `yaml:"output"`
}

type stageWrapper struct {
	Stage stage `yaml:"stage"`
}

type test struct {
	TestTitle string         `yaml:"test_title"`
	Stages    []stageWrapper `yaml:"stages"`
}

type testFile struct {
	Meta  map[string]interface{} `yaml:"meta"`
	Tests []test                 `yaml:"tests"`
}

var ruleIDRegex = regexp.MustCompile(`(\d+)`)

// GetTests returns parsed tests from CRS YAML test files. If ruleID is not empty only its file is parsed.
func GetTests(testRootDir string, ruleID string) (tests []TestCase, err error) {
	var files []string
	err = filepath.Walk(testRootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ruleID+".yaml") && !strings.HasSuffix(path, "test.yaml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return
	}

	if len(files) == 0 {
		err = fmt.Errorf("no test files found under %v folder", testRootDir)
		return
	}

	sort.Strings(files)

	for _, file := range files {
		var tf testFile
		if tf, err = parseTestFile(file); err != nil {
			return
		}

		var tt []TestCase
		if tt, err = toTestCase(tf); err != nil {
			err = fmt.Errorf("invalid test file %s: %w", file, err)
			return
		}
		tests = append(tests, tt...)
	}

	return
}

func parseTestFile(path string) (tf testFile, err error) {
	bb, err := os.ReadFile(path)
	if err != nil {
		return
	}

	if err = yaml.Unmarshal(bb, &tf); err != nil {
		err = fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return
}

func toTestCase(file testFile) (testCases []TestCase, err error) {
	for _, t := range file.Tests {
		var tc TestCase
		tc.TestTitle = t.TestTitle

		for _, s := range t.Stages {
			var req waf.HTTPRequest
			if req, err = toRequest(s.Stage.Input); err != nil {
				return
			}
			tc.Requests = append(tc.Requests, req)

			// Output processing
			tc.MatchExpected = false
			keys := []string{"log_contains", "no_log_contains"}
			for _, k := range keys {
				if v, ok := s.Stage.Output[k]; ok {
					if k == "log_contains" {
						tc.MatchExpected = true
					}

					if tc.ExpectedRuleID, err = strconv.Atoi(ruleIDRegex.FindString(v)); err != nil {
						err = fmt.Errorf("test %s has no rule id in %s: %q", t.TestTitle, k, v)
						return
					}
				}
			}
		}
		testCases = append(testCases, tc)
	}

	return
}

// toRequest builds the request a host server would hand to the middleware for the stage input.
func toRequest(in input) (req waf.HTTPRequest, err error) {
	body := getBody(in.Data)

	r, err := http.NewRequest(http.MethodGet, "/", strings.NewReader(body))
	if err != nil {
		return
	}

	// Regression tests send malformed request lines on purpose, so nothing here is parsed.
	if in.Method != "" {
		r.Method = in.Method
	}
	r.RequestURI = in.URI
	if r.RequestURI == "" {
		r.RequestURI = "/"
	}
	if in.Version != "" {
		r.Proto = in.Version
	}
	r.RemoteAddr = "127.0.0.1:54321"

	host := in.DestAddr
	if host == "" {
		host = "localhost"
	}
	if in.Port != "" {
		host = net.JoinHostPort(host, in.Port)
	}
	r.Host = host

	hasContentType := false
	for k, v := range in.Headers {
		if strings.EqualFold("host", k) {
			r.Host = v
			continue
		}
		r.Header[k] = []string{v}
		if strings.EqualFold("content-type", k) {
			hasContentType = true
		}
	}

	// Default content type
	if len(body) > 0 && !hasContentType {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	r.ContentLength = int64(len(body))

	var rs io.ReadSeeker
	if len(body) > 0 {
		rs = strings.NewReader(body)
	}
	req = waf.NewRequest(middleware.RequestEnv(r), rs)
	return
}

// The data field in the YAML files can be either a single string, or a list of lines. This function returns a string from either.
func getBody(inputData interface{}) (body string) {
	switch d := inputData.(type) {
	case string:
		body = d
	case []interface{}:
		for _, line := range d {
			if line, ok := line.(string); ok {
				body = body + line + "\n"
			}
		}
		body = strings.Trim(body, "\n")
	}
	return
}

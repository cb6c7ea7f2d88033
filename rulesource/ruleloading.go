package rulesource

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"mscwaf/modsec"
	"mscwaf/waf"
)

// Names of the two configuration files that must be loaded before any rule file.
const (
	BaseConfigFile  = "modsecurity.conf"
	SetupConfigFile = "crs-setup.conf"
)

// DefaultRulesDir is the subdirectory of the config directory holding the rule files.
const DefaultRulesDir = "rules"

// RuleFileSuffix selects the rule files in the rules directory.
const RuleFileSuffix = ".conf"

// Log tags used for the lines the loaders emit through the log callback.
const (
	LogTag      = "rulesource"
	ErrorLogTag = "rulesource.error"
)

// RuleSetFactory creates empty rule sets. A *modsec.Engine is one.
type RuleSetFactory interface {
	NewRuleSet(tag string) (*modsec.RuleSet, error)
}

// Loader produces a rule set.
type Loader interface {
	RuleSet(f RuleSetFactory) (rs *modsec.RuleSet, err error)
}

type directoryLoader struct {
	fs        FileSystem
	configDir string
	rulesDir  string
	logFn     waf.LogCallback
}

// NewDirectoryLoader loads the two configuration files in configDir, then merges in every rule file of rulesDir in
// name order. A rule file that fails to load is logged and skipped. rulesDir defaults to configDir/rules.
func NewDirectoryLoader(fs FileSystem, configDir string, rulesDir string, logFn waf.LogCallback) Loader {
	return &directoryLoader{
		fs:        fs,
		configDir: configDir,
		rulesDir:  defaultRulesDir(configDir, rulesDir),
		logFn:     logFn,
	}
}

func (l *directoryLoader) RuleSet(f RuleSetFactory) (rs *modsec.RuleSet, err error) {
	rs, err = f.NewRuleSet(l.configDir)
	if err != nil {
		return
	}

	for _, name := range []string{BaseConfigFile, SetupConfigFile} {
		if err = addFile(l.fs, rs, filepath.Join(l.configDir, name)); err != nil {
			rs.Close()
			rs = nil
			return
		}
	}

	files, err := ruleFiles(l.fs, l.rulesDir)
	if err != nil {
		rs.Close()
		rs = nil
		return
	}

	for _, fn := range files {
		log(l.logFn, LogTag, fmt.Sprintf("loading rules file: %s", fn))
		if mergeErr := l.mergeFile(f, rs, fn); mergeErr != nil {
			log(l.logFn, ErrorLogTag, fmt.Sprintf("error loading rules file: %v", mergeErr))
		}
	}

	return
}

func (l *directoryLoader) mergeFile(f RuleSetFactory, dst *modsec.RuleSet, fn string) (err error) {
	rules, err := f.NewRuleSet(fn)
	if err != nil {
		return
	}
	defer rules.Close()

	if err = addFile(l.fs, rules, fn); err != nil {
		return
	}

	return dst.Merge(rules)
}

type combinedLoader struct {
	fs        FileSystem
	configDir string
	rulesDir  string
	logFn     waf.LogCallback
}

// NewCombinedLoader checks every configuration and rule file on its own, then adds the text of all accepted files as
// a single rule set, so that no rule sets are merged. Files are taken in the same order as NewDirectoryLoader.
// Relative data file references of @pmFromFile and @ipMatchFromFile are made absolute against the directory of the
// file they appear in.
func NewCombinedLoader(fs FileSystem, configDir string, rulesDir string, logFn waf.LogCallback) Loader {
	return &combinedLoader{
		fs:        fs,
		configDir: configDir,
		rulesDir:  defaultRulesDir(configDir, rulesDir),
		logFn:     logFn,
	}
}

func (l *combinedLoader) RuleSet(f RuleSetFactory) (rs *modsec.RuleSet, err error) {
	files := []string{
		filepath.Join(l.configDir, BaseConfigFile),
		filepath.Join(l.configDir, SetupConfigFile),
	}

	rr, err := ruleFiles(l.fs, l.rulesDir)
	if err != nil {
		return
	}
	files = append(files, rr...)

	var combined strings.Builder
	for _, fn := range files {
		log(l.logFn, LogTag, fmt.Sprintf("loading rules file: %s", fn))

		bb, checkErr := l.checkFile(f, fn)
		if checkErr != nil {
			log(l.logFn, ErrorLogTag, fmt.Sprintf("error loading rules file: %v", checkErr))
			continue
		}

		combined.WriteString(absDataFiles(string(bb), filepath.Dir(fn)))
		combined.WriteString("\n")
	}

	log(l.logFn, LogTag, "loading combined rules")

	rs, err = f.NewRuleSet("combined")
	if err != nil {
		return
	}

	if err = rs.Add(combined.String()); err != nil {
		rs.Close()
		rs = nil
	}
	return
}

// checkFile loads fn into a scratch rule set to find syntax errors, and returns its content if there were none.
func (l *combinedLoader) checkFile(f RuleSetFactory, fn string) (bb []byte, err error) {
	scratch, err := f.NewRuleSet(fn)
	if err != nil {
		return
	}
	defer scratch.Close()

	if err = addFile(l.fs, scratch, fn); err != nil {
		return
	}

	bb, err = l.fs.ReadFile(fn)
	if err != nil {
		err = fmt.Errorf("failed to read rule file %s: %s", fn, err)
	}
	return
}

var dataFileOperatorRegex = regexp.MustCompile(`(@(?:pmFromFile|pmf|ipMatchFromFile|ipMatchF)\s+)([^"]*)`)

// absDataFiles rewrites the relative file arguments of data file operators in rules to paths under dir.
func absDataFiles(rules string, dir string) string {
	return dataFileOperatorRegex.ReplaceAllStringFunc(rules, func(m string) string {
		sm := dataFileOperatorRegex.FindStringSubmatch(m)
		ff := strings.Fields(sm[2])
		for i, f := range ff {
			if !filepath.IsAbs(f) && !strings.Contains(f, "://") {
				ff[i] = filepath.Join(dir, f)
			}
		}
		return sm[1] + strings.Join(ff, " ")
	})
}

func defaultRulesDir(configDir string, rulesDir string) string {
	if rulesDir == "" {
		return filepath.Join(configDir, DefaultRulesDir)
	}
	return rulesDir
}

// addFile resolves fn to an absolute, symlink free path before handing it to the engine.
func addFile(fs FileSystem, rs *modsec.RuleSet, fn string) (err error) {
	filePath, err := fs.Abs(fn)
	if err != nil {
		err = fmt.Errorf("failed get absolute path for %s: %s", fn, err)
		return
	}
	filePath, err = fs.EvalSymlinks(filePath)
	if err != nil {
		err = fmt.Errorf("failed to eval symlinks for %s: %s", fn, err)
		return
	}

	return rs.AddFile(filePath)
}

// ruleFiles lists the rule files of dir in name order.
func ruleFiles(fs FileSystem, dir string) (files []string, err error) {
	names, err := fs.ReadDir(dir)
	if err != nil {
		err = fmt.Errorf("failed to list rules directory %s: %s", dir, err)
		return
	}

	for _, n := range names {
		if strings.HasSuffix(n, RuleFileSuffix) {
			files = append(files, filepath.Join(dir, n))
		}
	}
	sort.Strings(files)
	return
}

func log(logFn waf.LogCallback, tag string, msg string) {
	if logFn != nil {
		logFn(tag, msg)
	}
}

// FileSystem is the file system functions the rule loaders need. Needed for mocking.
type FileSystem interface {
	ReadFile(filename string) ([]byte, error)

	// ReadDir lists the names of the regular files in dirname.
	ReadDir(dirname string) ([]string, error)

	Abs(path string) (string, error)
	EvalSymlinks(path string) (string, error)
}

// NewFileSystem creates a FileSystem that uses the real OS file system.
func NewFileSystem() FileSystem {
	return &fileSystemImpl{}
}

type fileSystemImpl struct{}

func (f *fileSystemImpl) ReadFile(filename string) ([]byte, error) {
	return ioutil.ReadFile(filename)
}

func (f *fileSystemImpl) ReadDir(dirname string) (names []string, err error) {
	infos, err := ioutil.ReadDir(dirname)
	if err != nil {
		return
	}

	for _, fi := range infos {
		if !fi.IsDir() {
			names = append(names, fi.Name())
		}
	}
	return
}

func (f *fileSystemImpl) Abs(path string) (string, error) {
	return filepath.Abs(path)
}

func (f *fileSystemImpl) EvalSymlinks(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}

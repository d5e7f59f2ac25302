package testmodel

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Architectures and major releases recognised among the dot-separated version parts.
var (
	KnownArchitectures = []string{"x86_64_linux", "i386_linux", "sparc", "sparc_64", "x86_64_solaris", "powerpc", "parisc_2_0"}
	KnownMajorReleases = []string{"11", "12", "13", "14", "15", "master"}
)

// TestSpec is one test entry of a suite file.
type TestSpec struct {
	Path        string            `yaml:"path"`
	UserSuite   string            `yaml:"user_suite"`
	Environment map[string]string `yaml:"environment"`
	Rulesets    []string          `yaml:"rulesets"`
	RulesetFile string            `yaml:"ruleset_file"`
	RunCommand  string            `yaml:"run_command"`
}

// SuiteSpec is the top level of a suite file.
type SuiteSpec struct {
	App          string            `yaml:"app"`
	Version      string            `yaml:"version"`
	WriteDir     string            `yaml:"write_dir"`
	Architecture string            `yaml:"architecture"`
	MajorRelease string            `yaml:"major_release"`
	Environment  map[string]string `yaml:"environment"`
	Tests        []TestSpec        `yaml:"tests"`
}

// Defaults fill in what neither the suite nor the version string determines.
type Defaults struct {
	Architecture string
	MajorRelease string
}

// LoadSuite reads a suite file and builds its tests in file order. Relative
// ruleset_file and write_dir paths are resolved against the suite's directory.
func LoadSuite(path string, defaults Defaults) ([]*SuiteTest, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading suite %s", path)
	}
	var spec SuiteSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errors.Wrapf(err, "parsing suite %s", path)
	}
	if spec.App == "" {
		return nil, errors.Errorf("suite %s has no app", path)
	}
	baseDir := filepath.Dir(path)
	if spec.WriteDir == "" {
		spec.WriteDir = filepath.Join(os.TempDir(), "rulecomp", spec.App)
	}
	spec.WriteDir = resolve(baseDir, spec.WriteDir)

	seen := map[string]bool{}
	tests := make([]*SuiteTest, 0, len(spec.Tests))
	for _, ts := range spec.Tests {
		if ts.Path == "" {
			return nil, errors.Errorf("suite %s has a test without a path", path)
		}
		if seen[ts.Path] {
			return nil, errors.Errorf("suite %s lists test %s twice", path, ts.Path)
		}
		seen[ts.Path] = true
		if ts.RulesetFile != "" {
			ts.RulesetFile = resolve(baseDir, ts.RulesetFile)
		}
		tests = append(tests, NewSuiteTest(spec, ts, defaults))
	}
	return tests, nil
}

// NewSuiteTest builds a test from its suite and entry. Environment values may
// reference earlier variables and the process environment as $NAME.
func NewSuiteTest(suite SuiteSpec, spec TestSpec, defaults Defaults) *SuiteTest {
	raw := map[string]string{}
	for k, v := range suite.Environment {
		raw[k] = v
	}
	for k, v := range spec.Environment {
		raw[k] = v
	}
	env := expandEnv(raw)

	versions := strings.Split(suite.Version, ".")
	arch := firstNonEmpty(suite.Architecture, pick(versions, KnownArchitectures), defaults.Architecture)
	release := firstNonEmpty(suite.MajorRelease, pick(versions, KnownMajorReleases), defaults.MajorRelease)

	return &SuiteTest{
		path:         spec.Path,
		app:          suite.App,
		version:      suite.Version,
		userSuite:    spec.UserSuite,
		arch:         arch,
		majorRelease: release,
		env:          env,
		rulesets:     append([]string(nil), spec.Rulesets...),
		rulesetFile:  spec.RulesetFile,
		writeDir:     filepath.Join(suite.WriteDir, suite.App+"."+suite.Version, spec.Path),
		runCommand:   spec.RunCommand,
		state:        NotStarted{},
	}
}

// expandEnv resolves $NAME references between variables, falling back to the
// process environment. A self reference resolves to the process value.
func expandEnv(raw map[string]string) map[string]string {
	env := make(map[string]string, len(raw))
	visiting := map[string]bool{}
	var resolve func(name string) string
	resolve = func(name string) string {
		if v, ok := env[name]; ok {
			return v
		}
		value, ok := raw[name]
		if !ok || visiting[name] {
			return os.Getenv(name)
		}
		visiting[name] = true
		v := os.Expand(value, resolve)
		visiting[name] = false
		env[name] = v
		return v
	}
	for name := range raw {
		resolve(name)
	}
	return env
}

func pick(parts, known []string) string {
	for _, p := range parts {
		for _, k := range known {
			if p == k {
				return p
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

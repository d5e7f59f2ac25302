// Package testmodel holds the view of a test that rule compilation needs:
// identity, environment, and a guarded lifecycle state.
package testmodel

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidTransition is returned by ChangeState for moves CanTransition rejects.
var ErrInvalidTransition = errors.New("invalid state transition")

// Test is what the orchestrator reads from and writes to a test.
type Test interface {
	// ID is unique per run: application, version and path.
	ID() string
	Path() string
	App() string
	Version() string
	UserSuite() string

	Getenv(name string) string
	Architecture() string
	MajorRelease() string
	Product() string

	// RulesetNames returns the rule-sets the test runs with.
	RulesetNames() ([]string, error)

	// WriteDirectory is the test's sandbox; framework files live beneath it.
	WriteDirectory() string
	RunCommand() string

	State() State
	ChangeState(State) error
	AddObserver(Observer)
}

// Observer is told about every accepted state change.
type Observer interface {
	NotifyStateChange(t Test, previous, current State)
}

type ObserverFunc func(t Test, previous, current State)

func (f ObserverFunc) NotifyStateChange(t Test, previous, current State) { f(t, previous, current) }

// FrameworkTmpDir is where framework output for a test is written.
func FrameworkTmpDir(t Test) string {
	return filepath.Join(t.WriteDirectory(), "framework_tmp")
}

// SuiteTest is a Test defined in a suite file.
type SuiteTest struct {
	path         string
	app          string
	version      string
	userSuite    string
	arch         string
	majorRelease string
	env          map[string]string
	rulesets     []string
	rulesetFile  string
	writeDir     string
	runCommand   string

	mu        sync.Mutex
	state     State
	observers []Observer
}

func (t *SuiteTest) ID() string           { return t.app + "." + t.version + ":" + t.path }
func (t *SuiteTest) Path() string         { return t.path }
func (t *SuiteTest) App() string          { return t.app }
func (t *SuiteTest) Version() string      { return t.version }
func (t *SuiteTest) UserSuite() string    { return t.userSuite }
func (t *SuiteTest) Architecture() string { return t.arch }
func (t *SuiteTest) MajorRelease() string { return t.majorRelease }
func (t *SuiteTest) WriteDirectory() string {
	return t.writeDir
}
func (t *SuiteTest) RunCommand() string { return t.runCommand }
func (t *SuiteTest) String() string     { return t.ID() }

// Getenv looks in the test's own environment first, then the process environment.
func (t *SuiteTest) Getenv(name string) string {
	if v, ok := t.env[name]; ok {
		return v
	}
	return os.Getenv(name)
}

// Product selects the rave_name entry; it comes from the PRODUCT variable.
func (t *SuiteTest) Product() string {
	return t.Getenv("PRODUCT")
}

// RulesetNames returns the names listed in the suite, or read from the test's
// ruleset file (one name per line, '#' comments allowed).
func (t *SuiteTest) RulesetNames() ([]string, error) {
	if t.rulesetFile == "" {
		return append([]string(nil), t.rulesets...), nil
	}
	f, err := os.Open(t.rulesetFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading ruleset names for %s", t.ID())
	}
	defer f.Close()
	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading ruleset names for %s", t.ID())
	}
	return names, nil
}

func (t *SuiteTest) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AddObserver registers o for future state changes.
func (t *SuiteTest) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// ChangeState moves the test to s if the lifecycle allows it and notifies observers.
func (t *SuiteTest) ChangeState(s State) error {
	t.mu.Lock()
	previous := t.state
	if !CanTransition(previous.Category(), s.Category()) {
		t.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", t.ID(), previous.Category(), s.Category())
	}
	t.state = s
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	log.WithFields(log.Fields{
		"test":  t.ID(),
		"from":  previous.Category(),
		"to":    s.Category(),
		"brief": s.BriefText(),
	}).Debug("Test changed state")
	for _, o := range observers {
		o.NotifyStateChange(t, previous, s)
	}
	return nil
}

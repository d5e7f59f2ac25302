package orchestrator

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/twitter/rulecomp/config"
	"github.com/twitter/rulecomp/queue"
	"github.com/twitter/rulecomp/remotecmd"
	"github.com/twitter/rulecomp/testmodel"
)

var propertyRulesets = []string{"R0", "R1", "R2", "R3"}

// countingBackend accepts every job and counts submissions per job name.
type countingBackend struct {
	mu     sync.Mutex
	nextID int
	names  map[string]int
}

func (b *countingBackend) Name() string { return "local" }

func (b *countingBackend) SubmitJob(ctx context.Context, rules queue.SubmissionRules, command string, env map[string]string) (queue.JobID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.names[rules.JobName]++
	return queue.JobID(fmt.Sprint(b.nextID)), nil
}

func (b *countingBackend) KillJob(ctx context.Context, id queue.JobID) (bool, error) {
	return true, nil
}
func (b *countingBackend) JobExists(ctx context.Context, id queue.JobID) (bool, error) {
	return true, nil
}
func (b *countingBackend) JobFailureInfo(ctx context.Context, id queue.JobID) string { return "" }

type propertyRun struct {
	root    string
	backend *countingBackend
	o       *Orchestrator
	tests   []*testmodel.SuiteTest
}

// startRun adds one test per mask; bit i of a mask means the test runs with ruleset Ri.
func startRun(masks []int) (*propertyRun, error) {
	root, err := ioutil.TempDir("", "orchestrator_prop")
	if err != nil {
		return nil, err
	}
	r := &propertyRun{root: root, backend: &countingBackend{names: map[string]int{}}}
	for _, name := range propertyRulesets {
		path := filepath.Join(root, "usr", "crc", "source", name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return r, err
		}
		if err := ioutil.WriteFile(path, []byte(name), 0644); err != nil {
			return r, err
		}
	}
	cfg := config.Default()
	cfg.RaveName = map[string][]string{config.DefaultRaveNameKey: {"apc"}}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return r, err
	}
	r.o, err = New(Options{Config: &cfg, Backend: r.backend, Listener: ln})
	if err != nil {
		return r, err
	}
	if err := r.o.Start(context.Background()); err != nil {
		return r, err
	}

	suite := testmodel.SuiteSpec{
		App:      "apc",
		Version:  "12",
		WriteDir: filepath.Join(root, "write"),
		Environment: map[string]string{
			"CARMSYS": filepath.Join(root, "sys"),
			"CARMUSR": filepath.Join(root, "usr"),
			"CARMTMP": filepath.Join(root, "tmp"),
		},
	}
	for i, mask := range masks {
		var rulesets []string
		for bit, name := range propertyRulesets {
			if mask&(1<<uint(bit)) != 0 {
				rulesets = append(rulesets, name)
			}
		}
		test := testmodel.NewSuiteTest(suite, testmodel.TestSpec{Path: fmt.Sprintf("t%d", i), UserSuite: "userA", Rulesets: rulesets},
			testmodel.Defaults{Architecture: "x86_64_linux"})
		r.tests = append(r.tests, test)
		if err := r.o.Add(test); err != nil {
			return r, err
		}
	}
	r.o.AllAdded()
	return r, nil
}

func (r *propertyRun) close() {
	if r.o != nil {
		r.o.Shutdown()
	}
	os.RemoveAll(r.root)
}

func (r *propertyRun) waitSubmitted() bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pending := 0
		for _, test := range r.tests {
			cat := test.State().Category()
			if cat != testmodel.PEND_RULECOMPILE && cat != testmodel.RULESET_COMPILED {
				pending++
			}
		}
		if pending == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (r *propertyRun) key(name string) string {
	return filepath.Join(r.root, "tmp", "crc", "rule_set", "APC", "x86_64_linux", name)
}

func TestSingleCompileAndFairness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("one job per ruleset, sharers agree on the outcome", prop.ForAll(
		func(masks []int, failing int) bool {
			r, err := startRun(masks)
			if r != nil {
				defer r.close()
			}
			if err != nil {
				t.Log(err)
				return false
			}
			if !r.waitSubmitted() {
				t.Log("tests never reached pending")
				return false
			}

			used := map[int]bool{}
			for _, mask := range masks {
				for bit := range propertyRulesets {
					if mask&(1<<uint(bit)) != 0 {
						used[bit] = true
					}
				}
			}
			r.backend.mu.Lock()
			names := map[string]int{}
			for name, n := range r.backend.names {
				names[name] = n
			}
			r.backend.mu.Unlock()
			for name, n := range names {
				if n != 1 {
					t.Logf("%s submitted %d times", name, n)
					return false
				}
			}
			if jobs := len(names); jobs != len(used) {
				t.Logf("%d jobs for %d rulesets", jobs, len(used))
				return false
			}

			for bit, name := range propertyRulesets {
				code := 0
				if bit == failing {
					code = 1
				}
				r.o.callbacks.HandleRuleCompile(r.key(name), remotecmd.ExitStatus(code), "out "+name, "hostX")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.o.Wait(ctx); err != nil {
				return false
			}

			for i, test := range r.tests {
				state := test.State()
				if masks[i]&(1<<uint(failing)) != 0 {
					if state.Category() != testmodel.UNRUNNABLE ||
						!strings.HasPrefix(state.FreeText(), "Failed to build ruleset "+propertyRulesets[failing]+"\n") {
						t.Logf("%s: %s %q", test.ID(), state.Category(), state.FreeText())
						return false
					}
				} else if state.Category() != testmodel.RULESET_COMPILED {
					t.Logf("%s: %s", test.ID(), state.Category())
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.IntRange(0, 15)),
		gen.IntRange(0, len(propertyRulesets)-1),
	))

	properties.TestingRun(t)
}

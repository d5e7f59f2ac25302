package orchestrator

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/preview"
	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/testmodel"
)

// CompileOutputFile holds the concatenated compiler log of a test's rule-sets,
// under the test's framework directory.
const CompileOutputFile = "crc_compile_output"

const ruleBuildFailedBrief = "Ruleset build failed"

// Evaluator decides what a test's rule-set outcomes mean for the test. All
// methods require the registry lock.
type Evaluator struct {
	preview *preview.Generator
	killed  killSet
	release func(testmodel.Test)
	stat    stats.StatsReceiver
}

func NewEvaluator(preview *preview.Generator, killed killSet, release func(testmodel.Test), stat stats.StatsReceiver) *Evaluator {
	return &Evaluator{preview: preview, killed: killed, release: release, stat: stat}
}

// EvaluateLocked moves t to Unrunnable if any of its rule-sets failed, or to
// RulesetCompiled and on to release once all are compiled. Tests that were
// killed or are no longer compiling are left alone.
func (e *Evaluator) EvaluateLocked(t testmodel.Test) {
	state := t.State()
	if !state.Category().InRuleCompilation() || e.killed.has(t) {
		return
	}
	plan := testmodel.PlanOf(state)
	if plan.IsEmpty() {
		return
	}
	defer e.stat.Latency(stats.RuleEvalLatency_ms).Time().Stop()

	writeCompileOutput(t, plan.Output())
	if failed := plan.Failed(); failed != nil {
		e.stat.Counter(stats.RuleEvalUnrunnableCounter).Inc(1)
		e.changeState(t, &testmodel.Unrunnable{
			Brief: ruleBuildFailedBrief,
			Full:  "Failed to build ruleset " + failed.Name + "\n" + e.preview.FromText(failed.Output()),
		})
		return
	}
	if !plan.AllCompiled() {
		return
	}
	host := ""
	if running, ok := state.(*testmodel.RunningRuleCompilation); ok {
		host = running.Host
	}
	if e.changeState(t, &testmodel.RulesetCompiled{Plan: plan, Host: host}) {
		log.WithFields(log.Fields{"test": t.ID()}).Infof("All rulesets compiled for %s (%s)", t.ID(), plan.Description())
		e.release(t)
	}
}

func (e *Evaluator) changeState(t testmodel.Test, s testmodel.State) bool {
	if err := t.ChangeState(s); err != nil {
		log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to change test state")
		return false
	}
	return true
}

func writeCompileOutput(t testmodel.Test, output string) {
	dir := testmodel.FrameworkTmpDir(t)
	err := os.MkdirAll(dir, 0755)
	if err == nil {
		err = ioutil.WriteFile(filepath.Join(dir, CompileOutputFile), []byte(output), 0644)
	}
	if err != nil {
		log.WithFields(log.Fields{"test": t.ID(), "dir": dir, "err": err}).Error("Could not write compiler output")
	}
}

// killSet records when each killed test was killed, by test ID. Guarded by the registry lock.
type killSet map[string]time.Time

func (k killSet) has(t testmodel.Test) bool {
	_, ok := k[t.ID()]
	return ok
}

// live reports whether t still waits for rule compilation.
func (k killSet) live(t testmodel.Test) bool {
	return t.State().Category().InRuleCompilation() && !k.has(t)
}

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/queue"
	"github.com/twitter/rulecomp/registry"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

const lostWorkerBrief = "no report from rule compilation (possibly killed with SIGKILL)"

// KillReason says why tests are being killed. The zero value is an explicit
// user kill, reported with the phase the test was in.
type KillReason struct {
	Brief string
	Full  string
}

// SignalReason maps a signal received by the orchestrator to a kill reason.
func SignalReason(sig os.Signal) KillReason {
	switch sig {
	case syscall.SIGUSR1:
		return KillReason{Brief: "SIGUSR1", Full: "terminated by user signal 1"}
	case syscall.SIGUSR2:
		return KillReason{Brief: "SIGUSR2", Full: "terminated by user signal 2"}
	case syscall.SIGXCPU:
		return KillReason{Brief: "CPULIMIT", Full: "exceeded maximum cpu time allowed"}
	case syscall.SIGINT:
		return KillReason{Brief: "INTERRUPT", Full: "terminated via a keyboard interrupt (Ctrl-C)"}
	}
	return KillReason{Brief: "KILLED", Full: fmt.Sprintf("terminated by signal %v", sig)}
}

// TimeoutReason is the reason used when the run exceeds its wall-clock limit.
func TimeoutReason(limit time.Duration) KillReason {
	return KillReason{Brief: "TIMEOUT", Full: fmt.Sprintf("exceeded wallclock time limit of %d seconds", int(limit.Seconds()))}
}

func (r KillReason) explicit() bool { return r.Brief == "" }

// jobRecord is one submitted compile job, keyed by its rule-set's target.
type jobRecord struct {
	ruleset      *ruleset.Descriptor
	id           queue.JobID
	name         string
	started      bool
	finished     bool
	removed      bool
	missingSince time.Time
}

// KillCoordinator tracks submitted compile jobs so tests can be killed and
// vanished jobs detected. Methods ending in Locked require the registry lock.
type KillCoordinator struct {
	registry  *registry.Registry
	backend   queue.Backend
	evaluator *Evaluator
	killed    killSet
	queueName string
	now       func() time.Time
	stat      stats.StatsReceiver

	jobs map[string]*jobRecord
	// tests handed to execution; rule compilation can no longer kill them
	released map[string]bool
}

func NewKillCoordinator(
	reg *registry.Registry,
	backend queue.Backend,
	evaluator *Evaluator,
	killed killSet,
	queueName string,
	now func() time.Time,
	stat stats.StatsReceiver,
) *KillCoordinator {
	return &KillCoordinator{
		registry:  reg,
		backend:   backend,
		evaluator: evaluator,
		killed:    killed,
		queueName: queueName,
		now:       now,
		stat:      stat,
		jobs:      map[string]*jobRecord{},
		released:  map[string]bool{},
	}
}

// ReleaseLocked claims t for execution. It returns false when t was killed
// or is no longer compiled, in which case t must not be executed.
func (k *KillCoordinator) ReleaseLocked(t testmodel.Test) bool {
	if k.released[t.ID()] {
		return false
	}
	if k.killed.has(t) || t.State().Category() != testmodel.RULESET_COMPILED {
		return false
	}
	k.released[t.ID()] = true
	return true
}

// RecordJobLocked remembers the job compiling d.
func (k *KillCoordinator) RecordJobLocked(d *ruleset.Descriptor, id queue.JobID, name string) {
	k.jobs[d.Key()] = &jobRecord{ruleset: d, id: id, name: name}
}

func (k *KillCoordinator) MarkStartedLocked(key string) {
	if rec, ok := k.jobs[key]; ok {
		rec.started = true
	}
}

func (k *KillCoordinator) MarkFinishedLocked(key string) {
	if rec, ok := k.jobs[key]; ok {
		rec.finished = true
	}
}

// JobLocked returns the id and name of the job compiling key.
func (k *KillCoordinator) JobLocked(key string) (queue.JobID, string, bool) {
	rec, ok := k.jobs[key]
	if !ok {
		return "", "", false
	}
	return rec.id, rec.name, true
}

// hasLiveWaiterLocked reports whether anyone other than except still waits on key.
func (k *KillCoordinator) hasLiveWaiterLocked(key string, except testmodel.Test) bool {
	for _, w := range k.registry.WaitersLocked(key) {
		if except != nil && w.ID() == except.ID() {
			continue
		}
		if k.killed.live(w) {
			return true
		}
	}
	return false
}

// Kill stops t. Its compile jobs are removed from the queue unless another
// test still waits on them. It returns false, changing nothing, when t has no
// rule compilation to kill or was already killed.
func (k *KillCoordinator) Kill(ctx context.Context, t testmodel.Test, reason KillReason) bool {
	k.registry.Lock()
	if k.killed.has(t) {
		k.registry.Unlock()
		k.stat.Counter(stats.RuleKillDuplicateCounter).Inc(1)
		return false
	}
	state := t.State()
	plan := testmodel.PlanOf(state)
	if state.Category().IsComplete() || plan.IsEmpty() || k.released[t.ID()] {
		k.registry.Unlock()
		k.stat.Counter(stats.RuleKillNotFoundCounter).Inc(1)
		log.WithFields(log.Fields{"test": t.ID(), "state": state.Category()}).Debug("No rule compilation to kill")
		return false
	}
	k.stat.Counter(stats.RuleKillRequestsCounter).Inc(1)
	killTime := k.now()
	k.killed[t.ID()] = killTime

	var remove []*jobRecord
	if state.Category().InRuleCompilation() {
		for _, d := range plan.All() {
			rec, ok := k.jobs[d.Key()]
			if !ok || rec.finished || rec.removed || d.IsDone() || k.hasLiveWaiterLocked(d.Key(), t) {
				continue
			}
			rec.removed = true
			remove = append(remove, rec)
		}
	}
	k.registry.Unlock()

	allExisted := true
	var info []string
	for _, rec := range remove {
		existed, err := k.backend.KillJob(ctx, rec.id)
		if err != nil {
			log.WithFields(log.Fields{"jobID": rec.id, "jobName": rec.name, "err": err}).Error("Failed to remove compile job")
		}
		if existed {
			k.stat.Counter(stats.RuleKillJobsRemovedCounter).Inc(1)
			continue
		}
		allExisted = false
		info = append(info, k.backend.JobFailureInfo(ctx, rec.id))
	}

	k.registry.Lock()
	defer k.registry.Unlock()
	hhmm := killTime.Format("15:04")
	for _, rec := range remove {
		k.failRemovedLocked(rec, hhmm)
	}

	state = t.State()
	if state.Category().IsComplete() {
		return true
	}
	var next testmodel.State
	switch {
	case !allExisted && state.Category() == testmodel.RUNNING_RULECOMPILE:
		next = &testmodel.Unrunnable{Brief: lostWorkerBrief, Full: strings.Join(info, "\n")}
	case !allExisted:
		next = &testmodel.Unrunnable{Brief: k.queueName + " job exited", Full: strings.Join(info, "\n")}
	default:
		next = k.cancelled(state.Category(), hhmm, reason)
	}
	if err := t.ChangeState(next); err != nil {
		log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to record kill")
		return true
	}
	log.WithFields(log.Fields{"test": t.ID(), "brief": next.BriefText(), "jobsRemoved": len(remove)}).Info("Killed test")
	return true
}

// failRemovedLocked marks the rule-set of a removed job failed so that tests
// arriving later for it do not wait forever.
func (k *KillCoordinator) failRemovedLocked(rec *jobRecord, hhmm string) {
	rec.finished = true
	if !rec.ruleset.MarkFailed("Rule compilation job " + rec.name + " was killed at " + hhmm) {
		return
	}
	for _, w := range k.registry.WaitersLocked(rec.ruleset.Key()) {
		k.evaluator.EvaluateLocked(w)
	}
}

// removeOrphan removes the job compiling d, used when every waiter was killed
// while the job was being submitted.
func (k *KillCoordinator) removeOrphan(ctx context.Context, d *ruleset.Descriptor) {
	k.registry.Lock()
	rec, ok := k.jobs[d.Key()]
	if !ok || rec.removed || rec.finished {
		k.registry.Unlock()
		return
	}
	rec.removed = true
	k.registry.Unlock()

	existed, err := k.backend.KillJob(ctx, rec.id)
	if err != nil {
		log.WithFields(log.Fields{"jobID": rec.id, "jobName": rec.name, "err": err}).Error("Failed to remove compile job")
	}
	if existed {
		k.stat.Counter(stats.RuleKillJobsRemovedCounter).Inc(1)
	}

	k.registry.Lock()
	defer k.registry.Unlock()
	k.failRemovedLocked(rec, k.now().Format("15:04"))
}

func (k *KillCoordinator) cancelled(cat testmodel.Category, hhmm string, reason KillReason) *testmodel.Cancelled {
	var c testmodel.Cancelled
	switch cat {
	case testmodel.NEED_RULECOMPILE, testmodel.PEND_RULECOMPILE:
		c = testmodel.Cancelled{
			Brief: "killed pending rule compilation at " + hhmm,
			Full:  "Rule compilation job was killed (while still pending in " + k.queueName + ") at " + hhmm,
		}
	case testmodel.RUNNING_RULECOMPILE:
		c = testmodel.Cancelled{
			Brief: "Ruleset build killed at " + hhmm,
			Full:  "Ruleset compilation killed explicitly at " + hhmm,
		}
	default:
		c = testmodel.Cancelled{
			Brief: "cancelled at " + hhmm,
			Full:  "Test cancelled after rule compilation at " + hhmm,
		}
	}
	if !reason.explicit() {
		c.Full = reason.Full + "\n" + c.Full
		c.Brief = reason.Brief
	}
	return &c
}

// PollLostJobs checks every outstanding compile job against the queue. Jobs
// gone for at least grace without reporting an exit code fail their waiters.
func (k *KillCoordinator) PollLostJobs(ctx context.Context, grace time.Duration) {
	k.registry.Lock()
	var outstanding []*jobRecord
	for _, rec := range k.jobs {
		if !rec.finished && !rec.removed && !rec.ruleset.IsDone() {
			outstanding = append(outstanding, rec)
		}
	}
	k.registry.Unlock()

	for _, rec := range outstanding {
		exists, err := k.backend.JobExists(ctx, rec.id)
		if err != nil {
			log.WithFields(log.Fields{"jobID": rec.id, "err": err}).Info("Could not query compile job")
			continue
		}
		if !k.overdue(rec, exists, grace) {
			continue
		}
		info := k.backend.JobFailureInfo(ctx, rec.id)
		k.failLostJob(rec, info)
	}
}

func (k *KillCoordinator) overdue(rec *jobRecord, exists bool, grace time.Duration) bool {
	k.registry.Lock()
	defer k.registry.Unlock()
	if exists {
		rec.missingSince = time.Time{}
		return false
	}
	now := k.now()
	if rec.missingSince.IsZero() {
		rec.missingSince = now
	}
	return now.Sub(rec.missingSince) >= grace
}

func (k *KillCoordinator) failLostJob(rec *jobRecord, info string) {
	k.registry.Lock()
	defer k.registry.Unlock()
	if rec.finished || rec.removed || !rec.ruleset.MarkFailed(info) {
		return
	}
	rec.finished = true
	k.stat.Counter(stats.RuleKillWorkerLostCounter).Inc(1)
	log.WithFields(log.Fields{
		"jobID":   rec.id,
		"jobName": rec.name,
		"ruleset": rec.ruleset.Name,
		"started": rec.started,
	}).Error("Compile job vanished without reporting")

	for _, w := range k.registry.WaitersLocked(rec.ruleset.Key()) {
		if !k.killed.live(w) {
			continue
		}
		brief := k.queueName + " job exited"
		if w.State().Category() == testmodel.RUNNING_RULECOMPILE {
			brief = lostWorkerBrief
		}
		if err := w.ChangeState(&testmodel.Unrunnable{Brief: brief, Full: info}); err != nil {
			log.WithFields(log.Fields{"test": w.ID(), "err": err}).Error("Failed to fail test of lost job")
		}
	}
}

// MonitorLostJobs polls every interval until ctx is done.
func (k *KillCoordinator) MonitorLostJobs(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.PollLostJobs(ctx, grace)
		}
	}
}

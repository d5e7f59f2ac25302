package orchestrator

import (
	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/registry"
	"github.com/twitter/rulecomp/remotecmd"
	"github.com/twitter/rulecomp/testmodel"
)

// CallbackHandler applies worker reports to the registry and waiting tests.
type CallbackHandler struct {
	registry  *registry.Registry
	evaluator *Evaluator
	kill      *KillCoordinator
	killed    killSet
	stat      stats.StatsReceiver
}

func NewCallbackHandler(reg *registry.Registry, evaluator *Evaluator, kill *KillCoordinator, killed killSet, stat stats.StatsReceiver) *CallbackHandler {
	return &CallbackHandler{registry: reg, evaluator: evaluator, kill: kill, killed: killed, stat: stat}
}

// HandleRuleCompile implements ruleserver.Handler.
func (h *CallbackHandler) HandleRuleCompile(target, status, body, host string) {
	h.registry.Lock()
	defer h.registry.Unlock()
	entry, ok := h.registry.LookupLocked(target)
	if !ok {
		h.stat.Counter(stats.RuleServerBadRequestCounter).Inc(1)
		log.WithFields(log.Fields{"target": target, "status": status, "host": host}).Error("Report for unknown ruleset")
		return
	}
	d := entry.Ruleset
	fields := log.Fields{"ruleset": d.Name, "target": target, "status": status, "host": host}

	if status == remotecmd.StartStatus {
		if d.IsDone() {
			log.WithFields(fields).Info("Ignoring start for finished ruleset")
			return
		}
		h.kill.MarkStartedLocked(target)
		for _, t := range h.registry.WaitersLocked(target) {
			if !h.killed.live(t) {
				continue
			}
			plan := testmodel.PlanOf(t.State())
			if err := t.ChangeState(&testmodel.RunningRuleCompilation{Plan: plan, Host: host}); err != nil {
				log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to mark rule compilation running")
			}
		}
		log.WithFields(fields).Info("Rule compilation started")
		return
	}

	code, ok := remotecmd.ParseExitStatus(status)
	if !ok {
		h.stat.Counter(stats.RuleServerBadRequestCounter).Inc(1)
		log.WithFields(fields).Error("Unknown rule compile status")
		return
	}
	stdout, stderr := remotecmd.SplitOutput(body)
	output := stdout + stderr
	var changed bool
	if code == 0 {
		changed = d.MarkSucceeded(output)
		if changed {
			h.stat.Counter(stats.RuleEvalCompiledCounter).Inc(1)
		}
	} else {
		changed = d.MarkFailed(output)
		if changed {
			h.stat.Counter(stats.RuleEvalFailedCounter).Inc(1)
		}
	}
	if !changed {
		log.WithFields(fields).Info("Ignoring repeated exit code for ruleset")
		return
	}
	h.kill.MarkFinishedLocked(target)
	log.WithFields(fields).Infof("Rule compilation finished with exit code %d", code)
	for _, t := range h.registry.WaitersLocked(target) {
		h.evaluator.EvaluateLocked(t)
	}
}

package orchestrator

import (
	"context"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/queue"
	"github.com/twitter/rulecomp/queue/local"
	"github.com/twitter/rulecomp/registry"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

const (
	// ServerOverrideEnv replaces the server address handed to workers.
	ServerOverrideEnv = "TEXTTEST_MIM_SERVER"
	// QueueResourceEnv adds site specific resources to every compile job.
	QueueResourceEnv = "QUEUE_SYSTEM_RESOURCE_RAVE"
	// LocalCompileEnv tells the worker to run the compiler itself.
	LocalCompileEnv = "_AUTOTEST__LOCAL_COMPILE_"

	ruleQueueResource = "rave"
	noCompilerBrief   = "NO COMPILER"
	submitFailedBrief = "Failed to submit rule compilation"
)

// forwardedEnv is passed on to compile jobs when the test sets it.
var forwardedEnv = []string{"CARMROLE", "BITMODE", "PATH", "USER", "_AUTOTEST__DEBUG_"}

// Scheduler submits the compile jobs a test owns. It runs on the submission
// goroutine only, and never holds the registry lock across a backend call.
type Scheduler struct {
	registry   *registry.Registry
	backend    queue.Backend
	evaluator  *Evaluator
	kill       *KillCoordinator
	killed     killSet
	limiter    *rate.Limiter
	remoteCmd  string
	serverAddr string
	queueName  string
	raveName   string
	stat       stats.StatsReceiver

	// job name -> CARMTMP it was first used with
	namesCreated map[string]string
}

func NewScheduler(
	reg *registry.Registry,
	backend queue.Backend,
	evaluator *Evaluator,
	kill *KillCoordinator,
	killed killSet,
	limiter *rate.Limiter,
	remoteCmd string,
	queueName string,
	raveName string,
	stat stats.StatsReceiver,
) *Scheduler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Scheduler{
		registry:     reg,
		backend:      backend,
		evaluator:    evaluator,
		kill:         kill,
		killed:       killed,
		limiter:      limiter,
		remoteCmd:    remoteCmd,
		queueName:    queueName,
		raveName:     raveName,
		stat:         stat,
		namesCreated: map[string]string{},
	}
}

// SetServerAddress is the address workers report to, once the server is bound.
func (s *Scheduler) SetServerAddress(addr string) {
	s.serverAddr = addr
}

// SubmitTest submits every owned rule-set of t still wanted by a live test,
// then moves t to pending. A test whose rule-sets are already decided is
// evaluated at once. plan is the one t was filtered with; when nil it is read
// from t's state. Owned rule-sets of a killed t are still submitted for the
// other tests sharing them, or failed when nobody is left.
func (s *Scheduler) SubmitTest(ctx context.Context, t testmodel.Test, plan *ruleset.Plan) {
	s.registry.Lock()
	if plan == nil {
		plan = testmodel.PlanOf(t.State())
	}
	live := s.killed.live(t)
	s.registry.Unlock()
	if plan.IsEmpty() {
		return
	}
	if live {
		if err := os.MkdirAll(testmodel.FrameworkTmpDir(t), 0755); err != nil {
			log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to create test sandbox")
		}
	}

	for _, d := range plan.Owned {
		s.submitRuleset(ctx, t, plan, d)
	}

	s.registry.Lock()
	defer s.registry.Unlock()
	if !s.killed.live(t) {
		return
	}
	if t.State().Category() == testmodel.NEED_RULECOMPILE {
		if err := t.ChangeState(&testmodel.PendingRuleCompilation{Plan: plan}); err != nil {
			log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to mark rule compilation pending")
		}
	}
	for _, d := range plan.All() {
		if d.IsDone() {
			s.evaluator.EvaluateLocked(t)
			break
		}
	}
}

func (s *Scheduler) submitRuleset(ctx context.Context, t testmodel.Test, plan *ruleset.Plan, d *ruleset.Descriptor) {
	s.registry.Lock()
	if d.IsDone() {
		s.registry.Unlock()
		return
	}
	if !s.killed.live(t) && !s.kill.hasLiveWaiterLocked(d.Key(), t) {
		log.WithFields(log.Fields{"test": t.ID(), "ruleset": d.Name}).Info("Not compiling ruleset, nobody waits for it")
		s.failRulesetLocked(d, "Rule compilation of "+d.Name+" was not submitted, every test needing it was killed")
		s.registry.Unlock()
		return
	}
	rules := s.SubmissionRulesLocked(t, d)
	if t.State().Category() == testmodel.NEED_RULECOMPILE {
		if err := t.ChangeState(&testmodel.NeedRuleCompilation{Plan: plan}); err != nil {
			log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to mark test as needing rule compilation")
		}
	}
	s.registry.Unlock()

	command, err := s.Command(t, d)
	if err != nil {
		s.stat.Counter(stats.RuleSchedSubmitFailureCounter).Inc(1)
		s.failSubmission(t, d, noCompilerBrief, err.Error())
		return
	}
	d.Backup()

	if err := s.limiter.Wait(ctx); err != nil {
		s.failSubmission(t, d, submitFailedBrief, err.Error())
		return
	}
	log.WithFields(log.Fields{
		"test":    t.ID(),
		"ruleset": d.Name,
		"jobName": rules.JobName,
	}).Info("Submitting rule compilation" + rules.SubmitSuffix(s.backend.Name()))
	latency := s.stat.Latency(stats.RuleSchedSubmitLatency_ms).Time()
	id, err := s.backend.SubmitJob(ctx, rules, command, s.Environment(t))
	latency.Stop()
	if err != nil {
		s.stat.Counter(stats.RuleSchedSubmitFailureCounter).Inc(1)
		full := err.Error()
		if serr, ok := err.(*queue.SubmitError); ok {
			full = serr.Stderr
		}
		s.failSubmission(t, d, submitFailedBrief, full)
		return
	}
	s.stat.Counter(stats.RuleSchedJobsSubmittedCounter).Inc(1)

	s.registry.Lock()
	s.kill.RecordJobLocked(d, id, rules.JobName)
	orphaned := !s.kill.hasLiveWaiterLocked(d.Key(), nil)
	s.registry.Unlock()
	if orphaned {
		// Everyone waiting was killed while the job was being submitted.
		s.kill.removeOrphan(ctx, d)
	}
}

// failSubmission fails d with text and makes the owner unrunnable with it.
// Other waiters see the rule-set build failure.
func (s *Scheduler) failSubmission(t testmodel.Test, d *ruleset.Descriptor, brief, full string) {
	log.WithFields(log.Fields{"test": t.ID(), "ruleset": d.Name, "err": full}).Error(brief)
	s.registry.Lock()
	defer s.registry.Unlock()
	if s.killed.live(t) {
		if err := t.ChangeState(&testmodel.Unrunnable{Brief: brief, Full: full}); err != nil {
			log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to mark test unrunnable")
		}
	}
	s.failRulesetLocked(d, full)
}

func (s *Scheduler) failRulesetLocked(d *ruleset.Descriptor, output string) {
	if !d.MarkFailed(output) {
		return
	}
	for _, w := range s.registry.WaitersLocked(d.Key()) {
		s.evaluator.EvaluateLocked(w)
	}
}

// JobNameLocked names the compile job for d after the basic rave name, whatever
// flavours d compiles. A name already used with another CARMTMP gets the
// test's version appended.
func (s *Scheduler) JobNameLocked(t testmodel.Test, d *ruleset.Descriptor) string {
	name := "Rules-" + d.Name + "-" + t.UserSuite() + "-" + s.raveName
	carmTmp := t.Getenv(ruleset.EnvCarmTmp)
	if prev, ok := s.namesCreated[name]; ok && prev != carmTmp {
		name += "." + t.Version()
	}
	if _, ok := s.namesCreated[name]; !ok {
		s.namesCreated[name] = carmTmp
	}
	return name
}

// SubmissionRulesLocked derives how the compile job for d is queued.
func (s *Scheduler) SubmissionRulesLocked(t testmodel.Test, d *ruleset.Descriptor) queue.SubmissionRules {
	resources := []string{"carmarch=*" + d.Arch + "*"}
	if release := t.MajorRelease(); release != "" {
		resources = append(resources, "carmbuild"+release+"=1")
	}
	if extra := t.Getenv(QueueResourceEnv); extra != "" {
		resources = append(resources, strings.Split(extra, ",")...)
	}
	return queue.SubmissionRules{
		JobName:         s.JobNameLocked(t, d),
		Priority:        0,
		QueueResource:   ruleQueueResource,
		ResourceList:    resources,
		ProcessesNeeded: 1,
		Queue:           s.queueName,
	}
}

// Command is the shell command a compile job runs: the worker wrapper, the
// target it reports on, the server address and the compiler invocation.
func (s *Scheduler) Command(t testmodel.Test, d *ruleset.Descriptor) (string, error) {
	compile, err := d.CommandLine(s.backend.Name() != local.Name)
	if err != nil {
		return "", err
	}
	addr := s.serverAddr
	if override := t.Getenv(ServerOverrideEnv); override != "" {
		addr = override
	}
	args := append([]string{s.remoteCmd, d.Key(), addr}, compile...)
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " "), nil
}

// Environment is what a compile job needs on top of the submitting environment.
func (s *Scheduler) Environment(t testmodel.Test) map[string]string {
	env := map[string]string{
		ruleset.EnvCarmSys: t.Getenv(ruleset.EnvCarmSys),
		ruleset.EnvCarmUsr: t.Getenv(ruleset.EnvCarmUsr),
		ruleset.EnvCarmTmp: t.Getenv(ruleset.EnvCarmTmp),
		ruleset.EnvCarmGrp: t.Getenv(ruleset.EnvCarmGrp),
		LocalCompileEnv:    "1",
	}
	for _, name := range forwardedEnv {
		if v := t.Getenv(name); v != "" {
			env[name] = v
		}
	}
	return env
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("/._-+=:,@%", r))
	}) < 0 {
		return s
	}
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

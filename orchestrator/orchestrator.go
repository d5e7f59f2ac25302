// Package orchestrator compiles the rule-sets a batch of tests needs, exactly
// once each, before handing the tests on to execution.
//
// Tests are filtered as they are added, their owned rule-sets submitted to a
// queue backend in arrival order, and workers report back through a
// ruleserver.Server. Every state change is made under the registry lock.
package orchestrator

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/twitter/rulecomp/common/preview"
	"github.com/twitter/rulecomp/common/stats"
	"github.com/twitter/rulecomp/config"
	"github.com/twitter/rulecomp/filter"
	"github.com/twitter/rulecomp/queue"
	"github.com/twitter/rulecomp/registry"
	"github.com/twitter/rulecomp/ruleserver"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

const (
	DefaultRemoteCmd = "remotecmd"

	invalidRulesetBrief = "Invalid ruleset"
	releaseFailedBrief  = "Failed to submit test"
)

// Options wire an Orchestrator.
//
// Backend - where compile jobs go, required
// Execution - where ready tests go, a BackendExecutionQueue on Backend by default
// Listener - serves worker reports, one is bound to Config.ServerAddress when nil
// Generic - handles worker requests that are not rule compile reports
// Now - clock used for kill timestamps, time.Now by default
// SkipRules - hand every test on without compiling anything
type Options struct {
	Config    *config.Config
	Filter    filter.Options
	SkipRules bool
	Backend   queue.Backend
	Execution ExecutionQueue
	Stat      stats.StatsReceiver
	Listener  net.Listener
	Generic   ruleserver.GenericHandler
	Now       func() time.Time
}

// Orchestrator owns one run: its registry, components and submission goroutine.
type Orchestrator struct {
	cfg       *config.Config
	registry  *registry.Registry
	filterer  *filter.Filterer
	scheduler *Scheduler
	evaluator *Evaluator
	kill      *KillCoordinator
	callbacks *CallbackHandler
	execution ExecutionQueue
	stat      stats.StatsReceiver
	opts      Options

	work   *workQueue
	server *ruleserver.Server
	cancel context.CancelFunc
	loopWg sync.WaitGroup
	done   chan struct{}

	mu    sync.Mutex
	tests []testmodel.Test
	ids   map[string]bool

	// owned by the submission goroutine
	added    int
	settled  map[string]bool
	allAdded bool
	finished bool
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("orchestrator: config is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("orchestrator: queue backend is required")
	}
	if opts.Stat == nil {
		opts.Stat = stats.NilStatsReceiver()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Execution == nil {
		opts.Execution = NewBackendExecutionQueue(opts.Backend, opts.Config.QueueName)
	}
	cfg := opts.Config
	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry.New(opts.Stat),
		execution: opts.Execution,
		stat:      opts.Stat,
		opts:      opts,
		work:      newWorkQueue(),
		done:      make(chan struct{}),
		ids:       map[string]bool{},
		settled:   map[string]bool{},
	}

	killed := killSet{}
	gen := preview.NewGenerator(cfg.MaxWidthTextDifference, cfg.LinesOfCrcCompile, cfg.PreviewStartEndRatio)
	o.filterer = filter.NewFilterer(o.registry, cfg, opts.Filter, opts.Stat)
	o.evaluator = NewEvaluator(gen, killed, o.release, opts.Stat)
	queueName := opts.Backend.Name()
	o.kill = NewKillCoordinator(o.registry, opts.Backend, o.evaluator, killed, queueName, opts.Now, opts.Stat)
	o.callbacks = NewCallbackHandler(o.registry, o.evaluator, o.kill, killed, opts.Stat)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SubmissionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmissionsPerSecond), 1)
	}
	remoteCmd := cfg.RemoteCmdPath
	if remoteCmd == "" {
		remoteCmd = DefaultRemoteCmd
	}
	o.scheduler = NewScheduler(o.registry, opts.Backend, o.evaluator, o.kill, killed, limiter, remoteCmd, cfg.QueueName, cfg.BasicRaveName(), opts.Stat)
	return o, nil
}

// Start binds the worker request server and starts the submission goroutine
// and lost job monitor.
func (o *Orchestrator) Start(ctx context.Context) error {
	serverOpts := ruleserver.Options{
		MaxConnections:       o.cfg.MaxConnections,
		ConnectionsPerSecond: o.cfg.ConnectionsPerSecond,
		Generic:              o.opts.Generic,
	}
	if o.opts.Listener != nil {
		o.server = ruleserver.NewServer(o.opts.Listener, o.callbacks, serverOpts, o.stat)
	} else {
		server, err := ruleserver.Listen(o.cfg.ServerAddress, o.callbacks, serverOpts, o.stat)
		if err != nil {
			return err
		}
		o.server = server
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	addr := ruleserver.AdvertisedAddress(o.server.Addr(), hostname)
	o.scheduler.SetServerAddress(addr)
	log.WithFields(log.Fields{"addr": addr, "queue": o.opts.Backend.Name()}).Info("Starting rule compilation")

	ctx, o.cancel = context.WithCancel(ctx)
	o.loopWg.Add(3)
	go func() {
		defer o.loopWg.Done()
		if err := o.server.Serve(); err != nil {
			log.WithFields(log.Fields{"err": err}).Error("Rule compile server failed")
		}
	}()
	go func() {
		defer o.loopWg.Done()
		o.run(ctx)
	}()
	go func() {
		defer o.loopWg.Done()
		o.kill.MonitorLostJobs(ctx, o.cfg.LostJobPollInterval(), o.cfg.LostJobGrace())
	}()
	return nil
}

// Add filters t and queues it for submission. Test IDs must be unique.
func (o *Orchestrator) Add(t testmodel.Test) error {
	o.mu.Lock()
	if o.ids[t.ID()] {
		o.mu.Unlock()
		return errors.Errorf("test %s added twice", t.ID())
	}
	o.ids[t.ID()] = true
	o.tests = append(o.tests, t)
	o.mu.Unlock()

	t.AddObserver(testmodel.ObserverFunc(o.notifyStateChange))
	if o.opts.SkipRules {
		o.changeState(t, &testmodel.RulesetCompiled{})
		o.work.push(workItem{kind: submitWork, test: t})
		return nil
	}
	plan, err := o.filterer.Filter(t)
	switch {
	case err != nil:
		log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Test has an invalid ruleset")
		o.changeState(t, &testmodel.Unrunnable{Brief: invalidRulesetBrief, Full: err.Error()})
	case plan == nil:
		o.changeState(t, &testmodel.RulesetCompiled{})
	}
	o.work.push(workItem{kind: submitWork, test: t, plan: plan})
	return nil
}

// AllAdded declares that no further tests will be added.
func (o *Orchestrator) AllAdded() {
	o.work.push(workItem{kind: allAddedWork})
}

// Wait blocks until every added test has finished rule compilation and the
// ready ones were submitted for execution.
func (o *Orchestrator) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill stops t. See KillCoordinator.Kill.
func (o *Orchestrator) Kill(ctx context.Context, t testmodel.Test, reason KillReason) bool {
	return o.kill.Kill(ctx, t, reason)
}

// KillAll kills every added test, returning how many were killed.
func (o *Orchestrator) KillAll(ctx context.Context, reason KillReason) int {
	killed := 0
	for _, t := range o.Tests() {
		if o.kill.Kill(ctx, t, reason) {
			killed++
		}
	}
	log.WithFields(log.Fields{"killed": killed, "reason": reason.Brief}).Info("Killed all tests")
	return killed
}

// Shutdown stops the server, the submission goroutine and the monitor.
func (o *Orchestrator) Shutdown() {
	if o.server != nil {
		o.server.Shutdown()
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.loopWg.Wait()
	log.Info("Rule compilation shut down")
}

// Tests returns the added tests in order.
func (o *Orchestrator) Tests() []testmodel.Test {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]testmodel.Test(nil), o.tests...)
}

// SummaryLine is the outcome of one test.
type SummaryLine struct {
	TestID   string `json:"test"`
	Category string `json:"state"`
	Brief    string `json:"brief"`
	Full     string `json:"full,omitempty"`
}

// Summary reports the current state of every test in the order they were added.
func (o *Orchestrator) Summary() []SummaryLine {
	o.registry.Lock()
	defer o.registry.Unlock()
	var lines []SummaryLine
	for _, t := range o.Tests() {
		s := t.State()
		lines = append(lines, SummaryLine{
			TestID:   t.ID(),
			Category: s.Category().String(),
			Brief:    s.BriefText(),
			Full:     s.FreeText(),
		})
	}
	return lines
}

// ServerAddr is where workers report, valid after Start.
func (o *Orchestrator) ServerAddr() string {
	return o.scheduler.serverAddr
}

// Registry exposes the rule-set registry, mainly for reporting.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

func (o *Orchestrator) run(ctx context.Context) {
	for {
		item, ok := o.work.pop(ctx)
		if !ok {
			return
		}
		switch item.kind {
		case submitWork:
			o.added++
			o.submit(ctx, item.test, item.plan)
		case releaseWork:
			o.submitForExecution(ctx, item.test)
		case settledWork:
			o.settled[item.test.ID()] = true
		case allAddedWork:
			o.allAdded = true
		}
		if o.allAdded && !o.finished && len(o.settled) >= o.added {
			o.finished = true
			o.execution.AllSubmitted()
			log.WithFields(log.Fields{"tests": o.added}).Info("All tests finished rule compilation")
			close(o.done)
		}
	}
}

func (o *Orchestrator) submit(ctx context.Context, t testmodel.Test, plan *ruleset.Plan) {
	o.registry.Lock()
	state := t.State()
	o.registry.Unlock()
	if state.Category() == testmodel.RULESET_COMPILED && testmodel.PlanOf(state).IsEmpty() {
		o.submitForExecution(ctx, t)
		return
	}
	o.scheduler.SubmitTest(ctx, t, plan)
}

func (o *Orchestrator) submitForExecution(ctx context.Context, t testmodel.Test) {
	if o.settled[t.ID()] {
		return
	}
	o.registry.Lock()
	ready := o.kill.ReleaseLocked(t)
	o.registry.Unlock()
	if !ready {
		return
	}
	if err := o.execution.SubmitTest(ctx, t); err != nil {
		o.stat.Counter(stats.RuleSchedReleaseFailureCounter).Inc(1)
		o.changeState(t, &testmodel.Unrunnable{Brief: releaseFailedBrief, Full: err.Error()})
	} else {
		o.stat.Counter(stats.RuleSchedTestsReleasedCounter).Inc(1)
	}
	o.settled[t.ID()] = true
}

// release is called by the evaluator, under the registry lock.
func (o *Orchestrator) release(t testmodel.Test) {
	o.work.push(workItem{kind: releaseWork, test: t})
}

func (o *Orchestrator) notifyStateChange(t testmodel.Test, previous, current testmodel.State) {
	if current.Category().IsComplete() {
		o.work.push(workItem{kind: settledWork, test: t})
	}
}

func (o *Orchestrator) changeState(t testmodel.Test, s testmodel.State) {
	o.registry.Lock()
	defer o.registry.Unlock()
	if err := t.ChangeState(s); err != nil {
		log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Failed to change test state")
	}
}

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/rulecomp/build"
	"github.com/twitter/rulecomp/common/endpoints"
	"github.com/twitter/rulecomp/common/errors"
	"github.com/twitter/rulecomp/common/os/exec"
	"github.com/twitter/rulecomp/config"
	"github.com/twitter/rulecomp/filter"
	"github.com/twitter/rulecomp/orchestrator"
	"github.com/twitter/rulecomp/queue"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

type runCmd struct {
	rebuild  bool
	skip     bool
	debug    bool
	explorer bool
	only     []string
	build    bool
	httpAddr string
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "Compile the rule-sets of every test and submit the tests",
	}
	r.Flags().BoolVar(&c.rebuild, "rebuild-rules", false, "Recompile rule-sets even if they are up to date")
	r.Flags().BoolVar(&c.skip, "skip-rules", false, "Do not compile any rule-sets")
	r.Flags().BoolVar(&c.debug, "debug-rules", false, "Compile debug rule-sets")
	r.Flags().BoolVar(&c.explorer, "explorer-rules", false, "Compile explorer rule-sets")
	r.Flags().StringSliceVar(&c.only, "rulecomp", nil, "Only compile these rule-sets (comma separated)")
	r.Flags().BoolVar(&c.build, "build", false, "Run the configured code builds first")
	r.Flags().StringVar(&c.httpAddr, "http_addr", "", "Serve health, metrics and test status on this address")
	return r
}

func (c *runCmd) mode() ruleset.Mode {
	switch {
	case c.debug:
		return ruleset.Debug
	case c.explorer:
		return ruleset.Explorer
	}
	return ruleset.Optimize
}

func (c *runCmd) run(cl *rulecompCLI, cmd *cobra.Command, args []string) error {
	cfg, tests, err := cl.load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.build {
		results := build.NewBuilder(exec.NewOsExec(), cfg.BuildTargets, cfg.BuildDirectories()).Build(ctx, architectures(tests))
		if failed := build.Failures(results); len(failed) > 0 {
			dirs := make([]string, 0, len(failed))
			for _, r := range failed {
				dirs = append(dirs, r.Dir+" ("+r.Arch+")")
			}
			return errors.NewErrorf(errors.BuildFailureExitCode, "build failed in %s", strings.Join(dirs, ", "))
		}
	}

	backend, err := queue.New(cfg.QueueSystem, queue.Options{Queue: cfg.QueueName, KillGrace: cfg.KillGrace()})
	if err != nil {
		return errors.NewError(err, errors.QueueErrorExitCode)
	}
	stat, statsCancel := endpoints.MakeStatsReceiver("rulecomp")
	defer statsCancel()

	execution := orchestrator.NewBackendExecutionQueue(backend, cfg.QueueName)
	o, err := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Filter:    filter.Options{RebuildAll: c.rebuild, Mode: c.mode(), Only: c.only},
		SkipRules: c.skip,
		Backend:   backend,
		Execution: execution,
		Stat:      stat,
	})
	if err != nil {
		return errors.NewError(err, errors.ConfigErrorExitCode)
	}
	if err := o.Start(ctx); err != nil {
		return errors.NewError(err, errors.ServerErrorExitCode)
	}
	defer o.Shutdown()

	if c.httpAddr != "" {
		admin := endpoints.NewTwitterServer(c.httpAddr, stat, func() interface{} { return o.Summary() })
		go func() {
			if err := admin.ListenAndServe(); err != nil {
				log.WithFields(log.Fields{"addr": c.httpAddr, "err": err}).Error("Admin server stopped")
			}
		}()
	}

	stopSignals := killOnSignal(ctx, o)
	defer stopSignals()
	if limit := cfg.WallclockLimit(); limit > 0 {
		timer := time.AfterFunc(limit, func() { o.KillAll(ctx, orchestrator.TimeoutReason(limit)) })
		defer timer.Stop()
	}

	for _, t := range tests {
		if err := o.Add(t); err != nil {
			log.WithFields(log.Fields{"test": t.ID(), "err": err}).Error("Could not add test")
		}
	}
	o.AllAdded()
	if err := o.Wait(ctx); err != nil {
		return err
	}
	waitForReleased(backend, execution)
	printSummary(cl.out, o.Summary())
	return nil
}

// killOnSignal kills every test when the process is signalled. The returned
// func stops listening.
func killOnSignal(ctx context.Context, o *orchestrator.Orchestrator) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGXCPU)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				log.WithFields(log.Fields{"signal": sig}).Info("Received signal, killing tests")
				o.KillAll(ctx, orchestrator.SignalReason(sig))
			case <-stop:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(stop)
	}
}

type jobWaiter interface {
	Wait(id queue.JobID)
}

// waitForReleased blocks until the released test jobs finish, for backends
// that run jobs in this process.
func waitForReleased(backend queue.Backend, execution *orchestrator.BackendExecutionQueue) {
	w, ok := backend.(jobWaiter)
	if !ok {
		return
	}
	for _, r := range execution.Released() {
		if r.JobID != "" {
			w.Wait(r.JobID)
		}
	}
}

func printSummary(out io.Writer, lines []orchestrator.SummaryLine) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"TEST", "STATE", "DETAILS"})
	for _, line := range lines {
		t.AppendRow(table.Row{line.TestID, line.Category, line.Brief})
	}
	t.Render()
}

// rulesetNames lists what each test would compile, ignoring tests whose
// names cannot be read.
func rulesetNames(cfg *config.Config, tests []*testmodel.SuiteTest) []table.Row {
	rows := make([]table.Row, 0, len(tests))
	for _, t := range tests {
		names, err := t.RulesetNames()
		if err != nil {
			log.WithFields(log.Fields{"test": t.ID(), "err": err}).Warn("Could not read ruleset names")
			continue
		}
		rows = append(rows, table.Row{t.ID(), strings.Join(cfg.RaveNames(t.Product()), ","), strings.Join(names, " ")})
	}
	return rows
}

// Package sge submits jobs to Sun Grid Engine through qsub, qdel, qstat and qacct.
package sge

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/os/exec"
	"github.com/twitter/rulecomp/queue"
)

const Name = "sge"

func init() {
	queue.Register(Name, func(opts queue.Options) (queue.Backend, error) {
		return NewBackend(opts), nil
	})
}

var submittedRe = regexp.MustCompile(`Your job (\d+)`)

type Backend struct {
	execer exec.OsExec
	queue  string
}

func NewBackend(opts queue.Options) *Backend {
	execer := opts.Exec
	if execer == nil {
		execer = exec.NewOsExec()
	}
	return &Backend{execer: execer, queue: opts.Queue}
}

func (b *Backend) Name() string { return Name }

// SubmitArgs returns the qsub arguments for a job. The job environment is
// exported with -V from the qsub process itself.
func (b *Backend) SubmitArgs(rules queue.SubmissionRules, command string) []string {
	args := []string{"-N", rules.JobName, "-p", strconv.Itoa(rules.Priority), "-V", "-cwd", "-b", "y", "-m", "n"}
	if q := b.queueFor(rules); q != "" {
		args = append(args, "-q", q)
	}
	for _, res := range rules.ResourceList {
		args = append(args, "-l", res)
	}
	if rules.ProcessesNeeded > 1 {
		args = append(args, "-pe", "*", strconv.Itoa(rules.ProcessesNeeded))
	}
	return append(args, "/bin/sh", "-c", command)
}

func (b *Backend) queueFor(rules queue.SubmissionRules) string {
	if rules.Queue == "" && b.queue != "" {
		return b.queue
	}
	return rules.QueueName()
}

func (b *Backend) SubmitJob(ctx context.Context, rules queue.SubmissionRules, command string, env map[string]string) (queue.JobID, error) {
	cmd := b.execer.Command("qsub", b.SubmitArgs(rules, command)...)
	cmd.SetEnv(exec.EnvSlice(os.Environ(), env))
	rr := exec.RunKillableCommand(cmd, nil, 0, nil, 0)
	if rr.Error != nil {
		return "", &queue.SubmitError{Backend: Name, Stderr: stderrOr(rr)}
	}
	m := submittedRe.FindStringSubmatch(string(rr.Stdout))
	if m == nil {
		return "", &queue.SubmitError{Backend: Name, Stderr: "unexpected qsub output: " + string(rr.Stdout)}
	}
	log.WithFields(log.Fields{"jobID": m[1], "jobName": rules.JobName}).Debug("Submitted to SGE")
	return queue.JobID(m[1]), nil
}

// KillJob runs qdel; SGE reports unknown jobs with "does not exist".
func (b *Backend) KillJob(ctx context.Context, id queue.JobID) (bool, error) {
	rr := exec.RunKillableCommand(b.execer.Command("qdel", string(id)), nil, 0, nil, 0)
	output := string(rr.Stdout) + string(rr.Stderr)
	if strings.Contains(output, "does not exist") {
		return false, nil
	}
	if rr.Error != nil {
		return false, fmt.Errorf("qdel %s failed: %s", id, strings.TrimSpace(output))
	}
	return true, nil
}

func (b *Backend) JobExists(ctx context.Context, id queue.JobID) (bool, error) {
	rr := exec.RunKillableCommand(b.execer.Command("qstat", "-j", string(id)), nil, 0, nil, 0)
	if rr.Error == nil {
		return true, nil
	}
	if rr.ExitCode() > 0 {
		return false, nil
	}
	return false, rr.Error
}

func (b *Backend) JobFailureInfo(ctx context.Context, id queue.JobID) string {
	rr := exec.RunKillableCommand(b.execer.Command("qacct", "-j", string(id)), nil, 0, nil, 0)
	if rr.Error != nil || len(rr.Stdout) == 0 {
		return "Could not find info about job: " + string(id) + "\nqacct: " + strings.TrimSpace(string(rr.Stderr))
	}
	return string(rr.Stdout)
}

func stderrOr(rr exec.RunResult) string {
	if s := strings.TrimSpace(string(rr.Stderr)); s != "" {
		return s
	}
	return rr.Error.Error()
}

// Package lsf submits jobs to Platform LSF through bsub, bkill and bjobs.
package lsf

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

const Name = "lsf"

func init() {
	queue.Register(Name, func(opts queue.Options) (queue.Backend, error) {
		return NewBackend(opts), nil
	})
}

var submittedRe = regexp.MustCompile(`Job <(\d+)> is submitted`)

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

// SubmitArgs returns the bsub arguments for a job. Resources become a select[] requirement.
func (b *Backend) SubmitArgs(rules queue.SubmissionRules, command string) []string {
	args := []string{"-J", rules.JobName, "-sp", strconv.Itoa(rules.Priority)}
	q := rules.QueueName()
	if rules.Queue == "" && b.queue != "" {
		q = b.queue
	}
	if q != "" {
		args = append(args, "-q", q)
	}
	if len(rules.ResourceList) > 0 {
		args = append(args, "-R", "select["+strings.Join(rules.ResourceList, " && ")+"]")
	}
	if rules.ProcessesNeeded > 1 {
		args = append(args, "-n", strconv.Itoa(rules.ProcessesNeeded))
	}
	return append(args, command)
}

func (b *Backend) SubmitJob(ctx context.Context, rules queue.SubmissionRules, command string, env map[string]string) (queue.JobID, error) {
	cmd := b.execer.Command("bsub", b.SubmitArgs(rules, command)...)
	cmd.SetEnv(exec.EnvSlice(os.Environ(), env))
	rr := exec.RunKillableCommand(cmd, nil, 0, nil, 0)
	m := submittedRe.FindStringSubmatch(string(rr.Stdout))
	if rr.Error != nil || m == nil {
		stderr := strings.TrimSpace(string(rr.Stderr))
		if stderr == "" {
			stderr = "unexpected bsub output: " + string(rr.Stdout)
		}
		return "", &queue.SubmitError{Backend: Name, Stderr: stderr}
	}
	log.WithFields(log.Fields{"jobID": m[1], "jobName": rules.JobName}).Debug("Submitted to LSF")
	return queue.JobID(m[1]), nil
}

// KillJob runs bkill; finished or unknown jobs are reported as not existing.
func (b *Backend) KillJob(ctx context.Context, id queue.JobID) (bool, error) {
	rr := exec.RunKillableCommand(b.execer.Command("bkill", string(id)), nil, 0, nil, 0)
	output := string(rr.Stdout) + string(rr.Stderr)
	if strings.Contains(output, "already finished") || strings.Contains(output, "No matching job") {
		return false, nil
	}
	if rr.Error != nil {
		return false, fmt.Errorf("bkill %s failed: %s", id, strings.TrimSpace(output))
	}
	return true, nil
}

func (b *Backend) JobExists(ctx context.Context, id queue.JobID) (bool, error) {
	rr := exec.RunKillableCommand(b.execer.Command("bjobs", string(id)), nil, 0, nil, 0)
	output := string(rr.Stdout) + string(rr.Stderr)
	if strings.Contains(output, "is not found") {
		return false, nil
	}
	if rr.Error != nil {
		return false, fmt.Errorf("bjobs %s failed: %s", id, strings.TrimSpace(output))
	}
	for _, line := range strings.Split(string(rr.Stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 2 && fields[0] == string(id) {
			return fields[2] != "DONE" && fields[2] != "EXIT", nil
		}
	}
	return false, nil
}

func (b *Backend) JobFailureInfo(ctx context.Context, id queue.JobID) string {
	rr := exec.RunKillableCommand(b.execer.Command("bjobs", "-a", "-l", string(id)), nil, 0, nil, 0)
	if rr.Error != nil || len(rr.Stdout) == 0 {
		return "Could not find info about job: " + string(id)
	}
	return string(rr.Stdout)
}

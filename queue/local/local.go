// Package local runs queue jobs as subprocesses of the orchestrator.
package local

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/os/exec"
	"github.com/twitter/rulecomp/queue"
)

const Name = "local"

func init() {
	queue.Register(Name, func(opts queue.Options) (queue.Backend, error) {
		return NewBackend(opts), nil
	})
}

type job struct {
	name   string
	killCh chan struct{}
	doneCh chan struct{}
	result exec.RunResult
	killed bool
}

// Backend runs each job with "sh -c" in its own process group.
type Backend struct {
	execer    exec.OsExec
	killGrace time.Duration

	mu   sync.Mutex
	jobs map[queue.JobID]*job
}

func NewBackend(opts queue.Options) *Backend {
	execer := opts.Exec
	if execer == nil {
		execer = exec.NewOsExec()
	}
	return &Backend{execer: execer, killGrace: opts.KillGrace, jobs: map[queue.JobID]*job{}}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) SubmitJob(ctx context.Context, rules queue.SubmissionRules, command string, env map[string]string) (queue.JobID, error) {
	u, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(err, "generating job id")
	}
	id := queue.JobID(u.String())
	cmd := b.execer.Command("/bin/sh", "-c", command)
	cmd.SetEnv(exec.EnvSlice(os.Environ(), env))

	j := &job{name: rules.JobName, killCh: make(chan struct{}), doneCh: make(chan struct{})}
	b.mu.Lock()
	b.jobs[id] = j
	b.mu.Unlock()

	log.WithFields(log.Fields{"jobID": id, "jobName": rules.JobName}).Info("Starting local job")
	go func() {
		result := exec.RunKillableCommand(cmd, j.killCh, b.killGrace, nil, 0)
		b.mu.Lock()
		j.result = result
		b.mu.Unlock()
		close(j.doneCh)
		log.WithFields(log.Fields{
			"jobID":    id,
			"jobName":  j.name,
			"exitCode": result.ExitCode(),
		}).Info("Local job finished")
	}()
	return id, nil
}

// KillJob stops a running job and waits for it to exit.
func (b *Backend) KillJob(ctx context.Context, id queue.JobID) (bool, error) {
	b.mu.Lock()
	j, ok := b.jobs[id]
	if !ok || j.killed || isDone(j) {
		b.mu.Unlock()
		return false, nil
	}
	j.killed = true
	close(j.killCh)
	b.mu.Unlock()

	select {
	case <-j.doneCh:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (b *Backend) JobExists(ctx context.Context, id queue.JobID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	return ok && !isDone(j), nil
}

func (b *Backend) JobFailureInfo(ctx context.Context, id queue.JobID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return fmt.Sprintf("Could not find info about job: %s", id)
	}
	if !isDone(j) {
		return fmt.Sprintf("Job %s is still running", id)
	}
	info := fmt.Sprintf("Job %s (%s) exited with code %d", id, j.name, j.result.ExitCode())
	if j.result.Killed {
		info += " after being killed"
	}
	if stderr := strings.TrimSpace(string(j.result.Stderr)); stderr != "" {
		info += "\n" + stderr
	}
	return info
}

// Wait blocks until the job has exited. It is used by tests and by shutdown.
func (b *Backend) Wait(id queue.JobID) {
	b.mu.Lock()
	j, ok := b.jobs[id]
	b.mu.Unlock()
	if ok {
		<-j.doneCh
	}
}

func isDone(j *job) bool {
	select {
	case <-j.doneCh:
		return true
	default:
		return false
	}
}

// Package queue defines the contract with the batch queue systems compile jobs run on.
package queue

//go:generate mockgen -source=queue.go -package=queue -destination=queue_mock.go

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/rulecomp/common/os/exec"
)

// JobID is the identifier a backend assigns to a submitted job.
type JobID string

// SubmissionRules describe how a job is queued.
type SubmissionRules struct {
	JobName         string
	Priority        int
	QueueResource   string
	ResourceList    []string
	ProcessesNeeded int
	// Queue overrides QueueResource as the queue to submit to.
	Queue string
}

// QueueName is the queue the job goes to.
func (r SubmissionRules) QueueName() string {
	if r.Queue != "" {
		return r.Queue
	}
	return r.QueueResource
}

// SubmitSuffix describes the submission for log lines.
func (r SubmissionRules) SubmitSuffix(backend string) string {
	suffix := " to " + backend + " queue " + r.QueueName()
	if len(r.ResourceList) > 0 {
		suffix += ", requesting " + strings.Join(r.ResourceList, ",")
	}
	return suffix
}

// Backend submits, removes and inspects jobs on one queue system.
type Backend interface {
	Name() string

	// SubmitJob queues command to run with env added to the job's environment.
	SubmitJob(ctx context.Context, rules SubmissionRules, command string, env map[string]string) (JobID, error)

	// KillJob removes a job. existed is false when the queue no longer knew the job.
	KillJob(ctx context.Context, id JobID) (existed bool, err error)

	// JobExists reports whether the job is still queued or running.
	JobExists(ctx context.Context, id JobID) (bool, error)

	// JobFailureInfo returns the backend's accounting text for a finished job.
	JobFailureInfo(ctx context.Context, id JobID) string
}

// SubmitError is returned when the queue system refused a job. Stderr holds its explanation.
type SubmitError struct {
	Backend string
	Stderr  string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("Failed to submit to %s: %s", e.Backend, strings.TrimSpace(e.Stderr))
}

// Options configure a backend.
//
// Queue - default queue name, if the rules do not choose one
// Exec - how queue commands (or local jobs) are executed
// KillGrace - time between SIGTERM and SIGKILL for local jobs
type Options struct {
	Queue     string
	Exec      exec.OsExec
	KillGrace time.Duration
}

type Factory func(opts Options) (Backend, error)

var (
	factoriesMu sync.Mutex
	factories   = map[string]Factory{}
)

// Register makes a backend available by name. Backends call it from init().
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("queue: Register called twice for backend " + name)
	}
	factories[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the backend registered under name.
func New(name string, opts Options) (Backend, error) {
	factoriesMu.Lock()
	factory, ok := factories[name]
	factoriesMu.Unlock()
	if !ok {
		return nil, errors.Errorf("unknown queue system %q (known: %s)", name, strings.Join(Backends(), ", "))
	}
	if opts.Exec == nil {
		opts.Exec = exec.NewOsExec()
	}
	return factory(opts)
}

package orchestrator

//go:generate mockgen -source=execution.go -package=orchestrator -destination=execution_mock.go

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/queue"
	"github.com/twitter/rulecomp/ruleset"
	"github.com/twitter/rulecomp/testmodel"
)

// ExecutionQueue receives tests whose rule-sets are ready.
type ExecutionQueue interface {
	SubmitTest(ctx context.Context, t testmodel.Test) error

	// AllSubmitted is called once no further test will be submitted.
	AllSubmitted()
}

// Released is a test handed to the execution queue.
type Released struct {
	TestID string
	JobID  queue.JobID
}

// BackendExecutionQueue runs each test's run command as a job on a queue backend.
// Tests without a run command are only recorded.
type BackendExecutionQueue struct {
	backend queue.Backend
	queue   string

	mu       sync.Mutex
	released []Released
	done     bool
}

func NewBackendExecutionQueue(backend queue.Backend, queueName string) *BackendExecutionQueue {
	return &BackendExecutionQueue{backend: backend, queue: queueName}
}

func (q *BackendExecutionQueue) SubmitTest(ctx context.Context, t testmodel.Test) error {
	var id queue.JobID
	if command := t.RunCommand(); command != "" {
		rules := queue.SubmissionRules{
			JobName:         "Test-" + t.Path() + "-" + t.App(),
			QueueResource:   q.queue,
			ProcessesNeeded: 1,
		}
		env := map[string]string{}
		for _, name := range []string{ruleset.EnvCarmSys, ruleset.EnvCarmUsr, ruleset.EnvCarmTmp, ruleset.EnvCarmGrp} {
			if v := t.Getenv(name); v != "" {
				env[name] = v
			}
		}
		var err error
		if id, err = q.backend.SubmitJob(ctx, rules, command, env); err != nil {
			return err
		}
		log.WithFields(log.Fields{"test": t.ID(), "jobID": id}).Info("Submitting test" + rules.SubmitSuffix(q.backend.Name()))
	} else {
		log.WithFields(log.Fields{"test": t.ID()}).Info("Test ready to run")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, Released{TestID: t.ID(), JobID: id})
	return nil
}

func (q *BackendExecutionQueue) AllSubmitted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done = true
	log.WithFields(log.Fields{"tests": len(q.released)}).Info("All tests submitted")
}

// Released returns the submitted tests in submission order.
func (q *BackendExecutionQueue) Released() []Released {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Released(nil), q.released...)
}

// Done reports whether AllSubmitted was called.
func (q *BackendExecutionQueue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

package sge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/rulecomp/common/os/exec"
	"github.com/twitter/rulecomp/queue"
)

var ruleRules = queue.SubmissionRules{
	JobName:       "Rules-R1-suite-default",
	QueueResource: "rave",
	ResourceList:  []string{"carmarch=*x86_64*", "carmbuild25=1"},
}

func TestSubmitParsesJobID(t *testing.T) {
	execer := exec.NewFakeExecer(func(name string, args []string) exec.FakeResult {
		return exec.FakeResult{Stdout: `Your job 4711 ("Rules-R1-suite-default") has been submitted` + "\n"}
	})
	b := NewBackend(queue.Options{Exec: execer})
	id, err := b.SubmitJob(context.Background(), ruleRules, "remotecmd /carm/bin/crc_compile host:1234", map[string]string{"CARMTMP": "/tmp/x"})
	require.NoError(t, err)
	assert.Equal(t, queue.JobID("4711"), id)

	calls := execer.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "qsub -N Rules-R1-suite-default -p 0")
	assert.Contains(t, calls[0], "-q rave -l carmarch=*x86_64* -l carmbuild25=1")
}

func TestSubmitRefused(t *testing.T) {
	execer := exec.NewFakeExecer(func(name string, args []string) exec.FakeResult {
		return exec.FakeResult{Stderr: "Unable to run job: unknown resource \"carmbuild99\"\n", ExitCode: 1}
	})
	b := NewBackend(queue.Options{Exec: execer})
	_, err := b.SubmitJob(context.Background(), ruleRules, "true", nil)
	require.Error(t, err)
	serr, ok := err.(*queue.SubmitError)
	require.True(t, ok)
	assert.Contains(t, serr.Stderr, "unknown resource")
}

func TestDefaultQueue(t *testing.T) {
	b := NewBackend(queue.Options{Queue: "short"})
	args := b.SubmitArgs(queue.SubmissionRules{JobName: "j"}, "true")
	assert.Contains(t, args, "short")

	args = b.SubmitArgs(queue.SubmissionRules{JobName: "j", Queue: "long"}, "true")
	assert.Contains(t, args, "long")
	assert.NotContains(t, args, "short")
}

func TestKillAndExists(t *testing.T) {
	known := map[string]bool{"1": true}
	execer := exec.NewFakeExecer(func(name string, args []string) exec.FakeResult {
		id := args[len(args)-1]
		switch name {
		case "qdel":
			if !known[id] {
				return exec.FakeResult{Stderr: "denied: job \"" + id + "\" does not exist\n", ExitCode: 1}
			}
			return exec.FakeResult{Stdout: "user has deleted job " + id + "\n"}
		case "qstat":
			if !known[id] {
				return exec.FakeResult{Stderr: "Following jobs do not exist:\n" + id + "\n", ExitCode: 1}
			}
			return exec.FakeResult{Stdout: "job_number: " + id + "\n"}
		}
		return exec.FakeResult{ExitCode: 127}
	})
	b := NewBackend(queue.Options{Exec: execer})
	ctx := context.Background()

	exists, err := b.JobExists(ctx, "1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = b.JobExists(ctx, "2")
	require.NoError(t, err)
	assert.False(t, exists)

	existed, err := b.KillJob(ctx, "1")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = b.KillJob(ctx, "2")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestFailureInfo(t *testing.T) {
	execer := exec.NewFakeExecer(func(name string, args []string) exec.FakeResult {
		if args[len(args)-1] == "9" {
			return exec.FakeResult{Stdout: "exit_status 137\n"}
		}
		return exec.FakeResult{Stderr: "error: job id 8 not found", ExitCode: 1}
	})
	b := NewBackend(queue.Options{Exec: execer})
	assert.Equal(t, "exit_status 137\n", b.JobFailureInfo(context.Background(), "9"))
	assert.Contains(t, b.JobFailureInfo(context.Background(), "8"), "Could not find info about job: 8")
}

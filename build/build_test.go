package build

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/rulecomp/common/os/exec"
)

func TestHasErrors(t *testing.T) {
	assert.False(t, HasErrors("gmake: Nothing to be done for `all'.\n"))
	assert.False(t, HasErrors("*** warning only\nError somewhere else\n"))
	assert.True(t, HasErrors("cc -c foo.c\ngmake: *** [foo.o] Error 1\n"))
}

func TestBuildPerArch(t *testing.T) {
	execer := exec.NewFakeExecer(func(name string, args []string) exec.FakeResult {
		if args[1] == "/src/bad" {
			return exec.FakeResult{Stderr: "gmake: *** [all] Error 2\n", ExitCode: 2}
		}
		return exec.FakeResult{Stdout: "ok\n"}
	})
	b := NewBuilder(execer, map[string][]string{
		"/src/good": {"all", "install"},
		"/src/bad":  nil,
	}, []string{"/src/bad", "/src/good"})

	results := b.Build(context.Background(), []string{"x86_64_linux", "aarch64_linux"})
	require.Len(t, results, 4)
	assert.Equal(t, []string{
		"gmake -C /src/bad",
		"gmake -C /src/good all install",
		"gmake -C /src/bad",
		"gmake -C /src/good all install",
	}, execer.Calls())

	failed := Failures(results)
	require.Len(t, failed, 2)
	assert.Equal(t, "x86_64_linux", failed[0].Arch)
	assert.Equal(t, "aarch64_linux", failed[1].Arch)
	assert.Contains(t, failed[0].Output, "Error 2")
}

func TestNonZeroExitWithoutErrorLine(t *testing.T) {
	execer := exec.NewFakeExecer(func(name string, args []string) exec.FakeResult {
		return exec.FakeResult{ExitCode: 1}
	})
	results := NewBuilder(execer, map[string][]string{"/src": nil}, []string{"/src"}).Build(context.Background(), []string{"x86_64_linux"})
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Contains(t, results[0].Output, "exit status 1")
}

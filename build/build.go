// Package build runs the code builds configured under build_targets before tests start.
package build

import (
	"context"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/os/exec"
)

const MakeProgram = "gmake"

// Result is one make run.
type Result struct {
	Dir    string
	Arch   string
	Output string
	Failed bool
}

// Builder runs make in each build directory once per architecture.
type Builder struct {
	exec    exec.OsExec
	targets map[string][]string
	dirs    []string
}

// NewBuilder builds targets, a map of directory to make targets, visiting
// directories in the order given by dirs.
func NewBuilder(execer exec.OsExec, targets map[string][]string, dirs []string) *Builder {
	if execer == nil {
		execer = exec.NewOsExec()
	}
	return &Builder{exec: execer, targets: targets, dirs: dirs}
}

// Build runs every configured build for each arch, stopping early if ctx is cancelled.
func (b *Builder) Build(ctx context.Context, archs []string) []Result {
	var results []Result
	for _, arch := range archs {
		for _, dir := range b.dirs {
			if ctx.Err() != nil {
				return results
			}
			results = append(results, b.run(ctx, dir, arch))
		}
	}
	return results
}

func (b *Builder) run(ctx context.Context, dir, arch string) Result {
	args := append([]string{"-C", dir}, b.targets[dir]...)
	cmd := b.exec.Command(MakeProgram, args...)
	cmd.SetEnv(exec.EnvSlice(os.Environ(), map[string]string{"ARCH": arch}))
	fields := log.Fields{"dir": dir, "arch": arch}
	log.WithFields(fields).Info("Building")

	rr := exec.RunKillableCommand(cmd, ctx.Done(), 0, nil, 0)
	output := string(rr.Stdout) + string(rr.Stderr)
	res := Result{Dir: dir, Arch: arch, Output: output, Failed: HasErrors(output)}
	if rr.Error != nil && !res.Failed {
		res.Failed = true
		res.Output += rr.Error.Error() + "\n"
	}
	if res.Failed {
		log.WithFields(fields).Error("Build failed")
	}
	return res
}

// HasErrors reports whether make output contains an error line, one with both "***" and "Error".
func HasErrors(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "***") && strings.Contains(line, "Error") {
			return true
		}
	}
	return false
}

// Failures returns the failed results.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Failed {
			failed = append(failed, r)
		}
	}
	return failed
}

package exec

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
)

// FakeResult is what a FakeExecer command prints and how it exits.
type FakeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	StartErr error
}

// FakeExecer is an OsExec that never spawns processes. Each command is answered
// by Handler and recorded in Calls as "name arg1 arg2 ...".
type FakeExecer struct {
	Handler func(name string, args []string) FakeResult

	mu    sync.Mutex
	calls []string
}

func NewFakeExecer(handler func(name string, args []string) FakeResult) *FakeExecer {
	return &FakeExecer{Handler: handler}
}

func (f *FakeExecer) Command(cmd string, args ...string) Cmd {
	return &fakeCmd{execer: f, path: cmd, args: append([]string{cmd}, args...)}
}

// Calls returns every command line started so far.
func (f *FakeExecer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeExecer) record(args []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(args, " "))
}

type fakeCmd struct {
	execer         *FakeExecer
	path           string
	args           []string
	env            []string
	dir            string
	stdout, stderr io.Writer
	result         FakeResult
}

func (c *fakeCmd) Path() string                   { return c.path }
func (c *fakeCmd) Args() []string                 { return append([]string(nil), c.args...) }
func (c *fakeCmd) SetSession(bool)                {}
func (c *fakeCmd) SetStdin(io.Reader)             {}
func (c *fakeCmd) SetStdout(w io.Writer)          { c.stdout = w }
func (c *fakeCmd) SetStderr(w io.Writer)          { c.stderr = w }
func (c *fakeCmd) SetEnv(env []string)            { c.env = env }
func (c *fakeCmd) SetDir(dir string)              { c.dir = dir }
func (c *fakeCmd) String() string                 { return strings.Join(c.args, " ") }
func (c *fakeCmd) Process() *os.Process           { return nil }
func (c *fakeCmd) ProcessState() *os.ProcessState { return nil }

func (c *fakeCmd) Start() error {
	c.execer.record(c.args)
	if c.execer.Handler != nil {
		c.result = c.execer.Handler(c.path, c.args[1:])
	}
	if c.result.StartErr != nil {
		return c.result.StartErr
	}
	if c.stdout != nil {
		io.WriteString(c.stdout, c.result.Stdout)
	}
	if c.stderr != nil {
		io.WriteString(c.stderr, c.result.Stderr)
	}
	return nil
}

func (c *fakeCmd) Wait() error {
	if c.result.ExitCode != 0 {
		return &fakeExitError{code: c.result.ExitCode}
	}
	return nil
}

type fakeExitError struct {
	code int
}

func (e *fakeExitError) Error() string          { return fmt.Sprintf("exit status %d", e.code) }
func (e *fakeExitError) Exited() bool           { return true }
func (e *fakeExitError) ExitStatus() int        { return e.code }
func (e *fakeExitError) Signaled() bool         { return false }
func (e *fakeExitError) Signal() syscall.Signal { return syscall.Signal(-1) }

// Package exec wraps os/exec behind interfaces so command execution can be faked in tests.
package exec

import (
	"io"
	"os"
	osexec "os/exec"
	"sort"
	"syscall"
)

type (
	// OsExec creates commands. NewOsExec returns the real implementation, FakeExecer a scripted one.
	OsExec interface {
		Command(cmd string, args ...string) Cmd
	}

	defaultOsExec struct{}

	// Cmd wraps the os/exec.Cmd struct with our own interface
	Cmd interface {
		Path() string

		// Args returns a copy of the arguments, including the command name.
		Args() []string

		Start() error
		Wait() error

		// Runs the child in its own session so signals reach its whole process group.
		SetSession(enable bool)

		SetStdin(io.Reader)
		SetStdout(io.Writer)
		SetStderr(io.Writer)
		SetEnv(env []string)
		SetDir(dir string)

		String() string

		// Process returns the underlying os.Process once started, nil otherwise.
		Process() *os.Process

		// ProcessState returns the underlying ProcessState once exited, nil otherwise.
		ProcessState() *os.ProcessState
	}

	// ExitError describes a command that ran but did not exit cleanly.
	ExitError interface {
		error
		Exited() bool
		ExitStatus() int
		Signaled() bool
		Signal() syscall.Signal
	}

	cmdAdapter struct {
		cmd *osexec.Cmd
	}

	exitErrorAdapter struct {
		err *osexec.ExitError
		ws  syscall.WaitStatus
	}
)

// implements assertions
var (
	_ ExitError = &exitErrorAdapter{}
	_ Cmd       = &cmdAdapter{}
)

// NewOsExec creates a default OsExec instance
func NewOsExec() OsExec {
	return &defaultOsExec{}
}

func (d *defaultOsExec) Command(cmd string, args ...string) Cmd {
	c := osexec.Command(cmd, args...)
	c.SysProcAttr = &syscall.SysProcAttr{}
	return &cmdAdapter{cmd: c}
}

func wrapExitError(err error) error {
	if err == nil {
		return nil
	}
	if ex, ok := err.(*osexec.ExitError); ok {
		if ws, ok := ex.Sys().(syscall.WaitStatus); ok {
			return &exitErrorAdapter{err: ex, ws: ws}
		}
	}
	return err
}

func (e *exitErrorAdapter) Exited() bool           { return e.ws.Exited() }
func (e *exitErrorAdapter) ExitStatus() int        { return e.ws.ExitStatus() }
func (e *exitErrorAdapter) Signaled() bool         { return e.ws.Signaled() }
func (e *exitErrorAdapter) Signal() syscall.Signal { return e.ws.Signal() }
func (e *exitErrorAdapter) Error() string          { return e.err.Error() }

func (c *cmdAdapter) SetSession(enable bool) {
	if c.cmd.SysProcAttr != nil {
		c.cmd.SysProcAttr.Setsid = enable
	}
}

func (c *cmdAdapter) Start() error { return c.cmd.Start() }
func (c *cmdAdapter) Wait() error  { return wrapExitError(c.cmd.Wait()) }

func (c *cmdAdapter) Path() string                   { return c.cmd.Path }
func (c *cmdAdapter) SetStdin(r io.Reader)           { c.cmd.Stdin = r }
func (c *cmdAdapter) SetStdout(w io.Writer)          { c.cmd.Stdout = w }
func (c *cmdAdapter) SetStderr(w io.Writer)          { c.cmd.Stderr = w }
func (c *cmdAdapter) SetEnv(env []string)            { c.cmd.Env = env }
func (c *cmdAdapter) SetDir(dir string)              { c.cmd.Dir = dir }
func (c *cmdAdapter) String() string                 { return c.cmd.String() }
func (c *cmdAdapter) Process() *os.Process           { return c.cmd.Process }
func (c *cmdAdapter) ProcessState() *os.ProcessState { return c.cmd.ProcessState }

func (c *cmdAdapter) Args() []string {
	return append([]string(nil), c.cmd.Args...)
}

// EnvSlice overlays vars on base (os.Environ format) and returns the result sorted by key.
func EnvSlice(base []string, vars map[string]string) []string {
	merged := make(map[string]string, len(base)+len(vars))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range vars {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

package exec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var TimeoutError = errors.New("command timeout")

// RunResult summarises a finished command: its exit state and everything it printed.
type RunResult struct {
	// ProcessState is nil when the command failed to start or was faked.
	ProcessState *os.ProcessState

	Stdout []byte
	Stderr []byte

	// Error contains any error from Start() or Wait(), or TimeoutError.
	Error error

	// Killed is set when the command was stopped through the kill channel.
	Killed bool
}

func (rr RunResult) String() string {
	return fmt.Sprintf("Error:%v, Stdout:%s, Stderr:%s", rr.Error, rr.Stdout, rr.Stderr)
}

// ExitCode returns the process exit status, or -1 when it never exited normally.
func (rr RunResult) ExitCode() int {
	if rr.ProcessState != nil {
		return rr.ProcessState.ExitCode()
	}
	if rr.Error == nil {
		return 0
	}
	if ee, ok := rr.Error.(ExitError); ok && ee.Exited() {
		return ee.ExitStatus()
	}
	return -1
}

// RunKillableCommand starts cmd and waits for it, capturing stdout and stderr.
// Output is also streamed to streamLog when it is non-nil. Receiving on killCh,
// or exceeding timeout when timeout > 0, sends SIGTERM to the command's process
// group and SIGKILL once killTimeout has passed.
func RunKillableCommand(
	cmd Cmd,
	killCh <-chan struct{},
	killTimeout time.Duration,
	streamLog io.Writer,
	timeout time.Duration,
) RunResult {
	if streamLog == nil {
		streamLog = ioutil.Discard
	}
	var outBuf, errBuf bytes.Buffer
	syncLog := &syncWriter{w: streamLog}
	cmd.SetStdout(io.MultiWriter(&outBuf, syncLog))
	cmd.SetStderr(io.MultiWriter(&errBuf, syncLog))
	cmd.SetSession(true)

	log.WithFields(log.Fields{"cmd": cmd.String()}).Debug("Running command")
	if err := cmd.Start(); err != nil {
		return RunResult{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Error: err}
	}

	var cmdErr error
	doneCh := make(chan struct{})
	go func() {
		cmdErr = cmd.Wait()
		close(doneCh)
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	killed := false
	select {
	case <-doneCh:
	case <-timeoutCh:
		log.WithFields(log.Fields{"cmd": cmd.String(), "timeout": timeout}).Info("Command timed out, killing")
		termThenKill(cmd.Process(), killTimeout, doneCh)
		<-doneCh
		cmdErr = TimeoutError
	case <-killCh:
		log.WithFields(log.Fields{"cmd": cmd.String()}).Info("Received kill request for command")
		termThenKill(cmd.Process(), killTimeout, doneCh)
		<-doneCh
		killed = true
	}

	return RunResult{
		ProcessState: cmd.ProcessState(),
		Stdout:       outBuf.Bytes(),
		Stderr:       errBuf.Bytes(),
		Error:        cmdErr,
		Killed:       killed,
	}
}

// termThenKill sends SIGTERM to p's process group, then SIGKILL if it hasn't exited after d.
// waitDoneCh must be closed by the caller when the process exits.
func termThenKill(p *os.Process, d time.Duration, waitDoneCh <-chan struct{}) {
	if p == nil {
		return
	}
	if err := signalGroup(p, unix.SIGTERM); err != nil {
		log.WithFields(log.Fields{"pid": p.Pid, "err": err}).Error("Failed to send SIGTERM to process")
	}
	select {
	case <-waitDoneCh:
	case <-time.After(d):
		log.WithFields(log.Fields{"pid": p.Pid}).Info("Command hasn't exited, sending SIGKILL")
		if err := signalGroup(p, unix.SIGKILL); err != nil {
			log.WithFields(log.Fields{"pid": p.Pid, "err": err}).Error("Failed to SIGKILL process")
		}
	}
}

// signalGroup signals the whole process group led by p, falling back to p alone.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := unix.Kill(-p.Pid, sig); err == nil {
		return nil
	}
	return p.Signal(sig)
}

// syncWriter serialises writes from the stdout and stderr copiers.
type syncWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (b *syncWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.Write(p)
}

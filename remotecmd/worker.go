package remotecmd

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/rulecomp/common/os/exec"
)

// Reporter is the orchestrator as seen from a worker.
type Reporter interface {
	SendStart(target string) error
	SendExit(target string, code int, stdout, stderr string) error
}

// Worker runs one compile command and reports on it.
//
// KillCh - closing it stops the command (SIGTERM, then SIGKILL after KillGrace)
// Timeout - stops the command when positive and exceeded
type Worker struct {
	Exec      exec.OsExec
	Reporter  Reporter
	KillCh    <-chan struct{}
	KillGrace time.Duration
	Timeout   time.Duration
}

// Run reports start, runs args and reports the exit code with both output
// streams. It returns the command's exit code. Reporting failures are logged;
// the orchestrator notices lost jobs through the queue.
func (w *Worker) Run(target string, args []string) int {
	if err := w.Reporter.SendStart(target); err != nil {
		log.WithFields(log.Fields{"target": target, "err": err}).Error("Could not report start")
	}

	if len(args) == 0 {
		log.WithFields(log.Fields{"target": target}).Error("No compiler command given")
		if err := w.Reporter.SendExit(target, -1, "", "remotecmd: no compiler command given"); err != nil {
			log.WithFields(log.Fields{"target": target, "err": err}).Error("Could not report exit code")
		}
		return -1
	}
	execer := w.Exec
	if execer == nil {
		execer = exec.NewOsExec()
	}
	cmd := execer.Command(args[0], args[1:]...)
	cmd.SetEnv(os.Environ())
	rr := exec.RunKillableCommand(cmd, w.KillCh, w.KillGrace, nil, w.Timeout)
	code := rr.ExitCode()
	stderr := string(rr.Stderr)
	if rr.Error != nil && len(rr.Stderr) == 0 && code == -1 {
		stderr = rr.Error.Error()
	}
	log.WithFields(log.Fields{"target": target, "exitCode": code, "killed": rr.Killed}).Info("Compiler finished")

	if err := w.Reporter.SendExit(target, code, string(rr.Stdout), stderr); err != nil {
		log.WithFields(log.Fields{"target": target, "err": err}).Error("Could not report exit code")
	}
	return code
}

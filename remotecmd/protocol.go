// Package remotecmd implements the line protocol compile workers use to report
// to the orchestrator, and the worker side that runs the compiler.
//
// Each status change is one TCP connection carrying
//
//	remotecmd.py:<target>:<status>\n<body>
//
// where status is "start" or "exitcode=N" and body, for exit codes, is
// stdout|STD_ERR|stderr. The server never replies.
package remotecmd

import (
	"strconv"
	"strings"
)

const (
	HeaderPrefix = "remotecmd.py:"
	StdErrMarker = "|STD_ERR|"

	StartStatus      = "start"
	exitStatusPrefix = "exitcode="

	// TerminateRequest stops the server it is sent to.
	TerminateRequest = "TERMINATE_SERVER"
)

// FormatHeader renders the first line of a request, including the newline.
func FormatHeader(target, status string) string {
	return HeaderPrefix + target + ":" + status + "\n"
}

// ExitStatus is the status reported when the compiler exits with code.
func ExitStatus(code int) string {
	return exitStatusPrefix + strconv.Itoa(code)
}

// ParseHeader splits a header line into target and status. The status is
// everything after the last ':' so targets may themselves contain colons.
func ParseHeader(line string) (target, status string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, HeaderPrefix) {
		return "", "", false
	}
	rest := line[len(HeaderPrefix):]
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// ParseExitStatus returns the code carried by an "exitcode=N" status.
func ParseExitStatus(status string) (int, bool) {
	if !strings.HasPrefix(status, exitStatusPrefix) {
		return 0, false
	}
	code, err := strconv.Atoi(status[len(exitStatusPrefix):])
	if err != nil {
		return 0, false
	}
	return code, true
}

// FormatOutput joins compiler output into an exit code body.
func FormatOutput(stdout, stderr string) string {
	return stdout + StdErrMarker + stderr
}

// SplitOutput splits an exit code body at the first separator. A body without
// one is all stdout.
func SplitOutput(body string) (stdout, stderr string) {
	idx := strings.Index(body, StdErrMarker)
	if idx < 0 {
		return body, ""
	}
	return body[:idx], body[idx+len(StdErrMarker):]
}

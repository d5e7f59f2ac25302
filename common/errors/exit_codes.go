package errors

type ExitCode int

const (
	// Orchestrator exit codes. Individual test failures never produce these.
	GenericFailureExitCode ExitCode = 1

	ConfigErrorExitCode = 70
	SuiteLoadExitCode   = 71

	ServerErrorExitCode = 80
	QueueErrorExitCode  = 90

	BuildFailureExitCode = 100
)

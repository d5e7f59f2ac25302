package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Filter metrics **************************/
	/*
		number of tests passed through the filterer
	*/
	RuleFilterTestsCounter = "filterTestsCounter"

	/*
		number of rule-sets skipped because their source was missing
	*/
	RuleFilterInvalidRulesetCounter = "filterInvalidRulesetCounter"

	/*
		number of rule-sets found to need compilation, split by owned and shared
	*/
	RuleFilterOwnedCounter  = "filterOwnedRulesetCounter"
	RuleFilterSharedCounter = "filterSharedRulesetCounter"

	/*
		number of distinct rule-set targets known to the registry
	*/
	RuleRegistrySizeGauge = "registrySizeGauge"

	/************************* Scheduler metrics **************************/
	/*
		number of compile jobs accepted by the queue backend
	*/
	RuleSchedJobsSubmittedCounter = "schedJobsSubmittedCounter"

	/*
		number of compile jobs the queue backend refused
	*/
	RuleSchedSubmitFailureCounter = "schedSubmitFailureCounter"

	/*
		time spent inside the queue backend submission call
	*/
	RuleSchedSubmitLatency_ms = "schedSubmitLatency_ms"

	/*
		number of tests handed to the execution queue
	*/
	RuleSchedTestsReleasedCounter = "schedTestsReleasedCounter"

	/*
		number of tests the execution queue refused
	*/
	RuleSchedReleaseFailureCounter = "schedReleaseFailureCounter"

	/************************* Request server metrics **************************/
	/*
		number of worker connections accepted
	*/
	RuleServerConnectionsCounter = "serverConnectionsCounter"

	/*
		number of start and exitcode callbacks received
	*/
	RuleServerStartCounter    = "serverStartCounter"
	RuleServerExitCodeCounter = "serverExitCodeCounter"

	/*
		number of requests that could not be parsed or referenced an unknown rule-set
	*/
	RuleServerBadRequestCounter = "serverBadRequestCounter"

	/*
		number of requests delegated to the generic handler
	*/
	RuleServerGenericCounter = "serverGenericCounter"

	/************************* Evaluator metrics **************************/
	/*
		number of rule-sets marked compiled / failed
	*/
	RuleEvalCompiledCounter = "evalCompiledCounter"
	RuleEvalFailedCounter   = "evalFailedCounter"

	/*
		number of tests moved to unrunnable because a rule-set failed
	*/
	RuleEvalUnrunnableCounter = "evalUnrunnableCounter"

	/*
		time taken to evaluate all waiters of a rule-set
	*/
	RuleEvalLatency_ms = "evalLatency_ms"

	/************************* Kill coordinator metrics **************************/
	/*
		number of kill requests honoured, ignored as unknown, or ignored as duplicate
	*/
	RuleKillRequestsCounter  = "killRequestsCounter"
	RuleKillNotFoundCounter  = "killNotFoundCounter"
	RuleKillDuplicateCounter = "killDuplicateCounter"

	/*
		number of jobs actually removed from the queue backend
	*/
	RuleKillJobsRemovedCounter = "killJobsRemovedCounter"

	/*
		number of compile jobs that vanished without reporting an exit code
	*/
	RuleKillWorkerLostCounter = "killWorkerLostCounter"
)

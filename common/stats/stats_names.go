package stats

const (
	/****************** Scheduler stats ***********************/

	// Number of jobs handed to the execer.
	SchedJobsStarted = "jobsStarted"

	// Terminal outcome counters.
	SchedJobsSucceeded    = "jobsSucceeded"
	SchedJobsFailed       = "jobsFailed"
	SchedJobsMemoryKilled = "jobsMemoryKilled"
	SchedJobsTimedOut     = "jobsTimedOut"

	// Number of jobs currently executing.
	SchedJobsRunning = "jobsRunning"

	// Number of admission checks that found insufficient memory.
	SchedAdmissionWaits = "admissionWaits"

	/****************** Execer stats **************************/

	// Last sampled resident memory of a monitored process group;
	// -1 when sampling failed.
	WorkerMemory = "workerMemory"

	// Processes already over the memory cap at their first sample.
	WorkerHighInitialMemory = "workerHighInitialMemory"
)

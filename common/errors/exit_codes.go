package errors

type ExitCode int

const (
	// CouldNotExecExitCode marks jobs whose command never started.
	CouldNotExecExitCode ExitCode = 110

	// HighInitialMemoryExitCode marks jobs killed because the host was
	// already over the memory cap when the process launched.
	HighInitialMemoryExitCode ExitCode = 115
)

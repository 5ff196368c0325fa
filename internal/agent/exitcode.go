package agent

import "github.com/serversentry/agent/internal/events"

// Exit codes for any CLI wrapping the core (spec §6).
const (
	ExitOK             = 0
	ExitWarning        = 1
	ExitCritical       = 2
	ExitUnknownOrError = 3
	ExitConfigError    = 4
	ExitNotRunning     = 5
)

// WorstStatusExitCode maps a batch of status evaluations to the single
// worst exit code a one-shot "check" CLI invocation should return,
// following spec §6's severity ordering (critical worst, then
// error/unknown, then warning, then ok).
func WorstStatusExitCode(statuses []events.StatusEvent) int {
	worst := ExitOK
	for _, s := range statuses {
		code := exitCodeFor(s.Status)
		if severityRank(code) > severityRank(worst) {
			worst = code
		}
	}
	return worst
}

func exitCodeFor(status events.Status) int {
	switch status {
	case events.StatusOK:
		return ExitOK
	case events.StatusWarning:
		return ExitWarning
	case events.StatusCritical:
		return ExitCritical
	case events.StatusError:
		return ExitUnknownOrError
	default:
		return ExitUnknownOrError
	}
}

// severityRank orders exit codes by severity for WorstStatusExitCode,
// independent of their numeric values (critical=2 outranks error=3).
func severityRank(code int) int {
	switch code {
	case ExitOK:
		return 0
	case ExitWarning:
		return 1
	case ExitUnknownOrError:
		return 2
	case ExitCritical:
		return 3
	case ExitConfigError:
		return 4
	case ExitNotRunning:
		return 4
	default:
		return 2
	}
}
